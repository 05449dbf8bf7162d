package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

//go:embed schema.json
var schemaSource string

var (
	compileOnce    sync.Once
	compiledSchema *jsonschema.Schema
	compileErr     error
)

func configSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("schema.json", strings.NewReader(schemaSource)); err != nil {
			compileErr = fmt.Errorf("invalid config schema: %w", err)
			return
		}
		compiledSchema, compileErr = compiler.Compile("schema.json")
	})
	return compiledSchema, compileErr
}

// Schema returns the JSON Schema config files are checked against.
func Schema() string {
	return schemaSource
}

// CheckSchema validates the raw document structure: unknown keys, wrong
// types, and missing required fields. YAML is normalized to JSON values
// first.
func CheckSchema(data []byte, isJSON bool) error {
	schema, err := configSchema()
	if err != nil {
		return err
	}

	doc, err := decodeDocument(data, isJSON)
	if err != nil {
		return err
	}

	if err := schema.Validate(doc); err != nil {
		if verr, ok := err.(*jsonschema.ValidationError); ok {
			return schemaErrors(verr)
		}
		return err
	}
	return nil
}

func decodeDocument(data []byte, isJSON bool) (interface{}, error) {
	if !isJSON {
		var raw interface{}
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
		converted, err := json.Marshal(raw)
		if err != nil {
			return nil, fmt.Errorf("failed to normalize YAML config: %w", err)
		}
		data = converted
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc interface{}
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to parse JSON config: %w", err)
	}
	return doc, nil
}

// schemaErrors flattens the validation tree into leaf errors keyed by
// instance location.
func schemaErrors(err *jsonschema.ValidationError) *ValidationErrors {
	errs := &ValidationErrors{}
	collectSchemaErrors(err, errs)
	if !errs.HasErrors() {
		errs.Add(fieldFromPointer(err.InstanceLocation), err.Message)
	}
	return errs
}

func collectSchemaErrors(err *jsonschema.ValidationError, errs *ValidationErrors) {
	if len(err.Causes) == 0 {
		errs.Add(fieldFromPointer(err.InstanceLocation), err.Message)
		return
	}
	for _, cause := range err.Causes {
		collectSchemaErrors(cause, errs)
	}
}

// fieldFromPointer turns "/stages/0/target" into "stages[0].target".
func fieldFromPointer(ptr string) string {
	var sb strings.Builder
	for _, part := range strings.Split(strings.TrimPrefix(ptr, "/"), "/") {
		if part == "" {
			continue
		}
		if isIndex(part) {
			sb.WriteString("[" + part + "]")
			continue
		}
		if sb.Len() > 0 {
			sb.WriteByte('.')
		}
		sb.WriteString(part)
	}
	return sb.String()
}

func isIndex(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return s != ""
}

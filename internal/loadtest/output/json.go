package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/wesleyorama2/shortload/internal/loadtest/engine"
)

// EncodeJSON writes the report as indented JSON.
func EncodeJSON(w io.Writer, r *engine.Report) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}

// WriteJSON writes the report to path. "-" writes to stdout.
func WriteJSON(r *engine.Report, path string) error {
	if path == "" || path == "-" {
		return EncodeJSON(os.Stdout, r)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create report file: %w", err)
	}
	if err := EncodeJSON(f, r); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

package config

import (
	"fmt"
	"math"
	"net/url"
	"sort"
	"strings"

	"github.com/wesleyorama2/shortload/internal/loadtest/action"
	"github.com/wesleyorama2/shortload/internal/loadtest/threshold"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors struct {
	Errors []*ValidationError
}

func (e *ValidationErrors) Error() string {
	if len(e.Errors) == 0 {
		return "no validation errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e.Errors)))
	for i, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// Add adds an error to the collection.
func (e *ValidationErrors) Add(field, message string) {
	e.Errors = append(e.Errors, &ValidationError{Field: field, Message: message})
}

// HasErrors returns true if there are any errors.
func (e *ValidationErrors) HasErrors() bool {
	return len(e.Errors) > 0
}

// Fields lists the fields with errors, in report order.
func (e *ValidationErrors) Fields() []string {
	fields := make([]string, len(e.Errors))
	for i, err := range e.Errors {
		fields[i] = err.Field
	}
	return fields
}

var knownActions = map[string]bool{
	action.NameCreate:  true,
	action.NameResolve: true,
}

// Validate validates the entire run configuration.
//
// Returns nil if valid, or a ValidationErrors containing all validation errors.
func (c *TestConfig) Validate() error {
	errs := &ValidationErrors{}

	validateSettings(&c.Settings, errs)
	validateStages(c.Stages, errs)
	validateMix(&c.Mix, errs)

	if c.Pacing != nil {
		validatePacing("pacing", c.Pacing, errs)
	}

	if d, err := ParseDurationString(string(c.GracefulStop)); err != nil {
		errs.Add("gracefulStop", fmt.Sprintf("invalid duration: %v", err))
	} else if d < 0 {
		errs.Add("gracefulStop", "cannot be negative")
	}

	validateThresholds(c.Thresholds, errs)

	if c.MinSamples < 0 {
		errs.Add("minSamples", "cannot be negative")
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

// validateSettings validates target and payload settings.
func validateSettings(s *Settings, errs *ValidationErrors) {
	if s.BaseURL == "" {
		errs.Add("settings.baseUrl", "baseUrl is required")
	} else if u, err := url.Parse(s.BaseURL); err != nil {
		errs.Add("settings.baseUrl", fmt.Sprintf("invalid URL: %v", err))
	} else if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs.Add("settings.baseUrl", "must be an absolute http or https URL")
	}

	if s.Timeout < 0 {
		errs.Add("settings.timeout", "cannot be negative")
	}
	if s.MaxConnectionsPerHost < 0 {
		errs.Add("settings.maxConnectionsPerHost", "cannot be negative")
	}
	if s.MaxIdleConnsPerHost < 0 {
		errs.Add("settings.maxIdleConnsPerHost", "cannot be negative")
	}

	if s.CreatePath != "" && !strings.HasPrefix(s.CreatePath, "/") {
		errs.Add("settings.createPath", "must start with '/'")
	}
	if s.ExpectStatus != 0 && !validStatus(s.ExpectStatus) {
		errs.Add("settings.expectStatus", fmt.Sprintf("invalid HTTP status: %d", s.ExpectStatus))
	}
	for i, code := range s.AcceptStatus {
		if !validStatus(code) {
			errs.Add(fmt.Sprintf("settings.acceptStatus[%d]", i), fmt.Sprintf("invalid HTTP status: %d", code))
		}
	}

	if s.MaxURLLength < 0 {
		errs.Add("settings.maxUrlLength", "cannot be negative")
	}
	if s.KeyMinLength < 0 {
		errs.Add("settings.keyMinLength", "cannot be negative")
	}
	if s.KeyMaxLength < 0 {
		errs.Add("settings.keyMaxLength", "cannot be negative")
	}
	if s.KeyMaxLength > 0 && s.KeyMinLength > s.KeyMaxLength {
		errs.Add("settings.keyMinLength", "keyMinLength must be less than or equal to keyMaxLength")
	}

	if !validProbability(s.ReuseProbability) {
		errs.Add("settings.reuseProbability", fmt.Sprintf("must be in [0,1], got %g", s.ReuseProbability))
	}
	if s.KeyPoolSize < 0 {
		errs.Add("settings.keyPoolSize", "cannot be negative")
	}
}

func validStatus(code int) bool {
	return code >= 100 && code <= 599
}

// validateStages validates the ramp profile.
func validateStages(stages []StageConfig, errs *ValidationErrors) {
	if len(stages) == 0 {
		errs.Add("stages", "at least one stage is required")
		return
	}

	var total int64
	for i, stage := range stages {
		prefix := fmt.Sprintf("stages[%d]", i)
		if stage.Duration == "" {
			errs.Add(prefix+".duration", "duration is required")
		} else if d, err := ParseDurationString(string(stage.Duration)); err != nil {
			errs.Add(prefix+".duration", fmt.Sprintf("invalid duration: %v", err))
		} else if d < 0 {
			errs.Add(prefix+".duration", "duration cannot be negative")
		} else {
			total += int64(d)
		}

		if stage.Target < 0 {
			errs.Add(prefix+".target", "target cannot be negative")
		}
	}

	if total == 0 {
		errs.Add("stages", "total duration must be greater than 0")
	}
}

// validateMix validates the action mix.
func validateMix(m *MixConfig, errs *ValidationErrors) {
	if m.Gate != nil && len(m.Weights) > 0 {
		errs.Add("mix", "gate and weights are mutually exclusive")
	}
	if m.Gate == nil && len(m.Weights) == 0 {
		errs.Add("mix", "either gate or weights is required")
	}

	if g := m.Gate; g != nil {
		if !validProbability(g.Probability) {
			errs.Add("mix.gate.probability", fmt.Sprintf("must be in [0,1], got %g", g.Probability))
		}
		validateActionName("mix.gate.primary", g.Primary, errs)
		validateActionName("mix.gate.fallback", g.Fallback, errs)
	}

	if len(m.Weights) > 0 {
		seen := make(map[string]bool, len(m.Weights))
		var total float64
		for i, w := range m.Weights {
			prefix := fmt.Sprintf("mix.weights[%d]", i)
			validateActionName(prefix+".action", w.Action, errs)
			if seen[w.Action] {
				errs.Add(prefix+".action", fmt.Sprintf("duplicate action: %s", w.Action))
			}
			seen[w.Action] = true
			if !(w.Weight >= 0) || math.IsInf(w.Weight, 1) {
				errs.Add(prefix+".weight", fmt.Sprintf("must be a non-negative number, got %g", w.Weight))
			}
			total += w.Weight
		}
		if total <= 0 {
			errs.Add("mix.weights", "total weight must be greater than 0")
		}
	}
}

// validProbability reports whether p lies in [0,1]. NaN does not.
func validProbability(p float64) bool {
	return p >= 0 && p <= 1
}

func validateActionName(field, name string, errs *ValidationErrors) {
	if name == "" {
		errs.Add(field, "action is required")
	} else if !knownActions[name] {
		errs.Add(field, fmt.Sprintf("unknown action: %s (expected %s or %s)", name, action.NameCreate, action.NameResolve))
	}
}

// validatePacing validates pacing configuration.
func validatePacing(prefix string, pacing *PacingConfig, errs *ValidationErrors) {
	validTypes := map[string]bool{
		"none": true, "constant": true, "random": true,
	}

	if !validTypes[pacing.Type] {
		errs.Add(prefix+".type", fmt.Sprintf("invalid pacing type: %s", pacing.Type))
	}

	switch pacing.Type {
	case "constant":
		if pacing.Duration == "" {
			errs.Add(prefix+".duration", "duration is required for constant pacing")
		} else if d, err := ParseDurationString(string(pacing.Duration)); err != nil {
			errs.Add(prefix+".duration", fmt.Sprintf("invalid duration: %v", err))
		} else if d < 0 {
			errs.Add(prefix+".duration", "duration cannot be negative")
		}

	case "random":
		minDur, minErr := ParseDurationString(string(pacing.Min))
		maxDur, maxErr := ParseDurationString(string(pacing.Max))

		if pacing.Min == "" {
			errs.Add(prefix+".min", "min is required for random pacing")
		} else if minErr != nil {
			errs.Add(prefix+".min", fmt.Sprintf("invalid min: %v", minErr))
		} else if minDur < 0 {
			errs.Add(prefix+".min", "min cannot be negative")
		}

		if pacing.Max == "" {
			errs.Add(prefix+".max", "max is required for random pacing")
		} else if maxErr != nil {
			errs.Add(prefix+".max", fmt.Sprintf("invalid max: %v", maxErr))
		}

		if minErr == nil && maxErr == nil && pacing.Min != "" && pacing.Max != "" && minDur > maxDur {
			errs.Add(prefix, "min must be less than or equal to max")
		}
	}
}

// validateThresholds parses every expression so a bad one fails the run
// before any load is generated.
func validateThresholds(thresholds map[string][]string, errs *ValidationErrors) {
	metrics := make([]string, 0, len(thresholds))
	for m := range thresholds {
		metrics = append(metrics, m)
	}
	sort.Strings(metrics)

	for _, metric := range metrics {
		for i, expr := range thresholds[metric] {
			if _, err := threshold.Parse(metric, expr); err != nil {
				errs.Add(fmt.Sprintf("thresholds.%s[%d]", metric, i), err.Error())
			}
		}
	}
}

// Package config loads, checks, and converts shortload run configuration.
package config

import (
	"encoding/json"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// TestConfig is the root configuration for a run.
//
// Example YAML:
//
//	name: "shortener smoke"
//	settings:
//	  baseUrl: "http://localhost:8080"
//	  timeout: 30s
//	stages:
//	  - duration: 1m
//	    target: 50
//	  - duration: 3m
//	    target: 50
//	  - duration: 1m
//	    target: 0
//	mix:
//	  gate:
//	    probability: 0.005
//	    primary: create
//	    fallback: resolve
//	pacing:
//	  type: constant
//	  duration: 100ms
//	thresholds:
//	  http_req_duration: ["p95 < 500ms"]
//	  errors: ["rate < 0.1"]
type TestConfig struct {
	// Name of the run (for reporting)
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// Description of the run (optional)
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// Settings contains target and request settings
	Settings Settings `json:"settings,omitempty" yaml:"settings,omitempty"`

	// Stages defines the VU ramp profile
	Stages []StageConfig `json:"stages" yaml:"stages"`

	// Mix decides which action each iteration runs
	Mix MixConfig `json:"mix,omitempty" yaml:"mix,omitempty"`

	// Pacing controls time between iterations
	Pacing *PacingConfig `json:"pacing,omitempty" yaml:"pacing,omitempty"`

	// GracefulStop is how long in-flight iterations may run after the
	// last stage or an abort
	GracefulStop DurationString `json:"gracefulStop,omitempty" yaml:"gracefulStop,omitempty"`

	// Thresholds maps a metric name to its pass/fail expressions,
	// e.g. http_req_duration: ["p95 < 500ms"]
	Thresholds map[string][]string `json:"thresholds,omitempty" yaml:"thresholds,omitempty"`

	// MinSamples is the smallest outcome count that yields PASS or FAIL
	MinSamples int `json:"minSamples,omitempty" yaml:"minSamples,omitempty"`
}

// Settings contains target, HTTP, and payload settings.
type Settings struct {
	// BaseURL is the shortener under test
	BaseURL string `json:"baseUrl,omitempty" yaml:"baseUrl,omitempty"`

	// Timeout is the per-request HTTP timeout
	Timeout Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// MaxConnectionsPerHost limits connections per host
	MaxConnectionsPerHost int `json:"maxConnectionsPerHost,omitempty" yaml:"maxConnectionsPerHost,omitempty"`

	// MaxIdleConnsPerHost limits idle connections per host
	MaxIdleConnsPerHost int `json:"maxIdleConnsPerHost,omitempty" yaml:"maxIdleConnsPerHost,omitempty"`

	// FollowRedirects makes resolve follow 3xx responses
	FollowRedirects bool `json:"followRedirects,omitempty" yaml:"followRedirects,omitempty"`

	// InsecureSkipVerify skips TLS certificate verification
	InsecureSkipVerify bool `json:"insecureSkipVerify,omitempty" yaml:"insecureSkipVerify,omitempty"`

	// Seed makes the run's random streams reproducible; 0 is random
	Seed uint64 `json:"seed,omitempty" yaml:"seed,omitempty"`

	// CreatePath is the create endpoint path
	CreatePath string `json:"createPath,omitempty" yaml:"createPath,omitempty"`

	// ExpectStatus is the create success status
	ExpectStatus int `json:"expectStatus,omitempty" yaml:"expectStatus,omitempty"`

	// MaxURLLength caps generated long URLs
	MaxURLLength int `json:"maxUrlLength,omitempty" yaml:"maxUrlLength,omitempty"`

	// KeyMinLength and KeyMaxLength bound random resolve keys
	KeyMinLength int `json:"keyMinLength,omitempty" yaml:"keyMinLength,omitempty"`
	KeyMaxLength int `json:"keyMaxLength,omitempty" yaml:"keyMaxLength,omitempty"`

	// AcceptStatus lists statuses resolve treats as success
	AcceptStatus []int `json:"acceptStatus,omitempty" yaml:"acceptStatus,omitempty"`

	// ReuseProbability is the chance resolve picks a created key
	ReuseProbability float64 `json:"reuseProbability,omitempty" yaml:"reuseProbability,omitempty"`

	// KeyPoolSize bounds how many created keys are remembered
	KeyPoolSize int `json:"keyPoolSize,omitempty" yaml:"keyPoolSize,omitempty"`
}

// StageConfig defines a single ramp stage.
type StageConfig struct {
	// Duration of this stage (e.g., "30s", "2m")
	Duration DurationString `json:"duration" yaml:"duration"`

	// Target VU count at the end of the stage
	Target int `json:"target" yaml:"target"`

	// Name is an optional name for this stage (for reporting)
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
}

// MixConfig selects either a binary gate or weighted actions.
type MixConfig struct {
	Gate    *GateConfig    `json:"gate,omitempty" yaml:"gate,omitempty"`
	Weights []WeightConfig `json:"weights,omitempty" yaml:"weights,omitempty"`
}

// GateConfig is a Bernoulli gate between two actions.
type GateConfig struct {
	Probability float64 `json:"probability" yaml:"probability"`
	Primary     string  `json:"primary,omitempty" yaml:"primary,omitempty"`
	Fallback    string  `json:"fallback,omitempty" yaml:"fallback,omitempty"`
}

// WeightConfig is one weighted action.
type WeightConfig struct {
	Action string  `json:"action" yaml:"action"`
	Weight float64 `json:"weight" yaml:"weight"`
}

// PacingConfig controls pacing between iterations.
type PacingConfig struct {
	// Type is the pacing strategy: "none", "constant", "random"
	Type string `json:"type" yaml:"type"`

	// Duration is the wait time for constant pacing
	Duration DurationString `json:"duration,omitempty" yaml:"duration,omitempty"`

	// Min is the minimum wait time for random pacing
	Min DurationString `json:"min,omitempty" yaml:"min,omitempty"`

	// Max is the maximum wait time for random pacing
	Max DurationString `json:"max,omitempty" yaml:"max,omitempty"`
}

// DurationString keeps a duration as written, e.g. "30s". JSON numbers are
// accepted as integer seconds; YAML scalars already decode into strings.
type DurationString string

// UnmarshalJSON implements json.Unmarshaler.
func (d *DurationString) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*d = DurationString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("duration must be a string or integer seconds, got %s", b)
	}
	*d = DurationString(n.String())
	return nil
}

// Duration is a time.Duration that can be unmarshaled from JSON/YAML
// strings or integer seconds.
type Duration time.Duration

// GetDuration returns the duration or a default if empty.
func (d Duration) GetDuration(defaultValue time.Duration) time.Duration {
	if d == 0 {
		return defaultValue
	}
	return time.Duration(d)
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Duration(d).String() + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	if s == "null" {
		s = ""
	}
	return d.set(s)
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	return d.set(value.Value)
}

func (d *Duration) set(s string) error {
	dur, err := ParseDurationString(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// String returns the duration as a string.
func (d Duration) String() string {
	return time.Duration(d).String()
}

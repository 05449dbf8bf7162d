package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/wesleyorama2/shortload/internal/loadtest/action"
	"github.com/wesleyorama2/shortload/internal/loadtest/datagen"
	"github.com/wesleyorama2/shortload/internal/loadtest/threshold"
)

// Defaults for the reference run.
const (
	DefaultBaseURL         = "http://localhost:8080"
	DefaultTimeout         = 30 * time.Second
	DefaultCreatePath      = "/create"
	DefaultGateProbability = 0.005
	DefaultPacing          = "100ms"
	DefaultGracefulStop    = "30s"
	DefaultKeyMinLength    = 1
	DefaultKeyMaxLength    = 7
	DefaultMaxConnsPerHost = 100
)

// LoadConfig loads a run configuration from a file.
//
// The file format is determined by extension:
//   - .yaml, .yml -> YAML
//   - .json -> JSON
//
// The returned config has defaults applied but is not validated.
func LoadConfig(path string) (*TestConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return ParseConfig(data, path)
}

// ParseConfig checks data against the config schema, decodes it, and
// applies defaults.
//
// The format is determined by the file extension in path, or defaults to YAML
// if the path is empty or has an unknown extension.
func ParseConfig(data []byte, path string) (*TestConfig, error) {
	isJSON := strings.ToLower(filepath.Ext(path)) == ".json"

	if err := CheckSchema(data, isJSON); err != nil {
		return nil, err
	}

	var config TestConfig
	if isJSON {
		if err := json.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	}

	ApplyDefaults(&config)
	return &config, nil
}

// ParseDurationString parses a duration string with support for common formats.
//
// Supported formats:
//   - Standard Go duration: "30s", "2m", "1h30m", "500ms"
//   - Seconds as integer: "30" (treated as 30 seconds)
//
// An empty string is a zero duration.
func ParseDurationString(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}

	d, err := time.ParseDuration(s)
	if err == nil {
		return d, nil
	}

	if seconds, err := strconv.Atoi(s); err == nil {
		return time.Duration(seconds) * time.Second, nil
	}

	return 0, fmt.Errorf("invalid duration format: %s", s)
}

// Default returns the reference run: ramp to 50 VUs over a minute, hold for
// three, ramp down over one; create on 0.5% of iterations; 100ms pacing;
// p95 under 500ms and an error rate under 10%.
func Default() *TestConfig {
	config := &TestConfig{
		Name: "shortload",
		Stages: []StageConfig{
			{Duration: "1m", Target: 50, Name: "ramp-up"},
			{Duration: "3m", Target: 50, Name: "steady"},
			{Duration: "1m", Target: 0, Name: "ramp-down"},
		},
	}
	ApplyDefaults(config)
	return config
}

// DefaultThresholds returns the reference pass criteria.
func DefaultThresholds() map[string][]string {
	return map[string][]string{
		threshold.MetricDuration: {"p95 < 500ms"},
		threshold.MetricErrors:   {"rate < 0.1"},
	}
}

// ApplyDefaults fills unset fields. A nil thresholds map gets the
// reference thresholds; an explicit empty map is kept.
func ApplyDefaults(config *TestConfig) {
	s := &config.Settings
	if s.BaseURL == "" {
		s.BaseURL = DefaultBaseURL
	}
	if s.Timeout == 0 {
		s.Timeout = Duration(DefaultTimeout)
	}
	if s.MaxConnectionsPerHost == 0 {
		s.MaxConnectionsPerHost = DefaultMaxConnsPerHost
	}
	if s.MaxIdleConnsPerHost == 0 {
		s.MaxIdleConnsPerHost = DefaultMaxConnsPerHost
	}
	if s.CreatePath == "" {
		s.CreatePath = DefaultCreatePath
	}
	if s.ExpectStatus == 0 {
		s.ExpectStatus = 201
	}
	if s.MaxURLLength == 0 {
		s.MaxURLLength = datagen.DefaultMaxURLLength
	}
	if s.KeyMinLength == 0 {
		s.KeyMinLength = DefaultKeyMinLength
	}
	if s.KeyMaxLength == 0 {
		s.KeyMaxLength = DefaultKeyMaxLength
	}
	if len(s.AcceptStatus) == 0 {
		s.AcceptStatus = []int{200, 404}
	}
	if s.KeyPoolSize == 0 {
		s.KeyPoolSize = action.DefaultKeyPoolSize
	}

	if config.Mix.Gate == nil && len(config.Mix.Weights) == 0 {
		config.Mix.Gate = &GateConfig{Probability: DefaultGateProbability}
	}
	if g := config.Mix.Gate; g != nil {
		if g.Primary == "" {
			g.Primary = action.NameCreate
		}
		if g.Fallback == "" {
			g.Fallback = action.NameResolve
		}
	}

	if config.Pacing == nil {
		config.Pacing = &PacingConfig{Type: "constant", Duration: DefaultPacing}
	}
	if config.GracefulStop == "" {
		config.GracefulStop = DefaultGracefulStop
	}
	if config.Thresholds == nil {
		config.Thresholds = DefaultThresholds()
	}
	if config.MinSamples == 0 {
		config.MinSamples = threshold.DefaultMinSamples
	}
}

// ParseStages parses a compact stage list such as "1m:50,3m:50,1m:0".
func ParseStages(s string) ([]StageConfig, error) {
	var stages []StageConfig
	for i, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		dur, target, ok := strings.Cut(part, ":")
		if !ok {
			return nil, fmt.Errorf("stage %d: expected duration:target, got %q", i, part)
		}
		if _, err := ParseDurationString(dur); err != nil {
			return nil, fmt.Errorf("stage %d: %w", i, err)
		}
		n, err := strconv.Atoi(strings.TrimSpace(target))
		if err != nil {
			return nil, fmt.Errorf("stage %d: invalid target %q", i, target)
		}
		stages = append(stages, StageConfig{Duration: DurationString(strings.TrimSpace(dur)), Target: n})
	}
	if len(stages) == 0 {
		return nil, fmt.Errorf("no stages in %q", s)
	}
	return stages, nil
}

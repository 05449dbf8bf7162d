// Package executor drives the number of running virtual users over time.
package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/wesleyorama2/shortload/internal/loadtest"
	"github.com/wesleyorama2/shortload/internal/loadtest/metrics"
)

// Type identifies the type of executor.
type Type string

// TypeRampingVUs ramps VU count up and down according to stages.
const TypeRampingVUs Type = "ramping-vus"

// DefaultGracefulStop bounds how long in-flight iterations may run after
// the last stage ends or the run is aborted.
const DefaultGracefulStop = 30 * time.Second

// Executor defines a load generation strategy.
type Executor interface {
	// Type returns the executor type.
	Type() Type

	// Init validates and stores the configuration. Called once before Run.
	Init(ctx context.Context, config *Config) error

	// Run blocks until the profile completes or ctx is cancelled.
	Run(ctx context.Context, scheduler *loadtest.VUScheduler, metrics *metrics.Engine) error

	// GetProgress returns current progress (0.0 to 1.0).
	GetProgress() float64

	// GetActiveVUs returns current active VU count.
	GetActiveVUs() int

	// GetStats returns executor-specific statistics.
	GetStats() *Stats

	// Stop ends the run early.
	Stop(ctx context.Context) error
}

// Config contains configuration for an executor.
type Config struct {
	Name string `json:"name" yaml:"name"`
	Type Type   `json:"type" yaml:"type"`

	// Stages is the ordered ramp profile.
	Stages []Stage `json:"stages" yaml:"stages"`

	// GracefulStop is how long running iterations may take to finish.
	GracefulStop time.Duration `json:"gracefulStop,omitempty" yaml:"gracefulStop,omitempty"`

	// Pacing between iterations.
	Pacing *PacingConfig `json:"pacing,omitempty" yaml:"pacing,omitempty"`

	// ControllerInterval is how often the target is recomputed (default: 100ms).
	ControllerInterval time.Duration `json:"-" yaml:"-"`
}

// Stage defines one segment of the ramp.
type Stage struct {
	// Duration of this stage
	Duration time.Duration `json:"duration" yaml:"duration"`

	// Target VU count reached at the end of the stage
	Target int `json:"target" yaml:"target"`

	// Optional name for this stage (for reporting)
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
}

// PacingConfig controls time between iterations.
type PacingConfig struct {
	// Type of pacing: "none", "constant", "random"
	Type PacingType `json:"type" yaml:"type"`

	// Duration for constant pacing
	Duration time.Duration `json:"duration,omitempty" yaml:"duration,omitempty"`

	// Min and Max bound random pacing
	Min time.Duration `json:"min,omitempty" yaml:"min,omitempty"`
	Max time.Duration `json:"max,omitempty" yaml:"max,omitempty"`
}

// PacingType identifies the type of pacing.
type PacingType string

const (
	PacingNone     PacingType = "none"
	PacingConstant PacingType = "constant"
	PacingRandom   PacingType = "random"
)

// Stats contains real-time executor statistics.
type Stats struct {
	StartTime     time.Time     `json:"startTime"`
	CurrentTime   time.Time     `json:"currentTime"`
	Elapsed       time.Duration `json:"elapsed"`
	TotalDuration time.Duration `json:"totalDuration"`

	ActiveVUs int `json:"activeVUs"`
	TargetVUs int `json:"targetVUs"`

	Iterations int64 `json:"iterations"`

	CurrentStage     int    `json:"currentStage"`
	CurrentStageName string `json:"currentStageName"`
	TotalStages      int    `json:"totalStages"`
}

// Validate validates the executor configuration.
func (c *Config) Validate() error {
	if c.Type == "" {
		return &ValidationError{Field: "type", Message: "executor type is required"}
	}
	if c.Type != TypeRampingVUs {
		return &ValidationError{Field: "type", Message: "unknown executor type: " + string(c.Type)}
	}
	if len(c.Stages) == 0 {
		return &ValidationError{Field: "stages", Message: "at least one stage is required"}
	}
	for i, s := range c.Stages {
		field := fmt.Sprintf("stages[%d]", i)
		if s.Duration < 0 {
			return &ValidationError{Field: field + ".duration", Message: "duration cannot be negative"}
		}
		if s.Target < 0 {
			return &ValidationError{Field: field + ".target", Message: "target cannot be negative"}
		}
	}
	if c.TotalDuration() <= 0 {
		return &ValidationError{Field: "stages", Message: "total duration must be > 0"}
	}
	if c.GracefulStop < 0 {
		return &ValidationError{Field: "gracefulStop", Message: "gracefulStop cannot be negative"}
	}
	return c.Pacing.Validate()
}

// Validate checks pacing coherence. A nil config is valid (no pacing).
func (p *PacingConfig) Validate() error {
	if p == nil {
		return nil
	}
	switch p.Type {
	case "", PacingNone:
	case PacingConstant:
		if p.Duration < 0 {
			return &ValidationError{Field: "pacing.duration", Message: "duration cannot be negative"}
		}
	case PacingRandom:
		if p.Min < 0 {
			return &ValidationError{Field: "pacing.min", Message: "min cannot be negative"}
		}
		if p.Max < p.Min {
			return &ValidationError{Field: "pacing.max", Message: "max must be >= min"}
		}
	default:
		return &ValidationError{Field: "pacing.type", Message: "unknown pacing type: " + string(p.Type)}
	}
	return nil
}

// TotalDuration is the sum of stage durations.
func (c *Config) TotalDuration() time.Duration {
	return NewPlan(c.Stages).TotalDuration
}

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return "validation error on field '" + e.Field + "': " + e.Message
}

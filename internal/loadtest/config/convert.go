package config

import (
	"fmt"
	"time"

	"github.com/wesleyorama2/shortload/internal/loadtest"
	"github.com/wesleyorama2/shortload/internal/loadtest/action"
	"github.com/wesleyorama2/shortload/internal/loadtest/executor"
	"github.com/wesleyorama2/shortload/internal/loadtest/mix"
	"github.com/wesleyorama2/shortload/internal/loadtest/threshold"
)

// ExecutorConfig converts stages, pacing, and graceful stop into an
// executor configuration.
func (c *TestConfig) ExecutorConfig() (*executor.Config, error) {
	cfg := &executor.Config{
		Name: c.Name,
		Type: executor.TypeRampingVUs,
	}

	for i, s := range c.Stages {
		d, err := ParseDurationString(string(s.Duration))
		if err != nil {
			return nil, fmt.Errorf("stages[%d]: %w", i, err)
		}
		cfg.Stages = append(cfg.Stages, executor.Stage{Duration: d, Target: s.Target, Name: s.Name})
	}

	gs, err := ParseDurationString(string(c.GracefulStop))
	if err != nil {
		return nil, fmt.Errorf("gracefulStop: %w", err)
	}
	cfg.GracefulStop = gs

	if c.Pacing != nil {
		pacing, err := c.Pacing.toExecutor()
		if err != nil {
			return nil, err
		}
		cfg.Pacing = pacing
	}
	return cfg, nil
}

func (p *PacingConfig) toExecutor() (*executor.PacingConfig, error) {
	out := &executor.PacingConfig{Type: executor.PacingType(p.Type)}
	var err error
	if out.Duration, err = ParseDurationString(string(p.Duration)); err != nil {
		return nil, fmt.Errorf("pacing.duration: %w", err)
	}
	if out.Min, err = ParseDurationString(string(p.Min)); err != nil {
		return nil, fmt.Errorf("pacing.min: %w", err)
	}
	if out.Max, err = ParseDurationString(string(p.Max)); err != nil {
		return nil, fmt.Errorf("pacing.max: %w", err)
	}
	return out, nil
}

// Selector builds the action mix.
func (c *TestConfig) Selector() mix.Selector {
	if g := c.Mix.Gate; g != nil {
		return mix.Gate{Probability: g.Probability, Primary: g.Primary, Fallback: g.Fallback}
	}
	w := mix.Weighted{Weights: make([]mix.Weight, 0, len(c.Mix.Weights))}
	for _, wc := range c.Mix.Weights {
		w.Weights = append(w.Weights, mix.Weight{Name: wc.Action, Weight: wc.Weight})
	}
	return w
}

// Actions builds the create and resolve actions from settings.
func (c *TestConfig) Actions() action.Set {
	s := c.Settings
	return action.NewSet(
		&action.Create{
			Path:         s.CreatePath,
			MaxURLLength: s.MaxURLLength,
			ExpectStatus: s.ExpectStatus,
		},
		&action.Resolve{
			KeyMinLength:     s.KeyMinLength,
			KeyMaxLength:     s.KeyMaxLength,
			AcceptStatus:     append([]int(nil), s.AcceptStatus...),
			ReuseProbability: s.ReuseProbability,
		},
	)
}

// ParsedThresholds parses the threshold expressions in metric name order.
func (c *TestConfig) ParsedThresholds() ([]threshold.Threshold, error) {
	return threshold.ParseAll(c.Thresholds)
}

// HTTPClientConfig derives the shared client settings.
func (c *TestConfig) HTTPClientConfig() loadtest.HTTPClientConfig {
	cfg := loadtest.DefaultHTTPClientConfig()
	s := c.Settings
	cfg.Timeout = s.Timeout.GetDuration(DefaultTimeout)
	if s.MaxConnectionsPerHost > 0 {
		cfg.MaxConnsPerHost = s.MaxConnectionsPerHost
	}
	if s.MaxIdleConnsPerHost > 0 {
		cfg.MaxIdleConnsPerHost = s.MaxIdleConnsPerHost
	}
	cfg.FollowRedirects = s.FollowRedirects
	cfg.InsecureSkipVerify = s.InsecureSkipVerify
	return cfg
}

// TotalDuration is the sum of stage durations, ignoring unparseable ones.
func (c *TestConfig) TotalDuration() time.Duration {
	var total time.Duration
	for _, s := range c.Stages {
		d, _ := ParseDurationString(string(s.Duration))
		total += d
	}
	return total
}

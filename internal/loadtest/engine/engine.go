// Package engine is the orchestrator for a shortload run.
package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wesleyorama2/shortload/internal/loadtest"
	"github.com/wesleyorama2/shortload/internal/loadtest/action"
	"github.com/wesleyorama2/shortload/internal/loadtest/config"
	"github.com/wesleyorama2/shortload/internal/loadtest/executor"
	"github.com/wesleyorama2/shortload/internal/loadtest/metrics"
	"github.com/wesleyorama2/shortload/internal/loadtest/threshold"
	"github.com/wesleyorama2/shortload/internal/tracing"
)

// ErrAlreadyRunning is returned by Run while a run is in progress.
var ErrAlreadyRunning = errors.New("engine is already running")

// DefaultProgressInterval is how often progress callbacks fire.
const DefaultProgressInterval = time.Second

// Progress is a live view handed to the progress callback.
type Progress struct {
	RunID    string
	Name     string
	Percent  float64
	Metrics  *metrics.Snapshot
	Executor *executor.Stats
}

// ProgressFunc receives periodic progress while the run is active.
type ProgressFunc func(Progress)

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithProgress registers a progress callback fired every interval.
func WithProgress(fn ProgressFunc, interval time.Duration) Option {
	return func(e *Engine) {
		e.progress = fn
		if interval > 0 {
			e.progressInterval = interval
		}
	}
}

// WithObserver mirrors every outcome to o (for example a PromCollector).
func WithObserver(o metrics.Observer) Option {
	return func(e *Engine) { e.observers = append(e.observers, o) }
}

// WithTracing sends action spans through p.
func WithTracing(p *tracing.Provider) Option {
	return func(e *Engine) { e.tracing = p }
}

// WithHTTPClient replaces the client built from settings.
func WithHTTPClient(c *http.Client) Option {
	return func(e *Engine) { e.client = c }
}

// WithMetricsConfig tunes the metrics engine.
func WithMetricsConfig(c metrics.Config) Option {
	return func(e *Engine) { e.metricsConfig = c }
}

// WithControllerInterval sets how often the VU target is recomputed.
func WithControllerInterval(d time.Duration) Option {
	return func(e *Engine) { e.controllerInterval = d }
}

// Engine runs one configuration at a time.
//
// It coordinates:
//   - Configuration validation and conversion
//   - The ramping executor and its VU scheduler
//   - Metrics aggregation and the created-key pool
//   - Threshold evaluation into a verdict
//
// Example usage:
//
//	cfg, _ := config.LoadConfig("run.yaml")
//	eng, _ := engine.New(cfg)
//	report, _ := eng.Run(context.Background())
//	os.Exit(report.ExitCode())
type Engine struct {
	config     *config.TestConfig
	execConfig *executor.Config
	thresholds []threshold.Threshold

	logger             *zap.Logger
	progress           ProgressFunc
	progressInterval   time.Duration
	observers          []metrics.Observer
	tracing            *tracing.Provider
	client             *http.Client
	metricsConfig      metrics.Config
	controllerInterval time.Duration

	mu       sync.RWMutex
	running  bool
	executor executor.Executor
	metrics  *metrics.Engine
}

// New validates cfg and prepares an engine.
func New(cfg *config.TestConfig, opts ...Option) (*Engine, error) {
	if cfg == nil {
		return nil, errors.New("configuration is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	execConfig, err := cfg.ExecutorConfig()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	thresholds, err := cfg.ParsedThresholds()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	e := &Engine{
		config:           cfg,
		execConfig:       execConfig,
		thresholds:       thresholds,
		logger:           zap.NewNop(),
		progressInterval: DefaultProgressInterval,
		metricsConfig:    metrics.DefaultConfig(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.execConfig.ControllerInterval = e.controllerInterval

	if err := e.execConfig.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return e, nil
}

// Config returns the configuration the engine was built with.
func (e *Engine) Config() *config.TestConfig {
	return e.config
}

// Running reports whether Run is in progress.
func (e *Engine) Running() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}

// Snapshot returns live metrics, or nil when no run has started.
func (e *Engine) Snapshot() *metrics.Snapshot {
	e.mu.RLock()
	m := e.metrics
	e.mu.RUnlock()
	if m == nil {
		return nil
	}
	return m.Snapshot()
}

// Run executes the ramp profile and returns the report. Cancelling ctx
// aborts the run: no new VUs start, in-flight requests finish within
// gracefulStop, and the outcomes recorded so far are still evaluated.
func (e *Engine) Run(ctx context.Context) (*Report, error) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil, ErrAlreadyRunning
	}
	e.running = true
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
	}()

	runID := uuid.NewString()
	logger := e.logger.With(zap.String("run", runID))
	startTime := time.Now()

	keys := action.NewKeyPool(e.config.Settings.KeyPoolSize)
	metricsOpts := []metrics.Option{metrics.WithKeySink(keys), metrics.WithLogger(logger)}
	for _, o := range e.observers {
		metricsOpts = append(metricsOpts, metrics.WithObserver(o))
	}
	metricsEngine := metrics.NewEngine(e.metricsConfig, metricsOpts...)
	defer metricsEngine.Stop()

	scheduler := loadtest.NewVUScheduler(loadtest.SchedulerConfig{
		BaseURL:   e.config.Settings.BaseURL,
		Selector:  e.config.Selector(),
		Actions:   e.config.Actions(),
		HTTP:      e.config.HTTPClientConfig(),
		Seed:      e.config.Settings.Seed,
		Tracer:    e.tracing.Tracer(),
		Propagate: e.tracing.ShouldPropagate(),
		Keys:      keys,
		Client:    e.client,
	}, metricsEngine, logger)

	exec := executor.NewRampingVUs(logger)
	if err := exec.Init(ctx, e.execConfig); err != nil {
		return nil, fmt.Errorf("failed to initialize executor: %w", err)
	}

	e.mu.Lock()
	e.executor = exec
	e.metrics = metricsEngine
	e.mu.Unlock()

	logger.Info("run started",
		zap.String("name", e.config.Name),
		zap.String("baseUrl", e.config.Settings.BaseURL),
		zap.Duration("duration", e.execConfig.TotalDuration()),
		zap.Uint64("seed", e.config.Settings.Seed),
	)

	g, gctx := errgroup.WithContext(ctx)
	runDone := make(chan struct{})
	g.Go(func() error {
		defer close(runDone)
		return exec.Run(gctx, scheduler, metricsEngine)
	})
	if e.progress != nil {
		g.Go(func() error {
			e.reportProgress(runDone, runID, exec, metricsEngine)
			return nil
		})
	}
	runErr := g.Wait()

	scheduler.Shutdown(time.Second)
	metricsEngine.Stop()

	report := e.buildReport(runID, startTime, metricsEngine)
	report.Aborted = ctx.Err() != nil

	logger.Info("run finished",
		zap.String("verdict", string(report.Verdict)),
		zap.Int64("iterations", report.Iterations),
		zap.Duration("p95", report.P95),
		zap.Float64("errorRate", report.ErrorRate),
		zap.Int64("dropped", report.Metrics.Dropped),
		zap.Bool("aborted", report.Aborted),
	)

	if runErr != nil {
		return report, fmt.Errorf("run failed: %w", runErr)
	}
	return report, nil
}

// Stop aborts a running run and waits for the executor to drain.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.RLock()
	exec := e.executor
	e.mu.RUnlock()
	if exec == nil {
		return nil
	}
	return exec.Stop(ctx)
}

func (e *Engine) reportProgress(done <-chan struct{}, runID string, exec executor.Executor, m *metrics.Engine) {
	ticker := time.NewTicker(e.progressInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			e.progress(Progress{
				RunID:    runID,
				Name:     e.config.Name,
				Percent:  exec.GetProgress() * 100,
				Metrics:  m.Snapshot(),
				Executor: exec.GetStats(),
			})
		}
	}
}

func (e *Engine) buildReport(runID string, startTime time.Time, m *metrics.Engine) *Report {
	sample := m.Summary(threshold.Percentiles(e.thresholds)...)
	verdict := threshold.Evaluate(sample, e.thresholds, e.config.MinSamples)
	snapshot := m.Snapshot()
	endTime := time.Now()

	return &Report{
		RunID:        runID,
		Name:         e.config.Name,
		Description:  e.config.Description,
		BaseURL:      e.config.Settings.BaseURL,
		Seed:         e.config.Settings.Seed,
		StartTime:    startTime,
		EndTime:      endTime,
		Duration:     endTime.Sub(startTime),
		Verdict:      verdict.Status,
		Reason:       verdict.Reason,
		Breached:     verdict.Breached,
		P95:          sample.Percentiles[95],
		ErrorRate:    sample.ErrorRate(),
		Iterations:   sample.Count,
		ActionCounts: snapshot.ActionCounts(),
		Metrics:      snapshot,
		Thresholds:   verdict.Results,
		Phases:       m.PhaseHistory(),
		TimeSeries:   m.TimeSeries(),
	}
}

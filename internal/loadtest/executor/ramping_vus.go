package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/wesleyorama2/shortload/internal/loadtest"
	"github.com/wesleyorama2/shortload/internal/loadtest/metrics"
)

const defaultControllerInterval = 100 * time.Millisecond

// RampingVUs ramps VU count up and down according to stages.
//
// The controller recomputes the target every ControllerInterval and spawns
// or retires VUs to match it. Retired VUs finish their current iteration
// before exiting; a request is never cut short by a ramp-down.
//
// Example stages:
//
//	stages:
//	  - duration: 1m
//	    target: 50     # Ramp from 0 to 50 VUs over 1m
//	  - duration: 3m
//	    target: 50     # Hold 50 VUs for 3 minutes
//	  - duration: 1m
//	    target: 0      # Ramp down to 0 VUs over 1m
type RampingVUs struct {
	config    *Config
	plan      Plan
	scheduler *loadtest.VUScheduler
	metrics   *metrics.Engine
	logger    *zap.Logger

	startTime    time.Time
	activeVUs    atomic.Int32
	targetVUs    atomic.Int32
	iterations   atomic.Int64
	currentStage atomic.Int32
	running      atomic.Bool

	cancelMu   sync.Mutex
	cancelFunc context.CancelFunc
	done       chan struct{}
	wg         sync.WaitGroup

	vus   []*loadtest.VirtualUser
	vusMu sync.Mutex

	mu sync.RWMutex
}

// NewRampingVUs creates a new ramping VUs executor.
func NewRampingVUs(logger *zap.Logger) *RampingVUs {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RampingVUs{
		logger: logger.With(zap.String("component", "executor")),
		done:   make(chan struct{}),
	}
}

// Type returns the executor type.
func (e *RampingVUs) Type() Type {
	return TypeRampingVUs
}

// Init initializes the executor with configuration.
func (e *RampingVUs) Init(ctx context.Context, config *Config) error {
	if config.Type != TypeRampingVUs {
		return fmt.Errorf("invalid config type: expected %s, got %s", TypeRampingVUs, config.Type)
	}
	if err := config.Validate(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.config = config
	e.plan = NewPlan(config.Stages)
	return nil
}

// Run drives the ramp and blocks until the last stage ends (or ctx is
// cancelled) and running iterations have drained.
func (e *RampingVUs) Run(ctx context.Context, scheduler *loadtest.VUScheduler, metricsEngine *metrics.Engine) error {
	if e.config == nil {
		return errors.New("executor not initialized")
	}
	if !e.running.CompareAndSwap(false, true) {
		return errors.New("executor already running")
	}
	defer close(e.done)

	e.scheduler = scheduler
	e.metrics = metricsEngine
	e.mu.Lock()
	e.startTime = time.Now()
	e.mu.Unlock()

	runCtx, cancel := context.WithTimeout(ctx, e.plan.TotalDuration)
	e.cancelMu.Lock()
	e.cancelFunc = cancel
	e.cancelMu.Unlock()
	defer cancel()

	// Requests outlive runCtx so that iterations in flight at the end of the
	// run can finish; hardStop cuts them off once gracefulStop expires.
	iterCtx, hardStop := context.WithCancel(context.WithoutCancel(ctx))
	defer hardStop()

	e.logger.Info("ramp started",
		zap.Duration("duration", e.plan.TotalDuration),
		zap.Int("maxVUs", e.plan.MaxTarget),
		zap.Int("stages", len(e.config.Stages)),
	)

	e.tick(runCtx, iterCtx)
	e.vuController(runCtx, iterCtx)

	e.gracefulShutdown(hardStop)

	e.metrics.SetActiveVUs(0)
	e.metrics.SetPhase(metrics.PhaseDone)
	e.running.Store(false)

	e.logger.Info("ramp finished",
		zap.Int64("iterations", e.iterations.Load()),
		zap.Bool("aborted", ctx.Err() != nil),
	)
	return nil
}

// vuController adjusts VU count according to stages.
func (e *RampingVUs) vuController(runCtx, iterCtx context.Context) {
	interval := e.config.ControllerInterval
	if interval <= 0 {
		interval = defaultControllerInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-runCtx.Done():
			return
		case <-ticker.C:
			e.tick(runCtx, iterCtx)
		}
	}
}

func (e *RampingVUs) tick(runCtx, iterCtx context.Context) {
	elapsed := time.Since(e.startTime)
	target, stage := targetAndStage(e.config.Stages, elapsed)

	if prev := e.currentStage.Swap(int32(stage)); prev != int32(stage) {
		e.logger.Debug("stage changed", zap.Int("stage", stage), zap.Int("target", e.config.Stages[stage].Target))
	}
	e.targetVUs.Store(int32(target))
	e.adjustVUs(runCtx, iterCtx, target)
	e.metrics.SetPhase(PhaseFor(e.config.Stages, stage))
}

// adjustVUs spawns or retires VUs to match the target.
func (e *RampingVUs) adjustVUs(runCtx, iterCtx context.Context, target int) {
	e.vusMu.Lock()
	defer e.vusMu.Unlock()

	current := len(e.vus)
	switch {
	case target > current:
		for i := current; i < target; i++ {
			vu := e.scheduler.SpawnVU()
			e.vus = append(e.vus, vu)
			e.wg.Add(1)
			go e.runVU(runCtx, iterCtx, vu)
		}
	case target < current:
		// Retire the newest VUs first.
		for i := current - 1; i >= target; i-- {
			e.vus[i].RequestStop()
		}
		e.vus = e.vus[:target]
	}

	if target != current {
		e.logger.Debug("scaled VUs", zap.Int("from", current), zap.Int("to", target))
	}
	e.metrics.SetActiveVUs(target)
}

// runVU runs iterations until the VU is retired or the run ends. Stop
// signals are only checked between iterations.
func (e *RampingVUs) runVU(runCtx, iterCtx context.Context, vu *loadtest.VirtualUser) {
	defer e.wg.Done()
	defer e.scheduler.Release(vu)

	e.activeVUs.Add(1)
	defer e.activeVUs.Add(-1)

	for {
		if runCtx.Err() != nil || vu.StopRequested() {
			return
		}

		if _, err := vu.RunIteration(iterCtx); err != nil {
			if !errors.Is(err, loadtest.ErrVUStopped) {
				e.logger.Error("iteration failed", zap.Int("vu", vu.ID), zap.Error(err))
			}
			return
		}
		e.iterations.Add(1)

		if !vu.Pause(runCtx, e.pacingWait(vu)) {
			return
		}
	}
}

// pacingWait returns the delay before the VU's next iteration.
func (e *RampingVUs) pacingWait(vu *loadtest.VirtualUser) time.Duration {
	p := e.config.Pacing
	if p == nil {
		return 0
	}
	switch p.Type {
	case PacingConstant:
		return p.Duration
	case PacingRandom:
		diff := p.Max - p.Min
		if diff > 0 {
			return p.Min + time.Duration(vu.Rand().Int64N(int64(diff)))
		}
		return p.Min
	default:
		return 0
	}
}

// gracefulShutdown asks every VU to stop and waits for running iterations.
// After GracefulStop, in-flight requests are cancelled.
func (e *RampingVUs) gracefulShutdown(hardStop context.CancelFunc) {
	e.vusMu.Lock()
	for _, vu := range e.vus {
		vu.RequestStop()
	}
	e.vus = nil
	e.vusMu.Unlock()

	graceful := e.config.GracefulStop
	if graceful <= 0 {
		graceful = DefaultGracefulStop
	}

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(graceful)
	defer timer.Stop()

	select {
	case <-done:
	case <-timer.C:
		e.logger.Warn("graceful stop expired, cancelling in-flight requests",
			zap.Duration("gracefulStop", graceful),
			zap.Int32("vus", e.activeVUs.Load()),
		)
		hardStop()
		<-done
	}
}

// GetProgress returns current progress (0.0 to 1.0).
func (e *RampingVUs) GetProgress() float64 {
	e.mu.RLock()
	start := e.startTime
	e.mu.RUnlock()

	if !e.running.Load() {
		if start.IsZero() {
			return 0.0
		}
		return 1.0
	}
	if e.plan.TotalDuration == 0 {
		return 1.0
	}

	progress := float64(time.Since(start)) / float64(e.plan.TotalDuration)
	if progress > 1.0 {
		progress = 1.0
	}
	return progress
}

// GetActiveVUs returns current active VU count.
func (e *RampingVUs) GetActiveVUs() int {
	return int(e.activeVUs.Load())
}

// GetStats returns executor statistics.
func (e *RampingVUs) GetStats() *Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var elapsed time.Duration
	if !e.startTime.IsZero() {
		elapsed = time.Since(e.startTime)
	}

	stageIdx := int(e.currentStage.Load())
	stageName := ""
	totalStages := 0
	if e.config != nil {
		totalStages = len(e.config.Stages)
		if stageIdx >= 0 && stageIdx < totalStages {
			stageName = e.config.Stages[stageIdx].Name
		}
	}

	return &Stats{
		StartTime:        e.startTime,
		CurrentTime:      time.Now(),
		Elapsed:          elapsed,
		TotalDuration:    e.plan.TotalDuration,
		ActiveVUs:        int(e.activeVUs.Load()),
		TargetVUs:        int(e.targetVUs.Load()),
		Iterations:       e.iterations.Load(),
		CurrentStage:     stageIdx,
		CurrentStageName: stageName,
		TotalStages:      totalStages,
	}
}

// Stop ends the ramp early and waits for Run to return or ctx to expire.
func (e *RampingVUs) Stop(ctx context.Context) error {
	e.cancelMu.Lock()
	cancel := e.cancelFunc
	e.cancelMu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	select {
	case <-e.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var _ Executor = (*RampingVUs)(nil)

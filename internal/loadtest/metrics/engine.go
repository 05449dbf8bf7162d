// Package metrics aggregates action outcomes for a run.
//
// Virtual users never touch shared counters directly. Each outcome is sent
// over a buffered channel to a single aggregator goroutine, which owns the
// HDR histograms, counters, and time series.
package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
	"go.uber.org/zap"

	"github.com/wesleyorama2/shortload/internal/loadtest/action"
	"github.com/wesleyorama2/shortload/internal/loadtest/threshold"
)

// KeySink receives short keys reported by successful create actions.
type KeySink interface {
	Add(key string)
}

// Observer sees every outcome on the aggregator goroutine.
type Observer interface {
	Observe(o action.Outcome)
}

// Option configures an Engine.
type Option func(*Engine)

// WithKeySink registers a sink for created keys.
func WithKeySink(s KeySink) Option {
	return func(e *Engine) { e.sinks = append(e.sinks, s) }
}

// WithObserver registers an outcome observer.
func WithObserver(o Observer) Option {
	return func(e *Engine) { e.observers = append(e.observers, o) }
}

// WithLogger sets the engine logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// Engine collects outcomes.
//
// # Thread Safety
//
// Record, SetPhase, SetActiveVUs and every getter are safe for concurrent
// use. Aggregated state is written only by the aggregator goroutine.
type Engine struct {
	config Config
	logger *zap.Logger

	in     chan action.Outcome
	inMu   sync.RWMutex
	closed bool
	done   chan struct{}
	stop   sync.Once

	sinks     []KeySink
	observers []Observer

	mu            sync.RWMutex
	latencyHist   *hdrhistogram.Histogram
	actionHists   map[string]*hdrhistogram.Histogram
	actions       map[string]*actionCounters
	statusClasses map[string]int64
	iterations    int64
	failed        int64
	transportErrs int64
	totalBytes    int64
	buckets       *bucketRing

	dropped   atomic.Int64
	activeVUs atomic.Int32

	phaseMu      sync.RWMutex
	currentPhase Phase
	phaseHistory []PhaseChange

	startTime time.Time
}

type actionCounters struct {
	iterations   int64
	failed       int64
	statusCodes  map[int]int64
	failedChecks map[string]int64
}

// NewEngine creates an engine and starts its aggregator.
func NewEngine(cfg Config, opts ...Option) *Engine {
	cfg = cfg.withDefaults()

	e := &Engine{
		config:        cfg,
		logger:        zap.NewNop(),
		in:            make(chan action.Outcome, cfg.BufferSize),
		done:          make(chan struct{}),
		latencyHist:   hdrhistogram.New(cfg.HistogramMin, cfg.HistogramMax, cfg.HistogramSigFigs),
		actionHists:   make(map[string]*hdrhistogram.Histogram),
		actions:       make(map[string]*actionCounters),
		statusClasses: make(map[string]int64),
		buckets:       newBucketRing(cfg.MaxBuckets),
		currentPhase:  PhaseInit,
		startTime:     time.Now(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With(zap.String("component", "metrics"))

	go e.aggregate()
	return e
}

// Record hands an outcome to the aggregator. It blocks while the buffer is
// full. After Stop the outcome is counted as dropped.
func (e *Engine) Record(o action.Outcome) {
	e.inMu.RLock()
	defer e.inMu.RUnlock()
	if e.closed {
		e.dropped.Add(1)
		return
	}
	e.in <- o
}

// Stop drains pending outcomes and stops the aggregator. It is idempotent.
func (e *Engine) Stop() {
	e.stop.Do(func() {
		e.inMu.Lock()
		e.closed = true
		close(e.in)
		e.inMu.Unlock()
		<-e.done

		if n := e.dropped.Load(); n > 0 {
			e.logger.Warn("outcomes recorded after stop were dropped", zap.Int64("dropped", n))
		}
	})
}

func (e *Engine) aggregate() {
	defer close(e.done)

	ticker := time.NewTicker(e.config.BucketInterval)
	defer ticker.Stop()

	for {
		select {
		case o, ok := <-e.in:
			if !ok {
				e.emitBucket()
				return
			}
			e.apply(o)
		case <-ticker.C:
			e.emitBucket()
		}
	}
}

func (e *Engine) apply(o action.Outcome) {
	micros := o.Latency.Microseconds()
	if micros < e.config.HistogramMin {
		micros = e.config.HistogramMin
	}
	if micros > e.config.HistogramMax {
		micros = e.config.HistogramMax
	}
	failed := o.Failed()

	e.mu.Lock()
	_ = e.latencyHist.RecordValue(micros)

	hist, ok := e.actionHists[o.Action]
	if !ok {
		hist = e.newHistogram()
		e.actionHists[o.Action] = hist
	}
	_ = hist.RecordValue(micros)

	ac, ok := e.actions[o.Action]
	if !ok {
		ac = &actionCounters{statusCodes: make(map[int]int64), failedChecks: make(map[string]int64)}
		e.actions[o.Action] = ac
	}
	ac.iterations++
	ac.statusCodes[o.StatusCode]++
	for _, label := range o.FailedChecks() {
		ac.failedChecks[label]++
	}

	e.iterations++
	e.totalBytes += o.Bytes
	e.statusClasses[StatusClass(o)]++
	if o.Err != nil {
		e.transportErrs++
	}
	if failed {
		e.failed++
		ac.failed++
	}
	e.buckets.record(failed)
	e.mu.Unlock()

	if o.CreatedKey != "" {
		for _, s := range e.sinks {
			s.Add(o.CreatedKey)
		}
	}
	for _, obs := range e.observers {
		obs.Observe(o)
	}
}

// StatusClass buckets an outcome as "2xx".."5xx", or "error" for
// transport failures.
func StatusClass(o action.Outcome) string {
	if o.Err != nil || o.StatusCode == 0 {
		return "error"
	}
	switch {
	case o.StatusCode < 200:
		return "1xx"
	case o.StatusCode < 300:
		return "2xx"
	case o.StatusCode < 400:
		return "3xx"
	case o.StatusCode < 500:
		return "4xx"
	default:
		return "5xx"
	}
}

func (e *Engine) newHistogram() *hdrhistogram.Histogram {
	return hdrhistogram.New(e.config.HistogramMin, e.config.HistogramMax, e.config.HistogramSigFigs)
}

func (e *Engine) emitBucket() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.buckets.emit(time.Now(), e.iterations, e.failed,
		micros(e.latencyHist.ValueAtQuantile(95)), e.ActiveVUs(), e.Phase())
}

// SetPhase records a phase transition.
func (e *Engine) SetPhase(phase Phase) {
	iterations := e.Iterations()

	e.phaseMu.Lock()
	defer e.phaseMu.Unlock()

	if e.currentPhase == phase {
		return
	}
	e.currentPhase = phase
	e.phaseHistory = append(e.phaseHistory, PhaseChange{
		Phase:      phase,
		Timestamp:  time.Now(),
		Iterations: iterations,
	})
	e.logger.Debug("phase changed", zap.String("phase", string(phase)))
}

// Phase returns the current phase.
func (e *Engine) Phase() Phase {
	e.phaseMu.RLock()
	defer e.phaseMu.RUnlock()
	return e.currentPhase
}

// PhaseHistory returns a copy of the phase transitions.
func (e *Engine) PhaseHistory() []PhaseChange {
	e.phaseMu.RLock()
	defer e.phaseMu.RUnlock()
	out := make([]PhaseChange, len(e.phaseHistory))
	copy(out, e.phaseHistory)
	return out
}

type vuGauge interface {
	SetActiveVUs(n int)
}

// SetActiveVUs updates the active VU gauge and any observer that tracks it.
func (e *Engine) SetActiveVUs(n int) {
	e.activeVUs.Store(int32(n))
	for _, obs := range e.observers {
		if g, ok := obs.(vuGauge); ok {
			g.SetActiveVUs(n)
		}
	}
}

// ActiveVUs returns the active VU gauge.
func (e *Engine) ActiveVUs() int {
	return int(e.activeVUs.Load())
}

// Iterations returns the number of aggregated outcomes.
func (e *Engine) Iterations() int64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.iterations
}

// Failed returns the number of failed iterations, the error counter.
func (e *Engine) Failed() int64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.failed
}

// Dropped returns the number of outcomes recorded after Stop.
func (e *Engine) Dropped() int64 {
	return e.dropped.Load()
}

// StartTime returns when the engine was created.
func (e *Engine) StartTime() time.Time {
	return e.startTime
}

// Snapshot returns a point-in-time view of all metrics.
func (e *Engine) Snapshot() *Snapshot {
	elapsed := time.Since(e.startTime)

	e.mu.RLock()
	s := &Snapshot{
		Iterations:    e.iterations,
		Failed:        e.failed,
		TransportErrs: e.transportErrs,
		TotalBytes:    e.totalBytes,
		Latency:       latencyStats(e.latencyHist),
		Actions:       make(map[string]ActionStats, len(e.actions)),
		StatusClasses: make(map[string]int64, len(e.statusClasses)),
	}
	for name, ac := range e.actions {
		s.Actions[name] = ActionStats{
			Iterations:   ac.iterations,
			Failed:       ac.failed,
			Latency:      latencyStats(e.actionHists[name]),
			StatusCodes:  copyMap(ac.statusCodes),
			FailedChecks: copyMap(ac.failedChecks),
		}
	}
	for k, v := range e.statusClasses {
		s.StatusClasses[k] = v
	}
	e.mu.RUnlock()

	if s.Iterations > 0 {
		s.ErrorRate = float64(s.Failed) / float64(s.Iterations)
	}
	if elapsed.Seconds() > 0 {
		s.RPS = float64(s.Iterations) / elapsed.Seconds()
	}
	s.Dropped = e.Dropped()
	s.ActiveVUs = e.ActiveVUs()
	s.Phase = e.Phase()
	s.Elapsed = elapsed
	s.StartTime = e.startTime
	s.Timestamp = time.Now()
	return s
}

// Summary reduces the aggregated state to threshold input. Extra
// percentiles are added to the standard 50/90/95/99 set.
//
// Percentiles report the lower edge of their histogram bucket, so a
// latency recorded below a "p95 < X" limit never reads as X or more.
func (e *Engine) Summary(percentiles ...float64) threshold.Sample {
	e.mu.RLock()
	defer e.mu.RUnlock()

	s := threshold.Sample{
		Count:       e.iterations,
		Failed:      e.failed,
		Elapsed:     time.Since(e.startTime),
		Percentiles: make(map[float64]time.Duration),
	}
	if e.iterations == 0 {
		return s
	}
	s.Min = micros(e.latencyHist.Min())
	s.Max = micros(e.latencyHist.Max())
	s.Mean = time.Duration(e.latencyHist.Mean() * float64(time.Microsecond))
	for _, p := range append([]float64{50, 90, 95, 99}, percentiles...) {
		s.Percentiles[p] = micros(lowestEquivalent(e.latencyHist, e.latencyHist.ValueAtQuantile(p)))
	}
	return s
}

// TimeSeries returns the emitted buckets in order.
func (e *Engine) TimeSeries() []TimeBucket {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.buckets.all()
}

// lowestEquivalent returns the smallest value h cannot tell apart from v.
// ValueAtQuantile reports the highest one.
func lowestEquivalent(h *hdrhistogram.Histogram, v int64) int64 {
	lo := v
	step := int64(1)
	for lo-step >= 0 && h.ValuesAreEquivalent(lo-step, v) {
		lo -= step
		step <<= 1
	}
	for ; step > 0; step >>= 1 {
		if lo-step >= 0 && h.ValuesAreEquivalent(lo-step, v) {
			lo -= step
		}
	}
	return lo
}

func latencyStats(h *hdrhistogram.Histogram) LatencyStats {
	if h == nil || h.TotalCount() == 0 {
		return LatencyStats{}
	}
	return LatencyStats{
		Min:    micros(h.Min()),
		Max:    micros(h.Max()),
		Mean:   time.Duration(h.Mean() * float64(time.Microsecond)),
		StdDev: time.Duration(h.StdDev() * float64(time.Microsecond)),
		P50:    micros(h.ValueAtQuantile(50)),
		P90:    micros(h.ValueAtQuantile(90)),
		P95:    micros(h.ValueAtQuantile(95)),
		P99:    micros(h.ValueAtQuantile(99)),
		Count:  h.TotalCount(),
	}
}

func micros(v int64) time.Duration {
	return time.Duration(v) * time.Microsecond
}

func copyMap[K comparable](m map[K]int64) map[K]int64 {
	out := make(map[K]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

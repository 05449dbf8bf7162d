package executor_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/shortload/internal/loadtest"
	"github.com/wesleyorama2/shortload/internal/loadtest/action"
	"github.com/wesleyorama2/shortload/internal/loadtest/executor"
	"github.com/wesleyorama2/shortload/internal/loadtest/metrics"
	"github.com/wesleyorama2/shortload/internal/loadtest/mix"
)

type outcomeLog struct {
	mu       sync.Mutex
	outcomes []action.Outcome
}

func (l *outcomeLog) Observe(o action.Outcome) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.outcomes = append(l.outcomes, o)
}

func (l *outcomeLog) all() []action.Outcome {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]action.Outcome(nil), l.outcomes...)
}

func newHarness(t *testing.T, handler http.HandlerFunc) (*loadtest.VUScheduler, *metrics.Engine, *outcomeLog) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	log := &outcomeLog{}
	m := metrics.NewEngine(metrics.DefaultConfig(), metrics.WithObserver(log))
	s := loadtest.NewVUScheduler(loadtest.SchedulerConfig{
		BaseURL:  server.URL,
		Selector: mix.Gate{Probability: 0.1, Primary: action.NameCreate, Fallback: action.NameResolve},
		Actions:  action.NewSet(&action.Create{}, &action.Resolve{}),
		HTTP:     loadtest.DefaultHTTPClientConfig(),
		Seed:     42,
	}, m, nil)
	return s, m, log
}

func shortenerHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPost {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"short_url":"http://s/abc"}`))
		return
	}
	w.WriteHeader(http.StatusNotFound)
}

func TestRampingVUs_FullProfile(t *testing.T) {
	scheduler, m, _ := newHarness(t, shortenerHandler)

	exec := executor.NewRampingVUs(nil)
	require.NoError(t, exec.Init(context.Background(), &executor.Config{
		Type: executor.TypeRampingVUs,
		Stages: []executor.Stage{
			{Duration: 150 * time.Millisecond, Target: 4},
			{Duration: 200 * time.Millisecond, Target: 4},
			{Duration: 150 * time.Millisecond, Target: 0},
		},
		Pacing:             &executor.PacingConfig{Type: executor.PacingConstant, Duration: 5 * time.Millisecond},
		ControllerInterval: 10 * time.Millisecond,
	}))

	var maxActive atomic.Int32
	stopWatch := make(chan struct{})
	go func() {
		for {
			select {
			case <-stopWatch:
				return
			case <-time.After(2 * time.Millisecond):
				if n := int32(exec.GetActiveVUs()); n > maxActive.Load() {
					maxActive.Store(n)
				}
			}
		}
	}()

	start := time.Now()
	require.NoError(t, exec.Run(context.Background(), scheduler, m))
	close(stopWatch)
	m.Stop()

	assert.GreaterOrEqual(t, time.Since(start), 500*time.Millisecond)
	assert.LessOrEqual(t, maxActive.Load(), int32(4))
	assert.Positive(t, maxActive.Load())
	assert.Equal(t, 0, exec.GetActiveVUs())
	assert.Equal(t, 0, scheduler.GetActiveVUCount())

	stats := exec.GetStats()
	assert.Positive(t, stats.Iterations)
	assert.Equal(t, stats.Iterations, m.Iterations())
	assert.Equal(t, 3, stats.TotalStages)
	assert.Equal(t, 1.0, exec.GetProgress())

	var phases []metrics.Phase
	for _, pc := range m.PhaseHistory() {
		phases = append(phases, pc.Phase)
	}
	assert.Equal(t, []metrics.Phase{
		metrics.PhaseRampUp, metrics.PhaseSteady, metrics.PhaseRampDown, metrics.PhaseDone,
	}, phases)
}

func TestRampingVUs_InFlightRequestsFinish(t *testing.T) {
	scheduler, m, log := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(150 * time.Millisecond)
		shortenerHandler(w, r)
	})

	exec := executor.NewRampingVUs(nil)
	require.NoError(t, exec.Init(context.Background(), &executor.Config{
		Type: executor.TypeRampingVUs,
		Stages: []executor.Stage{
			{Duration: 0, Target: 3},
			{Duration: 50 * time.Millisecond, Target: 3},
		},
		GracefulStop:       5 * time.Second,
		ControllerInterval: 10 * time.Millisecond,
	}))

	require.NoError(t, exec.Run(context.Background(), scheduler, m))
	m.Stop()

	outcomes := log.all()
	require.Len(t, outcomes, 3)
	for _, o := range outcomes {
		assert.NoError(t, o.Err)
		assert.False(t, o.Failed())
	}
}

func TestRampingVUs_GracefulStopExpiry(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	scheduler, m, log := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})

	exec := executor.NewRampingVUs(nil)
	require.NoError(t, exec.Init(context.Background(), &executor.Config{
		Type:               executor.TypeRampingVUs,
		Stages:             []executor.Stage{{Duration: 0, Target: 2}, {Duration: 30 * time.Millisecond, Target: 2}},
		GracefulStop:       50 * time.Millisecond,
		ControllerInterval: 10 * time.Millisecond,
	}))

	start := time.Now()
	require.NoError(t, exec.Run(context.Background(), scheduler, m))
	m.Stop()

	assert.Less(t, time.Since(start), 2*time.Second)
	outcomes := log.all()
	require.Len(t, outcomes, 2)
	for _, o := range outcomes {
		assert.Error(t, o.Err)
		assert.True(t, o.Failed())
	}
}

func TestRampingVUs_AbortStopsSpawning(t *testing.T) {
	scheduler, m, _ := newHarness(t, shortenerHandler)

	exec := executor.NewRampingVUs(nil)
	require.NoError(t, exec.Init(context.Background(), &executor.Config{
		Type:               executor.TypeRampingVUs,
		Stages:             []executor.Stage{{Duration: time.Minute, Target: 100}},
		ControllerInterval: 10 * time.Millisecond,
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	require.NoError(t, exec.Run(ctx, scheduler, m))
	m.Stop()

	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, metrics.PhaseDone, m.Phase())
	assert.Less(t, exec.GetStats().TargetVUs, 100)
}

func TestRampingVUs_StopEndsRun(t *testing.T) {
	scheduler, m, _ := newHarness(t, shortenerHandler)

	exec := executor.NewRampingVUs(nil)
	require.NoError(t, exec.Init(context.Background(), &executor.Config{
		Type:               executor.TypeRampingVUs,
		Stages:             []executor.Stage{{Duration: 0, Target: 2}, {Duration: time.Minute, Target: 2}},
		ControllerInterval: 10 * time.Millisecond,
	}))

	done := make(chan error, 1)
	go func() { done <- exec.Run(context.Background(), scheduler, m) }()

	time.Sleep(50 * time.Millisecond)
	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, exec.Stop(stopCtx))

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
	m.Stop()
}

func TestRampingVUs_InitErrors(t *testing.T) {
	exec := executor.NewRampingVUs(nil)
	assert.Error(t, exec.Init(context.Background(), &executor.Config{Type: "constant-vus"}))
	assert.Error(t, exec.Init(context.Background(), &executor.Config{Type: executor.TypeRampingVUs}))
	assert.Equal(t, executor.TypeRampingVUs, exec.Type())
	assert.Equal(t, 0.0, exec.GetProgress())

	scheduler, m, _ := newHarness(t, shortenerHandler)
	defer m.Stop()
	assert.Error(t, exec.Run(context.Background(), scheduler, m))
}

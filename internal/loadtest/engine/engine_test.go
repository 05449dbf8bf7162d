package engine_test

import (
	"context"
	"errors"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/shortload/internal/loadtest/action"
	"github.com/wesleyorama2/shortload/internal/loadtest/config"
	"github.com/wesleyorama2/shortload/internal/loadtest/engine"
	"github.com/wesleyorama2/shortload/internal/loadtest/metrics"
	"github.com/wesleyorama2/shortload/internal/loadtest/threshold"
	"github.com/wesleyorama2/shortload/internal/stub"
)

func stubTarget(t *testing.T, cfg stub.Config) string {
	t.Helper()
	ts := httptest.NewServer(stub.New(cfg, nil).Routes())
	t.Cleanup(ts.Close)
	return ts.URL
}

func shortRun(baseURL string) *config.TestConfig {
	cfg := config.Default()
	cfg.Name = "short"
	cfg.Settings.BaseURL = baseURL
	cfg.Settings.Seed = 7
	cfg.Stages = []config.StageConfig{
		{Duration: "200ms", Target: 3},
		{Duration: "200ms", Target: 3},
		{Duration: "100ms", Target: 0},
	}
	cfg.Mix.Gate.Probability = 0.3
	cfg.Pacing = &config.PacingConfig{Type: "constant", Duration: "5ms"}
	cfg.GracefulStop = "1s"
	return cfg
}

func newEngine(t *testing.T, cfg *config.TestConfig, opts ...engine.Option) *engine.Engine {
	t.Helper()
	opts = append([]engine.Option{engine.WithControllerInterval(10 * time.Millisecond)}, opts...)
	eng, err := engine.New(cfg, opts...)
	require.NoError(t, err)
	return eng
}

type countingObserver struct {
	n atomic.Int64
}

func (c *countingObserver) Observe(action.Outcome) { c.n.Add(1) }

func TestRun_Pass(t *testing.T) {
	obs := &countingObserver{}
	eng := newEngine(t, shortRun(stubTarget(t, stub.Config{})), engine.WithObserver(obs))

	report, err := eng.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, threshold.StatusPass, report.Verdict, report.Reason)
	assert.Equal(t, engine.ExitPass, report.ExitCode())
	assert.True(t, report.Passed())
	assert.NotEmpty(t, report.RunID)
	assert.Greater(t, report.Iterations, int64(threshold.DefaultMinSamples))
	assert.Equal(t, report.Iterations, obs.n.Load())
	assert.Equal(t, report.Iterations, report.ActionCounts[action.NameCreate]+report.ActionCounts[action.NameResolve])
	assert.Positive(t, report.ActionCounts[action.NameCreate])
	assert.Positive(t, report.ActionCounts[action.NameResolve])
	assert.Zero(t, report.ErrorRate)
	assert.Zero(t, report.Metrics.Dropped)
	assert.False(t, report.Aborted)
	assert.Len(t, report.Thresholds, 2)

	require.NotEmpty(t, report.Phases)
	assert.Equal(t, metrics.PhaseDone, report.Phases[len(report.Phases)-1].Phase)
	assert.False(t, eng.Running())
}

func TestRun_FailNamesBreachedThreshold(t *testing.T) {
	eng := newEngine(t, shortRun(stubTarget(t, stub.Config{ErrorRate: 1, Seed: 1})))

	report, err := eng.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, threshold.StatusFail, report.Verdict)
	assert.Equal(t, engine.ExitFail, report.ExitCode())
	assert.Contains(t, report.Breached, "errors: rate < 0.1")
	assert.NotContains(t, report.Breached, "http_req_duration: p95 < 500ms")
	assert.InDelta(t, 1.0, report.ErrorRate, 1e-9)
}

func TestRun_InconclusiveWithTooFewOutcomes(t *testing.T) {
	cfg := shortRun(stubTarget(t, stub.Config{}))
	cfg.MinSamples = 1_000_000

	report, err := newEngine(t, cfg).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, threshold.StatusInconclusive, report.Verdict)
	assert.Equal(t, engine.ExitInconclusive, report.ExitCode())
	assert.Empty(t, report.Breached)
	assert.NotEmpty(t, report.Reason)
}

func TestRun_ReusesCreatedKeys(t *testing.T) {
	cfg := shortRun(stubTarget(t, stub.Config{}))
	cfg.Mix.Gate.Probability = 0.5
	cfg.Settings.ReuseProbability = 1

	report, err := newEngine(t, cfg).Run(context.Background())
	require.NoError(t, err)

	resolve := report.Metrics.Actions[action.NameResolve]
	assert.Positive(t, resolve.StatusCodes[200], "expected hits on created keys")
}

func TestRun_AbortEvaluatesRecordedOutcomes(t *testing.T) {
	cfg := shortRun(stubTarget(t, stub.Config{}))
	cfg.Stages = []config.StageConfig{{Duration: "0s", Target: 2}, {Duration: "30s", Target: 2}}
	eng := newEngine(t, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	start := time.Now()
	report, err := eng.Run(ctx)
	require.NoError(t, err)

	assert.Less(t, time.Since(start), 5*time.Second)
	assert.True(t, report.Aborted)
	assert.Positive(t, report.Iterations)
	assert.NotEqual(t, "", string(report.Verdict))
}

func TestRun_AlreadyRunning(t *testing.T) {
	cfg := shortRun(stubTarget(t, stub.Config{}))
	cfg.Stages = []config.StageConfig{{Duration: "30s", Target: 1}}
	eng := newEngine(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = eng.Run(ctx)
	}()

	require.Eventually(t, eng.Running, 2*time.Second, 5*time.Millisecond)
	_, err := eng.Run(context.Background())
	assert.ErrorIs(t, err, engine.ErrAlreadyRunning)

	cancel()
	wg.Wait()
	assert.False(t, eng.Running())
}

func TestRun_StopEndsEarly(t *testing.T) {
	cfg := shortRun(stubTarget(t, stub.Config{}))
	cfg.Stages = []config.StageConfig{{Duration: "0s", Target: 1}, {Duration: "30s", Target: 1}}
	eng := newEngine(t, cfg)

	done := make(chan *engine.Report, 1)
	go func() {
		r, _ := eng.Run(context.Background())
		done <- r
	}()

	require.Eventually(t, func() bool {
		s := eng.Snapshot()
		return s != nil && s.Iterations > 0
	}, 2*time.Second, 5*time.Millisecond)

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, eng.Stop(stopCtx))

	select {
	case r := <-done:
		require.NotNil(t, r)
		assert.Positive(t, r.Iterations)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
}

func TestRun_ProgressCallback(t *testing.T) {
	var calls atomic.Int32
	eng := newEngine(t, shortRun(stubTarget(t, stub.Config{})),
		engine.WithProgress(func(p engine.Progress) {
			calls.Add(1)
			assert.NotNil(t, p.Metrics)
			assert.NotNil(t, p.Executor)
		}, 50*time.Millisecond),
	)

	_, err := eng.Run(context.Background())
	require.NoError(t, err)
	assert.Positive(t, calls.Load())
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Settings.BaseURL = "not a url"

	_, err := engine.New(cfg)
	require.Error(t, err)
	var verrs *config.ValidationErrors
	assert.True(t, errors.As(err, &verrs))

	_, err = engine.New(nil)
	assert.Error(t, err)
}

func TestExitCodeFor(t *testing.T) {
	assert.Equal(t, 0, engine.ExitCodeFor(threshold.StatusPass))
	assert.Equal(t, 1, engine.ExitCodeFor(threshold.StatusFail))
	assert.Equal(t, 2, engine.ExitCodeFor(threshold.StatusInconclusive))
	assert.Equal(t, 3, engine.ExitCodeFor(""))

	var r *engine.Report
	assert.Equal(t, engine.ExitError, r.ExitCode())
}

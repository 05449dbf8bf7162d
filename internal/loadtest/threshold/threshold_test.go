package threshold_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/shortload/internal/loadtest/threshold"
)

func referenceThresholds(t *testing.T) []threshold.Threshold {
	t.Helper()
	ts, err := threshold.ParseAll(map[string][]string{
		threshold.MetricDuration: {"p95 < 500ms"},
		threshold.MetricErrors:   {"rate < 0.1"},
	})
	require.NoError(t, err)
	return ts
}

func sample(count, failed int64, p95 time.Duration) threshold.Sample {
	return threshold.Sample{
		Count:   count,
		Failed:  failed,
		Elapsed: time.Minute,
		Min:     time.Millisecond,
		Max:     p95 + 100*time.Millisecond,
		Mean:    p95 / 2,
		Percentiles: map[float64]time.Duration{
			50: p95 / 2,
			90: p95 - time.Millisecond,
			95: p95,
			99: p95 + 50*time.Millisecond,
		},
	}
}

func TestEvaluate_ReferenceVerdicts(t *testing.T) {
	ts := referenceThresholds(t)

	tests := []struct {
		name         string
		sample       threshold.Sample
		wantStatus   threshold.Status
		wantBreached []string
	}{
		{
			name:       "within both thresholds",
			sample:     sample(1000, 50, 480*time.Millisecond),
			wantStatus: threshold.StatusPass,
		},
		{
			name:         "latency breached",
			sample:       sample(1000, 50, 520*time.Millisecond),
			wantStatus:   threshold.StatusFail,
			wantBreached: []string{"http_req_duration: p95 < 500ms"},
		},
		{
			name:         "error rate breached",
			sample:       sample(1000, 120, 480*time.Millisecond),
			wantStatus:   threshold.StatusFail,
			wantBreached: []string{"errors: rate < 0.1"},
		},
		{
			name:         "both breached",
			sample:       sample(1000, 120, 520*time.Millisecond),
			wantStatus:   threshold.StatusFail,
			wantBreached: []string{"errors: rate < 0.1", "http_req_duration: p95 < 500ms"},
		},
		{
			name:         "boundary latency fails",
			sample:       sample(1000, 0, 500*time.Millisecond),
			wantStatus:   threshold.StatusFail,
			wantBreached: []string{"http_req_duration: p95 < 500ms"},
		},
		{
			name:       "zero outcomes",
			sample:     threshold.Sample{},
			wantStatus: threshold.StatusInconclusive,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := threshold.Evaluate(tt.sample, ts, threshold.DefaultMinSamples)
			assert.Equal(t, tt.wantStatus, v.Status)
			assert.Equal(t, tt.wantBreached, v.Breached)
			assert.Len(t, v.Results, 2)
		})
	}
}

func TestEvaluate_ErrorRateBoundary(t *testing.T) {
	ts := referenceThresholds(t)
	v := threshold.Evaluate(sample(100, 10, 100*time.Millisecond), ts, 1)
	assert.Equal(t, threshold.StatusFail, v.Status)
	assert.Equal(t, []string{"errors: rate < 0.1"}, v.Breached)
}

func TestEvaluate_Inconclusive(t *testing.T) {
	ts := referenceThresholds(t)

	v := threshold.Evaluate(sample(9, 9, time.Second), ts, 10)
	assert.Equal(t, threshold.StatusInconclusive, v.Status)
	assert.Empty(t, v.Breached)
	assert.Contains(t, v.Reason, "9 outcomes")

	// minSamples is never below one, so an empty run is always inconclusive.
	v = threshold.Evaluate(threshold.Sample{}, nil, 0)
	assert.Equal(t, threshold.StatusInconclusive, v.Status)

	v = threshold.Evaluate(sample(10, 0, time.Millisecond), ts, 10)
	assert.Equal(t, threshold.StatusPass, v.Status)
}

func TestEvaluate_FromRawDurations(t *testing.T) {
	ts := referenceThresholds(t)

	latencies := make([]time.Duration, 100)
	for i := range latencies {
		latencies[i] = time.Duration(i+1) * 5 * time.Millisecond // 5ms..500ms
	}
	s := threshold.SampleFromDurations(latencies, 5, time.Minute)
	assert.Equal(t, 475*time.Millisecond, s.Percentiles[95])
	assert.Equal(t, 5*time.Millisecond, s.Min)
	assert.Equal(t, 500*time.Millisecond, s.Max)

	v := threshold.Evaluate(s, ts, threshold.DefaultMinSamples)
	assert.Equal(t, threshold.StatusPass, v.Status)
	assert.InDelta(t, 475, v.Results[1].Actual, 0.001)
}

func TestParse(t *testing.T) {
	tests := []struct {
		metric     string
		expr       string
		aggregate  string
		percentile float64
		op         string
		value      float64
	}{
		{threshold.MetricDuration, "p95 < 500ms", "p95", 95, "<", 500},
		{threshold.MetricDuration, "p(99.9)<=2s", "p(99.9)", 99.9, "<=", 2000},
		{threshold.MetricDuration, "avg < 250", "avg", 0, "<", 250},
		{threshold.MetricDuration, "med != 1.5s", "med", 50, "!=", 1500},
		{threshold.MetricDuration, "max<1m", "max", 0, "<", 60000},
		{threshold.MetricErrors, "rate < 0.1", "rate", 0, "<", 0.1},
		{threshold.MetricFailed, "count == 0", "count", 0, "==", 0},
		{threshold.MetricReqs, "rate >= 100", "rate", 0, ">=", 100},
	}

	for _, tt := range tests {
		t.Run(tt.metric+" "+tt.expr, func(t *testing.T) {
			th, err := threshold.Parse(tt.metric, tt.expr)
			require.NoError(t, err)
			assert.Equal(t, tt.aggregate, th.Aggregate)
			assert.Equal(t, tt.percentile, th.Percentile)
			assert.Equal(t, tt.op, th.Operator)
			assert.InDelta(t, tt.value, th.Value, 1e-9)
		})
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		metric string
		expr   string
	}{
		{threshold.MetricDuration, "p95"},
		{threshold.MetricDuration, "p95 << 500ms"},
		{threshold.MetricDuration, "p95 < fast"},
		{threshold.MetricDuration, "p(150) < 1s"},
		{threshold.MetricDuration, "rate < 1"},
		{threshold.MetricErrors, "p95 < 0.1"},
		{threshold.MetricErrors, "rate < lots"},
		{"latency", "p95 < 500ms"},
	}

	for _, tt := range tests {
		t.Run(tt.metric+" "+tt.expr, func(t *testing.T) {
			_, err := threshold.Parse(tt.metric, tt.expr)
			assert.Error(t, err)
		})
	}
}

func TestEvaluate_OtherAggregates(t *testing.T) {
	ts, err := threshold.ParseAll(map[string][]string{
		threshold.MetricReqs:   {"count > 500", "rate > 10"},
		threshold.MetricFailed: {"count < 100"},
	})
	require.NoError(t, err)

	s := sample(1200, 30, 100*time.Millisecond) // 20/s over one minute
	v := threshold.Evaluate(s, ts, 1)
	assert.Equal(t, threshold.StatusPass, v.Status)

	s.Failed = 100
	v = threshold.Evaluate(s, ts, 1)
	assert.Equal(t, threshold.StatusFail, v.Status)
	assert.Equal(t, []string{"http_req_failed: count < 100"}, v.Breached)
}

func TestEvaluate_MissingPercentile(t *testing.T) {
	th, err := threshold.Parse(threshold.MetricDuration, "p(97) < 1s")
	require.NoError(t, err)

	v := threshold.Evaluate(sample(100, 0, time.Millisecond), []threshold.Threshold{th}, 1)
	assert.Equal(t, threshold.StatusFail, v.Status)
	assert.Contains(t, v.Results[0].Message, "not available")
}

func TestPercentiles(t *testing.T) {
	th, err := threshold.Parse(threshold.MetricDuration, "p(97.5) < 1s")
	require.NoError(t, err)
	assert.Equal(t, []float64{50, 90, 95, 97.5, 99}, threshold.Percentiles([]threshold.Threshold{th}))
}

package output

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/shortload/internal/loadtest/engine"
	"github.com/wesleyorama2/shortload/internal/loadtest/executor"
	"github.com/wesleyorama2/shortload/internal/loadtest/metrics"
	"github.com/wesleyorama2/shortload/internal/loadtest/threshold"
)

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		duration time.Duration
		expected string
	}{
		{500 * time.Millisecond, "500ms"},
		{1 * time.Second, "1.0s"},
		{1*time.Minute + 30*time.Second, "1m 30s"},
		{1*time.Hour + 2*time.Minute + 3*time.Second, "1h 02m 03s"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, formatDuration(tt.duration))
		})
	}
}

func TestFormatDurationShort(t *testing.T) {
	tests := []struct {
		duration time.Duration
		expected string
	}{
		{0, "0ms"},
		{500 * time.Microsecond, "500µs"},
		{50 * time.Millisecond, "50ms"},
		{1500 * time.Millisecond, "1.50s"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, formatDurationShort(tt.duration))
		})
	}
}

func TestFormatNumber(t *testing.T) {
	tests := []struct {
		number   int64
		expected string
	}{
		{0, "0"},
		{999, "999"},
		{1000, "1,000"},
		{123456, "123,456"},
		{1234567, "1,234,567"},
		{-1234, "-1,234"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, formatNumber(tt.number))
		})
	}
}

func TestRenderProgressBar(t *testing.T) {
	assert.Equal(t, "["+strings.Repeat(progressEmpty, 10)+"]", renderProgressBar(0, 10))
	assert.Equal(t, "["+strings.Repeat(progressFilled, 5)+strings.Repeat(progressEmpty, 5)+"]", renderProgressBar(0.5, 10))
	assert.Equal(t, "["+strings.Repeat(progressFilled, 10)+"]", renderProgressBar(1.5, 10))
}

func TestVisibleLen(t *testing.T) {
	assert.Equal(t, 5, visibleLen("hello"))
	assert.Equal(t, 5, visibleLen("\033[1;32mhello\033[0m"))
	assert.Equal(t, 3, visibleLen("µs│"))
}

func sampleReport(status threshold.Status) *engine.Report {
	r := &engine.Report{
		RunID:      "run-1",
		Name:       "smoke",
		Duration:   5 * time.Minute,
		Verdict:    status,
		Iterations: 1234,
		ErrorRate:  0.02,
		ActionCounts: map[string]int64{
			"create":  6,
			"resolve": 1228,
		},
		Metrics: &metrics.Snapshot{
			Iterations: 1234,
			Latency: metrics.LatencyStats{
				Min: time.Millisecond,
				P50: 10 * time.Millisecond,
				P95: 120 * time.Millisecond,
				Max: 400 * time.Millisecond,
			},
			Actions: map[string]metrics.ActionStats{
				"create":  {Iterations: 6},
				"resolve": {Iterations: 1228, Failed: 25},
			},
		},
		Thresholds: []threshold.Result{
			{Metric: "http_req_duration", Expression: "p95 < 500ms", Passed: true, Value: "120ms"},
			{Metric: "errors", Expression: "rate < 0.01", Passed: status != threshold.StatusFail, Value: "0.02"},
		},
	}
	switch status {
	case threshold.StatusFail:
		r.Breached = []string{"errors: rate < 0.01"}
	case threshold.StatusInconclusive:
		r.Reason = "only 3 outcomes recorded, need 10"
	}
	return r
}

func TestPrintSummary(t *testing.T) {
	tests := []struct {
		status   threshold.Status
		contains []string
	}{
		{threshold.StatusPass, []string{"PASS", "✓ http_req_duration: p95 < 500ms (actual: 120ms)"}},
		{threshold.StatusFail, []string{"FAIL: breached errors: rate < 0.01", "✗ errors: rate < 0.01"}},
		{threshold.StatusInconclusive, []string{"INCONCLUSIVE: only 3 outcomes recorded, need 10"}},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			var buf bytes.Buffer
			NewConsole(ConsoleConfig{Writer: &buf}).PrintSummary(sampleReport(tt.status))

			out := buf.String()
			assert.NotContains(t, out, "\033[", "no escapes without a terminal")
			assert.Contains(t, out, "smoke - Completed")
			assert.Contains(t, out, "1,234")
			assert.Contains(t, out, "resolve")
			assert.Contains(t, out, "Latency Distribution:")
			for _, s := range tt.contains {
				assert.Contains(t, out, s)
			}
		})
	}
}

func TestPrintSummary_Quiet(t *testing.T) {
	var buf bytes.Buffer
	NewConsole(ConsoleConfig{Writer: &buf, Quiet: true}).PrintSummary(sampleReport(threshold.StatusFail))

	assert.Equal(t, "FAIL: breached errors: rate < 0.01\n", buf.String())
}

func TestPrintSummary_Aborted(t *testing.T) {
	r := sampleReport(threshold.StatusPass)
	r.Aborted = true

	var buf bytes.Buffer
	NewConsole(ConsoleConfig{Writer: &buf}).PrintSummary(r)
	assert.Contains(t, buf.String(), "smoke - Aborted")
}

func TestUpdate_NonTTYWritesOneLinePerCall(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(ConsoleConfig{Writer: &buf})
	require.False(t, c.IsTTY())

	p := engine.Progress{
		Percent: 50,
		Metrics: &metrics.Snapshot{
			Iterations: 100,
			Failed:     2,
			ErrorRate:  0.02,
			RPS:        9.5,
			ActiveVUs:  4,
			Phase:      metrics.PhaseSteady,
			Elapsed:    30 * time.Second,
		},
	}
	c.Update(p)
	c.Update(p)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "Progress: 50%")
	assert.Contains(t, lines[0], "VUs: 4")
	assert.Contains(t, lines[0], "Errors: 2 (2.0%)")
}

func TestUpdate_TTYRedrawsInPlace(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(ConsoleConfig{Writer: &buf, ForceTTY: true, NoColor: true})

	p := engine.Progress{
		Percent:  25,
		Metrics:  &metrics.Snapshot{Iterations: 10, ActiveVUs: 2, Phase: metrics.PhaseRampUp},
		Executor: &executor.Stats{TargetVUs: 5, TotalStages: 3, TotalDuration: time.Minute},
	}
	c.Update(p)
	first := buf.Len()
	assert.Contains(t, buf.String(), "VUs:     2 / 5")
	assert.NotContains(t, buf.String(), "\033[")

	c.Update(p)
	assert.Contains(t, buf.String()[first:], "\033[")
}

func TestUpdate_Quiet(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(ConsoleConfig{Writer: &buf, Quiet: true})
	c.PrintHeader("smoke", "http://localhost:8080", time.Minute, 50)
	c.Update(engine.Progress{Metrics: &metrics.Snapshot{}})
	assert.Empty(t, buf.String())
}

func TestWriteJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.json")
	require.NoError(t, WriteJSON(sampleReport(threshold.StatusFail), path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "FAIL", decoded["verdict"])
	assert.Equal(t, []any{"errors: rate < 0.01"}, decoded["breached"])
}

func TestRenderHTML(t *testing.T) {
	r := sampleReport(threshold.StatusFail)
	r.TimeSeries = []metrics.TimeBucket{
		{Timestamp: time.Unix(0, 0), IntervalRPS: 12.5, LatencyP95: 40 * time.Millisecond, ActiveVUs: 3, Phase: metrics.PhaseRampUp},
	}

	page, err := RenderHTML(r)
	require.NoError(t, err)

	html := string(page)
	assert.Contains(t, html, "<title>smoke - shortload report</title>")
	assert.Contains(t, html, `class="verdict FAIL"`)
	assert.Contains(t, html, "breached errors: rate &lt; 0.01")
	assert.Contains(t, html, "<td>resolve</td>")
	assert.Contains(t, html, `"p95":40`)
	assert.Contains(t, html, `"phase":"ramp-up"`)

	_, err = RenderHTML(nil)
	assert.Error(t, err)
}

func TestWriteHTML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.html")
	require.NoError(t, WriteHTML(sampleReport(threshold.StatusPass), path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `class="verdict PASS"`)
}

package engine

import (
	"time"

	"github.com/wesleyorama2/shortload/internal/loadtest/metrics"
	"github.com/wesleyorama2/shortload/internal/loadtest/threshold"
)

// Process exit codes.
const (
	ExitPass         = 0
	ExitFail         = 1
	ExitInconclusive = 2
	ExitError        = 3
)

// Report is the result of one run.
type Report struct {
	RunID       string    `json:"runId"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	BaseURL     string    `json:"baseUrl"`
	Seed        uint64    `json:"seed,omitempty"`
	StartTime   time.Time `json:"startTime"`
	EndTime     time.Time `json:"endTime"`
	// Duration is wall time including graceful stop.
	Duration time.Duration `json:"duration"`
	Aborted  bool          `json:"aborted,omitempty"`

	Verdict  threshold.Status `json:"verdict"`
	Reason   string           `json:"reason,omitempty"`
	Breached []string         `json:"breached,omitempty"`

	P95          time.Duration    `json:"p95"`
	ErrorRate    float64          `json:"errorRate"`
	Iterations   int64            `json:"iterations"`
	ActionCounts map[string]int64 `json:"actionCounts"`

	Metrics    *metrics.Snapshot     `json:"metrics"`
	Thresholds []threshold.Result    `json:"thresholds"`
	Phases     []metrics.PhaseChange `json:"phases,omitempty"`
	TimeSeries []metrics.TimeBucket  `json:"timeSeries,omitempty"`
}

// Passed reports a PASS verdict.
func (r *Report) Passed() bool {
	return r != nil && r.Verdict == threshold.StatusPass
}

// ExitCode maps the verdict to a process exit code.
func (r *Report) ExitCode() int {
	if r == nil {
		return ExitError
	}
	return ExitCodeFor(r.Verdict)
}

// ExitCodeFor maps a verdict status to a process exit code.
func ExitCodeFor(s threshold.Status) int {
	switch s {
	case threshold.StatusPass:
		return ExitPass
	case threshold.StatusFail:
		return ExitFail
	case threshold.StatusInconclusive:
		return ExitInconclusive
	default:
		return ExitError
	}
}

package metrics

import "time"

// Phase is a stage of the run as seen by the executor.
type Phase string

const (
	PhaseInit     Phase = "init"
	PhaseRampUp   Phase = "ramp-up"
	PhaseSteady   Phase = "steady"
	PhaseRampDown Phase = "ramp-down"
	PhaseDone     Phase = "done"
)

// PhaseChange records when a phase was entered.
type PhaseChange struct {
	Phase      Phase     `json:"phase"`
	Timestamp  time.Time `json:"timestamp"`
	Iterations int64     `json:"iterations"`
}

// Config tunes the engine.
type Config struct {
	// BufferSize is the outcome channel capacity (default: 4096).
	BufferSize int

	// BucketInterval is the time-series resolution (default: 1s).
	BucketInterval time.Duration

	// MaxBuckets bounds the time-series ring (default: 3600).
	MaxBuckets int

	// Histogram range in microseconds and precision.
	HistogramMin     int64
	HistogramMax     int64
	HistogramSigFigs int
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		BufferSize:       4096,
		BucketInterval:   time.Second,
		MaxBuckets:       3600,
		HistogramMin:     1,
		HistogramMax:     3600000000, // 1 hour in microseconds
		HistogramSigFigs: 3,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.BufferSize <= 0 {
		c.BufferSize = d.BufferSize
	}
	if c.BucketInterval <= 0 {
		c.BucketInterval = d.BucketInterval
	}
	if c.MaxBuckets <= 0 {
		c.MaxBuckets = d.MaxBuckets
	}
	if c.HistogramMin <= 0 {
		c.HistogramMin = d.HistogramMin
	}
	if c.HistogramMax <= c.HistogramMin {
		c.HistogramMax = d.HistogramMax
	}
	if c.HistogramSigFigs <= 0 {
		c.HistogramSigFigs = d.HistogramSigFigs
	}
	return c
}

// LatencyStats summarizes a latency distribution.
type LatencyStats struct {
	Min    time.Duration `json:"min"`
	Max    time.Duration `json:"max"`
	Mean   time.Duration `json:"mean"`
	StdDev time.Duration `json:"stdDev"`
	P50    time.Duration `json:"p50"`
	P90    time.Duration `json:"p90"`
	P95    time.Duration `json:"p95"`
	P99    time.Duration `json:"p99"`
	Count  int64         `json:"count"`
}

// ActionStats holds per-action totals.
type ActionStats struct {
	Iterations   int64            `json:"iterations"`
	Failed       int64            `json:"failed"`
	Latency      LatencyStats     `json:"latency"`
	StatusCodes  map[int]int64    `json:"statusCodes"`
	FailedChecks map[string]int64 `json:"failedChecks,omitempty"`
}

// Snapshot is a point-in-time view of the run.
type Snapshot struct {
	Iterations    int64                  `json:"iterations"`
	Failed        int64                  `json:"failed"`
	TransportErrs int64                  `json:"transportErrors"`
	Dropped       int64                  `json:"dropped"`
	TotalBytes    int64                  `json:"totalBytes"`
	ErrorRate     float64                `json:"errorRate"`
	RPS           float64                `json:"rps"`
	Latency       LatencyStats           `json:"latency"`
	Actions       map[string]ActionStats `json:"actions"`
	StatusClasses map[string]int64       `json:"statusClasses"`
	ActiveVUs     int                    `json:"activeVUs"`
	Phase         Phase                  `json:"phase"`
	Elapsed       time.Duration          `json:"elapsed"`
	StartTime     time.Time              `json:"startTime"`
	Timestamp     time.Time              `json:"timestamp"`
}

// ActionCounts returns iterations per action.
func (s *Snapshot) ActionCounts() map[string]int64 {
	out := make(map[string]int64, len(s.Actions))
	for name, a := range s.Actions {
		out[name] = a.Iterations
	}
	return out
}

// TimeBucket is one interval of the run time series.
type TimeBucket struct {
	Timestamp         time.Time     `json:"timestamp"`
	Iterations        int64         `json:"iterations"`
	Failed            int64         `json:"failed"`
	IntervalRequests  int64         `json:"intervalRequests"`
	IntervalRPS       float64       `json:"intervalRps"`
	IntervalErrorRate float64       `json:"intervalErrorRate"`
	LatencyP95        time.Duration `json:"latencyP95"`
	ActiveVUs         int           `json:"activeVUs"`
	Phase             Phase         `json:"phase"`
}

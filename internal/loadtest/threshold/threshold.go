// Package threshold turns threshold expressions into a run verdict.
//
// Evaluation is a pure function over an aggregated Sample. It never fails:
// bad expressions are rejected by Parse at configuration time, and a run
// with too few outcomes is reported as inconclusive rather than passed.
package threshold

import (
	"fmt"
	"math"
	"regexp"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Metric names understood by Parse.
const (
	MetricDuration = "http_req_duration"
	MetricErrors   = "errors"
	MetricFailed   = "http_req_failed"
	MetricReqs     = "http_reqs"
)

// DefaultMinSamples is the smallest sample that can produce a verdict.
const DefaultMinSamples = 10

// Status is the overall run verdict.
type Status string

const (
	StatusPass         Status = "PASS"
	StatusFail         Status = "FAIL"
	StatusInconclusive Status = "INCONCLUSIVE"
)

var exprPattern = regexp.MustCompile(`^(\w+(?:\(\s*[0-9.]+\s*\))?)\s*([<>=!]+)\s*(.+)$`)

var percentilePattern = regexp.MustCompile(`^p(?:\(\s*([0-9.]+)\s*\)|([0-9]+))$`)

// Threshold is a parsed predicate over one aggregated metric.
type Threshold struct {
	Metric     string  `json:"metric"`
	Expression string  `json:"expression"`
	Aggregate  string  `json:"aggregate"`
	Percentile float64 `json:"percentile,omitempty"`
	Operator   string  `json:"operator"`
	// Value is in milliseconds for http_req_duration, raw otherwise.
	Value float64 `json:"value"`
}

// Name identifies the threshold in verdicts, e.g. "errors: rate < 0.1".
func (t Threshold) Name() string {
	return t.Metric + ": " + t.Expression
}

// Parse parses an expression such as "p95 < 500ms" for the given metric.
func Parse(metric, expr string) (Threshold, error) {
	expr = strings.TrimSpace(expr)
	m := exprPattern.FindStringSubmatch(expr)
	if m == nil {
		return Threshold{}, fmt.Errorf("invalid threshold expression %q", expr)
	}
	t := Threshold{
		Metric:     metric,
		Expression: expr,
		Aggregate:  strings.ReplaceAll(m[1], " ", ""),
		Operator:   m[2],
	}
	if !validOperator(t.Operator) {
		return Threshold{}, fmt.Errorf("invalid operator %q in %q", t.Operator, expr)
	}
	raw := strings.TrimSpace(m[3])

	switch metric {
	case MetricDuration:
		if err := t.parseDurationAggregate(); err != nil {
			return Threshold{}, err
		}
		v, err := parseMillis(raw)
		if err != nil {
			return Threshold{}, fmt.Errorf("invalid duration %q in %q: %w", raw, expr, err)
		}
		t.Value = v
	case MetricErrors, MetricFailed, MetricReqs:
		if t.Aggregate != "rate" && t.Aggregate != "count" {
			return Threshold{}, fmt.Errorf("%s supports 'rate' or 'count', got %q", metric, t.Aggregate)
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return Threshold{}, fmt.Errorf("invalid value %q in %q: %w", raw, expr, err)
		}
		t.Value = v
	default:
		return Threshold{}, fmt.Errorf("unknown threshold metric %q", metric)
	}
	return t, nil
}

// ParseAll parses a metric -> expressions map. Metrics are processed in
// name order so verdicts are stable.
func ParseAll(exprs map[string][]string) ([]Threshold, error) {
	metrics := make([]string, 0, len(exprs))
	for m := range exprs {
		metrics = append(metrics, m)
	}
	sort.Strings(metrics)

	var out []Threshold
	for _, m := range metrics {
		for _, e := range exprs[m] {
			t, err := Parse(m, e)
			if err != nil {
				return nil, err
			}
			out = append(out, t)
		}
	}
	return out, nil
}

func (t *Threshold) parseDurationAggregate() error {
	switch t.Aggregate {
	case "min", "max", "avg":
		return nil
	case "med":
		t.Percentile = 50
		return nil
	}
	pm := percentilePattern.FindStringSubmatch(t.Aggregate)
	if pm == nil {
		return fmt.Errorf("unknown %s aggregate %q", MetricDuration, t.Aggregate)
	}
	s := pm[1]
	if s == "" {
		s = pm[2]
	}
	p, err := strconv.ParseFloat(s, 64)
	if err != nil || p <= 0 || p > 100 {
		return fmt.Errorf("percentile out of range in %q", t.Aggregate)
	}
	t.Percentile = p
	return nil
}

// parseMillis accepts Go durations ("500ms", "1.5s") or bare milliseconds.
func parseMillis(s string) (float64, error) {
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		return v, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	return float64(d) / float64(time.Millisecond), nil
}

func validOperator(op string) bool {
	switch op {
	case "<", "<=", ">", ">=", "==", "=", "!=":
		return true
	}
	return false
}

func compareValues(actual float64, op string, threshold float64) bool {
	switch op {
	case "<":
		return actual < threshold
	case "<=":
		return actual <= threshold
	case ">":
		return actual > threshold
	case ">=":
		return actual >= threshold
	case "==", "=":
		return actual == threshold
	case "!=":
		return actual != threshold
	default:
		return false
	}
}

// Percentiles returns every percentile the thresholds need, merged with the
// standard set reported for every run.
func Percentiles(ts []Threshold) []float64 {
	out := []float64{50, 90, 95, 99}
	for _, t := range ts {
		if t.Percentile > 0 && !slices.Contains(out, t.Percentile) {
			out = append(out, t.Percentile)
		}
	}
	sort.Float64s(out)
	return out
}

// Sample is the aggregated input to Evaluate.
type Sample struct {
	Count   int64
	Failed  int64
	Elapsed time.Duration
	Min     time.Duration
	Max     time.Duration
	Mean    time.Duration
	// Percentiles maps a percentile in (0,100] to its latency.
	Percentiles map[float64]time.Duration
}

// ErrorRate is Failed/Count, or 0 for an empty sample.
func (s Sample) ErrorRate() float64 {
	if s.Count == 0 {
		return 0
	}
	return float64(s.Failed) / float64(s.Count)
}

// Rate is iterations per second over Elapsed.
func (s Sample) Rate() float64 {
	if s.Elapsed <= 0 {
		return 0
	}
	return float64(s.Count) / s.Elapsed.Seconds()
}

// SampleFromDurations builds an exact Sample from raw latencies using
// nearest-rank percentiles.
func SampleFromDurations(latencies []time.Duration, failed int64, elapsed time.Duration, percentiles ...float64) Sample {
	s := Sample{
		Count:       int64(len(latencies)),
		Failed:      failed,
		Elapsed:     elapsed,
		Percentiles: make(map[float64]time.Duration),
	}
	if len(latencies) == 0 {
		return s
	}

	sorted := slices.Clone(latencies)
	slices.Sort(sorted)

	var sum time.Duration
	for _, l := range sorted {
		sum += l
	}
	s.Min = sorted[0]
	s.Max = sorted[len(sorted)-1]
	s.Mean = sum / time.Duration(len(sorted))

	if len(percentiles) == 0 {
		percentiles = []float64{50, 90, 95, 99}
	}
	for _, p := range percentiles {
		rank := int(math.Ceil(p / 100 * float64(len(sorted))))
		if rank < 1 {
			rank = 1
		}
		s.Percentiles[p] = sorted[rank-1]
	}
	return s
}

// Result is the outcome of one threshold.
type Result struct {
	Metric     string  `json:"metric"`
	Expression string  `json:"expression"`
	Passed     bool    `json:"passed"`
	Actual     float64 `json:"actual"`
	Value      string  `json:"value"`
	Message    string  `json:"message,omitempty"`
}

// Verdict is the overall evaluation.
type Verdict struct {
	Status   Status   `json:"status"`
	Results  []Result `json:"results"`
	Breached []string `json:"breached,omitempty"`
	Reason   string   `json:"reason,omitempty"`
}

// Evaluate applies thresholds to sample. A sample smaller than minSamples
// (clamped to at least 1) is inconclusive; thresholds are still evaluated
// so the report can show the observed values.
func Evaluate(sample Sample, thresholds []Threshold, minSamples int) Verdict {
	if minSamples < 1 {
		minSamples = 1
	}

	v := Verdict{Results: make([]Result, 0, len(thresholds))}
	for _, t := range thresholds {
		r := evaluateOne(sample, t)
		v.Results = append(v.Results, r)
		if !r.Passed {
			v.Breached = append(v.Breached, t.Name())
		}
	}

	switch {
	case sample.Count < int64(minSamples):
		v.Status = StatusInconclusive
		v.Breached = nil
		v.Reason = fmt.Sprintf("%d outcomes recorded, at least %d required", sample.Count, minSamples)
	case len(v.Breached) > 0:
		v.Status = StatusFail
		v.Reason = "breached " + strings.Join(v.Breached, ", ")
	default:
		v.Status = StatusPass
	}
	return v
}

func evaluateOne(s Sample, t Threshold) Result {
	r := Result{Metric: t.Metric, Expression: t.Expression}

	switch t.Metric {
	case MetricDuration:
		d, ok := durationAggregate(s, t)
		if !ok {
			r.Message = fmt.Sprintf("%s not available", t.Aggregate)
			return r
		}
		r.Actual = float64(d) / float64(time.Millisecond)
		r.Value = d.String()
	case MetricErrors, MetricFailed:
		if t.Aggregate == "count" {
			r.Actual = float64(s.Failed)
			r.Value = strconv.FormatInt(s.Failed, 10)
		} else {
			r.Actual = s.ErrorRate()
			r.Value = fmt.Sprintf("%.4f", r.Actual)
		}
	case MetricReqs:
		if t.Aggregate == "count" {
			r.Actual = float64(s.Count)
			r.Value = strconv.FormatInt(s.Count, 10)
		} else {
			r.Actual = s.Rate()
			r.Value = fmt.Sprintf("%.2f/s", r.Actual)
		}
	default:
		r.Message = fmt.Sprintf("unknown metric %q", t.Metric)
		return r
	}

	r.Passed = compareValues(r.Actual, t.Operator, t.Value)
	if !r.Passed {
		r.Message = fmt.Sprintf("%s is %s, threshold: %s", t.Aggregate, r.Value, t.Expression)
	}
	return r
}

func durationAggregate(s Sample, t Threshold) (time.Duration, bool) {
	switch t.Aggregate {
	case "min":
		return s.Min, true
	case "max":
		return s.Max, true
	case "avg":
		return s.Mean, true
	}
	d, ok := s.Percentiles[t.Percentile]
	return d, ok
}

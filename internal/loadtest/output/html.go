package output

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"os"
	"sort"
	"time"

	"github.com/wesleyorama2/shortload/internal/loadtest/engine"
	"github.com/wesleyorama2/shortload/internal/loadtest/metrics"
)

// htmlData is what the report template renders.
type htmlData struct {
	*engine.Report
	Actions        []actionRow
	TimeSeriesJSON template.JS
}

type actionRow struct {
	Name  string
	Stats metrics.ActionStats
}

// seriesPoint is one chart sample. Latencies are in milliseconds.
type seriesPoint struct {
	Timestamp string  `json:"timestamp"`
	RPS       float64 `json:"rps"`
	ErrorRate float64 `json:"errorRate"`
	P95       float64 `json:"p95"`
	ActiveVUs int     `json:"activeVUs"`
	Phase     string  `json:"phase"`
}

// WriteHTML renders the report as a standalone HTML page at path.
func WriteHTML(r *engine.Report, path string) error {
	page, err := RenderHTML(r)
	if err != nil {
		return fmt.Errorf("failed to generate HTML: %w", err)
	}
	if err := os.WriteFile(path, page, 0o644); err != nil {
		return fmt.Errorf("failed to write HTML file: %w", err)
	}
	return nil
}

// RenderHTML renders the report as HTML.
func RenderHTML(r *engine.Report) ([]byte, error) {
	if r == nil {
		return nil, errors.New("report cannot be nil")
	}

	tmpl, err := template.New("report").Funcs(template.FuncMap{
		"formatDuration": formatDuration,
		"formatLatency":  formatDurationShort,
		"formatNumber":   formatNumber,
		"percent":        func(f float64) string { return fmt.Sprintf("%.2f%%", f*100) },
	}).Parse(htmlTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template: %w", err)
	}

	series, err := seriesJSON(r.TimeSeries)
	if err != nil {
		return nil, fmt.Errorf("failed to convert time series: %w", err)
	}

	data := htmlData{Report: r, TimeSeriesJSON: template.JS(series)}
	if r.Metrics != nil {
		for name, stats := range r.Metrics.Actions {
			data.Actions = append(data.Actions, actionRow{Name: name, Stats: stats})
		}
		sort.Slice(data.Actions, func(i, j int) bool { return data.Actions[i].Name < data.Actions[j].Name })
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("failed to execute template: %w", err)
	}
	return buf.Bytes(), nil
}

func seriesJSON(buckets []metrics.TimeBucket) (string, error) {
	points := make([]seriesPoint, len(buckets))
	for i, b := range buckets {
		points[i] = seriesPoint{
			Timestamp: b.Timestamp.Format(time.RFC3339),
			RPS:       b.IntervalRPS,
			ErrorRate: b.IntervalErrorRate,
			P95:       float64(b.LatencyP95) / float64(time.Millisecond),
			ActiveVUs: b.ActiveVUs,
			Phase:     string(b.Phase),
		}
	}
	data, err := json.Marshal(points)
	if err != nil {
		return "[]", err
	}
	return string(data), nil
}

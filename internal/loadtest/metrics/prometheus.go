package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wesleyorama2/shortload/internal/loadtest/action"
)

// PromCollector mirrors run metrics into a Prometheus registry so a long
// run can be scraped while it is in progress.
type PromCollector struct {
	Registry *prometheus.Registry

	// Requests counts outcomes.
	// Labels: action, outcome (ok|failed), status_class
	Requests *prometheus.CounterVec

	// Errors counts failed iterations, the run error counter.
	Errors prometheus.Counter

	// Duration measures action latency in seconds.
	// Labels: action
	Duration *prometheus.HistogramVec

	// ActiveVUs is the current number of running virtual users.
	ActiveVUs prometheus.Gauge
}

// NewPromCollector creates a collector with its own registry.
func NewPromCollector() *PromCollector {
	reg := prometheus.NewRegistry()
	p := &PromCollector{
		Registry: reg,
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shortload_requests_total",
			Help: "Total number of executed actions",
		}, []string{"action", "outcome", "status_class"}),
		Errors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shortload_errors_total",
			Help: "Total number of failed iterations",
		}),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "shortload_request_duration_seconds",
			Help:    "Action latency in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"action"}),
		ActiveVUs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "shortload_active_vus",
			Help: "Number of active virtual users",
		}),
	}
	reg.MustRegister(p.Requests, p.Errors, p.Duration, p.ActiveVUs)
	return p
}

// Observe implements Observer.
func (p *PromCollector) Observe(o action.Outcome) {
	outcome := "ok"
	if o.Failed() {
		outcome = "failed"
		p.Errors.Inc()
	}
	p.Requests.WithLabelValues(o.Action, outcome, StatusClass(o)).Inc()
	p.Duration.WithLabelValues(o.Action).Observe(o.Latency.Seconds())
}

// SetActiveVUs updates the VU gauge.
func (p *PromCollector) SetActiveVUs(n int) {
	p.ActiveVUs.Set(float64(n))
}

// Handler serves the registry in the Prometheus text format.
func (p *PromCollector) Handler() http.Handler {
	return promhttp.HandlerFor(p.Registry, promhttp.HandlerOpts{})
}

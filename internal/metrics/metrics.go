// Package metrics exports edit-session and HTTP metrics in the Prometheus
// text format.
package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/erazemk/boxanizer/internal/edit"
)

const namespace = "boxanizer"

// Metrics holds the collectors and the registry they are published on. It
// implements edit.Observer.
type Metrics struct {
	registry *prometheus.Registry

	loads       *prometheus.CounterVec
	validations *prometheus.CounterVec
	saves       *prometheus.CounterVec
	sessions    prometheus.Gauge
	requests    *prometheus.HistogramVec
}

var _ edit.Observer = (*Metrics)(nil)

// New creates a Metrics with its own registry, including the Go runtime and
// process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		loads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_loads_total",
			Help:      "Edit session loads by entity kind and result.",
		}, []string{"kind", "result"}),
		validations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "validations_total",
			Help:      "Draft validations by entity kind and outcome.",
		}, []string{"kind", "outcome"}),
		saves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "saves_total",
			Help:      "Save attempts by entity kind and outcome.",
		}, []string{"kind", "outcome"}),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "open_sessions",
			Help:      "Edit sessions currently open.",
		}),
		requests: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route pattern and status code.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "pattern", "code"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.loads, m.validations, m.saves, m.sessions, m.requests,
	)
	return m
}

// Handler serves the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Loaded(kind string, err error) {
	result := "ok"
	switch {
	case errors.Is(err, edit.ErrNotFound):
		result = "not_found"
	case err != nil:
		result = "error"
	}
	m.loads.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) ValidationStarted(kind string) {
	m.validations.WithLabelValues(kind, "started").Inc()
}

func (m *Metrics) ValidationSuperseded(kind string) {
	m.validations.WithLabelValues(kind, "superseded").Inc()
}

func (m *Metrics) ValidationFailed(kind string) {
	m.validations.WithLabelValues(kind, "failed").Inc()
}

func (m *Metrics) ValidationCompleted(kind string, status edit.Status) {
	m.validations.WithLabelValues(kind, string(status)).Inc()
}

func (m *Metrics) Saved(kind string, outcome edit.SaveOutcome) {
	m.saves.WithLabelValues(kind, string(outcome)).Inc()
}

// SessionOpened and SessionClosed track the open session gauge.
func (m *Metrics) SessionOpened() { m.sessions.Inc() }

func (m *Metrics) SessionClosed() { m.sessions.Dec() }

// ObserveRequest records one HTTP request.
func (m *Metrics) ObserveRequest(method, pattern string, code int, d time.Duration) {
	if pattern == "" {
		pattern = "unmatched"
	}
	m.requests.WithLabelValues(method, pattern, strconv.Itoa(code)).Observe(d.Seconds())
}

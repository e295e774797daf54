// Package metrics exposes Prometheus collectors for dispatches and sessions.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ashureev/gemini-qa/internal/dispatch"
	"github.com/ashureev/gemini-qa/internal/domain"
)

// Metrics owns a private registry so tests can create as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	dispatches       *prometheus.CounterVec
	dispatchDuration *prometheus.HistogramVec
	activeSessions   prometheus.Gauge
	warnings         *prometheus.CounterVec
}

var _ dispatch.Recorder = (*Metrics)(nil)

// New registers all collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		dispatches: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gemqa_dispatches_total",
			Help: "Dispatches to the model by mode and outcome",
		}, []string{"mode", "outcome"}),
		dispatchDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gemqa_dispatch_duration_seconds",
			Help:    "Time spent waiting for the model",
			Buckets: prometheus.DefBuckets,
		}, []string{"mode"}),
		activeSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "gemqa_active_sessions",
			Help: "Sessions currently registered",
		}),
		warnings: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gemqa_submission_warnings_total",
			Help: "Submissions rejected before dispatch",
		}, []string{"mode"}),
	}
}

// Observe records one finished dispatch.
func (m *Metrics) Observe(mode dispatch.Mode, outcome domain.DispatchOutcome, d time.Duration) {
	m.dispatches.WithLabelValues(string(mode), string(outcome)).Inc()
	m.dispatchDuration.WithLabelValues(string(mode)).Observe(d.Seconds())
}

// SessionOpened increments the active session gauge.
func (m *Metrics) SessionOpened() { m.activeSessions.Inc() }

// SessionClosed decrements the active session gauge.
func (m *Metrics) SessionClosed() { m.activeSessions.Dec() }

// Warning counts a submission rejected with a user warning.
func (m *Metrics) Warning(mode dispatch.Mode) {
	m.warnings.WithLabelValues(string(mode)).Inc()
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

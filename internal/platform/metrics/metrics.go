package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the counting service.
type Metrics struct {
	registry       *prometheus.Registry
	requestsTotal  prometheus.Counter
	errorsTotal    prometheus.Counter
	eventsTagged   *prometheus.CounterVec
	tagsRejected   *prometheus.CounterVec
	undosTotal     prometheus.Counter
	exportsTotal   prometheus.Counter
	activeSessions prometheus.Gauge
}

// New creates and registers Prometheus metrics for the service.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	requestsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tally_requests_total",
		Help: "Total number of HTTP requests received",
	})
	errorsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tally_errors_total",
		Help: "Total number of HTTP responses with error status (4xx or 5xx)",
	})
	eventsTagged := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tally_events_tagged_total",
		Help: "Total number of tagging events recorded",
	}, []string{"registry"})
	tagsRejected := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tally_tags_rejected_total",
		Help: "Total number of tagging attempts with an unknown key",
	}, []string{"registry"})
	undosTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tally_undos_total",
		Help: "Total number of events removed by undo",
	})
	exportsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tally_exports_total",
		Help: "Total number of successful CSV exports",
	})
	activeSessions := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tally_active_sessions",
		Help: "Number of counting sessions resident in memory",
	})

	registry.MustRegister(
		requestsTotal,
		errorsTotal,
		eventsTagged,
		tagsRejected,
		undosTotal,
		exportsTotal,
		activeSessions,
	)

	return &Metrics{
		registry:       registry,
		requestsTotal:  requestsTotal,
		errorsTotal:    errorsTotal,
		eventsTagged:   eventsTagged,
		tagsRejected:   tagsRejected,
		undosTotal:     undosTotal,
		exportsTotal:   exportsTotal,
		activeSessions: activeSessions,
	}
}

// IncRequests increments the total request counter.
func (m *Metrics) IncRequests() {
	m.requestsTotal.Inc()
}

// IncErrors increments the errors counter.
func (m *Metrics) IncErrors() {
	m.errorsTotal.Inc()
}

// IncEventsTagged increments the tagged events counter for a registry.
func (m *Metrics) IncEventsTagged(registry string) {
	m.eventsTagged.WithLabelValues(registry).Inc()
}

// IncTagsRejected increments the rejected tags counter for a registry.
func (m *Metrics) IncTagsRejected(registry string) {
	m.tagsRejected.WithLabelValues(registry).Inc()
}

// IncUndos increments the undo counter.
func (m *Metrics) IncUndos() {
	m.undosTotal.Inc()
}

// IncExports increments the exports counter.
func (m *Metrics) IncExports() {
	m.exportsTotal.Inc()
}

// SetActiveSessions sets the active sessions gauge.
func (m *Metrics) SetActiveSessions(n int) {
	m.activeSessions.Set(float64(n))
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values (e.g. active sessions).
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}

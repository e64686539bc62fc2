// Package telemetry exposes Prometheus metrics for the refresh pipeline and
// the query API.
package telemetry

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector the service records. All collectors live on
// a private registry so tests can create independent instances.
type Metrics struct {
	registry *prometheus.Registry

	// RefreshDuration observes wall-clock seconds per refresh, labeled by
	// source and outcome (updated, unchanged, failed).
	RefreshDuration *prometheus.HistogramVec

	// RefreshFailures counts refreshes that exhausted their attempts
	RefreshFailures *prometheus.CounterVec

	// SkippedRecords counts records dropped during parsing and
	// normalization, labeled by source.
	SkippedRecords *prometheus.CounterVec

	// Entities tracks the number of entities each source currently
	// contributes to.
	Entities *prometheus.GaugeVec

	// StoreEntities tracks the total entity count in the store
	StoreEntities prometheus.Gauge

	// HTTPRequests counts API requests by route and status code
	HTTPRequests *prometheus.CounterVec
}

// NewMetrics creates and registers all collectors on a fresh registry
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		RefreshDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "varhub",
			Name:      "refresh_duration_seconds",
			Help:      "Wall-clock duration of source refreshes.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"source", "outcome"}),
		RefreshFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "varhub",
			Name:      "refresh_failures_total",
			Help:      "Refreshes that exhausted all retry attempts.",
		}, []string{"source"}),
		SkippedRecords: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "varhub",
			Name:      "skipped_records_total",
			Help:      "Records dropped during parsing and normalization.",
		}, []string{"source"}),
		Entities: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "varhub",
			Name:      "source_entities",
			Help:      "Entities the source currently contributes fields to.",
		}, []string{"source"}),
		StoreEntities: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "varhub",
			Name:      "store_entities",
			Help:      "Total entities in the consolidated store.",
		}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "varhub",
			Name:      "http_requests_total",
			Help:      "API requests by route pattern and status code.",
		}, []string{"route", "code"}),
	}

	registry.MustRegister(
		m.RefreshDuration,
		m.RefreshFailures,
		m.SkippedRecords,
		m.Entities,
		m.StoreEntities,
		m.HTTPRequests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler returns the scrape endpoint for this metrics instance
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// HTTPMiddleware counts requests on the HTTPRequests collector, labeled by
// the matched chi route pattern and status code. Unmatched requests share one
// label to keep series cardinality bounded.
func (m *Metrics) HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		m.HTTPRequests.WithLabelValues(route, strconv.Itoa(ww.Status())).Inc()
	})
}

// ObserveRefresh records one finished refresh
func (m *Metrics) ObserveRefresh(source, outcome string, seconds float64) {
	m.RefreshDuration.WithLabelValues(source, outcome).Observe(seconds)
	if outcome == "failed" {
		m.RefreshFailures.WithLabelValues(source).Inc()
	}
}

// ForgetSource drops per-source series after deregistration
func (m *Metrics) ForgetSource(source string) {
	m.RefreshDuration.DeletePartialMatch(prometheus.Labels{"source": source})
	m.RefreshFailures.DeleteLabelValues(source)
	m.SkippedRecords.DeleteLabelValues(source)
	m.Entities.DeleteLabelValues(source)
}

// Package telemetry holds Prometheus collectors and OpenTelemetry helpers.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "paycore"

// Metrics groups every collector the service exports.
type Metrics struct {
	IntentTransitions *prometheus.CounterVec
	GrantDecisions    *prometheus.CounterVec
	RouteSelections   *prometheus.CounterVec
	ExecutorDuration  *prometheus.HistogramVec
	IntentsExpired    prometheus.Counter
	CatalogRoutes     prometheus.Gauge
	HTTPRequests      *prometheus.CounterVec
	HTTPDuration      *prometheus.HistogramVec
}

// NewMetrics registers the collectors on reg. A nil reg gets a private
// registry so tests and tools never collide on the global one.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)

	return &Metrics{
		IntentTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "intent_transitions_total",
			Help:      "Payment intent state transitions.",
		}, []string{"from", "to"}),
		GrantDecisions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grant_decisions_total",
			Help:      "Grant validation outcomes by reason.",
		}, []string{"outcome", "reason"}),
		RouteSelections: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "route_selections_total",
			Help:      "Selected routes by id.",
		}, []string{"route_id", "fallback"}),
		ExecutorDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "executor_duration_seconds",
			Help:      "Latency of payment executor calls.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
		IntentsExpired: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "intents_expired_total",
			Help:      "Intents moved to expired, lazily or by the sweeper.",
		}),
		CatalogRoutes: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "catalog_routes",
			Help:      "Routes in the current catalog snapshot.",
		}),
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route pattern and status.",
		}, []string{"method", "route", "status"}),
		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// Package metrics defines the Prometheus instrumentation surface.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all collectors the service exports. Label cardinality is kept
// low on purpose: operation names and error codes, never payment hashes or
// addresses.
type Metrics struct {
	// Escrow lifecycle
	OperationsTotal   *prometheus.CounterVec // operation, outcome
	OperationDuration *prometheus.HistogramVec
	AmountsTotal      *prometheus.CounterVec // atomic token units moved per operation
	TokenStoresTotal  prometheus.Counter

	// Event pipeline
	EventsEmitted     *prometheus.CounterVec
	WebhookDeliveries *prometheus.CounterVec // outcome: delivered, retried, dead_lettered

	// HTTP surface
	HTTPRequestsTotal   *prometheus.CounterVec // method, path, status
	HTTPRequestDuration *prometheus.HistogramVec

	// Storage
	StorageErrors *prometheus.CounterVec // backend, operation
}

// New creates all metrics registered against the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		OperationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "escrow_operations_total",
			Help: "Lifecycle operations by name and outcome (ok or error code).",
		}, []string{"operation", "outcome"}),

		OperationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "escrow_operation_duration_seconds",
			Help:    "Duration of lifecycle operations.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),

		AmountsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "escrow_amounts_total",
			Help: "Atomic token units moved, by operation.",
		}, []string{"operation"}),

		TokenStoresTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "escrow_token_stores_created_total",
			Help: "Token stores instantiated for operators.",
		}),

		EventsEmitted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "escrow_events_emitted_total",
			Help: "Audit events appended to the log, by type.",
		}, []string{"type"}),

		WebhookDeliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "escrow_webhook_deliveries_total",
			Help: "Webhook delivery attempts by outcome.",
		}, []string{"outcome"}),

		HTTPRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "escrow_http_requests_total",
			Help: "HTTP requests by method, route pattern, and status.",
		}, []string{"method", "path", "status"}),

		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "escrow_http_request_duration_seconds",
			Help:    "HTTP request duration by route pattern.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),

		StorageErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "escrow_storage_errors_total",
			Help: "Storage backend failures by operation.",
		}, []string{"operation"}),
	}
}

// NewNop creates metrics bound to a throwaway registry, for tests and for
// callers that opt out of instrumentation.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}

// Package metrics exposes Prometheus collectors for the key escrow service
// and the standalone server that publishes them.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vitalform/survey-key-escrow/interfaces"
)

// Metrics holds the service's Prometheus collectors on a private registry,
// so tests and embedded uses never collide on the global one. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	operationOutcomes   *prometheus.CounterVec
	storeLatency        *prometheus.HistogramVec
	storeErrors         *prometheus.CounterVec
	auditAppendFailures prometheus.Counter
}

// New creates and registers all collectors. The service name and version
// are published on the build info gauge.
func New(service, version string) *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	info := factory.NewGaugeVec(prometheus.GaugeOpts{
		Name: "key_escrow_build_info",
		Help: "Build metadata, always 1",
	}, []string{"service", "version"})
	info.WithLabelValues(service, version).Set(1)

	return &Metrics{
		registry: registry,
		operationOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "key_escrow_operations_total",
			Help: "Audited key operations by operation and outcome",
		}, []string{"operation", "outcome"}),
		storeLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "key_escrow_store_request_duration_seconds",
			Help:    "Secret store request duration by operation",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"operation"}),
		storeErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "key_escrow_store_errors_total",
			Help: "Secret store failures by error category",
		}, []string{"category"}),
		auditAppendFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "key_escrow_audit_append_failures_total",
			Help: "Audit log appends that failed, aborting their operation",
		}),
	}
}

// RecordOperation counts one audited operation outcome.
func (m *Metrics) RecordOperation(operation string, outcome interfaces.AuditOutcome) {
	if m != nil {
		m.operationOutcomes.WithLabelValues(operation, string(outcome)).Inc()
	}
}

// RecordAuditAppendFailure counts a failed audit append. Each one also
// aborted the operation that attempted it.
func (m *Metrics) RecordAuditAppendFailure() {
	if m != nil {
		m.auditAppendFailures.Inc()
	}
}

// ObserveStoreRequest records one secret store request's duration and, for
// failures, its error category.
func (m *Metrics) ObserveStoreRequest(operation string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.storeLatency.WithLabelValues(operation).Observe(d.Seconds())
	if err != nil {
		m.storeErrors.WithLabelValues(interfaces.Category(err).String()).Inc()
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// MetricsServer publishes /metrics on its own listener, separate from the
// API server.
type MetricsServer struct {
	srv *http.Server
}

// Server creates a metrics server bound to addr.
func (m *Metrics) Server(addr string) *MetricsServer {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	return &MetricsServer{srv: &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}}
}

// ListenAndServe blocks serving the metrics endpoint.
func (s *MetricsServer) ListenAndServe() error {
	return s.srv.ListenAndServe()
}

// Shutdown stops the metrics server gracefully.
func (s *MetricsServer) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// Package metrics provides Prometheus metrics for draftsync
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for draftsync
type Metrics struct {
	// Engine persistence metrics
	SavesTotal    *prometheus.CounterVec
	SaveDuration  *prometheus.HistogramVec
	PendingSaves  prometheus.Gauge
	FlushesTotal  *prometheus.CounterVec
	GateChecks    *prometheus.CounterVec
	ChunkParts    *prometheus.CounterVec
	ActivityTotal *prometheus.CounterVec

	// Lease metrics
	LeaseClaimsTotal     prometheus.Counter
	LeaseHeartbeatsTotal *prometheus.CounterVec
	LeaseConflictsTotal  prometheus.Counter

	// Store metrics
	StoreOperationsTotal   *prometheus.CounterVec
	StoreOperationDuration *prometheus.HistogramVec
	StoreWatchers          prometheus.Gauge

	// gRPC request metrics
	GrpcRequestsTotal    *prometheus.CounterVec
	GrpcRequestDuration  *prometheus.HistogramVec
	GrpcRequestsInFlight prometheus.Gauge

	Registry *prometheus.Registry
}

// NewMetrics creates all metrics on a fresh registry
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.NewRegistry())
}

// NewMetricsWith creates and registers all metrics on reg
func NewMetricsWith(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)
	m := &Metrics{Registry: reg}

	m.SavesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "draftsync_saves_total",
			Help: "Total number of unit persistence attempts by outcome",
		},
		[]string{"unit_kind", "status"},
	)

	m.SaveDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "draftsync_save_duration_seconds",
			Help:    "Duration of unit persistence calls in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"unit_kind"},
	)

	m.PendingSaves = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "draftsync_pending_saves",
			Help: "Number of units with a scheduled debounced save",
		},
	)

	m.FlushesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "draftsync_flushes_total",
			Help: "Total number of flush-all passes by outcome",
		},
		[]string{"status"},
	)

	m.GateChecks = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "draftsync_gate_checks_total",
			Help: "Lease gate checks performed before writes",
		},
		[]string{"result"},
	)

	m.ChunkParts = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "draftsync_chunk_parts_total",
			Help: "Chunk fragments written or pruned",
		},
		[]string{"op"},
	)

	m.ActivityTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "draftsync_activity_records_total",
			Help: "Writing activity updates by outcome",
		},
		[]string{"status"},
	)

	m.LeaseClaimsTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "draftsync_lease_claims_total",
			Help: "Total number of lease claims written by this process",
		},
	)

	m.LeaseHeartbeatsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "draftsync_lease_heartbeats_total",
			Help: "Lease liveness refreshes by outcome",
		},
		[]string{"status"},
	)

	m.LeaseConflictsTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "draftsync_lease_conflicts_total",
			Help: "Lease takeovers observed from other sessions",
		},
	)

	m.StoreOperationsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "draftsync_store_operations_total",
			Help: "Total number of document store operations",
		},
		[]string{"operation", "status"},
	)

	m.StoreOperationDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "draftsync_store_operation_duration_seconds",
			Help:    "Duration of document store operations in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"operation"},
	)

	m.StoreWatchers = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "draftsync_store_watchers",
			Help: "Number of open record watches served",
		},
	)

	m.GrpcRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "draftsync_grpc_requests_total",
			Help: "Total number of gRPC requests",
		},
		[]string{"method", "status"},
	)

	m.GrpcRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "draftsync_grpc_request_duration_seconds",
			Help:    "Duration of gRPC requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	m.GrpcRequestsInFlight = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "draftsync_grpc_requests_in_flight",
			Help: "Number of gRPC requests currently being processed",
		},
	)

	return m
}

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// RecordSave records one unit persistence attempt
func (m *Metrics) RecordSave(unitKind, status string, duration time.Duration) {
	m.SavesTotal.WithLabelValues(unitKind, status).Inc()
	m.SaveDuration.WithLabelValues(unitKind).Observe(duration.Seconds())
}

// RecordGate records the result of a lease gate check: granted, denied or error
func (m *Metrics) RecordGate(result string) {
	m.GateChecks.WithLabelValues(result).Inc()
}

// RecordFlush records a flush-all pass
func (m *Metrics) RecordFlush(err error) {
	m.FlushesTotal.WithLabelValues(statusLabel(err)).Inc()
}

// RecordChunkParts records fragments written and stale fragments pruned
func (m *Metrics) RecordChunkParts(written, pruned int) {
	m.ChunkParts.WithLabelValues("written").Add(float64(written))
	m.ChunkParts.WithLabelValues("pruned").Add(float64(pruned))
}

// RecordActivity records a writing activity update
func (m *Metrics) RecordActivity(err error) {
	m.ActivityTotal.WithLabelValues(statusLabel(err)).Inc()
}

// RecordHeartbeat records a lease liveness refresh
func (m *Metrics) RecordHeartbeat(status string) {
	m.LeaseHeartbeatsTotal.WithLabelValues(status).Inc()
}

// RecordStoreOperation records a document store operation
func (m *Metrics) RecordStoreOperation(operation string, err error, duration time.Duration) {
	m.StoreOperationsTotal.WithLabelValues(operation, statusLabel(err)).Inc()
	m.StoreOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordGrpcRequest records a gRPC request with its status
func (m *Metrics) RecordGrpcRequest(method string, status string, duration time.Duration) {
	m.GrpcRequestsTotal.WithLabelValues(method, status).Inc()
	m.GrpcRequestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

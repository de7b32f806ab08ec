package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetadataMetrics holds metrics related to metadata store operations.
type MetadataMetrics struct {
	// LatencyHistogram tracks operation latencies by operation and status.
	LatencyHistogram *prometheus.HistogramVec

	// RequestsTotal tracks total operations by operation and status.
	RequestsTotal *prometheus.CounterVec

	// ConflictsTotal counts compare-and-set writes that lost to a
	// concurrent writer, typically an overlapping tick.
	ConflictsTotal *prometheus.CounterVec
}

// DefaultMetadataLatencyBuckets are latency buckets for Oxia operations,
// which are typically sub-ms to tens of ms.
var DefaultMetadataLatencyBuckets = []float64{
	0.0001, // 0.1ms
	0.0005, // 0.5ms
	0.001,  // 1ms
	0.005,  // 5ms
	0.01,   // 10ms
	0.025,  // 25ms
	0.05,   // 50ms
	0.1,    // 100ms
	0.5,    // 500ms
	1.0,    // 1s
	5.0,    // 5s
}

// NewMetadataMetricsWithRegistry creates metadata metrics registered with reg.
func NewMetadataMetricsWithRegistry(reg prometheus.Registerer) *MetadataMetrics {
	f := promauto.With(reg)
	return &MetadataMetrics{
		LatencyHistogram: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "reaper",
			Subsystem: "metadata",
			Name:      "operation_latency_seconds",
			Help:      "Metadata store operation latency in seconds, by operation and status.",
			Buckets:   DefaultMetadataLatencyBuckets,
		}, []string{"operation", "status"}),
		RequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reaper",
			Subsystem: "metadata",
			Name:      "operations_total",
			Help:      "Total number of metadata store operations, by operation and status.",
		}, []string{"operation", "status"}),
		ConflictsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reaper",
			Subsystem: "metadata",
			Name:      "conflicts_total",
			Help:      "Total number of version conflicts on conditional writes, by operation.",
		}, []string{"operation"}),
	}
}

// RecordOperation records an operation latency and increments the request counter.
func (m *MetadataMetrics) RecordOperation(operation string, durationSeconds float64, success bool) {
	s := status(success)
	m.LatencyHistogram.WithLabelValues(operation, s).Observe(durationSeconds)
	m.RequestsTotal.WithLabelValues(operation, s).Inc()
}

// RecordConflict records a version conflict.
func (m *MetadataMetrics) RecordConflict(operation string) {
	m.ConflictsTotal.WithLabelValues(operation).Inc()
}

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ObjectStoreMetrics holds metrics related to object store operations.
type ObjectStoreMetrics struct {
	// LatencyHistogram tracks operation latencies.
	// Labels: bucket (images, audit, pause), operation (put, get, head,
	// delete, list), status (success, failure)
	LatencyHistogram *prometheus.HistogramVec

	// RequestsTotal tracks total operations with the same labels.
	RequestsTotal *prometheus.CounterVec

	// BytesWritten tracks bytes written per bucket.
	BytesWritten *prometheus.CounterVec
}

// DefaultObjectStoreLatencyBuckets are latency buckets for object store operations.
// Optimized for S3 operations which typically range from tens of ms to seconds.
var DefaultObjectStoreLatencyBuckets = []float64{
	0.001,  // 1ms
	0.005,  // 5ms
	0.01,   // 10ms
	0.025,  // 25ms
	0.05,   // 50ms
	0.1,    // 100ms
	0.25,   // 250ms
	0.5,    // 500ms
	1.0,    // 1s
	2.5,    // 2.5s
	5.0,    // 5s
	10.0,   // 10s
	30.0,   // 30s
}

// NewObjectStoreMetricsWithRegistry creates object store metrics registered with reg.
func NewObjectStoreMetricsWithRegistry(reg prometheus.Registerer) *ObjectStoreMetrics {
	f := promauto.With(reg)
	return &ObjectStoreMetrics{
		LatencyHistogram: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "reaper",
			Subsystem: "objectstore",
			Name:      "operation_latency_seconds",
			Help:      "Object store operation latency in seconds, by bucket, operation and status.",
			Buckets:   DefaultObjectStoreLatencyBuckets,
		}, []string{"bucket", "operation", "status"}),
		RequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reaper",
			Subsystem: "objectstore",
			Name:      "operations_total",
			Help:      "Total number of object store operations, by bucket, operation and status.",
		}, []string{"bucket", "operation", "status"}),
		BytesWritten: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reaper",
			Subsystem: "objectstore",
			Name:      "bytes_written_total",
			Help:      "Total bytes written to the object store, by bucket.",
		}, []string{"bucket"}),
	}
}

// RecordOperation records an operation latency and increments the request counter.
func (m *ObjectStoreMetrics) RecordOperation(bucket, operation string, durationSeconds float64, success bool) {
	s := status(success)
	m.LatencyHistogram.WithLabelValues(bucket, operation, s).Observe(durationSeconds)
	m.RequestsTotal.WithLabelValues(bucket, operation, s).Inc()
}

// RecordBytesWritten records bytes written to bucket.
func (m *ObjectStoreMetrics) RecordBytesWritten(bucket string, n int64) {
	m.BytesWritten.WithLabelValues(bucket).Add(float64(n))
}

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ReaperMetrics holds the scheduler and batch metrics.
type ReaperMetrics struct {
	// TicksTotal counts ticks by result (run, paused).
	TicksTotal *prometheus.CounterVec

	// TickDuration tracks how long each tick took, paused ticks included.
	TickDuration prometheus.Histogram

	// TickFailures counts failed sub-operations by operation
	// (quota, soft, hard, tick).
	TickFailures *prometheus.CounterVec

	// Budget is the most recently computed per-tick budget.
	Budget prometheus.Gauge

	// BudgetCapped counts ticks whose budget hit the max batch size. A
	// steady rate means the interval is too coarse for ingestion volume.
	BudgetCapped prometheus.Counter

	// RecordsReaped counts records whose index step succeeded, by type.
	RecordsReaped *prometheus.CounterVec

	// ArtifactFailures counts artifact deletions that failed, by artifact.
	ArtifactFailures *prometheus.CounterVec

	// LedgerFailures counts status ledger writes that were not acknowledged.
	LedgerFailures prometheus.Counter

	// AuditWrites counts audit report writes by type and status.
	AuditWrites *prometheus.CounterVec
}

// Tick result label values.
const (
	TickRun    = "run"
	TickPaused = "paused"
)

// DefaultTickDurationBuckets spans a fast empty tick up to a tick that
// overruns a 15 minute interval.
var DefaultTickDurationBuckets = []float64{
	0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 120, 300, 600, 900, 1800,
}

// NewReaperMetricsWithRegistry creates reaper metrics registered with reg.
func NewReaperMetricsWithRegistry(reg prometheus.Registerer) *ReaperMetrics {
	f := promauto.With(reg)
	return &ReaperMetrics{
		TicksTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reaper",
			Subsystem: "scheduler",
			Name:      "ticks_total",
			Help:      "Total number of scheduler ticks, by result (run, paused).",
		}, []string{"result"}),
		TickDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "reaper",
			Subsystem: "scheduler",
			Name:      "tick_duration_seconds",
			Help:      "Duration of scheduler ticks in seconds.",
			Buckets:   DefaultTickDurationBuckets,
		}),
		TickFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reaper",
			Subsystem: "scheduler",
			Name:      "failures_total",
			Help:      "Total number of failed tick sub-operations, by operation.",
		}, []string{"operation"}),
		Budget: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "reaper",
			Subsystem: "quota",
			Name:      "budget",
			Help:      "Per-tick deletion budget computed by the last tick.",
		}),
		BudgetCapped: f.NewCounter(prometheus.CounterOpts{
			Namespace: "reaper",
			Subsystem: "quota",
			Name:      "budget_capped_total",
			Help:      "Total number of ticks whose budget was capped at the max batch size.",
		}),
		RecordsReaped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reaper",
			Subsystem: "batch",
			Name:      "records_total",
			Help:      "Total number of records reaped, by batch type (soft, hard).",
		}, []string{"type"}),
		ArtifactFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reaper",
			Subsystem: "batch",
			Name:      "artifact_failures_total",
			Help:      "Total number of artifact deletions that failed, by artifact.",
		}, []string{"artifact"}),
		LedgerFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: "reaper",
			Subsystem: "batch",
			Name:      "ledger_failures_total",
			Help:      "Total number of status ledger writes that were not acknowledged.",
		}),
		AuditWrites: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reaper",
			Subsystem: "audit",
			Name:      "writes_total",
			Help:      "Total number of audit report writes, by batch type and status.",
		}, []string{"type", "status"}),
	}
}

// RecordTick records one finished tick.
func (m *ReaperMetrics) RecordTick(durationSeconds float64, paused bool) {
	result := TickRun
	if paused {
		result = TickPaused
	}
	m.TicksTotal.WithLabelValues(result).Inc()
	m.TickDuration.Observe(durationSeconds)
}

// RecordTickFailure records a failed sub-operation.
func (m *ReaperMetrics) RecordTickFailure(op string) {
	m.TickFailures.WithLabelValues(op).Inc()
}

// RecordBudget records the computed budget.
func (m *ReaperMetrics) RecordBudget(budget int, capped bool) {
	m.Budget.Set(float64(budget))
	if capped {
		m.BudgetCapped.Inc()
	}
}

// RecordReaped records n reaped records of batchType.
func (m *ReaperMetrics) RecordReaped(batchType string, n int) {
	m.RecordsReaped.WithLabelValues(batchType).Add(float64(n))
}

// RecordArtifactFailure records a failed artifact deletion.
func (m *ReaperMetrics) RecordArtifactFailure(artifact string) {
	m.ArtifactFailures.WithLabelValues(artifact).Inc()
}

// RecordLedgerFailures records n unacknowledged ledger writes.
func (m *ReaperMetrics) RecordLedgerFailures(n int) {
	m.LedgerFailures.Add(float64(n))
}

// RecordAuditWrite records an audit report write.
func (m *ReaperMetrics) RecordAuditWrite(batchType string, success bool) {
	m.AuditWrites.WithLabelValues(batchType, status(success)).Inc()
}

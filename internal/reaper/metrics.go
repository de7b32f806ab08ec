package reaper

// Metrics receives reaper observations. The metrics package implements it
// with Prometheus collectors.
type Metrics interface {
	RecordTick(seconds float64, paused bool)
	RecordTickFailure(op string)
	RecordBudget(budget int, capped bool)
	RecordReaped(batchType string, n int)
	RecordArtifactFailure(artifact string)
	RecordLedgerFailures(n int)
	RecordAuditWrite(batchType string, success bool)
}

// NopMetrics discards every observation.
type NopMetrics struct{}

func (NopMetrics) RecordTick(float64, bool)      {}
func (NopMetrics) RecordTickFailure(string)      {}
func (NopMetrics) RecordBudget(int, bool)        {}
func (NopMetrics) RecordReaped(string, int)      {}
func (NopMetrics) RecordArtifactFailure(string)  {}
func (NopMetrics) RecordLedgerFailures(int)      {}
func (NopMetrics) RecordAuditWrite(string, bool) {}

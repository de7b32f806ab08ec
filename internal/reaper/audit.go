package reaper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/assetvault/reaper/internal/logging"
	"github.com/assetvault/reaper/internal/objectstore"
)

// ErrAuditNotConfigured is returned before any deletion when no audit
// destination is set.
var ErrAuditNotConfigured = errors.New("reaper: audit destination not configured")

// auditTimestampLayout is RFC 3339 with a fixed nine-digit fraction so keys
// of one day sort chronologically.
const auditTimestampLayout = "2006-01-02T15:04:05.000000000Z"

const auditPutAttempts = 3

// AuditKey returns {type}/{YYYY-MM-DD}/{type}-{timestamp}-{id}.json.
func AuditKey(report BatchReport) string {
	ts := report.Timestamp.UTC()
	return fmt.Sprintf("%s/%s/%s-%s-%s.json",
		report.Type, ts.Format(time.DateOnly), report.Type, ts.Format(auditTimestampLayout), report.ID)
}

// AuditLogger writes one immutable JSON document per executed batch.
type AuditLogger struct {
	store   objectstore.Store
	metrics Metrics
	logger  *logging.Logger
}

// NewAuditLogger creates an AuditLogger writing to store. A nil store leaves
// the logger unconfigured.
func NewAuditLogger(store objectstore.Store, metrics Metrics, logger *logging.Logger) *AuditLogger {
	if metrics == nil {
		metrics = NopMetrics{}
	}
	if logger == nil {
		logger = logging.Global()
	}
	return &AuditLogger{store: store, metrics: metrics, logger: logger.Named("audit")}
}

// Configured reports whether reports have somewhere to go.
func (a *AuditLogger) Configured() bool {
	return a != nil && a.store != nil
}

// Record persists report and returns its key. Existing reports are never
// overwritten: a key collision moves the timestamp forward by a nanosecond
// and tries again.
func (a *AuditLogger) Record(ctx context.Context, report BatchReport) (string, error) {
	if !a.Configured() {
		return "", ErrAuditNotConfigured
	}
	log := logging.FromCtx(ctx, a.logger)

	var lastErr error
	for attempt := 0; attempt < auditPutAttempts; attempt++ {
		key := AuditKey(report)
		data, err := json.Marshal(report)
		if err != nil {
			return "", fmt.Errorf("encode audit report: %w", err)
		}
		err = a.store.PutWithOptions(ctx, key, bytes.NewReader(data), int64(len(data)), "application/json",
			objectstore.PutOptions{IfNoneMatch: "*"})
		if err == nil {
			a.metrics.RecordAuditWrite(string(report.Type), true)
			log.Infof("audit report written", map[string]any{
				"key":     key,
				"batchId": report.ID,
				"records": len(report.Outcome),
			})
			return key, nil
		}
		lastErr = err
		if !errors.Is(err, objectstore.ErrPreconditionFailed) {
			break
		}
		log.Warnf("audit key collision, retrying", map[string]any{"key": key})
		report.Timestamp = report.Timestamp.Add(time.Nanosecond)
	}

	a.metrics.RecordAuditWrite(string(report.Type), false)
	return "", fmt.Errorf("write audit report: %w", lastErr)
}

// Package reaper removes eligible records from the index, the image bucket
// and the status ledger under a per-tick budget.
//
// Soft reap marks records soft-deleted and mirrors the mark into the ledger.
// Hard reap removes the index entry of soft-deleted records and then every
// derived artifact. Each executed batch that touched a record is written to
// the audit bucket. The Scheduler drives both on a fixed interval; the
// manual trigger API and the CLI call Execute directly.
package reaper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/assetvault/reaper/internal/config"
	"github.com/assetvault/reaper/internal/eligibility"
	"github.com/assetvault/reaper/internal/events"
	"github.com/assetvault/reaper/internal/index"
	"github.com/assetvault/reaper/internal/ledger"
	"github.com/assetvault/reaper/internal/logging"
	"github.com/assetvault/reaper/internal/objectstore"
)

// ErrInvalidCount is returned for counts outside [0, config.MaxBatch].
var ErrInvalidCount = fmt.Errorf("reaper: count must be between 0 and %d", config.MaxBatch)

// Config wires a Reaper to its backends.
type Config struct {
	Index  index.Index
	Ledger ledger.Ledger
	// Images holds the record artifacts.
	Images objectstore.Store
	// Audit may be nil, in which case Execute fails with
	// ErrAuditNotConfigured.
	Audit   *AuditLogger
	Events  events.Publisher
	Metrics Metrics
	Logger  *logging.Logger
	Now     func() time.Time
}

// Reaper runs soft and hard batches.
type Reaper struct {
	index   index.Index
	ledger  ledger.Ledger
	images  objectstore.Store
	audit   *AuditLogger
	events  events.Publisher
	metrics Metrics
	logger  *logging.Logger
	now     func() time.Time
}

// New creates a Reaper.
func New(cfg Config) *Reaper {
	if cfg.Events == nil {
		cfg.Events = events.Nop{}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NopMetrics{}
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Global()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Reaper{
		index:   cfg.Index,
		ledger:  cfg.Ledger,
		images:  cfg.Images,
		audit:   cfg.Audit,
		events:  cfg.Events,
		metrics: cfg.Metrics,
		logger:  cfg.Logger.Named("reaper"),
		now:     cfg.Now,
	}
}

// Execute runs one batch of typ and records its audit report. The audit
// destination is checked before anything is deleted. Batches that touched
// no record produce no report. A failed audit write fails the call even
// though the deletions already happened; the outcome is still returned.
func (r *Reaper) Execute(ctx context.Context, typ Type, count int, deletedBy string, policy eligibility.Policy) (BatchOutcome, error) {
	if !r.audit.Configured() {
		return nil, ErrAuditNotConfigured
	}
	if count < 0 || count > config.MaxBatch {
		return nil, ErrInvalidCount
	}

	var (
		outcome BatchOutcome
		err     error
	)
	switch typ {
	case TypeSoft:
		outcome, err = r.SoftReap(ctx, count, deletedBy, policy)
	case TypeHard:
		outcome, err = r.HardReap(ctx, count, deletedBy, policy)
	default:
		return nil, fmt.Errorf("reaper: unknown batch type %q", typ)
	}
	if err != nil {
		return nil, fmt.Errorf("%s reap: %w", typ, err)
	}

	touched := outcome.Touched()
	if len(touched) == 0 {
		return outcome, nil
	}
	r.metrics.RecordReaped(string(typ), len(touched))

	report := BatchReport{
		ID:        uuid.NewString(),
		Type:      typ,
		DeletedBy: deletedBy,
		Timestamp: r.now().UTC(),
		Outcome:   outcome,
	}
	log := logging.FromCtx(ctx, r.logger)
	if _, err := r.audit.Record(ctx, report); err != nil {
		log.Errorf("batch executed but audit report was lost", map[string]any{
			"type":    string(typ),
			"batchId": report.ID,
			"records": len(touched),
			"error":   err.Error(),
		})
		return outcome, err
	}

	if typ == TypeHard {
		r.publish(ctx, report, touched)
	}
	log.Infof("batch executed", map[string]any{
		"type":      string(typ),
		"batchId":   report.ID,
		"deletedBy": deletedBy,
		"selected":  len(outcome),
		"reaped":    len(touched),
	})
	return outcome, nil
}

// publish announces purged ids. Failures are logged only.
func (r *Reaper) publish(ctx context.Context, report BatchReport, ids []string) {
	evs := make([]events.Event, len(ids))
	for i, id := range ids {
		evs[i] = events.Event{
			ID:        id,
			DeletedBy: report.DeletedBy,
			DeletedAt: report.Timestamp,
			Type:      string(report.Type),
			BatchID:   report.ID,
		}
	}
	if err := r.events.Publish(ctx, evs); err != nil {
		logging.FromCtx(ctx, r.logger).Warnf("deletion events not published", map[string]any{
			"batchId": report.ID,
			"error":   err.Error(),
		})
	}
}

// ErrNotSoftDeleted is returned by Restore for records that are absent or
// active.
var ErrNotSoftDeleted = errors.New("reaper: record is not soft-deleted")

// Restore reverses a soft delete and records the reversal in the ledger.
func (r *Reaper) Restore(ctx context.Context, id, actor string) error {
	ok, err := r.index.Restore(ctx, id)
	if err != nil {
		return fmt.Errorf("restore %s: %w", id, err)
	}
	if !ok {
		return ErrNotSoftDeleted
	}
	entry := ledger.Entry{RecordID: id, DeletedBy: actor, DeleteTime: r.now().UTC(), IsDeleted: false}
	if errs := r.ledger.SetStatuses(ctx, []ledger.Entry{entry}); len(errs) > 0 && errs[0] != nil {
		return fmt.Errorf("restore %s: ledger: %w", id, errs[0])
	}
	logging.FromCtx(ctx, r.logger).Infof("record restored", map[string]any{"id": id, "actor": actor})
	return nil
}

package reaper

import (
	"context"
	"errors"
	"fmt"

	"github.com/assetvault/reaper/internal/eligibility"
	"github.com/assetvault/reaper/internal/index"
	"github.com/assetvault/reaper/internal/ledger"
	"github.com/assetvault/reaper/internal/logging"
)

var errMissingAck = errors.New("ledger returned no acknowledgement")

// SoftReap marks up to count eligible active records soft-deleted, oldest
// first, and mirrors each confirmed mark into the status ledger.
//
// Ids the index did not confirm are reported with index=false and no ledger
// flag. A ledger failure leaves the index mark in place and is reported as
// ledgerWritten=false. The call fails only when selection fails or when no id
// could be marked because of an index error.
func (r *Reaper) SoftReap(ctx context.Context, count int, deletedBy string, policy eligibility.Policy) (BatchOutcome, error) {
	outcome := BatchOutcome{}
	if count <= 0 {
		return outcome, nil
	}
	log := logging.FromCtx(ctx, r.logger).With(map[string]any{"type": string(TypeSoft)})

	ids, err := r.index.SelectEligibleActive(ctx, policy, count)
	if err != nil {
		return nil, fmt.Errorf("select active records: %w", err)
	}
	if len(ids) == 0 {
		log.Debug("no eligible active records")
		return outcome, nil
	}

	marker := index.SoftDeleteMarker{DeletedAt: r.now().UTC(), DeletedBy: deletedBy}
	confirmed, err := r.index.MarkSoftDeleted(ctx, ids, marker)
	if err != nil {
		if len(confirmed) == 0 {
			return nil, fmt.Errorf("mark soft-deleted: %w", err)
		}
		log.Warnf("some records were not marked", map[string]any{
			"selected":  len(ids),
			"confirmed": len(confirmed),
			"error":     err.Error(),
		})
	}

	marked := make(map[string]bool, len(confirmed))
	for _, id := range confirmed {
		marked[id] = true
	}
	for _, id := range ids {
		if !marked[id] {
			outcome.set(id, KeyIndex, false)
			outcome.skip(id, KeyLedgerWritten)
		}
	}
	if len(confirmed) == 0 {
		return outcome, nil
	}

	entries := make([]ledger.Entry, len(confirmed))
	for i, id := range confirmed {
		entries[i] = ledger.Entry{
			RecordID:   id,
			DeletedBy:  deletedBy,
			DeleteTime: marker.DeletedAt,
			IsDeleted:  true,
		}
	}
	acks := r.ledger.SetStatuses(ctx, entries)

	failed := 0
	for i, id := range confirmed {
		outcome.set(id, KeyIndex, true)
		ackErr := errMissingAck
		if i < len(acks) {
			ackErr = acks[i]
		}
		if ackErr != nil {
			failed++
			log.Warnf("ledger write failed", map[string]any{"id": id, "error": ackErr.Error()})
		}
		outcome.set(id, KeyLedgerWritten, ackErr == nil)
	}
	if failed > 0 {
		r.metrics.RecordLedgerFailures(failed)
	}
	return outcome, nil
}

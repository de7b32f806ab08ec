package reaper

import (
	"context"
	"errors"
	"fmt"

	"github.com/assetvault/reaper/internal/eligibility"
	"github.com/assetvault/reaper/internal/logging"
	"github.com/assetvault/reaper/internal/objectstore"
)

// HardReap purges up to count eligible soft-deleted records. The index entry
// goes first; artifacts are deleted only for ids whose removal was
// confirmed, and their failures are reported per artifact without retry.
// Ids whose removal failed or was skipped, because the record was restored
// or purged since selection, carry index=false and null artifact flags.
func (r *Reaper) HardReap(ctx context.Context, count int, deletedBy string, policy eligibility.Policy) (BatchOutcome, error) {
	outcome := BatchOutcome{}
	if count <= 0 {
		return outcome, nil
	}
	log := logging.FromCtx(ctx, r.logger).With(map[string]any{"type": string(TypeHard), "deletedBy": deletedBy})

	ids, err := r.index.SelectEligibleSoftDeleted(ctx, policy, count)
	if err != nil {
		return nil, fmt.Errorf("select soft-deleted records: %w", err)
	}
	if len(ids) == 0 {
		log.Debug("no eligible soft-deleted records")
		return outcome, nil
	}

	removed, err := r.index.Remove(ctx, ids)
	if err != nil {
		if len(removed) == 0 {
			return nil, fmt.Errorf("remove index entries: %w", err)
		}
		log.Warnf("some index entries were not removed", map[string]any{
			"selected": len(ids),
			"removed":  len(removed),
			"error":    err.Error(),
		})
	}

	gone := make(map[string]bool, len(removed))
	for _, id := range removed {
		gone[id] = true
	}
	for _, id := range ids {
		if !gone[id] {
			outcome.set(id, KeyIndex, false)
			for _, kind := range objectstore.Artifacts {
				outcome.skip(id, string(kind))
			}
			continue
		}
		outcome.set(id, KeyIndex, true)
		for _, kind := range objectstore.Artifacts {
			outcome.set(id, string(kind), r.deleteArtifact(ctx, log, kind, id))
		}
	}
	return outcome, nil
}

// deleteArtifact removes one artifact. A missing object counts as deleted.
func (r *Reaper) deleteArtifact(ctx context.Context, log *logging.Logger, kind objectstore.ArtifactKind, id string) bool {
	key := objectstore.ArtifactKey(kind, id)
	err := r.images.Delete(ctx, key)
	if err == nil || errors.Is(err, objectstore.ErrNotFound) {
		return true
	}
	r.metrics.RecordArtifactFailure(string(kind))
	log.Warnf("artifact delete failed", map[string]any{
		"id":       id,
		"artifact": string(kind),
		"key":      key,
		"error":    err.Error(),
	})
	return false
}

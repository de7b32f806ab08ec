package index

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/assetvault/reaper/internal/eligibility"
	"github.com/assetvault/reaper/internal/logging"
	"github.com/assetvault/reaper/internal/metadata"
	"github.com/assetvault/reaper/internal/metadata/keys"
)

// DefaultPageSize is the number of keys fetched per range scan page.
const DefaultPageSize = 500

// Config configures a KVIndex.
type Config struct {
	// PageSize bounds each range scan. Default: DefaultPageSize.
	PageSize int

	// Logger receives conflict and skip diagnostics. Default: logging.Global().
	Logger *logging.Logger

	// Now supplies the ingestion time for records stored without one.
	Now func() time.Time
}

// KVIndex implements Index on a metadata.MetadataStore.
type KVIndex struct {
	store    metadata.MetadataStore
	pageSize int
	logger   *logging.Logger
	now      func() time.Time
}

// New creates a KVIndex.
func New(store metadata.MetadataStore, cfg Config) *KVIndex {
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Global()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &KVIndex{
		store:    store,
		pageSize: cfg.PageSize,
		logger:   cfg.Logger.Named("index"),
		now:      cfg.Now,
	}
}

// Put stores a record and appends it to the ingestion log. It is used by the
// ingestion side and by tests; the reaper never creates records.
func (x *KVIndex) Put(ctx context.Context, rec Record) error {
	if err := keys.ValidateID(rec.ID); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	if rec.IngestedAt.IsZero() {
		rec.IngestedAt = x.now()
	}
	rec.IngestedAt = rec.IngestedAt.UTC()

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("index: encode %s: %w", rec.ID, err)
	}
	if _, err := x.store.Put(ctx, keys.RecordKey(rec.ID), data); err != nil {
		return fmt.Errorf("index: put %s: %w", rec.ID, err)
	}
	if _, err := x.store.Put(ctx, keys.IngestedKey(rec.IngestedAt, rec.ID), nil); err != nil {
		return fmt.Errorf("index: log ingestion of %s: %w", rec.ID, err)
	}
	return nil
}

// Get returns the record with the given id.
func (x *KVIndex) Get(ctx context.Context, id string) (Record, bool, error) {
	rec, _, ok, err := x.get(ctx, id)
	return rec, ok, err
}

func (x *KVIndex) get(ctx context.Context, id string) (Record, metadata.Version, bool, error) {
	result, err := x.store.Get(ctx, keys.RecordKey(id))
	if err != nil {
		return Record{}, 0, false, fmt.Errorf("index: get %s: %w", id, err)
	}
	if !result.Exists {
		return Record{}, 0, false, nil
	}
	var rec Record
	if err := json.Unmarshal(result.Value, &rec); err != nil {
		return Record{}, 0, false, fmt.Errorf("index: decode %s: %w", id, err)
	}
	return rec, result.Version, true, nil
}

// CountIngestedSince counts ingestion log entries at or after since,
// including records that have since been purged.
func (x *KVIndex) CountIngestedSince(ctx context.Context, since time.Time) (int, error) {
	count := 0
	err := x.scan(ctx, keys.IngestedBoundKey(since), keys.IngestedMaxKey(), func(kv metadata.KV) error {
		if _, _, err := keys.ParseIngestedKey(kv.Key); err != nil {
			x.logger.Warnf("skipping malformed ingestion log key", map[string]any{"key": kv.Key})
			return nil
		}
		count++
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("index: count ingested: %w", err)
	}
	return count, nil
}

// PruneIngestedBefore deletes up to limit ingestion log entries older than
// before and returns how many were removed.
func (x *KVIndex) PruneIngestedBefore(ctx context.Context, before time.Time, limit int) (int, error) {
	kvs, err := x.store.List(ctx, keys.IngestedBoundKey(time.UnixMilli(0)), keys.IngestedBoundKey(before), limit)
	if err != nil {
		return 0, fmt.Errorf("index: list expired ingestion log: %w", err)
	}
	pruned := 0
	for _, kv := range kvs {
		if err := x.store.Delete(ctx, kv.Key); err != nil {
			return pruned, fmt.Errorf("index: prune %s: %w", kv.Key, err)
		}
		pruned++
	}
	return pruned, nil
}

// SelectEligibleActive returns up to limit ids of active records the policy
// allows, oldest ingestion first with ties broken by id.
func (x *KVIndex) SelectEligibleActive(ctx context.Context, policy eligibility.Policy, limit int) ([]string, error) {
	return x.selectEligible(ctx, policy, limit, false)
}

// SelectEligibleSoftDeleted returns up to limit ids of soft-deleted records
// the policy allows, in the same order as SelectEligibleActive.
func (x *KVIndex) SelectEligibleSoftDeleted(ctx context.Context, policy eligibility.Policy, limit int) ([]string, error) {
	return x.selectEligible(ctx, policy, limit, true)
}

func (x *KVIndex) selectEligible(ctx context.Context, policy eligibility.Policy, limit int, softDeleted bool) ([]string, error) {
	if limit <= 0 {
		return nil, nil
	}

	var candidates []Record
	err := x.scan(ctx, keys.RecordsPrefix, keys.RecordsEndKey(), func(kv metadata.KV) error {
		id, err := keys.ParseRecordKey(kv.Key)
		if err != nil {
			x.logger.Warnf("skipping malformed record key", map[string]any{"key": kv.Key})
			return nil
		}
		var rec Record
		if err := json.Unmarshal(kv.Value, &rec); err != nil {
			x.logger.Warnf("skipping undecodable record", map[string]any{"key": kv.Key, "error": err.Error()})
			return nil
		}
		if rec.ID != id {
			x.logger.Warnf("skipping record stored under another id", map[string]any{"key": kv.Key, "id": rec.ID})
			return nil
		}
		if rec.IsSoftDeleted() == softDeleted && rec.EligibleUnder(policy) {
			candidates = append(candidates, rec)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("index: select: %w", err)
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if !a.IngestedAt.Equal(b.IngestedAt) {
			return a.IngestedAt.Before(b.IngestedAt)
		}
		return a.ID < b.ID
	})
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	ids := make([]string, len(candidates))
	for i, rec := range candidates {
		ids[i] = rec.ID
	}
	return ids, nil
}

// MarkSoftDeleted attaches marker to each active record in ids.
func (x *KVIndex) MarkSoftDeleted(ctx context.Context, ids []string, marker SoftDeleteMarker) ([]string, error) {
	marker.DeletedAt = marker.DeletedAt.UTC()

	var confirmed []string
	var errs []error
	for _, id := range ids {
		rec, version, ok, err := x.get(ctx, id)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !ok || rec.IsSoftDeleted() {
			x.logger.Debugf("record no longer active, skipping mark", map[string]any{"id": id, "exists": ok})
			continue
		}

		m := marker
		rec.SoftDelete = &m
		data, err := json.Marshal(rec)
		if err != nil {
			errs = append(errs, fmt.Errorf("index: encode %s: %w", id, err))
			continue
		}
		if _, err := x.store.Put(ctx, keys.RecordKey(id), data, metadata.WithExpectedVersion(version)); err != nil {
			if errors.Is(err, metadata.ErrVersionMismatch) {
				x.logger.Debugf("concurrent update, skipping mark", map[string]any{"id": id})
				continue
			}
			errs = append(errs, fmt.Errorf("index: mark %s: %w", id, err))
			continue
		}
		confirmed = append(confirmed, id)
	}
	return confirmed, errors.Join(errs...)
}

// Restore clears the soft-delete marker of a record. It returns false when
// the record is absent or not soft-deleted.
func (x *KVIndex) Restore(ctx context.Context, id string) (bool, error) {
	rec, version, ok, err := x.get(ctx, id)
	if err != nil || !ok || !rec.IsSoftDeleted() {
		return false, err
	}
	rec.SoftDelete = nil
	data, err := json.Marshal(rec)
	if err != nil {
		return false, fmt.Errorf("index: encode %s: %w", id, err)
	}
	if _, err := x.store.Put(ctx, keys.RecordKey(id), data, metadata.WithExpectedVersion(version)); err != nil {
		return false, fmt.Errorf("index: restore %s: %w", id, err)
	}
	return true, nil
}

// Remove deletes the documents of ids that are still soft-deleted. Ids that
// are absent, were restored, or changed since they were read are skipped.
func (x *KVIndex) Remove(ctx context.Context, ids []string) ([]string, error) {
	var confirmed []string
	var errs []error
	for _, id := range ids {
		rec, version, ok, err := x.get(ctx, id)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !ok || !rec.IsSoftDeleted() {
			x.logger.Debugf("record no longer soft-deleted, skipping remove", map[string]any{"id": id, "exists": ok})
			continue
		}
		if err := x.store.Delete(ctx, keys.RecordKey(id), metadata.WithDeleteExpectedVersion(version)); err != nil {
			if errors.Is(err, metadata.ErrVersionMismatch) {
				x.logger.Debugf("concurrent update, skipping remove", map[string]any{"id": id})
				continue
			}
			errs = append(errs, fmt.Errorf("index: remove %s: %w", id, err))
			continue
		}
		confirmed = append(confirmed, id)
	}
	return confirmed, errors.Join(errs...)
}

// scan pages through [start, end) and calls fn for every entry.
func (x *KVIndex) scan(ctx context.Context, start, end string, fn func(metadata.KV) error) error {
	for {
		page, err := x.store.List(ctx, start, end, x.pageSize)
		if err != nil {
			return err
		}
		for _, kv := range page {
			if err := fn(kv); err != nil {
				return err
			}
		}
		if len(page) < x.pageSize {
			return nil
		}
		start = page[len(page)-1].Key + "\x00"
	}
}

var _ Index = (*KVIndex)(nil)

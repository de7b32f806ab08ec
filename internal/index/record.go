// Package index is the authoritative "is it live" store for records.
//
// A record is active until it carries a SoftDeleteMarker, soft-deleted while
// it does, and purged once its document is removed. Documents are JSON values
// in a metadata.MetadataStore; marking uses compare-and-set on the document
// version so that overlapping ticks never mark the same record twice.
package index

import (
	"context"
	"errors"
	"time"

	"github.com/assetvault/reaper/internal/eligibility"
)

// ErrInvalidRecord is returned when a record cannot be stored.
var ErrInvalidRecord = errors.New("index: invalid record")

// SoftDeleteMarker is attached to a record when it is soft-deleted.
type SoftDeleteMarker struct {
	DeletedAt time.Time `json:"deletedAt"`
	DeletedBy string    `json:"deletedBy"`
}

// Record is a unit of managed content.
type Record struct {
	ID          string            `json:"id"`
	Collections []string          `json:"collections,omitempty"`
	Markers     []string          `json:"markers,omitempty"`
	IngestedAt  time.Time         `json:"ingestedAt"`
	SoftDelete  *SoftDeleteMarker `json:"softDelete,omitempty"`
}

// IsSoftDeleted reports whether the record carries a soft-delete marker.
func (r Record) IsSoftDeleted() bool {
	return r.SoftDelete != nil
}

// EligibleUnder reports whether policy allows reaping the record.
func (r Record) EligibleUnder(policy eligibility.Policy) bool {
	return policy.Allows(r.Collections, r.Markers)
}

// Index is the record index as seen by the reap operations.
//
// MarkSoftDeleted and Remove return the ids the index confirmed together
// with a joined error for the ids that failed. Ids that were skipped
// (already marked, restored, lost a compare-and-set, or absent) are neither
// confirmed nor errors. Restore clears the marker of one soft-deleted record.
type Index interface {
	CountIngestedSince(ctx context.Context, since time.Time) (int, error)
	SelectEligibleActive(ctx context.Context, policy eligibility.Policy, limit int) ([]string, error)
	SelectEligibleSoftDeleted(ctx context.Context, policy eligibility.Policy, limit int) ([]string, error)
	MarkSoftDeleted(ctx context.Context, ids []string, marker SoftDeleteMarker) ([]string, error)
	Remove(ctx context.Context, ids []string) ([]string, error)
	Restore(ctx context.Context, id string) (bool, error)
}

// Package ledger is the durable mirror of deletion state. Entries are
// written by soft reap and stay queryable after the index entry is gone; the
// reaper never deletes them.
package ledger

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrNotFound is returned by Get when no entry exists for a record.
var ErrNotFound = errors.New("ledger: entry not found")

// Entry is the deletion state of one record.
type Entry struct {
	RecordID   string
	DeletedBy  string
	DeleteTime time.Time
	IsDeleted  bool
}

// Ledger persists entries. SetStatuses returns one error slot per entry, in
// input order; a nil slot means the entry was acknowledged.
type Ledger interface {
	SetStatuses(ctx context.Context, entries []Entry) []error
	Get(ctx context.Context, recordID string) (Entry, error)
}

// MemoryLedger is an in-memory Ledger for tests and for running without a
// database. Failures can be injected per record with FailOn.
type MemoryLedger struct {
	mu       sync.RWMutex
	entries  map[string]Entry
	failures map[string]error
}

// NewMemoryLedger creates an empty MemoryLedger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		entries:  make(map[string]Entry),
		failures: make(map[string]error),
	}
}

// FailOn makes writes for recordID fail with err. A nil err clears it.
func (l *MemoryLedger) FailOn(recordID string, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err == nil {
		delete(l.failures, recordID)
		return
	}
	l.failures[recordID] = err
}

func (l *MemoryLedger) SetStatuses(_ context.Context, entries []Entry) []error {
	l.mu.Lock()
	defer l.mu.Unlock()

	errs := make([]error, len(entries))
	for i, e := range entries {
		if err, ok := l.failures[e.RecordID]; ok {
			errs[i] = err
			continue
		}
		l.entries[e.RecordID] = e
	}
	return errs
}

func (l *MemoryLedger) Get(_ context.Context, recordID string) (Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	e, ok := l.entries[recordID]
	if !ok {
		return Entry{}, ErrNotFound
	}
	return e, nil
}

var _ Ledger = (*MemoryLedger)(nil)

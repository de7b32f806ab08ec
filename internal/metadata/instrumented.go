package metadata

import (
	"context"
	"errors"
	"time"
)

// Operation labels passed to MetricsRecorder.
const (
	OpGet    = "get"
	OpPut    = "put"
	OpDelete = "delete"
	OpList   = "list"
)

// MetricsRecorder records metadata store operation metrics.
// This keeps the metadata package decoupled from the metrics package.
type MetricsRecorder interface {
	RecordOperation(op string, durationSeconds float64, success bool)
	RecordConflict(op string)
}

// InstrumentedStore wraps a MetadataStore and records metrics for each operation.
type InstrumentedStore struct {
	store   MetadataStore
	metrics MetricsRecorder
}

// NewInstrumentedStore creates an instrumented wrapper around a MetadataStore.
// If metrics is nil, operations pass through directly.
func NewInstrumentedStore(store MetadataStore, metrics MetricsRecorder) *InstrumentedStore {
	return &InstrumentedStore{
		store:   store,
		metrics: metrics,
	}
}

func (s *InstrumentedStore) record(op string, start time.Time, err error) {
	if s.metrics == nil {
		return
	}
	if errors.Is(err, ErrVersionMismatch) {
		// A lost compare-and-set is an expected outcome under overlapping ticks.
		s.metrics.RecordConflict(op)
		s.metrics.RecordOperation(op, time.Since(start).Seconds(), true)
		return
	}
	s.metrics.RecordOperation(op, time.Since(start).Seconds(), err == nil)
}

func (s *InstrumentedStore) Get(ctx context.Context, key string) (GetResult, error) {
	start := time.Now()
	result, err := s.store.Get(ctx, key)
	s.record(OpGet, start, err)
	return result, err
}

func (s *InstrumentedStore) Put(ctx context.Context, key string, value []byte, opts ...PutOption) (Version, error) {
	start := time.Now()
	v, err := s.store.Put(ctx, key, value, opts...)
	s.record(OpPut, start, err)
	return v, err
}

func (s *InstrumentedStore) Delete(ctx context.Context, key string, opts ...DeleteOption) error {
	start := time.Now()
	err := s.store.Delete(ctx, key, opts...)
	s.record(OpDelete, start, err)
	return err
}

func (s *InstrumentedStore) List(ctx context.Context, startKey, endKey string, limit int) ([]KV, error) {
	start := time.Now()
	result, err := s.store.List(ctx, startKey, endKey, limit)
	s.record(OpList, start, err)
	return result, err
}

func (s *InstrumentedStore) Close() error {
	return s.store.Close()
}

var _ MetadataStore = (*InstrumentedStore)(nil)

package objectstore

import (
	"context"
	"io"
	"time"
)

// Operation labels passed to MetricsRecorder.
const (
	OpPut    = "put"
	OpGet    = "get"
	OpHead   = "head"
	OpDelete = "delete"
	OpList   = "list"

	OpHeadBucket = "head_bucket"
)

// MetricsRecorder records object store operation metrics.
// This keeps the objectstore package decoupled from the metrics package.
type MetricsRecorder interface {
	RecordOperation(bucket, op string, durationSeconds float64, success bool)
	RecordBytesWritten(bucket string, n int64)
}

// InstrumentedStore wraps a Store and records metrics for each operation,
// labelled with the logical bucket name ("images", "audit", "pause").
type InstrumentedStore struct {
	store   Store
	bucket  string
	metrics MetricsRecorder
}

// NewInstrumentedStore creates an instrumented wrapper around a Store.
// If metrics is nil, operations pass through directly.
func NewInstrumentedStore(store Store, bucket string, metrics MetricsRecorder) *InstrumentedStore {
	return &InstrumentedStore{
		store:   store,
		bucket:  bucket,
		metrics: metrics,
	}
}

func (s *InstrumentedStore) record(op string, start time.Time, err error) {
	if s.metrics == nil {
		return
	}
	// A missing object on Head is an answer, not a failure.
	success := err == nil || (op == OpHead && isNotFound(err))
	s.metrics.RecordOperation(s.bucket, op, time.Since(start).Seconds(), success)
}

func (s *InstrumentedStore) Put(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error {
	return s.PutWithOptions(ctx, key, reader, size, contentType, PutOptions{})
}

func (s *InstrumentedStore) PutWithOptions(ctx context.Context, key string, reader io.Reader, size int64, contentType string, opts PutOptions) error {
	start := time.Now()
	err := s.store.PutWithOptions(ctx, key, reader, size, contentType, opts)
	s.record(OpPut, start, err)
	if err == nil && s.metrics != nil {
		s.metrics.RecordBytesWritten(s.bucket, size)
	}
	return err
}

func (s *InstrumentedStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	start := time.Now()
	rc, err := s.store.Get(ctx, key)
	s.record(OpGet, start, err)
	return rc, err
}

func (s *InstrumentedStore) Head(ctx context.Context, key string) (ObjectMeta, error) {
	start := time.Now()
	meta, err := s.store.Head(ctx, key)
	s.record(OpHead, start, err)
	return meta, err
}

func (s *InstrumentedStore) Delete(ctx context.Context, key string) error {
	start := time.Now()
	err := s.store.Delete(ctx, key)
	s.record(OpDelete, start, err)
	return err
}

func (s *InstrumentedStore) List(ctx context.Context, prefix string) ([]ObjectMeta, error) {
	start := time.Now()
	result, err := s.store.List(ctx, prefix)
	s.record(OpList, start, err)
	return result, err
}

func (s *InstrumentedStore) VerifyBucket(ctx context.Context) error {
	start := time.Now()
	err := VerifyBucket(ctx, s.store)
	s.record(OpHeadBucket, start, err)
	return err
}

func (s *InstrumentedStore) Close() error {
	return s.store.Close()
}

var (
	_ Store          = (*InstrumentedStore)(nil)
	_ BucketVerifier = (*InstrumentedStore)(nil)
)

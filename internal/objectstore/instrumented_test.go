package objectstore

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
)

type opCall struct {
	bucket  string
	op      string
	success bool
}

type mockMetrics struct {
	mu    sync.Mutex
	ops   []opCall
	bytes int64
}

func (m *mockMetrics) RecordOperation(bucket, op string, _ float64, success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops = append(m.ops, opCall{bucket, op, success})
}

func (m *mockMetrics) RecordBytesWritten(_ string, n int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bytes += n
}

func TestInstrumentedStoreRecordsOperations(t *testing.T) {
	ctx := context.Background()
	metrics := &mockMetrics{}
	store := NewInstrumentedStore(NewMockStore(), "audit", metrics)

	payload := []byte(`{"id":"b1"}`)
	if err := store.Put(ctx, "soft/x.json", bytes.NewReader(payload), int64(len(payload)), "application/json"); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Head(ctx, "soft/x.json"); err != nil {
		t.Fatal(err)
	}
	if _, err := store.List(ctx, "soft/"); err != nil {
		t.Fatal(err)
	}
	if err := store.Delete(ctx, "soft/x.json"); err != nil {
		t.Fatal(err)
	}

	want := []string{OpPut, OpHead, OpList, OpDelete}
	if len(metrics.ops) != len(want) {
		t.Fatalf("expected %d recorded ops, got %d", len(want), len(metrics.ops))
	}
	for i, op := range want {
		got := metrics.ops[i]
		if got.op != op || got.bucket != "audit" || !got.success {
			t.Errorf("op[%d] = %+v, want %s/audit/success", i, got, op)
		}
	}
	if metrics.bytes != int64(len(payload)) {
		t.Errorf("bytes written = %d, want %d", metrics.bytes, len(payload))
	}
}

func TestInstrumentedStoreHeadNotFoundIsSuccess(t *testing.T) {
	metrics := &mockMetrics{}
	store := NewInstrumentedStore(NewMockStore(), "pause", metrics)

	_, err := store.Head(context.Background(), "reaper/PAUSED")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Head = %v, want ErrNotFound", err)
	}
	if len(metrics.ops) != 1 || !metrics.ops[0].success {
		t.Fatalf("not found on head should record success, got %+v", metrics.ops)
	}
}

func TestInstrumentedStoreRecordsFailure(t *testing.T) {
	inner := NewMockStore()
	inner.FailOn("Delete", "", ErrAccessDenied)
	metrics := &mockMetrics{}
	store := NewInstrumentedStore(inner, "images", metrics)

	if err := store.Delete(context.Background(), "rec-1"); !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("Delete = %v, want ErrAccessDenied", err)
	}
	if len(metrics.ops) != 1 || metrics.ops[0].success {
		t.Fatalf("expected one failed delete, got %+v", metrics.ops)
	}
}

func TestInstrumentedStoreNilMetrics(t *testing.T) {
	store := NewInstrumentedStore(NewMockStore(), "images", nil)
	if err := store.Put(context.Background(), "rec-1", bytes.NewReader(nil), 0, "image/jpeg"); err != nil {
		t.Fatalf("Put with nil metrics failed: %v", err)
	}
}

func TestInstrumentedStoreVerifyBucket(t *testing.T) {
	ctx := context.Background()
	metrics := &mockMetrics{}
	inner := NewMockStore()
	store := NewInstrumentedStore(inner, "pause", metrics)

	if err := VerifyBucket(ctx, store); err != nil {
		t.Fatalf("VerifyBucket = %v", err)
	}
	inner.FailOn("HeadBucket", "", ErrBucketNotFound)
	if err := VerifyBucket(ctx, store); !errors.Is(err, ErrBucketNotFound) {
		t.Fatalf("VerifyBucket = %v, want ErrBucketNotFound", err)
	}

	if len(metrics.ops) != 2 {
		t.Fatalf("expected 2 recorded ops, got %d", len(metrics.ops))
	}
	if got := metrics.ops[0]; got.op != OpHeadBucket || !got.success {
		t.Errorf("op[0] = %+v", got)
	}
	if got := metrics.ops[1]; got.op != OpHeadBucket || got.success {
		t.Errorf("op[1] = %+v", got)
	}
}

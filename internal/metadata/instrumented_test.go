package metadata

import (
	"context"
	"errors"
	"testing"
)

type opCall struct {
	op      string
	success bool
}

type mockMetrics struct {
	ops       []opCall
	conflicts []string
}

func (m *mockMetrics) RecordOperation(op string, _ float64, success bool) {
	m.ops = append(m.ops, opCall{op, success})
}

func (m *mockMetrics) RecordConflict(op string) {
	m.conflicts = append(m.conflicts, op)
}

func TestInstrumentedStoreRecordsOperations(t *testing.T) {
	metrics := &mockMetrics{}
	store := NewInstrumentedStore(NewMockStore(), metrics)
	ctx := context.Background()

	v, err := store.Put(ctx, "k", []byte("v"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.Get(ctx, "k"); err != nil {
		t.Fatal(err)
	}
	if _, err := store.List(ctx, "k", "", 0); err != nil {
		t.Fatal(err)
	}
	if err := store.Delete(ctx, "k", WithDeleteExpectedVersion(v)); err != nil {
		t.Fatal(err)
	}

	want := []string{OpPut, OpGet, OpList, OpDelete}
	if len(metrics.ops) != len(want) {
		t.Fatalf("expected %d ops, got %+v", len(want), metrics.ops)
	}
	for i, op := range want {
		if metrics.ops[i].op != op || !metrics.ops[i].success {
			t.Errorf("op[%d] = %+v, want successful %s", i, metrics.ops[i], op)
		}
	}
}

func TestInstrumentedStoreConflict(t *testing.T) {
	metrics := &mockMetrics{}
	store := NewInstrumentedStore(NewMockStore(), metrics)
	ctx := context.Background()

	if _, err := store.Put(ctx, "k", nil, WithExpectedVersion(0)); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Put(ctx, "k", nil, WithExpectedVersion(0)); !errors.Is(err, ErrVersionMismatch) {
		t.Fatalf("expected version mismatch, got %v", err)
	}

	if len(metrics.conflicts) != 1 || metrics.conflicts[0] != OpPut {
		t.Fatalf("conflicts = %v, want [put]", metrics.conflicts)
	}
	if !metrics.ops[1].success {
		t.Error("a lost compare-and-set should not count as a failure")
	}
}

func TestInstrumentedStoreFailure(t *testing.T) {
	inner := NewMockStore()
	inner.FailOn("Get", "", errors.New("unavailable"))
	metrics := &mockMetrics{}
	store := NewInstrumentedStore(inner, metrics)

	if _, err := store.Get(context.Background(), "k"); err == nil {
		t.Fatal("expected error")
	}
	if len(metrics.ops) != 1 || metrics.ops[0].success {
		t.Fatalf("expected one failed op, got %+v", metrics.ops)
	}
}

func TestInstrumentedStoreNilMetrics(t *testing.T) {
	store := NewInstrumentedStore(NewMockStore(), nil)
	if _, err := store.Put(context.Background(), "k", nil); err != nil {
		t.Fatalf("Put with nil metrics failed: %v", err)
	}
}

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/assetvault/reaper/internal/eligibility"
	"github.com/assetvault/reaper/internal/logging"
	"github.com/assetvault/reaper/internal/objectstore"
	"github.com/assetvault/reaper/internal/reaper"
)

type stubExecutor struct {
	calls   int
	count   int
	actor   string
	outcome reaper.BatchOutcome
	err     error
}

func (s *stubExecutor) Execute(_ context.Context, _ reaper.Type, count int, deletedBy string, _ eligibility.Policy) (reaper.BatchOutcome, error) {
	s.calls++
	s.count = count
	s.actor = deletedBy
	return s.outcome, s.err
}

func TestReapOnceRejectsCount(t *testing.T) {
	for _, count := range []int{0, -1, 1001} {
		exec := &stubExecutor{}
		if err := reapOnce(context.Background(), exec, reaper.TypeSoft, count, "ops", eligibility.Policy{}, io.Discard); err == nil {
			t.Errorf("count %d: expected error", count)
		}
		if exec.calls != 0 {
			t.Errorf("count %d: executor called", count)
		}
	}
}

func TestReapOncePrintsOutcome(t *testing.T) {
	yes := true
	exec := &stubExecutor{outcome: reaper.BatchOutcome{"r1": {reaper.KeyIndex: &yes}}}
	var buf bytes.Buffer

	if err := reapOnce(context.Background(), exec, reaper.TypeHard, 25, "ops", eligibility.Policy{}, &buf); err != nil {
		t.Fatalf("reapOnce: %v", err)
	}
	if exec.count != 25 || exec.actor != "ops" {
		t.Errorf("executor got count=%d actor=%q", exec.count, exec.actor)
	}
	var got map[string]map[string]*bool
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, buf.String())
	}
	if v := got["r1"]["index"]; v == nil || !*v {
		t.Errorf("unexpected output %s", buf.String())
	}
}

func TestReapOnceEmptyOutcomeAndError(t *testing.T) {
	exec := &stubExecutor{err: reaper.ErrAuditNotConfigured}
	var buf bytes.Buffer

	err := reapOnce(context.Background(), exec, reaper.TypeSoft, 1, "ops", eligibility.Policy{}, &buf)
	if !errors.Is(err, reaper.ErrAuditNotConfigured) {
		t.Fatalf("err = %v, want ErrAuditNotConfigured", err)
	}
	if strings.TrimSpace(buf.String()) != "{}" {
		t.Errorf("output = %q, want {}", buf.String())
	}
}

func TestSetPaused(t *testing.T) {
	store := objectstore.NewMockStore()
	ctx := context.Background()
	logger := logging.Discard()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	changed, err := setPaused(ctx, store, "s3://ops/reaper/PAUSED", "ops", true, now, logger)
	if err != nil || !changed {
		t.Fatalf("pause: changed=%v err=%v", changed, err)
	}
	gate := reaper.NewPauseGate(store, "s3://ops/reaper/PAUSED", logger)
	if !gate.IsPaused(ctx) {
		t.Fatal("gate not paused after pause")
	}

	rc, err := store.Get(ctx, "reaper/PAUSED")
	if err != nil {
		t.Fatalf("sentinel not at normalized key: %v", err)
	}
	data, _ := io.ReadAll(rc)
	rc.Close()
	if !strings.Contains(string(data), `"pausedBy":"ops"`) {
		t.Errorf("sentinel body = %s", data)
	}

	changed, err = setPaused(ctx, store, "reaper/PAUSED", "ops", true, now, logger)
	if err != nil || changed {
		t.Errorf("second pause: changed=%v err=%v, want no change", changed, err)
	}

	changed, err = setPaused(ctx, store, "reaper/PAUSED", "ops", false, now, logger)
	if err != nil || !changed {
		t.Fatalf("resume: changed=%v err=%v", changed, err)
	}
	if gate.IsPaused(ctx) {
		t.Error("gate still paused after resume")
	}

	changed, err = setPaused(ctx, store, "reaper/PAUSED", "ops", false, now, logger)
	if err != nil || changed {
		t.Errorf("second resume: changed=%v err=%v, want no change", changed, err)
	}
}

func TestSetPausedStoreError(t *testing.T) {
	store := objectstore.NewMockStore()
	store.FailOn("Head", "reaper/PAUSED", errors.New("access denied"))

	if _, err := setPaused(context.Background(), store, "reaper/PAUSED", "ops", true, time.Now(), logging.Discard()); err == nil {
		t.Fatal("expected error when the sentinel cannot be checked")
	}
	if len(store.Puts()) != 0 {
		t.Errorf("sentinel written despite the failed check: %v", store.Puts())
	}
}

func TestRestoreRecords(t *testing.T) {
	tb := newTestBackends(true)
	svc := newTestService(t, tb)
	seedRecords(t, svc, tb)
	ctx := context.Background()

	if _, err := svc.reaper.Execute(ctx, reaper.TypeSoft, 10, "reaper", svc.policy); err != nil {
		t.Fatalf("soft reap: %v", err)
	}

	var buf bytes.Buffer
	err := restoreRecords(ctx, svc.reaper, []string{"a", "b"}, "ops", &buf)
	if !errors.Is(err, reaper.ErrNotSoftDeleted) {
		t.Fatalf("err = %v, want ErrNotSoftDeleted for b", err)
	}
	out := buf.String()
	if !strings.Contains(out, "a\trestored") || !strings.Contains(out, "b\tnot soft-deleted") {
		t.Errorf("unexpected output:\n%s", out)
	}

	rec, ok, err := svc.index.Get(ctx, "a")
	if err != nil || !ok || rec.IsSoftDeleted() {
		t.Errorf("a after restore: %+v ok=%v err=%v", rec, ok, err)
	}
	entry, err := tb.ledger.Get(ctx, "a")
	if err != nil || entry.IsDeleted || entry.DeletedBy != "ops" {
		t.Errorf("ledger entry = %+v, %v", entry, err)
	}
}

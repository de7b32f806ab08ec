package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestMemoryLedgerSetStatuses(t *testing.T) {
	l := NewMemoryLedger()
	boom := errors.New("boom")
	l.FailOn("b", boom)
	now := time.Date(2026, 10, 17, 0, 0, 0, 0, time.UTC)

	errs := l.SetStatuses(context.Background(), []Entry{
		{RecordID: "a", DeletedBy: "reaper", DeleteTime: now, IsDeleted: true},
		{RecordID: "b", DeletedBy: "reaper", DeleteTime: now, IsDeleted: true},
	})
	if len(errs) != 2 {
		t.Fatalf("expected 2 error slots, got %d", len(errs))
	}
	if errs[0] != nil {
		t.Errorf("entry a should be acknowledged, got %v", errs[0])
	}
	if !errors.Is(errs[1], boom) {
		t.Errorf("entry b should fail with boom, got %v", errs[1])
	}

	e, err := l.Get(context.Background(), "a")
	if err != nil || !e.IsDeleted || e.DeletedBy != "reaper" {
		t.Fatalf("Get(a) = %+v, %v", e, err)
	}
	if _, err := l.Get(context.Background(), "b"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get(b) = %v, want ErrNotFound", err)
	}
}

type execCall struct {
	sql  string
	args []any
}

type fakeDB struct {
	calls  []execCall
	failOn string
	row    pgx.Row
}

func (f *fakeDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.calls = append(f.calls, execCall{sql, args})
	if args[0] == f.failOn {
		return pgconn.CommandTag{}, errors.New("connection reset")
	}
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (f *fakeDB) QueryRow(_ context.Context, _ string, _ ...any) pgx.Row {
	return f.row
}

type errRow struct{ err error }

func (r errRow) Scan(...any) error { return r.err }

func TestPostgresSetStatusesPerEntry(t *testing.T) {
	db := &fakeDB{failOn: "b"}
	p := NewPostgres(db)
	when := time.Date(2026, 10, 17, 9, 0, 0, 0, time.FixedZone("CEST", 2*3600))

	errs := p.SetStatuses(context.Background(), []Entry{
		{RecordID: "a", DeletedBy: "alice", DeleteTime: when, IsDeleted: true},
		{RecordID: "b", DeletedBy: "alice", DeleteTime: when, IsDeleted: true},
		{RecordID: "c", DeletedBy: "alice", DeleteTime: when, IsDeleted: true},
	})

	if len(db.calls) != 3 {
		t.Fatalf("expected one statement per entry, got %d", len(db.calls))
	}
	if errs[0] != nil || errs[2] != nil {
		t.Errorf("entries a and c should succeed: %v", errs)
	}
	if errs[1] == nil {
		t.Error("entry b should fail")
	}
	if got := db.calls[0].args[2].(time.Time); got.Location() != time.UTC {
		t.Errorf("delete time should be stored in UTC, got %s", got.Location())
	}
}

func TestPostgresGetNotFound(t *testing.T) {
	p := NewPostgres(&fakeDB{row: errRow{pgx.ErrNoRows}})
	if _, err := p.Get(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get = %v, want ErrNotFound", err)
	}
}

func TestMigrateURL(t *testing.T) {
	tests := map[string]string{
		"postgres://u:p@db:5432/reaper?sslmode=disable":   "pgx5://u:p@db:5432/reaper?sslmode=disable",
		"postgresql://u:p@db:5432/reaper?sslmode=disable": "pgx5://u:p@db:5432/reaper?sslmode=disable",
		"pgx5://u:p@db/reaper":                            "pgx5://u:p@db/reaper",
	}
	for in, want := range tests {
		if got := migrateURL(in); got != want {
			t.Errorf("migrateURL(%q) = %q, want %q", in, got, want)
		}
	}
}

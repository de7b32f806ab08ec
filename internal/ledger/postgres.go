package ledger

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/assetvault/reaper/internal/logging"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DBTX is the subset of pgxpool.Pool used by Postgres, so tests and
// transactions can stand in for the pool.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Connect creates a connection pool and verifies it with a ping.
func Connect(ctx context.Context, dsn string, maxConns int32) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("ledger: parse dsn: %w", err)
	}
	if maxConns > 0 {
		poolCfg.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("ledger: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ledger: ping: %w", err)
	}
	return pool, nil
}

// Migrate applies the embedded schema migrations to the database at dsn.
func Migrate(dsn string, logger *logging.Logger) error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("ledger: open migrations: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, migrateURL(dsn))
	if err != nil {
		return fmt.Errorf("ledger: init migrations: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("ledger: apply migrations: %w", err)
	}

	version, dirty, _ := m.Version()
	logger.Infof("ledger migrations applied", map[string]any{"version": version, "dirty": dirty})
	return nil
}

// migrateURL rewrites a postgres:// DSN to the pgx5:// scheme golang-migrate expects.
func migrateURL(dsn string) string {
	for _, scheme := range []string{"postgres://", "postgresql://"} {
		if rest, ok := strings.CutPrefix(dsn, scheme); ok {
			return "pgx5://" + rest
		}
	}
	return dsn
}

const upsertStatus = `
INSERT INTO status_ledger (record_id, deleted_by, delete_time, is_deleted, updated_at)
VALUES ($1, $2, $3, $4, now())
ON CONFLICT (record_id) DO UPDATE
SET deleted_by = EXCLUDED.deleted_by,
    delete_time = EXCLUDED.delete_time,
    is_deleted = EXCLUDED.is_deleted,
    updated_at = now()`

const selectStatus = `
SELECT record_id, deleted_by, delete_time, is_deleted
FROM status_ledger
WHERE record_id = $1`

// Postgres is a Ledger stored in the status_ledger table.
type Postgres struct {
	db DBTX
}

// NewPostgres creates a Postgres ledger on db.
func NewPostgres(db DBTX) *Postgres {
	return &Postgres{db: db}
}

// SetStatuses upserts each entry on its own so one failing row does not
// hide the acknowledgement of the others.
func (p *Postgres) SetStatuses(ctx context.Context, entries []Entry) []error {
	errs := make([]error, len(entries))
	for i, e := range entries {
		if _, err := p.db.Exec(ctx, upsertStatus, e.RecordID, e.DeletedBy, e.DeleteTime.UTC(), e.IsDeleted); err != nil {
			errs[i] = fmt.Errorf("ledger: upsert %s: %w", e.RecordID, err)
		}
	}
	return errs
}

// Get returns the ledger entry of recordID.
func (p *Postgres) Get(ctx context.Context, recordID string) (Entry, error) {
	var e Entry
	err := p.db.QueryRow(ctx, selectStatus, recordID).Scan(&e.RecordID, &e.DeletedBy, &e.DeleteTime, &e.IsDeleted)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Entry{}, ErrNotFound
		}
		return Entry{}, fmt.Errorf("ledger: get %s: %w", recordID, err)
	}
	e.DeleteTime = e.DeleteTime.UTC()
	return e, nil
}

var _ Ledger = (*Postgres)(nil)

package server

import (
	"context"
	"errors"

	"github.com/assetvault/reaper/internal/metadata"
	"github.com/assetvault/reaper/internal/metadata/keys"
	"github.com/assetvault/reaper/internal/objectstore"
)

// MetadataStoreChecker verifies the Oxia connection with a Get of a key that
// never exists.
type MetadataStoreChecker struct {
	store metadata.MetadataStore
}

// NewMetadataStoreChecker creates a new MetadataStoreChecker.
func NewMetadataStoreChecker(store metadata.MetadataStore) *MetadataStoreChecker {
	return &MetadataStoreChecker{store: store}
}

func (c *MetadataStoreChecker) Name() string {
	return "metadata_store"
}

func (c *MetadataStoreChecker) CheckReady(ctx context.Context) error {
	if c.store == nil {
		return errors.New("metadata store not configured")
	}
	_, err := c.store.Get(ctx, keys.Prefix+"/health-check")
	if err != nil && !errors.Is(err, metadata.ErrKeyNotFound) {
		return err
	}
	return nil
}

// BucketChecker verifies the bucket exists and then that a Head of a key
// that never exists answers. A missing object is healthy; a missing bucket
// or denied access is not.
type BucketChecker struct {
	name  string
	store objectstore.Store
}

// NewBucketChecker creates a BucketChecker reported as name.
func NewBucketChecker(name string, store objectstore.Store) *BucketChecker {
	return &BucketChecker{name: name, store: store}
}

func (c *BucketChecker) Name() string {
	return c.name
}

func (c *BucketChecker) CheckReady(ctx context.Context) error {
	if c.store == nil {
		return errors.New(c.name + " not configured")
	}
	if err := objectstore.VerifyBucket(ctx, c.store); err != nil {
		return err
	}
	_, err := objectstore.Exists(ctx, c.store, "reaper-health-check-nonexistent-key")
	return err
}

// Pinger is implemented by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// LedgerChecker verifies the status ledger database answers.
type LedgerChecker struct {
	db Pinger
}

// NewLedgerChecker creates a new LedgerChecker.
func NewLedgerChecker(db Pinger) *LedgerChecker {
	return &LedgerChecker{db: db}
}

func (c *LedgerChecker) Name() string {
	return "status_ledger"
}

func (c *LedgerChecker) CheckReady(ctx context.Context) error {
	if c.db == nil {
		return nil // in-memory ledger
	}
	return c.db.Ping(ctx)
}

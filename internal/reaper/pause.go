package reaper

import (
	"context"

	"github.com/assetvault/reaper/internal/logging"
	"github.com/assetvault/reaper/internal/objectstore"
)

// PauseGate reports whether reaping is suspended. The sentinel object is
// looked up on every call; a storage error or a missing bucket counts as
// paused.
type PauseGate struct {
	store  objectstore.Store
	key    string
	logger *logging.Logger
}

// NewPauseGate creates a PauseGate for the sentinel at key in store.
func NewPauseGate(store objectstore.Store, key string, logger *logging.Logger) *PauseGate {
	if logger == nil {
		logger = logging.Global()
	}
	return &PauseGate{
		store:  store,
		key:    objectstore.NormalizeKey(key),
		logger: logger.Named("pause"),
	}
}

// Key returns the normalized sentinel key.
func (g *PauseGate) Key() string {
	return g.key
}

// IsPaused checks for the sentinel.
func (g *PauseGate) IsPaused(ctx context.Context) bool {
	exists, err := objectstore.Exists(ctx, g.store, g.key)
	if err != nil {
		logging.FromCtx(ctx, g.logger).Errorf("pause check failed, treating as paused", map[string]any{
			"key":   g.key,
			"error": err.Error(),
		})
		return true
	}
	if exists {
		return true
	}
	if err := objectstore.VerifyBucket(ctx, g.store); err != nil {
		logging.FromCtx(ctx, g.logger).Errorf("pause bucket unavailable, treating as paused", map[string]any{
			"key":   g.key,
			"error": err.Error(),
		})
		return true
	}
	return false
}

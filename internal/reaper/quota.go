package reaper

import (
	"context"
	"fmt"
	"time"

	"github.com/assetvault/reaper/internal/config"
	"github.com/assetvault/reaper/internal/logging"
)

// IngestionCounter counts records ingested since a point in time.
type IngestionCounter interface {
	CountIngestedSince(ctx context.Context, since time.Time) (int, error)
}

// Budget computes min(floor(ingested / ticksPerWindow), maxBatch), where
// ticksPerWindow is floor(window / interval). A window shorter than one
// interval is treated as a single tick.
func Budget(ingested int, window, interval time.Duration, maxBatch int) int {
	if ingested <= 0 || interval <= 0 {
		return 0
	}
	ticks := int64(window / interval)
	if ticks < 1 {
		ticks = 1
	}
	budget := int64(ingested) / ticks
	if budget > int64(maxBatch) {
		return maxBatch
	}
	return int(budget)
}

// Quota derives the per-tick deletion budget from trailing ingestion volume.
type Quota struct {
	counter  IngestionCounter
	window   time.Duration
	interval time.Duration
	maxBatch int
	now      func() time.Time
	metrics  Metrics
	logger   *logging.Logger
}

// QuotaConfig configures a Quota.
type QuotaConfig struct {
	Interval time.Duration
	// Window defaults to seven days.
	Window time.Duration
	// MaxBatch defaults to config.MaxBatch.
	MaxBatch int
	Now      func() time.Time
	Metrics  Metrics
	Logger   *logging.Logger
}

// NewQuota creates a Quota backed by counter.
func NewQuota(counter IngestionCounter, cfg QuotaConfig) *Quota {
	if cfg.Window <= 0 {
		cfg.Window = 7 * 24 * time.Hour
	}
	if cfg.MaxBatch <= 0 || cfg.MaxBatch > config.MaxBatch {
		cfg.MaxBatch = config.MaxBatch
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NopMetrics{}
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Global()
	}
	return &Quota{
		counter:  counter,
		window:   cfg.Window,
		interval: cfg.Interval,
		maxBatch: cfg.MaxBatch,
		now:      cfg.Now,
		metrics:  cfg.Metrics,
		logger:   cfg.Logger.Named("quota"),
	}
}

// TicksPerWindow returns floor(window / interval).
func (q *Quota) TicksPerWindow() int {
	if q.interval <= 0 {
		return 0
	}
	return int(q.window / q.interval)
}

// Compute counts the trailing window and returns this tick's budget.
func (q *Quota) Compute(ctx context.Context) (int, error) {
	ingested, err := q.counter.CountIngestedSince(ctx, q.now().Add(-q.window))
	if err != nil {
		return 0, fmt.Errorf("count ingested: %w", err)
	}
	budget := Budget(ingested, q.window, q.interval, q.maxBatch)
	capped := budget == q.maxBatch
	q.metrics.RecordBudget(budget, capped)

	log := logging.FromCtx(ctx, q.logger)
	fields := map[string]any{
		"ingested":       ingested,
		"ticksPerWindow": q.TicksPerWindow(),
		"budget":         budget,
	}
	if capped {
		log.Warnf("budget capped at max batch, shorten the reap interval", fields)
	} else {
		log.Debugf("budget computed", fields)
	}
	return budget, nil
}

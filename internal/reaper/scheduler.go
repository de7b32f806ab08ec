package reaper

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/assetvault/reaper/internal/eligibility"
	"github.com/assetvault/reaper/internal/logging"
)

// Executor runs one persisted batch. *Reaper implements it.
type Executor interface {
	Execute(ctx context.Context, typ Type, count int, deletedBy string, policy eligibility.Policy) (BatchOutcome, error)
}

// Pauser reports whether reaping is suspended. *PauseGate implements it.
type Pauser interface {
	IsPaused(ctx context.Context) bool
}

// Budgeter computes the per-tick budget. *Quota implements it.
type Budgeter interface {
	Compute(ctx context.Context) (int, error)
}

// IngestionPruner drops ingestion log entries that left the quota window.
type IngestionPruner interface {
	PruneIngestedBefore(ctx context.Context, before time.Time, limit int) (int, error)
}

// DefaultPruneLimit bounds the ingestion log entries pruned per tick.
const DefaultPruneLimit = 10000

// TickResult summarises one tick.
type TickResult struct {
	CorrelationID string
	Paused        bool
	Budget        int
	Soft          BatchOutcome
	Hard          BatchOutcome
	QuotaErr      error
	SoftErr       error
	HardErr       error
	Duration      time.Duration
}

// SchedulerConfig configures a Scheduler.
type SchedulerConfig struct {
	Interval  time.Duration
	DeletedBy string
	Policy    eligibility.Policy

	Executor Executor
	Pause    Pauser
	Quota    Budgeter

	// Pruner is optional. Entries older than Window are pruned each
	// unpaused tick.
	Pruner     IngestionPruner
	Window     time.Duration
	PruneLimit int

	Metrics Metrics
	Logger  *logging.Logger
	Now     func() time.Time
}

// Scheduler fires a tick every Interval, regardless of how long earlier ticks
// take. Each tick runs in its own goroutine and ticks may overlap; the
// operations they call are idempotent.
type Scheduler struct {
	cfg     SchedulerConfig
	metrics Metrics
	logger  *logging.Logger

	mu       sync.Mutex
	running  bool
	stopCh   chan struct{}
	doneCh   chan struct{}
	lastTick time.Time

	ticks sync.WaitGroup
}

// NewScheduler creates a Scheduler.
func NewScheduler(cfg SchedulerConfig) *Scheduler {
	if cfg.Window <= 0 {
		cfg.Window = 7 * 24 * time.Hour
	}
	if cfg.PruneLimit <= 0 {
		cfg.PruneLimit = DefaultPruneLimit
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NopMetrics{}
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Global()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Scheduler{
		cfg:     cfg,
		metrics: cfg.Metrics,
		logger:  cfg.Logger.Named("scheduler"),
	}
}

// Start begins the ticker loop. Calling Start on a running scheduler does
// nothing.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.mu.Unlock()

	s.logger.Infof("scheduler started", map[string]any{
		"interval":  s.cfg.Interval.String(),
		"deletedBy": s.cfg.DeletedBy,
	})
	go s.run()
}

// Stop ends the ticker loop and waits for in-flight ticks.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	close(s.stopCh)
	s.mu.Unlock()

	<-s.doneCh
	s.ticks.Wait()

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
	s.logger.Info("scheduler stopped")
}

// Running reports whether the ticker loop is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// LastTick returns the start time of the most recent tick.
func (s *Scheduler) LastTick() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastTick
}

func (s *Scheduler) run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.ticks.Add(1)
			go func() {
				defer s.ticks.Done()
				s.RunTick(context.Background())
			}()
		}
	}
}

// RunTick runs one tick synchronously: pause check, quota, then soft and
// hard reap concurrently with the same budget. Failures and panics are
// logged and reported in the result; they never escape.
func (s *Scheduler) RunTick(ctx context.Context) (result TickResult) {
	start := s.cfg.Now()
	s.mu.Lock()
	s.lastTick = start
	s.mu.Unlock()

	result.CorrelationID = uuid.NewString()
	ctx = logging.WithCorrelationIDCtx(ctx, result.CorrelationID)
	log := logging.FromCtx(ctx, s.logger)

	defer func() {
		if rec := recover(); rec != nil {
			s.metrics.RecordTickFailure("tick")
			log.Errorf("tick panicked", map[string]any{
				"panic": fmt.Sprint(rec),
				"stack": string(debug.Stack()),
			})
		}
		result.Duration = s.cfg.Now().Sub(start)
		s.metrics.RecordTick(result.Duration.Seconds(), result.Paused)
	}()

	if s.cfg.Pause.IsPaused(ctx) {
		result.Paused = true
		log.Info("reaper paused, skipping tick")
		return result
	}

	budget, err := s.cfg.Quota.Compute(ctx)
	if err != nil {
		result.QuotaErr = err
		s.metrics.RecordTickFailure("quota")
		log.Errorf("quota computation failed", map[string]any{"error": err.Error()})
		return result
	}
	result.Budget = budget

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		result.Soft, result.SoftErr = s.execute(ctx, TypeSoft, budget)
	}()
	go func() {
		defer wg.Done()
		result.Hard, result.HardErr = s.execute(ctx, TypeHard, budget)
	}()
	wg.Wait()

	s.prune(ctx)

	log.Infof("tick finished", map[string]any{
		"budget":   budget,
		"soft":     len(result.Soft.Touched()),
		"hard":     len(result.Hard.Touched()),
		"duration": s.cfg.Now().Sub(start).String(),
	})
	return result
}

// execute runs one sub-operation, converting a panic into an error.
func (s *Scheduler) execute(ctx context.Context, typ Type, budget int) (outcome BatchOutcome, err error) {
	log := logging.FromCtx(ctx, s.logger)
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%s reap panicked: %v", typ, rec)
			log.Errorf("sub-operation panicked", map[string]any{
				"type":  string(typ),
				"panic": fmt.Sprint(rec),
				"stack": string(debug.Stack()),
			})
		}
		if err != nil {
			s.metrics.RecordTickFailure(string(typ))
		}
	}()

	outcome, err = s.cfg.Executor.Execute(ctx, typ, budget, s.cfg.DeletedBy, s.cfg.Policy)
	if err != nil {
		log.Errorf("sub-operation failed", map[string]any{"type": string(typ), "error": err.Error()})
	}
	return outcome, err
}

func (s *Scheduler) prune(ctx context.Context) {
	if s.cfg.Pruner == nil {
		return
	}
	n, err := s.cfg.Pruner.PruneIngestedBefore(ctx, s.cfg.Now().Add(-s.cfg.Window), s.cfg.PruneLimit)
	log := logging.FromCtx(ctx, s.logger)
	if err != nil {
		log.Warnf("ingestion log prune failed", map[string]any{"error": err.Error()})
		return
	}
	if n > 0 {
		log.Debugf("ingestion log pruned", map[string]any{"entries": n})
	}
}

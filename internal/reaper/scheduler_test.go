package reaper

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/assetvault/reaper/internal/eligibility"
	"github.com/assetvault/reaper/internal/logging"
	"github.com/assetvault/reaper/internal/objectstore"
)

type fixedBudget int

func (b fixedBudget) Compute(context.Context) (int, error) { return int(b), nil }

type budgetErr struct{}

func (budgetErr) Compute(context.Context) (int, error) { return 0, errors.New("count failed") }

type pauseFunc func(ctx context.Context) bool

func (f pauseFunc) IsPaused(ctx context.Context) bool { return f(ctx) }

type execFunc func(ctx context.Context, typ Type, count int) (BatchOutcome, error)

func (f execFunc) Execute(ctx context.Context, typ Type, count int, _ string, _ eligibility.Policy) (BatchOutcome, error) {
	return f(ctx, typ, count)
}

type pruneRecorder struct {
	calls  atomic.Int32
	before time.Time
}

func (p *pruneRecorder) PruneIngestedBefore(_ context.Context, before time.Time, _ int) (int, error) {
	p.calls.Add(1)
	p.before = before
	return 0, nil
}

func newSchedulerFixture(t *testing.T, f *fixture, budget Budgeter) (*Scheduler, *objectstore.MockStore) {
	t.Helper()
	pauseStore := objectstore.NewMockStore()
	s := NewScheduler(SchedulerConfig{
		Interval:  15 * time.Minute,
		DeletedBy: "reaper",
		Executor:  f.reaper,
		Pause:     NewPauseGate(pauseStore, "reaper/PAUSED", logging.Discard()),
		Quota:     budget,
		Pruner:    f.idx,
		Metrics:   f.metrics,
		Logger:    logging.Discard(),
		Now:       fixedNow,
	})
	return s, pauseStore
}

func TestRunTickPausedMutatesNothing(t *testing.T) {
	f := newFixture(t)
	f.threeActive(t)
	softDeleteAll(t, f, "r3")
	s, pauseStore := newSchedulerFixture(t, f, fixedBudget(10))
	require.NoError(t, pauseStore.Put(context.Background(), "reaper/PAUSED", strings.NewReader(""), 0, "text/plain"))

	result := s.RunTick(context.Background())
	assert.True(t, result.Paused)
	assert.NotEmpty(t, result.CorrelationID)

	rec, _ := f.record(t, "r1")
	assert.False(t, rec.IsSoftDeleted())
	_, ok := f.record(t, "r3")
	assert.True(t, ok)
	assert.Empty(t, f.images.Deletes())
	assert.Empty(t, f.audits.Keys())
	assert.Empty(t, f.ledgered("r1", "r2", "r3"))
	assert.Equal(t, 1, f.metrics.pausedTicks)
}

func TestRunTickPauseErrorSkips(t *testing.T) {
	f := newFixture(t)
	f.threeActive(t)
	s, pauseStore := newSchedulerFixture(t, f, fixedBudget(10))
	pauseStore.FailOn("Head", "", errors.New("dns failure"))

	result := s.RunTick(context.Background())
	assert.True(t, result.Paused)
	assert.Empty(t, f.audits.Keys())
}

func TestRunTickSoftAndHard(t *testing.T) {
	f := newFixture(t)
	f.threeActive(t)
	f.seed(t, mustRecord("old", t0.Add(-time.Hour)))
	softDeleteAll(t, f, "old")
	prune := &pruneRecorder{}

	s := NewScheduler(SchedulerConfig{
		Interval:  15 * time.Minute,
		DeletedBy: "reaper",
		Executor:  f.reaper,
		Pause:     pauseFunc(func(context.Context) bool { return false }),
		Quota:     fixedBudget(2),
		Pruner:    prune,
		Metrics:   f.metrics,
		Logger:    logging.Discard(),
		Now:       fixedNow,
	})

	result := s.RunTick(context.Background())
	require.NoError(t, result.SoftErr)
	require.NoError(t, result.HardErr)
	assert.False(t, result.Paused)
	assert.Equal(t, 2, result.Budget)
	assert.Equal(t, []string{"r1", "r2"}, result.Soft.Touched())
	assert.Contains(t, result.Hard.Touched(), "old")

	_, ok := f.record(t, "old")
	assert.False(t, ok)
	rec, _ := f.record(t, "r3")
	assert.False(t, rec.IsSoftDeleted())

	assert.EqualValues(t, 1, prune.calls.Load())
	assert.True(t, prune.before.Equal(t0.Add(-7*24*time.Hour)))
	assert.Equal(t, 1, f.metrics.ticks)
}

func TestRunTickQuotaFailureSkipsReap(t *testing.T) {
	var calls atomic.Int32
	s := NewScheduler(SchedulerConfig{
		Interval: time.Minute,
		Executor: execFunc(func(context.Context, Type, int) (BatchOutcome, error) {
			calls.Add(1)
			return nil, nil
		}),
		Pause:  pauseFunc(func(context.Context) bool { return false }),
		Quota:  budgetErr{},
		Logger: logging.Discard(),
	})

	result := s.RunTick(context.Background())
	assert.Error(t, result.QuotaErr)
	assert.EqualValues(t, 0, calls.Load())
}

func TestRunTickIndependentFailures(t *testing.T) {
	metrics := newRecordingMetrics()
	s := NewScheduler(SchedulerConfig{
		Interval: time.Minute,
		Executor: execFunc(func(_ context.Context, typ Type, count int) (BatchOutcome, error) {
			if typ == TypeHard {
				panic("nil pointer in artifact path")
			}
			o := BatchOutcome{}
			o.set("r1", KeyIndex, true)
			return o, nil
		}),
		Pause:   pauseFunc(func(context.Context) bool { return false }),
		Quota:   fixedBudget(3),
		Metrics: metrics,
		Logger:  logging.Discard(),
	})

	result := s.RunTick(context.Background())
	assert.NoError(t, result.SoftErr)
	assert.Equal(t, []string{"r1"}, result.Soft.Touched())
	assert.Error(t, result.HardErr)
	assert.Equal(t, 1, metrics.tickFailures["hard"])
}

func TestRunTickRecoversPanic(t *testing.T) {
	s := NewScheduler(SchedulerConfig{
		Interval: time.Minute,
		Pause:    pauseFunc(func(context.Context) bool { panic("boom") }),
		Quota:    fixedBudget(1),
		Logger:   logging.Discard(),
	})

	assert.NotPanics(t, func() { s.RunTick(context.Background()) })
}

func TestRunTickCarriesCorrelationID(t *testing.T) {
	var seen atomic.Value
	s := NewScheduler(SchedulerConfig{
		Interval: time.Minute,
		Executor: execFunc(func(ctx context.Context, typ Type, _ int) (BatchOutcome, error) {
			if typ == TypeSoft {
				seen.Store(logging.CorrelationIDFromCtx(ctx))
			}
			return BatchOutcome{}, nil
		}),
		Pause:  pauseFunc(func(context.Context) bool { return false }),
		Quota:  fixedBudget(1),
		Logger: logging.Discard(),
	})

	result := s.RunTick(context.Background())
	assert.Equal(t, result.CorrelationID, seen.Load())
}

func TestSchedulerStartStop(t *testing.T) {
	var calls atomic.Int32
	s := NewScheduler(SchedulerConfig{
		Interval: 10 * time.Millisecond,
		Executor: execFunc(func(context.Context, Type, int) (BatchOutcome, error) {
			calls.Add(1)
			return BatchOutcome{}, nil
		}),
		Pause:  pauseFunc(func(context.Context) bool { return false }),
		Quota:  fixedBudget(1),
		Logger: logging.Discard(),
	})

	s.Start()
	s.Start()
	assert.True(t, s.Running())
	require.Eventually(t, func() bool { return calls.Load() >= 4 }, 2*time.Second, 5*time.Millisecond)

	s.Stop()
	assert.False(t, s.Running())
	assert.False(t, s.LastTick().IsZero())

	after := calls.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, calls.Load())

	s.Stop()
}

func TestSchedulerStopWaitsForInFlightTick(t *testing.T) {
	release := make(chan struct{})
	var finished atomic.Bool
	s := NewScheduler(SchedulerConfig{
		Interval: 5 * time.Millisecond,
		Executor: execFunc(func(_ context.Context, typ Type, _ int) (BatchOutcome, error) {
			if typ == TypeSoft {
				<-release
				finished.Store(true)
			}
			return BatchOutcome{}, nil
		}),
		Pause:  pauseFunc(func(context.Context) bool { return false }),
		Quota:  fixedBudget(1),
		Logger: logging.Discard(),
	})

	s.Start()
	require.Eventually(t, func() bool { return !s.LastTick().IsZero() }, time.Second, time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a tick was in flight")
	case <-time.After(20 * time.Millisecond):
	}
	close(release)
	<-stopped
	assert.True(t, finished.Load())
}

package reaper

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/assetvault/reaper/internal/eligibility"
	"github.com/assetvault/reaper/internal/events"
	"github.com/assetvault/reaper/internal/index"
	"github.com/assetvault/reaper/internal/ledger"
	"github.com/assetvault/reaper/internal/logging"
	"github.com/assetvault/reaper/internal/metadata"
	"github.com/assetvault/reaper/internal/objectstore"
)

var t0 = time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

func fixedNow() time.Time { return t0 }

type recordingMetrics struct {
	mu               sync.Mutex
	ticks            int
	pausedTicks      int
	tickFailures     map[string]int
	budgets          []int
	capped           int
	reaped           map[string]int
	artifactFailures map[string]int
	ledgerFailures   int
	auditWrites      map[string]int
	auditFailures    int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{
		tickFailures:     make(map[string]int),
		reaped:           make(map[string]int),
		artifactFailures: make(map[string]int),
		auditWrites:      make(map[string]int),
	}
}

func (m *recordingMetrics) RecordTick(_ float64, paused bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ticks++
	if paused {
		m.pausedTicks++
	}
}

func (m *recordingMetrics) RecordTickFailure(op string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tickFailures[op]++
}

func (m *recordingMetrics) RecordBudget(budget int, capped bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.budgets = append(m.budgets, budget)
	if capped {
		m.capped++
	}
}

func (m *recordingMetrics) RecordReaped(batchType string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reaped[batchType] += n
}

func (m *recordingMetrics) RecordArtifactFailure(artifact string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.artifactFailures[artifact]++
}

func (m *recordingMetrics) RecordLedgerFailures(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ledgerFailures += n
}

func (m *recordingMetrics) RecordAuditWrite(batchType string, success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if success {
		m.auditWrites[batchType]++
	} else {
		m.auditFailures++
	}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, evs []events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evs...)
	return p.err
}

func (p *recordingPublisher) Close() {}

type fixture struct {
	meta      *metadata.MockStore
	idx       *index.KVIndex
	ledger    *ledger.MemoryLedger
	images    *objectstore.MockStore
	audits    *objectstore.MockStore
	metrics   *recordingMetrics
	publisher *recordingPublisher
	reaper    *Reaper
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		meta:      metadata.NewMockStore(),
		ledger:    ledger.NewMemoryLedger(),
		images:    objectstore.NewMockStore(),
		audits:    objectstore.NewMockStore(),
		metrics:   newRecordingMetrics(),
		publisher: &recordingPublisher{},
	}
	f.idx = index.New(f.meta, index.Config{Logger: logging.Discard(), Now: fixedNow})
	f.reaper = f.reaperWithIndex(f.idx)
	return f
}

// seed stores records and their three artifacts.
func (f *fixture) reaperWithIndex(idx index.Index) *Reaper {
	return New(Config{
		Index:   idx,
		Ledger:  f.ledger,
		Images:  f.images,
		Audit:   NewAuditLogger(f.audits, f.metrics, logging.Discard()),
		Events:  f.publisher,
		Metrics: f.metrics,
		Logger:  logging.Discard(),
		Now:     fixedNow,
	})
}

func (f *fixture) seed(t *testing.T, recs ...index.Record) {
	t.Helper()
	ctx := context.Background()
	for _, rec := range recs {
		require.NoError(t, f.idx.Put(ctx, rec))
		for _, kind := range objectstore.Artifacts {
			require.NoError(t, f.images.Put(ctx, objectstore.ArtifactKey(kind, rec.ID), strings.NewReader("img"), 3, "image/png"))
		}
	}
}

// threeActive seeds r1, r2 and r3, one minute apart.
func (f *fixture) threeActive(t *testing.T) {
	t.Helper()
	f.seed(t,
		index.Record{ID: "r1", IngestedAt: t0.Add(-3 * time.Minute)},
		index.Record{ID: "r2", IngestedAt: t0.Add(-2 * time.Minute)},
		index.Record{ID: "r3", IngestedAt: t0.Add(-1 * time.Minute)},
	)
}

func (f *fixture) record(t *testing.T, id string) (index.Record, bool) {
	t.Helper()
	rec, ok, err := f.idx.Get(context.Background(), id)
	require.NoError(t, err)
	return rec, ok
}

// ledgered returns the ids among ids that have a ledger entry.
func (f *fixture) ledgered(ids ...string) []string {
	var out []string
	for _, id := range ids {
		if _, err := f.ledger.Get(context.Background(), id); err == nil {
			out = append(out, id)
		}
	}
	return out
}

func (f *fixture) reports(t *testing.T) []BatchReport {
	t.Helper()
	ctx := context.Background()
	var out []BatchReport
	for _, key := range f.audits.Keys() {
		rc, err := f.audits.Get(ctx, key)
		require.NoError(t, err)
		data, err := io.ReadAll(rc)
		require.NoError(t, err)
		require.NoError(t, rc.Close())
		var report BatchReport
		require.NoError(t, json.Unmarshal(data, &report))
		out = append(out, report)
	}
	return out
}

func captureLogger(buf *bytes.Buffer) *logging.Logger {
	return logging.New(logging.Config{Level: logging.LevelDebug, Format: logging.FormatText, Output: buf})
}

var noPolicy = eligibility.Policy{}

func mustRecord(id string, at time.Time) index.Record {
	return index.Record{ID: id, IngestedAt: at}
}

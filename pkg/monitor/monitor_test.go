package monitor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowwatch/flowwatch/pkg/events"
	"github.com/flowwatch/flowwatch/pkg/logger"
	"github.com/flowwatch/flowwatch/pkg/metrics"
	"github.com/flowwatch/flowwatch/pkg/models"
	"github.com/flowwatch/flowwatch/pkg/source"
	"github.com/flowwatch/flowwatch/pkg/source/memory"
	"github.com/flowwatch/flowwatch/pkg/storage"
	memstore "github.com/flowwatch/flowwatch/pkg/storage/memory"
)

var t0 = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

type recordingMetrics struct {
	mu       sync.Mutex
	outcomes map[string]int
	stale    int
	sessions int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{outcomes: map[string]int{}}
}

func (r *recordingMetrics) RecordFetch(string, string, time.Duration) {}

func (r *recordingMetrics) RecordCycle(_ context.Context, outcome string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes[outcome]++
}

func (r *recordingMetrics) RecordStaleDiscard() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stale++
}

func (r *recordingMetrics) SetActiveSessions(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions = n
}

func (r *recordingMetrics) snapshot() (map[string]int, int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]int, len(r.outcomes))
	for k, v := range r.outcomes {
		out[k] = v
	}
	return out, r.stale, r.sessions
}

type failingPublisher struct{ calls atomic.Int32 }

func (p *failingPublisher) Publish(context.Context, events.Event) error {
	p.calls.Add(1)
	return errors.New("redis down")
}

func newTestMonitor(t *testing.T, src source.Source, opts ...Option) (*Monitor, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(t0)
	base := []Option{WithClock(clock), WithLogger(logger.Discard())}
	m := New(src, append(base, opts...)...)
	t.Cleanup(m.Close)
	return m, clock
}

func next(t *testing.T, ch <-chan events.Event) events.Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "subscription closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for snapshot update")
		return events.Event{}
	}
}

func seededSource() *memory.Source {
	src := memory.New()
	src.Seed("u1", t0)
	return src
}

func TestMonitor_StartAppliesImmediately(t *testing.T) {
	m, _ := newTestMonitor(t, seededSource())
	updates, cancel := m.Subscribe(4)
	defer cancel()

	assert.True(t, m.Snapshot().Stale())
	m.Start("u1")
	assert.True(t, m.Active())
	assert.Equal(t, "u1", m.UserID())

	ev := next(t, updates)
	assert.Equal(t, events.TypeSnapshotUpdated, ev.Type)
	assert.Equal(t, uint64(1), ev.Token)

	snap := m.Snapshot()
	assert.Equal(t, uint64(1), snap.Token)
	assert.Equal(t, t0, snap.FetchedAt)
	assert.Equal(t, 5, snap.Statistics.Total)
	require.Len(t, snap.ActiveWorkflows, 2)
	assert.Equal(t, "3m 12s", snap.ActiveWorkflows[0].Elapsed)
	assert.False(t, snap.Failures.Any())
}

func TestMonitor_PollsOnInterval(t *testing.T) {
	m, clock := newTestMonitor(t, seededSource())
	updates, cancel := m.Subscribe(4)
	defer cancel()

	m.Start("u1")
	next(t, updates)

	clock.Advance(5 * time.Second)
	ev := next(t, updates)
	assert.Equal(t, uint64(2), ev.Token)
	assert.Equal(t, t0.Add(5*time.Second), ev.Snapshot.FetchedAt)
}

func TestMonitor_BlankUserStaysStopped(t *testing.T) {
	src := seededSource()
	m, _ := newTestMonitor(t, src)

	m.Start("  ")
	assert.False(t, m.Active())
	assert.False(t, m.RefreshNow())
	assert.True(t, m.Snapshot().Stale())
	assert.Equal(t, 0, src.Calls(source.Statistics))
}

func TestMonitor_FailedSourceKeepsPrevious(t *testing.T) {
	src := seededSource()
	rec := newRecordingMetrics()
	m, _ := newTestMonitor(t, src, WithMetrics(rec))
	updates, cancel := m.Subscribe(4)
	defer cancel()

	m.Start("u1")
	first := next(t, updates).Snapshot
	require.Len(t, first.History, 3)

	src.Fail(source.History, errors.New("backend 500"))
	src.SetHistory("u1", nil)
	require.True(t, m.RefreshNow())

	second := next(t, updates).Snapshot
	assert.True(t, second.Failures.History)
	assert.Equal(t, first.History, second.History)

	outcomes, _, _ := rec.snapshot()
	assert.Equal(t, 1, outcomes[metrics.OutcomeApplied])
	assert.Equal(t, 1, outcomes[metrics.OutcomeDegraded])
}

func TestMonitor_PersistsAndSeeds(t *testing.T) {
	store := memstore.NewMemoryStorage()
	ctx := context.Background()

	persisted := storage.SampleSnapshot("u1", 41)
	require.NoError(t, store.SaveSnapshot(ctx, persisted))

	src := memory.New()
	for _, n := range source.Names() {
		src.Fail(n, errors.New("unreachable"))
	}

	m, _ := newTestMonitor(t, src, WithStorage(store))
	updates, cancel := m.Subscribe(4)
	defer cancel()

	m.Start("u1")
	snap := next(t, updates).Snapshot

	assert.Equal(t, uint64(1), snap.Token, "seeded tokens never leak into live cycles")
	assert.Equal(t, persisted.Statistics, snap.Statistics)
	assert.Equal(t, persisted.History, snap.History)
	assert.True(t, snap.Failures.Any())

	saved, err := store.GetSnapshot(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), saved.Token)
}

func TestMonitor_PublishFailureKeepsApply(t *testing.T) {
	pub := &failingPublisher{}
	m, _ := newTestMonitor(t, seededSource(), WithPublisher(pub))
	updates, cancel := m.Subscribe(4)
	defer cancel()

	m.Start("u1")
	next(t, updates)
	m.Wait()

	assert.Equal(t, int32(1), pub.calls.Load())
	assert.Equal(t, uint64(1), m.Snapshot().Token)
}

// gatedSource blocks the first statistics call until release is closed.
type gatedSource struct {
	*memory.Source
	calls   atomic.Int32
	entered chan struct{}
	release chan struct{}
}

func (g *gatedSource) GetStatistics(ctx context.Context, userID string) (models.Statistics, error) {
	if g.calls.Add(1) == 1 {
		close(g.entered)
		<-g.release
	}
	return g.Source.GetStatistics(ctx, userID)
}

func TestMonitor_DiscardsStaleCycle(t *testing.T) {
	src := &gatedSource{Source: seededSource(), entered: make(chan struct{}), release: make(chan struct{})}
	rec := newRecordingMetrics()
	m, _ := newTestMonitor(t, src, WithMetrics(rec))
	updates, cancel := m.Subscribe(4)
	defer cancel()

	m.Start("u1")
	select {
	case <-src.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("first cycle never reached the source")
	}
	require.True(t, m.RefreshNow())

	ev := next(t, updates)
	assert.Equal(t, uint64(2), ev.Token, "the refresh finishes first")

	close(src.release)
	m.Wait()

	assert.Equal(t, uint64(2), m.Snapshot().Token)
	outcomes, stale, _ := rec.snapshot()
	assert.Equal(t, 1, stale)
	assert.Equal(t, 1, outcomes[metrics.OutcomeStale])
	assert.Empty(t, updates, "discarded snapshots are not announced")
}

func TestMonitor_ConcurrentRefreshAppliesNewest(t *testing.T) {
	rec := newRecordingMetrics()
	m, _ := newTestMonitor(t, seededSource(), WithMetrics(rec))
	m.Start("u1")

	const workers, perWorker = 8, 50
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range perWorker {
				m.RefreshNow()
			}
		}()
	}
	wg.Wait()
	m.Wait()

	cycles := uint64(1 + workers*perWorker)
	snap := m.Snapshot()
	assert.False(t, snap.Stale())
	assert.Equal(t, cycles, snap.Token)

	outcomes, stale, _ := rec.snapshot()
	assert.Equal(t, int(cycles), outcomes[metrics.OutcomeApplied]+outcomes[metrics.OutcomeStale])
	assert.Equal(t, stale, outcomes[metrics.OutcomeStale])
}

func TestMonitor_SwitchUserResetsSnapshot(t *testing.T) {
	src := seededSource()
	src.Seed("u2", t0)
	src.SetStatistics("u2", models.Statistics{Total: 11})

	m, _ := newTestMonitor(t, src)
	updates, cancel := m.Subscribe(4)
	defer cancel()

	m.Start("u1")
	assert.Equal(t, "u1", next(t, updates).UserID)

	m.Start("u2")
	ev := next(t, updates)
	assert.Equal(t, "u2", ev.UserID)
	assert.Equal(t, 11, m.Snapshot().Statistics.Total)
	assert.Equal(t, "u2", m.Snapshot().UserID)
}

func TestMonitor_StopKeepsLastSnapshot(t *testing.T) {
	m, clock := newTestMonitor(t, seededSource())
	updates, cancel := m.Subscribe(4)
	defer cancel()

	m.Start("u1")
	next(t, updates)
	m.Stop()
	assert.False(t, m.Active())

	clock.Advance(10 * time.Second)
	m.Wait()
	assert.Equal(t, uint64(1), m.Snapshot().Token)
	assert.Empty(t, updates)
}

func TestManager_Lifecycle(t *testing.T) {
	rec := newRecordingMetrics()
	mg := NewManager(seededSource(),
		WithClock(clockwork.NewFakeClockAt(t0)),
		WithLogger(logger.Discard()),
		WithMetrics(rec),
	)
	defer mg.Close()

	_, err := mg.Start(" ")
	assert.ErrorIs(t, err, ErrMissingUserID)

	a, err := mg.Start("u1")
	require.NoError(t, err)
	b, err := mg.Start("u1")
	require.NoError(t, err)
	assert.Same(t, a, b)

	_, err = mg.Start("u0")
	require.NoError(t, err)
	assert.Equal(t, []string{"u0", "u1"}, mg.Users())

	_, _, sessions := rec.snapshot()
	assert.Equal(t, 2, sessions)

	got, ok := mg.Get("u1")
	require.True(t, ok)
	assert.Same(t, a, got)

	mg.SetInterval(time.Minute)
	assert.True(t, mg.Stop("u1"))
	assert.False(t, mg.Stop("u1"))
	assert.False(t, a.Active())
	assert.Equal(t, []string{"u0"}, mg.Users())

	mg.Close()
	_, _, sessions = rec.snapshot()
	assert.Equal(t, 0, sessions)
	_, err = mg.Start("u2")
	assert.ErrorIs(t, err, ErrClosed)
}

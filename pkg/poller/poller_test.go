package poller

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowwatch/flowwatch/pkg/logger"
)

const (
	waitRun   = time.Second
	waitQuiet = 50 * time.Millisecond
)

func newTestScheduler(t *testing.T, opts ...Option) (*Scheduler, *clockwork.FakeClock, chan string) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	runs := make(chan string, 64)
	base := []Option{WithClock(clock), WithLogger(logger.Discard())}
	s := New(func(_ context.Context, userID string) { runs <- userID }, append(base, opts...)...)
	t.Cleanup(func() {
		s.Stop()
		s.Wait()
	})
	return s, clock, runs
}

func expectRun(t *testing.T, runs <-chan string, userID string) {
	t.Helper()
	select {
	case got := <-runs:
		assert.Equal(t, userID, got)
	case <-time.After(waitRun):
		t.Fatalf("expected a run for %q", userID)
	}
}

func expectNoRun(t *testing.T, runs <-chan string) {
	t.Helper()
	select {
	case got := <-runs:
		t.Fatalf("unexpected run for %q", got)
	case <-time.After(waitQuiet):
	}
}

func TestScheduler_StartRunsImmediately(t *testing.T) {
	s, _, runs := newTestScheduler(t)

	assert.Equal(t, Stopped, s.State())
	s.Start("u1")

	assert.Equal(t, Active, s.State())
	assert.Equal(t, "u1", s.UserID())
	expectRun(t, runs, "u1")
}

func TestScheduler_RunsEveryInterval(t *testing.T) {
	s, clock, runs := newTestScheduler(t)
	s.Start("u1")
	expectRun(t, runs, "u1")

	clock.Advance(4 * time.Second)
	expectNoRun(t, runs)

	clock.Advance(time.Second)
	expectRun(t, runs, "u1")

	clock.Advance(5 * time.Second)
	expectRun(t, runs, "u1")
	expectNoRun(t, runs)
}

func TestScheduler_RefreshNowKeepsPhase(t *testing.T) {
	s, clock, runs := newTestScheduler(t)
	s.Start("u1")
	expectRun(t, runs, "u1")

	clock.Advance(2 * time.Second)
	require.True(t, s.RefreshNow())
	expectRun(t, runs, "u1")

	clock.Advance(3 * time.Second)
	expectRun(t, runs, "u1")

	clock.Advance(2 * time.Second)
	expectNoRun(t, runs)
}

func TestScheduler_StopPreventsRuns(t *testing.T) {
	s, clock, runs := newTestScheduler(t)
	s.Start("u1")
	expectRun(t, runs, "u1")

	s.Stop()
	assert.Equal(t, Stopped, s.State())
	assert.Empty(t, s.UserID())
	assert.False(t, s.RefreshNow())

	clock.Advance(10 * time.Second)
	expectNoRun(t, runs)

	s.Stop()
}

func TestScheduler_BlankUserStaysStopped(t *testing.T) {
	s, _, runs := newTestScheduler(t)

	s.Start("   ")
	assert.Equal(t, Stopped, s.State())
	expectNoRun(t, runs)
}

func TestScheduler_BlankUserStopsActiveLoop(t *testing.T) {
	s, clock, runs := newTestScheduler(t)
	s.Start("u1")
	expectRun(t, runs, "u1")

	s.Start("")
	assert.Equal(t, Stopped, s.State())

	clock.Advance(5 * time.Second)
	expectNoRun(t, runs)
}

func TestScheduler_SameUserIsNoop(t *testing.T) {
	s, _, runs := newTestScheduler(t)
	s.Start("u1")
	expectRun(t, runs, "u1")

	s.Start(" u1 ")
	expectNoRun(t, runs)
}

func TestScheduler_SwitchUserRestarts(t *testing.T) {
	s, clock, runs := newTestScheduler(t)
	s.Start("u1")
	expectRun(t, runs, "u1")

	clock.Advance(3 * time.Second)
	s.Start("u2")
	expectRun(t, runs, "u2")
	assert.Equal(t, "u2", s.UserID())

	clock.Advance(2 * time.Second)
	expectNoRun(t, runs)

	clock.Advance(3 * time.Second)
	expectRun(t, runs, "u2")
	expectNoRun(t, runs)
}

func TestScheduler_SetInterval(t *testing.T) {
	s, clock, runs := newTestScheduler(t, WithInterval(10*time.Second))
	assert.Equal(t, 10*time.Second, s.Interval())

	s.Start("u1")
	expectRun(t, runs, "u1")

	s.SetInterval(time.Second)
	assert.Equal(t, time.Second, s.Interval())

	clock.Advance(time.Second)
	expectRun(t, runs, "u1")

	s.SetInterval(0)
	assert.Equal(t, time.Second, s.Interval(), "non-positive intervals are ignored")
}

func TestScheduler_PanickingRunIsIsolated(t *testing.T) {
	clock := clockwork.NewFakeClock()
	var calls atomic.Int32
	s := New(func(context.Context, string) {
		calls.Add(1)
		panic("boom")
	}, WithClock(clock), WithLogger(logger.Discard()))

	require.NotPanics(t, func() {
		s.Start("u1")
		s.Wait()
		s.RefreshNow()
		s.Wait()
	})
	s.Stop()
	assert.Equal(t, int32(2), calls.Load())
}

func TestScheduler_StopDoesNotCancelInflight(t *testing.T) {
	clock := clockwork.NewFakeClock()
	release := make(chan struct{})
	result := make(chan error, 1)
	s := New(func(ctx context.Context, _ string) {
		<-release
		result <- ctx.Err()
	}, WithClock(clock), WithLogger(logger.Discard()))

	s.Start("u1")
	s.Stop()
	close(release)
	s.Wait()

	assert.NoError(t, <-result)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "active", Active.String())
	assert.Equal(t, "stopped", Stopped.String())
}

// Package poller triggers periodic and on-demand refresh runs for one user.
package poller

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sourcegraph/conc/panics"

	"github.com/flowwatch/flowwatch/pkg/logger"
)

// DefaultInterval is the period between scheduled runs.
const DefaultInterval = 5 * time.Second

// State is the scheduler lifecycle state.
type State int

const (
	Stopped State = iota
	Active
)

func (s State) String() string {
	if s == Active {
		return "active"
	}
	return "stopped"
}

// RunFunc performs one refresh for userID. Runs may overlap.
type RunFunc func(ctx context.Context, userID string)

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock replaces the wall clock.
func WithClock(c clockwork.Clock) Option {
	return func(s *Scheduler) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithInterval sets the period between scheduled runs.
func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.log = l
		}
	}
}

// WithContext sets the context handed to runs. Stop does not cancel it.
func WithContext(ctx context.Context) Option {
	return func(s *Scheduler) {
		if ctx != nil {
			s.runCtx = ctx
		}
	}
}

type loop struct {
	userID string
	ticker clockwork.Ticker
	stop   chan struct{}
	done   chan struct{}
}

// Scheduler runs a RunFunc immediately on activation and then every interval.
type Scheduler struct {
	run    RunFunc
	clock  clockwork.Clock
	log    logger.Logger
	runCtx context.Context

	mu       sync.Mutex
	interval time.Duration
	current  *loop

	inflight sync.WaitGroup
}

// New creates a stopped scheduler.
func New(run RunFunc, opts ...Option) *Scheduler {
	s := &Scheduler{
		run:      run,
		clock:    clockwork.NewRealClock(),
		log:      logger.Global(),
		runCtx:   context.Background(),
		interval: DefaultInterval,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State returns the current lifecycle state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil {
		return Active
	}
	return Stopped
}

// UserID returns the user being polled, or "" when stopped.
func (s *Scheduler) UserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return ""
	}
	return s.current.userID
}

// Interval returns the scheduled period.
func (s *Scheduler) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

// Start activates polling for userID and triggers an immediate run.
// A blank userID leaves the scheduler stopped. Starting for the user already
// being polled is a no-op; starting for another user restarts the loop.
func (s *Scheduler) Start(userID string) {
	userID = strings.TrimSpace(userID)

	s.mu.Lock()
	defer s.mu.Unlock()

	if userID == "" {
		s.log.Debug("poller start ignored: missing user id")
		s.stopLocked()
		return
	}
	if s.current != nil {
		if s.current.userID == userID {
			return
		}
		s.stopLocked()
	}

	l := &loop{
		userID: userID,
		ticker: s.clock.NewTicker(s.interval),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	s.current = l

	s.launch(userID)
	go s.tick(l)

	s.log.Info("poller started", "user_id", userID, "interval", s.interval.String())
}

// Stop stops scheduled runs. In-flight runs are not cancelled.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

func (s *Scheduler) stopLocked() {
	l := s.current
	if l == nil {
		return
	}
	s.current = nil
	close(l.stop)
	<-l.done
	s.log.Info("poller stopped", "user_id", l.userID)
}

// RefreshNow triggers a run immediately without shifting the schedule.
// It is a no-op while stopped.
func (s *Scheduler) RefreshNow() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return false
	}
	s.launch(s.current.userID)
	return true
}

// SetInterval changes the period. An active schedule restarts its phase now.
func (s *Scheduler) SetInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if d == s.interval {
		return
	}
	s.interval = d
	if s.current != nil {
		s.current.ticker.Reset(d)
	}
}

// Wait blocks until every launched run has returned.
func (s *Scheduler) Wait() {
	s.inflight.Wait()
}

func (s *Scheduler) tick(l *loop) {
	defer close(l.done)
	defer l.ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-l.ticker.Chan():
			select {
			case <-l.stop:
				return
			default:
			}
			s.launch(l.userID)
		}
	}
}

// launch starts one run in its own goroutine.
func (s *Scheduler) launch(userID string) {
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		if r := panics.Try(func() { s.run(s.runCtx, userID) }); r != nil {
			s.log.Error("poll run panicked", "user_id", userID, "panic", r.String())
		}
	}()
}

// Package monitor is the consumer-facing session: it owns the snapshot store,
// drives aggregation cycles from a poller and announces applied snapshots.
package monitor

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/flowwatch/flowwatch/pkg/events"
	"github.com/flowwatch/flowwatch/pkg/logger"
	"github.com/flowwatch/flowwatch/pkg/metrics"
	"github.com/flowwatch/flowwatch/pkg/poller"
	"github.com/flowwatch/flowwatch/pkg/snapshot"
	"github.com/flowwatch/flowwatch/pkg/source"
	"github.com/flowwatch/flowwatch/pkg/storage"
	"github.com/flowwatch/flowwatch/pkg/telemetry/tracing"
)

var (
	// ErrMissingUserID is returned when a session is requested for a blank user id.
	ErrMissingUserID = errors.New("user id is required")
	// ErrClosed is returned by a closed Manager.
	ErrClosed = errors.New("monitor manager closed")
)

// MetricsRecorder receives cycle, fetch and session measurements.
type MetricsRecorder interface {
	snapshot.MetricsRecorder
	RecordCycle(ctx context.Context, outcome string, duration time.Duration)
	RecordStaleDiscard()
	SetActiveSessions(n int)
}

type nopMetrics struct{}

func (nopMetrics) RecordFetch(string, string, time.Duration)          {}
func (nopMetrics) RecordCycle(context.Context, string, time.Duration) {}
func (nopMetrics) RecordStaleDiscard()                                {}
func (nopMetrics) SetActiveSessions(int)                              {}

type options struct {
	interval  time.Duration
	limits    snapshot.Limits
	clock     clockwork.Clock
	log       logger.Logger
	metrics   MetricsRecorder
	tracer    trace.Tracer
	storage   storage.Storage
	publisher events.Publisher
	ctx       context.Context
}

// Option configures a Monitor or Manager.
type Option func(*options)

// WithInterval sets the polling period.
func WithInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.interval = d
		}
	}
}

// WithLimits sets the list bounds requested from the source.
func WithLimits(l snapshot.Limits) Option {
	return func(o *options) { o.limits = l }
}

// WithClock replaces the wall clock for scheduling and FetchedAt stamps.
func WithClock(c clockwork.Clock) Option {
	return func(o *options) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m MetricsRecorder) Option {
	return func(o *options) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithTracer sets the tracer for cycle spans.
func WithTracer(t trace.Tracer) Option {
	return func(o *options) {
		if t != nil {
			o.tracer = t
		}
	}
}

// WithStorage persists applied snapshots and seeds new sessions from them.
func WithStorage(s storage.Storage) Option {
	return func(o *options) { o.storage = s }
}

// WithPublisher announces applied snapshots beyond the monitor's own subscribers.
func WithPublisher(p events.Publisher) Option {
	return func(o *options) { o.publisher = p }
}

// WithContext sets the context for cycles and storage calls. Stop does not
// cancel it.
func WithContext(ctx context.Context) Option {
	return func(o *options) {
		if ctx != nil {
			o.ctx = ctx
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{
		interval: poller.DefaultInterval,
		limits:   snapshot.DefaultLimits(),
		clock:    clockwork.NewRealClock(),
		log:      logger.Global(),
		metrics:  nopMetrics{},
		tracer:   tracing.Tracer(),
		ctx:      context.Background(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Monitor keeps the current snapshot for one user up to date.
type Monitor struct {
	opts    options
	agg     *snapshot.Aggregator
	sched   *poller.Scheduler
	updates *events.Broadcaster
	log     logger.Logger

	mu     sync.RWMutex
	userID string
	store  *snapshot.Store
}

// New creates a stopped monitor reading from src.
func New(src source.Source, opts ...Option) *Monitor {
	o := buildOptions(opts)
	m := &Monitor{
		opts:    o,
		updates: events.NewBroadcaster(),
		log:     o.log.With("component", "monitor"),
		store:   snapshot.NewStore(""),
	}
	m.agg = snapshot.NewAggregator(src,
		snapshot.WithLimits(o.limits),
		snapshot.WithLogger(o.log),
		snapshot.WithMetrics(o.metrics),
		snapshot.WithClock(o.clock.Now),
		snapshot.WithTracer(o.tracer),
	)
	m.sched = poller.New(m.cycle,
		poller.WithClock(o.clock),
		poller.WithInterval(o.interval),
		poller.WithLogger(o.log),
		poller.WithContext(o.ctx),
	)
	return m
}

// Start begins polling for userID. A blank id stops polling. Starting for
// the user already polled is a no-op; another user replaces the session and
// its snapshot.
func (m *Monitor) Start(userID string) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		m.sched.Stop()
		return
	}

	if m.UserID() != userID {
		store := snapshot.NewStore(userID)
		m.seed(store, userID)

		m.mu.Lock()
		m.userID = userID
		m.store = store
		m.mu.Unlock()
	}

	m.sched.Start(userID)
}

// seed installs the persisted snapshot, if any, as the baseline.
func (m *Monitor) seed(store *snapshot.Store, userID string) {
	if m.opts.storage == nil {
		return
	}
	prev, err := m.opts.storage.GetSnapshot(m.opts.ctx, userID)
	if err != nil {
		var nf *storage.NotFoundError
		if !errors.As(err, &nf) {
			m.log.Warn("load persisted snapshot failed", "user_id", userID, "error", err)
		}
		return
	}
	if store.Seed(prev) {
		m.log.Debug("session seeded from storage", "user_id", userID, "fetched_at", prev.FetchedAt)
	}
}

// Stop stops polling. The last snapshot stays readable.
func (m *Monitor) Stop() {
	m.sched.Stop()
}

// Close stops polling, waits for in-flight cycles and closes subscriptions.
func (m *Monitor) Close() {
	m.sched.Stop()
	m.sched.Wait()
	m.updates.Close()
}

// Wait blocks until in-flight cycles have finished.
func (m *Monitor) Wait() {
	m.sched.Wait()
}

// RefreshNow triggers an immediate cycle. It reports false when stopped.
func (m *Monitor) RefreshNow() bool {
	return m.sched.RefreshNow()
}

// Snapshot returns the currently applied snapshot. It is never nil.
func (m *Monitor) Snapshot() *snapshot.WorkflowSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.store.Current()
}

// UserID returns the session's user, or "" before the first Start.
func (m *Monitor) UserID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.userID
}

// Active reports whether the monitor is polling.
func (m *Monitor) Active() bool {
	return m.sched.State() == poller.Active
}

// SetInterval changes the polling period.
func (m *Monitor) SetInterval(d time.Duration) {
	m.sched.SetInterval(d)
}

// Subscribe returns a channel receiving one event per applied snapshot and
// a function that cancels the subscription.
func (m *Monitor) Subscribe(buffer int) (<-chan events.Event, func()) {
	ch := m.updates.Subscribe(buffer)
	return ch, func() { m.updates.Unsubscribe(ch) }
}

func (m *Monitor) storeFor(userID string) *snapshot.Store {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.userID != userID {
		return nil
	}
	return m.store
}

// cycle runs one aggregation and offers the result to the store.
func (m *Monitor) cycle(ctx context.Context, userID string) {
	store := m.storeFor(userID)
	if store == nil {
		// The session moved to another user while this run was queued.
		return
	}

	ctx, span := m.opts.tracer.Start(ctx, "monitor.cycle",
		trace.WithAttributes(attribute.String("user.id", userID)))
	defer span.End()

	start := time.Now()
	token := store.NextToken()
	snap := m.agg.Aggregate(ctx, userID, store.Current())
	snap.Token = token

	span.SetAttributes(attribute.Int64("snapshot.token", int64(token)))

	if !store.Apply(snap) {
		m.opts.metrics.RecordStaleDiscard()
		m.opts.metrics.RecordCycle(ctx, metrics.OutcomeStale, time.Since(start))
		m.log.Debug("discarded stale snapshot", "user_id", userID, "token", token)
		return
	}

	outcome := metrics.OutcomeApplied
	if snap.Failures.Any() {
		outcome = metrics.OutcomeDegraded
	}
	m.opts.metrics.RecordCycle(ctx, outcome, time.Since(start))

	if m.opts.storage != nil {
		if err := m.opts.storage.SaveSnapshot(ctx, snap); err != nil {
			m.log.WarnContext(ctx, "persist snapshot failed", "user_id", userID, "token", token, "error", err)
		}
	}

	ev := events.SnapshotUpdated(snap)
	m.updates.Broadcast(ev)
	if m.opts.publisher != nil {
		if err := m.opts.publisher.Publish(ctx, ev); err != nil {
			m.log.WarnContext(ctx, "publish snapshot failed", "user_id", userID, "token", token, "error", err)
		}
	}
}

package snapshot

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/flowwatch/flowwatch/pkg/logger"
	"github.com/flowwatch/flowwatch/pkg/metrics"
	"github.com/flowwatch/flowwatch/pkg/models"
	"github.com/flowwatch/flowwatch/pkg/present"
	"github.com/flowwatch/flowwatch/pkg/source"
	"github.com/flowwatch/flowwatch/pkg/telemetry/tracing"
)

// Limits bounds the list views requested from the source.
type Limits struct {
	Active         int
	History        int
	Communications int
}

// DefaultLimits returns the default list bounds.
func DefaultLimits() Limits {
	return Limits{Active: 10, History: 20, Communications: 50}
}

// MetricsRecorder receives per-fetch measurements.
type MetricsRecorder interface {
	RecordFetch(source, result string, duration time.Duration)
}

type nopMetrics struct{}

func (nopMetrics) RecordFetch(string, string, time.Duration) {}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithLimits overrides the list bounds. Non-positive fields keep their defaults.
func WithLimits(l Limits) Option {
	return func(a *Aggregator) {
		if l.Active > 0 {
			a.limits.Active = l.Active
		}
		if l.History > 0 {
			a.limits.History = l.History
		}
		if l.Communications > 0 {
			a.limits.Communications = l.Communications
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(a *Aggregator) {
		if l != nil {
			a.log = l
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m MetricsRecorder) Option {
	return func(a *Aggregator) {
		if m != nil {
			a.metrics = m
		}
	}
}

// WithClock sets the source of the cycle's reference instant.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) {
		if now != nil {
			a.now = now
		}
	}
}

// WithTracer sets the tracer used for cycle and fetch spans.
func WithTracer(t trace.Tracer) Option {
	return func(a *Aggregator) {
		if t != nil {
			a.tracer = t
		}
	}
}

// Aggregator runs the four independent fetches of a cycle and merges them.
type Aggregator struct {
	src     source.Source
	limits  Limits
	log     logger.Logger
	metrics MetricsRecorder
	now     func() time.Time
	tracer  trace.Tracer
}

// NewAggregator creates an aggregator over src.
func NewAggregator(src source.Source, opts ...Option) *Aggregator {
	a := &Aggregator{
		src:     src,
		limits:  DefaultLimits(),
		log:     logger.Global(),
		metrics: nopMetrics{},
		now:     time.Now,
		tracer:  tracing.Tracer(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Limits returns the effective list bounds.
func (a *Aggregator) Limits() Limits {
	return a.limits
}

// Aggregate fetches all four views concurrently and returns once every fetch
// has settled. A view whose fetch fails keeps its value from prev (empty when
// prev is nil) and is flagged in Failures. Aggregate never returns an error.
func (a *Aggregator) Aggregate(ctx context.Context, userID string, prev *WorkflowSnapshot) *WorkflowSnapshot {
	if prev == nil {
		prev = Empty(userID)
	}

	ctx, span := a.tracer.Start(ctx, "snapshot.aggregate",
		trace.WithAttributes(attribute.String("user.id", userID)))
	defer span.End()

	var (
		stats    models.Statistics
		active   []models.Workflow
		history  []models.ProcessingLogEntry
		comms    []models.Communication
		failures [4]bool
	)

	var wg conc.WaitGroup
	wg.Go(func() {
		failures[0] = !a.fetch(ctx, source.Statistics, userID, func(ctx context.Context) (err error) {
			stats, err = a.src.GetStatistics(ctx, userID)
			return err
		})
	})
	wg.Go(func() {
		failures[1] = !a.fetch(ctx, source.Active, userID, func(ctx context.Context) (err error) {
			active, err = a.src.GetActiveWorkflows(ctx, userID, a.limits.Active)
			return err
		})
	})
	wg.Go(func() {
		failures[2] = !a.fetch(ctx, source.History, userID, func(ctx context.Context) (err error) {
			history, err = a.src.GetWorkflowHistory(ctx, userID, a.limits.History)
			return err
		})
	})
	wg.Go(func() {
		failures[3] = !a.fetch(ctx, source.Communications, userID, func(ctx context.Context) (err error) {
			comms, err = a.src.GetAgentCommunications(ctx, userID, a.limits.Communications)
			return err
		})
	})
	wg.Wait()

	snap := &WorkflowSnapshot{
		UserID:    userID,
		FetchedAt: a.now(),
	}

	if failures[0] {
		snap.Failures.set(source.Statistics)
		snap.Statistics = prev.Statistics
	} else {
		snap.Statistics = stats
	}

	if failures[1] {
		snap.Failures.set(source.Active)
		snap.ActiveWorkflows = slices.Clone(prev.ActiveWorkflows)
	} else {
		snap.ActiveWorkflows = deriveActive(active, snap.FetchedAt)
	}

	if failures[2] {
		snap.Failures.set(source.History)
		snap.History = slices.Clone(prev.History)
	} else {
		snap.History = deriveHistory(history)
	}

	if failures[3] {
		snap.Failures.set(source.Communications)
		snap.Communications = slices.Clone(prev.Communications)
	} else {
		snap.Communications = present.GroupCommunications(comms)
	}

	normalize(snap)

	if snap.Failures.Any() {
		span.SetAttributes(attribute.Int("snapshot.failed_sources", len(snap.Failures.Names())))
	}
	return snap
}

// fetch runs one source call in its own span, converting a panic into an
// error. It reports whether the call succeeded.
func (a *Aggregator) fetch(ctx context.Context, name source.Name, userID string, call func(context.Context) error) bool {
	ctx, span := a.tracer.Start(ctx, "snapshot.fetch",
		trace.WithAttributes(attribute.String("source", string(name))))
	defer span.End()

	start := time.Now()
	var (
		err error
		pc  panics.Catcher
	)
	pc.Try(func() { err = call(ctx) })

	result := metrics.ResultOK
	if r := pc.Recovered(); r != nil {
		result = metrics.ResultPanic
		err = fmt.Errorf("source %s panicked: %w", name, r.AsError())
	} else if err != nil {
		result = metrics.ResultError
	}
	a.metrics.RecordFetch(string(name), result, time.Since(start))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		a.log.WarnContext(ctx, "source fetch failed",
			"source", string(name),
			"user_id", userID,
			"error", err,
		)
		return false
	}
	return true
}

func deriveActive(workflows []models.Workflow, now time.Time) []WorkflowView {
	out := make([]WorkflowView, 0, len(workflows))
	stageCount := models.StageCount()
	for _, w := range workflows {
		view := WorkflowView{
			Workflow:       w,
			Classification: present.Classify(string(w.Status)),
			Elapsed:        present.FormatDurationAt(w.StartTime, w.EndTime, now),
			StageCount:     stageCount,
		}
		if w.CurrentAgent != nil {
			view.StageIndex = models.StageIndex(*w.CurrentAgent)
		}
		out = append(out, view)
	}
	return out
}

func deriveHistory(entries []models.ProcessingLogEntry) []HistoryView {
	out := make([]HistoryView, 0, len(entries))
	for _, e := range entries {
		out = append(out, HistoryView{
			ProcessingLogEntry: e,
			Classification:     present.Classify(e.Status),
		})
	}
	return out
}

// normalize replaces nil slices so snapshots always encode lists as [].
func normalize(s *WorkflowSnapshot) {
	if s.ActiveWorkflows == nil {
		s.ActiveWorkflows = []WorkflowView{}
	}
	if s.History == nil {
		s.History = []HistoryView{}
	}
	if s.Communications == nil {
		s.Communications = []present.CommunicationGroup{}
	}
}

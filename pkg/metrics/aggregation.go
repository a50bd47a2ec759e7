package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Cycle outcomes.
const (
	OutcomeApplied  = "applied"
	OutcomeStale    = "stale"
	OutcomeDegraded = "degraded"
)

// Fetch results.
const (
	ResultOK    = "ok"
	ResultError = "error"
	ResultPanic = "panic"
)

func (m *Manager) initAggregationMetrics(cfg Config) {
	m.cycles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "aggregation_cycles_total",
			Help:      "Aggregation cycles by outcome",
		},
		[]string{"outcome"},
	)

	m.cycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "aggregation_duration_seconds",
			Help:      "Time from cycle start until all four fetches settled",
			Buckets:   cfg.CycleDurationBuckets,
		},
	)

	m.fetches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_fetch_total",
			Help:      "Source fetches by source and result",
		},
		[]string{"source", "result"},
	)

	m.fetchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "source_fetch_duration_seconds",
			Help:      "Source fetch latency in seconds",
			Buckets:   cfg.FetchDurationBuckets,
		},
		[]string{"source"},
	)

	m.staleDiscards = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshot_stale_discards_total",
			Help:      "Snapshots discarded because a newer cycle had already been applied",
		},
	)

	m.activeSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of users currently being polled",
		},
	)

	m.registry.MustRegister(m.cycles, m.cycleDuration, m.fetches, m.fetchDuration, m.staleDiscards, m.activeSessions)
}

// RecordCycle records a finished aggregation cycle. The duration carries a
// trace exemplar when ctx holds a sampled span.
func (m *Manager) RecordCycle(ctx context.Context, outcome string, duration time.Duration) {
	if !m.enabled {
		return
	}
	m.cycles.WithLabelValues(outcome).Inc()
	if labels, ok := exemplarLabels(ctx); ok {
		if eo, ok := m.cycleDuration.(prometheus.ExemplarObserver); ok {
			eo.ObserveWithExemplar(duration.Seconds(), labels)
			return
		}
	}
	m.cycleDuration.Observe(duration.Seconds())
}

// RecordFetch records one source fetch.
func (m *Manager) RecordFetch(source, result string, duration time.Duration) {
	if !m.enabled {
		return
	}
	m.fetches.WithLabelValues(source, result).Inc()
	m.fetchDuration.WithLabelValues(source).Observe(duration.Seconds())
}

// RecordStaleDiscard counts a snapshot rejected by the generation check.
func (m *Manager) RecordStaleDiscard() {
	if !m.enabled {
		return
	}
	m.staleDiscards.Inc()
}

// SetActiveSessions sets the number of polled users.
func (m *Manager) SetActiveSessions(n int) {
	if !m.enabled {
		return
	}
	m.activeSessions.Set(float64(n))
}

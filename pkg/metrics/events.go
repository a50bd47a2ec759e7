package metrics

import "github.com/prometheus/client_golang/prometheus"

func (m *Manager) initEventMetrics() {
	m.eventsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Snapshot update events published by transport and result",
		},
		[]string{"transport", "result"},
	)

	m.eventsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Events dropped because a subscriber buffer was full",
		},
	)

	m.registry.MustRegister(m.eventsPublished, m.eventsDropped)
}

// RecordEventPublished records one publish attempt.
func (m *Manager) RecordEventPublished(transport, result string) {
	if !m.enabled {
		return
	}
	m.eventsPublished.WithLabelValues(transport, result).Inc()
}

// RecordEventDropped counts an event dropped for a slow subscriber.
func (m *Manager) RecordEventDropped() {
	if !m.enabled {
		return
	}
	m.eventsDropped.Inc()
}

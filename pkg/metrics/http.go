package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
)

func (m *Manager) initHTTPMetrics(cfg Config) {
	m.httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests served, by route pattern and status.",
	}, []string{"method", "path", "status"})

	m.httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP handler latency by route pattern.",
		Buckets:   cfg.HTTPDurationBuckets,
	}, []string{"method", "path"})

	m.httpConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "active_connections",
		Help:      "HTTP requests currently in flight.",
	})

	m.registry.MustRegister(m.httpRequests, m.httpDuration, m.httpConnections)
}

// RecordHTTPRequest counts one finished request. path should be a route
// pattern, never a raw URL.
func (m *Manager) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	if !m.enabled {
		return
	}
	m.httpRequests.WithLabelValues(method, path, status).Inc()
	m.httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

func (m *Manager) IncActiveConnections() {
	if m.enabled {
		m.httpConnections.Inc()
	}
}

func (m *Manager) DecActiveConnections() {
	if m.enabled {
		m.httpConnections.Dec()
	}
}

// exemplarLabels links an observation to the sampled span in ctx, if any.
func exemplarLabels(ctx context.Context) (prometheus.Labels, bool) {
	if ctx == nil {
		return nil, false
	}
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsSampled() {
		return nil, false
	}
	return prometheus.Labels{"trace_id": sc.TraceID().String(), "span_id": sc.SpanID().String()}, true
}

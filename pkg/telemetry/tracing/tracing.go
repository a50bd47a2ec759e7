// Package tracing configures process-wide OpenTelemetry tracing.
package tracing

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/flowwatch/flowwatch/pkg/logger"
)

// TracerName is the instrumentation scope used by flowwatch spans.
const TracerName = "github.com/flowwatch/flowwatch"

// Config configures the tracer provider.
type Config struct {
	Enabled    bool
	Exporter   string
	Endpoint   string
	Timeout    time.Duration
	Headers    map[string]string
	Sampler    string
	SampleRate float64
	InstanceID string
}

func (c Config) validate() error {
	switch {
	case strings.TrimSpace(c.Exporter) == "":
		return errors.New("tracing exporter is required")
	case strings.TrimSpace(c.Endpoint) == "":
		return errors.New("tracing endpoint is required")
	case c.Timeout <= 0:
		return fmt.Errorf("tracing timeout must be positive, got %s", c.Timeout)
	}
	return nil
}

// ShutdownFunc flushes and stops the tracer provider.
type ShutdownFunc func(ctx context.Context) error

func noopShutdown(context.Context) error { return nil }

// Swapped in tests.
var (
	newOTLPExporter       = dialOTLP
	reportExporterFailure = logExporterFailure
)

func logExporterFailure(err error, exporter, endpoint string, spanCount int) {
	logger.Warn("dropping spans after export failure",
		"error", err,
		"exporter", exporter,
		"endpoint", endpoint,
		"span_count", spanCount,
	)
}

func dialOTLP(ctx context.Context, cfg Config) (sdktrace.SpanExporter, error) {
	target := normalizeEndpoint(cfg.Endpoint)
	if target == "" {
		return nil, errors.New("tracing endpoint is required")
	}

	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(target),
		otlptracegrpc.WithTimeout(cfg.Timeout),
		otlptracegrpc.WithHeaders(cfg.Headers),
	}
	if !isTLSEndpoint(cfg.Endpoint) {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	return otlptracegrpc.New(ctx, opts...)
}

// quietExporter reports failed exports instead of returning them, so a
// collector outage never reaches the batch processor's error handler.
type quietExporter struct {
	sdktrace.SpanExporter
	kind     string
	endpoint string
}

func (q quietExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	if err := q.SpanExporter.ExportSpans(ctx, spans); err != nil {
		reportExporterFailure(err, q.kind, q.endpoint, len(spans))
	}
	return nil
}

// Init installs the global tracer provider together with the W3C trace
// context and baggage propagators. A disabled config installs a no-op provider.
func Init(ctx context.Context, cfg Config, serviceName, serviceVersion string) (ShutdownFunc, error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	if !cfg.Enabled {
		otel.SetTracerProvider(noop.NewTracerProvider())
		return noopShutdown, nil
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	raw, err := newOTLPExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create tracing exporter: %w", err)
	}
	exp := quietExporter{
		SpanExporter: raw,
		kind:         strings.ToLower(strings.TrimSpace(cfg.Exporter)),
		endpoint:     normalizeEndpoint(cfg.Endpoint),
	}

	res, err := serviceResource(ctx, serviceName, serviceVersion, cfg.InstanceID)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("create tracing resource: %w", err), exp.Shutdown(ctx))
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(selectSampler(cfg)),
	)
	otel.SetTracerProvider(tp)

	return func(ctx context.Context) error {
		flushErr := tp.ForceFlush(ctx)
		stopErr := tp.Shutdown(ctx)
		if flushErr != nil {
			return fmt.Errorf("flush spans: %w", flushErr)
		}
		if stopErr != nil {
			return fmt.Errorf("stop tracer provider: %w", stopErr)
		}
		return nil
	}, nil
}

func serviceResource(ctx context.Context, name, version, instanceID string) (*resource.Resource, error) {
	attrs := []resource.Option{resource.WithAttributes(
		semconv.ServiceName(name),
		semconv.ServiceVersion(version),
	)}
	if instanceID != "" {
		attrs = append(attrs, resource.WithAttributes(semconv.ServiceInstanceID(instanceID)))
	}
	return resource.New(ctx, attrs...)
}

// Tracer returns the flowwatch tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(TracerName)
}

func selectSampler(cfg Config) sdktrace.Sampler {
	switch strings.ToLower(strings.TrimSpace(cfg.Sampler)) {
	case "always_on":
		return sdktrace.AlwaysSample()
	case "always_off":
		return sdktrace.NeverSample()
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRate))
}

func isTLSEndpoint(endpoint string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(endpoint)), "https://")
}

// normalizeEndpoint reduces a URL to host:port for the gRPC exporter.
func normalizeEndpoint(endpoint string) string {
	raw := strings.TrimSpace(endpoint)
	if !strings.Contains(raw, "://") {
		return raw
	}
	if u, err := url.Parse(raw); err == nil && u.Host != "" {
		return u.Host
	}
	return raw
}

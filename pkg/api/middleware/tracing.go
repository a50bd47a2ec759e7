package middleware

import (
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const httpTracerName = "flowwatch.http"

// TracingOptions controls which requests get a span.
type TracingOptions struct {
	SkipPaths map[string]struct{}
}

// DefaultTracingOptions skips the probes and the websocket stream.
func DefaultTracingOptions() TracingOptions {
	return TracingOptions{SkipPaths: pathSet("/health", "/ready", "/ws/snapshots")}
}

func pathSet(paths ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		set[p] = struct{}{}
	}
	return set
}

// Tracing continues the caller's W3C trace and wraps each request in a server
// span named after the matched route.
func Tracing(opts TracingOptions) func(http.Handler) http.Handler {
	tracer := otel.Tracer(httpTracerName)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, skip := opts.SkipPaths[r.URL.Path]; skip {
				next.ServeHTTP(w, r)
				return
			}

			parent := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			ctx, span := tracer.Start(parent, "HTTP "+r.Method,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					attribute.String("http.request.method", r.Method),
					attribute.String("url.path", r.URL.Path),
				),
			)
			defer span.End()
			if id := GetRequestID(ctx); id != "" {
				span.SetAttributes(attribute.String("http.request_id", id))
			}

			sw := wrapWriter(w)
			r = r.WithContext(ctx)
			next.ServeHTTP(sw, r)

			route, ok := matchedRoute(r)
			if !ok {
				route = r.URL.Path
			}
			span.SetName("HTTP " + r.Method + " " + route)
			span.SetAttributes(
				attribute.String("http.route", route),
				attribute.Int("http.response.status_code", sw.statusCode),
			)
			if sw.statusCode >= 500 {
				span.SetStatus(otelcodes.Error, http.StatusText(sw.statusCode))
			}
		})
	}
}

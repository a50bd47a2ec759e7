package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
)

// MetricsRecorder receives one observation per HTTP request.
type MetricsRecorder interface {
	RecordHTTPRequest(method, path, status string, duration time.Duration)
	IncActiveConnections()
	DecActiveConnections()
}

// Metrics records request counts, latency and in-flight requests. Requests
// are labelled by route pattern so user ids never become label values.
// The /metrics scrape itself is not recorded.
func Metrics(recorder MetricsRecorder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.HasPrefix(r.URL.Path, "/metrics") {
				next.ServeHTTP(w, r)
				return
			}

			recorder.IncActiveConnections()
			defer recorder.DecActiveConnections()

			sw := wrapWriter(w)
			start := time.Now()
			observe := func(status int) {
				route, ok := matchedRoute(r)
				if !ok {
					route = "unmatched"
				}
				recorder.RecordHTTPRequest(r.Method, route, strconv.Itoa(status), time.Since(start))
			}

			// A panic is still counted as a 500 before Recovery answers it.
			defer func() {
				if p := recover(); p != nil {
					observe(http.StatusInternalServerError)
					panic(p)
				}
			}()

			next.ServeHTTP(sw, r)
			observe(sw.statusCode)
		})
	}
}

// matchedRoute returns the chi route pattern that served r.
func matchedRoute(r *http.Request) (string, bool) {
	rc := chi.RouteContext(r.Context())
	if rc == nil {
		return "", false
	}
	pattern := strings.TrimSpace(rc.RoutePattern())
	return pattern, pattern != ""
}

package handlers

import (
	"context"
	"net/http"
	"sort"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/flowwatch/flowwatch/pkg/api/response"
	"github.com/flowwatch/flowwatch/pkg/version"
)

const readinessTimeout = 2 * time.Second

// ReadinessCheck reports whether a dependency can serve traffic.
type ReadinessCheck func(ctx context.Context) error

// HealthHandler handles the probe endpoints.
type HealthHandler struct {
	sessions func() []string
	checks   map[string]ReadinessCheck
	started  time.Time
	ready    atomic.Bool
}

// NewHealthHandler creates a health handler. sessions may be nil.
func NewHealthHandler(sessions func() []string, checks map[string]ReadinessCheck) *HealthHandler {
	h := &HealthHandler{
		sessions: sessions,
		checks:   checks,
		started:  time.Now(),
	}
	h.ready.Store(true)
	return h
}

// SetReady toggles readiness, e.g. while draining on shutdown.
func (h *HealthHandler) SetReady(ready bool) {
	h.ready.Store(ready)
}

// Health handles the /health endpoint (liveness probe).
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Ready handles the /ready endpoint (readiness probe).
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if !h.ready.Load() {
		response.JSON(w, http.StatusServiceUnavailable, map[string]any{"ready": false, "reason": "draining"})
		return
	}

	results := h.runChecks(r.Context())
	ready := true
	for _, res := range results {
		if res != "ok" {
			ready = false
		}
	}

	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	response.JSON(w, status, map[string]any{"ready": ready, "checks": results})
}

// Status handles the /status endpoint (detailed status).
func (h *HealthHandler) Status(w http.ResponseWriter, r *http.Request) {
	var users []string
	if h.sessions != nil {
		users = h.sessions()
	}
	if users == nil {
		users = []string{}
	}
	response.JSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"ready":    h.ready.Load(),
		"uptime":   time.Since(h.started).Round(time.Second).String(),
		"version":  version.Info(),
		"sessions": users,
	})
}

// runChecks runs every check concurrently under one deadline.
func (h *HealthHandler) runChecks(ctx context.Context) map[string]string {
	ctx, cancel := context.WithTimeout(ctx, readinessTimeout)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]string, len(names))
	var wg conc.WaitGroup
	for i, name := range names {
		check := h.checks[name]
		wg.Go(func() {
			if err := check(ctx); err != nil {
				out[i] = err.Error()
				return
			}
			out[i] = "ok"
		})
	}
	if r := wg.WaitAndRecover(); r != nil {
		// A panicking check leaves its slot empty.
		for i := range out {
			if out[i] == "" {
				out[i] = "check panicked"
			}
		}
	}

	results := make(map[string]string, len(names))
	for i, name := range names {
		results[name] = out[i]
	}
	return results
}

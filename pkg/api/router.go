package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/flowwatch/flowwatch/config"
	"github.com/flowwatch/flowwatch/pkg/api/handlers"
	"github.com/flowwatch/flowwatch/pkg/api/middleware"
	"github.com/flowwatch/flowwatch/pkg/api/response"
	"github.com/flowwatch/flowwatch/pkg/logger"
)

// Handlers holds all HTTP handlers.
type Handlers struct {
	// Sessions serves sessions, snapshots and manual refresh.
	Sessions *handlers.SessionHandler

	// Health handles health check endpoints
	Health *handlers.HealthHandler

	// WebSocket streams snapshot updates.
	WebSocket *handlers.WebSocketHandler

	// RefreshLimiter throttles manual refresh per user. Nil disables it.
	RefreshLimiter *middleware.RateLimiter

	// Metrics is the optional metrics recorder
	Metrics middleware.MetricsRecorder
}

// NewRouter creates a new chi router with middleware and routes.
func NewRouter(cfg *config.Config, log logger.Logger, h *Handlers) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID())
	r.Use(middleware.Tracing(middleware.DefaultTracingOptions()))
	r.Use(middleware.Logger(log))
	r.Use(middleware.Recovery(log))
	if h.Metrics != nil {
		r.Use(middleware.Metrics(h.Metrics))
	}
	r.Use(middleware.CORS(&cfg.Server.CORS))
	r.Use(middleware.Timeout(cfg.Server.HTTP.RequestTimeout))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotFound, response.ErrCodeNotFound, "route not found", middleware.GetRequestID(r.Context()))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusMethodNotAllowed, response.ErrCodeMethodNotAllowed, "method not allowed", middleware.GetRequestID(r.Context()))
	})

	RegisterRoutes(r, h)

	return r
}

// RegisterRoutes registers all API routes.
func RegisterRoutes(r chi.Router, h *Handlers) {
	if h.Sessions != nil {
		refresh := func(next http.Handler) http.Handler { return next }
		if h.RefreshLimiter != nil {
			refresh = middleware.RateLimit(h.RefreshLimiter, handlers.UserIDParam)
		}

		r.Route("/api/v1/sessions", func(r chi.Router) {
			r.Get("/", h.Sessions.ListSessions)
			r.Post("/{userID}", h.Sessions.StartSession)
			r.Delete("/{userID}", h.Sessions.StopSession)
			r.Get("/{userID}/snapshot", h.Sessions.GetSnapshot)
			r.Get("/{userID}/workflows/{workflowID}", h.Sessions.GetWorkflow)
			r.With(refresh).Post("/{userID}/refresh", h.Sessions.Refresh)
		})
	}

	if h.WebSocket != nil {
		r.Get("/ws/snapshots", h.WebSocket.ServeHTTP)
	}

	// Health check routes (not versioned)
	if h.Health != nil {
		r.Get("/health", h.Health.Health)
		r.Get("/ready", h.Health.Ready)
		r.Get("/status", h.Health.Status)
	}
}

// Package handlers provides HTTP request handlers.
package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/flowwatch/flowwatch/pkg/api/middleware"
	"github.com/flowwatch/flowwatch/pkg/api/response"
	"github.com/flowwatch/flowwatch/pkg/logger"
	"github.com/flowwatch/flowwatch/pkg/monitor"
)

const maxUserIDLength = 128

// SessionManager is the part of monitor.Manager the API drives.
type SessionManager interface {
	Start(userID string) (*monitor.Monitor, error)
	Stop(userID string) bool
	Get(userID string) (*monitor.Monitor, bool)
	Users() []string
}

// SessionInfo describes one monitored user.
type SessionInfo struct {
	UserID    string     `json:"user_id"`
	Active    bool       `json:"active"`
	Token     uint64     `json:"token"`
	Stale     bool       `json:"stale"`
	FetchedAt *time.Time `json:"fetched_at,omitempty"`
}

func sessionInfo(m *monitor.Monitor) SessionInfo {
	snap := m.Snapshot()
	info := SessionInfo{
		UserID: m.UserID(),
		Active: m.Active(),
		Token:  snap.Token,
		Stale:  snap.Stale(),
	}
	if !snap.FetchedAt.IsZero() {
		at := snap.FetchedAt
		info.FetchedAt = &at
	}
	return info
}

// SessionHandler serves the session, snapshot and refresh endpoints.
type SessionHandler struct {
	sessions SessionManager
	limiter  *middleware.RateLimiter
	log      logger.Logger
}

// NewSessionHandler creates a session handler. limiter may be nil; when set,
// its bucket for a user is dropped when the session stops.
func NewSessionHandler(sessions SessionManager, limiter *middleware.RateLimiter, log logger.Logger) *SessionHandler {
	if log == nil {
		log = logger.Global()
	}
	return &SessionHandler{sessions: sessions, limiter: limiter, log: log}
}

// UserIDParam returns the trimmed {userID} route parameter.
func UserIDParam(r *http.Request) string {
	return strings.TrimSpace(chi.URLParam(r, "userID"))
}

// userID validates the route parameter and writes a 400 when it is unusable.
func (h *SessionHandler) userID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := UserIDParam(r)
	switch {
	case id == "":
		response.Error(w, http.StatusBadRequest, response.ErrCodeBadRequest, "user id is required", middleware.GetRequestID(r.Context()))
		return "", false
	case len(id) > maxUserIDLength:
		response.Error(w, http.StatusBadRequest, response.ErrCodeBadRequest, "user id is too long", middleware.GetRequestID(r.Context()))
		return "", false
	}
	return id, true
}

func (h *SessionHandler) session(w http.ResponseWriter, r *http.Request) (*monitor.Monitor, bool) {
	id, ok := h.userID(w, r)
	if !ok {
		return nil, false
	}
	m, ok := h.sessions.Get(id)
	if !ok {
		response.Error(w, http.StatusNotFound, response.ErrCodeNotFound, "no session for user "+id, middleware.GetRequestID(r.Context()))
		return nil, false
	}
	return m, true
}

// StartSession handles POST /api/v1/sessions/{userID}.
// It answers 201 for a new session and 200 when one already runs.
func (h *SessionHandler) StartSession(w http.ResponseWriter, r *http.Request) {
	id, ok := h.userID(w, r)
	if !ok {
		return
	}

	_, existed := h.sessions.Get(id)
	m, err := h.sessions.Start(id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	status := http.StatusCreated
	if existed {
		status = http.StatusOK
	}
	response.JSON(w, status, sessionInfo(m))
}

// StopSession handles DELETE /api/v1/sessions/{userID}.
func (h *SessionHandler) StopSession(w http.ResponseWriter, r *http.Request) {
	id, ok := h.userID(w, r)
	if !ok {
		return
	}
	if !h.sessions.Stop(id) {
		response.Error(w, http.StatusNotFound, response.ErrCodeNotFound, "no session for user "+id, middleware.GetRequestID(r.Context()))
		return
	}
	if h.limiter != nil {
		h.limiter.Forget(id)
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListSessions handles GET /api/v1/sessions.
func (h *SessionHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	users := h.sessions.Users()
	sessions := make([]SessionInfo, 0, len(users))
	for _, id := range users {
		if m, ok := h.sessions.Get(id); ok {
			sessions = append(sessions, sessionInfo(m))
		}
	}
	response.JSON(w, http.StatusOK, map[string]any{
		"sessions": sessions,
		"total":    len(sessions),
	})
}

// GetSnapshot handles GET /api/v1/sessions/{userID}/snapshot.
func (h *SessionHandler) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	m, ok := h.session(w, r)
	if !ok {
		return
	}
	response.JSON(w, http.StatusOK, m.Snapshot())
}

// GetWorkflow handles GET /api/v1/sessions/{userID}/workflows/{workflowID}.
// Only workflows in the current snapshot's active list are found.
func (h *SessionHandler) GetWorkflow(w http.ResponseWriter, r *http.Request) {
	m, ok := h.session(w, r)
	if !ok {
		return
	}
	workflowID := strings.TrimSpace(chi.URLParam(r, "workflowID"))
	view, found := m.Snapshot().FindWorkflow(workflowID)
	if !found {
		response.Error(w, http.StatusNotFound, response.ErrCodeNotFound, "workflow not active: "+workflowID, middleware.GetRequestID(r.Context()))
		return
	}
	response.JSON(w, http.StatusOK, view)
}

// Refresh handles POST /api/v1/sessions/{userID}/refresh.
// The cycle runs asynchronously; clients observe it via the snapshot or
// the websocket stream.
func (h *SessionHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	m, ok := h.session(w, r)
	if !ok {
		return
	}
	if !m.RefreshNow() {
		response.Error(w, http.StatusConflict, response.ErrCodeConflict, "session is not polling", middleware.GetRequestID(r.Context()))
		return
	}
	h.log.DebugContext(r.Context(), "manual refresh", "user_id", m.UserID())
	response.JSON(w, http.StatusAccepted, map[string]any{
		"user_id":   m.UserID(),
		"triggered": true,
	})
}

func (h *SessionHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	requestID := middleware.GetRequestID(r.Context())
	switch {
	case errors.Is(err, monitor.ErrMissingUserID):
		response.Error(w, http.StatusBadRequest, response.ErrCodeBadRequest, err.Error(), requestID)
	case errors.Is(err, monitor.ErrClosed):
		response.Error(w, http.StatusServiceUnavailable, response.ErrCodeServiceUnavailable, "shutting down", requestID)
	default:
		h.log.ErrorContext(r.Context(), "session request failed", "error", err)
		response.HandleError(w, err, requestID)
	}
}

package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowwatch/flowwatch/config"
	"github.com/flowwatch/flowwatch/pkg/api/handlers"
	"github.com/flowwatch/flowwatch/pkg/api/middleware"
	"github.com/flowwatch/flowwatch/pkg/api/response"
	"github.com/flowwatch/flowwatch/pkg/events"
	"github.com/flowwatch/flowwatch/pkg/logger"
	"github.com/flowwatch/flowwatch/pkg/metrics"
	"github.com/flowwatch/flowwatch/pkg/monitor"
	"github.com/flowwatch/flowwatch/pkg/snapshot"
	"github.com/flowwatch/flowwatch/pkg/source/memory"
)

var t0 = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

type testAPI struct {
	router  http.Handler
	manager *monitor.Manager
	bus     *events.Broadcaster
	ws      *handlers.WebSocketHandler
	metrics *metrics.Manager
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()

	cfg := config.DefaultConfig()
	log := logger.Discard()

	src := memory.New()
	src.Seed("u1", t0)

	bus := events.NewBroadcaster()
	mgr := monitor.NewManager(src,
		monitor.WithClock(clockwork.NewFakeClockAt(t0)),
		monitor.WithLogger(log),
		monitor.WithPublisher(bus),
	)

	lookup := func(userID string) (*snapshot.WorkflowSnapshot, bool) {
		m, ok := mgr.Get(userID)
		if !ok {
			return nil, false
		}
		return m.Snapshot(), true
	}
	ws := handlers.NewWebSocketHandler(log, handlers.WebSocketConfig{Lookup: lookup})
	go ws.Run(t.Context(), bus.Subscribe(16))

	limiter := middleware.NewRateLimiter(cfg.Server.RateLimit.RequestsPerSecond, cfg.Server.RateLimit.Burst)
	mc := metrics.DefaultConfig()
	mm := metrics.NewManager(mc)

	router := NewRouter(cfg, log, &Handlers{
		Sessions:       handlers.NewSessionHandler(mgr, limiter, log),
		Health:         handlers.NewHealthHandler(mgr.Users, nil),
		WebSocket:      ws,
		RefreshLimiter: limiter,
		Metrics:        mm,
	})

	t.Cleanup(func() {
		mgr.Close()
		ws.Close()
		bus.Close()
	})
	return &testAPI{router: router, manager: mgr, bus: bus, ws: ws, metrics: mm}
}

func (a *testAPI) do(method, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, httptest.NewRequest(method, path, nil))
	return w
}

func TestRouter_Probes(t *testing.T) {
	a := newTestAPI(t)

	for _, path := range []string{"/health", "/ready", "/status"} {
		w := a.do(http.MethodGet, path)
		assert.Equal(t, http.StatusOK, w.Code, path)
		assert.Equal(t, "application/json", w.Header().Get("Content-Type"), path)
		assert.NotEmpty(t, w.Header().Get(middleware.RequestIDHeader), path)
	}
}

func TestRouter_NotFoundAndMethodNotAllowed(t *testing.T) {
	a := newTestAPI(t)

	w := a.do(http.MethodGet, "/nope")
	assert.Equal(t, http.StatusNotFound, w.Code)
	var resp response.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, response.ErrCodeNotFound, resp.Error.Code)
	assert.NotEmpty(t, resp.Error.RequestID)

	w = a.do(http.MethodPut, "/api/v1/sessions/u1")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestRouter_SessionLifecycle(t *testing.T) {
	a := newTestAPI(t)

	assert.Equal(t, http.StatusNotFound, a.do(http.MethodGet, "/api/v1/sessions/u1/snapshot").Code)
	require.Equal(t, http.StatusCreated, a.do(http.MethodPost, "/api/v1/sessions/u1").Code)

	require.Eventually(t, func() bool {
		w := a.do(http.MethodGet, "/api/v1/sessions/u1/snapshot")
		if w.Code != http.StatusOK {
			return false
		}
		var snap snapshot.WorkflowSnapshot
		return json.Unmarshal(w.Body.Bytes(), &snap) == nil && snap.Token == 1
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, http.StatusNoContent, a.do(http.MethodDelete, "/api/v1/sessions/u1").Code)
	assert.Equal(t, http.StatusNotFound, a.do(http.MethodGet, "/api/v1/sessions/u1/snapshot").Code)
}

func TestRouter_RefreshRateLimit(t *testing.T) {
	a := newTestAPI(t)
	require.Equal(t, http.StatusCreated, a.do(http.MethodPost, "/api/v1/sessions/u1").Code)

	// Default burst is 3 per user.
	for i := 0; i < 3; i++ {
		require.Equal(t, http.StatusAccepted, a.do(http.MethodPost, "/api/v1/sessions/u1/refresh").Code, "request %d", i)
	}
	assert.Equal(t, http.StatusTooManyRequests, a.do(http.MethodPost, "/api/v1/sessions/u1/refresh").Code)
}

func TestRouter_RecordsHTTPMetrics(t *testing.T) {
	a := newTestAPI(t)
	a.do(http.MethodGet, "/api/v1/sessions/u1/snapshot")

	w := httptest.NewRecorder()
	a.metrics.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, w.Body.String(), `path="/api/v1/sessions/{userID}/snapshot"`)
}

func TestRouter_WebSocketReceivesAppliedSnapshots(t *testing.T) {
	a := newTestAPI(t)
	server := httptest.NewServer(a.router)
	defer server.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http")+"/ws/snapshots?user_id=u1", nil)
	require.NoError(t, err)
	defer conn.Close()

	read := func() map[string]any {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		var msg map[string]any
		require.NoError(t, conn.ReadJSON(&msg))
		return msg
	}
	assert.Equal(t, handlers.MessageSubscribed, read()["type"])

	require.Equal(t, http.StatusCreated, a.do(http.MethodPost, "/api/v1/sessions/u1").Code)

	msg := read()
	assert.Equal(t, events.TypeSnapshotUpdated, msg["type"])
	assert.Equal(t, "u1", msg["user_id"])
	assert.EqualValues(t, 1, msg["token"])
}

package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/flowwatch/flowwatch/pkg/events"
	"github.com/flowwatch/flowwatch/pkg/logger"
	"github.com/flowwatch/flowwatch/pkg/snapshot"
)

const (
	defaultWSMaxConnections = 100
	defaultPingInterval     = 30 * time.Second
	defaultPongTimeout      = 10 * time.Second
	defaultWriteTimeout     = 10 * time.Second
	defaultSendBuffer       = 32
	maxClientMessage        = 4 << 10
)

// Control message types exchanged on the socket besides snapshot events.
const (
	MessageSubscribe    = "subscribe"
	MessageUnsubscribe  = "unsubscribe"
	MessageSubscribed   = "subscribed"
	MessageUnsubscribed = "unsubscribed"
	MessageError        = "error"
)

// ErrConnectionLimit is returned when the socket limit is reached.
var ErrConnectionLimit = errors.New("websocket connection limit reached")

// SnapshotLookup returns the snapshot currently applied for userID.
type SnapshotLookup func(userID string) (*snapshot.WorkflowSnapshot, bool)

// WebSocketConfig configures the /ws/snapshots endpoint.
type WebSocketConfig struct {
	AllowedOrigins []string
	MaxConnections int
	PingInterval   time.Duration
	PongTimeout    time.Duration
	// Lookup, when set, replays the current snapshot right after a subscribe.
	Lookup SnapshotLookup
}

// ControlMessage acknowledges client requests.
type ControlMessage struct {
	Type    string `json:"type"`
	UserID  string `json:"user_id,omitempty"`
	Message string `json:"message,omitempty"`
}

type clientRequest struct {
	Type   string `json:"type"`
	UserID string `json:"user_id"`
}

// WebSocketHandler streams snapshot.updated events to clients following a
// user. Clients follow users with a user_id query parameter or with
// subscribe/unsubscribe messages.
type WebSocketHandler struct {
	log      logger.Logger
	hub      *hub
	upgrader websocket.Upgrader
	lookup   SnapshotLookup

	pingEvery    time.Duration
	readWindow   time.Duration
	writeTimeout time.Duration
}

// NewWebSocketHandler creates a websocket handler.
func NewWebSocketHandler(log logger.Logger, cfg WebSocketConfig) *WebSocketHandler {
	if log == nil {
		log = logger.Global()
	}
	ping := cfg.PingInterval
	if ping <= 0 {
		ping = defaultPingInterval
	}
	pong := cfg.PongTimeout
	if pong <= 0 {
		pong = defaultPongTimeout
	}

	origins := append([]string(nil), cfg.AllowedOrigins...)
	return &WebSocketHandler{
		log:    log,
		hub:    newHub(cfg.MaxConnections),
		lookup: cfg.Lookup,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return originAllowed(r, origins) },
		},
		pingEvery:    ping,
		readWindow:   ping + pong,
		writeTimeout: defaultWriteTimeout,
	}
}

func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !websocket.IsWebSocketUpgrade(r) {
		http.Error(w, "websocket upgrade required", http.StatusBadRequest)
		return
	}
	if !h.hub.hasRoom() {
		http.Error(w, ErrConnectionLimit.Error(), http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	// Capacity can run out between the check and the upgrade.
	sub, err := h.hub.admit(conn)
	if err != nil {
		h.closeWith(conn, websocket.CloseTryAgainLater, "too many websocket connections")
		_ = conn.Close()
		return
	}

	if userID := strings.TrimSpace(r.URL.Query().Get("user_id")); userID != "" {
		h.subscribe(sub, userID)
	}

	go h.writeLoop(sub)
	h.readLoop(sub)
}

// Run forwards events from ch until ctx is done or ch is closed.
func (h *WebSocketHandler) Run(ctx context.Context, ch <-chan events.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if _, err := h.Broadcast(ev); err != nil {
				h.log.Warn("websocket broadcast failed", "user_id", ev.UserID, "error", err)
			}
		}
	}
}

// Broadcast queues ev for every client following ev.UserID and returns how
// many clients it reached.
func (h *WebSocketHandler) Broadcast(ev events.Event) (int, error) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return 0, err
	}
	return h.hub.publish(ev.UserID, payload), nil
}

// Count returns the number of connected clients.
func (h *WebSocketHandler) Count() int { return h.hub.size() }

// Close disconnects every client with a normal closure.
func (h *WebSocketHandler) Close() { h.hub.shutdown() }

func (h *WebSocketHandler) readLoop(sub *subscriber) {
	defer h.hub.drop(sub)

	conn := sub.conn
	conn.SetReadLimit(maxClientMessage)
	extend := func(string) error { return conn.SetReadDeadline(time.Now().Add(h.readWindow)) }
	_ = extend("")
	conn.SetPongHandler(extend)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.log.Warn("websocket read error", "error", err)
			}
			return
		}
		h.handleRequest(sub, data)
	}
}

// writeLoop is the only writer of data frames on the connection. It closes
// the connection once the hub closes sub.out.
func (h *WebSocketHandler) writeLoop(sub *subscriber) {
	ping := time.NewTicker(h.pingEvery)
	defer func() {
		ping.Stop()
		h.hub.drop(sub)
		_ = sub.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-sub.out:
			if !ok {
				h.closeWith(sub.conn, websocket.CloseNormalClosure, "")
				return
			}
			_ = sub.conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
			if err := sub.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ping.C:
			if err := sub.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.writeTimeout)); err != nil {
				return
			}
		}
	}
}

func (h *WebSocketHandler) closeWith(conn *websocket.Conn, code int, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		time.Now().Add(h.writeTimeout))
}

func (h *WebSocketHandler) handleRequest(sub *subscriber, raw []byte) {
	var req clientRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		h.reply(sub, ControlMessage{Type: MessageError, Message: "invalid json"})
		return
	}

	userID := strings.TrimSpace(req.UserID)
	switch strings.ToLower(strings.TrimSpace(req.Type)) {
	case MessageSubscribe:
		if userID == "" {
			h.reply(sub, ControlMessage{Type: MessageError, Message: "user_id is required"})
			return
		}
		h.subscribe(sub, userID)
	case MessageUnsubscribe:
		if userID == "" {
			h.reply(sub, ControlMessage{Type: MessageError, Message: "user_id is required"})
			return
		}
		h.hub.unfollow(sub, userID)
		h.reply(sub, ControlMessage{Type: MessageUnsubscribed, UserID: userID})
	default:
		h.reply(sub, ControlMessage{Type: MessageError, Message: "unknown message type"})
	}
}

// subscribe acknowledges, then replays the applied snapshot so the client
// does not wait a full cycle for its first view.
func (h *WebSocketHandler) subscribe(sub *subscriber, userID string) {
	h.hub.follow(sub, userID)
	h.reply(sub, ControlMessage{Type: MessageSubscribed, UserID: userID})

	if h.lookup == nil {
		return
	}
	snap, ok := h.lookup(userID)
	if !ok || snap.Stale() {
		return
	}
	payload, err := json.Marshal(events.SnapshotUpdated(snap))
	if err != nil {
		h.log.Warn("encode snapshot replay failed", "user_id", userID, "error", err)
		return
	}
	h.hub.send(sub, payload)
}

func (h *WebSocketHandler) reply(sub *subscriber, msg ControlMessage) {
	if payload, err := json.Marshal(msg); err == nil {
		h.hub.send(sub, payload)
	}
}

// originAllowed accepts requests without an Origin, listed origins and
// same-host origins.
func originAllowed(r *http.Request, allowed []string) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	for _, a := range allowed {
		a = strings.TrimSpace(a)
		if a == "*" || strings.EqualFold(a, origin) {
			return true
		}
	}
	u, err := url.Parse(origin)
	return err == nil && strings.EqualFold(u.Host, r.Host)
}

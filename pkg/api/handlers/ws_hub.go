package handlers

import (
	"sync"

	"github.com/gorilla/websocket"
)

// subscriber is one websocket connection. out is written only by the hub
// and drained only by the connection's write loop.
type subscriber struct {
	conn   *websocket.Conn
	out    chan []byte
	topics map[string]struct{}
	gone   bool
}

// hub indexes subscribers by the user ids they follow. All subscriber state
// is guarded by mu, which also serialises sends against closing out.
type hub struct {
	mu     sync.Mutex
	all    map[*subscriber]struct{}
	byUser map[string]map[*subscriber]struct{}
	limit  int
	shut   bool
}

func newHub(limit int) *hub {
	if limit <= 0 {
		limit = defaultWSMaxConnections
	}
	return &hub{
		all:    make(map[*subscriber]struct{}),
		byUser: make(map[string]map[*subscriber]struct{}),
		limit:  limit,
	}
}

func (h *hub) hasRoom() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return !h.shut && len(h.all) < h.limit
}

func (h *hub) size() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.all)
}

func (h *hub) admit(conn *websocket.Conn) (*subscriber, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.shut || len(h.all) >= h.limit {
		return nil, ErrConnectionLimit
	}
	s := &subscriber{
		conn:   conn,
		out:    make(chan []byte, defaultSendBuffer),
		topics: make(map[string]struct{}),
	}
	h.all[s] = struct{}{}
	return s, nil
}

func (h *hub) follow(s *subscriber, userID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s.gone {
		return
	}
	s.topics[userID] = struct{}{}
	set := h.byUser[userID]
	if set == nil {
		set = make(map[*subscriber]struct{})
		h.byUser[userID] = set
	}
	set[s] = struct{}{}
}

func (h *hub) unfollow(s *subscriber, userID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(s.topics, userID)
	h.forgetLocked(s, userID)
}

func (h *hub) forgetLocked(s *subscriber, userID string) {
	set := h.byUser[userID]
	delete(set, s)
	if len(set) == 0 {
		delete(h.byUser, userID)
	}
}

// send queues payload for s. A subscriber that cannot keep up is dropped.
func (h *hub) send(s *subscriber, payload []byte) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sendLocked(s, payload)
}

func (h *hub) sendLocked(s *subscriber, payload []byte) bool {
	if s.gone {
		return false
	}
	select {
	case s.out <- payload:
		return true
	default:
		h.dropLocked(s)
		return false
	}
}

// publish queues payload for every follower of userID.
func (h *hub) publish(userID string, payload []byte) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for s := range h.byUser[userID] {
		if h.sendLocked(s, payload) {
			n++
		}
	}
	return n
}

func (h *hub) drop(s *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dropLocked(s)
}

func (h *hub) dropLocked(s *subscriber) {
	if s.gone {
		return
	}
	s.gone = true
	for userID := range s.topics {
		h.forgetLocked(s, userID)
	}
	delete(h.all, s)
	close(s.out)
}

// shutdown drops every subscriber and refuses new ones.
func (h *hub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.shut = true
	for s := range h.all {
		h.dropLocked(s)
	}
}

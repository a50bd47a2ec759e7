package monitor

import (
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/flowwatch/flowwatch/pkg/source"
)

// Manager keeps one Monitor per user for a multi-user service.
type Manager struct {
	src  source.Source
	opts []Option
	o    options

	mu       sync.Mutex
	monitors map[string]*Monitor
	closed   bool
}

// NewManager creates a manager whose monitors share src and opts.
func NewManager(src source.Source, opts ...Option) *Manager {
	return &Manager{
		src:      src,
		opts:     opts,
		o:        buildOptions(opts),
		monitors: make(map[string]*Monitor),
	}
}

// Start returns the user's monitor, creating and starting it if needed.
func (mg *Manager) Start(userID string) (*Monitor, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, ErrMissingUserID
	}

	mg.mu.Lock()
	defer mg.mu.Unlock()
	if mg.closed {
		return nil, ErrClosed
	}

	m, ok := mg.monitors[userID]
	if !ok {
		m = New(mg.src, mg.opts...)
		mg.monitors[userID] = m
		mg.o.metrics.SetActiveSessions(len(mg.monitors))
		mg.o.log.Info("session started", "user_id", userID)
	}
	m.Start(userID)
	return m, nil
}

// Stop stops and removes the user's monitor. It reports whether one existed.
func (mg *Manager) Stop(userID string) bool {
	userID = strings.TrimSpace(userID)

	mg.mu.Lock()
	m, ok := mg.monitors[userID]
	if ok {
		delete(mg.monitors, userID)
		mg.o.metrics.SetActiveSessions(len(mg.monitors))
	}
	mg.mu.Unlock()

	if !ok {
		return false
	}
	m.Close()
	mg.o.log.Info("session stopped", "user_id", userID)
	return true
}

// Get returns the user's monitor.
func (mg *Manager) Get(userID string) (*Monitor, bool) {
	mg.mu.Lock()
	defer mg.mu.Unlock()
	m, ok := mg.monitors[strings.TrimSpace(userID)]
	return m, ok
}

// Users returns the monitored user ids in ascending order.
func (mg *Manager) Users() []string {
	mg.mu.Lock()
	defer mg.mu.Unlock()
	users := make([]string, 0, len(mg.monitors))
	for id := range mg.monitors {
		users = append(users, id)
	}
	slices.Sort(users)
	return users
}

// SetInterval changes the polling period of every current and future monitor.
func (mg *Manager) SetInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	mg.mu.Lock()
	defer mg.mu.Unlock()
	mg.opts = append(slices.Clip(mg.opts), WithInterval(d))
	for _, m := range mg.monitors {
		m.SetInterval(d)
	}
}

// Close stops every monitor. Later Start calls fail with ErrClosed.
func (mg *Manager) Close() {
	mg.mu.Lock()
	if mg.closed {
		mg.mu.Unlock()
		return
	}
	mg.closed = true
	monitors := mg.monitors
	mg.monitors = make(map[string]*Monitor)
	mg.o.metrics.SetActiveSessions(0)
	mg.mu.Unlock()

	for _, m := range monitors {
		m.Close()
	}
}

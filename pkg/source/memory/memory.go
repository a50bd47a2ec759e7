// Package memory provides an in-process implementation of source.Source.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/flowwatch/flowwatch/pkg/models"
	"github.com/flowwatch/flowwatch/pkg/source"
)

type userData struct {
	stats    models.Statistics
	active   []models.Workflow
	history  []models.ProcessingLogEntry
	comms    []models.Communication
	hasStats bool
}

// Source serves workflow views from memory. Failures can be injected per view.
type Source struct {
	mu       sync.RWMutex
	users    map[string]*userData
	failures map[source.Name]error
	panics   map[source.Name]any
	calls    map[source.Name]int
	demoNow  func() time.Time
}

// New creates an empty in-memory source.
func New() *Source {
	return &Source{
		users:    make(map[string]*userData),
		failures: make(map[source.Name]error),
		panics:   make(map[source.Name]any),
		calls:    make(map[source.Name]int),
	}
}

func (s *Source) user(userID string) *userData {
	u, ok := s.users[userID]
	if !ok {
		u = &userData{}
		s.users[userID] = u
	}
	return u
}

// SetStatistics replaces the statistics for a user.
func (s *Source) SetStatistics(userID string, stats models.Statistics) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.user(userID)
	u.stats = stats
	u.hasStats = true
}

// SetActive replaces the active workflows for a user.
func (s *Source) SetActive(userID string, workflows []models.Workflow) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user(userID).active = append([]models.Workflow(nil), workflows...)
}

// SetHistory replaces the processing history for a user.
func (s *Source) SetHistory(userID string, entries []models.ProcessingLogEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user(userID).history = append([]models.ProcessingLogEntry(nil), entries...)
}

// SetCommunications replaces the communication trace for a user.
func (s *Source) SetCommunications(userID string, events []models.Communication) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user(userID).comms = append([]models.Communication(nil), events...)
}

// AddCommunication appends one trace event for a user.
func (s *Source) AddCommunication(userID string, ev models.Communication) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.user(userID)
	u.comms = append(u.comms, ev)
}

// Fail makes every subsequent call for the named view return err.
// A nil err clears the failure.
func (s *Source) Fail(name source.Name, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, name)
		return
	}
	s.failures[name] = err
}

// Panic makes every subsequent call for the named view panic with v.
// A nil v clears it.
func (s *Source) Panic(name source.Name, v any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v == nil {
		delete(s.panics, name)
		return
	}
	s.panics[name] = v
}

// Calls returns how many times the named view was requested.
func (s *Source) Calls(name source.Name) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.calls[name]
}

func (s *Source) enter(ctx context.Context, name source.Name, userID string) error {
	s.mu.Lock()
	s.calls[name]++
	if _, ok := s.users[userID]; !ok && s.demoNow != nil {
		s.users[userID] = demoData(s.demoNow())
	}
	p, shouldPanic := s.panics[name]
	err := s.failures[name]
	s.mu.Unlock()

	if shouldPanic {
		panic(p)
	}
	if err != nil {
		return &source.FetchError{Source: name, Err: err}
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return &source.FetchError{Source: name, Err: ctxErr}
	}
	return nil
}

// GetStatistics implements source.Source.
func (s *Source) GetStatistics(ctx context.Context, userID string) (models.Statistics, error) {
	if err := s.enter(ctx, source.Statistics, userID); err != nil {
		return models.Statistics{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if u, ok := s.users[userID]; ok && u.hasStats {
		return u.stats, nil
	}
	return models.Statistics{}, nil
}

// GetActiveWorkflows implements source.Source.
func (s *Source) GetActiveWorkflows(ctx context.Context, userID string, limit int) ([]models.Workflow, error) {
	if err := s.enter(ctx, source.Active, userID); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []models.Workflow{}
	if u, ok := s.users[userID]; ok {
		out = head(u.active, limit)
	}
	if err := source.ValidateWorkflows(source.Active, out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetWorkflowHistory implements source.Source.
func (s *Source) GetWorkflowHistory(ctx context.Context, userID string, limit int) ([]models.ProcessingLogEntry, error) {
	if err := s.enter(ctx, source.History, userID); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if u, ok := s.users[userID]; ok {
		return head(u.history, limit), nil
	}
	return []models.ProcessingLogEntry{}, nil
}

// GetAgentCommunications implements source.Source.
func (s *Source) GetAgentCommunications(ctx context.Context, userID string, limit int) ([]models.Communication, error) {
	if err := s.enter(ctx, source.Communications, userID); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if u, ok := s.users[userID]; ok {
		return head(u.comms, limit), nil
	}
	return []models.Communication{}, nil
}

// head copies at most limit leading elements. A non-positive limit copies all.
func head[T any](in []T, limit int) []T {
	n := len(in)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]T, n)
	copy(out, in[:n])
	return out
}

var _ source.Source = (*Source)(nil)

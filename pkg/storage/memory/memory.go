// Package memory provides an in-memory implementation of the storage interface.
package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/flowwatch/flowwatch/pkg/snapshot"
	"github.com/flowwatch/flowwatch/pkg/storage"
)

// MemoryStorage implements the Storage interface using an in-memory map.
type MemoryStorage struct {
	mu        sync.RWMutex
	snapshots map[string]*snapshot.WorkflowSnapshot
	closed    bool
}

// NewMemoryStorage creates a new in-memory storage instance.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		snapshots: make(map[string]*snapshot.WorkflowSnapshot),
	}
}

// SaveSnapshot stores a copy of snap.
func (m *MemoryStorage) SaveSnapshot(ctx context.Context, snap *snapshot.WorkflowSnapshot) error {
	if err := storage.CheckSnapshot(snap); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.usable(ctx); err != nil {
		return err
	}
	m.snapshots[snap.UserID] = clone(snap)
	return nil
}

// GetSnapshot retrieves the stored snapshot for userID.
func (m *MemoryStorage) GetSnapshot(ctx context.Context, userID string) (*snapshot.WorkflowSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.usable(ctx); err != nil {
		return nil, err
	}
	snap, ok := m.snapshots[userID]
	if !ok {
		return nil, &storage.NotFoundError{EntityType: storage.EntitySnapshot, ID: userID}
	}
	return clone(snap), nil
}

// DeleteSnapshot removes the stored snapshot for userID.
func (m *MemoryStorage) DeleteSnapshot(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.usable(ctx); err != nil {
		return err
	}
	if _, ok := m.snapshots[userID]; !ok {
		return &storage.NotFoundError{EntityType: storage.EntitySnapshot, ID: userID}
	}
	delete(m.snapshots, userID)
	return nil
}

// ListUsers returns the users with a stored snapshot.
func (m *MemoryStorage) ListUsers(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.usable(ctx); err != nil {
		return nil, err
	}
	users := make([]string, 0, len(m.snapshots))
	for id := range m.snapshots {
		users = append(users, id)
	}
	slices.Sort(users)
	return users, nil
}

// Close releases the map. Later calls fail with StorageUnavailableError.
func (m *MemoryStorage) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.snapshots = nil
	return nil
}

func (m *MemoryStorage) usable(ctx context.Context) error {
	if m.closed {
		return &storage.StorageUnavailableError{Cause: storage.ErrClosed}
	}
	if err := ctx.Err(); err != nil {
		return &storage.StorageUnavailableError{Cause: err}
	}
	return nil
}

// clone copies the top-level slices; nested values are never written after
// a snapshot is built.
func clone(s *snapshot.WorkflowSnapshot) *snapshot.WorkflowSnapshot {
	c := *s
	c.ActiveWorkflows = slices.Clone(s.ActiveWorkflows)
	c.History = slices.Clone(s.History)
	c.Communications = slices.Clone(s.Communications)
	return &c
}

package snapshot

import (
	"sync/atomic"
)

// Store holds the currently applied snapshot for one user and hands out
// generation tokens. A cycle takes a token before fetching; when its result
// arrives, Apply accepts it only if no later cycle has been applied already.
type Store struct {
	current atomic.Pointer[WorkflowSnapshot]
	next    atomic.Uint64
}

// NewStore creates a store holding the empty snapshot for userID.
func NewStore(userID string) *Store {
	s := &Store{}
	s.current.Store(Empty(userID))
	return s
}

// NextToken returns a token greater than every token issued before it.
func (s *Store) NextToken() uint64 {
	return s.next.Add(1)
}

// Current returns the applied snapshot. Callers must not modify it.
func (s *Store) Current() *WorkflowSnapshot {
	return s.current.Load()
}

// Apply publishes snap if its token is newer than the applied snapshot's.
// It reports whether snap was applied.
func (s *Store) Apply(snap *WorkflowSnapshot) bool {
	if snap == nil {
		return false
	}
	for {
		cur := s.current.Load()
		if cur != nil && cur.Token > 0 && snap.Token <= cur.Token {
			return false
		}
		if s.current.CompareAndSwap(cur, snap) {
			return true
		}
	}
}

// Seed installs a previously persisted snapshot as the baseline, but only
// while no cycle has been applied. Seeded snapshots carry token 0.
func (s *Store) Seed(snap *WorkflowSnapshot) bool {
	if snap == nil {
		return false
	}
	seeded := *snap
	seeded.Token = 0
	normalize(&seeded)
	for {
		cur := s.current.Load()
		if cur != nil && cur.Token > 0 {
			return false
		}
		if s.current.CompareAndSwap(cur, &seeded) {
			return true
		}
	}
}

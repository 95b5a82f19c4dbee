package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"folio/internal/memory/models"
	"folio/internal/sentinel"
)

// Error Contract:
// - Get returns an error wrapping sentinel.ErrNotFound for unknown ids
// - Delete and DeleteIdle never fail for missing sessions
//
// InMemoryStore keeps conversation sessions in process memory. The map lock
// only guards membership; session contents are guarded by the session's own
// lock so a long summarization never blocks lookups of other sessions.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*models.Session
}

func New() *InMemoryStore {
	return &InMemoryStore{sessions: make(map[string]*models.Session)}
}

// GetOrCreate returns the session for id, creating it at now when absent.
// created reports whether a new session was stored.
func (s *InMemoryStore) GetOrCreate(_ context.Context, id, userAddress string, now time.Time) (*models.Session, bool, error) {
	s.mu.RLock()
	session, ok := s.sessions[id]
	s.mu.RUnlock()
	if ok {
		return session, false, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if session, ok := s.sessions[id]; ok {
		return session, false, nil
	}
	session = models.NewSession(id, userAddress, now)
	s.sessions[id] = session
	return session, true, nil
}

func (s *InMemoryStore) Get(_ context.Context, id string) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if session, ok := s.sessions[id]; ok {
		return session, nil
	}
	return nil, fmt.Errorf("session %s: %w", id, sentinel.ErrNotFound)
}

// Delete removes the session. Reports whether it existed.
func (s *InMemoryStore) Delete(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sessions[id]
	delete(s.sessions, id)
	return ok, nil
}

// List returns a snapshot of all sessions in no particular order.
func (s *InMemoryStore) List(_ context.Context) ([]*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		out = append(out, session)
	}
	return out, nil
}

// DeleteIdle removes sessions whose last activity is strictly before cutoff
// and returns their ids.
func (s *InMemoryStore) DeleteIdle(_ context.Context, cutoff time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed []string
	for id, session := range s.sessions {
		if session.LastActivity().Before(cutoff) {
			delete(s.sessions, id)
			removed = append(removed, id)
		}
	}
	return removed, nil
}

// Len returns the number of stored sessions.
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

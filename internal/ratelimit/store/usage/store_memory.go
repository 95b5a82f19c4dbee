package usage

import (
	"sync"
	"time"

	"folio/internal/ratelimit/models"
)

// defaultCapacity is the initial ring size for windows created before any
// capacity hint was registered.
const defaultCapacity = 64

// InMemoryStore keeps one ring buffer per (model, limit kind).
// For production, this is the only store: usage history is deliberately not durable.
type InMemoryStore struct {
	mu      sync.Mutex
	windows map[models.WindowKey]*Window
}

// NewInMemoryStore creates an empty usage store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		windows: make(map[models.WindowKey]*Window),
	}
}

// Configure preallocates (or resizes) the ring behind key.
func (s *InMemoryStore) Configure(key models.WindowKey, capacity int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if w, ok := s.windows[key]; ok {
		if capacity > w.Cap() {
			w.resize(min(capacity, maxPrealloc))
		}
		return
	}
	s.windows[key] = newWindow(min(capacity, maxPrealloc), key.Kind.Window())
}

// Record adds amount to the window at now.
func (s *InMemoryStore) Record(key models.WindowKey, now time.Time, amount int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.windows[key]
	if !ok {
		w = newWindow(defaultCapacity, key.Kind.Window())
		s.windows[key] = w
	}
	w.Add(now, amount)
}

// Usage returns the in-window total and oldest entry time for key.
// Expired entries are purged as a side effect.
func (s *InMemoryStore) Usage(key models.WindowKey, now time.Time) (int, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.windows[key]
	if !ok {
		return 0, time.Time{}
	}
	return w.Used(now)
}

// ResetModel drops every window belonging to model.
func (s *InMemoryStore) ResetModel(model string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	model = models.NormalizeModel(model)
	for key := range s.windows {
		if key.Model == model {
			delete(s.windows, key)
		}
	}
}

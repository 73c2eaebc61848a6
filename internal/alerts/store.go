package alerts

import (
	"sync"
	"time"

	"flightguard/internal/model"
)

// Store is a bounded in-memory history of routed alert events.
type Store struct {
	mu    sync.RWMutex
	buf   []model.AlertEvent
	limit int
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = 1000
	}
	return &Store{limit: limit}
}

func (s *Store) Add(events ...model.AlertEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ev := range events {
		if len(s.buf) < s.limit {
			s.buf = append(s.buf, ev)
			continue
		}
		copy(s.buf, s.buf[1:])
		s.buf[len(s.buf)-1] = ev
	}
}

// List returns the newest limit events, oldest first.
func (s *Store) List(limit int) []model.AlertEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit > len(s.buf) {
		limit = len(s.buf)
	}
	return append([]model.AlertEvent(nil), s.buf[len(s.buf)-limit:]...)
}

func (s *Store) Since(ts time.Time) []model.AlertEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.AlertEvent, 0)
	for _, a := range s.buf {
		if !a.Timestamp.Before(ts) {
			out = append(out, a)
		}
	}
	return out
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf = nil
}

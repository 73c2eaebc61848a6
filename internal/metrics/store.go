package metrics

import (
	"sort"
	"sync"

	"flightguard/internal/model"
)

// Store keeps the most recent batch reports by batch id for the API and
// baseline rebuilds.
type Store struct {
	mu      sync.RWMutex
	byBatch map[string]model.BatchReport
	limit   int
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = 100
	}
	return &Store{
		byBatch: make(map[string]model.BatchReport),
		limit:   limit,
	}
}

// Add records r, replacing an earlier report for the same batch.
func (s *Store) Add(r model.BatchReport) {
	if r.BatchID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byBatch[r.BatchID] = r
	if len(s.byBatch) > s.limit {
		s.evictOldest()
	}
}

func (s *Store) Get(batchID string) (model.BatchReport, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.byBatch[batchID]
	return r, ok
}

// List returns up to limit reports, newest last.
func (s *Store) List(limit int) []model.BatchReport {
	s.mu.RLock()
	out := make([]model.BatchReport, 0, len(s.byBatch))
	for _, r := range s.byBatch {
		out = append(out, r)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ProcessedAt.Equal(out[j].ProcessedAt) {
			return out[i].ProcessedAt.Before(out[j].ProcessedAt)
		}
		return out[i].BatchID < out[j].BatchID
	})
	if limit > 0 && limit < len(out) {
		out = out[len(out)-limit:]
	}
	return out
}

func (s *Store) Latest() (model.BatchReport, bool) {
	list := s.List(1)
	if len(list) == 0 {
		return model.BatchReport{}, false
	}
	return list[0], true
}

func (s *Store) evictOldest() {
	var oldestID string
	var oldest model.BatchReport
	for id, r := range s.byBatch {
		if oldestID == "" || r.ProcessedAt.Before(oldest.ProcessedAt) ||
			(r.ProcessedAt.Equal(oldest.ProcessedAt) && id < oldestID) {
			oldestID = id
			oldest = r
		}
	}
	if oldestID != "" {
		delete(s.byBatch, oldestID)
	}
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byBatch = make(map[string]model.BatchReport)
}

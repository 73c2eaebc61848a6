package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"flightguard/internal/model"
)

// Memory is an in-process Store. It backs tests and single-shot CLI runs.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]model.QuarantineEntry
	alerts  []model.AlertEvent
	reports []model.BatchReport
}

func NewMemory() *Memory {
	return &Memory{entries: make(map[string]model.QuarantineEntry)}
}

func (m *Memory) Init(ctx context.Context) error { return nil }
func (m *Memory) Close() error                   { return nil }

func (m *Memory) Put(ctx context.Context, e model.QuarantineEntry) (string, error) {
	if e.ID == "" {
		return "", errors.New("quarantine entry has no id")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.entries[e.ID]; ok {
		e.Status = cur.Status
		e.CreatedAt = cur.CreatedAt
		e.ReviewedAt = cur.ReviewedAt
		e.Reviewer = cur.Reviewer
		e.ReviewNote = cur.ReviewNote
	} else if e.Status == "" {
		e.Status = model.StatusCreated
	}
	m.entries[e.ID] = e
	return e.ID, nil
}

func (m *Memory) Get(ctx context.Context, id string) (model.QuarantineEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[id]
	if !ok {
		return model.QuarantineEntry{}, model.ErrNotFound
	}
	return e, nil
}

func (m *Memory) List(ctx context.Context, f model.QuarantineFilter) ([]model.QuarantineEntry, error) {
	m.mu.RLock()
	out := make([]model.QuarantineEntry, 0, len(m.entries))
	for _, e := range m.entries {
		if f.Match(e) {
			out = append(out, e)
		}
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *Memory) UpdateStatus(ctx context.Context, u model.StatusUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[u.ID]
	if !ok {
		return model.ErrNotFound
	}
	if e.Status != u.Expected {
		return fmt.Errorf("%w: %s is %s, expected %s", model.ErrConflict, u.ID, e.Status, u.Expected)
	}
	e.Status = u.Next
	e.UpdatedAt = u.At
	if reviewTransition(u.Next) {
		at := u.At
		e.ReviewedAt = &at
	}
	if u.Reviewer != "" {
		e.Reviewer = u.Reviewer
	}
	if u.Note != "" {
		e.ReviewNote = u.Note
	}
	m.entries[u.ID] = e
	return nil
}

func (m *Memory) SaveAlert(ctx context.Context, ev model.AlertEvent) error {
	m.mu.Lock()
	m.alerts = append(m.alerts, ev)
	m.mu.Unlock()
	return nil
}

func (m *Memory) SaveReport(ctx context.Context, r model.BatchReport) error {
	m.mu.Lock()
	m.reports = append(m.reports, r)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Alerts() []model.AlertEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]model.AlertEvent(nil), m.alerts...)
}

func (m *Memory) Reports() []model.BatchReport {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]model.BatchReport(nil), m.reports...)
}

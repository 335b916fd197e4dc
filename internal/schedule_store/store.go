// Package schedule_store persists the last firing date of calendar events so
// they stay once-per-day across restarts.
package schedule_store

import (
	"context"
	"sync"
	"time"
)

// DateLayout is the format of stored dates.
const DateLayout = "2006-01-02"

// Store returns "" for events that never fired.
type Store interface {
	LastFiredDate(ctx context.Context, eventID string) (string, error)
	SetLastFiredDate(ctx context.Context, eventID, date string) error
}

// DateOf formats t in its own location.
func DateOf(t time.Time) string { return t.Format(DateLayout) }

type MemoryStore struct {
	mu    sync.Mutex
	dates map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{dates: make(map[string]string)}
}

func (m *MemoryStore) LastFiredDate(_ context.Context, eventID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dates[eventID], nil
}

func (m *MemoryStore) SetLastFiredDate(_ context.Context, eventID, date string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dates[eventID] = date
	return nil
}

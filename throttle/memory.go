package throttle

import (
	"context"
	"sync"
	"time"
)

const pruneThreshold = 1024

type entry struct {
	at      time.Time
	expires time.Time
	holder  string
}

// MemoryStore keeps windows in a map for the lifetime of the process.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]entry)}
}

func (m *MemoryStore) Acquire(_ context.Context, key, holder string, now time.Time, window time.Duration) (bool, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.entries[key]; ok && now.Sub(e.at) < window {
		return false, e.holder, nil
	}
	if len(m.entries) >= pruneThreshold {
		m.prune(now)
	}
	m.entries[key] = entry{at: now, expires: now.Add(window), holder: holder}
	return true, holder, nil
}

func (m *MemoryStore) Release(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) prune(now time.Time) {
	for k, e := range m.entries {
		if !e.expires.After(now) {
			delete(m.entries, k)
		}
	}
}

// Len reports how many windows are tracked.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

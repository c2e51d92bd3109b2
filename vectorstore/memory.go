package vectorstore

import (
	"context"
	"fmt"
	"sync"
)

// Memory is a brute-force in-process store, used for tests and the
// "memory" backend.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

func NewMemory() *Memory {
	return &Memory{entries: make(map[string]Entry)}
}

func (m *Memory) Upsert(_ context.Context, entries ...Entry) error {
	for _, e := range entries {
		if err := validateEntry(e); err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range entries {
		e.Vector = append([]float32(nil), e.Vector...)
		m.entries[e.ID] = e
	}
	return nil
}

func (m *Memory) Query(_ context.Context, vector []float32, k int) ([]Match, error) {
	if len(vector) == 0 {
		return nil, fmt.Errorf("query vector is empty")
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	matches := make([]Match, 0, len(m.entries))
	for _, e := range m.entries {
		dist, err := CosineDistance(vector, e.Vector)
		if err != nil {
			return nil, fmt.Errorf("score entry %s: %w", e.ID, err)
		}
		matches = append(matches, Match{ID: e.ID, DocumentID: e.DocumentID, Role: e.Role, Text: e.Text, Distance: dist})
	}
	return rank(matches, k), nil
}

func (m *Memory) Count(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries), nil
}

func (m *Memory) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]Entry)
	return nil
}

var _ Store = (*Memory)(nil)

package sqslistener

import (
	"context"
	"sync"
	"time"
)

type InMemoryDedupStore struct {
	mu        sync.RWMutex
	processed map[string]time.Time
}

func NewInMemoryDedupStore() *InMemoryDedupStore {
	return &InMemoryDedupStore{
		processed: make(map[string]time.Time),
	}
}

func (m *InMemoryDedupStore) IsProcessed(ctx context.Context, messageID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, exists := m.processed[messageID]
	return exists, nil
}

func (m *InMemoryDedupStore) MarkProcessed(ctx context.Context, messageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.processed[messageID] = time.Now()
	return nil
}

func (m *InMemoryDedupStore) Cleanup(ctx context.Context, olderThan time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().Add(-olderThan)
	for id, at := range m.processed {
		if at.Before(cutoff) {
			delete(m.processed, id)
		}
	}
	return nil
}

func (m *InMemoryDedupStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.processed = nil
	return nil
}

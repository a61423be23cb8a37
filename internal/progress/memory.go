package progress

import (
	"context"
	"sync"

	"github.com/BerylCAtieno/statement-extraction-api/internal/models"
)

type memoryTracker struct {
	mu      sync.RWMutex
	entries map[models.DocumentKey]models.ProgressStatus
}

// NewMemoryTracker keeps progress in process memory. Progress is lost on restart,
// which only affects the in-flight display.
func NewMemoryTracker() Tracker {
	return &memoryTracker{entries: make(map[models.DocumentKey]models.ProgressStatus)}
}

func (m *memoryTracker) Update(_ context.Context, key models.DocumentKey, phase, message string, pct int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := phase
	m.entries[key] = models.ProgressStatus{Phase: &p, Message: message, Progress: clamp(pct)}
	return nil
}

func (m *memoryTracker) Get(_ context.Context, key models.DocumentKey) (*models.ProgressStatus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.entries[key]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (m *memoryTracker) Clear(_ context.Context, key models.DocumentKey) error {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
	return nil
}

package services

import (
	"sync"

	"github.com/BerylCAtieno/statement-extraction-api/internal/models"
)

// Locks tracks the one active operation allowed per document. There is no
// cross-document lock.
type Locks struct {
	mu     sync.Mutex
	active map[models.DocumentKey]string
}

func NewLocks() *Locks {
	return &Locks{active: make(map[models.DocumentKey]string)}
}

// TryAcquire marks op as running on key. It returns the running operation and
// false when another one holds the document.
func (l *Locks) TryAcquire(key models.DocumentKey, op string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if running, busy := l.active[key]; busy {
		return running, false
	}
	l.active[key] = op
	return "", true
}

func (l *Locks) Release(key models.DocumentKey) {
	l.mu.Lock()
	delete(l.active, key)
	l.mu.Unlock()
}

// Running returns the operation in flight on key, if any.
func (l *Locks) Running(key models.DocumentKey) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	op, ok := l.active[key]
	return op, ok
}

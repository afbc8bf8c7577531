package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memoryEntry struct {
	token     string
	expiresAt time.Time
}

// MemoryLocker is an in-process implementation of Locker for tests and
// the offline simulate command.
type MemoryLocker struct {
	mu    sync.Mutex
	locks map[string]memoryEntry
	now   func() time.Time
}

// NewMemoryLocker creates a new in-process locker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{
		locks: make(map[string]memoryEntry),
		now:   time.Now,
	}
}

// Acquire takes the named lock for at most ttl.
func (l *MemoryLocker) Acquire(_ context.Context, name string, ttl time.Duration) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if entry, held := l.locks[name]; held && now.Before(entry.expiresAt) {
		return "", ErrNotAcquired
	}

	token := uuid.NewString()
	l.locks[name] = memoryEntry{token: token, expiresAt: now.Add(ttl)}
	return token, nil
}

// Release frees the named lock if token still owns it.
func (l *MemoryLocker) Release(_ context.Context, name string, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if entry, held := l.locks[name]; held && entry.token == token {
		delete(l.locks, name)
	}
	return nil
}

// SetClock overrides the time source. Tests only.
func (l *MemoryLocker) SetClock(now func() time.Time) {
	l.now = now
}

var _ Locker = (*MemoryLocker)(nil)

package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memoryHold struct {
	token     string
	expiresAt time.Time
}

// MemoryLocker is an in-process Locker for single-node deployments and tests.
type MemoryLocker struct {
	mu    sync.Mutex
	holds map[string]memoryHold
}

// NewMemoryLocker creates an in-process locker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{holds: map[string]memoryHold{}}
}

func (l *MemoryLocker) TryAcquire(_ context.Context, key string, lease time.Duration) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if hold, ok := l.holds[key]; ok && time.Now().Before(hold.expiresAt) {
		return "", nil
	}
	token := uuid.New().String()
	l.holds[key] = memoryHold{token: token, expiresAt: time.Now().Add(lease)}
	return token, nil
}

func (l *MemoryLocker) Release(_ context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	// A stale token means the lease expired and someone else may hold the
	// key now; only the current holder's token unlocks it.
	if hold, ok := l.holds[key]; ok && hold.token == token {
		delete(l.holds, key)
	}
	return nil
}

package lock

import (
	"context"
	"time"
)

// Locker is a lease-based mutual exclusion primitive keyed by string.
// TryAcquire never blocks: it returns an empty token immediately when another
// holder owns the key. Release removes only the hold identified by its token,
// so releasing after lease expiry cannot unlock a newer holder, and releasing
// twice is a no-op.
type Locker interface {
	// TryAcquire attempts to take the lock, holding it for at most lease.
	// On success it returns a holder token to pass back to Release; on
	// contention it returns "".
	TryAcquire(ctx context.Context, key string, lease time.Duration) (string, error)

	// Release drops the hold identified by token. A token that no longer
	// owns the key is ignored.
	Release(ctx context.Context, key, token string) error
}

package lock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryLockerMutualExclusion(t *testing.T) {
	ctx := context.Background()
	locker := NewMemoryLocker()

	token, err := locker.TryAcquire(ctx, "ingest:a", time.Minute)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	token, err = locker.TryAcquire(ctx, "ingest:a", time.Minute)
	require.NoError(t, err)
	require.Empty(t, token)

	// A different key is independent.
	token, err = locker.TryAcquire(ctx, "ingest:b", time.Minute)
	require.NoError(t, err)
	require.NotEmpty(t, token)
}

func TestMemoryLockerReleaseIdempotent(t *testing.T) {
	ctx := context.Background()
	locker := NewMemoryLocker()

	token, err := locker.TryAcquire(ctx, "ingest:a", time.Minute)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	require.NoError(t, locker.Release(ctx, "ingest:a", token))
	require.NoError(t, locker.Release(ctx, "ingest:a", token))

	token, err = locker.TryAcquire(ctx, "ingest:a", time.Minute)
	require.NoError(t, err)
	require.NotEmpty(t, token)
}

func TestMemoryLockerLeaseExpiry(t *testing.T) {
	ctx := context.Background()
	locker := NewMemoryLocker()

	token, err := locker.TryAcquire(ctx, "ingest:a", 10*time.Millisecond)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	time.Sleep(20 * time.Millisecond)

	token, err = locker.TryAcquire(ctx, "ingest:a", time.Minute)
	require.NoError(t, err)
	require.NotEmpty(t, token)
}

func TestMemoryLockerStaleReleaseKeepsNewHolder(t *testing.T) {
	ctx := context.Background()
	locker := NewMemoryLocker()

	stale, err := locker.TryAcquire(ctx, "ingest:a", 10*time.Millisecond)
	require.NoError(t, err)
	require.NotEmpty(t, stale)

	time.Sleep(20 * time.Millisecond)

	current, err := locker.TryAcquire(ctx, "ingest:a", time.Minute)
	require.NoError(t, err)
	require.NotEmpty(t, current)

	// The expired holder releasing must not unlock the new holder.
	require.NoError(t, locker.Release(ctx, "ingest:a", stale))

	token, err := locker.TryAcquire(ctx, "ingest:a", time.Minute)
	require.NoError(t, err)
	require.Empty(t, token)

	// The current holder still releases normally.
	require.NoError(t, locker.Release(ctx, "ingest:a", current))
	token, err = locker.TryAcquire(ctx, "ingest:a", time.Minute)
	require.NoError(t, err)
	require.NotEmpty(t, token)
}

func TestMemoryLockerSingleWinnerUnderContention(t *testing.T) {
	ctx := context.Background()
	locker := NewMemoryLocker()

	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0

	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			token, err := locker.TryAcquire(ctx, "ingest:shared", time.Minute)
			require.NoError(t, err)
			if token != "" {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 1, winners)
}

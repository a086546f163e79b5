package cache

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Cache is an in-process TTL cache with read-through loading and explicit
// invalidation. Writers that change the underlying data must call Delete for
// the affected key before signaling their own caller; entries also expire on
// their own after DefaultTTL, so a missed invalidation is bounded in time.
//
// Concurrent loaders for the same key may both execute; the last one to finish
// wins the slot. The backing store stays the source of truth, so this race
// only costs a redundant query.
type Cache struct {
	data    sync.Map
	config  Config
	size    atomic.Int64
	closed  chan struct{}
	closeMu sync.Once
}

// Config holds the configuration for the cache.
type Config struct {
	// DefaultTTL is applied to entries stored without an explicit TTL.
	DefaultTTL time.Duration
	// CleanupInterval is how often expired entries are swept out.
	CleanupInterval time.Duration
	// MaxItems bounds the entry count; inserts beyond it evict expired
	// entries first and are dropped if the cache is still full.
	MaxItems int
	// OnEviction, if set, is called for entries removed by the sweeper.
	OnEviction func(key string, value any)
}

type entry struct {
	value     any
	expiresAt time.Time
}

func (e *entry) expired(now time.Time) bool {
	return now.After(e.expiresAt)
}

// Loader fetches the value for a key on a cache miss.
type Loader func(ctx context.Context) (any, error)

// New creates a cache and starts its cleanup goroutine.
func New(config Config) *Cache {
	if config.DefaultTTL <= 0 {
		config.DefaultTTL = 5 * time.Minute
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = time.Minute
	}

	c := &Cache{
		config: config,
		closed: make(chan struct{}),
	}
	go c.janitor()
	return c
}

// Get returns the cached value for key if present and unexpired.
func (c *Cache) Get(_ context.Context, key string) (any, bool) {
	v, ok := c.data.Load(key)
	if !ok {
		return nil, false
	}
	e := v.(*entry)
	if e.expired(time.Now()) {
		c.data.Delete(key)
		c.size.Add(-1)
		return nil, false
	}
	return e.value, true
}

// GetOrLoad returns the cached value for key, invoking loader on a miss and
// storing the fresh value with the default TTL.
func (c *Cache) GetOrLoad(ctx context.Context, key string, loader Loader) (any, error) {
	if v, ok := c.Get(ctx, key); ok {
		return v, nil
	}

	value, err := loader(ctx)
	if err != nil {
		return nil, err
	}
	c.Set(ctx, key, value)
	return value, nil
}

// Set stores a value with the default TTL.
func (c *Cache) Set(ctx context.Context, key string, value any) {
	c.SetWithTTL(ctx, key, value, c.config.DefaultTTL)
}

// SetWithTTL stores a value with a custom TTL.
func (c *Cache) SetWithTTL(_ context.Context, key string, value any, ttl time.Duration) {
	if c.config.MaxItems > 0 && int(c.size.Load()) >= c.config.MaxItems {
		c.sweep(time.Now())
		if int(c.size.Load()) >= c.config.MaxItems {
			slog.Debug("cache full, dropping insert", "key", key, "max_items", c.config.MaxItems)
			return
		}
	}

	if _, loaded := c.data.Swap(key, &entry{value: value, expiresAt: time.Now().Add(ttl)}); !loaded {
		c.size.Add(1)
	}
}

// Delete unconditionally removes any cached entry for key. There is no
// guarantee about loads already in flight.
func (c *Cache) Delete(_ context.Context, key string) {
	if _, loaded := c.data.LoadAndDelete(key); loaded {
		c.size.Add(-1)
	}
}

// Clear removes all entries.
func (c *Cache) Clear(_ context.Context) {
	c.data.Range(func(key, _ any) bool {
		c.data.Delete(key)
		return true
	})
	c.size.Store(0)
}

// Size returns the current entry count, including not-yet-swept expired
// entries.
func (c *Cache) Size() int64 {
	return c.size.Load()
}

// Close stops the cleanup goroutine.
func (c *Cache) Close() error {
	c.closeMu.Do(func() {
		close(c.closed)
	})
	return nil
}

func (c *Cache) janitor() {
	ticker := time.NewTicker(c.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			c.sweep(now)
		case <-c.closed:
			return
		}
	}
}

func (c *Cache) sweep(now time.Time) {
	c.data.Range(func(key, value any) bool {
		e := value.(*entry)
		if e.expired(now) {
			if _, loaded := c.data.LoadAndDelete(key); loaded {
				c.size.Add(-1)
				if c.config.OnEviction != nil {
					c.config.OnEviction(key.(string), e.value)
				}
			}
		}
		return true
	})
}

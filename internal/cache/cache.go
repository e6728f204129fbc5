package cache

import (
	"sync"
	"time"
)

// DefaultTTL is how long an adapter keeps a fetched record.
const DefaultTTL = 30 * time.Second

// entry stores a cached value with the time it was written.
type entry[V any] struct {
	storedAt time.Time
	value    V
}

// TTL caches values per key for a fixed duration.
// Expiry is checked lazily on read; stale entries stay in the map until the
// next Set overwrites them.
type TTL[V any] struct {
	ttl time.Duration
	now func() time.Time

	mu    sync.RWMutex
	items map[string]entry[V]
}

// Option configures a TTL cache.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// New creates a cache. A non-positive ttl disables caching: every Get misses.
func New[V any](ttl time.Duration, opts ...Option) *TTL[V] {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return &TTL[V]{ttl: ttl, now: o.now, items: make(map[string]entry[V])}
}

// Get returns the value for key if it was stored less than ttl ago.
func (c *TTL[V]) Get(key string) (V, bool) {
	var zero V
	if c.ttl <= 0 {
		return zero, false
	}
	c.mu.RLock()
	e, ok := c.items[key]
	c.mu.RUnlock()
	if !ok || c.now().Sub(e.storedAt) >= c.ttl {
		return zero, false
	}
	return e.value, true
}

// Set overwrites key and resets its age.
func (c *TTL[V]) Set(key string, value V) {
	c.mu.Lock()
	c.items[key] = entry[V]{storedAt: c.now(), value: value}
	c.mu.Unlock()
}

// Len counts stored entries, fresh or not. Diagnostics only.
func (c *TTL[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// TTL reports the configured lifetime.
func (c *TTL[V]) TTL() time.Duration { return c.ttl }

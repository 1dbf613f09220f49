package cache

import "time"

type ttlEntry[V any] struct {
	value     V
	expiresAt time.Time
}

// TTLCache is an LRU whose entries also expire after a fixed time to live.
// Expired entries are dropped lazily on access.
type TTLCache[K comparable, V any] struct {
	lru *LRUCache[K, ttlEntry[V]]
	ttl time.Duration
	now func() time.Time
}

// TTLOption configures a TTLCache.
type TTLOption func(*ttlOptions)

type ttlOptions struct {
	now func() time.Time
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) TTLOption {
	return func(o *ttlOptions) {
		if now != nil {
			o.now = now
		}
	}
}

// NewTTLCache creates an expiring cache. Capacity and ttl must be positive.
func NewTTLCache[K comparable, V any](capacity int, ttl time.Duration, opts ...TTLOption) *TTLCache[K, V] {
	if ttl <= 0 {
		panic("cache: ttl must be positive")
	}
	o := ttlOptions{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return &TTLCache[K, V]{
		lru: NewLRUCache[K, ttlEntry[V]](capacity),
		ttl: ttl,
		now: o.now,
	}
}

// Get returns the value if present and not expired.
func (c *TTLCache[K, V]) Get(key K) (V, bool) {
	e, ok := c.lru.Get(key)
	if !ok {
		var zero V
		return zero, false
	}
	if !c.now().Before(e.expiresAt) {
		c.lru.Remove(key)
		var zero V
		return zero, false
	}
	return e.value, true
}

// Put stores value for the configured ttl.
func (c *TTLCache[K, V]) Put(key K, value V) {
	c.lru.Put(key, ttlEntry[V]{value: value, expiresAt: c.now().Add(c.ttl)})
}

// Add stores value only if key is absent or expired. It reports whether it was stored.
func (c *TTLCache[K, V]) Add(key K, value V) bool {
	if e, ok := c.lru.Peek(key); ok && !c.now().Before(e.expiresAt) {
		c.lru.Remove(key)
	}
	return c.lru.Add(key, ttlEntry[V]{value: value, expiresAt: c.now().Add(c.ttl)})
}

// Remove drops key.
func (c *TTLCache[K, V]) Remove(key K) {
	c.lru.Remove(key)
}

// Len counts entries, including expired ones not yet dropped.
func (c *TTLCache[K, V]) Len() int {
	return c.lru.Len()
}

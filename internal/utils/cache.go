package utils

import (
	"sync"
	"time"
)

// TTLCache holds a single value for at most ttl. It is safe for concurrent use.
type TTLCache[V any] struct {
	mu  sync.Mutex
	ttl time.Duration
	now func() time.Time

	v     V
	at    time.Time
	valid bool
}

// NewTTLCache creates a cache with the given TTL. If ttl <= 0, values never hit.
func NewTTLCache[V any](ttl time.Duration) *TTLCache[V] {
	return &TTLCache[V]{ttl: ttl, now: time.Now}
}

// WithClock replaces the time source, for tests.
func (c *TTLCache[V]) WithClock(now func() time.Time) *TTLCache[V] {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
	return c
}

// Get returns the cached value if it exists and hasn't expired.
func (c *TTLCache[V]) Get() (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var zero V
	if !c.valid {
		return zero, false
	}
	if c.now().Sub(c.at) >= c.ttl {
		c.valid = false
		c.v = zero
		return zero, false
	}
	return c.v, true
}

// Set stores the value with the current timestamp.
func (c *TTLCache[V]) Set(v V) {
	c.mu.Lock()
	c.v, c.at, c.valid = v, c.now(), true
	c.mu.Unlock()
}

func (c *TTLCache[V]) Invalidate() {
	c.mu.Lock()
	var zero V
	c.v, c.valid = zero, false
	c.mu.Unlock()
}

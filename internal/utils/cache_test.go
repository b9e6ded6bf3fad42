package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTTLCache(t *testing.T) {
	now := time.Unix(1700000000, 0)
	c := NewTTLCache[bool](10 * time.Second).WithClock(func() time.Time { return now })

	_, ok := c.Get()
	assert.False(t, ok)

	c.Set(true)
	v, ok := c.Get()
	assert.True(t, ok)
	assert.True(t, v)

	now = now.Add(9 * time.Second)
	_, ok = c.Get()
	assert.True(t, ok)

	now = now.Add(time.Second)
	_, ok = c.Get()
	assert.False(t, ok, "expired at ttl")
}

func TestTTLCacheInvalidate(t *testing.T) {
	c := NewTTLCache[string](time.Minute)
	c.Set("on")
	c.Invalidate()
	_, ok := c.Get()
	assert.False(t, ok)
}

func TestTTLCacheZeroTTLNeverHits(t *testing.T) {
	c := NewTTLCache[int](0)
	c.Set(1)
	_, ok := c.Get()
	assert.False(t, ok)
}

// Package cache provides a small expiring key/value cache. It exists for
// venue metadata only: price quotes are staleness-sensitive and must never be
// cached.
package cache

import (
	"sync"
	"time"
)

type entry struct {
	value   any
	expires time.Time
}

type TTL struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[string]entry
}

func New(ttl time.Duration) *TTL {
	return &TTL{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]entry),
	}
}

func (c *TTL) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.now().After(e.expires) {
		delete(c.entries, key)
		return nil, false
	}
	return e.value, true
}

func (c *TTL) Set(key string, value any) {
	if c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry{value: value, expires: c.now().Add(c.ttl)}
}

func (c *TTL) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

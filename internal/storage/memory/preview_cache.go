// Package memory provides the process-local preview cache.
package memory

import (
	"errors"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"

	"github.com/JakeFAU/linkpreview/internal/preview"
)

type entry struct {
	createdAt time.Time
	expiresAt time.Time
	value     preview.Payload
}

// PreviewCache is a fixed-capacity TTL cache of preview payloads. Entries are
// ordered by creation time; reads never promote, so capacity eviction drops
// the oldest write.
type PreviewCache struct {
	mu       sync.RWMutex
	entries  *simplelru.LRU[string, entry]
	ttl      time.Duration
	capacity int
	now      func() time.Time
}

// PreviewCacheOption customizes a PreviewCache.
type PreviewCacheOption func(*PreviewCache)

// WithClock overrides the time source.
func WithClock(now func() time.Time) PreviewCacheOption {
	return func(c *PreviewCache) { c.now = now }
}

// NewPreviewCache creates a cache holding at most capacity entries for ttl.
func NewPreviewCache(capacity int, ttl time.Duration, opts ...PreviewCacheOption) (*PreviewCache, error) {
	if capacity < 1 {
		return nil, errors.New("preview cache capacity must be positive")
	}
	// The list is sized one above capacity so simplelru never evicts on its
	// own; eviction is decided in Put.
	lru, err := simplelru.NewLRU[string, entry](capacity+1, nil)
	if err != nil {
		return nil, err
	}
	c := &PreviewCache{
		entries:  lru,
		ttl:      ttl,
		capacity: capacity,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Get returns the cached payload for key if it exists and has not expired.
// Any miss sweeps expired entries and drops key.
func (c *PreviewCache) Get(key string) (preview.Payload, bool) {
	now := c.now()

	c.mu.RLock()
	e, ok := c.entries.Peek(key)
	c.mu.RUnlock()
	if ok && now.Before(e.expiresAt) {
		return e.value, true
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	// A Put may have landed between the two locks.
	if e, ok := c.entries.Peek(key); ok && now.Before(e.expiresAt) {
		return e.value, true
	}
	c.sweepLocked(now)
	c.entries.Remove(key)
	return preview.Payload{}, false
}

// Put stores payload under key with a fresh TTL. Overwriting an existing key
// never evicts another entry.
func (c *PreviewCache) Put(key string, payload preview.Payload) {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.sweepLocked(now)

	if c.entries.Contains(key) {
		// Remove first so the entry moves to the newest position.
		c.entries.Remove(key)
	} else if c.entries.Len() >= c.capacity {
		c.entries.RemoveOldest()
	}
	c.entries.Add(key, entry{
		createdAt: now,
		expiresAt: now.Add(c.ttl),
		value:     payload,
	})
}

// Len reports the number of stored entries, expired or not.
func (c *PreviewCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.entries.Len()
}

// sweepLocked drops every expired entry. With a fixed TTL the list is also
// ordered by expiry, but a full scan keeps this correct if the clock steps
// backwards.
func (c *PreviewCache) sweepLocked(now time.Time) {
	for _, key := range c.entries.Keys() {
		e, ok := c.entries.Peek(key)
		if ok && !now.Before(e.expiresAt) {
			c.entries.Remove(key)
		}
	}
}

package memory

import (
	"context"
	"sync"
	"time"

	portidempotency "github.com/alanyang/dispatch-mesh/internal/port/idempotency"
)

var _ portidempotency.Store = (*IdempotencyCache)(nil)

// cacheEntry with a nil value is a reservation still waiting for its result.
type cacheEntry struct {
	value     []byte
	expiresAt time.Time
}

// IdempotencyCache keeps operation results for ttl. Expired keys are pruned
// on every write.
type IdempotencyCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]cacheEntry
}

func NewIdempotencyCache(ttl time.Duration) *IdempotencyCache {
	return &IdempotencyCache{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]cacheEntry),
	}
}

func (c *IdempotencyCache) Reserve(_ context.Context, key, _ string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	c.pruneLocked(now)
	if _, ok := c.entries[key]; ok {
		return false, nil
	}
	c.entries[key] = cacheEntry{expiresAt: now.Add(c.ttl)}
	return true, nil
}

func (c *IdempotencyCache) Check(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[key]
	if !ok || c.now().After(entry.expiresAt) {
		return nil, false, nil
	}
	return entry.value, true, nil
}

func (c *IdempotencyCache) Save(_ context.Context, key, _ string, result []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	c.pruneLocked(now)
	if existing, ok := c.entries[key]; ok && existing.value != nil {
		return nil
	}
	c.entries[key] = cacheEntry{
		value:     result,
		expiresAt: now.Add(c.ttl),
	}
	return nil
}

func (c *IdempotencyCache) Release(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.entries[key]; ok && existing.value == nil {
		delete(c.entries, key)
	}
	return nil
}

// pruneLocked must be called with mu held.
func (c *IdempotencyCache) pruneLocked(now time.Time) {
	for key, entry := range c.entries {
		if now.After(entry.expiresAt) {
			delete(c.entries, key)
		}
	}
}

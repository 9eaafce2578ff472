package cache

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// cacheItem represents an item in the cache
type cacheItem struct {
	value      []byte
	expiration time.Time
	tags       []string
}

// MemoryCache implements an in-memory LRU cache with TTL and tag support
type MemoryCache struct {
	maxSize int
	items   *lru.Cache[string, *cacheItem]
	tags    map[string]map[string]struct{}
	mu      sync.Mutex
	now     func() time.Time
	stopCh  chan struct{}
	once    sync.Once
}

// NewMemoryCache creates a new in-memory cache
func NewMemoryCache(maxSize int) *MemoryCache {
	if maxSize <= 0 {
		maxSize = 1000 // default max size
	}

	c := &MemoryCache{
		maxSize: maxSize,
		tags:    make(map[string]map[string]struct{}),
		now:     time.Now,
		stopCh:  make(chan struct{}),
	}
	// Only fails for a non-positive size.
	c.items, _ = lru.NewWithEvict[string, *cacheItem](maxSize, c.onEvict)

	go c.cleanup()

	return c
}

// onEvict keeps the tag index exact. It runs inside lru calls, which are
// only made while c.mu is held.
func (c *MemoryCache) onEvict(key string, item *cacheItem) {
	for _, tag := range item.tags {
		if set, ok := c.tags[tag]; ok {
			delete(set, key)
			if len(set) == 0 {
				delete(c.tags, tag)
			}
		}
	}
}

// Get retrieves a value from cache
func (c *MemoryCache) Get(ctx context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	item, ok := c.items.Get(key)
	if !ok {
		return nil, ErrNotFound
	}
	if c.now().After(item.expiration) {
		c.items.Remove(key)
		return nil, ErrNotFound
	}

	return append([]byte(nil), item.value...), nil
}

// Set stores a value in cache with TTL
func (c *MemoryCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration, tags ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Replacing through Remove keeps the old tags out of the index.
	c.items.Remove(key)

	item := &cacheItem{
		value:      append([]byte(nil), value...),
		expiration: c.now().Add(ttl),
		tags:       append([]string(nil), tags...),
	}
	c.items.Add(key, item)
	for _, tag := range tags {
		set, ok := c.tags[tag]
		if !ok {
			set = make(map[string]struct{})
			c.tags[tag] = set
		}
		set[key] = struct{}{}
	}

	return nil
}

// Delete removes a key from cache
func (c *MemoryCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items.Remove(key)
	return nil
}

// InvalidateTags removes every key indexed under any of the tags
func (c *MemoryCache) InvalidateTags(ctx context.Context, tags ...string) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	seen := make(map[string]struct{})
	for _, tag := range tags {
		for key := range c.tags[tag] {
			seen[key] = struct{}{}
		}
	}

	removed := make([]string, 0, len(seen))
	for key := range seen {
		if c.items.Remove(key) {
			removed = append(removed, key)
		}
	}
	return removed, nil
}

// Close stops the cleanup goroutine
func (c *MemoryCache) Close() error {
	c.once.Do(func() { close(c.stopCh) })
	return nil
}

// cleanup periodically removes expired items
func (c *MemoryCache) cleanup() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.cleanupExpired()
		case <-c.stopCh:
			return
		}
	}
}

// cleanupExpired removes all expired items
func (c *MemoryCache) cleanupExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for _, key := range c.items.Keys() {
		if item, ok := c.items.Peek(key); ok && now.After(item.expiration) {
			c.items.Remove(key)
		}
	}
}

// Stats returns cache statistics
func (c *MemoryCache) Stats() (size int, maxSize int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.items.Len(), c.maxSize
}

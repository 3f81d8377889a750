package cache

import (
	"context"
	"strings"
	"sync"
	"time"
)

type entry struct {
	value     interface{}
	expiresAt time.Time
}

func (e *entry) expired() bool {
	return time.Now().After(e.expiresAt)
}

// Cache is a thread-safe in-memory TTL cache. Expired entries are
// swept by a background janitor; Get never returns a stale value even
// before the sweep runs.
type Cache struct {
	mu         sync.RWMutex
	entries    map[string]*entry
	defaultTTL time.Duration
	stop       chan struct{}
	stopOnce   sync.Once
}

// New creates a cache. Entries stored via Set live for defaultTTL.
func New(defaultTTL time.Duration) *Cache {
	c := &Cache{
		entries:    make(map[string]*entry),
		defaultTTL: defaultTTL,
		stop:       make(chan struct{}),
	}
	go c.janitor(defaultTTL / 2)
	return c
}

// Get retrieves a live value.
func (c *Cache) Get(key string) (interface{}, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[key]
	if !ok || e.expired() {
		return nil, false
	}
	return e.value, true
}

// Set stores a value with the default TTL.
func (c *Cache) Set(key string, value interface{}) {
	c.SetWithTTL(key, value, c.defaultTTL)
}

// SetWithTTL stores a value with a custom TTL.
func (c *Cache) SetWithTTL(key string, value interface{}, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = &entry{value: value, expiresAt: time.Now().Add(ttl)}
}

// GetOrSet returns the cached value for key, or calls load and caches
// its result. Concurrent misses may call load more than once; the last
// writer wins, which is fine for idempotent loads.
func (c *Cache) GetOrSet(ctx context.Context, key string, ttl time.Duration, load func(context.Context) (interface{}, error)) (interface{}, error) {
	if value, ok := c.Get(key); ok {
		return value, nil
	}

	value, err := load(ctx)
	if err != nil {
		return nil, err
	}
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	c.SetWithTTL(key, value, ttl)
	return value, nil
}

// Delete removes a key.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// InvalidatePrefix removes every key with the given prefix.
func (c *Cache) InvalidatePrefix(prefix string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			delete(c.entries, key)
		}
	}
}

// Clear removes all entries.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*entry)
}

// Size returns the number of stored entries, counting expired ones
// not yet swept.
func (c *Cache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Stop terminates the janitor goroutine.
func (c *Cache) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *Cache) janitor(interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.stop:
			return
		}
	}
}

func (c *Cache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, e := range c.entries {
		if e.expired() {
			delete(c.entries, key)
		}
	}
}

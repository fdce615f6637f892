// Package cache implements bounded TTL caches with LRU eviction,
// plus the session and rendered-image stores built on them.
package cache

import (
	"sync"
	"time"

	"github.com/halfbloodedyash/Letterboxd/internal/review"
	"github.com/halfbloodedyash/Letterboxd/internal/telemetry"
)

// Entry wraps a cached value with its lifecycle timestamps.
// ExpiresAt is fixed at insertion; LastAccessedAt moves on every hit.
type Entry[V any] struct {
	Value          V
	CreatedAt      time.Time
	ExpiresAt      time.Time
	LastAccessedAt time.Time
}

// Result classifies a lookup outcome.
type Result int

// Lookup outcomes. Expired is distinct from Missing so callers can tell
// a stale token from an unknown one.
const (
	Hit Result = iota
	Missing
	Expired
)

// Cache is a mutex-guarded key/value store with a fixed capacity,
// lazy TTL expiry and LRU eviction. Insertion never fails: at capacity
// the entry with the oldest LastAccessedAt is removed first.
type Cache[V any] struct {
	name     string
	capacity int
	ttl      time.Duration
	clock    review.Clock

	mu      sync.Mutex
	entries map[string]*Entry[V]

	stopOnce sync.Once
	stop     chan struct{}
}

// New builds a Cache and starts its periodic sweep goroutine when
// sweepInterval is positive. Close stops the sweeper.
func New[V any](name string, capacity int, ttl, sweepInterval time.Duration, clock review.Clock) *Cache[V] {
	c := &Cache[V]{
		name:     name,
		capacity: capacity,
		ttl:      ttl,
		clock:    clock,
		entries:  make(map[string]*Entry[V]),
		stop:     make(chan struct{}),
	}
	if sweepInterval > 0 {
		go c.sweepLoop(sweepInterval)
	}
	return c
}

// Put stores value under key, evicting the least-recently-used entry
// if the cache is full.
func (c *Cache[V]) Put(key string, value V) {
	now := c.clock.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.capacity {
		c.evictOldest()
	}
	c.entries[key] = &Entry[V]{
		Value:          value,
		CreatedAt:      now,
		ExpiresAt:      now.Add(c.ttl),
		LastAccessedAt: now,
	}
}

// Get performs a lookup. Expired entries are purged and reported as
// Expired; hits refresh LastAccessedAt.
func (c *Cache[V]) Get(key string) (V, Result) {
	var zero V
	now := c.clock.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		telemetry.ObserveCache(c.name, telemetry.CacheMiss)
		return zero, Missing
	}
	if !now.Before(entry.ExpiresAt) {
		delete(c.entries, key)
		telemetry.ObserveCache(c.name, telemetry.CacheExpire)
		return zero, Expired
	}
	entry.LastAccessedAt = now
	telemetry.ObserveCache(c.name, telemetry.CacheHit)
	return entry.Value, Hit
}

// Len reports the number of held entries, expired or not.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Close stops the sweep goroutine. Safe to call more than once.
func (c *Cache[V]) Close() {
	c.stopOnce.Do(func() {
		close(c.stop)
	})
}

// evictOldest removes the entry with the least recent access.
// Caller holds the lock.
func (c *Cache[V]) evictOldest() {
	var (
		oldestKey string
		oldest    time.Time
		found     bool
	)
	for key, entry := range c.entries {
		if !found || entry.LastAccessedAt.Before(oldest) {
			oldestKey = key
			oldest = entry.LastAccessedAt
			found = true
		}
	}
	if found {
		delete(c.entries, oldestKey)
		telemetry.ObserveCache(c.name, telemetry.CacheEvict)
	}
}

func (c *Cache[V]) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.purgeExpired()
		}
	}
}

func (c *Cache[V]) purgeExpired() {
	now := c.clock.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, entry := range c.entries {
		if !now.Before(entry.ExpiresAt) {
			delete(c.entries, key)
			telemetry.ObserveCache(c.name, telemetry.CacheExpire)
		}
	}
}

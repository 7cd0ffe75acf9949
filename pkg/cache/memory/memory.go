package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"ledger-service/pkg/cache"
)

// MemoryCache is an in-memory cache implementation that satisfies the CacheLayer interface.
// It provides thread-safe operations, automatic TTL expiration, and optional LRU eviction.
type MemoryCache struct {
	// data stores the cache entries
	data map[string]*entry

	// mu protects concurrent access to data
	mu sync.Mutex

	// config holds the cache configuration
	config MemoryCacheConfig

	// now is the clock used for expiry
	now func() time.Time

	// stopCleanup is used to signal cleanup goroutine to stop
	stopCleanup chan struct{}
	closeOnce   sync.Once

	// wg waits for cleanup goroutine to finish
	wg sync.WaitGroup
}

// entry represents a cache entry with metadata for LRU and TTL
type entry struct {
	value      []byte
	expiresAt  time.Time
	accessedAt time.Time
}

// MemoryCacheConfig holds configuration for the memory cache
type MemoryCacheConfig struct {
	// Name is the cache layer identifier
	Name string

	// MaxSize is the maximum number of entries (0 = unlimited)
	MaxSize int

	// DefaultTTL is the default time-to-live for entries
	DefaultTTL time.Duration

	// CleanupInterval is how often to check for expired entries
	CleanupInterval time.Duration

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// NewMemoryCache creates a new in-memory cache with the given configuration.
// It starts a background goroutine for TTL cleanup.
func NewMemoryCache(config MemoryCacheConfig) *MemoryCache {
	// Set defaults
	if config.Name == "" {
		config.Name = "memory"
	}
	if config.DefaultTTL == 0 {
		config.DefaultTTL = 5 * time.Second
	}
	if config.CleanupInterval == 0 {
		config.CleanupInterval = time.Minute
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	c := &MemoryCache{
		data:        make(map[string]*entry),
		config:      config,
		now:         config.Now,
		stopCleanup: make(chan struct{}),
	}

	// Start background cleanup
	c.wg.Add(1)
	go c.cleanup(time.NewTicker(config.CleanupInterval))

	return c
}

// Get retrieves a copy of the value stored under key.
func (c *MemoryCache) Get(ctx context.Context, key string) ([]byte, error) {
	if err := cache.ValidateKey(key); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	e, exists := c.data[key]
	if !exists {
		return nil, cache.ErrKeyNotFound
	}

	now := c.now()
	if now.After(e.expiresAt) {
		delete(c.data, key)
		return nil, cache.ErrKeyNotFound
	}

	// Update access time for LRU
	e.accessedAt = now

	return clone(e.value), nil
}

// Set stores a copy of value with the specified TTL.
// If ttl is 0, uses the default TTL.
// Enforces MaxSize by evicting LRU entries if necessary.
func (c *MemoryCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := cache.ValidateKey(key); err != nil {
		return err
	}

	if ttl <= 0 {
		ttl = c.config.DefaultTTL
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.data[key]; !exists && c.config.MaxSize > 0 && len(c.data) >= c.config.MaxSize {
		c.evictLRU()
	}

	now := c.now()
	c.data[key] = &entry{
		value:      clone(value),
		expiresAt:  now.Add(ttl),
		accessedAt: now,
	}

	return nil
}

// evictLRU removes the least recently used entry. Callers hold mu.
func (c *MemoryCache) evictLRU() {
	var lruKey string
	var lruTime time.Time

	for k, e := range c.data {
		if lruKey == "" || e.accessedAt.Before(lruTime) {
			lruKey = k
			lruTime = e.accessedAt
		}
	}

	if lruKey != "" {
		delete(c.data, lruKey)
	}
}

// Delete removes a key from the cache.
// Returns nil even if the key doesn't exist.
func (c *MemoryCache) Delete(ctx context.Context, key string) error {
	if err := cache.ValidateKey(key); err != nil {
		return err
	}

	c.mu.Lock()
	delete(c.data, key)
	c.mu.Unlock()

	return nil
}

// DeletePrefix removes every key starting with prefix.
func (c *MemoryCache) DeletePrefix(ctx context.Context, prefix string) error {
	if prefix == "" {
		return cache.ErrInvalidKey
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for key := range c.data {
		if strings.HasPrefix(key, prefix) {
			delete(c.data, key)
		}
	}

	return nil
}

// Name returns the cache layer name.
func (c *MemoryCache) Name() string {
	return c.config.Name
}

// Close stops the background cleanup goroutine and clears all data.
// It is safe to call more than once.
func (c *MemoryCache) Close() error {
	c.closeOnce.Do(func() {
		close(c.stopCleanup)
		c.wg.Wait()

		c.mu.Lock()
		c.data = make(map[string]*entry)
		c.mu.Unlock()
	})

	return nil
}

// cleanup runs in a background goroutine to remove expired entries.
func (c *MemoryCache) cleanup(ticker *time.Ticker) {
	defer c.wg.Done()
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.removeExpired()
		case <-c.stopCleanup:
			return
		}
	}
}

// removeExpired removes all expired entries from the cache.
func (c *MemoryCache) removeExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for key, e := range c.data {
		if now.After(e.expiresAt) {
			delete(c.data, key)
		}
	}
}

// Len returns the number of stored entries, expired ones included until
// the next cleanup.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.data)
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

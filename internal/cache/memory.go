package cache

import (
	"context"
	"sync"
	"time"
)

// MemoryClient is an in-process Client for single-instance deployments.
type MemoryClient struct {
	mu      sync.Mutex
	data    map[string]cacheEntry
	maxSize int
	now     func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

type cacheEntry struct {
	value     []byte
	expiresAt time.Time // zero means no expiry
}

func (e cacheEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// NewMemoryClient creates an in-memory cache holding at most maxSize entries.
func NewMemoryClient(maxSize int) *MemoryClient {
	if maxSize <= 0 {
		maxSize = 10000
	}

	c := &MemoryClient{
		data:    make(map[string]cacheEntry),
		maxSize: maxSize,
		now:     time.Now,
		stop:    make(chan struct{}),
	}

	go c.sweep(time.Minute)

	return c
}

func (c *MemoryClient) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.data[key]
	if !ok || entry.expired(c.now()) {
		return nil, ErrCacheMiss
	}
	return entry.value, nil
}

func (c *MemoryClient) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.data[key]; !exists && len(c.data) >= c.maxSize {
		c.evictOldest()
	}

	entry := cacheEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		entry.expiresAt = c.now().Add(ttl)
	}
	c.data[key] = entry
	return nil
}

func (c *MemoryClient) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.data, key)
	return nil
}

func (c *MemoryClient) Take(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.data[key]
	if !ok {
		return nil, ErrCacheMiss
	}
	delete(c.data, key)
	if entry.expired(c.now()) {
		return nil, ErrCacheMiss
	}
	return entry.value, nil
}

// Close stops the sweeper.
func (c *MemoryClient) Close() error {
	c.stopOnce.Do(func() { close(c.stop) })
	return nil
}

// Len reports the number of stored entries, expired ones included.
func (c *MemoryClient) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.data)
}

// evictOldest removes the entry closest to expiry. Caller holds mu.
func (c *MemoryClient) evictOldest() {
	var oldestKey string
	var oldest time.Time
	for key, entry := range c.data {
		if oldestKey == "" || (!entry.expiresAt.IsZero() && (oldest.IsZero() || entry.expiresAt.Before(oldest))) {
			oldestKey = key
			oldest = entry.expiresAt
		}
	}
	if oldestKey != "" {
		delete(c.data, oldestKey)
	}
}

func (c *MemoryClient) sweep(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.mu.Lock()
			now := c.now()
			for key, entry := range c.data {
				if entry.expired(now) {
					delete(c.data, key)
				}
			}
			c.mu.Unlock()
		}
	}
}

var _ Client = (*MemoryClient)(nil)

// Package cache stores short-lived assistant state: pending comparison
// charts keyed by session and the cached news headlines.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ingres-ai/ingres-assistant/internal/config"
)

// ErrCacheMiss indicates a cache miss.
var ErrCacheMiss = errors.New("cache miss")

// Client defines the cache interface.
type Client interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// Take returns the value and removes it in one step.
	// Two concurrent callers never both receive the same value.
	Take(ctx context.Context, key string) ([]byte, error)
	Close() error
}

// New builds the client selected by cfg.Driver.
func New(cfg config.CacheConfig) (Client, error) {
	switch cfg.Driver {
	case "", "memory":
		return NewMemoryClient(cfg.MaxEntries), nil
	case "redis":
		return NewRedisClient(RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
			Prefix:   cfg.Redis.Prefix,
		})
	default:
		return nil, fmt.Errorf("unknown cache driver %q", cfg.Driver)
	}
}

// GetJSON reads key and decodes it into dst.
func GetJSON(ctx context.Context, c Client, key string, dst any) error {
	raw, err := c.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode cached %s: %w", key, err)
	}
	return nil
}

// SetJSON encodes v and stores it under key.
func SetJSON(ctx context.Context, c Client, key string, v any, ttl time.Duration) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return c.Set(ctx, key, raw, ttl)
}

// TakeJSON atomically removes key and decodes it into dst.
func TakeJSON(ctx context.Context, c Client, key string, dst any) error {
	raw, err := c.Take(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode cached %s: %w", key, err)
	}
	return nil
}

// Key joins parts with ':'.
func Key(parts ...string) string {
	return strings.Join(parts, ":")
}

// PendingChartKey scopes a pending chart to its session.
func PendingChartKey(sessionID string) string {
	return Key("pending", sessionID)
}

// NewsKey is the key for cached headlines of a feed.
func NewsKey(feedURL string) string {
	return Key("news", feedURL)
}

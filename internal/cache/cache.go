// Package cache provides the TTL cache over Redis used by the market-data
// fabric, plus news deduplication.
//
// Cache failures never fail the calling operation: every error path logs and
// degrades to a miss.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache is a TTL-keyed cache backed by a Redis-compatible store.
type Cache struct {
	client *redis.Client
	logger *slog.Logger
}

// New creates a cache over the given Redis client.
func New(client *redis.Client, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{client: client, logger: logger.With("component", "cache")}
}

// Get returns the raw payload for key. The second return is false on absent,
// expired, or failed lookups.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool) {
	val, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("cache get failed", "key", key, "error", err)
		}
		return nil, false
	}
	return val, true
}

// GetJSON decodes the cached payload for key into out. Decode failures count
// as a miss.
func (c *Cache) GetJSON(ctx context.Context, key string, out any) bool {
	raw, ok := c.Get(ctx, key)
	if !ok {
		return false
	}
	if err := json.Unmarshal(raw, out); err != nil {
		c.logger.Warn("cache decode failed", "key", key, "error", err)
		return false
	}
	return true
}

// Set stores value under key with the given TTL, overwriting any previous
// entry.
func (c *Cache) Set(ctx context.Context, key string, value any, ttl time.Duration) {
	raw, err := json.Marshal(value)
	if err != nil {
		c.logger.Warn("cache encode failed", "key", key, "error", err)
		return
	}
	if err := c.client.Set(ctx, key, raw, ttl).Err(); err != nil {
		c.logger.Warn("cache set failed", "key", key, "error", err)
	}
}

// Invalidate removes a single key.
func (c *Cache) Invalidate(ctx context.Context, key string) {
	if err := c.client.Del(ctx, key).Err(); err != nil {
		c.logger.Warn("cache invalidate failed", "key", key, "error", err)
	}
}

// InvalidatePrefix removes every key under the given prefix using SCAN, so
// large keyspaces are not blocked.
func (c *Cache) InvalidatePrefix(ctx context.Context, prefix string) {
	iter := c.client.Scan(ctx, 0, prefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
		if len(keys) >= 100 {
			c.deleteKeys(ctx, keys)
			keys = keys[:0]
		}
	}
	if err := iter.Err(); err != nil {
		c.logger.Warn("cache scan failed", "prefix", prefix, "error", err)
	}
	if len(keys) > 0 {
		c.deleteKeys(ctx, keys)
	}
}

func (c *Cache) deleteKeys(ctx context.Context, keys []string) {
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		c.logger.Warn("cache delete failed", "count", len(keys), "error", err)
	}
}

// BatchGet fetches multiple keys in a single round trip. The result map
// contains only the keys that were present.
func (c *Cache) BatchGet(ctx context.Context, keys []string) map[string][]byte {
	found := make(map[string][]byte, len(keys))
	if len(keys) == 0 {
		return found
	}

	vals, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		c.logger.Warn("cache batch get failed", "keys", len(keys), "error", err)
		return found
	}
	for i, val := range vals {
		if val == nil {
			continue
		}
		if s, ok := val.(string); ok {
			found[keys[i]] = []byte(s)
		}
	}
	return found
}

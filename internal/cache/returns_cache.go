// Package cache provides a Redis-backed cache for historical return
// series with an in-process fallback when Redis is unavailable.
package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// TTL is how long a cached return series stays fresh.
const TTL = time.Hour

// ReturnsCache stores per-symbol return series.
type ReturnsCache struct {
	rdb *redis.Client
	log zerolog.Logger

	mu    sync.Mutex
	local map[string]localEntry
}

type localEntry struct {
	returns  []float64
	storedAt time.Time
}

// NewReturnsCache wraps a Redis client; pass nil to run memory-only.
func NewReturnsCache(rdb *redis.Client, log zerolog.Logger) *ReturnsCache {
	return &ReturnsCache{
		rdb:   rdb,
		log:   log.With().Str("component", "returns-cache").Logger(),
		local: make(map[string]localEntry),
	}
}

func cacheKey(symbol string) string {
	return "returns:" + symbol
}

// Get returns the cached series for a symbol, if fresh.
func (c *ReturnsCache) Get(ctx context.Context, symbol string) ([]float64, bool) {
	if c.rdb != nil {
		raw, err := c.rdb.Get(ctx, cacheKey(symbol)).Bytes()
		if err == nil {
			var returns []float64
			if json.Unmarshal(raw, &returns) == nil {
				return returns, true
			}
		} else if err != redis.Nil {
			c.log.Debug().Err(err).Msg("redis get failed, trying local cache")
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.local[symbol]
	if !ok || time.Since(entry.storedAt) > TTL {
		return nil, false
	}
	return entry.returns, true
}

// Set stores a series under the TTL.
func (c *ReturnsCache) Set(ctx context.Context, symbol string, returns []float64) {
	if c.rdb != nil {
		if raw, err := json.Marshal(returns); err == nil {
			if err := c.rdb.Set(ctx, cacheKey(symbol), raw, TTL).Err(); err != nil {
				c.log.Debug().Err(err).Msg("redis set failed, using local cache")
			}
		}
	}

	c.mu.Lock()
	c.local[symbol] = localEntry{returns: returns, storedAt: time.Now()}
	c.mu.Unlock()
}

package webhook

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache deduplicates event IDs across gateway replicas.
type RedisCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisCache(rdb *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = 48 * time.Hour
	}
	return &RedisCache{rdb: rdb, ttl: ttl}
}

func (c *RedisCache) FirstSeen(ctx context.Context, id string) (bool, error) {
	return c.rdb.SetNX(ctx, "wh:"+id, 1, c.ttl).Result()
}

// MemoryCache is the single-process fallback when redis is not configured.
type MemoryCache struct {
	TTL time.Duration
	Now func() time.Time

	mu   sync.Mutex
	seen map[string]time.Time
}

func NewMemoryCache(ttl time.Duration) *MemoryCache {
	if ttl <= 0 {
		ttl = 48 * time.Hour
	}
	return &MemoryCache{TTL: ttl, Now: time.Now, seen: map[string]time.Time{}}
}

func (c *MemoryCache) FirstSeen(ctx context.Context, id string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.Now()
	if at, ok := c.seen[id]; ok && now.Sub(at) < c.TTL {
		return false, nil
	}
	c.seen[id] = now
	// Opportunistic sweep keeps the map bounded without a background ticker.
	if len(c.seen) > 4096 {
		for k, at := range c.seen {
			if now.Sub(at) >= c.TTL {
				delete(c.seen, k)
			}
		}
	}
	return true, nil
}

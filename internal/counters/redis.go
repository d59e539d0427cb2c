package counters

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// casScript compares the stored version and, on match, writes the new value
// and bumps the version atomically.
var casScript = redis.NewScript(`
local v = tonumber(redis.call('HGET', KEYS[1], 'v') or '0')
if v ~= tonumber(ARGV[1]) then
  return 0
end
redis.call('HSET', KEYS[1], 'v', v + 1, 'c', ARGV[2])
redis.call('EXPIRE', KEYS[1], ARGV[3])
return 1
`)

// RedisStore keeps counters in a shared Redis so every service instance sees
// the same spend totals.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		// long enough to outlive any monthly window
		ttl = 62 * 24 * time.Hour
	}
	return &RedisStore{client: client, ttl: ttl}
}

func (s *RedisStore) Get(ctx context.Context, key string) (Counter, error) {
	values, err := s.client.HMGet(ctx, key, "v", "c").Result()
	if err != nil {
		return Counter{}, fmt.Errorf("redis counter get %s: %w", key, err)
	}

	var counter Counter
	if raw, ok := values[0].(string); ok {
		fmt.Sscanf(raw, "%d", &counter.Version)
	}
	if raw, ok := values[1].(string); ok {
		fmt.Sscanf(raw, "%d", &counter.ValueCents)
	}
	return counter, nil
}

func (s *RedisStore) CompareAndSet(ctx context.Context, key string, expected Counter, nextCents int64) (bool, error) {
	ttlSeconds := int64(s.ttl / time.Second)
	result, err := casScript.Run(ctx, s.client, []string{key}, expected.Version, nextCents, ttlSeconds).Int64()
	if err != nil {
		return false, fmt.Errorf("redis counter cas %s: %w", key, err)
	}
	return result == 1, nil
}

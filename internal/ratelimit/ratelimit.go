// Package ratelimit bounds request rate per agent with a sliding window. The
// shared Redis window is authoritative; when Redis is unreachable the limiter
// degrades to a local in-process estimate instead of failing open. This is
// the only pipeline stage allowed to fail soft: it throttles, it never
// authorizes money movement.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

type Limiter struct {
	limit  int
	window time.Duration
	client *redis.Client
	local  *localWindow
	logger *slog.Logger

	now func() time.Time
}

// New builds a limiter allowing limit requests per window per agent. client
// may be nil, in which case only the local window is used.
func New(limit int, window time.Duration, client *redis.Client, logger *slog.Logger) *Limiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Limiter{
		limit:  limit,
		window: window,
		client: client,
		local:  newLocalWindow(),
		logger: logger,
		now:    time.Now,
	}
}

// Allow records a request for agentID and reports whether it is within the
// rate limit.
func (l *Limiter) Allow(ctx context.Context, agentID string) Decision {
	now := l.now().UTC()

	if l.client != nil {
		decision, err := l.allowShared(ctx, agentID, now)
		if err == nil {
			return decision
		}
		l.logger.Warn("rate limiter falling back to local window", "agent_id", agentID, "error", err)
	}

	return l.local.allow(agentID, now, l.limit, l.window)
}

// allowShared runs the two-bucket sliding window against Redis. The previous
// bucket is weighted by its remaining overlap with the rolling window.
func (l *Limiter) allowShared(ctx context.Context, agentID string, now time.Time) (Decision, error) {
	bucketStart := now.Truncate(l.window)
	currentKey := bucketKey(agentID, bucketStart)
	previousKey := bucketKey(agentID, bucketStart.Add(-l.window))

	pipe := l.client.Pipeline()
	incr := pipe.Incr(ctx, currentKey)
	pipe.Expire(ctx, currentKey, 2*l.window)
	prev := pipe.Get(ctx, previousKey)
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return Decision{}, err
	}

	current := incr.Val()
	previous, _ := prev.Int64()

	return weigh(current, previous, now.Sub(bucketStart), l.limit, l.window), nil
}

func weigh(current, previous int64, elapsed time.Duration, limit int, window time.Duration) Decision {
	weight := 1 - float64(elapsed)/float64(window)
	estimate := current + int64(float64(previous)*weight)
	if estimate <= int64(limit) {
		return Decision{Allowed: true}
	}
	retryAfter := window - elapsed
	if retryAfter <= 0 {
		retryAfter = window
	}
	return Decision{Allowed: false, RetryAfter: retryAfter}
}

func bucketKey(agentID string, bucketStart time.Time) string {
	return fmt.Sprintf("rl:%s:%d", agentID, bucketStart.Unix())
}

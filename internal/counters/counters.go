// Package counters tracks per-agent spend against rolling windows. Counters
// are versioned key-value entries updated with optimistic compare-and-set so
// correctness holds across concurrent service instances; in-process locks are
// never the source of truth.
package counters

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrLimitExceeded reports a guarded increment that would push a window past
// its limit.
var ErrLimitExceeded = errors.New("window limit exceeded")

// Limits are the rolling-window ceilings enforced at reservation time. A
// zero limit leaves that window unbounded.
type Limits struct {
	DailyCents   int64
	MonthlyCents int64
}

// WindowError names the window a reservation would have breached.
type WindowError struct {
	Window string
}

func (e *WindowError) Error() string { return e.Window + " spend limit exceeded" }

func (e *WindowError) Unwrap() error { return ErrLimitExceeded }

// Counter is one versioned spend value. Version 0 means the key has never
// been written.
type Counter struct {
	ValueCents int64
	Version    int64
}

type Store interface {
	Get(ctx context.Context, key string) (Counter, error)
	// CompareAndSet writes next only if the stored version still matches
	// expected.Version. It reports whether the write won.
	CompareAndSet(ctx context.Context, key string, expected Counter, nextCents int64) (bool, error)
}

const maxCASRetries = 32

// Add increments a counter by delta using compare-and-set with bounded
// retries. Delta may be negative to release a reservation.
func Add(ctx context.Context, store Store, key string, delta int64) (Counter, error) {
	for attempt := 0; attempt < maxCASRetries; attempt++ {
		current, err := store.Get(ctx, key)
		if err != nil {
			return Counter{}, err
		}
		next := current.ValueCents + delta
		if next < 0 {
			next = 0
		}
		ok, err := store.CompareAndSet(ctx, key, current, next)
		if err != nil {
			return Counter{}, err
		}
		if ok {
			return Counter{ValueCents: next, Version: current.Version + 1}, nil
		}
	}
	return Counter{}, fmt.Errorf("counter %s: compare-and-set contention exhausted", key)
}

// AddWithin increments a counter only while the result stays at or under
// limit. The limit check sits inside the compare-and-set loop, so two
// concurrent reservations cannot both read the pre-reservation value and
// jointly overshoot: the loser's CAS fails, it re-reads, and the recheck
// denies it.
func AddWithin(ctx context.Context, store Store, key string, delta, limit int64) (Counter, error) {
	for attempt := 0; attempt < maxCASRetries; attempt++ {
		current, err := store.Get(ctx, key)
		if err != nil {
			return Counter{}, err
		}
		next := current.ValueCents + delta
		if next < 0 {
			next = 0
		}
		if limit > 0 && next > limit {
			return Counter{}, ErrLimitExceeded
		}
		ok, err := store.CompareAndSet(ctx, key, current, next)
		if err != nil {
			return Counter{}, err
		}
		if ok {
			return Counter{ValueCents: next, Version: current.Version + 1}, nil
		}
	}
	return Counter{}, fmt.Errorf("counter %s: compare-and-set contention exhausted", key)
}

// DayKey is the rolling-day window key for an agent.
func DayKey(agentID string, at time.Time) string {
	return fmt.Sprintf("spend:%s:day:%s", agentID, at.UTC().Format("2006-01-02"))
}

// MonthKey is the rolling-month window key for an agent.
func MonthKey(agentID string, at time.Time) string {
	return fmt.Sprintf("spend:%s:month:%s", agentID, at.UTC().Format("2006-01"))
}

// Usage reads the day and month spend for an agent at a point in time.
func Usage(ctx context.Context, store Store, agentID string, at time.Time) (dayCents, monthCents int64, err error) {
	day, err := store.Get(ctx, DayKey(agentID, at))
	if err != nil {
		return 0, 0, err
	}
	month, err := store.Get(ctx, MonthKey(agentID, at))
	if err != nil {
		return 0, 0, err
	}
	return day.ValueCents, month.ValueCents, nil
}

// Reserve adds amount to both window counters before execution, refusing the
// reservation when either window limit would be breached. The caller must
// Release on execution failure.
func Reserve(ctx context.Context, store Store, agentID string, at time.Time, amountCents int64, limits Limits) error {
	if _, err := AddWithin(ctx, store, DayKey(agentID, at), amountCents, limits.DailyCents); err != nil {
		if errors.Is(err, ErrLimitExceeded) {
			return &WindowError{Window: "daily"}
		}
		return err
	}
	if _, err := AddWithin(ctx, store, MonthKey(agentID, at), amountCents, limits.MonthlyCents); err != nil {
		// unwind the day increment so the two windows stay consistent
		_, _ = Add(ctx, store, DayKey(agentID, at), -amountCents)
		if errors.Is(err, ErrLimitExceeded) {
			return &WindowError{Window: "monthly"}
		}
		return err
	}
	return nil
}

// Release backs out a reservation after a failed execution.
func Release(ctx context.Context, store Store, agentID string, at time.Time, amountCents int64) {
	_, _ = Add(ctx, store, DayKey(agentID, at), -amountCents)
	_, _ = Add(ctx, store, MonthKey(agentID, at), -amountCents)
}

package ratelimit

import (
	"sync"
	"time"
)

// localWindow is the in-process fallback. It applies the same two-bucket
// estimate per agent but only sees this instance's traffic, so it is a
// less precise throttle, never an authorization.
type localWindow struct {
	mu      sync.Mutex
	buckets map[string]*agentBuckets
}

type agentBuckets struct {
	bucketStart time.Time
	current     int64
	previous    int64
}

func newLocalWindow() *localWindow {
	return &localWindow{buckets: make(map[string]*agentBuckets)}
}

func (w *localWindow) allow(agentID string, now time.Time, limit int, window time.Duration) Decision {
	w.mu.Lock()
	defer w.mu.Unlock()

	bucketStart := now.Truncate(window)
	b, ok := w.buckets[agentID]
	if !ok {
		b = &agentBuckets{bucketStart: bucketStart}
		w.buckets[agentID] = b
	}

	switch {
	case b.bucketStart.Equal(bucketStart):
	case b.bucketStart.Equal(bucketStart.Add(-window)):
		b.previous = b.current
		b.current = 0
		b.bucketStart = bucketStart
	default:
		b.previous = 0
		b.current = 0
		b.bucketStart = bucketStart
	}

	b.current++
	return weigh(b.current, b.previous, now.Sub(bucketStart), limit, window)
}

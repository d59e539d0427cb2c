// Package webhook ingests asynchronous settlement events from rails. Every
// event is authenticated with the rail's shared HMAC secret and deduplicated
// by event ID before it can touch recorded outcomes.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/outlay-dev/outlay/internal/crypto"
)

var (
	ErrUnknownRail  = errors.New("unknown rail")
	ErrBadSignature = errors.New("webhook signature invalid")
)

// Event is the normalized form of a rail callback.
type Event struct {
	EventID     string          `json:"event_id"`
	Kind        string          `json:"kind"`
	IdemKey     string          `json:"idem_key"`
	ProviderRef string          `json:"provider_ref"`
	OccurredAt  string          `json:"occurred_at"`
	Raw         json.RawMessage `json:"-"`
}

// ReplayCache remembers processed event IDs for a bounded window.
type ReplayCache interface {
	// FirstSeen marks id as processed and reports whether this call was the
	// first to do so.
	FirstSeen(ctx context.Context, id string) (bool, error)
}

// Receiver verifies and deduplicates inbound rail events.
type Receiver struct {
	Secrets map[string][]byte
	Cache   ReplayCache
}

// Accept authenticates body against the rail's secret and deduplicates by
// event ID. duplicate means the event was already processed and must be
// acknowledged without reprocessing.
func (r *Receiver) Accept(ctx context.Context, railName string, body []byte, sigHex string) (ev Event, duplicate bool, err error) {
	secret, ok := r.Secrets[railName]
	if !ok {
		return Event{}, false, fmt.Errorf("%w: %s", ErrUnknownRail, railName)
	}
	if !crypto.VerifyMACHex(secret, body, sigHex) {
		return Event{}, false, ErrBadSignature
	}

	if err := json.Unmarshal(body, &ev); err != nil {
		return Event{}, false, fmt.Errorf("decode event: %w", err)
	}
	if ev.EventID == "" {
		return Event{}, false, fmt.Errorf("event missing event_id")
	}
	ev.Raw = body

	first, err := r.Cache.FirstSeen(ctx, railName+":"+ev.EventID)
	if err != nil {
		return Event{}, false, err
	}
	return ev, !first, nil
}

// Sign computes the signature a rail attaches to body. Used by tests and the
// dev-mode event generator.
func Sign(secret, body []byte) string {
	return crypto.MACHex(secret, body)
}

package approval

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/outlay-dev/outlay/internal/ledger"
)

// Publisher delivers an approval notification to reviewers.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, body []byte) error
}

const (
	OutboxStatusPending = "pending"
	OutboxStatusSent    = "sent"

	RoutingKeyRequested = "approvals.requested"
	RoutingKeyResolved  = "approvals.resolved"
)

// Notification is the message reviewers receive.
type Notification struct {
	ApprovalID  string `json:"approval_id"`
	IntentID    string `json:"intent_id"`
	DecisionID  string `json:"decision_id"`
	Quorum      int    `json:"quorum"`
	Status      string `json:"status"`
	AmountCents int64  `json:"amount_cents,omitempty"`
	ExpiresAt   string `json:"expires_at,omitempty"`
}

// Enqueue stages a notification in the outbox; the worker delivers it with
// backoff. The outbox write shares fate with the approval record, so a
// publish broker outage never loses a notification.
func Enqueue(store ledger.Store, routingKey string, n Notification, now time.Time) error {
	body, err := json.Marshal(n)
	if err != nil {
		return err
	}
	nowStr := now.UTC().Format(time.RFC3339)
	return store.PutOutbox(ledger.OutboxRecord{
		NotificationID: fmt.Sprintf("%s:%s:%s", routingKey, n.ApprovalID, n.Status),
		ApprovalID:     n.ApprovalID,
		RoutingKey:     routingKey,
		MessageJSON:    body,
		Status:         OutboxStatusPending,
		AttemptCount:   0,
		NextAttemptAt:  nowStr,
		CreatedAt:      nowStr,
		UpdatedAt:      nowStr,
	})
}

// ProcessOutboxDue publishes due pending notifications, applying exponential
// backoff on failure.
func ProcessOutboxDue(ctx context.Context, store ledger.Store, pub Publisher, now time.Time, limit int) (int, error) {
	if store == nil {
		return 0, fmt.Errorf("missing store")
	}
	if pub == nil {
		return 0, nil
	}
	if limit <= 0 {
		limit = 50
	}

	due, err := store.ListOutboxDue(now.UTC().Format(time.RFC3339), limit)
	if err != nil {
		return 0, err
	}

	processed := 0
	for _, rec := range due {
		if err := ctx.Err(); err != nil {
			return processed, err
		}
		if rec.Status != OutboxStatusPending {
			continue
		}

		if err := pub.Publish(ctx, rec.RoutingKey, rec.MessageJSON); err != nil {
			next := nextAttempt(rec.AttemptCount)
			rec.AttemptCount++
			rec.NextAttemptAt = now.UTC().Add(next).Format(time.RFC3339)
			msg := err.Error()
			rec.LastError = &msg
			rec.UpdatedAt = now.UTC().Format(time.RFC3339)
			if err := store.PutOutbox(rec); err != nil {
				return processed, err
			}
			processed++
			continue
		}

		rec.Status = OutboxStatusSent
		sentAt := now.UTC().Format(time.RFC3339)
		rec.SentAt = &sentAt
		rec.UpdatedAt = sentAt
		if err := store.PutOutbox(rec); err != nil {
			return processed, err
		}
		processed++
	}

	return processed, nil
}

func nextAttempt(attemptCount int) time.Duration {
	// 5s, 10s, 20s, 40s, ... capped at 5m.
	base := 5 * time.Second
	if attemptCount <= 0 {
		return base
	}
	d := base << attemptCount
	max := 5 * time.Minute
	if d > max {
		return max
	}
	return d
}

// RunOutboxWorker polls and publishes due notifications until ctx is
// cancelled.
func RunOutboxWorker(ctx context.Context, store ledger.Store, pub Publisher, pollInterval time.Duration) {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			_, _ = ProcessOutboxDue(ctx, store, pub, now, 25)
		}
	}
}

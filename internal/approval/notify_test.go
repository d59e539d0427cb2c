package approval

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/outlay-dev/outlay/internal/ledger"
)

type fakePublisher struct {
	fail  int
	sent  []string
	calls int
}

func (p *fakePublisher) Publish(ctx context.Context, routingKey string, body []byte) error {
	p.calls++
	if p.fail > 0 {
		p.fail--
		return errors.New("broker unavailable")
	}
	p.sent = append(p.sent, routingKey)
	return nil
}

func TestEnqueueAndProcess(t *testing.T) {
	store := ledger.NewMemoryStore()
	now := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)

	n := Notification{
		ApprovalID: "apr-1",
		IntentID:   "int-1",
		DecisionID: "dec-1",
		Quorum:     2,
		Status:     "pending",
		ExpiresAt:  "2026-09-02T10:00:00Z",
	}
	if err := Enqueue(store, RoutingKeyRequested, n, now); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	pub := &fakePublisher{}
	processed, err := ProcessOutboxDue(context.Background(), store, pub, now, 10)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if processed != 1 || len(pub.sent) != 1 || pub.sent[0] != RoutingKeyRequested {
		t.Fatalf("processed=%d sent=%v", processed, pub.sent)
	}

	rec, ok := store.GetOutbox("approvals.requested:apr-1:pending")
	if !ok || rec.Status != OutboxStatusSent || rec.SentAt == nil {
		t.Fatalf("outbox record = ok=%v %+v", ok, rec)
	}

	// Sent records are not reprocessed.
	if processed, err := ProcessOutboxDue(context.Background(), store, pub, now.Add(time.Minute), 10); err != nil || processed != 0 {
		t.Fatalf("second pass: processed=%d err=%v", processed, err)
	}
}

func TestProcessAppliesBackoffOnFailure(t *testing.T) {
	store := ledger.NewMemoryStore()
	now := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)

	if err := Enqueue(store, RoutingKeyRequested, Notification{ApprovalID: "apr-1", Status: "pending"}, now); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	pub := &fakePublisher{fail: 1}
	if _, err := ProcessOutboxDue(context.Background(), store, pub, now, 10); err != nil {
		t.Fatalf("process: %v", err)
	}

	rec, ok := store.GetOutbox("approvals.requested:apr-1:pending")
	if !ok || rec.Status != OutboxStatusPending || rec.AttemptCount != 1 || rec.LastError == nil {
		t.Fatalf("outbox after failure = ok=%v %+v", ok, rec)
	}
	if rec.NextAttemptAt != now.Add(5*time.Second).UTC().Format(time.RFC3339) {
		t.Fatalf("next attempt = %s", rec.NextAttemptAt)
	}

	// Not yet due: nothing happens.
	if processed, _ := ProcessOutboxDue(context.Background(), store, pub, now.Add(time.Second), 10); processed != 0 {
		t.Fatalf("should not retry before backoff: processed=%d", processed)
	}

	// Due again: succeeds.
	if processed, _ := ProcessOutboxDue(context.Background(), store, pub, now.Add(10*time.Second), 10); processed != 1 {
		t.Fatalf("retry processed = %d", processed)
	}
	rec, _ = store.GetOutbox("approvals.requested:apr-1:pending")
	if rec.Status != OutboxStatusSent {
		t.Fatalf("status after retry = %s", rec.Status)
	}
}

func TestNextAttemptCapped(t *testing.T) {
	if d := nextAttempt(0); d != 5*time.Second {
		t.Fatalf("first = %v", d)
	}
	if d := nextAttempt(2); d != 20*time.Second {
		t.Fatalf("third = %v", d)
	}
	if d := nextAttempt(12); d != 5*time.Minute {
		t.Fatalf("cap = %v", d)
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	store := ledger.NewMemoryStore()
	now := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)

	r := NewRequest("int-1", "dec-1", 2, now, 24*time.Hour)
	if err := r.Submit("cfo", true, now.Add(time.Minute)); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := Save(store, r); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, ok, err := Load(store, r.ApprovalID)
	if err != nil || !ok {
		t.Fatalf("load: ok=%v err=%v", ok, err)
	}
	if got.Status != StatusPending || len(got.Verdicts) != 1 || got.Verdicts[0].Reviewer != "cfo" {
		t.Fatalf("loaded = %+v", got)
	}
}

package approval

import (
	"errors"
	"testing"
	"time"
)

var testNow = time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)

func pendingRequest(quorum int) Request {
	return NewRequest("int-1", "dec-1", quorum, testNow, time.Hour)
}

func TestQuorumOfTwoDistinctReviewers(t *testing.T) {
	r := pendingRequest(2)

	if err := r.Submit("alice", true, testNow); err != nil {
		t.Fatalf("first approval: %v", err)
	}
	if r.Status != StatusPending {
		t.Fatalf("one approval should not satisfy quorum 2, got %s", r.Status)
	}

	if err := r.Submit("bob", true, testNow); err != nil {
		t.Fatalf("second approval: %v", err)
	}
	if r.Status != StatusApproved {
		t.Fatalf("expected approved, got %s", r.Status)
	}
}

func TestSameReviewerCannotSatisfyQuorum(t *testing.T) {
	r := pendingRequest(2)

	if err := r.Submit("alice", true, testNow); err != nil {
		t.Fatalf("first approval: %v", err)
	}
	if err := r.Submit("alice", true, testNow); !errors.Is(err, ErrDuplicateVerdict) {
		t.Fatalf("expected duplicate verdict error, got %v", err)
	}
	if r.Status != StatusPending {
		t.Fatalf("duplicate approvals must not approve, got %s", r.Status)
	}
}

func TestSingleRejectionIsTerminal(t *testing.T) {
	r := pendingRequest(2)

	if err := r.Submit("alice", true, testNow); err != nil {
		t.Fatalf("approval: %v", err)
	}
	if err := r.Submit("bob", false, testNow); err != nil {
		t.Fatalf("rejection: %v", err)
	}
	if r.Status != StatusRejected {
		t.Fatalf("expected rejected, got %s", r.Status)
	}

	if err := r.Submit("carol", true, testNow); !errors.Is(err, ErrTerminal) {
		t.Fatalf("expected terminal error after rejection, got %v", err)
	}
}

func TestExpiryIsTerminal(t *testing.T) {
	r := pendingRequest(2)
	late := testNow.Add(2 * time.Hour)

	if err := r.Submit("alice", true, late); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected expiry, got %v", err)
	}
	if r.Status != StatusExpired {
		t.Fatalf("expected expired, got %s", r.Status)
	}

	if err := r.Submit("bob", true, testNow); !errors.Is(err, ErrTerminal) {
		t.Fatalf("expired requests accept no verdicts, got %v", err)
	}
}

func TestExpireIfDue(t *testing.T) {
	r := pendingRequest(1)

	if r.ExpireIfDue(testNow.Add(30 * time.Minute)) {
		t.Fatalf("should not expire before deadline")
	}
	if !r.ExpireIfDue(testNow.Add(time.Hour)) {
		t.Fatalf("should expire at deadline")
	}
	if r.ExpireIfDue(testNow.Add(2 * time.Hour)) {
		t.Fatalf("expiry should not fire twice")
	}
}

func TestQuorumFloorsAtOne(t *testing.T) {
	r := NewRequest("int-1", "dec-1", 0, testNow, time.Hour)
	if r.Quorum != 1 {
		t.Fatalf("expected quorum floor of 1, got %d", r.Quorum)
	}

	if err := r.Submit("alice", true, testNow); err != nil {
		t.Fatalf("approval: %v", err)
	}
	if r.Status != StatusApproved {
		t.Fatalf("expected approved, got %s", r.Status)
	}
}

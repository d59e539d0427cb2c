// Package approval manages quorum-based human review of flagged intents.
package approval

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusExpired  Status = "expired"
)

var (
	ErrTerminal         = errors.New("approval request is terminal")
	ErrExpired          = errors.New("approval request expired")
	ErrDuplicateVerdict = errors.New("reviewer already voted")
)

type Verdict struct {
	Reviewer string `json:"reviewer"`
	Approve  bool   `json:"approve"`
	At       string `json:"at"`
}

// Request is one pending approval. It reaches approved only when the number
// of distinct approving reviewers meets the quorum with no rejection; a
// single rejection or expiry is terminal and the intent never executes.
type Request struct {
	ApprovalID string    `json:"approval_id"`
	IntentID   string    `json:"intent_id"`
	DecisionID string    `json:"decision_id"`
	Quorum     int       `json:"quorum"`
	Status     Status    `json:"status"`
	Verdicts   []Verdict `json:"verdicts,omitempty"`
	CreatedAt  string    `json:"created_at"`
	UpdatedAt  string    `json:"updated_at"`
	ExpiresAt  string    `json:"expires_at"`
}

func NewRequest(intentID, decisionID string, quorum int, now time.Time, ttl time.Duration) Request {
	if quorum < 1 {
		quorum = 1
	}
	created := now.UTC().Format(time.RFC3339)
	return Request{
		ApprovalID: "apr-" + uuid.NewString(),
		IntentID:   intentID,
		DecisionID: decisionID,
		Quorum:     quorum,
		Status:     StatusPending,
		CreatedAt:  created,
		UpdatedAt:  created,
		ExpiresAt:  now.UTC().Add(ttl).Format(time.RFC3339),
	}
}

// Submit records a reviewer verdict and advances the state machine. Two
// approvals from the same reviewer identity never satisfy a quorum of two.
func (r *Request) Submit(reviewer string, approve bool, now time.Time) error {
	if reviewer == "" {
		return fmt.Errorf("missing reviewer identity")
	}
	if r.Status != StatusPending {
		return ErrTerminal
	}
	if r.ExpireIfDue(now) {
		return ErrExpired
	}

	for _, v := range r.Verdicts {
		if v.Reviewer == reviewer {
			return ErrDuplicateVerdict
		}
	}

	at := now.UTC().Format(time.RFC3339)
	r.Verdicts = append(r.Verdicts, Verdict{Reviewer: reviewer, Approve: approve, At: at})
	r.UpdatedAt = at

	if !approve {
		r.Status = StatusRejected
		return nil
	}
	if r.distinctApprovals() >= r.Quorum {
		r.Status = StatusApproved
	}
	return nil
}

// ExpireIfDue transitions a pending request past its expiry to expired.
func (r *Request) ExpireIfDue(now time.Time) bool {
	if r.Status != StatusPending {
		return false
	}
	expires, err := time.Parse(time.RFC3339, r.ExpiresAt)
	if err != nil {
		return false
	}
	if now.Before(expires) {
		return false
	}
	r.Status = StatusExpired
	r.UpdatedAt = now.UTC().Format(time.RFC3339)
	return true
}

func (r *Request) distinctApprovals() int {
	seen := map[string]struct{}{}
	for _, v := range r.Verdicts {
		if v.Approve {
			seen[v.Reviewer] = struct{}{}
		}
	}
	return len(seen)
}

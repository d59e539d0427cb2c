// Package rail abstracts the payment providers an approved intent can settle
// on. Every rail exposes the same authorize/execute/confirm/refund sequence;
// the router owns retries, failover, and idempotency around it.
package rail

import (
	"context"
	"errors"
	"fmt"
)

// Request is the execution order handed to a rail. SignedPayload carries the
// custody collaborator's signature over the order; rails reject unsigned
// requests.
type Request struct {
	IdemKey       string
	IntentID      string
	AmountCents   int64
	Currency      string
	Counterparty  string
	KeyID         string
	SignedPayload []byte
}

type Authorization struct {
	Ref string
}

type Execution struct {
	ProviderRef string
}

type Confirmation struct {
	Settled   bool
	SettledAt string
}

// Rail is one settlement capability. Errors from any step are transient
// unless wrapped in Decline; the router retries transient failures and stops
// on declines.
type Rail interface {
	Name() string
	Authorize(ctx context.Context, req Request) (Authorization, error)
	Execute(ctx context.Context, req Request, auth Authorization) (Execution, error)
	Confirm(ctx context.Context, req Request, exec Execution) (Confirmation, error)
	Refund(ctx context.Context, req Request, exec Execution) error
}

// Decline is a permanent provider rejection. Retrying the same request will
// not help.
type Decline struct {
	Rail   string
	Reason string
}

func (d *Decline) Error() string {
	return fmt.Sprintf("%s declined: %s", d.Rail, d.Reason)
}

// IsDecline reports whether err is a permanent rejection.
func IsDecline(err error) bool {
	var d *Decline
	return errors.As(err, &d)
}

// Package compliance screens intent subjects against identity and sanctions
// collaborators. The gate is deliberately simple and conservative: explicit
// fail, review, timeout, and transport errors all deny. There is no retry
// and no fallback.
package compliance

import (
	"context"
	"fmt"
	"time"

	"github.com/outlay-dev/outlay/internal/fault"
)

type Result string

const (
	ResultPass   Result = "pass"
	ResultFail   Result = "fail"
	ResultReview Result = "review"
)

// Checker is one external verification collaborator.
type Checker interface {
	Name() string
	Check(ctx context.Context, subject string) (Result, error)
}

type Gate struct {
	Checkers []Checker
	Timeout  time.Duration
}

const defaultTimeout = 3 * time.Second

// Screen runs every checker against every subject. Any outcome other than an
// explicit pass denies with COMPLIANCE_FAILURE; the cause stays internal.
func (g *Gate) Screen(ctx context.Context, subjects ...string) error {
	timeout := g.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	for _, checker := range g.Checkers {
		for _, subject := range subjects {
			checkCtx, cancel := context.WithTimeout(ctx, timeout)
			result, err := checker.Check(checkCtx, subject)
			cancel()

			switch {
			case err != nil:
				return fault.Wrap(fault.CodeComplianceFailure, "verification unavailable",
					fmt.Errorf("%s check for %s: %w", checker.Name(), subject, err))
			case result == ResultPass:
			default:
				return fault.Wrap(fault.CodeComplianceFailure, "verification did not pass",
					fmt.Errorf("%s returned %s for %s", checker.Name(), result, subject))
			}
		}
	}
	return nil
}

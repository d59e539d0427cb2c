// Package fault defines the coded error taxonomy shared across the decision
// and execution pipeline. Every terminal outcome maps to exactly one code;
// there is no "unknown" terminal state.
package fault

import (
	"errors"
	"fmt"
	"time"
)

type Code string

const (
	CodePolicyViolation       Code = "POLICY_VIOLATION"
	CodeInsufficientApprovals Code = "INSUFFICIENT_APPROVALS"
	CodeComplianceFailure     Code = "COMPLIANCE_FAILURE"
	CodeProviderUnavailable   Code = "PROVIDER_UNAVAILABLE"
	CodeRateLimited           Code = "RATE_LIMITED"
	CodeReplayDetected        Code = "REPLAY_DETECTED"
	CodeLedgerCorruption      Code = "LEDGER_CORRUPTION"
	CodeContainment           Code = "CONTAINMENT"
	CodeInvalidIntent         Code = "INVALID_INTENT"
)

// Fault carries a taxonomy code, an agent-facing message, and an internal
// cause. The cause is recorded in the ledger but never surfaced to callers;
// compliance denials in particular must stay redacted.
type Fault struct {
	Code       Code
	Message    string
	RetryAfter time.Duration
	cause      error
}

func New(code Code, message string) *Fault {
	return &Fault{Code: code, Message: message}
}

func Wrap(code Code, message string, cause error) *Fault {
	return &Fault{Code: code, Message: message, cause: cause}
}

// RateLimited builds a RATE_LIMITED fault carrying a retry-after hint.
func RateLimited(retryAfter time.Duration) *Fault {
	return &Fault{
		Code:       CodeRateLimited,
		Message:    "request rate exceeded",
		RetryAfter: retryAfter,
	}
}

func (f *Fault) Error() string {
	if f.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", f.Code, f.Message, f.cause)
	}
	return fmt.Sprintf("[%s] %s", f.Code, f.Message)
}

func (f *Fault) Unwrap() error { return f.cause }

// Is matches faults by code so callers can use errors.Is with sentinel
// faults.
func (f *Fault) Is(target error) bool {
	t, ok := target.(*Fault)
	if !ok {
		return false
	}
	return f.Code == t.Code
}

// Public returns the agent-facing message. Compliance and ledger faults hide
// the internal cause.
func (f *Fault) Public() string {
	switch f.Code {
	case CodeComplianceFailure:
		return "compliance check failed"
	case CodeLedgerCorruption:
		return "ledger unavailable"
	default:
		return f.Message
	}
}

// Internal returns the full detail, cause included, for ledger evidence.
func (f *Fault) Internal() string { return f.Error() }

// Retryable reports whether a caller may usefully retry the same request.
func (f *Fault) Retryable() bool {
	switch f.Code {
	case CodeRateLimited, CodeProviderUnavailable:
		return true
	default:
		return false
	}
}

// CodeOf extracts the taxonomy code from any error chain.
func CodeOf(err error) (Code, bool) {
	var f *Fault
	if errors.As(err, &f) {
		return f.Code, true
	}
	return "", false
}

// From extracts a Fault from an error chain.
func From(err error) (*Fault, bool) {
	var f *Fault
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}

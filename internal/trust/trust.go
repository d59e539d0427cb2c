// Package trust maintains the directed trust relations between agents.
// Relations gate agent-to-agent transfers: an unknown or revoked edge fails
// closed in the decision engine. Mutations are ledger-logged with before and
// after state so every change to who-may-pay-whom is reconstructible.
package trust

import (
	"fmt"
	"time"

	"github.com/outlay-dev/outlay/internal/fault"
	"github.com/outlay-dev/outlay/internal/ledger"
	"github.com/outlay-dev/outlay/internal/policy"
)

const (
	StatusTrusted = "trusted"
	StatusRevoked = "revoked"
)

// Graph reads and mutates trust edges. When RequireApproval is set, every
// mutation must carry the ID of an approved approval record.
type Graph struct {
	Store           ledger.Store
	Writer          *ledger.Writer
	RequireApproval bool

	Now func() time.Time
}

func (g *Graph) now() time.Time {
	if g.Now != nil {
		return g.Now()
	}
	return time.Now()
}

// Lookup resolves the edge from payer to counterparty for the decision
// engine. Absent edges are unknown, which the engine treats as untrusted.
func (g *Graph) Lookup(fromAgent, toAgent string) policy.TrustStatus {
	rec, ok := g.Store.GetTrust(fromAgent, toAgent)
	if !ok {
		return policy.TrustStatus{}
	}
	return policy.TrustStatus{Known: true, Trusted: rec.Status == StatusTrusted}
}

func (g *Graph) Get(fromAgent, toAgent string) (ledger.TrustRecord, bool) {
	return g.Store.GetTrust(fromAgent, toAgent)
}

// Set writes an edge and appends the mutation to the audit chain. approvalID
// is required when the graph is configured for approval-gated mutations.
func (g *Graph) Set(fromAgent, toAgent, status string, approvalID *string) (ledger.TrustRecord, error) {
	if fromAgent == "" || toAgent == "" {
		return ledger.TrustRecord{}, fault.New(fault.CodeInvalidIntent, "trust edge requires both agents")
	}
	if fromAgent == toAgent {
		return ledger.TrustRecord{}, fault.New(fault.CodeInvalidIntent, "agent cannot trust itself")
	}
	if status != StatusTrusted && status != StatusRevoked {
		return ledger.TrustRecord{}, fault.New(fault.CodeInvalidIntent, fmt.Sprintf("unknown trust status %q", status))
	}

	if g.RequireApproval {
		if approvalID == nil || *approvalID == "" {
			return ledger.TrustRecord{}, fault.New(fault.CodeInsufficientApprovals, "trust mutation requires an approval")
		}
		apr, ok := g.Store.GetApproval(*approvalID)
		if !ok {
			return ledger.TrustRecord{}, fault.New(fault.CodeInsufficientApprovals, "approval not found")
		}
		if apr.Status != "approved" {
			return ledger.TrustRecord{}, fault.New(fault.CodeInsufficientApprovals, fmt.Sprintf("approval is %s", apr.Status))
		}
	}

	nowStr := g.now().UTC().Format(time.RFC3339)
	before, hadBefore := g.Store.GetTrust(fromAgent, toAgent)

	rec := ledger.TrustRecord{
		FromAgent:  fromAgent,
		ToAgent:    toAgent,
		Status:     status,
		ApprovalID: approvalID,
		CreatedAt:  nowStr,
		UpdatedAt:  nowStr,
	}
	if hadBefore {
		rec.CreatedAt = before.CreatedAt
	}
	if err := g.Store.PutTrust(rec); err != nil {
		return ledger.TrustRecord{}, err
	}

	entry := map[string]any{
		"from_agent": fromAgent,
		"to_agent":   toAgent,
		"after":      status,
	}
	if hadBefore {
		entry["before"] = before.Status
	} else {
		entry["before"] = nil
	}
	if approvalID != nil {
		entry["approval_id"] = *approvalID
	}
	if _, err := g.Writer.Append("trust_mutation", entry); err != nil {
		return ledger.TrustRecord{}, err
	}
	return rec, nil
}

package policy

import (
	"strings"
	"time"

	"github.com/outlay-dev/outlay/pkg/types"
)

// Usage is the live spend already committed for the intent's agent in the
// current rolling windows.
type Usage struct {
	DailyCents   int64
	MonthlyCents int64
}

// TrustStatus is the Trust Graph lookup result for (agent, counterparty).
type TrustStatus struct {
	Known   bool
	Trusted bool
}

type Input struct {
	Intent types.TransactionIntent
	Usage  Usage
	Trust  TrustStatus
}

// Verdict is the engine's evaluation result before it is persisted as a
// Decision record.
type Verdict struct {
	Outcome          types.Outcome
	Reason           string
	ReasonCodes      []string
	RequiresApproval bool
	Quorum           int
	PolicyHash       string
}

const (
	ReasonCurrencyMismatch     = "CURRENCY_MISMATCH"
	ReasonCeilingPerTx         = "CEILING_PER_TX"
	ReasonCeilingDaily         = "CEILING_DAILY"
	ReasonCeilingMonthly       = "CEILING_MONTHLY"
	ReasonCategoryDenied       = "CATEGORY_DENIED"
	ReasonCounterpartyDenied   = "COUNTERPARTY_DENIED"
	ReasonCategoryNotAllowed   = "CATEGORY_NOT_ALLOWED"
	ReasonCounterpartyNotAllow = "COUNTERPARTY_NOT_ALLOWED"
	ReasonWeekendBlocked       = "WEEKEND_BLOCKED"
	ReasonPerTxLimit           = "PER_TX_LIMIT"
	ReasonDailyLimit           = "DAILY_LIMIT"
	ReasonMonthlyLimit         = "MONTHLY_LIMIT"
	ReasonUntrusted            = "COUNTERPARTY_UNTRUSTED"
	ReasonApprovalRequired     = "APPROVAL_REQUIRED"
)

// Evaluate applies the policy to an intent. It is a pure function of its
// arguments: identical inputs always produce an identical verdict. Checks
// run in fixed order and deny wins on any conflict.
func Evaluate(p Policy, policyHash string, in Input) Verdict {
	intent := in.Intent
	rules := p.Rules

	deny := func(code, reason string) Verdict {
		return Verdict{
			Outcome:     types.OutcomeDenied,
			Reason:      reason,
			ReasonCodes: []string{code},
			PolicyHash:  policyHash,
		}
	}

	// 1. hard ceilings
	if rules.Currency != "" && !strings.EqualFold(rules.Currency, intent.Currency) {
		return deny(ReasonCurrencyMismatch, "currency not permitted by policy")
	}
	if p.Ceilings.PerTxCents > 0 && intent.AmountCents > p.Ceilings.PerTxCents {
		return deny(ReasonCeilingPerTx, "exceeds hard per-transaction ceiling")
	}
	if p.Ceilings.DailyCents > 0 && in.Usage.DailyCents+intent.AmountCents > p.Ceilings.DailyCents {
		return deny(ReasonCeilingDaily, "exceeds hard daily ceiling")
	}
	if p.Ceilings.MonthlyCents > 0 && in.Usage.MonthlyCents+intent.AmountCents > p.Ceilings.MonthlyCents {
		return deny(ReasonCeilingMonthly, "exceeds hard monthly ceiling")
	}

	// 2. deny lists; a deny-list hit wins even when the allow list also
	// matches
	category := strings.ToLower(intent.Category)
	counterparty := strings.ToLower(intent.Counterparty)
	if contains(rules.DenyCategories, category) {
		return deny(ReasonCategoryDenied, "category blocked by policy")
	}
	if contains(rules.DenyCounterparties, counterparty) {
		return deny(ReasonCounterpartyDenied, "counterparty blocked by policy")
	}

	// 3. allow lists: presence of a list makes it exhaustive
	if len(rules.AllowCategories) > 0 && !contains(rules.AllowCategories, category) {
		return deny(ReasonCategoryNotAllowed, "category not on allow list")
	}
	if len(rules.AllowCounterparties) > 0 && !contains(rules.AllowCounterparties, counterparty) {
		return deny(ReasonCounterpartyNotAllow, "counterparty not on allow list")
	}

	// 4. time windows and rolling limits
	if rules.BlockWeekends && isWeekendUTC(intent.CreatedAt) {
		return deny(ReasonWeekendBlocked, "weekend transactions blocked")
	}
	if rules.PerTxLimitCents > 0 && intent.AmountCents > rules.PerTxLimitCents {
		return deny(ReasonPerTxLimit, "exceeds per-transaction limit")
	}
	if rules.DailyLimitCents > 0 && in.Usage.DailyCents+intent.AmountCents > rules.DailyLimitCents {
		return deny(ReasonDailyLimit, "exceeds daily limit")
	}
	if rules.MonthlyLimitCents > 0 && in.Usage.MonthlyCents+intent.AmountCents > rules.MonthlyLimitCents {
		return deny(ReasonMonthlyLimit, "exceeds monthly limit")
	}

	// 5. counterparty trust for agent-to-agent flows
	if intent.CounterpartyKind == types.CounterpartyAgent && !in.Trust.Trusted {
		return deny(ReasonUntrusted, "counterparty not trusted")
	}

	// 6. approval threshold
	if rules.ApprovalThresholdCents > 0 && intent.AmountCents > rules.ApprovalThresholdCents {
		return Verdict{
			Outcome:          types.OutcomePendingApproval,
			Reason:           "exceeds approval threshold",
			ReasonCodes:      []string{ReasonApprovalRequired},
			RequiresApproval: true,
			Quorum:           rules.ApprovalQuorum,
			PolicyHash:       policyHash,
		}
	}

	return Verdict{Outcome: types.OutcomeApproved, PolicyHash: policyHash}
}

func contains(list []string, value string) bool {
	for _, item := range list {
		if item == value {
			return true
		}
	}
	return false
}

// isWeekendUTC reports whether an RFC3339 timestamp falls on a Saturday or
// Sunday in UTC. Unparseable timestamps count as weekend so malformed input
// cannot dodge a time-window restriction.
func isWeekendUTC(createdAt string) bool {
	ts, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return true
	}
	switch ts.UTC().Weekday() {
	case time.Saturday, time.Sunday:
		return true
	default:
		return false
	}
}

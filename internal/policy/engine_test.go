package policy

import (
	"reflect"
	"testing"

	"github.com/outlay-dev/outlay/pkg/types"
)

func intentFor(amountCents int64) types.TransactionIntent {
	return types.TransactionIntent{
		IntentID:         "int-1",
		AgentID:          "agent-1",
		Counterparty:     "acme",
		CounterpartyKind: types.CounterpartyMerchant,
		AmountCents:      amountCents,
		Currency:         "USD",
		Category:         "software",
		CreatedAt:        "2026-09-01T10:00:00Z", // a Tuesday
	}
}

func TestEvaluatePerTxLimitOnWeekday(t *testing.T) {
	// "max $100/tx, block weekends" with a $250 intent on a Tuesday
	p := Policy{Rules: Rules{PerTxLimitCents: 10_000, BlockWeekends: true}}

	verdict := Evaluate(p, "sha256:p", Input{Intent: intentFor(25_000)})
	if verdict.Outcome != types.OutcomeDenied {
		t.Fatalf("expected denied, got %s", verdict.Outcome)
	}
	if verdict.Reason != "exceeds per-transaction limit" {
		t.Fatalf("unexpected reason %q", verdict.Reason)
	}
}

func TestEvaluateWeekendBlocked(t *testing.T) {
	p := Policy{Rules: Rules{PerTxLimitCents: 10_000, BlockWeekends: true}}

	intent := intentFor(5_000)
	intent.CreatedAt = "2026-09-05T10:00:00Z" // Saturday
	verdict := Evaluate(p, "sha256:p", Input{Intent: intent})
	if verdict.Outcome != types.OutcomeDenied {
		t.Fatalf("expected denied, got %s", verdict.Outcome)
	}
	if verdict.ReasonCodes[0] != ReasonWeekendBlocked {
		t.Fatalf("unexpected reason codes %v", verdict.ReasonCodes)
	}
}

func TestEvaluateDailyLimitAccumulates(t *testing.T) {
	// "max $500/day": five $120 intents, first four pass, fifth would
	// total $600
	p := Policy{Rules: Rules{DailyLimitCents: 50_000}}

	var usage Usage
	for i := 0; i < 4; i++ {
		verdict := Evaluate(p, "sha256:p", Input{Intent: intentFor(12_000), Usage: usage})
		if verdict.Outcome != types.OutcomeApproved {
			t.Fatalf("intent %d: expected approved, got %s (%s)", i+1, verdict.Outcome, verdict.Reason)
		}
		usage.DailyCents += 12_000
	}

	verdict := Evaluate(p, "sha256:p", Input{Intent: intentFor(12_000), Usage: usage})
	if verdict.Outcome != types.OutcomeDenied {
		t.Fatalf("expected fifth intent denied, got %s", verdict.Outcome)
	}
	if verdict.Reason != "exceeds daily limit" {
		t.Fatalf("unexpected reason %q", verdict.Reason)
	}
}

func TestEvaluateApprovalThreshold(t *testing.T) {
	p := Policy{Rules: Rules{ApprovalThresholdCents: 5_000, ApprovalQuorum: 2}}

	verdict := Evaluate(p, "sha256:p", Input{Intent: intentFor(7_500)})
	if verdict.Outcome != types.OutcomePendingApproval {
		t.Fatalf("expected pending_approval, got %s", verdict.Outcome)
	}
	if !verdict.RequiresApproval || verdict.Quorum != 2 {
		t.Fatalf("expected quorum 2, got %+v", verdict)
	}

	verdict = Evaluate(p, "sha256:p", Input{Intent: intentFor(2_500)})
	if verdict.Outcome != types.OutcomeApproved {
		t.Fatalf("expected approved below threshold, got %s", verdict.Outcome)
	}
}

func TestEvaluateDenyWinsOverAllow(t *testing.T) {
	p := Policy{Rules: Rules{
		AllowCounterparties: []string{"acme"},
		DenyCounterparties:  []string{"acme"},
	}}

	verdict := Evaluate(p, "sha256:p", Input{Intent: intentFor(1_000)})
	if verdict.Outcome != types.OutcomeDenied {
		t.Fatalf("expected deny to win, got %s", verdict.Outcome)
	}
	if verdict.ReasonCodes[0] != ReasonCounterpartyDenied {
		t.Fatalf("unexpected reason codes %v", verdict.ReasonCodes)
	}
}

func TestEvaluateAllowListExhaustive(t *testing.T) {
	p := Policy{Rules: Rules{AllowCategories: []string{"travel"}}}

	verdict := Evaluate(p, "sha256:p", Input{Intent: intentFor(1_000)})
	if verdict.Outcome != types.OutcomeDenied {
		t.Fatalf("expected denied for category off allow list, got %s", verdict.Outcome)
	}
}

func TestEvaluateAgentFlowsRequireTrust(t *testing.T) {
	p := Policy{}
	intent := intentFor(1_000)
	intent.CounterpartyKind = types.CounterpartyAgent

	verdict := Evaluate(p, "sha256:p", Input{Intent: intent})
	if verdict.Outcome != types.OutcomeDenied {
		t.Fatalf("expected untrusted agent denied, got %s", verdict.Outcome)
	}

	verdict = Evaluate(p, "sha256:p", Input{Intent: intent, Trust: TrustStatus{Known: true, Trusted: true}})
	if verdict.Outcome != types.OutcomeApproved {
		t.Fatalf("expected trusted agent approved, got %s", verdict.Outcome)
	}
}

func TestEvaluateHardCeilingBeatsRuleLimits(t *testing.T) {
	p := Policy{
		Rules:    Rules{PerTxLimitCents: 100_000},
		Ceilings: Ceilings{PerTxCents: 20_000},
	}

	verdict := Evaluate(p, "sha256:p", Input{Intent: intentFor(50_000)})
	if verdict.Outcome != types.OutcomeDenied {
		t.Fatalf("expected denied, got %s", verdict.Outcome)
	}
	if verdict.ReasonCodes[0] != ReasonCeilingPerTx {
		t.Fatalf("expected ceiling reason, got %v", verdict.ReasonCodes)
	}
}

func TestEvaluateDeterministic(t *testing.T) {
	p := Policy{Rules: Rules{
		PerTxLimitCents:        10_000,
		DailyLimitCents:        50_000,
		ApprovalThresholdCents: 5_000,
		ApprovalQuorum:         2,
		BlockWeekends:          true,
	}}
	in := Input{Intent: intentFor(7_500), Usage: Usage{DailyCents: 1_000}}

	first := Evaluate(p, "sha256:p", in)
	second := Evaluate(p, "sha256:p", in)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("expected identical verdicts, got %+v vs %+v", first, second)
	}
}

func TestEvaluateMalformedTimestampCountsAsWeekend(t *testing.T) {
	p := Policy{Rules: Rules{BlockWeekends: true}}
	intent := intentFor(1_000)
	intent.CreatedAt = "not-a-timestamp"

	verdict := Evaluate(p, "sha256:p", Input{Intent: intent})
	if verdict.Outcome != types.OutcomeDenied {
		t.Fatalf("expected malformed timestamp denied, got %s", verdict.Outcome)
	}
}

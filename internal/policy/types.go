package policy

import (
	"github.com/outlay-dev/outlay/internal/crypto"
)

// Policy is a published, immutable rule set. A new statement produces a new
// version; prior versions are superseded, never edited.
type Policy struct {
	PolicyID  string   `json:"policy_id" yaml:"policy_id"`
	Version   int      `json:"version" yaml:"version"`
	Statement string   `json:"statement" yaml:"statement"`
	Rules     Rules    `json:"rules" yaml:"rules"`
	Ceilings  Ceilings `json:"ceilings" yaml:"ceilings"`
	CreatedAt string   `json:"created_at" yaml:"created_at"`
}

type Rules struct {
	Currency               string   `json:"currency,omitempty" yaml:"currency,omitempty"`
	PerTxLimitCents        int64    `json:"per_tx_limit_cents,omitempty" yaml:"per_tx_limit_cents,omitempty"`
	DailyLimitCents        int64    `json:"daily_limit_cents,omitempty" yaml:"daily_limit_cents,omitempty"`
	MonthlyLimitCents      int64    `json:"monthly_limit_cents,omitempty" yaml:"monthly_limit_cents,omitempty"`
	AllowCategories        []string `json:"allow_categories,omitempty" yaml:"allow_categories,omitempty"`
	DenyCategories         []string `json:"deny_categories,omitempty" yaml:"deny_categories,omitempty"`
	AllowCounterparties    []string `json:"allow_counterparties,omitempty" yaml:"allow_counterparties,omitempty"`
	DenyCounterparties     []string `json:"deny_counterparties,omitempty" yaml:"deny_counterparties,omitempty"`
	BlockWeekends          bool     `json:"block_weekends,omitempty" yaml:"block_weekends,omitempty"`
	ApprovalThresholdCents int64    `json:"approval_threshold_cents,omitempty" yaml:"approval_threshold_cents,omitempty"`
	ApprovalQuorum         int      `json:"approval_quorum,omitempty" yaml:"approval_quorum,omitempty"`
	AllowFailover          bool     `json:"allow_failover,omitempty" yaml:"allow_failover,omitempty"`
}

// Ceilings are the hard limits a policy can never exceed. Across versions
// they may only tighten unless a signed override accompanies the compile.
type Ceilings struct {
	PerTxCents   int64 `json:"per_tx_cents" yaml:"per_tx_cents"`
	DailyCents   int64 `json:"daily_cents" yaml:"daily_cents"`
	MonthlyCents int64 `json:"monthly_cents" yaml:"monthly_cents"`
}

// Snapshot is the canonical serialized form of a policy plus its hash. The
// hash identifies the exact rule set a decision was made under.
type Snapshot struct {
	Policy Policy
	Hash   string
	Bytes  []byte
}

// Snapshot canonicalizes the policy and computes its snapshot hash.
func (p Policy) Snapshot() (Snapshot, error) {
	canonical, err := crypto.Canonicalize(p.signingView())
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{
		Policy: p,
		Hash:   crypto.DigestWithPrefix(canonical),
		Bytes:  canonical,
	}, nil
}

func (p Policy) signingView() map[string]any {
	return map[string]any{
		"policy_id":  p.PolicyID,
		"version":    p.Version,
		"statement":  p.Statement,
		"created_at": p.CreatedAt,
		"rules": map[string]any{
			"currency":                 p.Rules.Currency,
			"per_tx_limit_cents":       p.Rules.PerTxLimitCents,
			"daily_limit_cents":        p.Rules.DailyLimitCents,
			"monthly_limit_cents":      p.Rules.MonthlyLimitCents,
			"allow_categories":         p.Rules.AllowCategories,
			"deny_categories":          p.Rules.DenyCategories,
			"allow_counterparties":     p.Rules.AllowCounterparties,
			"deny_counterparties":      p.Rules.DenyCounterparties,
			"block_weekends":           p.Rules.BlockWeekends,
			"approval_threshold_cents": p.Rules.ApprovalThresholdCents,
			"approval_quorum":          p.Rules.ApprovalQuorum,
			"allow_failover":           p.Rules.AllowFailover,
		},
		"ceilings": map[string]any{
			"per_tx_cents":  p.Ceilings.PerTxCents,
			"daily_cents":   p.Ceilings.DailyCents,
			"monthly_cents": p.Ceilings.MonthlyCents,
		},
	}
}

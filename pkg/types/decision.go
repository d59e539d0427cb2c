package types

type Outcome string

const (
	OutcomeApproved        Outcome = "approved"
	OutcomeDenied          Outcome = "denied"
	OutcomePendingApproval Outcome = "pending_approval"
)

// Decision is the single terminal verdict for an intent. Exactly one exists
// per intent and it is never revised after execution starts.
type Decision struct {
	DecisionID       string   `json:"decision_id"`
	IntentID         string   `json:"intent_id"`
	Outcome          Outcome  `json:"outcome"`
	Reason           string   `json:"reason,omitempty"`
	ReasonCodes      []string `json:"reason_codes,omitempty"`
	PolicyHash       string   `json:"policy_hash"`
	RequiresApproval bool     `json:"requires_approval"`
	Quorum           int      `json:"quorum,omitempty"`
	CreatedAt        string   `json:"created_at"`
}

type ExecutionStatus string

const (
	ExecutionSettled ExecutionStatus = "settled"
	ExecutionFailed  ExecutionStatus = "failed"
	ExecutionDenied  ExecutionStatus = "denied"
)

// ExecutionOutcome is the recorded result of routing an approved intent.
type ExecutionOutcome struct {
	IdemKey     string          `json:"idem_key"`
	Status      ExecutionStatus `json:"status"`
	Rail        string          `json:"rail,omitempty"`
	ProviderRef string          `json:"provider_ref,omitempty"`
	Error       string          `json:"error,omitempty"`
	SettledAt   string          `json:"settled_at,omitempty"`
}

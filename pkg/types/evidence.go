package types

// ApprovalTrailItem is one reviewer verdict inside an evidence bundle.
type ApprovalTrailItem struct {
	ApprovalID string `json:"approval_id"`
	Reviewer   string `json:"reviewer"`
	Verdict    string `json:"verdict"`
	At         string `json:"at"`
}

// ChainTail anchors a bundle to a position in the audit chain. Recomputing
// the chain up to Seq must reproduce Hash.
type ChainTail struct {
	Shard string `json:"shard"`
	Seq   int64  `json:"seq"`
	Hash  string `json:"hash"`
}

// EvidenceBundle is an independently verifiable export of one decision: the
// decision itself, the policy snapshot hash it used, the approval trail, and
// a chain-tail digest. Verification needs only the bundle and the service
// public key.
type EvidenceBundle struct {
	Schema      string              `json:"schema"`
	DecisionID  string              `json:"decision_id"`
	IntentID    string              `json:"intent_id"`
	Decision    Decision            `json:"decision"`
	PolicyHash  string              `json:"policy_hash"`
	Approvals   []ApprovalTrailItem `json:"approvals"`
	Execution   *ExecutionOutcome   `json:"execution,omitempty"`
	ChainTail   ChainTail           `json:"chain_tail"`
	GeneratedAt string              `json:"generated_at"`

	BundleDigest string `json:"bundle_digest"`
	KeyID        string `json:"key_id"`
	Sig          []byte `json:"sig"`
}

package ledger

// Store persists pipeline records plus the hash-chained audit entries. All
// implementations must make ReserveIdempotencyKey and AppendEntry atomic;
// they are the two operations concurrent submitters race on.
type Store interface {
	PutPolicyVersion(rec PolicyVersionRecord) error
	GetPolicyVersion(policyHash string) (PolicyVersionRecord, bool)
	SetActivePolicy(policyHash string) error
	GetActivePolicy() (PolicyVersionRecord, bool)

	PutIntent(rec IntentRecord) error
	GetIntent(intentID string) (IntentRecord, bool)

	PutDecision(rec DecisionRecord) error
	GetDecision(decisionID string) (DecisionRecord, bool)
	GetDecisionByIntent(intentID string) (DecisionRecord, bool)

	PutApproval(rec ApprovalRecord) error
	GetApproval(approvalID string) (ApprovalRecord, bool)
	ListApprovalsByIntent(intentID string) ([]ApprovalRecord, error)
	ListPendingApprovals() ([]ApprovalRecord, error)

	PutOutbox(rec OutboxRecord) error
	GetOutbox(notificationID string) (OutboxRecord, bool)
	ListOutboxDue(now string, limit int) ([]OutboxRecord, error)

	PutAttempt(rec AttemptRecord) error
	ListAttempts(idemKey string) ([]AttemptRecord, error)

	// ReserveIdempotencyKey inserts rec only when the key is absent. When
	// the key exists the stored record is returned and reserved is false.
	ReserveIdempotencyKey(rec IdempotencyRecord) (existing IdempotencyRecord, reserved bool, err error)
	UpdateIdempotencyKey(rec IdempotencyRecord) error
	GetIdempotencyKey(idemKey string) (IdempotencyRecord, bool)
	GetIdempotencyByIntent(intentID string) (IdempotencyRecord, bool)

	PutTrust(rec TrustRecord) error
	GetTrust(fromAgent, toAgent string) (TrustRecord, bool)

	// AppendEntry persists a chain entry, enforcing that seq and prev_hash
	// extend the shard tail. A mismatch returns ErrChainConflict.
	AppendEntry(e Entry) error
	LastEntry(shard string) (Entry, bool, error)
	ListEntries(shard string, fromSeq int64, limit int) ([]Entry, error)
	ListEntriesByKind(shard, kind string, fromSeq int64, limit int) ([]Entry, error)
}

type PolicyVersionRecord struct {
	PolicyHash string
	PolicyID   string
	Version    int
	Statement  string
	BodyJSON   []byte
	CreatedAt  string
}

type IntentRecord struct {
	IntentID  string
	AgentID   string
	ClientKey string
	Status    string
	BodyJSON  []byte
	CreatedAt string
}

type DecisionRecord struct {
	DecisionID string
	IntentID   string
	PolicyHash string
	Outcome    string
	BodyJSON   []byte
	CreatedAt  string
}

type ApprovalRecord struct {
	ApprovalID   string
	IntentID     string
	DecisionID   string
	Quorum       int
	Status       string
	VerdictsJSON []byte
	CreatedAt    string
	UpdatedAt    string
	ExpiresAt    string
}

type OutboxRecord struct {
	NotificationID string
	ApprovalID     string
	RoutingKey     string
	MessageJSON    []byte
	Status         string // pending | sent
	AttemptCount   int
	NextAttemptAt  string
	LastError      *string
	SentAt         *string
	CreatedAt      string
	UpdatedAt      string
}

type AttemptRecord struct {
	AttemptID string
	IdemKey   string
	Rail      string
	Attempt   int
	Status    string
	Ref       string
	LastError *string
	CreatedAt string
}

type IdempotencyRecord struct {
	IdemKey     string
	IntentID    string
	DecisionID  string
	Status      string // executing | settled | failed | denied
	OutcomeJSON []byte
	CreatedAt   string
	UpdatedAt   string
}

type TrustRecord struct {
	FromAgent  string
	ToAgent    string
	Status     string
	ApprovalID *string
	CreatedAt  string
	UpdatedAt  string
}

// Entry is one link of the tamper-evident chain. Hash covers the previous
// entry's hash and this entry's canonical payload, so mutating any byte
// invalidates every later hash.
type Entry struct {
	Shard     string
	Seq       int64
	PrevHash  string
	Hash      string
	Kind      string
	Payload   []byte
	CreatedAt string
}

const (
	IdemExecuting = "executing"
	IdemSettled   = "settled"
	IdemFailed    = "failed"
	IdemDenied    = "denied"
)

package types

type CounterpartyKind string

const (
	CounterpartyMerchant CounterpartyKind = "merchant"
	CounterpartyAgent    CounterpartyKind = "agent"
)

// TransactionIntent is the caller-submitted request to move money. It is
// immutable once accepted; every downstream stage reads it, none mutate it.
type TransactionIntent struct {
	IntentID         string           `json:"intent_id"`
	AgentID          string           `json:"agent_id"`
	Counterparty     string           `json:"counterparty"`
	CounterpartyKind CounterpartyKind `json:"counterparty_kind"`
	AmountCents      int64            `json:"amount_cents"`
	Currency         string           `json:"currency"`
	Category         string           `json:"category"`
	Memo             string           `json:"memo,omitempty"`
	ClientKey        string           `json:"client_key,omitempty"`
	CreatedAt        string           `json:"created_at"`
}

package approval

import (
	"encoding/json"

	"github.com/outlay-dev/outlay/internal/ledger"
)

// Save persists a request. Verdicts are stored as JSON so the quorum history
// survives restarts and lands in evidence bundles.
func Save(store ledger.Store, r Request) error {
	verdicts, err := json.Marshal(r.Verdicts)
	if err != nil {
		return err
	}
	if r.Verdicts == nil {
		verdicts = []byte(`[]`)
	}
	return store.PutApproval(ledger.ApprovalRecord{
		ApprovalID:   r.ApprovalID,
		IntentID:     r.IntentID,
		DecisionID:   r.DecisionID,
		Quorum:       r.Quorum,
		Status:       string(r.Status),
		VerdictsJSON: verdicts,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
		ExpiresAt:    r.ExpiresAt,
	})
}

func Load(store ledger.Store, approvalID string) (Request, bool, error) {
	rec, ok := store.GetApproval(approvalID)
	if !ok {
		return Request{}, false, nil
	}
	r, err := fromRecord(rec)
	return r, true, err
}

func fromRecord(rec ledger.ApprovalRecord) (Request, error) {
	r := Request{
		ApprovalID: rec.ApprovalID,
		IntentID:   rec.IntentID,
		DecisionID: rec.DecisionID,
		Quorum:     rec.Quorum,
		Status:     Status(rec.Status),
		CreatedAt:  rec.CreatedAt,
		UpdatedAt:  rec.UpdatedAt,
		ExpiresAt:  rec.ExpiresAt,
	}
	if len(rec.VerdictsJSON) > 0 {
		if err := json.Unmarshal(rec.VerdictsJSON, &r.Verdicts); err != nil {
			return Request{}, err
		}
	}
	return r, nil
}

package ledger

import (
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/outlay-dev/outlay/internal/crypto"
	"github.com/outlay-dev/outlay/pkg/types"
)

const BundleSchema = "outlay.evidence.v1"

// Signer signs evidence bundles. The gateway's custody-independent service
// key implements this; the custody collaborator is not in this path.
type Signer interface {
	KeyID() string
	SignEd25519(digest []byte) ([]byte, error)
}

var (
	ErrBundleDigestMismatch = errors.New("bundle digest mismatch")
	ErrBundleSignature      = errors.New("bundle signature invalid")
	ErrDecisionNotFound     = errors.New("decision not found")
)

// BuildBundle exports one decision as an independently verifiable bundle:
// the decision, its policy snapshot hash, the approval trail, the recorded
// execution outcome, and the chain tail anchoring it all.
func BuildBundle(store Store, shard, decisionID string, signer Signer, generatedAt string) (types.EvidenceBundle, error) {
	decRec, ok := store.GetDecision(decisionID)
	if !ok {
		return types.EvidenceBundle{}, fmt.Errorf("decision %s: %w", decisionID, ErrDecisionNotFound)
	}

	var decision types.Decision
	if err := json.Unmarshal(decRec.BodyJSON, &decision); err != nil {
		return types.EvidenceBundle{}, fmt.Errorf("decode decision %s: %w", decisionID, err)
	}

	approvals, err := store.ListApprovalsByIntent(decRec.IntentID)
	if err != nil {
		return types.EvidenceBundle{}, err
	}
	trail := []types.ApprovalTrailItem{}
	for _, a := range approvals {
		var verdicts []struct {
			Reviewer string `json:"reviewer"`
			Approve  bool   `json:"approve"`
			At       string `json:"at"`
		}
		if len(a.VerdictsJSON) > 0 {
			if err := json.Unmarshal(a.VerdictsJSON, &verdicts); err != nil {
				return types.EvidenceBundle{}, fmt.Errorf("decode approval %s: %w", a.ApprovalID, err)
			}
		}
		for _, v := range verdicts {
			verdict := "rejected"
			if v.Approve {
				verdict = "approved"
			}
			trail = append(trail, types.ApprovalTrailItem{
				ApprovalID: a.ApprovalID,
				Reviewer:   v.Reviewer,
				Verdict:    verdict,
				At:         v.At,
			})
		}
	}

	var execution *types.ExecutionOutcome
	if idem, ok := store.GetIdempotencyByIntent(decRec.IntentID); ok && len(idem.OutcomeJSON) > 0 {
		var outcome types.ExecutionOutcome
		if err := json.Unmarshal(idem.OutcomeJSON, &outcome); err != nil {
			return types.EvidenceBundle{}, fmt.Errorf("decode outcome for %s: %w", idem.IdemKey, err)
		}
		execution = &outcome
	}

	tail, _, err := store.LastEntry(shard)
	if err != nil {
		return types.EvidenceBundle{}, err
	}

	bundle := types.EvidenceBundle{
		Schema:      BundleSchema,
		DecisionID:  decisionID,
		IntentID:    decRec.IntentID,
		Decision:    decision,
		PolicyHash:  decRec.PolicyHash,
		Approvals:   trail,
		Execution:   execution,
		ChainTail:   types.ChainTail{Shard: shard, Seq: tail.Seq, Hash: tail.Hash},
		GeneratedAt: generatedAt,
	}

	canonical, err := crypto.Canonicalize(bundleView(bundle))
	if err != nil {
		return types.EvidenceBundle{}, err
	}
	bundle.BundleDigest = crypto.DigestWithPrefix(canonical)

	sig, err := signer.SignEd25519(crypto.DigestBytes(canonical))
	if err != nil {
		return types.EvidenceBundle{}, err
	}
	bundle.KeyID = signer.KeyID()
	bundle.Sig = sig
	return bundle, nil
}

// VerifyBundle checks a bundle's digest and signature offline. Chain-tail
// verification against a live store is separate; the bundle alone proves the
// decision content and approval trail.
func VerifyBundle(bundle types.EvidenceBundle, publicKey ed25519.PublicKey) error {
	canonical, err := crypto.Canonicalize(bundleView(bundle))
	if err != nil {
		return err
	}
	if crypto.DigestWithPrefix(canonical) != bundle.BundleDigest {
		return ErrBundleDigestMismatch
	}
	ok, err := crypto.VerifyEd25519(publicKey, crypto.DigestBytes(canonical), bundle.Sig)
	if err != nil {
		return err
	}
	if !ok {
		return ErrBundleSignature
	}
	return nil
}

func bundleView(b types.EvidenceBundle) map[string]any {
	approvals := make([]any, 0, len(b.Approvals))
	for _, a := range b.Approvals {
		approvals = append(approvals, map[string]any{
			"approval_id": a.ApprovalID,
			"reviewer":    a.Reviewer,
			"verdict":     a.Verdict,
			"at":          a.At,
		})
	}

	view := map[string]any{
		"schema":       b.Schema,
		"decision_id":  b.DecisionID,
		"intent_id":    b.IntentID,
		"policy_hash":  b.PolicyHash,
		"generated_at": b.GeneratedAt,
		"decision": map[string]any{
			"decision_id":       b.Decision.DecisionID,
			"intent_id":         b.Decision.IntentID,
			"outcome":           string(b.Decision.Outcome),
			"reason":            b.Decision.Reason,
			"reason_codes":      b.Decision.ReasonCodes,
			"policy_hash":       b.Decision.PolicyHash,
			"requires_approval": b.Decision.RequiresApproval,
			"quorum":            b.Decision.Quorum,
			"created_at":        b.Decision.CreatedAt,
		},
		"approvals": approvals,
		"chain_tail": map[string]any{
			"shard": b.ChainTail.Shard,
			"seq":   b.ChainTail.Seq,
			"hash":  b.ChainTail.Hash,
		},
	}

	if b.Execution != nil {
		view["execution"] = map[string]any{
			"idem_key":     b.Execution.IdemKey,
			"status":       string(b.Execution.Status),
			"rail":         b.Execution.Rail,
			"provider_ref": b.Execution.ProviderRef,
			"error":        b.Execution.Error,
			"settled_at":   b.Execution.SettledAt,
		}
	}
	return view
}

// Package router executes approved intents against payment rails. It owns
// the only mutation with external side effects in the whole pipeline, so the
// idempotency reservation here is what guarantees at-most-once execution.
package router

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/outlay-dev/outlay/internal/crypto"
	"github.com/outlay-dev/outlay/internal/custody"
	"github.com/outlay-dev/outlay/internal/fault"
	"github.com/outlay-dev/outlay/internal/ledger"
	"github.com/outlay-dev/outlay/internal/rail"
	"github.com/outlay-dev/outlay/pkg/types"
)

// IdemKey derives the idempotency key for one intent under one policy
// snapshot. Same intent, same policy, same key; a policy change produces a
// fresh key and therefore a fresh execution.
func IdemKey(intentID, policyHash string) string {
	return crypto.DigestWithPrefix([]byte(intentID + "\x00" + policyHash))
}

type Router struct {
	Store  ledger.Store
	Writer *ledger.Writer
	Signer custody.Signer
	Rails  []rail.Rail

	// MaxAttempts bounds transient retries per rail.
	MaxAttempts int
	BaseBackoff time.Duration
	Logger      *slog.Logger

	Now   func() time.Time
	Sleep func(time.Duration)
}

func New(store ledger.Store, writer *ledger.Writer, signer custody.Signer, rails []rail.Rail, logger *slog.Logger) *Router {
	return &Router{
		Store:       store,
		Writer:      writer,
		Signer:      signer,
		Rails:       rails,
		MaxAttempts: 3,
		BaseBackoff: 250 * time.Millisecond,
		Logger:      logger,
		Now:         time.Now,
		Sleep:       time.Sleep,
	}
}

// Execute settles an approved intent. Exactly one concurrent caller per
// idempotency key reaches a rail; the rest observe the winner's outcome.
// replayed reports that the returned outcome was recorded by an earlier
// (or concurrent) execution.
func (r *Router) Execute(ctx context.Context, intent types.TransactionIntent, decision types.Decision, allowFailover bool) (outcome types.ExecutionOutcome, replayed bool, err error) {
	idemKey := IdemKey(intent.IntentID, decision.PolicyHash)
	nowStr := r.Now().UTC().Format(time.RFC3339)

	existing, reserved, err := r.Store.ReserveIdempotencyKey(ledger.IdempotencyRecord{
		IdemKey:    idemKey,
		IntentID:   intent.IntentID,
		DecisionID: decision.DecisionID,
		Status:     ledger.IdemExecuting,
		CreatedAt:  nowStr,
		UpdatedAt:  nowStr,
	})
	if err != nil {
		return types.ExecutionOutcome{}, false, err
	}
	if !reserved {
		existing, err = r.awaitOutcome(ctx, idemKey, existing)
		if err != nil {
			return types.ExecutionOutcome{}, true, err
		}
		var recorded types.ExecutionOutcome
		if err := json.Unmarshal(existing.OutcomeJSON, &recorded); err != nil {
			return types.ExecutionOutcome{}, true, fmt.Errorf("decode recorded outcome for %s: %w", idemKey, err)
		}
		return recorded, true, nil
	}

	outcome, err = r.run(ctx, idemKey, intent, decision, allowFailover)
	if recordErr := r.recordOutcome(idemKey, outcome); recordErr != nil && err == nil {
		err = recordErr
	}
	return outcome, false, err
}

// maxOutcomeWaits bounds how long a losing duplicate polls for the winner's
// recorded outcome before giving up.
const maxOutcomeWaits = 200

// awaitOutcome polls an in-flight idempotency record until the winner
// records its outcome. A concurrent duplicate must observe the identical
// recorded outcome, not a transient in-progress error.
func (r *Router) awaitOutcome(ctx context.Context, idemKey string, rec ledger.IdempotencyRecord) (ledger.IdempotencyRecord, error) {
	for wait := 0; rec.Status == ledger.IdemExecuting; wait++ {
		if wait >= maxOutcomeWaits {
			return rec, fault.New(fault.CodeReplayDetected, "execution already in progress")
		}
		if err := ctx.Err(); err != nil {
			return rec, err
		}
		r.Sleep(r.BaseBackoff / 10)
		cur, ok := r.Store.GetIdempotencyKey(idemKey)
		if !ok {
			return rec, fmt.Errorf("idempotency record %s vanished", idemKey)
		}
		rec = cur
	}
	return rec, nil
}

func (r *Router) run(ctx context.Context, idemKey string, intent types.TransactionIntent, decision types.Decision, allowFailover bool) (types.ExecutionOutcome, error) {
	signed, err := r.signOrder(ctx, idemKey, intent)
	if err != nil {
		return types.ExecutionOutcome{
			IdemKey: idemKey,
			Status:  types.ExecutionFailed,
			Error:   "custody signing unavailable",
		}, fault.Wrap(fault.CodeProviderUnavailable, "custody signing unavailable", err)
	}

	req := rail.Request{
		IdemKey:       idemKey,
		IntentID:      intent.IntentID,
		AmountCents:   intent.AmountCents,
		Currency:      intent.Currency,
		Counterparty:  intent.Counterparty,
		KeyID:         r.Signer.KeyID(),
		SignedPayload: signed,
	}

	rails := r.Rails
	if !allowFailover && len(rails) > 1 {
		rails = rails[:1]
	}

	attemptNo := 0
	var lastErr error
	for _, target := range rails {
		for try := 1; try <= r.MaxAttempts; try++ {
			if err := ctx.Err(); err != nil {
				return types.ExecutionOutcome{IdemKey: idemKey, Status: types.ExecutionFailed, Error: "cancelled"}, err
			}
			attemptNo++

			conf, railErr := r.attempt(ctx, target, req)
			r.recordAttempt(idemKey, target.Name(), attemptNo, conf, railErr)

			if railErr == nil {
				out := types.ExecutionOutcome{
					IdemKey:     idemKey,
					Status:      types.ExecutionSettled,
					Rail:        target.Name(),
					ProviderRef: conf.ProviderRef,
					SettledAt:   conf.SettledAt,
				}
				r.append("execution", map[string]any{
					"idem_key":     idemKey,
					"intent_id":    intent.IntentID,
					"decision_id":  decision.DecisionID,
					"rail":         target.Name(),
					"provider_ref": conf.ProviderRef,
					"status":       string(types.ExecutionSettled),
					"attempts":     attemptNo,
				})
				return out, nil
			}

			lastErr = railErr
			if rail.IsDecline(railErr) {
				// A decline is final on this rail; move on if the policy
				// permits multi-rail.
				break
			}
			if try < r.MaxAttempts {
				r.Sleep(r.BaseBackoff << (try - 1))
			}
		}
	}

	out := types.ExecutionOutcome{
		IdemKey: idemKey,
		Status:  types.ExecutionFailed,
		Error:   "all rails exhausted",
	}
	r.append("execution", map[string]any{
		"idem_key":    idemKey,
		"intent_id":   intent.IntentID,
		"decision_id": decision.DecisionID,
		"status":      string(types.ExecutionFailed),
		"attempts":    attemptNo,
	})
	return out, fault.Wrap(fault.CodeProviderUnavailable, "no rail could settle the intent", lastErr)
}

type attemptResult struct {
	ProviderRef string
	SettledAt   string
}

func (r *Router) attempt(ctx context.Context, target rail.Rail, req rail.Request) (attemptResult, error) {
	auth, err := target.Authorize(ctx, req)
	if err != nil {
		return attemptResult{}, err
	}
	exec, err := target.Execute(ctx, req, auth)
	if err != nil {
		return attemptResult{}, err
	}
	conf, err := target.Confirm(ctx, req, exec)
	if err != nil {
		// Funds may have moved; best effort unwind before the retry.
		if refundErr := target.Refund(ctx, req, exec); refundErr != nil && r.Logger != nil {
			r.Logger.Warn("refund after failed confirm", "rail", target.Name(), "idem_key", req.IdemKey, "error", refundErr)
		}
		return attemptResult{}, err
	}
	if !conf.Settled {
		return attemptResult{}, fmt.Errorf("%s: confirmation pending", target.Name())
	}
	return attemptResult{ProviderRef: exec.ProviderRef, SettledAt: conf.SettledAt}, nil
}

func (r *Router) signOrder(ctx context.Context, idemKey string, intent types.TransactionIntent) ([]byte, error) {
	order, err := crypto.Canonicalize(map[string]any{
		"idem_key":     idemKey,
		"intent_id":    intent.IntentID,
		"amount_cents": intent.AmountCents,
		"currency":     intent.Currency,
		"counterparty": intent.Counterparty,
	})
	if err != nil {
		return nil, err
	}
	return r.Signer.Sign(ctx, order)
}

func (r *Router) recordAttempt(idemKey, railName string, attemptNo int, res attemptResult, railErr error) {
	rec := ledger.AttemptRecord{
		AttemptID: "att-" + uuid.NewString(),
		IdemKey:   idemKey,
		Rail:      railName,
		Attempt:   attemptNo,
		Status:    "settled",
		Ref:       res.ProviderRef,
		CreatedAt: r.Now().UTC().Format(time.RFC3339),
	}
	if railErr != nil {
		rec.Status = "failed"
		msg := railErr.Error()
		rec.LastError = &msg
	}
	if err := r.Store.PutAttempt(rec); err != nil && r.Logger != nil {
		r.Logger.Error("record attempt", "idem_key", idemKey, "error", err)
	}
}

func (r *Router) recordOutcome(idemKey string, outcome types.ExecutionOutcome) error {
	body, err := json.Marshal(outcome)
	if err != nil {
		return err
	}
	rec, ok := r.Store.GetIdempotencyKey(idemKey)
	if !ok {
		return fmt.Errorf("idempotency record %s vanished", idemKey)
	}
	rec.Status = string(outcome.Status)
	rec.OutcomeJSON = body
	rec.UpdatedAt = r.Now().UTC().Format(time.RFC3339)
	return r.Store.UpdateIdempotencyKey(rec)
}

func (r *Router) append(kind string, payload map[string]any) {
	if _, err := r.Writer.Append(kind, payload); err != nil && r.Logger != nil {
		r.Logger.Error("ledger append", "kind", kind, "error", err)
	}
}

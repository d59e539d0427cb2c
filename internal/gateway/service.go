// Package gateway wires the decision pipeline behind the HTTP surface. Every
// intent passes the same fixed stages: rate limit, compliance screen, policy
// evaluation, approval orchestration, custody gate, spend reservation, and
// finally rail execution. Each stage leaves a ledger entry before the next
// one runs.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/outlay-dev/outlay/internal/approval"
	"github.com/outlay-dev/outlay/internal/compliance"
	"github.com/outlay-dev/outlay/internal/counters"
	"github.com/outlay-dev/outlay/internal/custody"
	"github.com/outlay-dev/outlay/internal/fault"
	"github.com/outlay-dev/outlay/internal/ledger"
	"github.com/outlay-dev/outlay/internal/policy"
	"github.com/outlay-dev/outlay/internal/ratelimit"
	"github.com/outlay-dev/outlay/internal/router"
	"github.com/outlay-dev/outlay/internal/trust"
	"github.com/outlay-dev/outlay/internal/webhook"
	"github.com/outlay-dev/outlay/pkg/types"
)

var ErrNotFound = errors.New("not found")

type Service struct {
	Store    ledger.Store
	Writer   *ledger.Writer
	Shard    string
	Compiler *policy.Compiler
	Limiter  *ratelimit.Limiter
	Gate     *compliance.Gate
	Counters counters.Store
	Trust    *trust.Graph
	Custody  *custody.Monitor
	Router   *router.Router
	Evidence ledger.Signer
	Cursor   ledger.CursorCodec

	ApprovalTTL   time.Duration
	DefaultQuorum int
	Reviewers     []string

	Logger *slog.Logger
	Now    func() time.Time
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Service) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// SubmitResult is the terminal state of one submission. Exactly one of the
// three shapes applies: a denial carries only the decision, a flagged intent
// carries a pending approval, and an approved intent carries the execution
// outcome.
type SubmitResult struct {
	Decision  types.Decision          `json:"decision"`
	Approval  *approval.Request       `json:"approval,omitempty"`
	Execution *types.ExecutionOutcome `json:"execution,omitempty"`
	Replayed  bool                    `json:"replayed,omitempty"`
}

// SubmitIntent runs the full pipeline for one transaction intent.
func (s *Service) SubmitIntent(ctx context.Context, intent types.TransactionIntent) (SubmitResult, error) {
	if err := validateIntent(&intent); err != nil {
		return SubmitResult{}, err
	}

	now := s.now().UTC()
	if intent.IntentID == "" {
		intent.IntentID = "int-" + uuid.NewString()
	} else if res, decided, err := s.replayIntent(intent.IntentID); err != nil {
		return SubmitResult{}, err
	} else if decided {
		// An intent gets exactly one decision. Resubmission replays the
		// recorded terminal state without re-entering the pipeline.
		return res, recordedOutcomeErr(res)
	}
	if intent.CreatedAt == "" {
		intent.CreatedAt = now.Format(time.RFC3339)
	}

	if s.Limiter != nil {
		if d := s.Limiter.Allow(ctx, intent.AgentID); !d.Allowed {
			s.append("rate_limited", map[string]any{
				"intent_id": intent.IntentID,
				"agent_id":  intent.AgentID,
			})
			return SubmitResult{}, fault.RateLimited(d.RetryAfter)
		}
	}

	body, err := json.Marshal(intent)
	if err != nil {
		return SubmitResult{}, err
	}
	if err := s.Store.PutIntent(ledger.IntentRecord{
		IntentID:  intent.IntentID,
		AgentID:   intent.AgentID,
		ClientKey: intent.ClientKey,
		Status:    "received",
		BodyJSON:  body,
		CreatedAt: now.Format(time.RFC3339),
	}); err != nil {
		return SubmitResult{}, err
	}
	s.append("received", map[string]any{
		"intent_id":    intent.IntentID,
		"agent_id":     intent.AgentID,
		"counterparty": intent.Counterparty,
		"amount_cents": intent.AmountCents,
		"currency":     intent.Currency,
	})

	if s.Gate != nil {
		if err := s.Gate.Screen(ctx, intent.AgentID, intent.Counterparty); err != nil {
			decision, derr := s.recordDecision(intent, deniedVerdict(err), now)
			if derr != nil {
				return SubmitResult{}, derr
			}
			s.reserveDenied(intent, decision, "compliance check failed", now)
			return SubmitResult{Decision: decision}, err
		}
	}

	active, ok := s.Store.GetActivePolicy()
	if !ok {
		err := fault.New(fault.CodePolicyViolation, "no active policy")
		decision, derr := s.recordDecision(intent, deniedVerdict(err), now)
		if derr != nil {
			return SubmitResult{}, derr
		}
		s.reserveDenied(intent, decision, "no active policy", now)
		return SubmitResult{Decision: decision}, err
	}
	var pol policy.Policy
	if err := json.Unmarshal(active.BodyJSON, &pol); err != nil {
		return SubmitResult{}, fmt.Errorf("active policy corrupt: %w", err)
	}

	dayCents, monthCents, err := counters.Usage(ctx, s.Counters, intent.AgentID, now)
	if err != nil {
		return SubmitResult{}, fmt.Errorf("read spend counters: %w", err)
	}

	var trustStatus policy.TrustStatus
	if intent.CounterpartyKind == types.CounterpartyAgent && s.Trust != nil {
		trustStatus = s.Trust.Lookup(intent.AgentID, intent.Counterparty)
	}

	verdict := policy.Evaluate(pol, active.PolicyHash, policy.Input{
		Intent: intent,
		Usage:  policy.Usage{DailyCents: dayCents, MonthlyCents: monthCents},
		Trust:  trustStatus,
	})

	decision, err := s.recordDecision(intent, verdict, now)
	if err != nil {
		return SubmitResult{}, err
	}

	switch verdict.Outcome {
	case types.OutcomeDenied:
		s.reserveDenied(intent, decision, verdict.Reason, now)
		return SubmitResult{Decision: decision}, fault.New(fault.CodePolicyViolation, verdict.Reason)

	case types.OutcomePendingApproval:
		req, err := s.openApproval(intent, decision, verdict.Quorum, now)
		if err != nil {
			return SubmitResult{}, err
		}
		return SubmitResult{Decision: decision, Approval: &req}, nil

	default:
		outcome, replayed, err := s.execute(ctx, intent, decision, pol)
		if err != nil {
			return SubmitResult{Decision: decision, Execution: outcome, Replayed: replayed}, err
		}
		return SubmitResult{Decision: decision, Execution: outcome, Replayed: replayed}, nil
	}
}

// ResolveApproval records a reviewer verdict. When the verdict completes the
// quorum the held intent executes immediately on the reviewer's request.
func (s *Service) ResolveApproval(ctx context.Context, approvalID, reviewer string, approve bool) (SubmitResult, error) {
	if len(s.Reviewers) > 0 && !containsString(s.Reviewers, reviewer) {
		return SubmitResult{}, fault.New(fault.CodeInsufficientApprovals, "reviewer not authorized")
	}

	req, ok, err := approval.Load(s.Store, approvalID)
	if err != nil {
		return SubmitResult{}, err
	}
	if !ok {
		return SubmitResult{}, ErrNotFound
	}

	now := s.now().UTC()
	submitErr := req.Submit(reviewer, approve, now)

	// Expiry discovered during submission still needs persisting.
	if err := approval.Save(s.Store, req); err != nil {
		return SubmitResult{}, err
	}
	s.append("approval_verdict", map[string]any{
		"approval_id": req.ApprovalID,
		"intent_id":   req.IntentID,
		"reviewer":    reviewer,
		"approve":     approve,
		"status":      string(req.Status),
	})

	if submitErr != nil {
		return SubmitResult{Approval: &req}, submitErr
	}

	if req.Status == approval.StatusPending {
		return SubmitResult{Approval: &req}, nil
	}

	intent, decision, err := s.loadIntentDecision(req.IntentID)
	if err != nil {
		return SubmitResult{Approval: &req}, err
	}
	s.notifyResolved(req, intent.AmountCents, now)

	switch req.Status {
	case approval.StatusApproved:
		pol, _, perr := s.policyByHash(decision.PolicyHash)
		if perr != nil {
			return SubmitResult{Approval: &req, Decision: decision}, perr
		}
		outcome, replayed, err := s.execute(ctx, intent, decision, pol)
		return SubmitResult{Approval: &req, Decision: decision, Execution: outcome, Replayed: replayed}, err

	default:
		reason := "approval rejected"
		if req.Status == approval.StatusExpired {
			reason = "approval expired"
		}
		s.reserveDenied(intent, decision, reason, now)
		return SubmitResult{Approval: &req, Decision: decision},
			fault.New(fault.CodeInsufficientApprovals, reason)
	}
}

// ExpireApprovals sweeps pending approvals past their deadline. The sweep is
// idempotent; an already-expired record is skipped.
func (s *Service) ExpireApprovals(ctx context.Context) (int, error) {
	pending, err := s.Store.ListPendingApprovals()
	if err != nil {
		return 0, err
	}

	now := s.now().UTC()
	expired := 0
	for _, rec := range pending {
		if err := ctx.Err(); err != nil {
			return expired, err
		}
		req, ok, err := approval.Load(s.Store, rec.ApprovalID)
		if err != nil || !ok {
			continue
		}
		if !req.ExpireIfDue(now) {
			continue
		}
		if err := approval.Save(s.Store, req); err != nil {
			return expired, err
		}
		s.append("approval_verdict", map[string]any{
			"approval_id": req.ApprovalID,
			"intent_id":   req.IntentID,
			"status":      string(req.Status),
		})
		if intent, decision, err := s.loadIntentDecision(req.IntentID); err == nil {
			s.notifyResolved(req, intent.AmountCents, now)
			s.reserveDenied(intent, decision, "approval expired", now)
		}
		expired++
	}
	return expired, nil
}

// PublishPolicy compiles a statement and atomically activates the resulting
// version. A rejected compile leaves the active policy untouched.
func (s *Service) PublishPolicy(policyID, statement string, override *policy.Override) (policy.CompileResult, error) {
	var prior *policy.Policy
	if active, ok := s.Store.GetActivePolicy(); ok {
		var p policy.Policy
		if err := json.Unmarshal(active.BodyJSON, &p); err == nil && p.PolicyID == policyID {
			prior = &p
		}
	}

	now := s.now().UTC().Format(time.RFC3339)
	res, err := s.Compiler.Compile(policyID, statement, prior, override, now)
	if err != nil {
		return policy.CompileResult{}, err
	}

	body, err := json.Marshal(res.Policy)
	if err != nil {
		return policy.CompileResult{}, err
	}
	if err := s.Store.PutPolicyVersion(ledger.PolicyVersionRecord{
		PolicyHash: res.Snapshot.Hash,
		PolicyID:   res.Policy.PolicyID,
		Version:    res.Policy.Version,
		Statement:  statement,
		BodyJSON:   body,
		CreatedAt:  now,
	}); err != nil {
		return policy.CompileResult{}, err
	}
	if err := s.Store.SetActivePolicy(res.Snapshot.Hash); err != nil {
		return policy.CompileResult{}, err
	}

	if err := s.appendStrict("policy_published", map[string]any{
		"policy_hash": res.Snapshot.Hash,
		"policy_id":   res.Policy.PolicyID,
		"version":     res.Policy.Version,
	}); err != nil {
		return policy.CompileResult{}, err
	}
	return res, nil
}

// ActivePolicy returns the currently enforced policy and its snapshot hash.
func (s *Service) ActivePolicy() (policy.Policy, string, bool, error) {
	rec, ok := s.Store.GetActivePolicy()
	if !ok {
		return policy.Policy{}, "", false, nil
	}
	var p policy.Policy
	if err := json.Unmarshal(rec.BodyJSON, &p); err != nil {
		return policy.Policy{}, "", false, err
	}
	return p, rec.PolicyHash, true, nil
}

// IntentStatus is the caller-visible state of a submitted intent.
type IntentStatus struct {
	Intent    types.TransactionIntent `json:"intent"`
	Decision  *types.Decision         `json:"decision,omitempty"`
	Approval  *approval.Request       `json:"approval,omitempty"`
	Execution *types.ExecutionOutcome `json:"execution,omitempty"`
}

func (s *Service) GetIntent(intentID string) (IntentStatus, error) {
	rec, ok := s.Store.GetIntent(intentID)
	if !ok {
		return IntentStatus{}, ErrNotFound
	}
	var status IntentStatus
	if err := json.Unmarshal(rec.BodyJSON, &status.Intent); err != nil {
		return IntentStatus{}, err
	}

	if drec, ok := s.Store.GetDecisionByIntent(intentID); ok {
		var d types.Decision
		if err := json.Unmarshal(drec.BodyJSON, &d); err == nil {
			status.Decision = &d
		}
	}
	if approvals, err := s.Store.ListApprovalsByIntent(intentID); err == nil && len(approvals) > 0 {
		if req, ok, err := approval.Load(s.Store, approvals[len(approvals)-1].ApprovalID); err == nil && ok {
			status.Approval = &req
		}
	}
	if idem, ok := s.Store.GetIdempotencyByIntent(intentID); ok && len(idem.OutcomeJSON) > 0 {
		var outcome types.ExecutionOutcome
		if err := json.Unmarshal(idem.OutcomeJSON, &outcome); err == nil {
			status.Execution = &outcome
		}
	}
	return status, nil
}

func (s *Service) GetApproval(approvalID string) (approval.Request, error) {
	req, ok, err := approval.Load(s.Store, approvalID)
	if err != nil {
		return approval.Request{}, err
	}
	if !ok {
		return approval.Request{}, ErrNotFound
	}
	return req, nil
}

// EvidenceFor exports the signed bundle for a decision.
func (s *Service) EvidenceFor(decisionID string) (types.EvidenceBundle, error) {
	bundle, err := ledger.BuildBundle(s.Store, s.Shard, decisionID, s.Evidence, s.now().UTC().Format(time.RFC3339))
	if err != nil {
		if errors.Is(err, ledger.ErrDecisionNotFound) {
			return types.EvidenceBundle{}, ErrNotFound
		}
		return types.EvidenceBundle{}, err
	}
	return bundle, nil
}

func (s *Service) EvidencePage(caller, cursor string, limit int) (ledger.EvidencePage, error) {
	return ledger.ListEvidencePage(s.Store, s.Shard, s.Cursor, caller, cursor, limit)
}

// VerifyChain re-walks the audit shard and reports its length and tail hash.
func (s *Service) VerifyChain() (int64, string, error) {
	return ledger.VerifyShard(s.Store, s.Shard)
}

// RecordRailEvent ledgers a verified provider webhook.
func (s *Service) RecordRailEvent(railName string, ev webhook.Event) {
	s.append("rail_event", map[string]any{
		"rail":         railName,
		"event_id":     ev.EventID,
		"kind":         ev.Kind,
		"idem_key":     ev.IdemKey,
		"provider_ref": ev.ProviderRef,
		"occurred_at":  ev.OccurredAt,
	})
}

// replayIntent reconstructs the recorded state of a previously submitted
// intent. decided is false when the intent never reached a decision; only
// then may the pipeline run it again.
func (s *Service) replayIntent(intentID string) (SubmitResult, bool, error) {
	status, err := s.GetIntent(intentID)
	if errors.Is(err, ErrNotFound) {
		return SubmitResult{}, false, nil
	}
	if err != nil {
		return SubmitResult{}, false, err
	}
	if status.Decision == nil {
		return SubmitResult{}, false, nil
	}
	return SubmitResult{
		Decision:  *status.Decision,
		Approval:  status.Approval,
		Execution: status.Execution,
		Replayed:  true,
	}, true, nil
}

// recordedOutcomeErr maps a replayed terminal state back to the error the
// original submission returned, so a resubmission and the first submission
// are indistinguishable to the caller.
func recordedOutcomeErr(res SubmitResult) error {
	if res.Decision.Outcome == types.OutcomeDenied {
		return recordedDenial(res.Decision)
	}
	if res.Approval != nil {
		switch res.Approval.Status {
		case approval.StatusRejected:
			return fault.New(fault.CodeInsufficientApprovals, "approval rejected")
		case approval.StatusExpired:
			return fault.New(fault.CodeInsufficientApprovals, "approval expired")
		}
	}
	if res.Execution != nil && res.Execution.Status == types.ExecutionDenied {
		return fault.New(fault.CodePolicyViolation, res.Execution.Error)
	}
	return nil
}

// recordedDenial rebuilds the fault a denied decision carried when first
// recorded. Reason codes outside the fault taxonomy collapse to a policy
// violation.
func recordedDenial(d types.Decision) error {
	code := fault.CodePolicyViolation
	if len(d.ReasonCodes) > 0 {
		switch c := fault.Code(d.ReasonCodes[0]); c {
		case fault.CodeComplianceFailure, fault.CodeInsufficientApprovals,
			fault.CodeContainment, fault.CodeInvalidIntent:
			code = c
		}
	}
	return fault.New(code, d.Reason)
}

func (s *Service) execute(ctx context.Context, intent types.TransactionIntent, decision types.Decision, pol policy.Policy) (*types.ExecutionOutcome, bool, error) {
	highRisk := decision.RequiresApproval || intent.CounterpartyKind == types.CounterpartyAgent
	if s.Custody != nil {
		if err := s.Custody.Gate(highRisk); err != nil {
			s.append("custody_hold", map[string]any{
				"intent_id": intent.IntentID,
				"mode":      string(s.Custody.Mode()),
			})
			return nil, false, err
		}
	}

	// The ceilings are the binding rolling limits: the compiler folds the
	// policy's own limits and the system hard ceilings into them. Enforcing
	// them inside the reservation CAS closes the window where two concurrent
	// intents both pass evaluation against the pre-reservation total.
	now := s.now().UTC()
	limits := counters.Limits{
		DailyCents:   pol.Ceilings.DailyCents,
		MonthlyCents: pol.Ceilings.MonthlyCents,
	}
	if err := counters.Reserve(ctx, s.Counters, intent.AgentID, now, intent.AmountCents, limits); err != nil {
		var werr *counters.WindowError
		if errors.As(err, &werr) {
			s.reserveDenied(intent, decision, werr.Error(), now)
			return nil, false, fault.New(fault.CodePolicyViolation, werr.Error())
		}
		return nil, false, fmt.Errorf("reserve spend: %w", err)
	}

	outcome, replayed, err := s.Router.Execute(ctx, intent, decision, pol.Rules.AllowFailover)
	if replayed || outcome.Status != types.ExecutionSettled {
		// Replays were counted by the original execution; failures never
		// consumed budget.
		counters.Release(ctx, s.Counters, intent.AgentID, now, intent.AmountCents)
	}
	if err != nil {
		return &outcome, replayed, err
	}
	return &outcome, replayed, nil
}

func (s *Service) recordDecision(intent types.TransactionIntent, verdict policy.Verdict, now time.Time) (types.Decision, error) {
	decision := types.Decision{
		DecisionID:       "dec-" + uuid.NewString(),
		IntentID:         intent.IntentID,
		Outcome:          verdict.Outcome,
		Reason:           verdict.Reason,
		ReasonCodes:      verdict.ReasonCodes,
		PolicyHash:       verdict.PolicyHash,
		RequiresApproval: verdict.RequiresApproval,
		Quorum:           verdict.Quorum,
		CreatedAt:        now.Format(time.RFC3339),
	}

	body, err := json.Marshal(decision)
	if err != nil {
		return types.Decision{}, err
	}
	if err := s.Store.PutDecision(ledger.DecisionRecord{
		DecisionID: decision.DecisionID,
		IntentID:   decision.IntentID,
		PolicyHash: decision.PolicyHash,
		Outcome:    string(decision.Outcome),
		BodyJSON:   body,
		CreatedAt:  decision.CreatedAt,
	}); err != nil {
		return types.Decision{}, err
	}

	if err := s.appendStrict("decision", map[string]any{
		"decision_id": decision.DecisionID,
		"intent_id":   decision.IntentID,
		"outcome":     string(decision.Outcome),
		"policy_hash": decision.PolicyHash,
	}); err != nil {
		return types.Decision{}, err
	}
	return decision, nil
}

func (s *Service) openApproval(intent types.TransactionIntent, decision types.Decision, quorum int, now time.Time) (approval.Request, error) {
	if quorum < 1 {
		quorum = s.DefaultQuorum
	}
	ttl := s.ApprovalTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	req := approval.NewRequest(intent.IntentID, decision.DecisionID, quorum, now, ttl)
	if err := approval.Save(s.Store, req); err != nil {
		return approval.Request{}, err
	}
	if err := approval.Enqueue(s.Store, approval.RoutingKeyRequested, approval.Notification{
		ApprovalID:  req.ApprovalID,
		IntentID:    req.IntentID,
		DecisionID:  req.DecisionID,
		Quorum:      req.Quorum,
		Status:      string(req.Status),
		AmountCents: intent.AmountCents,
		ExpiresAt:   req.ExpiresAt,
	}, now); err != nil {
		return approval.Request{}, err
	}
	s.append("approval_requested", map[string]any{
		"approval_id": req.ApprovalID,
		"intent_id":   req.IntentID,
		"quorum":      req.Quorum,
		"expires_at":  req.ExpiresAt,
	})
	return req, nil
}

func (s *Service) notifyResolved(req approval.Request, amountCents int64, now time.Time) {
	if err := approval.Enqueue(s.Store, approval.RoutingKeyResolved, approval.Notification{
		ApprovalID:  req.ApprovalID,
		IntentID:    req.IntentID,
		DecisionID:  req.DecisionID,
		Quorum:      req.Quorum,
		Status:      string(req.Status),
		AmountCents: amountCents,
	}, now); err != nil {
		s.logger().Error("enqueue resolution notice", "approval_id", req.ApprovalID, "error", err)
	}
}

// reserveDenied claims the intent's idempotency key with a denied outcome so
// a duplicate submission replays the denial instead of re-entering the
// pipeline.
func (s *Service) reserveDenied(intent types.TransactionIntent, decision types.Decision, reason string, now time.Time) {
	idemKey := router.IdemKey(intent.IntentID, decision.PolicyHash)
	outcome := types.ExecutionOutcome{
		IdemKey: idemKey,
		Status:  types.ExecutionDenied,
		Error:   reason,
	}
	body, err := json.Marshal(outcome)
	if err != nil {
		return
	}
	nowStr := now.Format(time.RFC3339)
	rec := ledger.IdempotencyRecord{
		IdemKey:     idemKey,
		IntentID:    intent.IntentID,
		DecisionID:  decision.DecisionID,
		Status:      ledger.IdemDenied,
		OutcomeJSON: body,
		CreatedAt:   nowStr,
		UpdatedAt:   nowStr,
	}
	if _, _, err := s.Store.ReserveIdempotencyKey(rec); err != nil {
		s.logger().Error("reserve denied idempotency key", "intent_id", intent.IntentID, "error", err)
	}
}

func (s *Service) loadIntentDecision(intentID string) (types.TransactionIntent, types.Decision, error) {
	rec, ok := s.Store.GetIntent(intentID)
	if !ok {
		return types.TransactionIntent{}, types.Decision{}, ErrNotFound
	}
	var intent types.TransactionIntent
	if err := json.Unmarshal(rec.BodyJSON, &intent); err != nil {
		return types.TransactionIntent{}, types.Decision{}, err
	}

	drec, ok := s.Store.GetDecisionByIntent(intentID)
	if !ok {
		return types.TransactionIntent{}, types.Decision{}, ErrNotFound
	}
	var decision types.Decision
	if err := json.Unmarshal(drec.BodyJSON, &decision); err != nil {
		return types.TransactionIntent{}, types.Decision{}, err
	}
	return intent, decision, nil
}

func (s *Service) policyByHash(policyHash string) (policy.Policy, string, error) {
	rec, ok := s.Store.GetPolicyVersion(policyHash)
	if !ok {
		return policy.Policy{}, "", fault.New(fault.CodePolicyViolation, "decision policy no longer available")
	}
	var p policy.Policy
	if err := json.Unmarshal(rec.BodyJSON, &p); err != nil {
		return policy.Policy{}, "", err
	}
	return p, rec.PolicyHash, nil
}

func (s *Service) append(kind string, payload map[string]any) {
	if s.Writer == nil {
		return
	}
	if _, err := s.Writer.Append(kind, payload); err != nil {
		s.logger().Error("ledger append failed", "kind", kind, "error", err)
	}
}

// appendStrict is for entries the pipeline must not proceed without.
func (s *Service) appendStrict(kind string, payload map[string]any) error {
	if s.Writer == nil {
		return nil
	}
	if _, err := s.Writer.Append(kind, payload); err != nil {
		return err
	}
	return nil
}

func validateIntent(intent *types.TransactionIntent) error {
	if intent.AgentID == "" {
		return fault.New(fault.CodeInvalidIntent, "missing agent_id")
	}
	if intent.Counterparty == "" {
		return fault.New(fault.CodeInvalidIntent, "missing counterparty")
	}
	if intent.AmountCents <= 0 {
		return fault.New(fault.CodeInvalidIntent, "amount must be positive")
	}
	if intent.Currency == "" {
		return fault.New(fault.CodeInvalidIntent, "missing currency")
	}
	switch intent.CounterpartyKind {
	case "":
		intent.CounterpartyKind = types.CounterpartyMerchant
	case types.CounterpartyMerchant, types.CounterpartyAgent:
	default:
		return fault.New(fault.CodeInvalidIntent, "unknown counterparty kind")
	}
	return nil
}

func deniedVerdict(err error) policy.Verdict {
	v := policy.Verdict{Outcome: types.OutcomeDenied, Reason: "request denied"}
	if f, ok := fault.From(err); ok {
		v.Reason = f.Public()
		v.ReasonCodes = []string{string(f.Code)}
	}
	return v
}

func containsString(list []string, value string) bool {
	for _, item := range list {
		if item == value {
			return true
		}
	}
	return false
}

package gateway

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/outlay-dev/outlay/internal/approval"
	"github.com/outlay-dev/outlay/internal/compliance"
	"github.com/outlay-dev/outlay/internal/counters"
	"github.com/outlay-dev/outlay/internal/crypto"
	"github.com/outlay-dev/outlay/internal/custody"
	"github.com/outlay-dev/outlay/internal/fault"
	"github.com/outlay-dev/outlay/internal/ledger"
	"github.com/outlay-dev/outlay/internal/policy"
	"github.com/outlay-dev/outlay/internal/rail"
	"github.com/outlay-dev/outlay/internal/ratelimit"
	"github.com/outlay-dev/outlay/internal/router"
	"github.com/outlay-dev/outlay/internal/trust"
	"github.com/outlay-dev/outlay/pkg/types"
)

const testStatement = "max $500 per tx; require approval above $300; require 2 approvals; allow failover"

type clock struct {
	t time.Time
}

func (c *clock) now() time.Time { return c.t }

type bundleSigner struct {
	id   string
	priv ed25519.PrivateKey
}

func (s *bundleSigner) KeyID() string { return s.id }

func (s *bundleSigner) SignEd25519(digest []byte) ([]byte, error) {
	return crypto.SignEd25519(s.priv, digest)
}

func evidenceKeys(t *testing.T) (*bundleSigner, ed25519.PublicKey) {
	t.Helper()
	priv, pub, err := crypto.KeyPairFromSeed(bytes.Repeat([]byte{5}, 32))
	if err != nil {
		t.Fatalf("keypair: %v", err)
	}
	return &bundleSigner{id: "evidence-test", priv: priv}, pub
}

func newTestService(t *testing.T) (*Service, *rail.Stub, *clock) {
	t.Helper()

	store := ledger.NewMemoryStore()
	writer, err := ledger.NewWriter(store, "main")
	if err != nil {
		t.Fatalf("writer: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clk := &clock{t: time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)}

	priv, _, err := crypto.KeyPairFromSeed(bytes.Repeat([]byte{3}, 32))
	if err != nil {
		t.Fatalf("keypair: %v", err)
	}

	stub := rail.NewStub("card")
	rt := router.New(store, writer, &custody.KeySigner{ID: "custody-test", PrivateKey: priv}, []rail.Rail{stub}, logger)
	rt.Sleep = func(time.Duration) {}
	rt.Now = clk.now

	signer, _ := evidenceKeys(t)

	svc := &Service{
		Store:  store,
		Writer: writer,
		Shard:  "main",
		Compiler: &policy.Compiler{SystemCeilings: policy.Ceilings{
			PerTxCents:   1_000_000,
			DailyCents:   5_000_000,
			MonthlyCents: 20_000_000,
		}},
		Limiter:       ratelimit.New(100, time.Minute, nil, logger),
		Gate:          &compliance.Gate{},
		Counters:      counters.NewMemoryStore(),
		Trust:         &trust.Graph{Store: store, Writer: writer, Now: clk.now},
		Custody:       custody.NewMonitor(nil),
		Router:        rt,
		Evidence:      signer,
		Cursor:        ledger.CursorCodec{Secret: []byte("cursor-secret")},
		ApprovalTTL:   time.Hour,
		DefaultQuorum: 2,
		Reviewers:     []string{"cfo", "ciso"},
		Logger:        logger,
		Now:           clk.now,
	}
	return svc, stub, clk
}

func publishTestPolicy(t *testing.T, svc *Service) string {
	t.Helper()
	res, err := svc.PublishPolicy("pol-1", testStatement, nil)
	if err != nil {
		t.Fatalf("publish policy: %v", err)
	}
	return res.Snapshot.Hash
}

func testIntent(amountCents int64) types.TransactionIntent {
	return types.TransactionIntent{
		AgentID:      "agent-1",
		Counterparty: "acme-saas",
		AmountCents:  amountCents,
		Currency:     "USD",
		Category:     "software",
	}
}

func TestSubmitApprovedIntentSettles(t *testing.T) {
	svc, stub, clk := newTestService(t)
	hash := publishTestPolicy(t, svc)

	res, err := svc.SubmitIntent(context.Background(), testIntent(10_000))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.Decision.Outcome != types.OutcomeApproved || res.Decision.PolicyHash != hash {
		t.Fatalf("decision = %+v", res.Decision)
	}
	if res.Execution == nil || res.Execution.Status != types.ExecutionSettled || res.Execution.Rail != "card" {
		t.Fatalf("execution = %+v", res.Execution)
	}
	if stub.CallCount("execute") != 1 {
		t.Fatalf("execute calls = %d", stub.CallCount("execute"))
	}

	day, month, err := counters.Usage(context.Background(), svc.Counters, "agent-1", clk.t)
	if err != nil || day != 10_000 || month != 10_000 {
		t.Fatalf("usage = day %d month %d err %v", day, month, err)
	}

	status, err := svc.GetIntent(res.Decision.IntentID)
	if err != nil {
		t.Fatalf("get intent: %v", err)
	}
	if status.Execution == nil || status.Execution.Status != types.ExecutionSettled {
		t.Fatalf("intent status = %+v", status)
	}
}

func TestSubmitDeniedByPolicy(t *testing.T) {
	svc, stub, clk := newTestService(t)
	publishTestPolicy(t, svc)

	res, err := svc.SubmitIntent(context.Background(), testIntent(60_000))
	if code, _ := fault.CodeOf(err); code != fault.CodePolicyViolation {
		t.Fatalf("expected POLICY_VIOLATION, got %v", err)
	}
	if res.Decision.Outcome != types.OutcomeDenied {
		t.Fatalf("decision = %+v", res.Decision)
	}
	if stub.CallCount("execute") != 0 {
		t.Fatal("denied intent reached a rail")
	}

	day, _, _ := counters.Usage(context.Background(), svc.Counters, "agent-1", clk.t)
	if day != 0 {
		t.Fatalf("denied intent consumed budget: %d", day)
	}

	// The denial is replayable: intent status carries a denied execution
	// outcome.
	status, err := svc.GetIntent(res.Decision.IntentID)
	if err != nil {
		t.Fatalf("get intent: %v", err)
	}
	if status.Execution == nil || status.Execution.Status != types.ExecutionDenied {
		t.Fatalf("status execution = %+v", status.Execution)
	}
}

func TestApprovalQuorumFlow(t *testing.T) {
	svc, stub, _ := newTestService(t)
	publishTestPolicy(t, svc)

	res, err := svc.SubmitIntent(context.Background(), testIntent(35_000))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.Approval == nil || res.Approval.Status != approval.StatusPending || res.Approval.Quorum != 2 {
		t.Fatalf("approval = %+v", res.Approval)
	}
	if stub.CallCount("execute") != 0 {
		t.Fatal("flagged intent executed before quorum")
	}

	// Requested notification staged for reviewers.
	due, err := svc.Store.ListOutboxDue("2026-09-01T10:00:01Z", 10)
	if err != nil || len(due) != 1 || due[0].RoutingKey != approval.RoutingKeyRequested {
		t.Fatalf("outbox = %+v err %v", due, err)
	}

	first, err := svc.ResolveApproval(context.Background(), res.Approval.ApprovalID, "cfo", true)
	if err != nil {
		t.Fatalf("first verdict: %v", err)
	}
	if first.Approval.Status != approval.StatusPending {
		t.Fatalf("status after one verdict = %s", first.Approval.Status)
	}

	// Same reviewer cannot vote twice.
	if _, err := svc.ResolveApproval(context.Background(), res.Approval.ApprovalID, "cfo", true); !errors.Is(err, approval.ErrDuplicateVerdict) {
		t.Fatalf("duplicate verdict error = %v", err)
	}

	second, err := svc.ResolveApproval(context.Background(), res.Approval.ApprovalID, "ciso", true)
	if err != nil {
		t.Fatalf("second verdict: %v", err)
	}
	if second.Approval.Status != approval.StatusApproved {
		t.Fatalf("status = %s", second.Approval.Status)
	}
	if second.Execution == nil || second.Execution.Status != types.ExecutionSettled {
		t.Fatalf("execution = %+v", second.Execution)
	}
	if stub.CallCount("execute") != 1 {
		t.Fatalf("execute calls = %d", stub.CallCount("execute"))
	}
}

func TestApprovalRejectionBlocksExecution(t *testing.T) {
	svc, stub, _ := newTestService(t)
	publishTestPolicy(t, svc)

	res, err := svc.SubmitIntent(context.Background(), testIntent(35_000))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	out, err := svc.ResolveApproval(context.Background(), res.Approval.ApprovalID, "cfo", false)
	if code, _ := fault.CodeOf(err); code != fault.CodeInsufficientApprovals {
		t.Fatalf("expected INSUFFICIENT_APPROVALS, got %v", err)
	}
	if out.Approval.Status != approval.StatusRejected {
		t.Fatalf("status = %s", out.Approval.Status)
	}
	if stub.CallCount("authorize") != 0 {
		t.Fatal("rejected intent reached a rail")
	}

	// Later approvals cannot resurrect a rejected request.
	if _, err := svc.ResolveApproval(context.Background(), res.Approval.ApprovalID, "ciso", true); !errors.Is(err, approval.ErrTerminal) {
		t.Fatalf("terminal error = %v", err)
	}
}

func TestUnknownReviewerRejected(t *testing.T) {
	svc, _, _ := newTestService(t)
	publishTestPolicy(t, svc)

	res, err := svc.SubmitIntent(context.Background(), testIntent(35_000))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	_, err = svc.ResolveApproval(context.Background(), res.Approval.ApprovalID, "mallory", true)
	if code, _ := fault.CodeOf(err); code != fault.CodeInsufficientApprovals {
		t.Fatalf("expected INSUFFICIENT_APPROVALS, got %v", err)
	}
}

func TestApprovalExpirySweep(t *testing.T) {
	svc, stub, clk := newTestService(t)
	publishTestPolicy(t, svc)

	res, err := svc.SubmitIntent(context.Background(), testIntent(35_000))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	clk.t = clk.t.Add(2 * time.Hour)
	expired, err := svc.ExpireApprovals(context.Background())
	if err != nil || expired != 1 {
		t.Fatalf("expired = %d err %v", expired, err)
	}

	req, err := svc.GetApproval(res.Approval.ApprovalID)
	if err != nil || req.Status != approval.StatusExpired {
		t.Fatalf("approval = %+v err %v", req, err)
	}
	if stub.CallCount("execute") != 0 {
		t.Fatal("expired approval executed")
	}
}

type failingChecker struct{}

func (failingChecker) Name() string { return "sanctions" }

func (failingChecker) Check(ctx context.Context, subject string) (compliance.Result, error) {
	return compliance.ResultFail, nil
}

func TestComplianceDenialIsRedacted(t *testing.T) {
	svc, stub, _ := newTestService(t)
	publishTestPolicy(t, svc)
	svc.Gate = &compliance.Gate{Checkers: []compliance.Checker{failingChecker{}}}

	res, err := svc.SubmitIntent(context.Background(), testIntent(10_000))
	f, ok := fault.From(err)
	if !ok || f.Code != fault.CodeComplianceFailure {
		t.Fatalf("expected COMPLIANCE_FAILURE, got %v", err)
	}
	if f.Public() != "compliance check failed" {
		t.Fatalf("public message leaks detail: %q", f.Public())
	}
	if res.Decision.Outcome != types.OutcomeDenied {
		t.Fatalf("decision = %+v", res.Decision)
	}
	if stub.CallCount("authorize") != 0 {
		t.Fatal("screened intent reached a rail")
	}
}

func TestRateLimitDenies(t *testing.T) {
	svc, _, _ := newTestService(t)
	publishTestPolicy(t, svc)
	svc.Limiter = ratelimit.New(1, time.Minute, nil, svc.Logger)

	if _, err := svc.SubmitIntent(context.Background(), testIntent(10_000)); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	_, err := svc.SubmitIntent(context.Background(), testIntent(10_000))
	f, ok := fault.From(err)
	if !ok || f.Code != fault.CodeRateLimited {
		t.Fatalf("expected RATE_LIMITED, got %v", err)
	}
	if f.RetryAfter <= 0 {
		t.Fatalf("missing retry-after hint: %+v", f)
	}
}

func TestContainmentBlocksExecution(t *testing.T) {
	svc, stub, clk := newTestService(t)
	publishTestPolicy(t, svc)
	svc.Custody.Pin(custody.ModeContainment)

	_, err := svc.SubmitIntent(context.Background(), testIntent(10_000))
	if code, _ := fault.CodeOf(err); code != fault.CodeContainment {
		t.Fatalf("expected CONTAINMENT, got %v", err)
	}
	if stub.CallCount("authorize") != 0 {
		t.Fatal("containment let an execution through")
	}
	day, _, _ := counters.Usage(context.Background(), svc.Counters, "agent-1", clk.t)
	if day != 0 {
		t.Fatalf("contained intent consumed budget: %d", day)
	}

	svc.Custody.Unpin()
	if _, err := svc.SubmitIntent(context.Background(), testIntent(10_000)); err != nil {
		t.Fatalf("submit after unpin: %v", err)
	}
}

func TestDegradedModeBlocksOnlyHighRisk(t *testing.T) {
	svc, _, _ := newTestService(t)
	publishTestPolicy(t, svc)
	svc.Custody.Pin(custody.ModeDegraded)

	// Routine merchant spend still flows.
	if _, err := svc.SubmitIntent(context.Background(), testIntent(10_000)); err != nil {
		t.Fatalf("low-risk submit: %v", err)
	}

	// Agent-to-agent transfers are high-risk and held.
	if _, err := svc.Trust.Set("agent-1", "agent-2", trust.StatusTrusted, nil); err != nil {
		t.Fatalf("trust set: %v", err)
	}
	intent := testIntent(10_000)
	intent.Counterparty = "agent-2"
	intent.CounterpartyKind = types.CounterpartyAgent
	_, err := svc.SubmitIntent(context.Background(), intent)
	if code, _ := fault.CodeOf(err); code != fault.CodeContainment {
		t.Fatalf("expected high-risk hold, got %v", err)
	}
}

func TestUntrustedAgentCounterpartyDenied(t *testing.T) {
	svc, _, _ := newTestService(t)
	publishTestPolicy(t, svc)

	intent := testIntent(10_000)
	intent.Counterparty = "agent-2"
	intent.CounterpartyKind = types.CounterpartyAgent

	res, err := svc.SubmitIntent(context.Background(), intent)
	if code, _ := fault.CodeOf(err); code != fault.CodePolicyViolation {
		t.Fatalf("expected POLICY_VIOLATION, got %v", err)
	}
	if res.Decision.Outcome != types.OutcomeDenied {
		t.Fatalf("decision = %+v", res.Decision)
	}

	if _, err := svc.Trust.Set("agent-1", "agent-2", trust.StatusTrusted, nil); err != nil {
		t.Fatalf("trust set: %v", err)
	}
	intent.IntentID = ""
	if _, err := svc.SubmitIntent(context.Background(), intent); err != nil {
		t.Fatalf("submit after trust: %v", err)
	}
}

func TestNoActivePolicyDenies(t *testing.T) {
	svc, _, _ := newTestService(t)

	res, err := svc.SubmitIntent(context.Background(), testIntent(10_000))
	if code, _ := fault.CodeOf(err); code != fault.CodePolicyViolation {
		t.Fatalf("expected POLICY_VIOLATION, got %v", err)
	}
	if res.Decision.Outcome != types.OutcomeDenied {
		t.Fatalf("decision = %+v", res.Decision)
	}
}

func TestInvalidIntentRejected(t *testing.T) {
	svc, _, _ := newTestService(t)
	publishTestPolicy(t, svc)

	cases := []types.TransactionIntent{
		{Counterparty: "acme", AmountCents: 100, Currency: "USD"},
		{AgentID: "agent-1", AmountCents: 100, Currency: "USD"},
		{AgentID: "agent-1", Counterparty: "acme", AmountCents: 0, Currency: "USD"},
		{AgentID: "agent-1", Counterparty: "acme", AmountCents: 100},
		{AgentID: "agent-1", Counterparty: "acme", AmountCents: 100, Currency: "USD", CounterpartyKind: "llc"},
	}
	for i, intent := range cases {
		_, err := svc.SubmitIntent(context.Background(), intent)
		if code, _ := fault.CodeOf(err); code != fault.CodeInvalidIntent {
			t.Fatalf("case %d: expected INVALID_INTENT, got %v", i, err)
		}
	}
}

func TestFailedExecutionReleasesBudget(t *testing.T) {
	svc, stub, clk := newTestService(t)
	publishTestPolicy(t, svc)

	railErr := errors.New("card processor down")
	stub.FailNext("execute", railErr)
	stub.FailNext("execute", railErr)
	stub.FailNext("execute", railErr)

	_, err := svc.SubmitIntent(context.Background(), testIntent(10_000))
	if code, _ := fault.CodeOf(err); code != fault.CodeProviderUnavailable {
		t.Fatalf("expected PROVIDER_UNAVAILABLE, got %v", err)
	}

	day, _, _ := counters.Usage(context.Background(), svc.Counters, "agent-1", clk.t)
	if day != 0 {
		t.Fatalf("failed execution left budget reserved: %d", day)
	}
}

func TestResubmittedIntentReplaysOutcome(t *testing.T) {
	svc, stub, clk := newTestService(t)
	if _, err := svc.PublishPolicy("pol-1", "max $500 per day", nil); err != nil {
		t.Fatalf("publish policy: %v", err)
	}

	first, err := svc.SubmitIntent(context.Background(), testIntent(30_000))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if first.Execution == nil || first.Execution.Status != types.ExecutionSettled {
		t.Fatalf("execution = %+v", first.Execution)
	}

	// Resubmitting the settled intent must replay its recorded outcome, not
	// re-evaluate it against the post-settlement counters.
	retry := testIntent(30_000)
	retry.IntentID = first.Decision.IntentID
	second, err := svc.SubmitIntent(context.Background(), retry)
	if err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if !second.Replayed {
		t.Fatal("expected a replayed result")
	}
	if second.Decision.DecisionID != first.Decision.DecisionID {
		t.Fatalf("resubmission recorded a second decision: %s vs %s",
			second.Decision.DecisionID, first.Decision.DecisionID)
	}
	if second.Execution == nil || second.Execution.ProviderRef != first.Execution.ProviderRef {
		t.Fatalf("replayed execution differs: %+v vs %+v", second.Execution, first.Execution)
	}
	if stub.CallCount("execute") != 1 {
		t.Fatalf("execute calls = %d", stub.CallCount("execute"))
	}

	day, _, _ := counters.Usage(context.Background(), svc.Counters, "agent-1", clk.t)
	if day != 30_000 {
		t.Fatalf("resubmission moved the spend counters: %d", day)
	}
	entries, err := svc.Store.ListEntriesByKind("main", "decision", 1, 10)
	if err != nil || len(entries) != 1 {
		t.Fatalf("decision entries = %d err %v", len(entries), err)
	}
}

func TestResubmittedDeniedIntentReplaysDenial(t *testing.T) {
	svc, _, _ := newTestService(t)
	publishTestPolicy(t, svc)

	first, err := svc.SubmitIntent(context.Background(), testIntent(60_000))
	if code, _ := fault.CodeOf(err); code != fault.CodePolicyViolation {
		t.Fatalf("expected POLICY_VIOLATION, got %v", err)
	}

	retry := testIntent(60_000)
	retry.IntentID = first.Decision.IntentID
	second, err := svc.SubmitIntent(context.Background(), retry)
	if code, _ := fault.CodeOf(err); code != fault.CodePolicyViolation {
		t.Fatalf("resubmit: expected POLICY_VIOLATION, got %v", err)
	}
	if !second.Replayed || second.Decision.DecisionID != first.Decision.DecisionID {
		t.Fatalf("denial not replayed: %+v", second.Decision)
	}
	entries, err := svc.Store.ListEntriesByKind("main", "decision", 1, 10)
	if err != nil || len(entries) != 1 {
		t.Fatalf("decision entries = %d err %v", len(entries), err)
	}
}

// rendezvousStore holds the first parties Get calls until all have arrived,
// so concurrent submissions read the same pre-reservation usage.
type rendezvousStore struct {
	counters.Store
	mu        sync.Mutex
	waiting   chan struct{}
	remaining int
}

func newRendezvousStore(inner counters.Store, parties int) *rendezvousStore {
	return &rendezvousStore{Store: inner, waiting: make(chan struct{}), remaining: parties}
}

func (s *rendezvousStore) Get(ctx context.Context, key string) (counters.Counter, error) {
	s.mu.Lock()
	if s.remaining > 0 {
		s.remaining--
		if s.remaining == 0 {
			close(s.waiting)
			s.mu.Unlock()
		} else {
			s.mu.Unlock()
			<-s.waiting
		}
	} else {
		s.mu.Unlock()
	}
	return s.Store.Get(ctx, key)
}

func TestConcurrentSubmissionsHonorDailyLimit(t *testing.T) {
	svc, stub, clk := newTestService(t)
	if _, err := svc.PublishPolicy("pol-1", "max $500 per day", nil); err != nil {
		t.Fatalf("publish policy: %v", err)
	}
	svc.Counters = newRendezvousStore(counters.NewMemoryStore(), 2)

	var wg sync.WaitGroup
	var mu sync.Mutex
	settled := 0
	denied := 0
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := svc.SubmitIntent(context.Background(), testIntent(30_000))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil && res.Execution != nil && res.Execution.Status == types.ExecutionSettled:
				settled++
			default:
				if code, _ := fault.CodeOf(err); code != fault.CodePolicyViolation {
					t.Errorf("expected POLICY_VIOLATION for the loser, got %v", err)
					return
				}
				denied++
			}
		}()
	}
	wg.Wait()

	if settled != 1 || denied != 1 {
		t.Fatalf("settled=%d denied=%d", settled, denied)
	}
	if stub.CallCount("execute") != 1 {
		t.Fatalf("execute calls = %d", stub.CallCount("execute"))
	}
	day, _, err := counters.Usage(context.Background(), svc.Counters, "agent-1", clk.t)
	if err != nil || day != 30_000 {
		t.Fatalf("committed day spend = %d err %v, limit was 50000", day, err)
	}
}

func TestEvidenceBundleAfterSettlement(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, pub := evidenceKeys(t)
	publishTestPolicy(t, svc)

	res, err := svc.SubmitIntent(context.Background(), testIntent(10_000))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	bundle, err := svc.EvidenceFor(res.Decision.DecisionID)
	if err != nil {
		t.Fatalf("evidence: %v", err)
	}
	if bundle.Schema != ledger.BundleSchema || bundle.Execution == nil {
		t.Fatalf("bundle = %+v", bundle)
	}
	if err := ledger.VerifyBundle(bundle, pub); err != nil {
		t.Fatalf("verify bundle: %v", err)
	}

	count, tailHash, err := svc.VerifyChain()
	if err != nil || count == 0 || tailHash == "" {
		t.Fatalf("chain verify = %d %q %v", count, tailHash, err)
	}

	if _, err := svc.EvidenceFor("dec-missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing decision error = %v", err)
	}
}

func TestEvidencePageCursorRoundTrip(t *testing.T) {
	svc, _, _ := newTestService(t)
	publishTestPolicy(t, svc)

	for i := 0; i < 3; i++ {
		if _, err := svc.SubmitIntent(context.Background(), testIntent(10_000)); err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}

	page, err := svc.EvidencePage("auditor", "", 2)
	if err != nil {
		t.Fatalf("page: %v", err)
	}
	if len(page.DecisionIDs) != 2 || page.NextCursor == "" {
		t.Fatalf("page = %+v", page)
	}

	rest, err := svc.EvidencePage("auditor", page.NextCursor, 2)
	if err != nil {
		t.Fatalf("second page: %v", err)
	}
	if len(rest.DecisionIDs) != 1 {
		t.Fatalf("second page = %+v", rest)
	}

	if _, err := svc.EvidencePage("other-caller", page.NextCursor, 2); err == nil {
		t.Fatal("cursor accepted for the wrong caller")
	}
}

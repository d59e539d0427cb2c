package gateway

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/outlay-dev/outlay/internal/custody"
	"github.com/outlay-dev/outlay/internal/webhook"
)

const (
	agentToken    = "tok-agent"
	operatorToken = "tok-operator"
	webhookSecret = "wh-secret"
)

func newTestHandler(t *testing.T) (*Handler, *Service) {
	t.Helper()
	svc, _, _ := newTestService(t)
	h := &Handler{
		Auth: &TokenAuthenticator{
			Agents:        map[string]string{agentToken: "agent-1"},
			OperatorToken: operatorToken,
		},
		Service: svc,
		Webhooks: &webhook.Receiver{
			Secrets: map[string][]byte{"card": []byte(webhookSecret)},
			Cache:   webhook.NewMemoryCache(time.Hour),
		},
	}
	return h, svc
}

func doJSON(t *testing.T, mux *http.ServeMux, method, path, token string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	decoded := map[string]any{}
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &decoded); err != nil {
			t.Fatalf("decode response %q: %v", rec.Body.String(), err)
		}
	}
	return rec, decoded
}

func TestSubmitIntentEndpoint(t *testing.T) {
	h, svc := newTestHandler(t)
	publishTestPolicy(t, svc)
	mux := NewRouter(h)

	rec, body := doJSON(t, mux, http.MethodPost, "/v1/intents", agentToken, map[string]any{
		"agent_id":     "someone-else", // overwritten by the token identity
		"counterparty": "acme-saas",
		"amount_cents": 10_000,
		"currency":     "USD",
		"category":     "software",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body %v", rec.Code, body)
	}
	decision := body["decision"].(map[string]any)
	if decision["outcome"] != "approved" {
		t.Fatalf("decision = %v", decision)
	}
	execution := body["execution"].(map[string]any)
	if execution["status"] != "settled" {
		t.Fatalf("execution = %v", execution)
	}

	intentID := decision["intent_id"].(string)
	rec, body = doJSON(t, mux, http.MethodGet, "/v1/intents/"+intentID, agentToken, nil)
	if rec.Code != http.StatusOK || body["decision"] == nil {
		t.Fatalf("status endpoint = %d %v", rec.Code, body)
	}

	status, err := svc.GetIntent(intentID)
	if err != nil || status.Intent.AgentID != "agent-1" {
		t.Fatalf("submitted agent = %+v err %v", status.Intent, err)
	}
}

func TestSubmitIntentRequiresAuth(t *testing.T) {
	h, svc := newTestHandler(t)
	publishTestPolicy(t, svc)
	mux := NewRouter(h)

	rec, _ := doJSON(t, mux, http.MethodPost, "/v1/intents", "", map[string]any{})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing token status = %d", rec.Code)
	}
	rec, _ = doJSON(t, mux, http.MethodPost, "/v1/intents", "bogus", map[string]any{})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad token status = %d", rec.Code)
	}
	rec, _ = doJSON(t, mux, http.MethodGet, "/v1/intents", agentToken, nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("method status = %d", rec.Code)
	}
}

func TestDeniedIntentEndpoint(t *testing.T) {
	h, svc := newTestHandler(t)
	publishTestPolicy(t, svc)
	mux := NewRouter(h)

	rec, body := doJSON(t, mux, http.MethodPost, "/v1/intents", agentToken, map[string]any{
		"counterparty": "acme-saas",
		"amount_cents": 60_000,
		"currency":     "USD",
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d body %v", rec.Code, body)
	}
	if body["code"] != "POLICY_VIOLATION" || body["decision"] == nil {
		t.Fatalf("body = %v", body)
	}
}

func TestApprovalEndpoints(t *testing.T) {
	h, svc := newTestHandler(t)
	publishTestPolicy(t, svc)
	mux := NewRouter(h)

	rec, body := doJSON(t, mux, http.MethodPost, "/v1/intents", agentToken, map[string]any{
		"counterparty": "acme-saas",
		"amount_cents": 35_000,
		"currency":     "USD",
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d body %v", rec.Code, body)
	}
	approvalID := body["approval"].(map[string]any)["approval_id"].(string)

	rec, body = doJSON(t, mux, http.MethodGet, "/v1/approvals/"+approvalID, agentToken, nil)
	if rec.Code != http.StatusOK || body["status"] != "pending" {
		t.Fatalf("get approval = %d %v", rec.Code, body)
	}

	verdictPath := "/v1/approvals/" + approvalID + "/verdicts"
	rec, _ = doJSON(t, mux, http.MethodPost, verdictPath, agentToken, map[string]any{"reviewer": "cfo", "approve": true})
	if rec.Code != http.StatusOK {
		t.Fatalf("first verdict status = %d", rec.Code)
	}

	rec, _ = doJSON(t, mux, http.MethodPost, verdictPath, agentToken, map[string]any{"reviewer": "cfo", "approve": true})
	if rec.Code != http.StatusConflict {
		t.Fatalf("duplicate verdict status = %d", rec.Code)
	}

	rec, body = doJSON(t, mux, http.MethodPost, verdictPath, agentToken, map[string]any{"reviewer": "ciso", "approve": true})
	if rec.Code != http.StatusOK {
		t.Fatalf("second verdict status = %d body %v", rec.Code, body)
	}
	if body["execution"].(map[string]any)["status"] != "settled" {
		t.Fatalf("execution = %v", body["execution"])
	}

	rec, _ = doJSON(t, mux, http.MethodGet, "/v1/approvals/apr-missing", agentToken, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing approval status = %d", rec.Code)
	}
}

func TestPolicyEndpoints(t *testing.T) {
	h, _ := newTestHandler(t)
	mux := NewRouter(h)

	rec, _ := doJSON(t, mux, http.MethodGet, "/v1/policy", agentToken, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("no policy status = %d", rec.Code)
	}

	rec, _ = doJSON(t, mux, http.MethodPost, "/v1/policy", agentToken, map[string]any{
		"policy_id": "pol-1", "statement": testStatement,
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("agent publish status = %d", rec.Code)
	}

	rec, body := doJSON(t, mux, http.MethodPost, "/v1/policy", operatorToken, map[string]any{
		"policy_id": "pol-1", "statement": testStatement,
	})
	if rec.Code != http.StatusCreated || body["policy_hash"] == "" {
		t.Fatalf("publish = %d %v", rec.Code, body)
	}

	rec, body = doJSON(t, mux, http.MethodPost, "/v1/policy", operatorToken, map[string]any{
		"policy_id": "pol-1", "statement": "reverse the polarity",
	})
	if rec.Code != http.StatusUnprocessableEntity || body["diagnostics"] == nil {
		t.Fatalf("rejected statement = %d %v", rec.Code, body)
	}

	rec, body = doJSON(t, mux, http.MethodGet, "/v1/policy", agentToken, nil)
	if rec.Code != http.StatusOK || body["policy_hash"] == "" {
		t.Fatalf("get policy = %d %v", rec.Code, body)
	}
}

func TestTrustEndpoints(t *testing.T) {
	h, _ := newTestHandler(t)
	mux := NewRouter(h)

	rec, _ := doJSON(t, mux, http.MethodPost, "/v1/trust", agentToken, map[string]any{
		"from_agent": "agent-1", "to_agent": "agent-2", "status": "trusted",
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("agent trust status = %d", rec.Code)
	}

	rec, _ = doJSON(t, mux, http.MethodPost, "/v1/trust", operatorToken, map[string]any{
		"from_agent": "agent-1", "to_agent": "agent-2", "status": "trusted",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("operator trust status = %d", rec.Code)
	}

	rec, body := doJSON(t, mux, http.MethodGet, "/v1/trust/agent-1/agent-2", agentToken, nil)
	if rec.Code != http.StatusOK || body["Status"] != "trusted" {
		t.Fatalf("get trust = %d %v", rec.Code, body)
	}

	rec, _ = doJSON(t, mux, http.MethodGet, "/v1/trust/agent-2/agent-1", agentToken, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("reverse edge status = %d", rec.Code)
	}
}

func TestEvidenceEndpoints(t *testing.T) {
	h, svc := newTestHandler(t)
	publishTestPolicy(t, svc)
	mux := NewRouter(h)

	rec, body := doJSON(t, mux, http.MethodPost, "/v1/intents", agentToken, map[string]any{
		"counterparty": "acme-saas",
		"amount_cents": 10_000,
		"currency":     "USD",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("submit = %d %v", rec.Code, body)
	}
	decisionID := body["decision"].(map[string]any)["decision_id"].(string)

	rec, body = doJSON(t, mux, http.MethodGet, "/v1/evidence/"+decisionID, agentToken, nil)
	if rec.Code != http.StatusOK || body["schema"] != "outlay.evidence.v1" {
		t.Fatalf("bundle = %d %v", rec.Code, body)
	}

	rec, body = doJSON(t, mux, http.MethodGet, "/v1/evidence?limit=10", agentToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list = %d %v", rec.Code, body)
	}

	rec, body = doJSON(t, mux, http.MethodGet, "/v1/ledger/verify", agentToken, nil)
	if rec.Code != http.StatusOK || body["valid"] != true {
		t.Fatalf("verify = %d %v", rec.Code, body)
	}
}

func TestRailWebhookEndpoint(t *testing.T) {
	h, svc := newTestHandler(t)
	publishTestPolicy(t, svc)
	mux := NewRouter(h)

	event := map[string]any{
		"event_id":     "evt-1",
		"kind":         "settlement",
		"provider_ref": "prov-9",
	}
	payload, _ := json.Marshal(event)
	sig := webhook.Sign([]byte(webhookSecret), payload)

	send := func(rail, sig string, body []byte) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/rail/"+rail, bytes.NewReader(body))
		req.Header.Set("X-Outlay-Signature", sig)
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		return rec
	}

	if rec := send("card", sig, payload); rec.Code != http.StatusAccepted {
		t.Fatalf("first delivery status = %d body %s", rec.Code, rec.Body.String())
	}
	if rec := send("card", sig, payload); rec.Code != http.StatusOK {
		t.Fatalf("duplicate delivery status = %d", rec.Code)
	}
	if rec := send("card", "deadbeef", payload); rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad signature status = %d", rec.Code)
	}
	if rec := send("unknown-rail", sig, payload); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown rail status = %d", rec.Code)
	}

	entries, err := svc.Store.ListEntriesByKind("main", "rail_event", 0, 10)
	if err != nil || len(entries) != 1 {
		t.Fatalf("rail_event entries = %d err %v", len(entries), err)
	}
}

func TestCustodyModeEndpoint(t *testing.T) {
	h, svc := newTestHandler(t)
	publishTestPolicy(t, svc)
	mux := NewRouter(h)

	rec, _ := doJSON(t, mux, http.MethodPost, "/v1/custody/mode", agentToken, map[string]any{"mode": "containment", "pin": true})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("agent pin status = %d", rec.Code)
	}

	rec, body := doJSON(t, mux, http.MethodPost, "/v1/custody/mode", operatorToken, map[string]any{"mode": "containment", "pin": true})
	if rec.Code != http.StatusOK || body["mode"] != "containment" {
		t.Fatalf("pin = %d %v", rec.Code, body)
	}

	rec, body = doJSON(t, mux, http.MethodPost, "/v1/intents", agentToken, map[string]any{
		"counterparty": "acme-saas",
		"amount_cents": 10_000,
		"currency":     "USD",
	})
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("contained submit = %d %v", rec.Code, body)
	}

	rec, body = doJSON(t, mux, http.MethodPost, "/v1/custody/mode", operatorToken, map[string]any{"pin": false})
	if rec.Code != http.StatusOK || body["mode"] != "active" {
		t.Fatalf("unpin = %d %v", rec.Code, body)
	}

	rec, _ = doJSON(t, mux, http.MethodPost, "/v1/custody/mode", operatorToken, map[string]any{"mode": "chaos", "pin": true})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown mode status = %d", rec.Code)
	}

	if mode := svc.Custody.Mode(); mode != custody.ModeActive {
		t.Fatalf("mode after unpin = %s", mode)
	}
}

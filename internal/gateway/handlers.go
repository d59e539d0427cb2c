package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/outlay-dev/outlay/internal/approval"
	"github.com/outlay-dev/outlay/internal/custody"
	"github.com/outlay-dev/outlay/internal/fault"
	"github.com/outlay-dev/outlay/internal/policy"
	"github.com/outlay-dev/outlay/internal/webhook"
	"github.com/outlay-dev/outlay/pkg/types"
)

type Handler struct {
	Auth     Authenticator
	Service  *Service
	Webhooks *webhook.Receiver
}

func NewRouter(h *Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/intents", h.SubmitIntent)
	mux.HandleFunc("/v1/intents/", h.IntentStatus)
	mux.HandleFunc("/v1/approvals/", h.Approvals)
	mux.HandleFunc("/v1/policy", h.Policy)
	mux.HandleFunc("/v1/trust", h.SetTrust)
	mux.HandleFunc("/v1/trust/", h.GetTrust)
	mux.HandleFunc("/v1/evidence", h.EvidenceList)
	mux.HandleFunc("/v1/evidence/", h.EvidenceBundle)
	mux.HandleFunc("/v1/ledger/verify", h.VerifyLedger)
	mux.HandleFunc("/v1/webhooks/rail/", h.RailWebhook)
	mux.HandleFunc("/v1/custody/mode", h.CustodyMode)
	mux.HandleFunc("/healthz", h.Health)
	return mux
}

func (h *Handler) SubmitIntent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	identity, ok := h.ensureAuth(w, r)
	if !ok {
		return
	}

	var intent types.TransactionIntent
	if err := json.NewDecoder(r.Body).Decode(&intent); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	// Callers act only as themselves; the operator may submit on behalf of
	// any agent.
	if !identity.Operator {
		intent.AgentID = identity.AgentID
	}

	res, err := h.Service.SubmitIntent(r.Context(), intent)
	resp := submitView(res)
	if err != nil {
		h.writeError(w, err, resp)
		return
	}
	status := http.StatusOK
	if res.Approval != nil {
		status = http.StatusAccepted
	}
	writeJSON(w, status, resp)
}

func (h *Handler) IntentStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	if _, ok := h.ensureAuth(w, r); !ok {
		return
	}

	intentID := strings.TrimPrefix(r.URL.Path, "/v1/intents/")
	if intentID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing intent_id"})
		return
	}

	status, err := h.Service.GetIntent(intentID)
	if err != nil {
		h.writeError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// Approvals serves GET /v1/approvals/{id} and POST /v1/approvals/{id}/verdicts.
func (h *Handler) Approvals(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.ensureAuth(w, r); !ok {
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/v1/approvals/")
	approvalID, tail, _ := strings.Cut(rest, "/")
	if approvalID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing approval_id"})
		return
	}

	switch {
	case r.Method == http.MethodGet && tail == "":
		req, err := h.Service.GetApproval(approvalID)
		if err != nil {
			h.writeError(w, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, req)

	case r.Method == http.MethodPost && tail == "verdicts":
		var body struct {
			Reviewer string `json:"reviewer"`
			Approve  bool   `json:"approve"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
			return
		}
		res, err := h.Service.ResolveApproval(r.Context(), approvalID, body.Reviewer, body.Approve)
		resp := submitView(res)
		if err != nil {
			h.writeError(w, err, resp)
			return
		}
		writeJSON(w, http.StatusOK, resp)

	default:
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
	}
}

func (h *Handler) Policy(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.ensureAuth(w, r)
	if !ok {
		return
	}

	switch r.Method {
	case http.MethodGet:
		p, hash, ok, err := h.Service.ActivePolicy()
		if err != nil {
			h.writeError(w, err, nil)
			return
		}
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "no active policy"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"policy": p, "policy_hash": hash})

	case http.MethodPost:
		if !identity.Operator {
			writeJSON(w, http.StatusForbidden, map[string]string{"error": "operator token required"})
			return
		}
		var body struct {
			PolicyID  string           `json:"policy_id"`
			Statement string           `json:"statement"`
			Override  *policy.Override `json:"override,omitempty"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
			return
		}
		if body.PolicyID == "" || body.Statement == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "policy_id and statement are required"})
			return
		}

		res, err := h.Service.PublishPolicy(body.PolicyID, body.Statement, body.Override)
		if err != nil {
			var compileErr *policy.CompileError
			if errors.As(err, &compileErr) {
				writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
					"error":       "policy statement rejected",
					"diagnostics": compileErr.Diagnostics,
				})
				return
			}
			h.writeError(w, err, nil)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{
			"policy":      res.Policy,
			"policy_hash": res.Snapshot.Hash,
			"clamped":     res.Clamped,
		})

	default:
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
	}
}

func (h *Handler) SetTrust(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	identity, ok := h.ensureAuth(w, r)
	if !ok {
		return
	}
	if !identity.Operator {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "operator token required"})
		return
	}

	var body struct {
		FromAgent  string  `json:"from_agent"`
		ToAgent    string  `json:"to_agent"`
		Status     string  `json:"status"`
		ApprovalID *string `json:"approval_id,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	rec, err := h.Service.Trust.Set(body.FromAgent, body.ToAgent, body.Status, body.ApprovalID)
	if err != nil {
		h.writeError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) GetTrust(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	if _, ok := h.ensureAuth(w, r); !ok {
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/v1/trust/")
	fromAgent, toAgent, _ := strings.Cut(rest, "/")
	if fromAgent == "" || toAgent == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing agent pair"})
		return
	}

	rec, ok := h.Service.Trust.Get(fromAgent, toAgent)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "trust edge not found"})
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) EvidenceBundle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	if _, ok := h.ensureAuth(w, r); !ok {
		return
	}

	decisionID := strings.TrimPrefix(r.URL.Path, "/v1/evidence/")
	if decisionID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing decision_id"})
		return
	}

	bundle, err := h.Service.EvidenceFor(decisionID)
	if err != nil {
		h.writeError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, bundle)
}

// EvidenceList pages decision IDs from the ledger. The cursor is bound to the
// calling identity; a cursor minted for one caller fails for another.
func (h *Handler) EvidenceList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	identity, ok := h.ensureAuth(w, r)
	if !ok {
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid limit"})
			return
		}
		limit = parsed
	}

	page, err := h.Service.EvidencePage(identity.AgentID, r.URL.Query().Get("cursor"), limit)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *Handler) VerifyLedger(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	if _, ok := h.ensureAuth(w, r); !ok {
		return
	}

	count, tailHash, err := h.Service.VerifyChain()
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"valid": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"valid": true, "entries": count, "tail_hash": tailHash})
}

// RailWebhook ingests provider notifications. Authentication is the per-rail
// HMAC signature, not a bearer token.
func (h *Handler) RailWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	if h.Webhooks == nil {
		writeJSON(w, http.StatusNotImplemented, map[string]string{"error": "webhooks not configured"})
		return
	}

	railName := strings.TrimPrefix(r.URL.Path, "/v1/webhooks/rail/")
	if railName == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing rail"})
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unreadable body"})
		return
	}

	ev, duplicate, err := h.Webhooks.Accept(r.Context(), railName, body, r.Header.Get("X-Outlay-Signature"))
	switch {
	case errors.Is(err, webhook.ErrUnknownRail):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown rail"})
		return
	case errors.Is(err, webhook.ErrBadSignature):
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid signature"})
		return
	case err != nil:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	if duplicate {
		writeJSON(w, http.StatusOK, map[string]any{"event_id": ev.EventID, "duplicate": true})
		return
	}
	h.Service.RecordRailEvent(railName, ev)
	writeJSON(w, http.StatusAccepted, map[string]any{"event_id": ev.EventID})
}

// CustodyMode lets an operator pin the custody mode during incident response
// or release a pin.
func (h *Handler) CustodyMode(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.ensureAuth(w, r)
	if !ok {
		return
	}
	if !identity.Operator {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "operator token required"})
		return
	}

	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]string{"mode": string(h.Service.Custody.Mode())})

	case http.MethodPost:
		var body struct {
			Mode string `json:"mode"`
			Pin  bool   `json:"pin"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
			return
		}
		if !body.Pin {
			h.Service.Custody.Unpin()
			writeJSON(w, http.StatusOK, map[string]string{"mode": string(h.Service.Custody.Mode())})
			return
		}
		mode := custody.Mode(body.Mode)
		switch mode {
		case custody.ModeActive, custody.ModeDegraded, custody.ModeContainment:
		default:
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown mode"})
			return
		}
		h.Service.Custody.Pin(mode)
		writeJSON(w, http.StatusOK, map[string]string{"mode": string(mode)})

	default:
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
	}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) ensureAuth(w http.ResponseWriter, r *http.Request) (Identity, bool) {
	identity, err := h.Auth.Authenticate(r)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": err.Error()})
		return Identity{}, false
	}
	return identity, true
}

func (h *Handler) writeError(w http.ResponseWriter, err error, resp map[string]any) {
	if resp == nil {
		resp = map[string]any{}
	}

	if errors.Is(err, ErrNotFound) {
		resp["error"] = "not found"
		writeJSON(w, http.StatusNotFound, resp)
		return
	}
	switch {
	case errors.Is(err, approval.ErrDuplicateVerdict):
		resp["error"] = "reviewer already voted"
		writeJSON(w, http.StatusConflict, resp)
		return
	case errors.Is(err, approval.ErrTerminal):
		resp["error"] = "approval request is terminal"
		writeJSON(w, http.StatusConflict, resp)
		return
	case errors.Is(err, approval.ErrExpired):
		resp["error"] = "approval request expired"
		writeJSON(w, http.StatusGone, resp)
		return
	}

	if f, ok := fault.From(err); ok {
		resp["error"] = f.Public()
		resp["code"] = string(f.Code)
		if f.RetryAfter > 0 {
			w.Header().Set("Retry-After", fmt.Sprintf("%d", int(f.RetryAfter.Seconds())+1))
		}
		writeJSON(w, statusForCode(f.Code), resp)
		return
	}

	resp["error"] = "internal error"
	writeJSON(w, http.StatusInternalServerError, resp)
}

func statusForCode(code fault.Code) int {
	switch code {
	case fault.CodeInvalidIntent:
		return http.StatusBadRequest
	case fault.CodeRateLimited:
		return http.StatusTooManyRequests
	case fault.CodePolicyViolation, fault.CodeComplianceFailure, fault.CodeInsufficientApprovals:
		return http.StatusForbidden
	case fault.CodeReplayDetected:
		return http.StatusConflict
	case fault.CodeContainment:
		return http.StatusServiceUnavailable
	case fault.CodeProviderUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func submitView(res SubmitResult) map[string]any {
	resp := map[string]any{}
	if res.Decision.DecisionID != "" {
		resp["decision"] = res.Decision
	}
	if res.Approval != nil {
		resp["approval"] = res.Approval
	}
	if res.Execution != nil {
		resp["execution"] = res.Execution
	}
	if res.Replayed {
		resp["replayed"] = true
	}
	return resp
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(payload)
}

package rail

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPRail talks to a provider's REST API. Card and treasury rails are both
// instances of this adapter with different base URLs and SLAs.
type HTTPRail struct {
	RailName string
	BaseURL  string
	Token    string
	Client   *http.Client
}

func NewHTTPRail(name, baseURL, token string, sla time.Duration) *HTTPRail {
	if sla <= 0 {
		sla = 10 * time.Second
	}
	return &HTTPRail{
		RailName: name,
		BaseURL:  baseURL,
		Token:    token,
		Client:   &http.Client{Timeout: sla},
	}
}

func (r *HTTPRail) Name() string { return r.RailName }

type wireRequest struct {
	IdemKey       string `json:"idem_key"`
	IntentID      string `json:"intent_id"`
	AmountCents   int64  `json:"amount_cents"`
	Currency      string `json:"currency"`
	Counterparty  string `json:"counterparty"`
	KeyID         string `json:"key_id"`
	SignedPayload string `json:"signed_payload"`
	Ref           string `json:"ref,omitempty"`
	ProviderRef   string `json:"provider_ref,omitempty"`
}

type wireResponse struct {
	Ref         string `json:"ref"`
	ProviderRef string `json:"provider_ref"`
	Settled     bool   `json:"settled"`
	SettledAt   string `json:"settled_at"`
	Reason      string `json:"reason"`
}

func (r *HTTPRail) Authorize(ctx context.Context, req Request) (Authorization, error) {
	resp, err := r.call(ctx, "/authorize", wireBody(req, "", ""))
	if err != nil {
		return Authorization{}, err
	}
	return Authorization{Ref: resp.Ref}, nil
}

func (r *HTTPRail) Execute(ctx context.Context, req Request, auth Authorization) (Execution, error) {
	resp, err := r.call(ctx, "/execute", wireBody(req, auth.Ref, ""))
	if err != nil {
		return Execution{}, err
	}
	return Execution{ProviderRef: resp.ProviderRef}, nil
}

func (r *HTTPRail) Confirm(ctx context.Context, req Request, exec Execution) (Confirmation, error) {
	resp, err := r.call(ctx, "/confirm", wireBody(req, "", exec.ProviderRef))
	if err != nil {
		return Confirmation{}, err
	}
	return Confirmation{Settled: resp.Settled, SettledAt: resp.SettledAt}, nil
}

func (r *HTTPRail) Refund(ctx context.Context, req Request, exec Execution) error {
	_, err := r.call(ctx, "/refund", wireBody(req, "", exec.ProviderRef))
	return err
}

func wireBody(req Request, ref, providerRef string) wireRequest {
	return wireRequest{
		IdemKey:       req.IdemKey,
		IntentID:      req.IntentID,
		AmountCents:   req.AmountCents,
		Currency:      req.Currency,
		Counterparty:  req.Counterparty,
		KeyID:         req.KeyID,
		SignedPayload: base64.StdEncoding.EncodeToString(req.SignedPayload),
		Ref:           ref,
		ProviderRef:   providerRef,
	}
}

func (r *HTTPRail) call(ctx context.Context, path string, body wireRequest) (wireResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return wireResponse{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return wireResponse{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if r.Token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+r.Token)
	}

	httpResp, err := r.Client.Do(httpReq)
	if err != nil {
		return wireResponse{}, fmt.Errorf("%s %s: %w", r.RailName, path, err)
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(httpResp.Body, 1<<20))
	if err != nil {
		return wireResponse{}, fmt.Errorf("%s %s: read body: %w", r.RailName, path, err)
	}

	var resp wireResponse
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &resp); err != nil && httpResp.StatusCode < 300 {
			return wireResponse{}, fmt.Errorf("%s %s: decode: %w", r.RailName, path, err)
		}
	}

	switch {
	case httpResp.StatusCode >= 200 && httpResp.StatusCode < 300:
		return resp, nil
	case httpResp.StatusCode == http.StatusPaymentRequired,
		httpResp.StatusCode == http.StatusUnprocessableEntity,
		httpResp.StatusCode == http.StatusConflict:
		reason := resp.Reason
		if reason == "" {
			reason = fmt.Sprintf("status %d", httpResp.StatusCode)
		}
		return wireResponse{}, &Decline{Rail: r.RailName, Reason: reason}
	default:
		return wireResponse{}, fmt.Errorf("%s %s: status %d", r.RailName, path, httpResp.StatusCode)
	}
}

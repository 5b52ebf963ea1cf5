package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultPaystackBaseURL = "https://api.paystack.co"

type PaystackConfig struct {
	SecretKey   string
	BaseURL     string
	CallbackURL string
	Timeout     time.Duration
}

// Paystack implements Adapter against the Paystack REST API.
type Paystack struct {
	cfg    PaystackConfig
	client *http.Client
}

func NewPaystack(cfg PaystackConfig) *Paystack {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultPaystackBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Paystack{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}
}

func (p *Paystack) Name() string { return "paystack" }

type paystackEnvelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (p *Paystack) do(ctx context.Context, method, path string, body any) (paystackEnvelope, []byte, error) {
	var buf io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return paystackEnvelope{}, nil, err
		}
		buf = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, p.cfg.BaseURL+path, buf)
	if err != nil {
		return paystackEnvelope{}, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+p.cfg.SecretKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return paystackEnvelope{}, nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return paystackEnvelope{}, nil, err
	}
	var env paystackEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return paystackEnvelope{}, raw, fmt.Errorf("decode paystack response: %w", err)
	}
	if resp.StatusCode >= 400 || !env.Status {
		return env, raw, fmt.Errorf("paystack %s %s: %s", method, path, env.Message)
	}
	return env, raw, nil
}

func (p *Paystack) Initiate(ctx context.Context, amount int64, currency, email string, metadata map[string]string) (InitiateResult, error) {
	payload := map[string]any{
		"amount":   amount,
		"currency": currency,
		"email":    email,
		"metadata": metadata,
	}
	if p.cfg.CallbackURL != "" {
		payload["callback_url"] = p.cfg.CallbackURL
	}
	env, raw, err := p.do(ctx, http.MethodPost, "/transaction/initialize", payload)
	if err != nil {
		return InitiateResult{Raw: raw}, err
	}
	var data struct {
		AuthorizationURL string `json:"authorization_url"`
		Reference        string `json:"reference"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return InitiateResult{Raw: raw}, fmt.Errorf("decode initialize data: %w", err)
	}
	return InitiateResult{
		Success:          true,
		GatewayReference: data.Reference,
		Status:           "pending", // customer still has to authorize
		AuthorizationURL: data.AuthorizationURL,
		Raw:              raw,
	}, nil
}

func (p *Paystack) Verify(ctx context.Context, gatewayReference string) (VerifyResult, error) {
	env, raw, err := p.do(ctx, http.MethodGet, "/transaction/verify/"+gatewayReference, nil)
	if err != nil {
		return VerifyResult{Raw: raw}, err
	}
	var data struct {
		Status   string `json:"status"`
		Amount   int64  `json:"amount"`
		Currency string `json:"currency"`
		Channel  string `json:"channel"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return VerifyResult{Raw: raw}, fmt.Errorf("decode verify data: %w", err)
	}
	return VerifyResult{
		Success:       data.Status == "success",
		Final:         paystackStatusFinal(data.Status),
		Status:        data.Status,
		Amount:        data.Amount,
		Currency:      data.Currency,
		PaymentMethod: data.Channel,
		Raw:           raw,
	}, nil
}

// paystackStatusFinal reports whether a charge status is settled.
// pending/ongoing/queued/processing mean the customer is still mid
// checkout and the charge may yet succeed.
func paystackStatusFinal(status string) bool {
	switch status {
	case "success", "failed", "abandoned", "reversed":
		return true
	}
	return false
}

func (p *Paystack) Refund(ctx context.Context, gatewayReference string, amount int64, reason string) (RefundResult, error) {
	payload := map[string]any{
		"transaction":   gatewayReference,
		"amount":        amount,
		"merchant_note": reason,
	}
	env, raw, err := p.do(ctx, http.MethodPost, "/refund", payload)
	if err != nil {
		return RefundResult{Raw: raw}, err
	}
	var data struct {
		ID int64 `json:"id"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return RefundResult{Raw: raw}, fmt.Errorf("decode refund data: %w", err)
	}
	return RefundResult{Success: true, RefundID: fmt.Sprintf("%d", data.ID), Raw: raw}, nil
}

// ParseWebhook authenticates the payload with the HMAC-SHA512 signature
// Paystack sends in x-paystack-signature, then normalizes the event.
func (p *Paystack) ParseWebhook(payload []byte, headers map[string]string) (WebhookEvent, error) {
	sig := headerValue(headers, "x-paystack-signature")
	if sig == "" {
		return WebhookEvent{}, fmt.Errorf("missing webhook signature")
	}
	mac := hmac.New(sha512.New, []byte(p.cfg.SecretKey))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(sig)) {
		return WebhookEvent{}, fmt.Errorf("invalid webhook signature")
	}

	var body struct {
		Event string `json:"event"`
		Data  struct {
			Reference string          `json:"reference"`
			Amount    int64           `json:"amount"`
			Currency  string          `json:"currency"`
			Metadata  json.RawMessage `json:"metadata"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return WebhookEvent{}, fmt.Errorf("decode webhook payload: %w", err)
	}

	// Paystack echoes initialize metadata back; it is an empty string
	// when none was sent, so decode it best effort.
	var meta struct {
		TransactionID string `json:"transaction_id"`
	}
	if len(body.Data.Metadata) > 0 {
		_ = json.Unmarshal(body.Data.Metadata, &meta)
	}

	action := ActionOther
	switch body.Event {
	case "charge.success":
		action = ActionPaymentCompleted
	case "charge.failed", "invoice.payment_failed":
		action = ActionPaymentFailed
	}
	return WebhookEvent{
		Valid:            true,
		Action:           action,
		GatewayReference: body.Data.Reference,
		TransactionID:    meta.TransactionID,
		Amount:           body.Data.Amount,
		Currency:         body.Data.Currency,
		Raw:              payload,
	}, nil
}

func headerValue(headers map[string]string, key string) string {
	for k, v := range headers {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return ""
}

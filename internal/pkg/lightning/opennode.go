package lightning

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/ManuelReschke/LocalBoard/internal/pkg/config"
)

const defaultOpenNodeBaseURL = "https://api.opennode.com"

// OpenNode is the custodial backend. Webhooks carry
// hashed_order = hex(HMAC-SHA256(api_key, charge id)).
type OpenNode struct {
	BaseURL     string
	APIKey      string
	CallbackURL string
	Expiry      time.Duration

	HTTPClient *http.Client
}

func NewOpenNode(cfg config.OpenNode, expiry time.Duration, httpClient *http.Client) *OpenNode {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = defaultOpenNodeBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &OpenNode{
		BaseURL:     base,
		APIKey:      strings.TrimSpace(cfg.APIKey),
		CallbackURL: strings.TrimSpace(cfg.CallbackURL),
		Expiry:      expiry,
		HTTPClient:  httpClient,
	}
}

func (o *OpenNode) Name() string { return config.BackendOpenNode }

func (o *OpenNode) CreateInvoice(ctx context.Context, amountSats int64, memo string) (*Invoice, error) {
	if o.APIKey == "" {
		return nil, errors.New("OPENNODE_API_KEY is not configured")
	}
	if amountSats <= 0 {
		return nil, errors.New("amount must be positive")
	}

	reqBody := map[string]interface{}{
		"amount":      amountSats,
		"currency":    "BTC",
		"description": memo,
	}
	if o.CallbackURL != "" {
		reqBody["callback_url"] = o.CallbackURL
	}
	if o.Expiry > 0 {
		reqBody["ttl"] = int(o.Expiry / time.Minute)
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}

	body, err := o.do(ctx, http.MethodPost, "/v1/charges", payload)
	if err != nil {
		return nil, err
	}

	data := gjson.GetBytes(body, "data")
	id := data.Get("id").String()
	payreq := data.Get("lightning_invoice.payreq").String()
	if id == "" || payreq == "" {
		return nil, fmt.Errorf("opennode charge response is missing id or payreq")
	}

	expiresAt := time.Now().Add(o.Expiry)
	if ts := data.Get("lightning_invoice.expires_at").Int(); ts > 0 {
		expiresAt = time.Unix(ts, 0)
	}
	amount := data.Get("amount").Int()
	if amount <= 0 {
		amount = amountSats
	}

	return &Invoice{
		ProviderInvoiceID: id,
		PaymentRequest:    payreq,
		AmountSats:        amount,
		ExpiresAt:         expiresAt.UTC(),
	}, nil
}

func (o *OpenNode) CheckPaymentStatus(ctx context.Context, providerInvoiceID string) (Status, error) {
	if o.APIKey == "" {
		return "", errors.New("OPENNODE_API_KEY is not configured")
	}
	body, err := o.do(ctx, http.MethodGet, "/v1/charge/"+url.PathEscape(providerInvoiceID), nil)
	if err != nil {
		return "", err
	}
	return openNodeStatus(gjson.GetBytes(body, "data.status").String()), nil
}

// VerifyWebhook accepts OpenNode's form encoded or JSON deliveries.
func (o *OpenNode) VerifyWebhook(header func(string) string, body []byte) (*WebhookEvent, error) {
	if o.APIKey == "" {
		return nil, ErrWebhookSecretMissing
	}

	var id, status, hashed string
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		if !gjson.ValidBytes(trimmed) {
			return nil, ErrInvalidPayload
		}
		id = gjson.GetBytes(trimmed, "id").String()
		status = gjson.GetBytes(trimmed, "status").String()
		hashed = gjson.GetBytes(trimmed, "hashed_order").String()
	} else {
		form, err := url.ParseQuery(string(trimmed))
		if err != nil {
			return nil, ErrInvalidPayload
		}
		id = form.Get("id")
		status = form.Get("status")
		hashed = form.Get("hashed_order")
	}

	if id == "" {
		return nil, ErrInvalidPayload
	}
	if !VerifyHMACSignature([]byte(id), hashed, o.APIKey) {
		return nil, ErrInvalidSignature
	}

	// hashed_order signs the charge id only, so the status stays unsigned
	return &WebhookEvent{
		EventID:           id + ":" + status,
		EventType:         "charge." + status,
		ProviderInvoiceID: id,
		Status:            openNodeStatus(status),
		StatusSigned:      false,
		Payload:           body,
	}, nil
}

func (o *OpenNode) do(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, o.BaseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", o.APIKey)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := o.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrInvoiceNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("opennode request failed: status=%d body=%s", resp.StatusCode, string(body))
	}
	return body, nil
}

func openNodeStatus(s string) Status {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "paid":
		return StatusPaid
	case "expired":
		return StatusExpired
	default:
		// unpaid, processing and underpaid are still open
		return StatusPending
	}
}

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

// LNbitsSignatureHeader carries hex(HMAC-SHA256(webhook_secret, raw body)).
const LNbitsSignatureHeader = "X-Lnbits-Signature"

// LNbits is the self-hosted wallet backend.
type LNbits struct {
	BaseURL       string
	InvoiceKey    string
	WebhookURL    string
	WebhookSecret string
	Expiry        time.Duration

	HTTPClient *http.Client
}

func NewLNbits(cfg config.LNbits, expiry time.Duration, httpClient *http.Client) *LNbits {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &LNbits{
		BaseURL:       strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		InvoiceKey:    strings.TrimSpace(cfg.InvoiceKey),
		WebhookURL:    strings.TrimSpace(cfg.WebhookURL),
		WebhookSecret: strings.TrimSpace(cfg.WebhookSecret),
		Expiry:        expiry,
		HTTPClient:    httpClient,
	}
}

func (l *LNbits) Name() string { return config.BackendLNbits }

func (l *LNbits) CreateInvoice(ctx context.Context, amountSats int64, memo string) (*Invoice, error) {
	if l.BaseURL == "" || l.InvoiceKey == "" {
		return nil, errors.New("LNBITS_BASE_URL/LNBITS_INVOICE_KEY are not configured")
	}
	if amountSats <= 0 {
		return nil, errors.New("amount must be positive")
	}

	reqBody := map[string]interface{}{
		"out":    false,
		"amount": amountSats,
		"memo":   memo,
	}
	if l.Expiry > 0 {
		reqBody["expiry"] = int(l.Expiry / time.Second)
	}
	if l.WebhookURL != "" {
		reqBody["webhook"] = l.WebhookURL
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}

	body, err := l.do(ctx, http.MethodPost, "/api/v1/payments", payload)
	if err != nil {
		return nil, err
	}

	hash := gjson.GetBytes(body, "payment_hash").String()
	bolt11 := gjson.GetBytes(body, "payment_request").String()
	if bolt11 == "" {
		bolt11 = gjson.GetBytes(body, "bolt11").String()
	}
	if hash == "" || bolt11 == "" {
		return nil, fmt.Errorf("lnbits invoice response is missing payment_hash or payment_request")
	}

	return &Invoice{
		ProviderInvoiceID: hash,
		PaymentRequest:    bolt11,
		AmountSats:        amountSats,
		ExpiresAt:         time.Now().Add(l.Expiry).UTC(),
	}, nil
}

func (l *LNbits) CheckPaymentStatus(ctx context.Context, providerInvoiceID string) (Status, error) {
	if l.BaseURL == "" || l.InvoiceKey == "" {
		return "", errors.New("LNBITS_BASE_URL/LNBITS_INVOICE_KEY are not configured")
	}
	body, err := l.do(ctx, http.MethodGet, "/api/v1/payments/"+url.PathEscape(providerInvoiceID), nil)
	if err != nil {
		return "", err
	}
	if gjson.GetBytes(body, "paid").Bool() {
		return StatusPaid, nil
	}
	if strings.EqualFold(gjson.GetBytes(body, "details.status").String(), "expired") {
		return StatusExpired, nil
	}
	return StatusPending, nil
}

func (l *LNbits) VerifyWebhook(header func(string) string, body []byte) (*WebhookEvent, error) {
	if l.WebhookSecret == "" {
		return nil, ErrWebhookSecretMissing
	}
	if !VerifyHMACSignature(body, header(LNbitsSignatureHeader), l.WebhookSecret) {
		return nil, ErrInvalidSignature
	}
	if !gjson.ValidBytes(body) {
		return nil, ErrInvalidPayload
	}

	hash := gjson.GetBytes(body, "payment_hash").String()
	if hash == "" {
		return nil, ErrInvalidPayload
	}
	// LNbits only calls the invoice webhook once the invoice is paid.
	status := StatusPaid
	if p := gjson.GetBytes(body, "paid"); p.Exists() && !p.Bool() {
		status = StatusPending
	}

	return &WebhookEvent{
		EventID:           hash + ":" + string(status),
		EventType:         "payment." + string(status),
		ProviderInvoiceID: hash,
		Status:            status,
		StatusSigned:      true,
		Payload:           body,
	}, nil
}

func (l *LNbits) do(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, l.BaseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Api-Key", l.InvoiceKey)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := l.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrInvoiceNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("lnbits request failed: status=%d body=%s", resp.StatusCode, string(body))
	}
	return body, nil
}

package lightning

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/ManuelReschke/LocalBoard/internal/pkg/config"
)

// MockSignatureHeader carries hex(HMAC-SHA256(secret, raw body)) for mock deliveries.
const MockSignatureHeader = "X-Mock-Signature"

// Mock is a local backend that never talks to the network. Invoices stay
// pending until SetStatus is called.
type Mock struct {
	WebhookSecret string
	Expiry        time.Duration

	mu        sync.Mutex
	invoices  map[string]*mockInvoice
	createErr error
}

type mockInvoice struct {
	amountSats int64
	status     Status
}

func NewMock(webhookSecret string, expiry time.Duration) *Mock {
	if expiry <= 0 {
		expiry = 15 * time.Minute
	}
	return &Mock{
		WebhookSecret: webhookSecret,
		Expiry:        expiry,
		invoices:      make(map[string]*mockInvoice),
	}
}

func (m *Mock) Name() string { return config.BackendMock }

func (m *Mock) CreateInvoice(ctx context.Context, amountSats int64, memo string) (*Invoice, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if amountSats <= 0 {
		return nil, errors.New("amount must be positive")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return nil, m.createErr
	}

	id := "mock_" + uuid.NewString()
	m.invoices[id] = &mockInvoice{amountSats: amountSats, status: StatusPending}

	return &Invoice{
		ProviderInvoiceID: id,
		PaymentRequest:    fmt.Sprintf("lnbcrt%dn1mock%s", amountSats, randomHex(16)),
		AmountSats:        amountSats,
		ExpiresAt:         time.Now().Add(m.Expiry).UTC(),
	}, nil
}

func (m *Mock) CheckPaymentStatus(ctx context.Context, providerInvoiceID string) (Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invoices[providerInvoiceID]
	if !ok {
		return "", ErrInvoiceNotFound
	}
	return inv.status, nil
}

// SetStatus moves an invoice to the given status. Test and dev helper.
func (m *Mock) SetStatus(providerInvoiceID string, status Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invoices[providerInvoiceID]
	if !ok {
		return ErrInvoiceNotFound
	}
	inv.status = status
	return nil
}

// FailCreate makes every following CreateInvoice return err until reset with nil.
func (m *Mock) FailCreate(err error) {
	m.mu.Lock()
	m.createErr = err
	m.mu.Unlock()
}

// VerifyWebhook expects {"id": ..., "status": ..., "event_id"?: ...}.
func (m *Mock) VerifyWebhook(header func(string) string, body []byte) (*WebhookEvent, error) {
	if m.WebhookSecret == "" {
		return nil, ErrWebhookSecretMissing
	}
	if !VerifyHMACSignature(body, header(MockSignatureHeader), m.WebhookSecret) {
		return nil, ErrInvalidSignature
	}
	if !gjson.ValidBytes(body) {
		return nil, ErrInvalidPayload
	}

	id := gjson.GetBytes(body, "id").String()
	if id == "" {
		return nil, ErrInvalidPayload
	}
	status := Status(gjson.GetBytes(body, "status").String())
	switch status {
	case StatusPaid, StatusExpired, StatusPending:
	default:
		return nil, ErrInvalidPayload
	}
	eventID := gjson.GetBytes(body, "event_id").String()
	if eventID == "" {
		eventID = id + ":" + string(status)
	}

	return &WebhookEvent{
		EventID:           eventID,
		EventType:         "invoice." + string(status),
		ProviderInvoiceID: id,
		Status:            status,
		StatusSigned:      true,
		Payload:           body,
	}, nil
}

func randomHex(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "00"
	}
	return hex.EncodeToString(b)
}

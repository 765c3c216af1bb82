// Package lightning hides the Lightning payment backends behind one interface.
package lightning

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ManuelReschke/LocalBoard/internal/pkg/config"
)

type Status string

const (
	StatusPending Status = "pending"
	StatusPaid    Status = "paid"
	StatusExpired Status = "expired"
)

var (
	// ErrWebhookSecretMissing means the backend cannot verify deliveries; the
	// endpoint must refuse them.
	ErrWebhookSecretMissing = errors.New("webhook secret is not configured")
	ErrInvalidSignature     = errors.New("invalid webhook signature")
	ErrInvalidPayload       = errors.New("invalid webhook payload")
	ErrInvoiceNotFound      = errors.New("invoice not found at provider")
)

// Invoice is what a backend returns for a newly created invoice.
type Invoice struct {
	ProviderInvoiceID string
	PaymentRequest    string
	AmountSats        int64
	ExpiresAt         time.Time
}

// WebhookEvent is a verified webhook delivery.
type WebhookEvent struct {
	EventID           string
	EventType         string
	ProviderInvoiceID string
	Status            Status
	// StatusSigned reports whether the signature covers Status. When it does
	// not, the status has to be confirmed with CheckPaymentStatus.
	StatusSigned      bool
	Payload           []byte
}

// Provider is one Lightning payment backend.
type Provider interface {
	Name() string
	CreateInvoice(ctx context.Context, amountSats int64, memo string) (*Invoice, error)
	CheckPaymentStatus(ctx context.Context, providerInvoiceID string) (Status, error)
	// VerifyWebhook authenticates a raw delivery before anything in it is trusted.
	VerifyWebhook(header func(string) string, body []byte) (*WebhookEvent, error)
}

// NewProvider builds the backend selected in configuration. It is called once
// at startup.
func NewProvider(cfg config.Payments, invoiceExpiry time.Duration) (Provider, error) {
	httpClient := &http.Client{Timeout: 15 * time.Second}

	switch cfg.Backend {
	case config.BackendOpenNode:
		return NewOpenNode(cfg.OpenNode, invoiceExpiry, httpClient), nil
	case config.BackendLNbits:
		return NewLNbits(cfg.LNbits, invoiceExpiry, httpClient), nil
	case config.BackendMock, "":
		return NewMock(cfg.Mock.WebhookSecret, invoiceExpiry), nil
	}
	return nil, fmt.Errorf("unknown payment backend %q", cfg.Backend)
}

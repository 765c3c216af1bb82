package lightning

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/ManuelReschke/LocalBoard/internal/pkg/config"
)

func headers(h map[string]string) func(string) string {
	return func(k string) string { return h[k] }
}

func TestNewProvider_SelectsBackend(t *testing.T) {
	tests := []struct {
		backend string
		want    string
	}{
		{backend: config.BackendMock, want: "mock"},
		{backend: config.BackendOpenNode, want: "opennode"},
		{backend: config.BackendLNbits, want: "lnbits"},
	}
	for _, tt := range tests {
		p, err := NewProvider(config.Payments{Backend: tt.backend}, time.Minute)
		require.NoError(t, err)
		assert.Equal(t, tt.want, p.Name())
	}

	_, err := NewProvider(config.Payments{Backend: "strike"}, time.Minute)
	assert.Error(t, err)
}

func TestVerifyHMACSignature(t *testing.T) {
	payload := []byte(`{"id":"abc"}`)
	sig := SignHMAC(payload, "secret")

	assert.True(t, VerifyHMACSignature(payload, sig, "secret"))
	assert.True(t, VerifyHMACSignature(payload, "sha256="+sig, "secret"))
	assert.False(t, VerifyHMACSignature(payload, sig, "other"))
	assert.False(t, VerifyHMACSignature(payload, "deadbeef", "secret"))
	assert.False(t, VerifyHMACSignature(payload, "not-hex", "secret"))
	assert.False(t, VerifyHMACSignature(payload, sig, ""))
}

func TestMock_LifecycleAndWebhook(t *testing.T) {
	ctx := context.Background()
	m := NewMock("whsec", time.Minute)

	inv, err := m.CreateInvoice(ctx, 1000, "test")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), inv.AmountSats)
	assert.NotEmpty(t, inv.PaymentRequest)

	status, err := m.CheckPaymentStatus(ctx, inv.ProviderInvoiceID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, status)

	require.NoError(t, m.SetStatus(inv.ProviderInvoiceID, StatusPaid))
	status, err = m.CheckPaymentStatus(ctx, inv.ProviderInvoiceID)
	require.NoError(t, err)
	assert.Equal(t, StatusPaid, status)

	_, err = m.CheckPaymentStatus(ctx, "missing")
	assert.ErrorIs(t, err, ErrInvoiceNotFound)

	body := []byte(`{"id":"` + inv.ProviderInvoiceID + `","status":"paid"}`)
	ev, err := m.VerifyWebhook(headers(map[string]string{MockSignatureHeader: SignHMAC(body, "whsec")}), body)
	require.NoError(t, err)
	assert.Equal(t, inv.ProviderInvoiceID, ev.ProviderInvoiceID)
	assert.Equal(t, StatusPaid, ev.Status)
	assert.Equal(t, inv.ProviderInvoiceID+":paid", ev.EventID)

	_, err = m.VerifyWebhook(headers(map[string]string{MockSignatureHeader: SignHMAC(body, "wrong")}), body)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestMock_FailCreate(t *testing.T) {
	m := NewMock("", time.Minute)
	boom := errors.New("backend down")
	m.FailCreate(boom)

	_, err := m.CreateInvoice(context.Background(), 10, "x")
	assert.ErrorIs(t, err, boom)

	m.FailCreate(nil)
	_, err = m.CreateInvoice(context.Background(), 10, "x")
	assert.NoError(t, err)
}

func TestWebhook_MissingSecretIsRejected(t *testing.T) {
	body := []byte(`{"id":"x","status":"paid"}`)
	h := headers(nil)

	for _, p := range []Provider{
		NewMock("", time.Minute),
		NewLNbits(config.LNbits{BaseURL: "http://lnbits", InvoiceKey: "k"}, time.Minute, nil),
		NewOpenNode(config.OpenNode{}, time.Minute, nil),
	} {
		_, err := p.VerifyWebhook(h, body)
		assert.ErrorIs(t, err, ErrWebhookSecretMissing, p.Name())
	}
}

func TestOpenNode_CreateAndCheck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "on-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v1/charges":
			body, _ := io.ReadAll(r.Body)
			if gjson.GetBytes(body, "amount").Int() != 2000 {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			_, _ = w.Write([]byte(`{"data":{"id":"ch_1","amount":2000,"status":"unpaid","lightning_invoice":{"payreq":"lnbc20u1abc","expires_at":1893456000}}}`))
		case r.Method == http.MethodGet && r.URL.Path == "/v1/charge/ch_1":
			_, _ = w.Write([]byte(`{"data":{"id":"ch_1","status":"paid"}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	o := NewOpenNode(config.OpenNode{BaseURL: srv.URL, APIKey: "on-key"}, 15*time.Minute, srv.Client())

	inv, err := o.CreateInvoice(context.Background(), 2000, "sponsor")
	require.NoError(t, err)
	assert.Equal(t, "ch_1", inv.ProviderInvoiceID)
	assert.Equal(t, "lnbc20u1abc", inv.PaymentRequest)
	assert.Equal(t, time.Unix(1893456000, 0).UTC(), inv.ExpiresAt)

	status, err := o.CheckPaymentStatus(context.Background(), "ch_1")
	require.NoError(t, err)
	assert.Equal(t, StatusPaid, status)

	_, err = o.CheckPaymentStatus(context.Background(), "ch_404")
	assert.ErrorIs(t, err, ErrInvoiceNotFound)
}

func TestOpenNode_VerifyWebhook(t *testing.T) {
	o := NewOpenNode(config.OpenNode{APIKey: "on-key"}, time.Minute, nil)
	hashed := SignHMAC([]byte("ch_1"), "on-key")

	form := url.Values{}
	form.Set("id", "ch_1")
	form.Set("status", "paid")
	form.Set("hashed_order", hashed)

	ev, err := o.VerifyWebhook(headers(nil), []byte(form.Encode()))
	require.NoError(t, err)
	assert.Equal(t, "ch_1", ev.ProviderInvoiceID)
	assert.Equal(t, StatusPaid, ev.Status)
	assert.False(t, ev.StatusSigned, "the status field is not covered by hashed_order")

	jsonBody := []byte(`{"id":"ch_1","status":"expired","hashed_order":"` + hashed + `"}`)
	ev, err = o.VerifyWebhook(headers(nil), jsonBody)
	require.NoError(t, err)
	assert.Equal(t, StatusExpired, ev.Status)

	form.Set("hashed_order", SignHMAC([]byte("ch_2"), "on-key"))
	_, err = o.VerifyWebhook(headers(nil), []byte(form.Encode()))
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestLNbits_CreateCheckAndWebhook(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Api-Key") != "inv-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/api/v1/payments":
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"payment_hash":"ph_1","payment_request":"lnbc1000n1xyz"}`))
		case r.Method == http.MethodGet && r.URL.Path == "/api/v1/payments/ph_1":
			_, _ = w.Write([]byte(`{"paid":false,"details":{"status":"expired"}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	l := NewLNbits(config.LNbits{BaseURL: srv.URL, InvoiceKey: "inv-key", WebhookSecret: "lnsec"}, time.Minute, srv.Client())

	inv, err := l.CreateInvoice(context.Background(), 100, "post")
	require.NoError(t, err)
	assert.Equal(t, "ph_1", inv.ProviderInvoiceID)
	assert.Equal(t, "lnbc1000n1xyz", inv.PaymentRequest)

	status, err := l.CheckPaymentStatus(context.Background(), "ph_1")
	require.NoError(t, err)
	assert.Equal(t, StatusExpired, status)

	body := []byte(`{"payment_hash":"ph_1","amount":100000}`)
	ev, err := l.VerifyWebhook(headers(map[string]string{LNbitsSignatureHeader: SignHMAC(body, "lnsec")}), body)
	require.NoError(t, err)
	assert.Equal(t, "ph_1", ev.ProviderInvoiceID)
	assert.Equal(t, StatusPaid, ev.Status)

	_, err = l.VerifyWebhook(headers(map[string]string{LNbitsSignatureHeader: "00"}), body)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

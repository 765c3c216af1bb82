package ledger

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/ManuelReschke/LocalBoard/app/models"
	"github.com/ManuelReschke/LocalBoard/app/repository"
	"github.com/ManuelReschke/LocalBoard/internal/pkg/apperror"
	"github.com/ManuelReschke/LocalBoard/internal/pkg/config"
	"github.com/ManuelReschke/LocalBoard/internal/pkg/database"
	"github.com/ManuelReschke/LocalBoard/internal/pkg/lightning"
	"github.com/ManuelReschke/LocalBoard/internal/pkg/lock"
)

const webhookSecret = "whsec_test"

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	db       *gorm.DB
	repos    *repository.Repositories
	mock     *lightning.Mock
	locker   *lock.LocalLocker
	svc      *Service
	session  string
	location *models.Location
	post     *models.Post
}

func testPricing() config.Pricing {
	return config.Pricing{
		PostSats:        100,
		BoostSats:       50,
		DeleteSats:      200,
		ClaimSats:       5000,
		SponsorBaseSats: 1000,
		BoostDuration:   24 * time.Hour,
		InvoiceExpiry:   15 * time.Minute,
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := database.OpenMemory(strings.ReplaceAll(t.Name(), "/", "_"))
	require.NoError(t, err)

	repos := repository.NewRepositories(db)
	session := models.NewDeviceSession("test")
	require.NoError(t, repos.Session.Create(session))

	loc := &models.Location{Slug: "cafe", Name: "Cafe", Lat: 30.2672, Lng: -97.7431, RadiusM: 100, Active: true}
	require.NoError(t, repos.Location.Create(loc))

	post := &models.Post{LocationID: loc.ID, DeviceSessionID: session.ID, Body: "hello"}
	require.NoError(t, repos.Post.Create(post))

	mock := lightning.NewMock(webhookSecret, 15*time.Minute)
	locker := lock.NewLocalLocker()
	svc := NewServiceFromDB(db, mock, locker, testPricing(), "LocalBoard").
		WithClock(func() time.Time { return t0 })

	return &fixture{db: db, repos: repos, mock: mock, locker: locker, svc: svc, session: session.ID, location: loc, post: post}
}

func (f *fixture) count(t *testing.T, table string) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Table(table).Count(&n).Error)
	return n
}

func (f *fixture) boost(t *testing.T, weight int) *Invoice {
	t.Helper()
	inv, err := f.svc.CreateInvoice(context.Background(), Request{
		Purpose:         models.PurposeBoost,
		DeviceSessionID: f.session,
		LocationID:      f.location.ID,
		PostID:          f.post.ID,
		Weight:          weight,
	})
	require.NoError(t, err)
	return inv
}

func TestCreateInvoice_PersistsRecordAndIndex(t *testing.T) {
	f := newFixture(t)

	inv := f.boost(t, 3)
	assert.Equal(t, models.PurposeBoost, inv.Purpose)
	assert.Equal(t, int64(150), inv.AmountSats)
	assert.Equal(t, models.PaymentStatusPending, inv.Status)
	assert.Equal(t, config.BackendMock, inv.Provider)
	assert.NotEmpty(t, inv.PublicID)
	assert.NotEmpty(t, inv.PaymentRequest)
	require.NotNil(t, inv.ExpiresAt)

	var idx models.InvoiceIndex
	require.NoError(t, f.db.Where("provider_invoice_id = ?", inv.ProviderInvoiceID).First(&idx).Error)
	assert.Equal(t, models.PurposeBoost, idx.Purpose)

	var record models.BoostPayment
	require.NoError(t, f.db.First(&record, idx.RecordID).Error)
	assert.Equal(t, 3, record.Weight)
	assert.Equal(t, f.post.ID, record.PostID)
}

func TestCreateInvoice_BackendFailurePersistsNothing(t *testing.T) {
	f := newFixture(t)
	f.mock.FailCreate(errors.New("backend down"))

	_, err := f.svc.CreateInvoice(context.Background(), Request{
		Purpose:         models.PurposeBoost,
		DeviceSessionID: f.session,
		LocationID:      f.location.ID,
		PostID:          f.post.ID,
	})
	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.KindUnavailable))
	assert.Zero(t, f.count(t, "boost_payments"))
	assert.Zero(t, f.count(t, "invoice_index"))
}

func TestCreateInvoice_Rejections(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		req  Request
		kind apperror.Kind
	}{
		{name: "unknown purpose", req: Request{Purpose: "tip", DeviceSessionID: f.session}, kind: apperror.KindValidation},
		{name: "sponsor needs a bid", req: Request{Purpose: models.PurposeSponsor, DeviceSessionID: f.session}, kind: apperror.KindValidation},
		{name: "missing session", req: Request{Purpose: models.PurposePost, LocationID: f.location.ID}, kind: apperror.KindUnauthorized},
		{name: "unknown session", req: Request{Purpose: models.PurposePost, DeviceSessionID: "nope", LocationID: f.location.ID}, kind: apperror.KindUnauthorized},
		{name: "weight too high", req: Request{Purpose: models.PurposeBoost, DeviceSessionID: f.session, PostID: f.post.ID, Weight: MaxBoostWeight + 1}, kind: apperror.KindValidation},
		{name: "unknown post", req: Request{Purpose: models.PurposeBoost, DeviceSessionID: f.session, PostID: 999}, kind: apperror.KindNotFound},
		{name: "unknown location", req: Request{Purpose: models.PurposePost, DeviceSessionID: f.session, LocationID: 999}, kind: apperror.KindNotFound},
		{name: "claim without name", req: Request{Purpose: models.PurposeMerchantClaim, DeviceSessionID: f.session, LocationID: f.location.ID}, kind: apperror.KindValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.CreateInvoice(context.Background(), tt.req)
			require.Error(t, err)
			assert.Equal(t, tt.kind, apperror.KindOf(err))
		})
	}
	assert.Zero(t, f.count(t, "invoice_index"))
}

func TestCreateInvoice_DeleteRequiresAuthor(t *testing.T) {
	f := newFixture(t)
	other := models.NewDeviceSession("other")
	require.NoError(t, f.repos.Session.Create(other))

	_, err := f.svc.CreateInvoice(context.Background(), Request{
		Purpose:         models.PurposeDelete,
		DeviceSessionID: other.ID,
		LocationID:      f.location.ID,
		PostID:          f.post.ID,
	})
	assert.True(t, apperror.Is(err, apperror.KindForbidden))
}

func TestCreateInvoice_PostMustBeAtPresenceLocation(t *testing.T) {
	f := newFixture(t)
	elsewhere := &models.Location{Slug: "berlin", Name: "Berlin", Lat: 52.52, Lng: 13.405, RadiusM: 100, Active: true}
	require.NoError(t, f.repos.Location.Create(elsewhere))

	for _, purpose := range []string{models.PurposeBoost, models.PurposeDelete} {
		t.Run(purpose, func(t *testing.T) {
			_, err := f.svc.CreateInvoice(context.Background(), Request{
				Purpose:         purpose,
				DeviceSessionID: f.session,
				LocationID:      elsewhere.ID,
				PostID:          f.post.ID,
			})
			var appErr *apperror.Error
			require.True(t, errors.As(err, &appErr))
			assert.Equal(t, apperror.KindForbidden, appErr.Kind)
			assert.Equal(t, "post_not_here", appErr.Code)
		})
	}
	assert.Zero(t, f.count(t, "invoice_index"))
}

func TestCreateInvoice_FeatureFlagDisabled(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, models.SaveSetting(f.db, models.FlagBoostsEnabled, "false"))

	_, err := f.svc.CreateInvoice(context.Background(), Request{
		Purpose:         models.PurposeBoost,
		DeviceSessionID: f.session,
		LocationID:      f.location.ID,
		PostID:          f.post.ID,
	})
	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.KindForbidden))
}

func TestApplyPaymentEffects_DoubleApplyAppliesOnce(t *testing.T) {
	f := newFixture(t)
	inv := f.boost(t, 3)
	ctx := context.Background()

	first, err := f.svc.ApplyPaymentEffects(ctx, inv.ProviderInvoiceID)
	require.NoError(t, err)
	assert.True(t, first.Success)
	assert.Equal(t, models.PurposeBoost, first.Purpose)

	second, err := f.svc.ApplyPaymentEffects(ctx, inv.ProviderInvoiceID)
	require.NoError(t, err)
	assert.False(t, second.Success)
	assert.Equal(t, reasonNotProcessed, second.Reason)

	post, err := f.repos.Post.GetByID(f.post.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, post.BoostWeight)
	require.NotNil(t, post.BoostExpiresAt)
	assert.WithinDuration(t, t0.Add(24*time.Hour), *post.BoostExpiresAt, time.Second)

	var record models.BoostPayment
	require.NoError(t, f.db.Where("provider_invoice_id = ?", inv.ProviderInvoiceID).First(&record).Error)
	assert.Equal(t, models.PaymentStatusPaid, record.Status)
	require.NotNil(t, record.PaidAt)
}

func TestApplyPaymentEffects_ConcurrentCallsSettleOnce(t *testing.T) {
	f := newFixture(t)
	inv := f.boost(t, 2)

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		errs      []error
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.svc.ApplyPaymentEffects(context.Background(), inv.ProviderInvoiceID)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			if res.Success {
				successes++
			}
		}()
	}
	wg.Wait()

	assert.Empty(t, errs)
	assert.Equal(t, 1, successes)
}

func TestApplyPaymentEffects_UnknownInvoiceIsBenign(t *testing.T) {
	f := newFixture(t)
	res, err := f.svc.ApplyPaymentEffects(context.Background(), "mock_missing")
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, reasonNotProcessed, res.Reason)
}

func TestApplyPaymentEffects_ExpiredInvoiceIsNotSettled(t *testing.T) {
	f := newFixture(t)
	inv := f.boost(t, 1)
	require.NoError(t, f.mock.SetStatus(inv.ProviderInvoiceID, lightning.StatusExpired))

	view, err := f.svc.InvoiceStatus(context.Background(), inv.ProviderInvoiceID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusExpired, view.Status)

	res, err := f.svc.ApplyPaymentEffects(context.Background(), inv.ProviderInvoiceID)
	require.NoError(t, err)
	assert.False(t, res.Success)

	post, err := f.repos.Post.GetByID(f.post.ID)
	require.NoError(t, err)
	assert.Zero(t, post.BoostWeight)
}

func TestInvoiceStatus_PollsBackend(t *testing.T) {
	f := newFixture(t)
	inv := f.boost(t, 1)
	ctx := context.Background()

	view, err := f.svc.InvoiceStatus(ctx, inv.ProviderInvoiceID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPending, view.Status)

	require.NoError(t, f.mock.SetStatus(inv.ProviderInvoiceID, lightning.StatusPaid))
	view, err = f.svc.InvoiceStatus(ctx, inv.ProviderInvoiceID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPaid, view.Status)

	post, err := f.repos.Post.GetByID(f.post.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, post.BoostWeight)

	_, err = f.svc.InvoiceStatus(ctx, "mock_missing")
	assert.True(t, apperror.Is(err, apperror.KindNotFound))
}

func signedHeader(body []byte, secret string) func(string) string {
	h := http.Header{}
	h.Set(lightning.MockSignatureHeader, lightning.SignHMAC(body, secret))
	return h.Get
}

func TestHandleWebhook(t *testing.T) {
	f := newFixture(t)
	inv := f.boost(t, 2)
	ctx := context.Background()
	body := []byte(`{"id":"` + inv.ProviderInvoiceID + `","status":"paid"}`)

	res, err := f.svc.HandleWebhook(ctx, config.BackendMock, signedHeader(body, webhookSecret), body)
	require.NoError(t, err)
	assert.True(t, res.Success)

	res, err = f.svc.HandleWebhook(ctx, config.BackendMock, signedHeader(body, webhookSecret), body)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, reasonDuplicate, res.Reason)
	assert.Equal(t, int64(1), f.count(t, "payment_webhook_events"))

	var event models.PaymentWebhookEvent
	require.NoError(t, f.db.First(&event).Error)
	assert.True(t, event.SignatureValid)
	assert.NotNil(t, event.ProcessedAt)
	assert.Empty(t, event.ProcessingError)

	_, err = f.svc.HandleWebhook(ctx, config.BackendMock, signedHeader(body, "wrong"), body)
	assert.True(t, apperror.Is(err, apperror.KindUnauthorized))

	_, err = f.svc.HandleWebhook(ctx, config.BackendOpenNode, signedHeader(body, webhookSecret), body)
	assert.True(t, apperror.Is(err, apperror.KindNotFound))

	junk := []byte(`{"status":"paid"}`)
	_, err = f.svc.HandleWebhook(ctx, config.BackendMock, signedHeader(junk, webhookSecret), junk)
	assert.True(t, apperror.Is(err, apperror.KindValidation))
}

// unsignedStatusProvider reports deliveries whose status field is not covered
// by the signature, as OpenNode's hashed_order does.
type unsignedStatusProvider struct {
	*lightning.Mock
}

func (p unsignedStatusProvider) VerifyWebhook(header func(string) string, body []byte) (*lightning.WebhookEvent, error) {
	ev, err := p.Mock.VerifyWebhook(header, body)
	if err != nil {
		return nil, err
	}
	ev.StatusSigned = false
	return ev, nil
}

func TestHandleWebhook_UnsignedStatusIsConfirmedWithProvider(t *testing.T) {
	f := newFixture(t)
	svc := NewServiceFromDB(f.db, unsignedStatusProvider{f.mock}, f.locker, testPricing(), "LocalBoard").
		WithClock(func() time.Time { return t0 })
	inv := f.boost(t, 2)
	ctx := context.Background()
	body := []byte(`{"id":"` + inv.ProviderInvoiceID + `","status":"paid"}`)

	// the provider still reports the invoice as pending
	res, err := svc.HandleWebhook(ctx, config.BackendMock, signedHeader(body, webhookSecret), body)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, reasonUnconfirmed, res.Reason)

	post, err := f.repos.Post.GetByID(f.post.ID)
	require.NoError(t, err)
	assert.Zero(t, post.BoostWeight)

	var event models.PaymentWebhookEvent
	require.NoError(t, f.db.First(&event).Error)
	assert.Equal(t, reasonUnconfirmed, event.ProcessingError)

	require.NoError(t, f.mock.SetStatus(inv.ProviderInvoiceID, lightning.StatusPaid))
	res, err = svc.HandleWebhook(ctx, config.BackendMock, signedHeader(body, webhookSecret), body)
	require.NoError(t, err)
	assert.True(t, res.Success)

	post, err = f.repos.Post.GetByID(f.post.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, post.BoostWeight)
	assert.Equal(t, int64(1), f.count(t, "payment_webhook_events"))
}

func TestHandleWebhook_ExpiredEvent(t *testing.T) {
	f := newFixture(t)
	inv := f.boost(t, 1)
	body := []byte(`{"id":"` + inv.ProviderInvoiceID + `","status":"expired"}`)

	res, err := f.svc.HandleWebhook(context.Background(), config.BackendMock, signedHeader(body, webhookSecret), body)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, reasonExpired, res.Reason)

	var record models.BoostPayment
	require.NoError(t, f.db.Where("provider_invoice_id = ?", inv.ProviderInvoiceID).First(&record).Error)
	assert.Equal(t, models.PaymentStatusExpired, record.Status)
}

func TestHandleWebhook_MissingSecretIsUnavailable(t *testing.T) {
	f := newFixture(t)
	svc := NewServiceFromDB(f.db, lightning.NewMock("", time.Minute), lock.NewLocalLocker(), testPricing(), "")
	body := []byte(`{"id":"x","status":"paid"}`)

	_, err := svc.HandleWebhook(context.Background(), config.BackendMock, signedHeader(body, ""), body)
	assert.True(t, apperror.Is(err, apperror.KindUnavailable))
	assert.Zero(t, f.count(t, "payment_webhook_events"))
}

func TestRedeemDeletion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	inv, err := f.svc.CreateInvoice(ctx, Request{
		Purpose:         models.PurposeDelete,
		DeviceSessionID: f.session,
		LocationID:      f.location.ID,
		PostID:          f.post.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(200), inv.AmountSats)

	err = f.svc.RedeemDeletion(ctx, f.session, inv.PublicID, f.post.ID)
	assert.True(t, apperror.Is(err, apperror.KindConflict), "unpaid deletion must not redeem")

	_, err = f.svc.ApplyPaymentEffects(ctx, inv.ProviderInvoiceID)
	require.NoError(t, err)

	err = f.svc.RedeemDeletion(ctx, "someone-else", inv.PublicID, f.post.ID)
	assert.True(t, apperror.Is(err, apperror.KindForbidden))

	err = f.svc.RedeemDeletion(ctx, f.session, inv.PublicID, f.post.ID+1)
	assert.True(t, apperror.Is(err, apperror.KindValidation))

	require.NoError(t, f.svc.RedeemDeletion(ctx, f.session, inv.PublicID, f.post.ID))
	_, err = f.repos.Post.GetByID(f.post.ID)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)

	err = f.svc.RedeemDeletion(ctx, f.session, inv.PublicID, f.post.ID)
	assert.True(t, apperror.Is(err, apperror.KindConflict))

	err = f.svc.RedeemDeletion(ctx, f.session, "unknown", f.post.ID)
	assert.True(t, apperror.Is(err, apperror.KindNotFound))
}

func TestConsumePostCredit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.ConsumePostCredit(ctx, f.session, f.location.ID)
	assert.True(t, apperror.Is(err, apperror.KindForbidden))

	var firstID uint
	for i := 0; i < 2; i++ {
		inv, err := f.svc.CreateInvoice(ctx, Request{
			Purpose:         models.PurposePost,
			DeviceSessionID: f.session,
			LocationID:      f.location.ID,
		})
		require.NoError(t, err)
		_, err = f.svc.ApplyPaymentEffects(ctx, inv.ProviderInvoiceID)
		require.NoError(t, err)
		if i == 0 {
			var p models.PostPayment
			require.NoError(t, f.db.Where("public_id = ?", inv.PublicID).First(&p).Error)
			firstID = p.ID
		}
	}

	credit, err := f.svc.ConsumePostCredit(ctx, f.session, f.location.ID)
	require.NoError(t, err)
	assert.Equal(t, firstID, credit.ID, "oldest credit is spent first")
	require.NotNil(t, credit.ConsumedAt)

	_, err = f.svc.ConsumePostCredit(ctx, f.session, f.location.ID)
	require.NoError(t, err)

	_, err = f.svc.ConsumePostCredit(ctx, f.session, f.location.ID)
	assert.True(t, apperror.Is(err, apperror.KindForbidden))
}

func (f *fixture) claim(t *testing.T, name string) *Invoice {
	t.Helper()
	inv, err := f.svc.CreateInvoice(context.Background(), Request{
		Purpose:         models.PurposeMerchantClaim,
		DeviceSessionID: f.session,
		LocationID:      f.location.ID,
		BusinessName:    name,
	})
	require.NoError(t, err)
	return inv
}

func TestMerchantClaim_OneVerifiedClaimPerLocation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.claim(t, "Cafe Owner")
	second := f.claim(t, "Impostor")
	assert.Equal(t, models.ClaimStatusPending, first.ClaimStatus)
	assert.NotEmpty(t, first.ClaimCode)
	assert.NotEqual(t, first.ClaimCode, second.ClaimCode)

	res, err := f.svc.ApplyPaymentEffects(ctx, first.ProviderInvoiceID)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Empty(t, res.Reason)

	res, err = f.svc.ApplyPaymentEffects(ctx, second.ProviderInvoiceID)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, reasonClaimRaced, res.Reason)

	var claims []models.MerchantClaim
	require.NoError(t, f.db.Order("id ASC").Find(&claims).Error)
	require.Len(t, claims, 2)
	assert.Equal(t, models.ClaimStatusVerified, claims[0].ClaimStatus)
	assert.NotNil(t, claims[0].ClaimedAt)
	assert.Equal(t, models.ClaimStatusRevoked, claims[1].ClaimStatus)

	loc, err := f.repos.Location.GetByID(f.location.ID)
	require.NoError(t, err)
	assert.True(t, loc.Claimed)
	require.NotNil(t, loc.ClaimedClaimID)
	assert.Equal(t, claims[0].ID, *loc.ClaimedClaimID)

	_, err = f.svc.CreateInvoice(ctx, Request{
		Purpose:         models.PurposeMerchantClaim,
		DeviceSessionID: f.session,
		LocationID:      f.location.ID,
		BusinessName:    "Late",
	})
	assert.True(t, apperror.Is(err, apperror.KindConflict))
}

func TestRevokeClaim(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	inv := f.claim(t, "Cafe Owner")
	_, err := f.svc.ApplyPaymentEffects(ctx, inv.ProviderInvoiceID)
	require.NoError(t, err)

	claim, err := f.svc.RevokeClaim(ctx, strings.ToLower(inv.ClaimCode))
	require.NoError(t, err)
	assert.Equal(t, models.ClaimStatusRevoked, claim.ClaimStatus)

	loc, err := f.repos.Location.GetByID(f.location.ID)
	require.NoError(t, err)
	assert.False(t, loc.Claimed)
	assert.Nil(t, loc.ClaimedClaimID)

	_, err = f.svc.RevokeClaim(ctx, inv.ClaimCode)
	assert.True(t, apperror.Is(err, apperror.KindConflict))

	_, err = f.svc.RevokeClaim(ctx, "9999")
	assert.True(t, apperror.Is(err, apperror.KindNotFound))
}

func TestSponsorInvoice_ActivatesOnSettlement(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	entry, err := f.svc.CreateSponsorInvoice(ctx, f.session, f.location.ID, 1000, "Joe's Coffee")
	require.NoError(t, err)
	assert.Nil(t, entry.ActivationAt)

	res, err := f.svc.ApplyPaymentEffects(ctx, entry.ProviderInvoiceID)
	require.NoError(t, err)
	assert.True(t, res.Success)

	var stored models.Sponsorship
	require.NoError(t, f.db.First(&stored, entry.ID).Error)
	require.NotNil(t, stored.ActivationAt)
	assert.WithinDuration(t, t0, *stored.ActivationAt, time.Second)
}

func TestSponsorSettlement_HoldsLocationLock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	entry, err := f.svc.CreateSponsorInvoice(ctx, f.session, f.location.ID, 1000, "Corner Shop")
	require.NoError(t, err)

	// another location's lock does not block this settlement's scheduling
	otherUnlock, err := f.locker.Lock(ctx, SponsorLockKey(f.location.ID+1))
	require.NoError(t, err)
	defer otherUnlock()

	unlock, err := f.locker.Lock(ctx, SponsorLockKey(f.location.ID))
	require.NoError(t, err)

	short, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	_, err = f.svc.ApplyPaymentEffects(short, entry.ProviderInvoiceID)
	cancel()
	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.KindUnavailable))

	var stored models.Sponsorship
	require.NoError(t, f.db.First(&stored, entry.ID).Error)
	assert.Equal(t, models.PaymentStatusPending, stored.Status)
	assert.Nil(t, stored.ActivationAt)

	unlock()
	res, err := f.svc.ApplyPaymentEffects(ctx, entry.ProviderInvoiceID)
	require.NoError(t, err)
	assert.True(t, res.Success)

	require.NoError(t, f.db.First(&stored, entry.ID).Error)
	require.NotNil(t, stored.ActivationAt)
}

// Package ledger records Lightning invoices per purpose and applies the
// effect of each settled invoice exactly once.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/ManuelReschke/LocalBoard/app/models"
	"github.com/ManuelReschke/LocalBoard/internal/pkg/apperror"
	"github.com/ManuelReschke/LocalBoard/internal/pkg/config"
	"github.com/ManuelReschke/LocalBoard/internal/pkg/lightning"
	"github.com/ManuelReschke/LocalBoard/internal/pkg/lock"
	"github.com/ManuelReschke/LocalBoard/internal/pkg/metrics"
	"github.com/ManuelReschke/LocalBoard/internal/pkg/shortener"
	"github.com/ManuelReschke/LocalBoard/internal/pkg/sponsorship"
)

const (
	MaxBoostWeight = 10

	reasonNotProcessed = "not found or already processed"
	reasonExpired      = "invoice expired"
	reasonPending      = "invoice still pending"
	reasonDuplicate    = "duplicate delivery"
	reasonClaimRaced   = "location already claimed; claim revoked"
	reasonUnconfirmed  = "status not confirmed by provider"
)

// Request asks for an invoice. Which fields matter depends on Purpose.
type Request struct {
	Purpose         string
	DeviceSessionID string
	LocationID      uint
	PostID          uint
	Weight          int
	BusinessName    string
}

// Result is the outcome of one settlement attempt. Success is false for
// benign repeats; that is not an error.
type Result struct {
	Success bool   `json:"success"`
	Purpose string `json:"purpose,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// Invoice is the client view of a ledger record.
type Invoice struct {
	PublicID          string     `json:"public_id"`
	Purpose           string     `json:"purpose"`
	Provider          string     `json:"provider"`
	ProviderInvoiceID string     `json:"provider_invoice_id"`
	PaymentRequest    string     `json:"payment_request"`
	AmountSats        int64      `json:"amount_sats"`
	Status            string     `json:"status"`
	ExpiresAt         *time.Time `json:"expires_at,omitempty"`
	PaidAt            *time.Time `json:"paid_at,omitempty"`
	ClaimCode         string     `json:"claim_code,omitempty"`
	ClaimStatus       string     `json:"claim_status,omitempty"`
	ActivationAt      *time.Time `json:"activation_at,omitempty"`
}

// NewInvoice builds the client view of a record.
func NewInvoice(purpose string, record models.LedgerRecord) *Invoice {
	e := record.Entry()
	inv := &Invoice{
		PublicID:          e.PublicID,
		Purpose:           purpose,
		Provider:          e.Provider,
		ProviderInvoiceID: e.ProviderInvoiceID,
		PaymentRequest:    e.PaymentRequest,
		AmountSats:        e.AmountSats,
		Status:            e.Status,
		ExpiresAt:         e.ExpiresAt,
		PaidAt:            e.PaidAt,
	}
	switch r := record.(type) {
	case *models.MerchantClaim:
		inv.ClaimCode = r.ClaimCode
		inv.ClaimStatus = r.ClaimStatus
	case *models.Sponsorship:
		inv.ActivationAt = r.ActivationAt
	}
	return inv
}

// SponsorLockKey names the lock that serializes sponsorship scheduling of one location.
func SponsorLockKey(locationID uint) string {
	return fmt.Sprintf("sponsorship:location:%d", locationID)
}

type Service struct {
	repo       Repository
	provider   lightning.Provider
	locker     lock.Locker
	pricing    config.Pricing
	memoPrefix string
	now        func() time.Time
}

// NewService creates a ledger service from an injected repository.
func NewService(repo Repository, provider lightning.Provider, locker lock.Locker, pricing config.Pricing, memoPrefix string) *Service {
	return &Service{
		repo:       repo,
		provider:   provider,
		locker:     locker,
		pricing:    pricing,
		memoPrefix: memoPrefix,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// NewServiceFromDB creates a ledger service from a GORM DB handle.
func NewServiceFromDB(db *gorm.DB, provider lightning.Provider, locker lock.Locker, pricing config.Pricing, memoPrefix string) *Service {
	return NewService(NewRepository(db), provider, locker, pricing, memoPrefix)
}

// WithClock replaces the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// ProviderName returns the configured backend name.
func (s *Service) ProviderName() string {
	return s.provider.Name()
}

// CreateInvoice validates the request, opens an invoice at the backend and
// only then stores the ledger row with its index row.
func (s *Service) CreateInvoice(ctx context.Context, req Request) (*Invoice, error) {
	purpose := strings.ToLower(strings.TrimSpace(req.Purpose))
	if !models.IsValidPurpose(purpose) {
		return nil, apperror.Validation("invalid_purpose", "unknown invoice purpose")
	}
	if purpose == models.PurposeSponsor {
		return nil, apperror.Validation("invalid_purpose", "sponsorships are bought through the bid endpoint")
	}

	repo := s.repo.WithContext(ctx)
	if err := s.checkRequester(repo, purpose, req.DeviceSessionID); err != nil {
		return nil, err
	}

	record, amount, err := s.prepare(repo, purpose, req)
	if err != nil {
		return nil, err
	}
	if err := s.open(ctx, purpose, record, amount); err != nil {
		return nil, err
	}
	return NewInvoice(purpose, record), nil
}

// CreateSponsorInvoice opens the invoice of a sponsorship bid whose floor was
// already checked.
func (s *Service) CreateSponsorInvoice(ctx context.Context, deviceSessionID string, locationID uint, amountSats int64, label string) (*models.Sponsorship, error) {
	repo := s.repo.WithContext(ctx)
	if err := s.checkRequester(repo, models.PurposeSponsor, deviceSessionID); err != nil {
		return nil, err
	}
	if _, err := activeLocation(repo, locationID); err != nil {
		return nil, err
	}
	if amountSats <= 0 {
		return nil, apperror.Validation("invalid_amount", "amount must be positive")
	}

	record := &models.Sponsorship{SponsorLabel: label}
	record.DeviceSessionID = deviceSessionID
	record.LocationID = locationID
	if err := s.open(ctx, models.PurposeSponsor, record, amountSats); err != nil {
		return nil, err
	}
	return record, nil
}

func (s *Service) checkRequester(repo Repository, purpose, deviceSessionID string) error {
	if strings.TrimSpace(deviceSessionID) == "" {
		return apperror.Unauthorized("missing_device_session", "device session is required")
	}
	collab := repo.Collaborators()
	ok, err := collab.Session.Exists(deviceSessionID)
	if err != nil {
		return apperror.Internal("could not load device session", err)
	}
	if !ok {
		return apperror.Unauthorized("unknown_device_session", "device session not found")
	}

	flags, err := collab.Setting.Flags()
	if err != nil {
		return apperror.Internal("could not load feature flags", err)
	}
	if !flags.PurposeEnabled(purpose) {
		return apperror.Forbidden("feature_disabled", fmt.Sprintf("%s payments are disabled", purpose))
	}
	return nil
}

func (s *Service) prepare(repo Repository, purpose string, req Request) (models.LedgerRecord, int64, error) {
	collab := repo.Collaborators()

	switch purpose {
	case models.PurposePost:
		if _, err := activeLocation(repo, req.LocationID); err != nil {
			return nil, 0, err
		}
		record := &models.PostPayment{}
		fillRequester(record.Entry(), req)
		return record, s.pricing.PostSats, nil

	case models.PurposeBoost:
		weight := req.Weight
		if weight == 0 {
			weight = 1
		}
		if weight < 1 || weight > MaxBoostWeight {
			return nil, 0, apperror.Validation("invalid_weight", fmt.Sprintf("weight must be between 1 and %d", MaxBoostWeight))
		}
		post, err := postAt(collab.Post.GetByID, req.PostID, req.LocationID)
		if err != nil {
			return nil, 0, err
		}
		record := &models.BoostPayment{PostID: post.ID, Weight: weight}
		fillRequester(record.Entry(), req)
		record.LocationID = post.LocationID
		return record, s.pricing.BoostSats * int64(weight), nil

	case models.PurposeDelete:
		post, err := postAt(collab.Post.GetByID, req.PostID, req.LocationID)
		if err != nil {
			return nil, 0, err
		}
		if post.DeviceSessionID != req.DeviceSessionID {
			return nil, 0, apperror.Forbidden("not_post_owner", "only the author can delete this post")
		}
		record := &models.DeletionPayment{PostID: post.ID}
		fillRequester(record.Entry(), req)
		record.LocationID = post.LocationID
		return record, s.pricing.DeleteSats, nil

	case models.PurposeMerchantClaim:
		name := strings.TrimSpace(req.BusinessName)
		if name == "" || utf8.RuneCountInString(name) > 120 {
			return nil, 0, apperror.Validation("invalid_business_name", "business name must be 1-120 characters")
		}
		loc, err := activeLocation(repo, req.LocationID)
		if err != nil {
			return nil, 0, err
		}
		if loc.Claimed {
			return nil, 0, apperror.Conflict("location_already_claimed", "location is already claimed")
		}
		code, err := shortener.GenerateClaimCode()
		if err != nil {
			return nil, 0, apperror.Internal("could not generate claim code", err)
		}
		record := &models.MerchantClaim{
			ClaimCode:    code,
			BusinessName: name,
			ClaimStatus:  models.ClaimStatusPending,
		}
		fillRequester(record.Entry(), req)
		return record, s.pricing.ClaimSats, nil
	}

	return nil, 0, apperror.Validation("invalid_purpose", "unknown invoice purpose")
}

func fillRequester(e *models.LedgerEntry, req Request) {
	e.DeviceSessionID = req.DeviceSessionID
	e.LocationID = req.LocationID
}

func activeLocation(repo Repository, id uint) (*models.Location, error) {
	if id == 0 {
		return nil, apperror.Validation("invalid_location", "location is required")
	}
	loc, err := repo.Collaborators().Location.GetByID(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperror.NotFound("location_not_found", "location not found")
		}
		return nil, apperror.Internal("could not load location", err)
	}
	if !loc.Active {
		return nil, apperror.NotFound("location_not_found", "location not found")
	}
	return loc, nil
}

// postAt loads a post and requires it to belong to the location the
// requester proved presence at.
func postAt(get func(uint) (*models.Post, error), postID, locationID uint) (*models.Post, error) {
	post, err := findPost(get, postID)
	if err != nil {
		return nil, err
	}
	if post.LocationID != locationID {
		return nil, apperror.Forbidden("post_not_here", "post belongs to another location")
	}
	return post, nil
}

func findPost(get func(uint) (*models.Post, error), id uint) (*models.Post, error) {
	if id == 0 {
		return nil, apperror.Validation("invalid_post", "post is required")
	}
	post, err := get(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperror.NotFound("post_not_found", "post not found")
		}
		return nil, apperror.Internal("could not load post", err)
	}
	return post, nil
}

// open calls the backend and persists the record. Nothing is stored when the
// backend fails.
func (s *Service) open(ctx context.Context, purpose string, record models.LedgerRecord, amount int64) error {
	memo := strings.TrimSpace(s.memoPrefix + " " + purpose)
	inv, err := s.provider.CreateInvoice(ctx, amount, memo)
	if err != nil {
		log.Errorf("[Ledger] %s invoice creation failed at %s: %v", purpose, s.provider.Name(), err)
		e := apperror.Unavailable("provider_unavailable", "payment provider is unavailable")
		e.Err = err
		return e
	}

	e := record.Entry()
	e.PublicID = uuid.NewString()
	e.Provider = s.provider.Name()
	e.ProviderInvoiceID = inv.ProviderInvoiceID
	e.PaymentRequest = inv.PaymentRequest
	e.AmountSats = amount
	if inv.AmountSats > 0 {
		e.AmountSats = inv.AmountSats
	}
	e.Status = models.PaymentStatusPending
	if !inv.ExpiresAt.IsZero() {
		expires := inv.ExpiresAt.UTC()
		e.ExpiresAt = &expires
	}

	err = s.repo.Transaction(ctx, func(tx Repository) error {
		return tx.Insert(purpose, record)
	})
	if err != nil {
		return apperror.Internal("could not store invoice", err)
	}

	metrics.RecordInvoiceCreated(purpose, e.Provider)
	log.Infof("[Ledger] Created %s invoice %s (%d sats)", purpose, e.ProviderInvoiceID, e.AmountSats)
	return nil
}

// ApplyPaymentEffects settles the invoice and applies its purpose effect.
// Repeated calls for the same invoice return Success=false without touching
// anything.
func (s *Service) ApplyPaymentEffects(ctx context.Context, providerInvoiceID string) (Result, error) {
	repo := s.repo.WithContext(ctx)

	idx, err := repo.FindIndex(providerInvoiceID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			metrics.RecordSettlement("", "not_processed")
			return Result{Reason: reasonNotProcessed}, nil
		}
		return Result{}, apperror.Internal("could not load invoice", err)
	}
	record, err := repo.Load(idx.Purpose, idx.RecordID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			metrics.RecordSettlement(idx.Purpose, "not_processed")
			return Result{Purpose: idx.Purpose, Reason: reasonNotProcessed}, nil
		}
		return Result{}, apperror.Internal("could not load invoice", err)
	}
	if !record.Entry().IsPending() {
		metrics.RecordSettlement(idx.Purpose, "not_processed")
		return Result{Purpose: idx.Purpose, Reason: reasonNotProcessed}, nil
	}

	if idx.Purpose == models.PurposeSponsor {
		unlock, err := s.locker.Lock(ctx, SponsorLockKey(record.Entry().LocationID))
		if err != nil {
			e := apperror.Unavailable("lock_unavailable", "sponsorship scheduling is busy, retry")
			e.Err = err
			return Result{}, e
		}
		defer unlock()
	}

	now := s.now()
	result := Result{Purpose: idx.Purpose, Reason: reasonNotProcessed}
	err = s.repo.Transaction(ctx, func(tx Repository) error {
		ok, err := tx.MarkPaid(idx.Purpose, idx.RecordID, now)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		e := record.Entry()
		e.Status = models.PaymentStatusPaid
		e.PaidAt = &now

		reason, err := s.applyEffect(tx, record, now)
		if err != nil {
			return err
		}
		result = Result{Success: true, Purpose: idx.Purpose, Reason: reason}
		return nil
	})
	if err != nil {
		metrics.RecordSettlement(idx.Purpose, "error")
		log.Errorf("[Ledger] Settlement of %s failed: %v", providerInvoiceID, err)
		return Result{}, apperror.Internal("could not apply payment", err)
	}

	if result.Success {
		metrics.RecordSettlement(idx.Purpose, "applied")
		log.Infof("[Ledger] Settled %s invoice %s", idx.Purpose, providerInvoiceID)
	} else {
		metrics.RecordSettlement(idx.Purpose, "not_processed")
	}
	return result, nil
}

func (s *Service) applyEffect(tx Repository, record models.LedgerRecord, now time.Time) (string, error) {
	collab := tx.Collaborators()

	switch r := record.(type) {
	case *models.BoostPayment:
		err := collab.Post.ApplyBoost(r.PostID, r.Weight, now.Add(s.pricing.BoostDuration))
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Warnf("[Ledger] Boost %d paid for missing post %d", r.ID, r.PostID)
			return "post no longer exists", nil
		}
		return "", err

	case *models.Sponsorship:
		at, err := sponsorship.Schedule(tx.Sponsorships(), r, now)
		if err != nil {
			return "", err
		}
		log.Infof("[Ledger] Sponsorship %d at location %d activates %s", r.ID, r.LocationID, at.Format(time.RFC3339))
		return "", nil

	case *models.MerchantClaim:
		claimed, err := collab.Location.MarkClaimed(r.LocationID, r.ID)
		if err != nil {
			return "", err
		}
		if !claimed {
			if _, err := tx.SetClaimStatus(r.ID, []string{models.ClaimStatusPending}, models.ClaimStatusRevoked, nil); err != nil {
				return "", err
			}
			r.ClaimStatus = models.ClaimStatusRevoked
			log.Warnf("[Ledger] Claim %d revoked, location %d was claimed meanwhile", r.ID, r.LocationID)
			return reasonClaimRaced, nil
		}
		if _, err := tx.SetClaimStatus(r.ID, []string{models.ClaimStatusPending}, models.ClaimStatusVerified, &now); err != nil {
			return "", err
		}
		r.ClaimStatus = models.ClaimStatusVerified
		r.ClaimedAt = &now
		return "", nil
	}

	// post and delete credits are consumed later
	return "", nil
}

// InvoiceStatus returns the invoice and, while it is pending, asks the backend
// whether it settled or expired in the meantime.
func (s *Service) InvoiceStatus(ctx context.Context, providerInvoiceID string) (*Invoice, error) {
	repo := s.repo.WithContext(ctx)
	idx, err := repo.FindIndex(providerInvoiceID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperror.NotFound("invoice_not_found", "invoice not found")
		}
		return nil, apperror.Internal("could not load invoice", err)
	}
	record, err := repo.Load(idx.Purpose, idx.RecordID)
	if err != nil {
		return nil, apperror.Internal("could not load invoice", err)
	}
	if !record.Entry().IsPending() || idx.Provider != s.provider.Name() {
		return NewInvoice(idx.Purpose, record), nil
	}

	status, err := s.provider.CheckPaymentStatus(ctx, providerInvoiceID)
	if err != nil {
		log.Warnf("[Ledger] Status check of %s failed: %v", providerInvoiceID, err)
		return NewInvoice(idx.Purpose, record), nil
	}

	switch status {
	case lightning.StatusPaid:
		if _, err := s.ApplyPaymentEffects(ctx, providerInvoiceID); err != nil {
			return nil, err
		}
	case lightning.StatusExpired:
		if _, err := repo.MarkExpired(idx.Purpose, idx.RecordID); err != nil {
			return nil, apperror.Internal("could not expire invoice", err)
		}
	default:
		return NewInvoice(idx.Purpose, record), nil
	}

	record, err = repo.Load(idx.Purpose, idx.RecordID)
	if err != nil {
		return nil, apperror.Internal("could not load invoice", err)
	}
	return NewInvoice(idx.Purpose, record), nil
}

// HandleWebhook verifies a provider delivery, audits it once and settles or
// expires the invoice it names.
func (s *Service) HandleWebhook(ctx context.Context, providerName string, header func(string) string, body []byte) (Result, error) {
	providerName = strings.ToLower(strings.TrimSpace(providerName))
	if providerName != s.provider.Name() {
		return Result{}, apperror.NotFound("unknown_provider", "webhook provider is not configured")
	}

	event, err := s.provider.VerifyWebhook(header, body)
	if err != nil {
		switch {
		case errors.Is(err, lightning.ErrWebhookSecretMissing):
			metrics.RecordWebhook(providerName, "unconfigured")
			log.Errorf("[Webhook] %s delivery refused: %v", providerName, err)
			return Result{}, apperror.Unavailable("webhook_secret_missing", "webhook verification is not configured")
		case errors.Is(err, lightning.ErrInvalidSignature):
			metrics.RecordWebhook(providerName, "invalid_signature")
			log.Warnf("[Webhook] %s delivery with invalid signature rejected", providerName)
			return Result{}, apperror.Unauthorized("invalid_signature", "invalid webhook signature")
		default:
			metrics.RecordWebhook(providerName, "invalid_payload")
			return Result{}, apperror.Validation("invalid_payload", "invalid webhook payload")
		}
	}

	repo := s.repo.WithContext(ctx)
	created, stored, err := repo.CreateWebhookEventIfNotExists(&models.PaymentWebhookEvent{
		Provider:        providerName,
		ProviderEventID: event.EventID,
		EventType:       event.EventType,
		PayloadJSON:     string(body),
		SignatureValid:  true,
	})
	if err != nil {
		return Result{}, apperror.Internal("could not record webhook", err)
	}
	if !created && stored.ProcessedAt != nil && stored.ProcessingError == "" {
		metrics.RecordWebhook(providerName, "duplicate")
		return Result{Reason: reasonDuplicate}, nil
	}

	result, procErr := s.processEvent(ctx, repo, event)
	errText := ""
	switch {
	case procErr != nil:
		errText = procErr.Error()
	case result.Reason == reasonUnconfirmed:
		// a genuine later delivery with the same event id must still be processed
		errText = reasonUnconfirmed
	}
	if err := repo.MarkWebhookProcessed(stored.ID, errText); err != nil {
		log.Errorf("[Webhook] Could not mark event %d processed: %v", stored.ID, err)
	}
	if procErr != nil {
		metrics.RecordWebhook(providerName, "error")
		return Result{}, procErr
	}
	metrics.RecordWebhook(providerName, "accepted")
	return result, nil
}

func (s *Service) processEvent(ctx context.Context, repo Repository, event *lightning.WebhookEvent) (Result, error) {
	if !event.StatusSigned && event.Status != lightning.StatusPending {
		confirmed, err := s.provider.CheckPaymentStatus(ctx, event.ProviderInvoiceID)
		if err != nil {
			e := apperror.Unavailable("provider_unavailable", "could not confirm payment status")
			e.Err = err
			return Result{}, e
		}
		if confirmed != event.Status {
			log.Warnf("[Webhook] Delivery for %s reported %s but the provider reports %s",
				event.ProviderInvoiceID, event.Status, confirmed)
			return Result{Reason: reasonUnconfirmed}, nil
		}
	}

	switch event.Status {
	case lightning.StatusPaid:
		return s.ApplyPaymentEffects(ctx, event.ProviderInvoiceID)
	case lightning.StatusExpired:
		idx, err := repo.FindIndex(event.ProviderInvoiceID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return Result{Reason: reasonNotProcessed}, nil
			}
			return Result{}, apperror.Internal("could not load invoice", err)
		}
		if _, err := repo.MarkExpired(idx.Purpose, idx.RecordID); err != nil {
			return Result{}, apperror.Internal("could not expire invoice", err)
		}
		return Result{Purpose: idx.Purpose, Reason: reasonExpired}, nil
	}
	return Result{Reason: reasonPending}, nil
}

// RedeemDeletion spends a paid deletion credit on its post.
func (s *Service) RedeemDeletion(ctx context.Context, deviceSessionID, publicID string, postID uint) error {
	repo := s.repo.WithContext(ctx)
	record, err := repo.FindByPublicID(models.PurposeDelete, strings.TrimSpace(publicID))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperror.NotFound("deletion_payment_not_found", "deletion payment not found")
		}
		return apperror.Internal("could not load deletion payment", err)
	}
	payment := record.(*models.DeletionPayment)

	switch {
	case payment.DeviceSessionID != deviceSessionID:
		return apperror.Forbidden("not_payment_owner", "deletion payment belongs to another device")
	case payment.PostID != postID:
		return apperror.Validation("post_mismatch", "deletion payment was made for another post")
	case payment.Status != models.PaymentStatusPaid:
		return apperror.Conflict("payment_not_settled", "deletion payment is not paid")
	case payment.ConsumedAt != nil:
		return apperror.Conflict("already_redeemed", "deletion payment was already redeemed")
	}

	now := s.now()
	return s.repo.Transaction(ctx, func(tx Repository) error {
		ok, err := tx.ConsumeDeletion(payment.ID, now)
		if err != nil {
			return apperror.Internal("could not redeem deletion", err)
		}
		if !ok {
			return apperror.Conflict("already_redeemed", "deletion payment was already redeemed")
		}
		if err := tx.Collaborators().Post.SoftDelete(postID); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperror.NotFound("post_not_found", "post not found")
			}
			return apperror.Internal("could not delete post", err)
		}
		log.Infof("[Ledger] Post %d deleted with payment %s", postID, payment.PublicID)
		return nil
	})
}

// ConsumePostCredit spends the oldest paid post credit of the device at the
// location.
func (s *Service) ConsumePostCredit(ctx context.Context, deviceSessionID string, locationID uint) (*models.PostPayment, error) {
	repo := s.repo.WithContext(ctx)
	for attempt := 0; attempt < 3; attempt++ {
		credit, err := repo.OldestUnconsumedPostPayment(deviceSessionID, locationID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, apperror.Forbidden("payment_required", "no paid post credit available")
			}
			return nil, apperror.Internal("could not load post credits", err)
		}
		now := s.now()
		ok, err := repo.ConsumePostPayment(credit.ID, now)
		if err != nil {
			return nil, apperror.Internal("could not consume post credit", err)
		}
		if ok {
			credit.ConsumedAt = &now
			return credit, nil
		}
	}
	return nil, apperror.Conflict("credit_contended", "post credit was taken concurrently, retry")
}

// RevokeClaim revokes a claim by numeric id or claim code and releases its
// location.
func (s *Service) RevokeClaim(ctx context.Context, ref string) (*models.MerchantClaim, error) {
	repo := s.repo.WithContext(ctx)
	claim, err := s.findClaim(repo, ref)
	if err != nil {
		return nil, err
	}

	err = s.repo.Transaction(ctx, func(tx Repository) error {
		ok, err := tx.SetClaimStatus(claim.ID,
			[]string{models.ClaimStatusPending, models.ClaimStatusVerified}, models.ClaimStatusRevoked, nil)
		if err != nil {
			return apperror.Internal("could not revoke claim", err)
		}
		if !ok {
			return apperror.Conflict("claim_already_revoked", "claim is already revoked")
		}
		if err := tx.Collaborators().Location.ReleaseClaim(claim.LocationID, claim.ID); err != nil {
			return apperror.Internal("could not release location", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	claim.ClaimStatus = models.ClaimStatusRevoked
	log.Infof("[Ledger] Claim %d on location %d revoked", claim.ID, claim.LocationID)
	return claim, nil
}

func (s *Service) findClaim(repo Repository, ref string) (*models.MerchantClaim, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, apperror.Validation("invalid_claim", "claim id or code is required")
	}

	var (
		claim *models.MerchantClaim
		err   error
	)
	if id, perr := strconv.ParseUint(ref, 10, 64); perr == nil {
		var record models.LedgerRecord
		record, err = repo.Load(models.PurposeMerchantClaim, uint(id))
		if err == nil {
			claim = record.(*models.MerchantClaim)
		}
	} else {
		claim, err = repo.FindClaimByCode(shortener.NormalizeClaimCode(ref))
	}
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperror.NotFound("claim_not_found", "claim not found")
		}
		return nil, apperror.Internal("could not load claim", err)
	}
	return claim, nil
}

package models

import (
	"time"
)

// Purposes a Lightning invoice can be requested for.
const (
	PurposePost          = "post"
	PurposeBoost         = "boost"
	PurposeDelete        = "delete"
	PurposeSponsor       = "sponsor"
	PurposeMerchantClaim = "merchant_claim"
)

// Ledger entry statuses. Transitions only go pending -> paid or pending -> expired.
const (
	PaymentStatusPending = "pending"
	PaymentStatusPaid    = "paid"
	PaymentStatusExpired = "expired"
)

// Merchant claim statuses.
const (
	ClaimStatusPending  = "pending"
	ClaimStatusVerified = "verified"
	ClaimStatusRevoked  = "revoked"
)

// SponsorshipWindow is how long a settled sponsorship occupies its location.
const SponsorshipWindow = 24 * time.Hour

// Purposes lists every purpose in a stable order.
func Purposes() []string {
	return []string{PurposePost, PurposeBoost, PurposeDelete, PurposeSponsor, PurposeMerchantClaim}
}

// IsValidPurpose reports whether p names a known purpose.
func IsValidPurpose(p string) bool {
	for _, known := range Purposes() {
		if p == known {
			return true
		}
	}
	return false
}

// LedgerEntry holds the columns shared by every purpose table.
type LedgerEntry struct {
	ID                uint       `gorm:"primaryKey" json:"id"`
	PublicID          string     `gorm:"type:varchar(36);not null;uniqueIndex" json:"public_id"`
	Provider          string     `gorm:"type:varchar(20);not null" json:"provider"`
	ProviderInvoiceID string     `gorm:"type:varchar(191);not null;uniqueIndex" json:"provider_invoice_id"`
	PaymentRequest    string     `gorm:"type:text;not null" json:"payment_request"`
	AmountSats        int64      `gorm:"not null" json:"amount_sats"`
	Status            string     `gorm:"type:varchar(20);not null;index" json:"status"`
	DeviceSessionID   string     `gorm:"type:varchar(64);not null;index" json:"device_session_id"`
	LocationID        uint       `gorm:"index" json:"location_id"`
	ExpiresAt         *time.Time `gorm:"type:timestamp;default:null" json:"expires_at,omitempty"`
	PaidAt            *time.Time `gorm:"type:timestamp;default:null" json:"paid_at,omitempty"`
	CreatedAt         time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// Entry exposes the shared columns of any purpose record.
func (e *LedgerEntry) Entry() *LedgerEntry { return e }

// IsPending reports whether the entry can still be settled.
func (e *LedgerEntry) IsPending() bool {
	return e.Status == PaymentStatusPending
}

// PostPayment buys one post beyond the free quota.
type PostPayment struct {
	LedgerEntry
	ConsumedAt *time.Time `gorm:"type:timestamp;default:null" json:"consumed_at,omitempty"`
}

func (PostPayment) TableName() string { return "post_payments" }

// BoostPayment raises a post's ranking weight for a limited time.
type BoostPayment struct {
	LedgerEntry
	PostID uint `gorm:"not null;index" json:"post_id"`
	Weight int  `gorm:"not null;default:1" json:"weight"`
}

func (BoostPayment) TableName() string { return "boost_payments" }

// DeletionPayment is redeemed once to delete a post.
type DeletionPayment struct {
	LedgerEntry
	PostID     uint       `gorm:"not null;index" json:"post_id"`
	ConsumedAt *time.Time `gorm:"type:timestamp;default:null" json:"consumed_at,omitempty"`
}

func (DeletionPayment) TableName() string { return "deletion_payments" }

// Sponsorship is a bid for a 24h sponsor window at a location. ActivationAt is
// set exactly once, when the bid settles.
type Sponsorship struct {
	LedgerEntry
	SponsorLabel string     `gorm:"type:varchar(80);not null" json:"sponsor_label"`
	ActivationAt *time.Time `gorm:"type:timestamp;default:null;index" json:"activation_at,omitempty"`
}

func (Sponsorship) TableName() string { return "sponsorships" }

// WindowEnd returns the end of the sponsor window, or nil if not scheduled.
func (s *Sponsorship) WindowEnd() *time.Time {
	if s.ActivationAt == nil {
		return nil
	}
	end := s.ActivationAt.Add(SponsorshipWindow)
	return &end
}

// IsActiveAt reports whether the sponsor window covers t.
func (s *Sponsorship) IsActiveAt(t time.Time) bool {
	if s.Status != PaymentStatusPaid || s.ActivationAt == nil {
		return false
	}
	return !t.Before(*s.ActivationAt) && t.Before(s.ActivationAt.Add(SponsorshipWindow))
}

// MerchantClaim ties a business owner to a location after payment.
type MerchantClaim struct {
	LedgerEntry
	ClaimCode        string     `gorm:"type:varchar(32);not null;uniqueIndex" json:"claim_code"`
	BusinessName     string     `gorm:"type:varchar(120);not null" json:"business_name"`
	ClaimStatus      string     `gorm:"type:varchar(20);not null;index" json:"claim_status"`
	LinkedIdentityID *uint      `gorm:"index" json:"linked_identity_id,omitempty"`
	ClaimedAt        *time.Time `gorm:"type:timestamp;default:null" json:"claimed_at,omitempty"`
}

func (MerchantClaim) TableName() string { return "merchant_claims" }

// InvoiceIndex maps every provider invoice id to exactly one purpose record.
type InvoiceIndex struct {
	ID                uint      `gorm:"primaryKey" json:"id"`
	Provider          string    `gorm:"type:varchar(20);not null" json:"provider"`
	ProviderInvoiceID string    `gorm:"type:varchar(191);not null;uniqueIndex" json:"provider_invoice_id"`
	Purpose           string    `gorm:"type:varchar(20);not null" json:"purpose"`
	RecordID          uint      `gorm:"not null" json:"record_id"`
	CreatedAt         time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (InvoiceIndex) TableName() string { return "invoice_index" }

// LedgerRecord is any purpose-specific ledger row.
type LedgerRecord interface {
	Entry() *LedgerEntry
	TableName() string
}

// NewLedgerRecord returns an empty record of the purpose's type, or nil.
func NewLedgerRecord(purpose string) LedgerRecord {
	switch purpose {
	case PurposePost:
		return &PostPayment{}
	case PurposeBoost:
		return &BoostPayment{}
	case PurposeDelete:
		return &DeletionPayment{}
	case PurposeSponsor:
		return &Sponsorship{}
	case PurposeMerchantClaim:
		return &MerchantClaim{}
	}
	return nil
}

// LedgerTable returns the purpose table name.
func LedgerTable(purpose string) string {
	switch purpose {
	case PurposePost:
		return PostPayment{}.TableName()
	case PurposeBoost:
		return BoostPayment{}.TableName()
	case PurposeDelete:
		return DeletionPayment{}.TableName()
	case PurposeSponsor:
		return Sponsorship{}.TableName()
	case PurposeMerchantClaim:
		return MerchantClaim{}.TableName()
	}
	return ""
}

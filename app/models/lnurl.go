package models

import "time"

// Challenge statuses.
const (
	ChallengeStatusPending  = "pending"
	ChallengeStatusVerified = "verified"
	ChallengeStatusExpired  = "expired"
)

// LnurlChallenge is a single-use k1 handed to a wallet.
type LnurlChallenge struct {
	ID              uint      `gorm:"primaryKey" json:"-"`
	K1              string    `gorm:"type:char(64);not null;uniqueIndex" json:"k1"`
	DeviceSessionID string    `gorm:"type:varchar(64);not null;index" json:"-"`
	Status          string    `gorm:"type:varchar(20);not null;index" json:"status"`
	ExpiresAt       time.Time `gorm:"type:timestamp;not null" json:"expires_at"`
	IdentityID      *uint     `json:"identity_id,omitempty"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// LnurlIdentity is a durable pseudonymous identity keyed by a wallet linking key.
type LnurlIdentity struct {
	ID               uint       `gorm:"primaryKey" json:"id"`
	LinkingKey       string     `gorm:"type:char(66);not null;uniqueIndex" json:"linking_key"`
	AnonNym          string     `gorm:"type:varchar(64);not null;uniqueIndex" json:"anon_nym"`
	DisplayName      *string    `gorm:"type:varchar(30)" json:"display_name,omitempty"`
	DisplayNameLower *string    `gorm:"type:varchar(30);uniqueIndex" json:"-"` // case-insensitive uniqueness
	LastLoginAt      *time.Time `gorm:"type:timestamp;default:null" json:"last_login_at,omitempty"`
	CreatedAt        time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// PublicName is the display name when set, otherwise the pseudonym.
func (i *LnurlIdentity) PublicName() string {
	if i.DisplayName != nil && *i.DisplayName != "" {
		return *i.DisplayName
	}
	return i.AnonNym
}

// LnurlIdentityDevice links a device session to an identity.
type LnurlIdentityDevice struct {
	ID              uint      `gorm:"primaryKey" json:"-"`
	IdentityID      uint      `gorm:"not null;index;uniqueIndex:ux_lnurl_identity_devices_pair,priority:1" json:"identity_id"`
	DeviceSessionID string    `gorm:"type:varchar(64);not null;uniqueIndex:ux_lnurl_identity_devices_pair,priority:2" json:"device_session_id"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"`
}

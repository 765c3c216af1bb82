package models

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"gorm.io/gorm"
)

// Feature flag keys stored in the settings table.
const (
	FlagPaidPostsEnabled      = "paid_posts_enabled"
	FlagBoostsEnabled         = "boosts_enabled"
	FlagPaidDeletesEnabled    = "paid_deletes_enabled"
	FlagSponsorshipsEnabled   = "sponsorships_enabled"
	FlagMerchantClaimsEnabled = "merchant_claims_enabled"
	FlagLnurlAuthEnabled      = "lnurl_auth_enabled"
)

// Setting represents a system setting
type Setting struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Key       string    `gorm:"column:setting_key;size:255;not null;uniqueIndex" json:"key" validate:"required,min=1,max=255"`
	Value     string    `gorm:"type:text" json:"value"`
	Type      string    `gorm:"size:50;not null" json:"type" validate:"required"` // string, boolean, integer, float
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// FeatureFlags toggles the paid and identity features. Every flag defaults to on.
type FeatureFlags struct {
	PaidPostsEnabled      bool `json:"paid_posts_enabled"`
	BoostsEnabled         bool `json:"boosts_enabled"`
	PaidDeletesEnabled    bool `json:"paid_deletes_enabled"`
	SponsorshipsEnabled   bool `json:"sponsorships_enabled"`
	MerchantClaimsEnabled bool `json:"merchant_claims_enabled"`
	LnurlAuthEnabled      bool `json:"lnurl_auth_enabled"`
}

// DefaultFeatureFlags returns every feature enabled.
func DefaultFeatureFlags() FeatureFlags {
	return FeatureFlags{
		PaidPostsEnabled:      true,
		BoostsEnabled:         true,
		PaidDeletesEnabled:    true,
		SponsorshipsEnabled:   true,
		MerchantClaimsEnabled: true,
		LnurlAuthEnabled:      true,
	}
}

// PurposeEnabled reports whether invoices for the purpose may be created.
func (f FeatureFlags) PurposeEnabled(purpose string) bool {
	switch purpose {
	case PurposePost:
		return f.PaidPostsEnabled
	case PurposeBoost:
		return f.BoostsEnabled
	case PurposeDelete:
		return f.PaidDeletesEnabled
	case PurposeSponsor:
		return f.SponsorshipsEnabled
	case PurposeMerchantClaim:
		return f.MerchantClaimsEnabled
	}
	return false
}

// LoadFeatureFlags reads the flags from the settings table on top of the defaults.
func LoadFeatureFlags(db *gorm.DB) (FeatureFlags, error) {
	flags := DefaultFeatureFlags()

	var settings []Setting
	if err := db.Where("type = ?", "boolean").Find(&settings).Error; err != nil {
		return flags, fmt.Errorf("failed to load settings: %w", err)
	}

	for _, setting := range settings {
		v, err := strconv.ParseBool(setting.Value)
		if err != nil {
			continue
		}
		switch setting.Key {
		case FlagPaidPostsEnabled:
			flags.PaidPostsEnabled = v
		case FlagBoostsEnabled:
			flags.BoostsEnabled = v
		case FlagPaidDeletesEnabled:
			flags.PaidDeletesEnabled = v
		case FlagSponsorshipsEnabled:
			flags.SponsorshipsEnabled = v
		case FlagMerchantClaimsEnabled:
			flags.MerchantClaimsEnabled = v
		case FlagLnurlAuthEnabled:
			flags.LnurlAuthEnabled = v
		}
	}

	return flags, nil
}

// SaveSetting creates or updates one setting row.
func SaveSetting(db *gorm.DB, key, value string) error {
	var setting Setting
	result := db.Where("setting_key = ?", key).First(&setting)

	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			setting = Setting{
				Key:   key,
				Value: value,
				Type:  getSettingType(key),
			}
			if err := db.Create(&setting).Error; err != nil {
				return fmt.Errorf("failed to create setting %s: %w", key, err)
			}
			return nil
		}
		return fmt.Errorf("failed to query setting %s: %w", key, result.Error)
	}

	setting.Value = value
	if err := db.Save(&setting).Error; err != nil {
		return fmt.Errorf("failed to update setting %s: %w", key, err)
	}
	return nil
}

// getSettingType returns the type of a setting based on its key
func getSettingType(key string) string {
	switch key {
	case FlagPaidPostsEnabled, FlagBoostsEnabled, FlagPaidDeletesEnabled,
		FlagSponsorshipsEnabled, FlagMerchantClaimsEnabled, FlagLnurlAuthEnabled:
		return "boolean"
	default:
		return "string"
	}
}

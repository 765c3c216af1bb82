package models

import (
	"time"

	"gorm.io/gorm"
)

// Post is the slice of the content store the payment effects touch.
type Post struct {
	ID              uint           `gorm:"primaryKey" json:"id"`
	LocationID      uint           `gorm:"not null;index" json:"location_id"`
	DeviceSessionID string         `gorm:"type:varchar(64);not null;index" json:"-"`
	Body            string         `gorm:"type:text" json:"body"`
	BoostWeight     int            `gorm:"not null;default:0" json:"boost_weight"`
	BoostExpiresAt  *time.Time     `gorm:"type:timestamp;default:null" json:"boost_expires_at,omitempty"`
	CreatedAt       time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt       gorm.DeletedAt `gorm:"index" json:"-"`
}

// IsBoostedAt reports whether a boost is in effect at t.
func (p *Post) IsBoostedAt(t time.Time) bool {
	return p.BoostWeight > 0 && p.BoostExpiresAt != nil && t.Before(*p.BoostExpiresAt)
}

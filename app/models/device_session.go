package models

import (
	"time"

	"github.com/google/uuid"
)

// DeviceSession is the anonymous identity of a browser or app install.
type DeviceSession struct {
	ID         string     `gorm:"type:varchar(64);primaryKey" json:"id"`
	UserAgent  string     `gorm:"type:varchar(255)" json:"-"`
	LastSeenAt *time.Time `gorm:"type:timestamp;default:null" json:"last_seen_at,omitempty"`
	CreatedAt  time.Time  `gorm:"autoCreateTime" json:"created_at"`
}

// NewDeviceSession returns a session with a fresh random id.
func NewDeviceSession(userAgent string) *DeviceSession {
	now := time.Now()
	if len(userAgent) > 255 {
		userAgent = userAgent[:255]
	}
	return &DeviceSession{
		ID:         uuid.NewString(),
		UserAgent:  userAgent,
		LastSeenAt: &now,
	}
}

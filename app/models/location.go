package models

import (
	"time"

	"github.com/go-playground/validator/v10"
)

// Location is a board anchored to a physical place.
type Location struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	Slug           string    `gorm:"type:varchar(120);not null;uniqueIndex" json:"slug" validate:"required,min=1,max=120"`
	Name           string    `gorm:"type:varchar(200);not null" json:"name" validate:"required,min=1,max=200"`
	Lat            float64   `gorm:"not null" json:"lat" validate:"gte=-90,lte=90"`
	Lng            float64   `gorm:"not null" json:"lng" validate:"gte=-180,lte=180"`
	RadiusM        float64   `gorm:"not null" json:"radius_m" validate:"gte=0"`
	Active         bool      `gorm:"not null;index" json:"active"`
	Claimed        bool      `gorm:"not null" json:"claimed"`
	ClaimedClaimID *uint     `json:"claimed_claim_id,omitempty"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (l *Location) Validate() error {
	v := validator.New()

	return v.Struct(l)
}

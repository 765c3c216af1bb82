package repository

import (
	"context"
	"time"

	"github.com/ManuelReschke/LocalBoard/app/models"
	"gorm.io/gorm"
)

// LocationRepository is the location directory.
type LocationRepository interface {
	Create(location *models.Location) error
	GetByID(id uint) (*models.Location, error)
	GetBySlug(slug string) (*models.Location, error)
	GetByIDs(ids []uint) ([]models.Location, error)
	ListActive() ([]models.Location, error)
	Update(location *models.Location) error
	// Version changes whenever a location is created, updated or removed.
	Version() (DirectoryVersion, error)
	// MarkClaimed flips claimed false -> true. It reports false when the
	// location was already claimed.
	MarkClaimed(id, claimID uint) (bool, error)
	// ReleaseClaim clears the claim only if claimID still holds it.
	ReleaseClaim(id, claimID uint) error
}

// DirectoryVersion identifies a state of the location directory.
type DirectoryVersion struct {
	Count     int64
	UpdatedAt time.Time
}

func (v DirectoryVersion) Equal(other DirectoryVersion) bool {
	return v.Count == other.Count && v.UpdatedAt.Equal(other.UpdatedAt)
}

// SessionRepository is the device session store.
type SessionRepository interface {
	Create(session *models.DeviceSession) error
	Exists(id string) (bool, error)
	Touch(id string, at time.Time) error
}

// PostRepository is the part of the content store the payment effects need.
type PostRepository interface {
	Create(post *models.Post) error
	GetByID(id uint) (*models.Post, error)
	ApplyBoost(postID uint, weight int, expiresAt time.Time) error
	SoftDelete(postID uint) error
}

// SettingRepository defines the interface for application settings
type SettingRepository interface {
	Flags() (models.FeatureFlags, error)
	GetValue(key string) (string, error)
	SetValue(key, value string) error
}

// Repositories struct holds all repository instances
type Repositories struct {
	db       *gorm.DB
	Location LocationRepository
	Session  SessionRepository
	Post     PostRepository
	Setting  SettingRepository
}

// NewRepositories creates a new instance of all repositories
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		db:       db,
		Location: NewLocationRepository(db),
		Session:  NewSessionRepository(db),
		Post:     NewPostRepository(db),
		Setting:  NewSettingRepository(db),
	}
}

// DB returns the handle the repositories are bound to.
func (r *Repositories) DB() *gorm.DB {
	return r.db
}

// WithContext returns repositories whose queries carry ctx.
func (r *Repositories) WithContext(ctx context.Context) *Repositories {
	return NewRepositories(r.db.WithContext(ctx))
}

// Transaction runs fn with repositories bound to one database transaction.
func (r *Repositories) Transaction(ctx context.Context, fn func(tx *Repositories) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(NewRepositories(tx))
	})
}

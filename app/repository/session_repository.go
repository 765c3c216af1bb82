package repository

import (
	"time"

	"github.com/ManuelReschke/LocalBoard/app/models"
	"gorm.io/gorm"
)

type sessionRepository struct {
	db *gorm.DB
}

// NewSessionRepository creates a new device session repository instance
func NewSessionRepository(db *gorm.DB) SessionRepository {
	return &sessionRepository{db: db}
}

func (r *sessionRepository) Create(session *models.DeviceSession) error {
	return r.db.Create(session).Error
}

func (r *sessionRepository) Exists(id string) (bool, error) {
	if id == "" {
		return false, nil
	}
	var count int64
	err := r.db.Model(&models.DeviceSession{}).Where("id = ?", id).Count(&count).Error
	return count > 0, err
}

func (r *sessionRepository) Touch(id string, at time.Time) error {
	return r.db.Model(&models.DeviceSession{}).Where("id = ?", id).Update("last_seen_at", at).Error
}

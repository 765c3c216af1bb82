package lnurl

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ManuelReschke/LocalBoard/app/models"
)

// Repository provides DB operations used by the LNURL-auth service.
type Repository interface {
	WithContext(ctx context.Context) Repository
	Transaction(ctx context.Context, fn func(tx Repository) error) error

	CreateChallenge(challenge *models.LnurlChallenge) error
	GetChallenge(k1 string) (*models.LnurlChallenge, error)
	// TransitionChallenge moves a pending challenge to status. It reports false
	// when the challenge was no longer pending.
	TransitionChallenge(k1, status string, identityID *uint) (bool, error)

	GetIdentityByKey(linkingKey string) (*models.LnurlIdentity, error)
	GetIdentityByDevice(deviceSessionID string) (*models.LnurlIdentity, error)
	AnonNymTaken(nym string) (bool, error)
	DisplayNameTaken(lower string, exceptID uint) (bool, error)
	CreateIdentity(identity *models.LnurlIdentity) error
	UpdateIdentity(id uint, updates map[string]interface{}) error

	LinkDevice(identityID uint, deviceSessionID string) error
	UnlinkDevice(deviceSessionID string) (int64, error)
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates an LNURL repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) WithContext(ctx context.Context) Repository {
	return &gormRepository{db: r.db.WithContext(ctx)}
}

func (r *gormRepository) Transaction(ctx context.Context, fn func(tx Repository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormRepository{db: tx})
	})
}

func (r *gormRepository) CreateChallenge(challenge *models.LnurlChallenge) error {
	return r.db.Create(challenge).Error
}

func (r *gormRepository) GetChallenge(k1 string) (*models.LnurlChallenge, error) {
	var c models.LnurlChallenge
	if err := r.db.Where("k1 = ?", k1).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *gormRepository) TransitionChallenge(k1, status string, identityID *uint) (bool, error) {
	updates := map[string]interface{}{
		"status":     status,
		"updated_at": time.Now().UTC(),
	}
	if identityID != nil {
		updates["identity_id"] = *identityID
	}
	res := r.db.Model(&models.LnurlChallenge{}).
		Where("k1 = ? AND status = ?", k1, models.ChallengeStatusPending).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *gormRepository) GetIdentityByKey(linkingKey string) (*models.LnurlIdentity, error) {
	var identity models.LnurlIdentity
	if err := r.db.Where("linking_key = ?", linkingKey).First(&identity).Error; err != nil {
		return nil, err
	}
	return &identity, nil
}

func (r *gormRepository) GetIdentityByDevice(deviceSessionID string) (*models.LnurlIdentity, error) {
	var identity models.LnurlIdentity
	err := r.db.
		Joins("JOIN lnurl_identity_devices ON lnurl_identity_devices.identity_id = lnurl_identities.id").
		Where("lnurl_identity_devices.device_session_id = ?", deviceSessionID).
		Order("lnurl_identity_devices.id DESC").
		First(&identity).Error
	if err != nil {
		return nil, err
	}
	return &identity, nil
}

func (r *gormRepository) AnonNymTaken(nym string) (bool, error) {
	var n int64
	err := r.db.Model(&models.LnurlIdentity{}).Where("anon_nym = ?", nym).Count(&n).Error
	return n > 0, err
}

func (r *gormRepository) DisplayNameTaken(lower string, exceptID uint) (bool, error) {
	var n int64
	err := r.db.Model(&models.LnurlIdentity{}).
		Where("display_name_lower = ? AND id <> ?", lower, exceptID).
		Count(&n).Error
	return n > 0, err
}

func (r *gormRepository) CreateIdentity(identity *models.LnurlIdentity) error {
	return r.db.Create(identity).Error
}

func (r *gormRepository) UpdateIdentity(id uint, updates map[string]interface{}) error {
	return r.db.Model(&models.LnurlIdentity{}).Where("id = ?", id).Updates(updates).Error
}

// LinkDevice points the device at identityID, dropping any link it had to
// another identity.
func (r *gormRepository) LinkDevice(identityID uint, deviceSessionID string) error {
	if err := r.db.
		Where("device_session_id = ? AND identity_id <> ?", deviceSessionID, identityID).
		Delete(&models.LnurlIdentityDevice{}).Error; err != nil {
		return err
	}
	link := &models.LnurlIdentityDevice{IdentityID: identityID, DeviceSessionID: deviceSessionID}
	return r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "identity_id"}, {Name: "device_session_id"}},
		DoNothing: true,
	}).Create(link).Error
}

func (r *gormRepository) UnlinkDevice(deviceSessionID string) (int64, error) {
	res := r.db.Where("device_session_id = ?", deviceSessionID).Delete(&models.LnurlIdentityDevice{})
	return res.RowsAffected, res.Error
}

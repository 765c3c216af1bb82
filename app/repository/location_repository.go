package repository

import (
	"github.com/ManuelReschke/LocalBoard/app/models"
	"gorm.io/gorm"
)

// locationRepository implements the LocationRepository interface
type locationRepository struct {
	db *gorm.DB
}

// NewLocationRepository creates a new location repository instance
func NewLocationRepository(db *gorm.DB) LocationRepository {
	return &locationRepository{db: db}
}

func (r *locationRepository) Create(location *models.Location) error {
	return r.db.Create(location).Error
}

func (r *locationRepository) GetByID(id uint) (*models.Location, error) {
	var location models.Location
	err := r.db.First(&location, id).Error
	if err != nil {
		return nil, err
	}
	return &location, nil
}

func (r *locationRepository) GetBySlug(slug string) (*models.Location, error) {
	var location models.Location
	err := r.db.Where("slug = ?", slug).First(&location).Error
	if err != nil {
		return nil, err
	}
	return &location, nil
}

// GetByIDs returns the active locations among ids, ordered by id.
func (r *locationRepository) GetByIDs(ids []uint) ([]models.Location, error) {
	var locations []models.Location
	if len(ids) == 0 {
		return locations, nil
	}
	err := r.db.Where("id IN ? AND active = ?", ids, true).Order("id ASC").Find(&locations).Error
	return locations, err
}

// ListActive returns every active location, ordered by id.
func (r *locationRepository) ListActive() ([]models.Location, error) {
	var locations []models.Location
	err := r.db.Where("active = ?", true).Order("id ASC").Find(&locations).Error
	return locations, err
}

func (r *locationRepository) Update(location *models.Location) error {
	return r.db.Save(location).Error
}

func (r *locationRepository) Version() (DirectoryVersion, error) {
	var v DirectoryVersion
	if err := r.db.Model(&models.Location{}).Count(&v.Count).Error; err != nil {
		return v, err
	}
	if v.Count == 0 {
		return v, nil
	}
	var latest models.Location
	if err := r.db.Select("id", "updated_at").Order("updated_at DESC").Order("id DESC").First(&latest).Error; err != nil {
		return v, err
	}
	v.UpdatedAt = latest.UpdatedAt
	return v, nil
}

func (r *locationRepository) MarkClaimed(id, claimID uint) (bool, error) {
	res := r.db.Model(&models.Location{}).
		Where("id = ? AND claimed = ?", id, false).
		Updates(map[string]interface{}{
			"claimed":          true,
			"claimed_claim_id": claimID,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *locationRepository) ReleaseClaim(id, claimID uint) error {
	return r.db.Model(&models.Location{}).
		Where("id = ? AND claimed_claim_id = ?", id, claimID).
		Updates(map[string]interface{}{
			"claimed":          false,
			"claimed_claim_id": nil,
		}).Error
}

package sponsorship

import (
	"time"

	"github.com/ManuelReschke/LocalBoard/app/models"
	"gorm.io/gorm"
)

// Repository provides the sponsorship reads and the activation write.
type Repository interface {
	// ListScheduled returns the paid entries of a location that have an
	// activation time, ordered by id.
	ListScheduled(locationID uint) ([]models.Sponsorship, error)
	// SetActivation writes activation_at once; it reports false when the entry
	// was already scheduled.
	SetActivation(id uint, at time.Time) (bool, error)
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a sponsorship repository backed by GORM. Pass a
// transaction handle to read and write inside it.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) ListScheduled(locationID uint) ([]models.Sponsorship, error) {
	var out []models.Sponsorship
	err := r.db.
		Where("location_id = ? AND status = ? AND activation_at IS NOT NULL", locationID, models.PaymentStatusPaid).
		Order("id ASC").
		Find(&out).Error
	return out, err
}

func (r *gormRepository) SetActivation(id uint, at time.Time) (bool, error) {
	res := r.db.Model(&models.Sponsorship{}).
		Where("id = ? AND activation_at IS NULL", id).
		Update("activation_at", at)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// Schedule computes and stores the activation of a just-settled sponsorship.
// The caller holds the location lock and passes a repository bound to the
// settlement transaction.
func Schedule(repo Repository, entry *models.Sponsorship, now time.Time) (time.Time, error) {
	scheduled, err := repo.ListScheduled(entry.LocationID)
	if err != nil {
		return time.Time{}, err
	}
	others := scheduled[:0]
	for _, s := range scheduled {
		if s.ID != entry.ID {
			others = append(others, s)
		}
	}

	at := ComputeActivation(Tail(others), now)
	ok, err := repo.SetActivation(entry.ID, at)
	if err != nil {
		return time.Time{}, err
	}
	if !ok {
		return time.Time{}, gorm.ErrRecordNotFound
	}
	entry.ActivationAt = &at
	return at, nil
}

package ledger

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ManuelReschke/LocalBoard/app/models"
	"github.com/ManuelReschke/LocalBoard/app/repository"
	"github.com/ManuelReschke/LocalBoard/internal/pkg/sponsorship"
)

// Repository provides DB operations used by the ledger service. All purpose
// tables sit behind one lookup by provider invoice id.
type Repository interface {
	WithContext(ctx context.Context) Repository
	Transaction(ctx context.Context, fn func(tx Repository) error) error
	// Collaborators returns the collaborator repositories bound to the same handle.
	Collaborators() *repository.Repositories
	// Sponsorships returns the sponsorship repository bound to the same handle.
	Sponsorships() sponsorship.Repository

	Insert(purpose string, record models.LedgerRecord) error
	FindIndex(providerInvoiceID string) (*models.InvoiceIndex, error)
	Load(purpose string, id uint) (models.LedgerRecord, error)
	FindByPublicID(purpose, publicID string) (models.LedgerRecord, error)

	MarkPaid(purpose string, id uint, paidAt time.Time) (bool, error)
	MarkExpired(purpose string, id uint) (bool, error)

	SetClaimStatus(id uint, from []string, to string, claimedAt *time.Time) (bool, error)
	FindClaimByCode(code string) (*models.MerchantClaim, error)
	ConsumeDeletion(id uint, at time.Time) (bool, error)
	OldestUnconsumedPostPayment(deviceSessionID string, locationID uint) (*models.PostPayment, error)
	ConsumePostPayment(id uint, at time.Time) (bool, error)

	CreateWebhookEventIfNotExists(event *models.PaymentWebhookEvent) (bool, *models.PaymentWebhookEvent, error)
	MarkWebhookProcessed(id uint, processingError string) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a ledger repository backed by GORM.
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

func (r *gormRepository) Collaborators() *repository.Repositories {
	return repository.NewRepositories(r.db)
}

func (r *gormRepository) Sponsorships() sponsorship.Repository {
	return sponsorship.NewRepository(r.db)
}

// Insert stores the purpose record and its index row. Call it inside a
// transaction so both land or neither does.
func (r *gormRepository) Insert(purpose string, record models.LedgerRecord) error {
	if err := r.db.Create(record).Error; err != nil {
		return err
	}
	e := record.Entry()
	idx := &models.InvoiceIndex{
		Provider:          e.Provider,
		ProviderInvoiceID: e.ProviderInvoiceID,
		Purpose:           purpose,
		RecordID:          e.ID,
	}
	return r.db.Create(idx).Error
}

func (r *gormRepository) FindIndex(providerInvoiceID string) (*models.InvoiceIndex, error) {
	var idx models.InvoiceIndex
	err := r.db.Where("provider_invoice_id = ?", providerInvoiceID).First(&idx).Error
	if err != nil {
		return nil, err
	}
	return &idx, nil
}

func (r *gormRepository) Load(purpose string, id uint) (models.LedgerRecord, error) {
	record := models.NewLedgerRecord(purpose)
	if record == nil {
		return nil, fmt.Errorf("unknown purpose %q", purpose)
	}
	if err := r.db.First(record, id).Error; err != nil {
		return nil, err
	}
	return record, nil
}

func (r *gormRepository) FindByPublicID(purpose, publicID string) (models.LedgerRecord, error) {
	record := models.NewLedgerRecord(purpose)
	if record == nil {
		return nil, fmt.Errorf("unknown purpose %q", purpose)
	}
	if err := r.db.Where("public_id = ?", publicID).First(record).Error; err != nil {
		return nil, err
	}
	return record, nil
}

// MarkPaid is the settlement compare-and-swap: one conditional write that only
// succeeds while the row is still pending.
func (r *gormRepository) MarkPaid(purpose string, id uint, paidAt time.Time) (bool, error) {
	res := r.db.Table(models.LedgerTable(purpose)).
		Where("id = ? AND status = ?", id, models.PaymentStatusPending).
		Updates(map[string]interface{}{
			"status":     models.PaymentStatusPaid,
			"paid_at":    paidAt,
			"updated_at": paidAt,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *gormRepository) MarkExpired(purpose string, id uint) (bool, error) {
	res := r.db.Table(models.LedgerTable(purpose)).
		Where("id = ? AND status = ?", id, models.PaymentStatusPending).
		Updates(map[string]interface{}{
			"status":     models.PaymentStatusExpired,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *gormRepository) SetClaimStatus(id uint, from []string, to string, claimedAt *time.Time) (bool, error) {
	updates := map[string]interface{}{"claim_status": to}
	if claimedAt != nil {
		updates["claimed_at"] = *claimedAt
	}
	res := r.db.Model(&models.MerchantClaim{}).
		Where("id = ? AND claim_status IN ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *gormRepository) FindClaimByCode(code string) (*models.MerchantClaim, error) {
	var claim models.MerchantClaim
	if err := r.db.Where("claim_code = ?", code).First(&claim).Error; err != nil {
		return nil, err
	}
	return &claim, nil
}

func (r *gormRepository) ConsumeDeletion(id uint, at time.Time) (bool, error) {
	res := r.db.Model(&models.DeletionPayment{}).
		Where("id = ? AND status = ? AND consumed_at IS NULL", id, models.PaymentStatusPaid).
		Update("consumed_at", at)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *gormRepository) OldestUnconsumedPostPayment(deviceSessionID string, locationID uint) (*models.PostPayment, error) {
	var p models.PostPayment
	err := r.db.
		Where("device_session_id = ? AND location_id = ? AND status = ? AND consumed_at IS NULL",
			deviceSessionID, locationID, models.PaymentStatusPaid).
		Order("id ASC").
		First(&p).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *gormRepository) ConsumePostPayment(id uint, at time.Time) (bool, error) {
	res := r.db.Model(&models.PostPayment{}).
		Where("id = ? AND status = ? AND consumed_at IS NULL", id, models.PaymentStatusPaid).
		Update("consumed_at", at)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *gormRepository) CreateWebhookEventIfNotExists(event *models.PaymentWebhookEvent) (bool, *models.PaymentWebhookEvent, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_event_id"},
		},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.PaymentWebhookEvent
	if err := r.db.Where("provider = ? AND provider_event_id = ?", event.Provider, event.ProviderEventID).
		First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *gormRepository) MarkWebhookProcessed(id uint, processingError string) error {
	now := time.Now().UTC()
	updates := map[string]interface{}{
		"processed_at":     &now,
		"processing_error": processingError,
	}
	return r.db.Model(&models.PaymentWebhookEvent{}).Where("id = ?", id).Updates(updates).Error
}

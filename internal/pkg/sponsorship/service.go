package sponsorship

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"gorm.io/gorm"

	"github.com/ManuelReschke/LocalBoard/app/models"
	"github.com/ManuelReschke/LocalBoard/internal/pkg/apperror"
)

// Invoicer creates the pending sponsorship row together with its invoice.
type Invoicer interface {
	CreateSponsorInvoice(ctx context.Context, deviceSessionID string, locationID uint, amountSats int64, label string) (*models.Sponsorship, error)
}

type BidRequest struct {
	DeviceSessionID string
	LocationID      uint
	AmountSats      int64
	SponsorLabel    string
}

// Service answers bid and queue requests.
type Service struct {
	db       *gorm.DB
	invoicer Invoicer
	baseSats int64
	now      func() time.Time
}

func NewService(db *gorm.DB, invoicer Invoicer, baseSats int64) *Service {
	return &Service{
		db:       db,
		invoicer: invoicer,
		baseSats: baseSats,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) scheduled(ctx context.Context, locationID uint) ([]models.Sponsorship, error) {
	entries, err := NewRepository(s.db.WithContext(ctx)).ListScheduled(locationID)
	if err != nil {
		return nil, apperror.Internal("could not load sponsorships", err)
	}
	return entries, nil
}

// MinimumBid returns the floor for a new bid at the location and the sponsor
// it has to beat, if any.
func (s *Service) MinimumBid(ctx context.Context, locationID uint) (int64, *models.Sponsorship, error) {
	entries, err := s.scheduled(ctx, locationID)
	if err != nil {
		return 0, nil, err
	}
	active := Current(entries, s.now())
	return MinimumBid(active, s.baseSats), active, nil
}

// SubmitBid checks the bid floor and opens a sponsor invoice.
func (s *Service) SubmitBid(ctx context.Context, req BidRequest) (*models.Sponsorship, error) {
	label := strings.TrimSpace(req.SponsorLabel)
	if label == "" || utf8.RuneCountInString(label) > 80 {
		return nil, apperror.Validation("invalid_sponsor_label", "sponsor label must be 1-80 characters")
	}
	if req.LocationID == 0 {
		return nil, apperror.Validation("invalid_location", "location is required")
	}

	floor, _, err := s.MinimumBid(ctx, req.LocationID)
	if err != nil {
		return nil, err
	}
	if req.AmountSats < floor {
		return nil, apperror.Validation("bid_too_low", fmt.Sprintf("bid must be at least %d sats", floor))
	}

	return s.invoicer.CreateSponsorInvoice(ctx, req.DeviceSessionID, req.LocationID, req.AmountSats, label)
}

// Current returns the active sponsor of the location, or nil.
func (s *Service) Current(ctx context.Context, locationID uint) (*models.Sponsorship, error) {
	entries, err := s.scheduled(ctx, locationID)
	if err != nil {
		return nil, err
	}
	return Current(entries, s.now()), nil
}

// Queue lists the current and upcoming sponsors of the location.
func (s *Service) Queue(ctx context.Context, locationID uint) ([]QueueEntry, error) {
	entries, err := s.scheduled(ctx, locationID)
	if err != nil {
		return nil, err
	}
	return BuildQueue(entries, s.now()), nil
}

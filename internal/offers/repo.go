package offers

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lastbite/lastbite-backend/pkg/db/models"
)

// Repository persists offers. Claim, Release and MarkSold are compare-and-set
// updates that report whether this caller won.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, offer *models.Offer) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Offer, error)
	Claim(ctx context.Context, offerID, buyerID uuid.UUID, at time.Time) (bool, error)
	Release(ctx context.Context, offerID, buyerID uuid.UUID, at time.Time) (bool, error)
	MarkSold(ctx context.Context, offerID, buyerID uuid.UUID, at time.Time) (bool, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds an offers repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, offer *models.Offer) error {
	if offer.ID == uuid.Nil {
		offer.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(offer).Error
}

// FindByID returns nil, nil when the offer does not exist.
func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Offer, error) {
	var offer models.Offer
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&offer).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &offer, nil
}

func (r *repository) Claim(ctx context.Context, offerID, buyerID uuid.UUID, at time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Offer{}).
		Where("id = ? AND buyer_id IS NULL AND sold_at IS NULL", offerID).
		Updates(map[string]any{
			"buyer_id":   buyerID,
			"updated_at": at,
		})
	return result.RowsAffected == 1, result.Error
}

func (r *repository) Release(ctx context.Context, offerID, buyerID uuid.UUID, at time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Offer{}).
		Where("id = ? AND buyer_id = ? AND sold_at IS NULL", offerID, buyerID).
		Updates(map[string]any{
			"buyer_id":   nil,
			"updated_at": at,
		})
	return result.RowsAffected == 1, result.Error
}

func (r *repository) MarkSold(ctx context.Context, offerID, buyerID uuid.UUID, at time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Offer{}).
		Where("id = ? AND buyer_id = ? AND sold_at IS NULL", offerID, buyerID).
		Updates(map[string]any{
			"sold_at":    at,
			"updated_at": at,
		})
	return result.RowsAffected == 1, result.Error
}

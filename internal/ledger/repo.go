package ledger

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lastbite/lastbite-backend/pkg/db/models"
	"github.com/lastbite/lastbite-backend/pkg/enums"
)

// Repository is insert-only; ledger rows are never updated or deleted.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Append(ctx context.Context, events []models.LedgerEvent) error
	ForTransaction(ctx context.Context, transactionID uuid.UUID) ([]models.LedgerEvent, error)
	Exists(ctx context.Context, transactionID uuid.UUID, eventType enums.LedgerEventType) (bool, error)
}

type gormRepository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &gormRepository{db: tx}
}

func (r *gormRepository) Append(ctx context.Context, events []models.LedgerEvent) error {
	if len(events) == 0 {
		return nil
	}
	for i := range events {
		if events[i].ID == uuid.Nil {
			events[i].ID = uuid.New()
		}
	}
	return r.db.WithContext(ctx).Create(&events).Error
}

func (r *gormRepository) ForTransaction(ctx context.Context, transactionID uuid.UUID) ([]models.LedgerEvent, error) {
	var events []models.LedgerEvent
	err := r.db.WithContext(ctx).
		Where("transaction_id = ?", transactionID).
		Order("created_at, id").
		Find(&events).Error
	return events, err
}

func (r *gormRepository) Exists(ctx context.Context, transactionID uuid.UUID, eventType enums.LedgerEventType) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).
		Model(&models.LedgerEvent{}).
		Where("transaction_id = ? AND type = ?", transactionID, eventType).
		Count(&n).Error
	return n > 0, err
}

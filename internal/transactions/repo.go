package transactions

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lastbite/lastbite-backend/pkg/db/models"
	"github.com/lastbite/lastbite-backend/pkg/enums"
	"github.com/lastbite/lastbite-backend/pkg/pagination"
)

// Guard is the WHERE clause of a compare-and-set update. Zero fields are not checked.
type Guard struct {
	Statuses       []enums.TransactionStatus
	PayoutStatuses []enums.PayoutStatus
	QRCodeToken    string
	Paid           bool
	Unpaid         bool

	// MaxPayoutAttempts bounds payout_attempts when positive.
	MaxPayoutAttempts int
	ExpiredBefore     time.Time

	// UpdatedBefore matches rows untouched since the given instant.
	UpdatedBefore time.Time
}

// ListFilter scopes ListForUser.
type ListFilter struct {
	UserID uuid.UUID
	Status enums.TransactionStatus
	Params pagination.Params
}

// Repository persists transactions. Status and payout_status only change through CompareAndSet.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, txn *models.Transaction) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Transaction, error)
	FindByQRCodeToken(ctx context.Context, digest string) (*models.Transaction, error)
	CompareAndSet(ctx context.Context, id uuid.UUID, guard Guard, updates map[string]any) (bool, error)
	ListExpiredReservations(ctx context.Context, now time.Time, limit int) ([]models.Transaction, error)
	ClearExpiredQRCodes(ctx context.Context, now time.Time) (int64, error)
	ListPayoutCandidates(ctx context.Context, maxAttempts int, staleBefore time.Time, limit int) ([]models.Transaction, error)
	ListForUser(ctx context.Context, filter ListFilter) (pagination.Page[models.Transaction], error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository binds a transactions repository to db.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, txn *models.Transaction) error {
	if txn.ID == uuid.Nil {
		txn.ID = uuid.New()
	}
	if txn.PayoutStatus == "" {
		txn.PayoutStatus = enums.PayoutStatusNone
	}
	return r.db.WithContext(ctx).Create(txn).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	var txn models.Transaction
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&txn).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return &txn, nil
}

// FindByQRCodeToken looks a transaction up by the stored pickup code digest.
func (r *repository) FindByQRCodeToken(ctx context.Context, digest string) (*models.Transaction, error) {
	if digest == "" {
		return nil, ErrTransactionNotFound
	}
	var txn models.Transaction
	if err := r.db.WithContext(ctx).Where("qr_code_token = ?", digest).First(&txn).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return &txn, nil
}

// CompareAndSet applies updates only if the row still matches guard. The bool
// reports whether this caller won the race.
func (r *repository) CompareAndSet(ctx context.Context, id uuid.UUID, guard Guard, updates map[string]any) (bool, error) {
	if len(updates) == 0 {
		return false, errors.New("no updates provided")
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now().UTC()
	}

	query := r.db.WithContext(ctx).Model(&models.Transaction{}).Where("id = ?", id)
	if len(guard.Statuses) > 0 {
		query = query.Where("status IN ?", guard.Statuses)
	}
	if len(guard.PayoutStatuses) > 0 {
		query = query.Where("payout_status IN ?", guard.PayoutStatuses)
	}
	if guard.QRCodeToken != "" {
		query = query.Where("qr_code_token = ?", guard.QRCodeToken)
	}
	if guard.Paid {
		query = query.Where("payment_intent_id IS NOT NULL")
	}
	if guard.Unpaid {
		query = query.Where("payment_intent_id IS NULL")
	}
	if guard.MaxPayoutAttempts > 0 {
		query = query.Where("payout_attempts < ?", guard.MaxPayoutAttempts)
	}
	if !guard.ExpiredBefore.IsZero() {
		query = query.Where("reservation_expires_at < ?", guard.ExpiredBefore)
	}
	if !guard.UpdatedBefore.IsZero() {
		query = query.Where("updated_at < ?", guard.UpdatedBefore)
	}

	result := query.Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// ListExpiredReservations returns open holds past their deadline. Rows are not
// locked; concurrent sweepers race on the per-row compare-and-set instead.
func (r *repository) ListExpiredReservations(ctx context.Context, now time.Time, limit int) ([]models.Transaction, error) {
	query := r.db.WithContext(ctx).
		Where("status IN ?", enums.OpenTransactionStatuses).
		Where("reservation_expires_at < ?", now)
	var rows []models.Transaction
	err := query.
		Order("reservation_expires_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// ClearExpiredQRCodes drops stale pickup codes without touching status.
func (r *repository) ClearExpiredQRCodes(ctx context.Context, now time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Transaction{}).
		Where("qr_code_token IS NOT NULL AND qr_code_expires_at < ?", now).
		Updates(map[string]any{
			"qr_code_token":      nil,
			"qr_code_expires_at": nil,
			"updated_at":         now,
		})
	return result.RowsAffected, result.Error
}

// ListPayoutCandidates returns completed, paid transactions whose payout is
// scheduled, failed with attempts left, or stuck in processing since before
// staleBefore.
func (r *repository) ListPayoutCandidates(ctx context.Context, maxAttempts int, staleBefore time.Time, limit int) ([]models.Transaction, error) {
	query := r.db.WithContext(ctx).
		Where("status = ?", enums.TransactionStatusCompleted).
		Where("payment_intent_id IS NOT NULL").
		Where("payout_status = ? OR (payout_status = ? AND payout_attempts < ?) OR (payout_status = ? AND updated_at < ?)",
			enums.PayoutStatusScheduled,
			enums.PayoutStatusFailed, maxAttempts,
			enums.PayoutStatusProcessing, staleBefore)
	var rows []models.Transaction
	err := query.
		Order("completed_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// ListForUser pages through transactions where the user is buyer or seller, newest first.
func (r *repository) ListForUser(ctx context.Context, filter ListFilter) (pagination.Page[models.Transaction], error) {
	page, err := filter.Params.Query()
	if err != nil {
		return pagination.Page[models.Transaction]{}, err
	}
	query := r.db.WithContext(ctx).
		Where("buyer_id = ? OR seller_id = ?", filter.UserID, filter.UserID)
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	var rows []models.Transaction
	if err := query.Scopes(page.Scope).Find(&rows).Error; err != nil {
		return pagination.Page[models.Transaction]{}, err
	}
	return pagination.Collect(rows, page, func(t models.Transaction) pagination.Cursor {
		return pagination.Cursor{CreatedAt: t.CreatedAt, ID: t.ID}
	}), nil
}

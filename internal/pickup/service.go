package pickup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lastbite/lastbite-backend/internal/offers"
	"github.com/lastbite/lastbite-backend/internal/transactions"
	"github.com/lastbite/lastbite-backend/pkg/db/models"
	"github.com/lastbite/lastbite-backend/pkg/enums"
	pkgerrors "github.com/lastbite/lastbite-backend/pkg/errors"
	"github.com/lastbite/lastbite-backend/pkg/logger"
	"github.com/lastbite/lastbite-backend/pkg/outbox"
)

var (
	ErrCodeNotFound = pkgerrors.New(pkgerrors.CodeNotFound, "pickup code not found")
	ErrCodeExpired  = pkgerrors.New(pkgerrors.CodeExpired, "pickup code expired")
	ErrNotSeller    = pkgerrors.New(pkgerrors.CodeForbidden, "only the seller can redeem a pickup code")
	ErrNotBuyer     = pkgerrors.New(pkgerrors.CodeForbidden, "only the buyer can request a pickup code")
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// PayoutTrigger starts the seller payout once goods changed hands.
type PayoutTrigger interface {
	PayoutSeller(ctx context.Context, transactionID uuid.UUID) (bool, error)
}

// Service issues and redeems single-use pickup codes.
type Service interface {
	IssueCode(ctx context.Context, transactionID, requesterID uuid.UUID) (*IssuedCode, error)
	VerifyCode(ctx context.Context, token string, requesterID uuid.UUID) (*models.Transaction, error)
	CompleteByCode(ctx context.Context, token string, requesterID uuid.UUID) (*models.Transaction, error)
}

// IssuedCode is returned to the buyer only; the database keeps a digest.
type IssuedCode struct {
	TransactionID uuid.UUID `json:"transaction_id"`
	Token         string    `json:"token"`
	ExpiresAt     time.Time `json:"expires_at"`
}

// ServiceParams wires the pickup code manager.
type ServiceParams struct {
	TxRunner     txRunner
	Offers       offers.Repository
	Transactions transactions.Repository
	Outbox       outbox.Emitter
	Payouts      PayoutTrigger
	Logger       *logger.Logger
	CodeTTL      time.Duration
	Now          func() time.Time
}

type service struct {
	tx           txRunner
	offers       offers.Repository
	transactions transactions.Repository
	outbox       outbox.Emitter
	payouts      PayoutTrigger
	logg         *logger.Logger
	ttl          time.Duration
	now          func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	if params.TxRunner == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Offers == nil {
		return nil, fmt.Errorf("offers repository required")
	}
	if params.Transactions == nil {
		return nil, fmt.Errorf("transactions repository required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	if params.Payouts == nil {
		return nil, fmt.Errorf("payout trigger required")
	}
	if params.CodeTTL <= 0 {
		return nil, fmt.Errorf("pickup code ttl must be positive")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	return &service{
		tx:           params.TxRunner,
		offers:       params.Offers,
		transactions: params.Transactions,
		outbox:       params.Outbox,
		payouts:      params.Payouts,
		logg:         logg,
		ttl:          params.CodeTTL,
		now:          now,
	}, nil
}

func (s *service) IssueCode(ctx context.Context, transactionID, requesterID uuid.UUID) (*IssuedCode, error) {
	if transactionID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "transaction id required")
	}
	token, err := newToken()
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "generate pickup code")
	}
	now := s.now().UTC()
	expiresAt := now.Add(s.ttl)

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.transactions.WithTx(tx)
		txn, err := repo.FindByID(ctx, transactionID)
		if err != nil {
			return wrapLoad(err)
		}
		if txn.BuyerID != requesterID {
			return ErrNotBuyer
		}
		if !txn.Status.IsOpen() {
			return transactions.ErrInvalidTransition
		}
		if txn.IsReservationExpired(now) {
			return transactions.ErrReservationExpired
		}

		won, err := repo.CompareAndSet(ctx, txn.ID, transactions.Guard{
			Statuses: []enums.TransactionStatus{txn.Status},
		}, map[string]any{
			"qr_code_token":      Digest(token),
			"qr_code_expires_at": expiresAt,
			"updated_at":         now,
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store pickup code")
		}
		if !won {
			return transactions.ErrInvalidTransition
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logg.Info(s.logg.WithTransactionID(ctx, transactionID.String()), "pickup code issued")
	return &IssuedCode{TransactionID: transactionID, Token: token, ExpiresAt: expiresAt}, nil
}

func (s *service) VerifyCode(ctx context.Context, token string, requesterID uuid.UUID) (*models.Transaction, error) {
	digest := Digest(token)
	if digest == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "pickup code required")
	}
	now := s.now().UTC()

	var (
		txn     *models.Transaction
		expired bool
	)
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		txn, err = s.redeemable(ctx, tx, digest, requesterID, now)
		if errors.Is(err, ErrCodeExpired) {
			expired = true
			return nil
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	if expired {
		return nil, ErrCodeExpired
	}
	return txn, nil
}

func (s *service) CompleteByCode(ctx context.Context, token string, requesterID uuid.UUID) (*models.Transaction, error) {
	digest := Digest(token)
	if digest == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "pickup code required")
	}
	now := s.now().UTC()

	var (
		completed *models.Transaction
		expired   bool
	)
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		txn, err := s.redeemable(ctx, tx, digest, requesterID, now)
		if errors.Is(err, ErrCodeExpired) {
			expired = true
			return nil
		}
		if err != nil {
			return err
		}
		if !txn.IsPaid() {
			return transactions.ErrPaymentRequired
		}
		if !txn.Status.CanTransitionTo(enums.TransactionStatusCompleted) {
			return transactions.ErrInvalidTransition
		}

		won, err := s.transactions.WithTx(tx).CompareAndSet(ctx, txn.ID, transactions.Guard{
			Statuses:    []enums.TransactionStatus{enums.TransactionStatusReserved},
			QRCodeToken: digest,
			Paid:        true,
		}, map[string]any{
			"status":             enums.TransactionStatusCompleted,
			"completed_at":       now,
			"qr_code_token":      nil,
			"qr_code_expires_at": nil,
			"updated_at":         now,
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "complete transaction")
		}
		if !won {
			return ErrCodeNotFound
		}

		sold, err := s.offers.WithTx(tx).MarkSold(ctx, txn.OfferID, txn.BuyerID, now)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark offer sold")
		}
		if !sold {
			return transactions.ErrInvalidTransition
		}

		txn.Status = enums.TransactionStatusCompleted
		txn.CompletedAt = &now
		txn.QRCodeToken = nil
		txn.QRCodeExpiresAt = nil
		txn.UpdatedAt = now

		event := transactions.Event(txn, enums.EventPickupCompleted, "pickup completed",
			transactions.Parties(txn),
			transactions.EventOptions{Actor: requesterID, ActorRole: "seller", OccurredAt: now})
		if err := s.outbox.Emit(ctx, tx, event); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "queue pickup event")
		}
		completed = txn
		return nil
	})
	if err != nil {
		return nil, err
	}
	if expired {
		return nil, ErrCodeExpired
	}

	logCtx := s.logg.WithTransactionID(ctx, completed.ID.String())
	s.logg.Info(logCtx, "pickup completed")

	// Completion stands even when the transfer fails; the payout job retries.
	if ok, err := s.payouts.PayoutSeller(ctx, completed.ID); err != nil {
		s.logg.Error(logCtx, "payout after pickup failed", err)
	} else if !ok {
		s.logg.Warn(logCtx, "payout after pickup not transferred")
	}

	if refreshed, err := s.transactions.FindByID(ctx, completed.ID); err == nil {
		return refreshed, nil
	}
	return completed, nil
}

// redeemable loads the transaction holding digest and checks the seller may
// redeem it now. On ErrCodeExpired the code was cleared in tx and the caller
// must commit.
func (s *service) redeemable(ctx context.Context, tx *gorm.DB, digest string, requesterID uuid.UUID, now time.Time) (*models.Transaction, error) {
	repo := s.transactions.WithTx(tx)
	txn, err := repo.FindByQRCodeToken(ctx, digest)
	if err != nil {
		if errors.Is(err, transactions.ErrTransactionNotFound) {
			return nil, ErrCodeNotFound
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load transaction by pickup code")
	}
	if txn.SellerID != requesterID {
		return nil, ErrNotSeller
	}
	if txn.IsQRCodeExpired(now) {
		if _, err := repo.CompareAndSet(ctx, txn.ID, transactions.Guard{QRCodeToken: digest}, map[string]any{
			"qr_code_token":      nil,
			"qr_code_expires_at": nil,
			"updated_at":         now,
		}); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "clear expired pickup code")
		}
		return nil, ErrCodeExpired
	}
	if !txn.Status.IsOpen() {
		return nil, transactions.ErrInvalidTransition
	}
	if txn.IsReservationExpired(now) {
		return nil, transactions.ErrReservationExpired
	}
	return txn, nil
}

func wrapLoad(err error) error {
	if errors.Is(err, transactions.ErrTransactionNotFound) {
		return transactions.ErrTransactionNotFound
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load transaction")
}

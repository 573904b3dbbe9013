package reservations

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lastbite/lastbite-backend/internal/offers"
	"github.com/lastbite/lastbite-backend/internal/transactions"
	dbpkg "github.com/lastbite/lastbite-backend/pkg/db"
	"github.com/lastbite/lastbite-backend/pkg/db/models"
	"github.com/lastbite/lastbite-backend/pkg/enums"
	pkgerrors "github.com/lastbite/lastbite-backend/pkg/errors"
	"github.com/lastbite/lastbite-backend/pkg/logger"
	"github.com/lastbite/lastbite-backend/pkg/outbox"
)

const openHoldIndex = "ux_transactions_offer_open"

var (
	ErrAlreadyReserved = pkgerrors.New(pkgerrors.CodeConflict, "offer is already reserved")
	ErrSelfReservation = pkgerrors.New(pkgerrors.CodeForbidden, "sellers cannot reserve their own offer")
	ErrOfferNotFound   = pkgerrors.New(pkgerrors.CodeNotFound, "offer not found")
	ErrOfferExpired    = pkgerrors.New(pkgerrors.CodeExpired, "offer food has expired")
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service owns the reservation hold: claiming an offer, cancelling and expiring it.
type Service interface {
	Reserve(ctx context.Context, input ReserveInput) (*models.Transaction, error)
	Cancel(ctx context.Context, input CancelInput) (*models.Transaction, error)
	Expire(ctx context.Context, transactionID uuid.UUID, now time.Time) (bool, error)
}

// ReserveInput identifies the offer and the buyer claiming it.
type ReserveInput struct {
	OfferID uuid.UUID
	BuyerID uuid.UUID
}

// CancelInput cancels an open hold. ActorID is optional for system cancellations.
type CancelInput struct {
	TransactionID uuid.UUID
	ActorID       uuid.UUID
	Reason        string
}

// ServiceParams wires the reservation manager.
type ServiceParams struct {
	TxRunner       txRunner
	Offers         offers.Repository
	Transactions   transactions.Repository
	Outbox         outbox.Emitter
	Logger         *logger.Logger
	ReservationTTL time.Duration
	PaymentFirst   bool
	Currency       string
	Now            func() time.Time
}

type service struct {
	tx           txRunner
	offers       offers.Repository
	transactions transactions.Repository
	outbox       outbox.Emitter
	logg         *logger.Logger
	ttl          time.Duration
	paymentFirst bool
	currency     string
	now          func() time.Time
}

// NewService validates params and builds the reservation manager.
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
	if params.ReservationTTL <= 0 {
		return nil, fmt.Errorf("reservation ttl must be positive")
	}
	currency := strings.ToLower(strings.TrimSpace(params.Currency))
	if currency == "" {
		currency = "eur"
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
		logg:         logg,
		ttl:          params.ReservationTTL,
		paymentFirst: params.PaymentFirst,
		currency:     currency,
		now:          now,
	}, nil
}

func (s *service) Reserve(ctx context.Context, input ReserveInput) (*models.Transaction, error) {
	if input.OfferID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "offer id required")
	}
	if input.BuyerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}

	now := s.now().UTC()
	status := enums.TransactionStatusReserved
	if s.paymentFirst {
		status = enums.TransactionStatusPending
	}

	var created *models.Transaction
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		offerRepo := s.offers.WithTx(tx)
		offer, err := offerRepo.FindByID(ctx, input.OfferID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load offer")
		}
		if offer == nil {
			return ErrOfferNotFound
		}
		if offer.SellerID == input.BuyerID {
			return ErrSelfReservation
		}
		if offer.IsFoodExpired(now) {
			return ErrOfferExpired
		}
		if !offer.IsAvailable() {
			return ErrAlreadyReserved
		}

		claimed, err := offerRepo.Claim(ctx, offer.ID, input.BuyerID, now)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "claim offer")
		}
		if !claimed {
			return ErrAlreadyReserved
		}

		txn := &models.Transaction{
			ID:                   uuid.New(),
			OfferID:              offer.ID,
			BuyerID:              input.BuyerID,
			SellerID:             offer.SellerID,
			Amount:               offer.EffectivePrice(),
			Currency:             s.currency,
			Status:               status,
			ReservedAt:           &now,
			ReservationExpiresAt: now.Add(s.ttl),
			PayoutStatus:         enums.PayoutStatusNone,
			CreatedAt:            now,
			UpdatedAt:            now,
		}
		if err := s.transactions.WithTx(tx).Create(ctx, txn); err != nil {
			if dbpkg.IsUniqueViolation(err, openHoldIndex) {
				return ErrAlreadyReserved
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create transaction")
		}

		event := transactions.Event(txn, enums.EventReservationCreated,
			fmt.Sprintf("%s was reserved", offer.Title),
			[]uuid.UUID{txn.SellerID},
			transactions.EventOptions{Actor: input.BuyerID, ActorRole: "buyer", OccurredAt: now})
		if err := s.outbox.Emit(ctx, tx, event); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "queue reservation event")
		}
		created = txn
		return nil
	})
	if err != nil {
		return nil, err
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"transaction_id": created.ID.String(),
		"offer_id":       created.OfferID.String(),
		"status":         created.Status,
	})
	s.logg.Info(logCtx, "reservation created")
	return created, nil
}

func (s *service) Cancel(ctx context.Context, input CancelInput) (*models.Transaction, error) {
	if input.TransactionID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "transaction id required")
	}
	reason := strings.TrimSpace(input.Reason)
	if reason == "" {
		reason = "reservation cancelled"
	}

	now := s.now().UTC()
	var result *models.Transaction
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		txRepo := s.transactions.WithTx(tx)
		txn, err := txRepo.FindByID(ctx, input.TransactionID)
		if err != nil {
			return wrapLoad(err)
		}
		if input.ActorID != uuid.Nil && !txn.IsParticipant(input.ActorID) {
			return transactions.ErrNotParticipant
		}
		if txn.Status == enums.TransactionStatusFailed {
			result = txn
			return nil
		}
		if !txn.Status.CanTransitionTo(enums.TransactionStatusFailed) {
			return transactions.ErrInvalidTransition
		}

		won, err := s.fail(ctx, tx, txn, transactions.Guard{
			Statuses: []enums.TransactionStatus{txn.Status},
		}, reason, now)
		if err != nil {
			return err
		}
		if !won {
			current, err := txRepo.FindByID(ctx, txn.ID)
			if err != nil {
				return wrapLoad(err)
			}
			if current.Status == enums.TransactionStatusFailed {
				result = current
				return nil
			}
			return transactions.ErrInvalidTransition
		}

		role := ""
		switch input.ActorID {
		case txn.BuyerID:
			role = "buyer"
		case txn.SellerID:
			role = "seller"
		}
		opts := transactions.EventOptions{Actor: input.ActorID, ActorRole: role, Reason: reason, OccurredAt: now}
		if err := s.outbox.Emit(ctx, tx, transactions.Event(txn, enums.EventReservationCancelled,
			"reservation was cancelled", transactions.Parties(txn), opts)); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "queue cancellation event")
		}
		if txn.IsPaid() {
			if err := s.outbox.Emit(ctx, tx, transactions.Event(txn, enums.EventPaymentOrphaned,
				"paid reservation was cancelled and needs a manual refund", []uuid.UUID{txn.BuyerID}, opts)); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "queue orphaned payment event")
			}
		}

		result = txn
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Expire fails an open hold whose deadline passed. It returns false when
// another caller already resolved the hold.
func (s *service) Expire(ctx context.Context, transactionID uuid.UUID, now time.Time) (bool, error) {
	now = now.UTC()
	var expired bool
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		txn, err := s.transactions.WithTx(tx).FindByID(ctx, transactionID)
		if err != nil {
			return wrapLoad(err)
		}
		if !txn.IsReservationExpired(now) {
			return nil
		}

		won, err := s.fail(ctx, tx, txn, transactions.Guard{
			Statuses:      enums.OpenTransactionStatuses,
			ExpiredBefore: now,
		}, "reservation expired", now)
		if err != nil || !won {
			return err
		}

		opts := transactions.EventOptions{Reason: "reservation expired", OccurredAt: now}
		if err := s.outbox.Emit(ctx, tx, transactions.Event(txn, enums.EventReservationExpired,
			"reservation expired", transactions.Parties(txn), opts)); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "queue expiry event")
		}
		if txn.IsPaid() {
			if err := s.outbox.Emit(ctx, tx, transactions.Event(txn, enums.EventPaymentOrphaned,
				"paid reservation expired and needs a manual refund", []uuid.UUID{txn.BuyerID}, opts)); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "queue orphaned payment event")
			}
		}
		expired = true
		return nil
	})
	if err != nil {
		return false, err
	}
	if expired {
		s.logg.Info(s.logg.WithTransactionID(ctx, transactionID.String()), "reservation expired")
	}
	return expired, nil
}

// fail moves txn to failed under guard and releases the offer it held.
func (s *service) fail(ctx context.Context, tx *gorm.DB, txn *models.Transaction, guard transactions.Guard, reason string, now time.Time) (bool, error) {
	won, err := s.transactions.WithTx(tx).CompareAndSet(ctx, txn.ID, guard, map[string]any{
		"status":             enums.TransactionStatusFailed,
		"error_message":      reason,
		"qr_code_token":      nil,
		"qr_code_expires_at": nil,
		"updated_at":         now,
	})
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "fail transaction")
	}
	if !won {
		return false, nil
	}
	if _, err := s.offers.WithTx(tx).Release(ctx, txn.OfferID, txn.BuyerID, now); err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "release offer")
	}

	txn.Status = enums.TransactionStatusFailed
	txn.ErrorMessage = &reason
	txn.QRCodeToken = nil
	txn.QRCodeExpiresAt = nil
	txn.UpdatedAt = now
	return true, nil
}

func wrapLoad(err error) error {
	if errors.Is(err, transactions.ErrTransactionNotFound) {
		return transactions.ErrTransactionNotFound
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load transaction")
}

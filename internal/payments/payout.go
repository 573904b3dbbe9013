package payments

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/lastbite/lastbite-backend/internal/ledger"
	"github.com/lastbite/lastbite-backend/internal/transactions"
	"github.com/lastbite/lastbite-backend/pkg/db/models"
	"github.com/lastbite/lastbite-backend/pkg/enums"
	pkgerrors "github.com/lastbite/lastbite-backend/pkg/errors"
	"github.com/lastbite/lastbite-backend/pkg/metrics"
	lbstripe "github.com/lastbite/lastbite-backend/pkg/stripe"
)

const defaultPayoutLease = 15 * time.Minute

// PayoutSeller transfers the seller share of a completed, paid transaction.
// It returns true once the transfer is recorded, false when the attempt
// failed or another worker holds the payout.
func (s *service) PayoutSeller(ctx context.Context, transactionID uuid.UUID) (bool, error) {
	txn, err := s.load(ctx, s.transactions, transactionID)
	if err != nil {
		return false, err
	}
	if txn.Status != enums.TransactionStatusCompleted {
		return false, transactions.ErrInvalidTransition
	}
	if !txn.IsPaid() {
		return false, transactions.ErrPaymentRequired
	}

	now := s.now().UTC()
	staleBefore := now.Add(-s.payoutLease)
	fee, sellerAmount := SplitFee(txn.Amount, s.feePercent)
	guard := transactions.Guard{
		Statuses: []enums.TransactionStatus{enums.TransactionStatusCompleted},
		Paid:     true,
	}
	updates := map[string]any{
		"platform_fee":  fee,
		"seller_amount": sellerAmount,
		"updated_at":    now,
	}
	switch txn.PayoutStatus {
	case enums.PayoutStatusTransferred:
		return true, nil
	case enums.PayoutStatusProcessing:
		if !txn.UpdatedAt.Before(staleBefore) {
			return false, nil
		}
		// Abandoned claim: resume under the same attempt number so the
		// provider deduplicates a transfer that may already have gone out.
		guard.PayoutStatuses = []enums.PayoutStatus{enums.PayoutStatusProcessing}
		guard.UpdatedBefore = staleBefore
	case enums.PayoutStatusScheduled, enums.PayoutStatusFailed:
		guard.PayoutStatuses = enums.ClaimablePayoutStatuses
		updates["payout_status"] = enums.PayoutStatusProcessing
		updates["payout_attempts"] = gorm.Expr("payout_attempts + 1")
	default:
		return false, transactions.ErrInvalidTransition
	}

	won, err := s.transactions.CompareAndSet(ctx, txn.ID, guard, updates)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "claim payout")
	}
	if !won {
		current, err := s.load(ctx, s.transactions, txn.ID)
		if err != nil {
			return false, err
		}
		return current.PayoutStatus == enums.PayoutStatusTransferred, nil
	}

	// The claim owns the row until the lease runs out; reload to key the
	// transfer on the stored attempt counter.
	claimed, err := s.load(ctx, s.transactions, txn.ID)
	if err != nil {
		return false, err
	}
	attempt := claimed.PayoutAttempts
	logCtx := s.logg.WithField(s.logg.WithTransactionID(ctx, txn.ID.String()), "payout_attempt", attempt)

	var transferID string
	switch {
	case claimed.TransferID != nil && *claimed.TransferID != "":
		// The money already moved on an earlier attempt; only the bookkeeping is missing.
		transferID = *claimed.TransferID
	case sellerAmount.IsPositive():
		account, err := s.accounts.FindPayoutAccount(ctx, claimed.SellerID)
		if err != nil {
			return false, s.failPayout(logCtx, claimed, "", "payout account unavailable: "+err.Error())
		}
		transfer, err := s.gateway.CreateTransfer(ctx, lbstripe.TransferRequest{
			Amount:         sellerAmount,
			Currency:       claimed.Currency,
			Destination:    account,
			TransferGroup:  claimed.ID.String(),
			Metadata:       paymentMetadata(claimed),
			IdempotencyKey: fmt.Sprintf("payout:%s:%d", claimed.ID, attempt),
		})
		if err != nil {
			s.logg.Error(logCtx, "payout transfer failed", err)
			return false, s.failPayout(logCtx, claimed, "", "transfer failed: "+err.Error())
		}
		transferID = transfer.ID
	}

	if err := s.finishPayout(ctx, claimed, fee, sellerAmount, transferID); err != nil {
		s.logg.Error(logCtx, "record payout", err)
		if current, loadErr := s.load(ctx, s.transactions, claimed.ID); loadErr == nil && current.PayoutStatus == enums.PayoutStatusTransferred {
			return true, nil
		}
		return false, s.failPayout(logCtx, claimed, transferID, "record payout failed: "+err.Error())
	}
	s.metrics.IncPayout(metrics.OutcomeSuccess)
	s.logg.Info(s.logg.WithField(logCtx, "transfer_id", transferID), "seller payout transferred")
	return true, nil
}

func (s *service) finishPayout(ctx context.Context, txn *models.Transaction, fee, sellerAmount decimal.Decimal, transferID string) error {
	now := s.now().UTC()
	updates := map[string]any{
		"payout_status":  enums.PayoutStatusTransferred,
		"transferred_at": now,
		"error_message":  nil,
		"updated_at":     now,
	}
	if transferID != "" {
		updates["transfer_id"] = transferID
	}

	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		won, err := s.transactions.WithTx(tx).CompareAndSet(ctx, txn.ID, transactions.Guard{
			PayoutStatuses: []enums.PayoutStatus{enums.PayoutStatusProcessing},
		}, updates)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record payout")
		}
		if !won {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "payout no longer processing")
		}

		if _, err := s.ledger.WithTx(tx).Record(ctx, ledger.PartiesOf(txn),
			ledger.Entry{Type: enums.LedgerEventTypePlatformFee, Amount: fee},
			ledger.Entry{Type: enums.LedgerEventTypeSellerPayout, Amount: sellerAmount, ExternalRef: transferID},
		); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record payout ledger events")
		}

		event := transactions.Event(txn, enums.EventPayoutTransferred, "payout sent", []uuid.UUID{txn.SellerID}, transactions.EventOptions{
			Amount:      sellerAmount.StringFixed(2),
			ExternalRef: transferID,
			OccurredAt:  now,
		})
		return s.outbox.Emit(ctx, tx, event)
	})
}

// failPayout releases the claim so the retry sweep can pick the row up again.
// A non-empty transferID is kept on the row so the retry records that
// transfer instead of sending a new one. The returned error is non-nil only
// when the failure itself could not be stored; the row then stays in
// processing until the lease expires.
func (s *service) failPayout(ctx context.Context, txn *models.Transaction, transferID, reason string) error {
	s.metrics.IncPayout(metrics.OutcomeFailure)
	now := s.now().UTC()
	reason = truncate(reason)
	updates := map[string]any{
		"payout_status": enums.PayoutStatusFailed,
		"error_message": reason,
		"updated_at":    now,
	}
	if transferID != "" {
		updates["transfer_id"] = transferID
	}

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		won, err := s.transactions.WithTx(tx).CompareAndSet(ctx, txn.ID, transactions.Guard{
			PayoutStatuses: []enums.PayoutStatus{enums.PayoutStatusProcessing},
		}, updates)
		if err != nil {
			return err
		}
		if !won {
			return nil
		}
		event := transactions.Event(txn, enums.EventPayoutFailed, "payout failed and will be retried", []uuid.UUID{txn.SellerID}, transactions.EventOptions{
			Reason:     reason,
			OccurredAt: now,
		})
		return s.outbox.Emit(ctx, tx, event)
	})
	if err != nil {
		s.logg.Error(ctx, "record payout failure", err)
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record payout failure")
	}
	s.logg.Warn(s.logg.WithField(ctx, "reason", reason), "seller payout failed")
	return nil
}

// RetryPayout re-attempts a payout that previously failed or whose claim
// outlived the payout lease.
func (s *service) RetryPayout(ctx context.Context, transactionID uuid.UUID) (bool, error) {
	txn, err := s.load(ctx, s.transactions, transactionID)
	if err != nil {
		return false, err
	}
	if txn.Status != enums.TransactionStatusCompleted {
		return false, transactions.ErrInvalidTransition
	}
	switch txn.PayoutStatus {
	case enums.PayoutStatusFailed, enums.PayoutStatusProcessing:
	default:
		return false, transactions.ErrInvalidTransition
	}
	return s.PayoutSeller(ctx, transactionID)
}

// Refund returns the full payment of a completed transaction to the buyer.
func (s *service) Refund(ctx context.Context, transactionID uuid.UUID, reason string) (bool, error) {
	txn, err := s.load(ctx, s.transactions, transactionID)
	if err != nil {
		return false, err
	}
	if txn.Status == enums.TransactionStatusRefunded {
		return true, nil
	}
	if !txn.Status.CanTransitionTo(enums.TransactionStatusRefunded) {
		return false, transactions.ErrInvalidTransition
	}
	if !txn.IsPaid() {
		return false, transactions.ErrPaymentRequired
	}

	reason = strings.TrimSpace(reason)
	logCtx := s.logg.WithTransactionID(ctx, txn.ID.String())
	refund, err := s.gateway.CreateRefund(ctx, lbstripe.RefundRequest{
		PaymentIntentID: *txn.PaymentIntentID,
		Reason:          reason,
		Metadata:        paymentMetadata(txn),
		IdempotencyKey:  attemptKey("refund", txn),
	})
	if err != nil {
		s.metrics.IncRefund(metrics.OutcomeFailure)
		s.logg.Error(logCtx, "refund failed", err)
		s.recordError(ctx, txn.ID, []enums.TransactionStatus{enums.TransactionStatusCompleted}, "refund failed: "+err.Error())
		return false, nil
	}

	now := s.now().UTC()
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		won, err := s.transactions.WithTx(tx).CompareAndSet(ctx, txn.ID, transactions.Guard{
			Statuses: []enums.TransactionStatus{enums.TransactionStatusCompleted},
		}, map[string]any{
			"status":        enums.TransactionStatusRefunded,
			"refund_id":     refund.ID,
			"refunded_at":   now,
			"error_message": nil,
			"updated_at":    now,
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record refund")
		}
		if !won {
			return transactions.ErrInvalidTransition
		}
		if _, err := s.ledger.WithTx(tx).Record(ctx, ledger.PartiesOf(txn), ledger.Entry{
			Type:        enums.LedgerEventTypeRefund,
			Amount:      txn.Amount,
			ExternalRef: refund.ID,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record refund ledger event")
		}
		event := transactions.Event(txn, enums.EventTransactionRefunded, "payment refunded", transactions.Parties(txn), transactions.EventOptions{
			Reason:      reason,
			ExternalRef: refund.ID,
			OccurredAt:  now,
		})
		return s.outbox.Emit(ctx, tx, event)
	})
	if err != nil {
		return false, err
	}
	s.metrics.IncRefund(metrics.OutcomeSuccess)
	s.logg.Info(s.logg.WithField(logCtx, "refund_id", refund.ID), "transaction refunded")
	return true, nil
}

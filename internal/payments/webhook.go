package payments

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lastbite/lastbite-backend/internal/ledger"
	"github.com/lastbite/lastbite-backend/internal/transactions"
	"github.com/lastbite/lastbite-backend/pkg/enums"
	pkgerrors "github.com/lastbite/lastbite-backend/pkg/errors"
	"github.com/lastbite/lastbite-backend/pkg/metrics"
	lbstripe "github.com/lastbite/lastbite-backend/pkg/stripe"
)

// HandlePaymentWebhook verifies, dedupes and applies a provider webhook. A nil
// return means the event is durably processed or was a duplicate.
func (s *service) HandlePaymentWebhook(ctx context.Context, payload []byte, signature string) error {
	event, err := s.gateway.VerifyWebhookSignature(payload, signature)
	if err != nil {
		s.metrics.IncWebhook("unverified", metrics.OutcomeFailure)
		return ErrInvalidSignature.WithDetails(map[string]any{"reason": "signature verification failed"})
	}
	logCtx := s.logg.WithFields(ctx, map[string]any{"event_id": event.ID, "event_type": event.Type})

	if s.guard != nil {
		duplicate, err := s.guard.Seen(ctx, event.ID)
		if err != nil {
			s.logg.Error(logCtx, "check webhook idempotency", err)
		}
		if err == nil && duplicate {
			s.metrics.IncWebhook(event.Type, metrics.OutcomeDuplicate)
			s.logg.Info(logCtx, "duplicate webhook ignored")
			return nil
		}
	}

	// The key is only marked once the event is committed; a crash before that
	// leaves it unmarked and the payment_intent_id precondition absorbs replays.
	handled, err := s.applyEvent(ctx, event)
	if err != nil {
		s.metrics.IncWebhook(event.Type, metrics.OutcomeFailure)
		s.logg.Error(logCtx, "webhook processing failed", err)
		return err
	}
	if s.guard != nil {
		if err := s.guard.Mark(ctx, event.ID); err != nil {
			s.logg.Error(logCtx, "mark webhook processed", err)
		}
	}
	if handled {
		s.metrics.IncWebhook(event.Type, metrics.OutcomeSuccess)
	} else {
		s.metrics.IncWebhook(event.Type, metrics.OutcomeIgnored)
	}
	return nil
}

func (s *service) applyEvent(ctx context.Context, event *lbstripe.WebhookEvent) (bool, error) {
	switch event.Type {
	case lbstripe.EventCheckoutCompleted:
		// Delayed payment methods complete the session unpaid and follow up
		// with async_payment_succeeded.
		if event.PaymentStatus != "paid" {
			return false, nil
		}
		return s.recordPayment(ctx, event)
	case lbstripe.EventCheckoutAsyncPaymentSucceeds:
		return s.recordPayment(ctx, event)
	default:
		return false, nil
	}
}

// recordPayment stores the captured payment on the hold it was made for.
func (s *service) recordPayment(ctx context.Context, event *lbstripe.WebhookEvent) (bool, error) {
	logCtx := s.logg.WithField(ctx, "event_id", event.ID)
	transactionID, err := uuid.Parse(event.Metadata["transaction_id"])
	if err != nil {
		// Not ours or malformed; retrying cannot fix it.
		s.logg.Warn(logCtx, "checkout event without a valid transaction_id")
		return false, nil
	}
	if event.PaymentIntentID == "" {
		return false, pkgerrors.New(pkgerrors.CodeValidation, "payment intent missing from checkout event")
	}
	logCtx = s.logg.WithTransactionID(logCtx, transactionID.String())
	now := s.now().UTC()

	var handled bool
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.transactions.WithTx(tx)
		txn, err := s.load(ctx, repo, transactionID)
		if err != nil {
			if errors.Is(err, transactions.ErrTransactionNotFound) {
				s.logg.Warn(logCtx, "payment for unknown transaction")
				return nil
			}
			return err
		}
		if !metadataMatches(event.Metadata, txn.OfferID, txn.BuyerID, txn.SellerID) {
			s.logg.Warn(logCtx, "checkout metadata does not match transaction")
			return nil
		}
		if txn.IsPaid() {
			return nil
		}

		updates := map[string]any{
			"payment_intent_id":   event.PaymentIntentID,
			"checkout_session_id": event.CheckoutSessionID,
			"paid_at":             now,
			"updated_at":          now,
		}
		eventType := enums.EventPaymentReceived
		recipients := transactions.Parties(txn)
		message := "payment received"

		switch txn.Status {
		case enums.TransactionStatusPending, enums.TransactionStatusReserved:
			updates["payout_status"] = enums.PayoutStatusScheduled
			updates["error_message"] = nil
			if txn.Status == enums.TransactionStatusPending {
				updates["status"] = enums.TransactionStatusReserved
			}
		case enums.TransactionStatusFailed:
			eventType = enums.EventPaymentOrphaned
			recipients = []uuid.UUID{txn.BuyerID}
			message = "payment arrived after the reservation ended and needs a refund"
		default:
			return nil
		}

		won, err := repo.CompareAndSet(ctx, txn.ID, transactions.Guard{
			Statuses: []enums.TransactionStatus{txn.Status},
			Unpaid:   true,
		}, updates)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record payment")
		}
		if !won {
			// The hold moved underneath us; the provider retries and the next
			// delivery sees the new state.
			return pkgerrors.New(pkgerrors.CodeStateConflict, "transaction changed while recording payment")
		}

		if _, err := s.ledger.WithTx(tx).Record(ctx, ledger.PartiesOf(txn), ledger.Entry{
			Type:        enums.LedgerEventTypePaymentReceived,
			Amount:      txn.Amount,
			ExternalRef: event.PaymentIntentID,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record payment ledger event")
		}

		domainEvent := transactions.Event(txn, eventType, message, recipients, transactions.EventOptions{
			ExternalRef: event.PaymentIntentID,
			OccurredAt:  now,
		})
		if err := s.outbox.Emit(ctx, tx, domainEvent); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, fmt.Sprintf("queue %s event", eventType))
		}
		handled = true
		return nil
	})
	if err != nil {
		return false, err
	}
	if handled {
		s.logg.Info(logCtx, "payment recorded")
	}
	return handled, nil
}

// metadataMatches rejects events whose ids were tampered with or belong to a
// different hold. Missing keys are tolerated.
func metadataMatches(meta map[string]string, offerID, buyerID, sellerID uuid.UUID) bool {
	check := func(key string, want uuid.UUID) bool {
		raw, ok := meta[key]
		if !ok || raw == "" {
			return true
		}
		got, err := uuid.Parse(raw)
		return err == nil && got == want
	}
	return check("offer_id", offerID) && check("buyer_id", buyerID) && check("seller_id", sellerID)
}

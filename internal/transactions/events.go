package transactions

import (
	"time"

	"github.com/google/uuid"

	"github.com/lastbite/lastbite-backend/pkg/db/models"
	"github.com/lastbite/lastbite-backend/pkg/enums"
	"github.com/lastbite/lastbite-backend/pkg/outbox"
	"github.com/lastbite/lastbite-backend/pkg/outbox/payloads"
)

// EventOptions carries the optional parts of a lifecycle event.
type EventOptions struct {
	Actor       uuid.UUID
	ActorRole   string
	Reason      string
	ExternalRef string
	Amount      string
	OccurredAt  time.Time
}

// Event builds the outbox event for txn addressed to recipients.
func Event(txn *models.Transaction, eventType enums.OutboxEventType, message string, recipients []uuid.UUID, opts EventOptions) outbox.DomainEvent {
	amount := opts.Amount
	if amount == "" {
		amount = txn.Amount.StringFixed(2)
	}
	event := outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregateTransaction,
		AggregateID:   txn.ID,
		OccurredAt:    opts.OccurredAt,
		Data: payloads.TransactionEvent{
			TransactionID: txn.ID,
			OfferID:       txn.OfferID,
			BuyerID:       txn.BuyerID,
			SellerID:      txn.SellerID,
			Recipients:    recipients,
			Message:       message,
			Amount:        amount,
			Currency:      txn.Currency,
			Reason:        opts.Reason,
			ExternalRef:   opts.ExternalRef,
		},
	}
	if opts.Actor != uuid.Nil {
		event.Actor = &outbox.ActorRef{UserID: opts.Actor, Role: opts.ActorRole}
	}
	return event
}

// Parties returns buyer and seller as recipients.
func Parties(txn *models.Transaction) []uuid.UUID {
	return []uuid.UUID{txn.BuyerID, txn.SellerID}
}

package enums

import "fmt"

// OutboxAggregateType maps to outbox_events.aggregate_type.
type OutboxAggregateType string

const (
	AggregateTransaction OutboxAggregateType = "transaction"
	AggregateOffer       OutboxAggregateType = "offer"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateTransaction,
	AggregateOffer,
}

// IsValid reports whether the value matches a known aggregate type.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType maps to outbox_events.event_type. Each value is also the
// notification event type handed to the notifier.
type OutboxEventType string

const (
	EventReservationCreated   OutboxEventType = "reservation_created"
	EventReservationCancelled OutboxEventType = "reservation_cancelled"
	EventReservationExpired   OutboxEventType = "reservation_expired"
	EventPaymentReceived      OutboxEventType = "payment_received"
	EventPaymentOrphaned      OutboxEventType = "payment_orphaned"
	EventPickupCompleted      OutboxEventType = "pickup_completed"
	EventPayoutTransferred    OutboxEventType = "payout_transferred"
	EventPayoutFailed         OutboxEventType = "payout_failed"
	EventTransactionRefunded  OutboxEventType = "transaction_refunded"
)

var validOutboxEventTypes = []OutboxEventType{
	EventReservationCreated,
	EventReservationCancelled,
	EventReservationExpired,
	EventPaymentReceived,
	EventPaymentOrphaned,
	EventPickupCompleted,
	EventPayoutTransferred,
	EventPayoutFailed,
	EventTransactionRefunded,
}

// IsValid reports whether the value matches a known event type.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}

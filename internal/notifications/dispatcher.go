package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lastbite/lastbite-backend/pkg/db/models"
	"github.com/lastbite/lastbite-backend/pkg/logger"
	"github.com/lastbite/lastbite-backend/pkg/outbox"
	"github.com/lastbite/lastbite-backend/pkg/outbox/payloads"
)

// ErrDelivery is returned when at least one recipient could not be reached.
var ErrDelivery = errors.New("notification delivery failed")

type deliveryGuard interface {
	CheckAndMark(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
}

type DispatcherParams struct {
	Notifier Notifier
	Logger   *logger.Logger
	// Guard is optional. When set, recipients already notified for an event
	// are skipped on redelivery.
	Guard deliveryGuard
}

// Dispatcher turns stored outbox events into one notification per recipient.
type Dispatcher struct {
	notifier Notifier
	logg     *logger.Logger
	guard    deliveryGuard
}

func NewDispatcher(params DispatcherParams) (*Dispatcher, error) {
	if params.Notifier == nil {
		return nil, errors.New("notifier required")
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	return &Dispatcher{
		notifier: params.Notifier,
		logg:     logg,
		guard:    params.Guard,
	}, nil
}

// Dispatch notifies every recipient of event. It returns ErrDelivery when a
// recipient was not reached so the row can be retried; recipients that were
// reached are remembered by the guard.
func (d *Dispatcher) Dispatch(ctx context.Context, event models.OutboxEvent) error {
	envelope, err := outbox.DecodeEnvelope(event.Payload)
	if err != nil {
		return fmt.Errorf("decode envelope %s: %w", event.ID, err)
	}
	var data payloads.TransactionEvent
	if err := json.Unmarshal(envelope.Data, &data); err != nil {
		return fmt.Errorf("decode payload %s: %w", event.ID, err)
	}

	eventID := envelope.EventID
	if eventID == "" {
		eventID = event.ID.String()
	}
	ctx = d.logg.WithTransactionID(ctx, data.TransactionID.String())
	ctx = d.logg.WithFields(ctx, map[string]any{
		"event_id":   eventID,
		"event_type": string(event.EventType),
	})

	content := notificationContent(data, eventID, envelope.OccurredAt)
	failed := 0
	for _, recipient := range uniqueRecipients(data.Recipients) {
		key := eventID + ":" + recipient.String()
		if d.guard != nil {
			seen, err := d.guard.CheckAndMark(ctx, key)
			if err != nil {
				d.logg.Error(ctx, "notification guard unavailable", err)
			} else if seen {
				continue
			}
		}
		if d.notifier.Emit(ctx, recipient, string(event.EventType), content) {
			continue
		}
		failed++
		if d.guard != nil {
			if err := d.guard.Delete(ctx, key); err != nil {
				d.logg.Error(ctx, "release notification guard", err)
			}
		}
	}
	if failed > 0 {
		return fmt.Errorf("%w: %d recipient(s)", ErrDelivery, failed)
	}
	return nil
}

func notificationContent(data payloads.TransactionEvent, eventID string, occurredAt time.Time) map[string]any {
	content := map[string]any{
		"event_id":       eventID,
		"transaction_id": data.TransactionID.String(),
		"offer_id":       data.OfferID.String(),
		"message":        data.Message,
	}
	if !occurredAt.IsZero() {
		content["occurred_at"] = occurredAt.UTC().Format(time.RFC3339)
	}
	if data.Amount != "" {
		content["amount"] = data.Amount
		content["currency"] = data.Currency
	}
	if data.Reason != "" {
		content["reason"] = data.Reason
	}
	return content
}

func uniqueRecipients(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if id == uuid.Nil {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

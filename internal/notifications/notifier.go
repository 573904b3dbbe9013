package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/lastbite/lastbite-backend/pkg/logger"
)

const defaultPublishTimeout = 10 * time.Second

// Notifier delivers a user-facing notification. Delivery is best effort:
// Emit reports whether the message was handed off and never fails the caller.
type Notifier interface {
	Emit(ctx context.Context, userID uuid.UUID, eventType string, content map[string]any) bool
}

// Message is the wire body published for each notification.
type Message struct {
	UserID    uuid.UUID      `json:"user_id"`
	EventType string         `json:"event_type"`
	Content   map[string]any `json:"content,omitempty"`
	SentAt    time.Time      `json:"sent_at"`
}

type publishFunc func(ctx context.Context, msg *pubsub.Message) (string, error)

// PubSubNotifier publishes notifications to a Pub/Sub topic; a push or mobile
// delivery worker subscribes on the other side.
type PubSubNotifier struct {
	publish publishFunc
	logg    *logger.Logger
	timeout time.Duration
	now     func() time.Time
}

func NewPubSubNotifier(publisher *pubsub.Publisher, logg *logger.Logger) (*PubSubNotifier, error) {
	if publisher == nil {
		return nil, errors.New("notification publisher required")
	}
	return newPubSubNotifier(func(ctx context.Context, msg *pubsub.Message) (string, error) {
		return publisher.Publish(ctx, msg).Get(ctx)
	}, logg), nil
}

func newPubSubNotifier(publish publishFunc, logg *logger.Logger) *PubSubNotifier {
	if logg == nil {
		logg = logger.Nop()
	}
	return &PubSubNotifier{
		publish: publish,
		logg:    logg,
		timeout: defaultPublishTimeout,
		now:     time.Now,
	}
}

func (n *PubSubNotifier) Emit(ctx context.Context, userID uuid.UUID, eventType string, content map[string]any) bool {
	logCtx := n.logg.WithFields(n.logg.WithUserID(ctx, userID.String()), map[string]any{
		"event_type": eventType,
	})
	if userID == uuid.Nil || eventType == "" {
		n.logg.Warn(logCtx, "notification missing recipient or type")
		return false
	}

	body, err := json.Marshal(Message{
		UserID:    userID,
		EventType: eventType,
		Content:   content,
		SentAt:    n.now().UTC(),
	})
	if err != nil {
		n.logg.Error(logCtx, "encode notification", err)
		return false
	}

	publishCtx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()
	id, err := n.publish(publishCtx, &pubsub.Message{
		Data: body,
		Attributes: map[string]string{
			"user_id":    userID.String(),
			"event_type": eventType,
		},
	})
	if err != nil {
		n.logg.Error(logCtx, "publish notification", err)
		return false
	}
	n.logg.Debug(n.logg.WithField(logCtx, "message_id", id), "notification published")
	return true
}

// LogNotifier writes notifications to the log. Used in dev and when Pub/Sub is
// not configured.
type LogNotifier struct {
	logg *logger.Logger
}

func NewLogNotifier(logg *logger.Logger) *LogNotifier {
	if logg == nil {
		logg = logger.Nop()
	}
	return &LogNotifier{logg: logg}
}

func (n *LogNotifier) Emit(ctx context.Context, userID uuid.UUID, eventType string, content map[string]any) bool {
	logCtx := n.logg.WithFields(n.logg.WithUserID(ctx, userID.String()), map[string]any{
		"event_type": eventType,
		"content":    content,
	})
	n.logg.Info(logCtx, "notification")
	return true
}

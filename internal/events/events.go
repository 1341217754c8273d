// Package events carries engine notifications to whatever listens:
// an SNS topic in production, the log or memory otherwise. Delivery is
// best effort and never blocks the command that raised the event.
package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	RecommendationCritical EventType = "recommendation.critical"
	OrderExecuted          EventType = "order.executed"
	TradeSettled           EventType = "trade.settled"
)

type Event struct {
	ID         string    `json:"id"`
	Type       EventType `json:"type"`
	EntityID   string    `json:"entity_id"`
	OccurredAt time.Time `json:"occurred_at"`
	Data       any       `json:"data"`
}

func New(t EventType, entityID string, data any) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       t,
		EntityID:   entityID,
		OccurredAt: time.Now().UTC(),
		Data:       data,
	}
}

// Sink is the outbound port.
type Sink interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// Emit publishes and swallows the error after logging it.
func Emit(ctx context.Context, sink Sink, logger *slog.Logger, event Event) {
	if sink == nil {
		return
	}
	if err := sink.Publish(ctx, event); err != nil {
		logger.Error("publish event failed", "eventType", event.Type, "entityID", event.EntityID, "error", err)
	}
}

package kafka

import (
	"encoding/json"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// Topics для Kafka
const (
	TopicOrderEvents     = "storefront.order.events"
	TopicDeadLetterQueue = "storefront.order.events.dlq"
)

// Kafka headers событий заказа
const (
	HeaderEventType     = "x-event-type"
	HeaderAggregateType = "x-aggregate-type"
	HeaderOutboxID      = "x-outbox-id"
)

// OrderEventEnvelope: формат сообщения о заказе в topic.
// Payload: JSON, записанный ledger в outbox, без изменений.
type OrderEventEnvelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishedAt   time.Time       `json:"published_at"`
}

// NewOrderEventEnvelope оборачивает outbox-сообщение.
func NewOrderEventEnvelope(event domain.OutboxMessage, publishedAt time.Time) OrderEventEnvelope {
	payload := json.RawMessage(event.Payload)
	if len(payload) == 0 || !json.Valid(payload) {
		payload = json.RawMessage(`{}`)
	}
	return OrderEventEnvelope{
		ID:            event.ID,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		EventType:     event.EventType,
		Payload:       payload,
		PublishedAt:   publishedAt.UTC(),
	}
}

func eventHeaders(event domain.OutboxMessage) map[string]string {
	return map[string]string{
		HeaderEventType:     event.EventType,
		HeaderAggregateType: event.AggregateType,
		HeaderOutboxID:      event.ID,
	}
}

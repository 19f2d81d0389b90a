package kafka

import (
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// OutboxTopicPublisher публикует события заказов из outbox в заданный Kafka topic.
type OutboxTopicPublisher struct {
	producer *Producer
	topic    string
	now      func() time.Time
}

// NewOutboxPublisher создаёт Kafka-паблишер для transactional outbox.
func NewOutboxPublisher(producer *Producer, topic string) *OutboxTopicPublisher {
	if topic == "" {
		topic = TopicOrderEvents
	}
	return &OutboxTopicPublisher{
		producer: producer,
		topic:    topic,
		now:      time.Now,
	}
}

// Publish отправляет событие с ключом order id, чтобы события одного заказа
// попадали в одну партицию и сохраняли порядок.
func (p *OutboxTopicPublisher) Publish(event domain.OutboxMessage) error {
	if p == nil || p.producer == nil {
		return fmt.Errorf("%w: kafka outbox publisher is not initialized", domain.ErrOutboxPublish)
	}

	key := event.AggregateID
	if key == "" {
		key = event.ID
	}

	if err := p.producer.PublishEvent(p.topic, key, NewOrderEventEnvelope(event, p.now()), eventHeaders(event)); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrOutboxPublish, err)
	}
	return nil
}

// Topic возвращает topic назначения.
func (p *OutboxTopicPublisher) Topic() string {
	return p.topic
}

var _ domain.OutboxPublisher = (*OutboxTopicPublisher)(nil)

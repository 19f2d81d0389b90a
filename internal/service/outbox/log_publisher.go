package outbox

import (
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// LogPublisher пишет события заказов в лог. Используется, когда Kafka не настроена,
// чтобы outbox не копил записи бесконечно.
type LogPublisher struct {
	logger *log.Entry
}

// NewLogPublisher создаёт LogPublisher.
func NewLogPublisher(logger *log.Entry) *LogPublisher {
	if logger == nil {
		logger = log.WithField("component", "outbox-log-publisher")
	}
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(event domain.OutboxMessage) error {
	p.logger.WithFields(log.Fields{
		"outbox_id":    event.ID,
		"event_type":   event.EventType,
		"aggregate_id": event.AggregateID,
		"payload":      string(event.Payload),
	}).Info("order event")
	return nil
}

var _ domain.OutboxPublisher = (*LogPublisher)(nil)

package app

import (
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/storefront/internal/service/outbox"
)

// eventPublishers: куда outbox worker отправляет события заказов.
type eventPublishers struct {
	main     domain.OutboxPublisher
	dlq      domain.OutboxPublisher
	producer *kafka.Producer
}

// initEventPublishers подключает Kafka, если заданы брокеры.
// Без брокеров или при ошибке подключения события пишутся в лог.
func initEventPublishers(cfg Config, logger *log.Entry) eventPublishers {
	fallback := eventPublishers{main: outbox.NewLogPublisher(logger.WithField("layer", "events"))}

	brokers := cfg.KafkaBrokerList()
	if len(brokers) == 0 {
		logger.Info("kafka is not configured, order events go to the log")
		return fallback
	}

	producer, err := kafka.NewProducer(brokers)
	if err != nil {
		logger.WithError(err).Warn("failed to create kafka producer, order events go to the log")
		return fallback
	}
	logger.WithField("brokers", brokers).Info("kafka producer initialized")

	dlqTopic := cfg.KafkaDLQTopic
	if dlqTopic == "" {
		dlqTopic = kafka.TopicDeadLetterQueue
	}
	return eventPublishers{
		main:     kafka.NewOutboxPublisher(producer, cfg.KafkaTopic),
		dlq:      kafka.NewOutboxPublisher(producer, dlqTopic),
		producer: producer,
	}
}

// closeKafka закрывает Kafka producer если он не nil.
func closeKafka(producer *kafka.Producer, logger *log.Entry) {
	if producer == nil {
		return
	}

	if err := producer.Close(); err != nil {
		logger.WithError(err).Warn("failed to close kafka producer")
	} else {
		logger.Info("kafka producer closed")
	}
}

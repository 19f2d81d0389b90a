package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/outbox"
)

const (
	DefaultReplayLimit       = 100
	DefaultReplayIdleTimeout = 2 * time.Second
)

// ReplayConfig: параметры повторной публикации событий из DLQ.
type ReplayConfig struct {
	SourceTopic string
	TargetTopic string
	Limit       int
	// Execute=false: dry-run: кандидаты только логируются.
	Execute     bool
	FromNewest  bool
	IdleTimeout time.Duration
}

// Validate проверяет конфигурацию и подставляет значения по умолчанию.
func (c *ReplayConfig) Validate() error {
	if strings.TrimSpace(c.SourceTopic) == "" {
		c.SourceTopic = TopicDeadLetterQueue
	}
	if strings.TrimSpace(c.TargetTopic) == "" {
		c.TargetTopic = TopicOrderEvents
	}
	if c.SourceTopic == c.TargetTopic {
		return fmt.Errorf("source and target topics must differ")
	}
	if c.Limit <= 0 {
		return fmt.Errorf("limit must be > 0")
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = DefaultReplayIdleTimeout
	}
	return nil
}

// ReplayStats: итог прогона.
type ReplayStats struct {
	Processed int
	Replayed  int
	Skipped   int
}

// OffsetClient: часть sarama.Client, нужная для чтения границ партиций.
type OffsetClient interface {
	GetOffset(topic string, partition int32, time int64) (int64, error)
	Partitions(topic string) ([]int32, error)
}

// PartitionConsumer: часть sarama.PartitionConsumer.
type PartitionConsumer interface {
	Messages() <-chan *sarama.ConsumerMessage
	Errors() <-chan *sarama.ConsumerError
	Close() error
}

// PartitionSource открывает чтение партиции.
type PartitionSource interface {
	ConsumePartition(topic string, partition int32, offset int64) (PartitionConsumer, error)
}

// EventPublisher: отправка восстановленного события; *Producer подходит.
type EventPublisher interface {
	PublishEvent(topic, key string, event any, headers map[string]string) error
}

// SaramaPartitionSource адаптирует sarama.Consumer к PartitionSource.
type SaramaPartitionSource struct {
	Consumer sarama.Consumer
}

func (s SaramaPartitionSource) ConsumePartition(topic string, partition int32, offset int64) (PartitionConsumer, error) {
	return s.Consumer.ConsumePartition(topic, partition, offset)
}

// NewReplayClient открывает клиент и consumer для чтения DLQ.
func NewReplayClient(brokers []string) (sarama.Client, sarama.Consumer, error) {
	if len(brokers) == 0 {
		return nil, nil, fmt.Errorf("kafka brokers are not configured")
	}
	cfg := sarama.NewConfig()
	cfg.ClientID = defaultClientID + "-dlq-replay"
	cfg.Consumer.Return.Errors = true

	client, err := sarama.NewClient(brokers, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("create kafka client: %w", err)
	}
	consumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("create kafka consumer: %w", err)
	}
	return client, consumer, nil
}

// errSkipMessage: сообщение не похоже на запись DLQ outbox worker'а.
var errSkipMessage = errors.New("not an outbox dlq record")

// ExtractDLQEvent восстанавливает исходное outbox-сообщение из записи DLQ.
func ExtractDLQEvent(value []byte) (domain.OutboxMessage, error) {
	var envelope OrderEventEnvelope
	if err := json.Unmarshal(value, &envelope); err != nil || len(envelope.Payload) == 0 {
		return domain.OutboxMessage{}, errSkipMessage
	}

	var letter outbox.DeadLetter
	if err := json.Unmarshal(envelope.Payload, &letter); err != nil {
		return domain.OutboxMessage{}, fmt.Errorf("decode dead letter: %w", err)
	}
	if len(letter.Payload) == 0 {
		return domain.OutboxMessage{}, fmt.Errorf("dead letter %s has no original payload", firstNonEmpty(letter.OutboxID, envelope.ID))
	}

	event := letter.Original()
	event.ID = firstNonEmpty(event.ID, envelope.ID)
	event.AggregateType = firstNonEmpty(event.AggregateType, envelope.AggregateType)
	event.AggregateID = firstNonEmpty(event.AggregateID, envelope.AggregateID)
	event.EventType = firstNonEmpty(event.EventType, envelope.EventType)
	return event, nil
}

// ReplayDLQ читает DLQ партиция за партицией до Limit сообщений
// и в режиме Execute публикует исходные события в TargetTopic.
func ReplayDLQ(ctx context.Context, cfg ReplayConfig, client OffsetClient, source PartitionSource, publisher EventPublisher, logger *log.Entry) (ReplayStats, error) {
	if err := cfg.Validate(); err != nil {
		return ReplayStats{}, err
	}
	if client == nil || source == nil {
		return ReplayStats{}, fmt.Errorf("kafka client and consumer are required")
	}
	if cfg.Execute && publisher == nil {
		return ReplayStats{}, fmt.Errorf("publisher is required in execute mode")
	}
	if logger == nil {
		logger = log.WithField("component", "dlq-replay")
	}

	partitions, err := client.Partitions(cfg.SourceTopic)
	if err != nil {
		return ReplayStats{}, fmt.Errorf("get partitions for topic %s: %w", cfg.SourceTopic, err)
	}
	sort.Slice(partitions, func(i, j int) bool { return partitions[i] < partitions[j] })

	r := replayer{cfg: cfg, client: client, source: source, publisher: publisher, logger: logger}
	var total ReplayStats
	for _, partition := range partitions {
		if total.Processed >= cfg.Limit {
			break
		}
		stats, err := r.partition(ctx, partition, cfg.Limit-total.Processed)
		total.Processed += stats.Processed
		total.Replayed += stats.Replayed
		total.Skipped += stats.Skipped
		if err != nil {
			return total, err
		}
	}

	logger.WithFields(log.Fields{
		"execute":   cfg.Execute,
		"processed": total.Processed,
		"replayed":  total.Replayed,
		"skipped":   total.Skipped,
	}).Info("dlq replay finished")
	return total, nil
}

type replayer struct {
	cfg       ReplayConfig
	client    OffsetClient
	source    PartitionSource
	publisher EventPublisher
	logger    *log.Entry
}

func (r replayer) partition(ctx context.Context, partition int32, limit int) (ReplayStats, error) {
	var stats ReplayStats

	oldest, err := r.client.GetOffset(r.cfg.SourceTopic, partition, sarama.OffsetOldest)
	if err != nil {
		return stats, fmt.Errorf("get oldest offset for partition %d: %w", partition, err)
	}
	newest, err := r.client.GetOffset(r.cfg.SourceTopic, partition, sarama.OffsetNewest)
	if err != nil {
		return stats, fmt.Errorf("get newest offset for partition %d: %w", partition, err)
	}
	if newest <= oldest {
		return stats, nil
	}

	start := oldest
	if r.cfg.FromNewest && newest-int64(limit) > oldest {
		start = newest - int64(limit)
	}

	pc, err := r.source.ConsumePartition(r.cfg.SourceTopic, partition, start)
	if err != nil {
		return stats, fmt.Errorf("consume partition %d: %w", partition, err)
	}
	defer func() { _ = pc.Close() }()

	idle := time.NewTimer(r.cfg.IdleTimeout)
	defer idle.Stop()

	for stats.Processed < limit {
		select {
		case <-ctx.Done():
			return stats, ctx.Err()
		case cerr := <-pc.Errors():
			if cerr != nil {
				return stats, fmt.Errorf("partition %d consumer error: %w", partition, cerr)
			}
		case msg, ok := <-pc.Messages():
			if !ok || msg == nil || msg.Offset >= newest {
				return stats, nil
			}
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(r.cfg.IdleTimeout)

			stats.Processed++
			replayed, err := r.replay(msg)
			if err != nil {
				return stats, err
			}
			if replayed {
				stats.Replayed++
			} else {
				stats.Skipped++
			}

			if msg.Offset+1 >= newest {
				return stats, nil
			}
		case <-idle.C:
			return stats, nil
		}
	}
	return stats, nil
}

// replay возвращает false для сообщений, которые пропущены как нераспознанные.
func (r replayer) replay(msg *sarama.ConsumerMessage) (bool, error) {
	fields := log.Fields{"partition": msg.Partition, "offset": msg.Offset}

	event, err := ExtractDLQEvent(msg.Value)
	if err != nil {
		r.logger.WithError(err).WithFields(fields).Warn("skip dlq message")
		return false, nil
	}

	fields["outbox_id"] = event.ID
	fields["event_type"] = event.EventType
	if !r.cfg.Execute {
		r.logger.WithFields(fields).Info("dlq replay candidate")
		return true, nil
	}

	key := firstNonEmpty(event.AggregateID, event.ID)
	if err := r.publisher.PublishEvent(r.cfg.TargetTopic, key, NewOrderEventEnvelope(event, time.Now()), eventHeaders(event)); err != nil {
		return false, fmt.Errorf("publish replayed event %s: %w", event.ID, err)
	}
	r.logger.WithFields(fields).Info("dlq event replayed")
	return true, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

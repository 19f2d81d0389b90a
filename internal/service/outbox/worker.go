package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
)

const (
	defaultPollInterval   = 1 * time.Second
	defaultBatchSize      = 100
	defaultMaxAttempts    = 3
	defaultRetryBaseDelay = 50 * time.Millisecond
	maxRetryDelay         = 30 * time.Second
)

// Результаты публикации для storefront_outbox_publish_attempts_total.
const (
	resultSent       = "sent"
	resultRetryError = "retry_error"
	resultFailed     = "failed"
	resultDLQFailed  = "dlq_failed"
)

// DeadLetter: запись, которую worker отправляет в DLQ после исчерпания попыток.
// Payload содержит исходное событие без изменений, чтобы его можно было переотправить.
type DeadLetter struct {
	OutboxID       string          `json:"outbox_id"`
	AggregateType  string          `json:"aggregate_type"`
	AggregateID    string          `json:"aggregate_id"`
	EventType      string          `json:"event_type"`
	Payload        json.RawMessage `json:"payload"`
	PublishError   string          `json:"publish_error"`
	DLQPublishedAt time.Time       `json:"dlq_published_at"`
}

// NewDeadLetter описывает событие, которое не удалось опубликовать.
func NewDeadLetter(event domain.OutboxMessage, publishErr error, at time.Time) DeadLetter {
	payload := json.RawMessage(event.Payload)
	if len(payload) == 0 || !json.Valid(payload) {
		payload = json.RawMessage(`{}`)
	}
	letter := DeadLetter{
		OutboxID:       event.ID,
		AggregateType:  event.AggregateType,
		AggregateID:    event.AggregateID,
		EventType:      event.EventType,
		Payload:        payload,
		DLQPublishedAt: at.UTC(),
	}
	if publishErr != nil {
		letter.PublishError = publishErr.Error()
	}
	return letter
}

// Original восстанавливает исходное outbox-сообщение.
func (d DeadLetter) Original() domain.OutboxMessage {
	return domain.OutboxMessage{
		ID:            d.OutboxID,
		AggregateType: d.AggregateType,
		AggregateID:   d.AggregateID,
		EventType:     d.EventType,
		Payload:       []byte(d.Payload),
	}
}

// Option настраивает Worker.
type Option func(*Worker)

func WithLogger(logger *log.Entry) Option {
	return func(w *Worker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

func WithMetrics(m *metrics.CheckoutMetrics) Option {
	return func(w *Worker) { w.metrics = m }
}

// WithDLQPublisher задаёт publisher для событий, исчерпавших попытки.
// Без него такие события только помечаются failed.
func WithDLQPublisher(publisher domain.OutboxPublisher) Option {
	return func(w *Worker) { w.dlq = publisher }
}

func WithPollInterval(interval time.Duration) Option {
	return func(w *Worker) {
		if interval > 0 {
			w.pollInterval = interval
		}
	}
}

func WithBatchSize(batchSize int) Option {
	return func(w *Worker) {
		if batchSize > 0 {
			w.batchSize = batchSize
		}
	}
}

// WithMaxAttempts задаёт число попыток публикации одного события за цикл.
func WithMaxAttempts(maxAttempts int) Option {
	return func(w *Worker) {
		if maxAttempts > 0 {
			w.maxAttempts = maxAttempts
		}
	}
}

// WithRetryBaseDelay задаёт паузу после первой неудачи; дальше она удваивается.
// Ноль отключает паузы.
func WithRetryBaseDelay(delay time.Duration) Option {
	return func(w *Worker) {
		if delay < 0 {
			delay = 0
		}
		w.retryBaseDelay = delay
	}
}

func WithClock(now func() time.Time) Option {
	return func(w *Worker) {
		if now != nil {
			w.now = now
		}
	}
}

// Worker доставляет события заказов (OrderCreated, OrderPaid, OrderFailed)
// из outbox в брокер. Доставка at-least-once: после падения между Publish
// и MarkSent событие уйдёт повторно.
type Worker struct {
	repo      domain.OutboxRepository
	publisher domain.OutboxPublisher
	dlq       domain.OutboxPublisher
	logger    *log.Entry
	metrics   *metrics.CheckoutMetrics
	now       func() time.Time

	pollInterval   time.Duration
	batchSize      int
	maxAttempts    int
	retryBaseDelay time.Duration
}

func NewWorker(repo domain.OutboxRepository, publisher domain.OutboxPublisher, opts ...Option) *Worker {
	w := &Worker{
		repo:           repo,
		publisher:      publisher,
		logger:         log.WithField("component", "outbox-worker"),
		now:            time.Now,
		pollInterval:   defaultPollInterval,
		batchSize:      defaultBatchSize,
		maxAttempts:    defaultMaxAttempts,
		retryBaseDelay: defaultRetryBaseDelay,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run опрашивает outbox до отмены ctx.
func (w *Worker) Run(ctx context.Context) {
	if w.repo == nil || w.publisher == nil {
		w.logger.Warn("outbox worker is disabled: repo or publisher is nil")
		return
	}

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		w.ProcessOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// ProcessOnce обрабатывает один батч и возвращает число опубликованных событий.
func (w *Worker) ProcessOnce(ctx context.Context) int {
	if ctx.Err() != nil {
		return 0
	}
	defer w.refreshBacklog(ctx)

	events, err := w.repo.PullPending(ctx, w.batchSize)
	if err != nil {
		w.logger.WithError(err).Warn("failed to pull pending order events")
		return 0
	}

	sent := 0
	for _, event := range events {
		if ctx.Err() != nil {
			break
		}
		if w.deliver(ctx, event) {
			sent++
		}
	}
	return sent
}

// deliver публикует событие с повторами; неудачное уходит в DLQ и помечается failed.
func (w *Worker) deliver(ctx context.Context, event domain.OutboxMessage) bool {
	entry := w.logger.WithFields(log.Fields{
		"outbox_id":    event.ID,
		"event_type":   event.EventType,
		"aggregate_id": event.AggregateID,
	})

	err := w.publishWithRetry(ctx, event)
	if err == nil {
		if markErr := w.repo.MarkSent(ctx, event.ID); markErr != nil {
			entry.WithError(markErr).Warn("order event published but not marked sent")
		}
		entry.Debug("order event published")
		return true
	}
	if ctx.Err() != nil {
		// Событие остаётся pending до следующего запуска.
		return false
	}

	entry.WithError(err).Error("order event publish failed after retries")
	w.metrics.RecordOutboxPublish(resultFailed)

	if dlqErr := w.sendToDLQ(event, err); dlqErr != nil {
		entry.WithError(dlqErr).Warn("failed to publish order event to dlq")
		w.metrics.RecordOutboxPublish(resultDLQFailed)
	}
	if markErr := w.repo.MarkFailed(ctx, event.ID); markErr != nil {
		entry.WithError(markErr).Warn("failed to mark order event as failed")
	}
	return false
}

func (w *Worker) publishWithRetry(ctx context.Context, event domain.OutboxMessage) error {
	var lastErr error
	for attempt := 1; attempt <= w.maxAttempts; attempt++ {
		if lastErr = w.publisher.Publish(event); lastErr == nil {
			w.metrics.RecordOutboxPublish(resultSent)
			return nil
		}
		w.metrics.RecordOutboxPublish(resultRetryError)

		if attempt == w.maxAttempts {
			break
		}
		if err := sleepCtx(ctx, Backoff(w.retryBaseDelay, attempt)); err != nil {
			return err
		}
	}
	return fmt.Errorf("publish failed after %d attempts: %w", w.maxAttempts, lastErr)
}

func (w *Worker) sendToDLQ(event domain.OutboxMessage, publishErr error) error {
	if w.dlq == nil {
		return nil
	}
	payload, err := json.Marshal(NewDeadLetter(event, publishErr, w.now()))
	if err != nil {
		return fmt.Errorf("marshal dead letter: %w", err)
	}

	letter := event
	letter.Payload = payload
	if err := w.dlq.Publish(letter); err != nil {
		return fmt.Errorf("publish to dlq: %w", err)
	}
	return nil
}

func (w *Worker) refreshBacklog(ctx context.Context) {
	if w.metrics == nil {
		return
	}
	stats, err := w.repo.Stats(ctx)
	if err != nil {
		w.logger.WithError(err).Warn("failed to collect outbox backlog stats")
		return
	}
	var age time.Duration
	if stats.PendingCount > 0 && !stats.OldestPendingAt.IsZero() {
		age = w.now().Sub(stats.OldestPendingAt)
	}
	w.metrics.SetOutboxBacklog(stats.PendingCount, age)
}

// Backoff возвращает паузу перед попыткой attempt+1: base, 2*base, 4*base...
// Пауза ограничена maxRetryDelay.
func Backoff(base time.Duration, attempt int) time.Duration {
	if base <= 0 || attempt < 1 {
		return 0
	}
	delay := base
	for i := 1; i < attempt; i++ {
		if delay >= maxRetryDelay/2 {
			return maxRetryDelay
		}
		delay *= 2
	}
	if delay > maxRetryDelay {
		return maxRetryDelay
	}
	return delay
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

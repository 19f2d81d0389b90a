package idempotency

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
)

const (
	defaultCleanupInterval  = 10 * time.Minute
	defaultCleanupBatchSize = 500
	// maxBatchesPerSweep ограничивает один проход, остаток уйдёт в следующий тик.
	maxBatchesPerSweep = 100
)

// CleanupOption настраивает CleanupWorker.
type CleanupOption func(*CleanupWorker)

func WithLogger(logger *log.Entry) CleanupOption {
	return func(w *CleanupWorker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

func WithMetrics(m *metrics.CheckoutMetrics) CleanupOption {
	return func(w *CleanupWorker) { w.metrics = m }
}

// WithInterval задаёт паузу между проходами очистки.
func WithInterval(interval time.Duration) CleanupOption {
	return func(w *CleanupWorker) {
		if interval > 0 {
			w.interval = interval
		}
	}
}

// WithBatchSize задаёт число ключей, удаляемых одним запросом.
func WithBatchSize(batchSize int) CleanupOption {
	return func(w *CleanupWorker) {
		if batchSize > 0 {
			w.batchSize = batchSize
		}
	}
}

func WithCleanupClock(now func() time.Time) CleanupOption {
	return func(w *CleanupWorker) {
		if now != nil {
			w.now = now
		}
	}
}

// CleanupWorker удаляет просроченные Idempotency-Key записи checkout-запросов.
type CleanupWorker struct {
	repo      domain.IdempotencyRepository
	logger    *log.Entry
	metrics   *metrics.CheckoutMetrics
	now       func() time.Time
	interval  time.Duration
	batchSize int
}

func NewCleanupWorker(repo domain.IdempotencyRepository, opts ...CleanupOption) *CleanupWorker {
	w := &CleanupWorker{
		repo:      repo,
		logger:    log.WithField("component", "idempotency-cleanup"),
		now:       time.Now,
		interval:  defaultCleanupInterval,
		batchSize: defaultCleanupBatchSize,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run выполняет очистку сразу и затем раз в interval, пока ctx не отменён.
func (w *CleanupWorker) Run(ctx context.Context) {
	if w.repo == nil {
		w.logger.Warn("idempotency cleanup worker is disabled: repo is nil")
		return
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		w.runOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (w *CleanupWorker) runOnce(ctx context.Context) {
	deleted, err := w.Sweep(ctx, w.now().UTC())
	switch {
	case errors.Is(err, context.Canceled):
		return
	case err != nil:
		w.metrics.RecordIdempotencyCleanup("error", deleted)
		w.logger.WithError(err).WithField("deleted", deleted).Warn("idempotency cleanup run failed")
		return
	}

	w.metrics.RecordIdempotencyCleanup("ok", deleted)
	if deleted > 0 {
		w.logger.WithField("deleted", deleted).Info("expired idempotency keys removed")
	}
}

// Sweep удаляет ключи с expires_at <= before порциями batchSize и возвращает
// число удалённых. Zero before означает текущее время.
func (w *CleanupWorker) Sweep(ctx context.Context, before time.Time) (int, error) {
	if before.IsZero() {
		before = w.now().UTC()
	}

	total := 0
	for batch := 0; batch < maxBatchesPerSweep; batch++ {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		deleted, err := w.repo.DeleteExpired(ctx, before, w.batchSize)
		total += deleted
		if err != nil {
			return total, err
		}
		if deleted < w.batchSize {
			return total, nil
		}
	}

	w.logger.WithField("deleted", total).Warn("idempotency cleanup stopped at batch limit")
	return total, nil
}

// Package reconcile находит pending-заказы, по которым так и не пришло
// подтверждение оплаты. Статусы заказов он не меняет.
package reconcile

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
)

const (
	defaultScanInterval = 5 * time.Minute
	defaultStaleAge     = 30 * time.Minute
	defaultScanLimit    = 100
)

// StaleLister: источник зависших заказов.
type StaleLister interface {
	ListStalePending(ctx context.Context, olderThan time.Duration, limit int) ([]domain.Order, error)
}

// ReporterOptions задаёт параметры StaleReporter.
type ReporterOptions struct {
	Logger   *log.Entry
	Metrics  *metrics.CheckoutMetrics
	Interval time.Duration
	StaleAge time.Duration
	Limit    int
}

// Option настраивает StaleReporter.
type Option func(*ReporterOptions)

func WithLogger(logger *log.Entry) Option {
	return func(opts *ReporterOptions) { opts.Logger = logger }
}

func WithMetrics(m *metrics.CheckoutMetrics) Option {
	return func(opts *ReporterOptions) { opts.Metrics = m }
}

// WithInterval задаёт период сканирования.
func WithInterval(interval time.Duration) Option {
	return func(opts *ReporterOptions) { opts.Interval = interval }
}

// WithStaleAge задаёт возраст, после которого pending-заказ считается зависшим.
func WithStaleAge(age time.Duration) Option {
	return func(opts *ReporterOptions) { opts.StaleAge = age }
}

// WithLimit ограничивает выборку за один проход.
func WithLimit(limit int) Option {
	return func(opts *ReporterOptions) { opts.Limit = limit }
}

// StaleReporter периодически логирует зависшие pending-заказы и
// выставляет gauge storefront_stale_pending_orders.
type StaleReporter struct {
	orders   StaleLister
	logger   *log.Entry
	metrics  *metrics.CheckoutMetrics
	interval time.Duration
	staleAge time.Duration
	limit    int
}

// NewStaleReporter создаёт воркер.
func NewStaleReporter(orders StaleLister, options ...Option) *StaleReporter {
	opts := ReporterOptions{
		Interval: defaultScanInterval,
		StaleAge: defaultStaleAge,
		Limit:    defaultScanLimit,
	}
	for _, option := range options {
		option(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = log.WithField("component", "stale-order-reporter")
	}
	if opts.Interval <= 0 {
		opts.Interval = defaultScanInterval
	}
	if opts.StaleAge <= 0 {
		opts.StaleAge = defaultStaleAge
	}
	if opts.Limit <= 0 {
		opts.Limit = defaultScanLimit
	}

	return &StaleReporter{
		orders:   orders,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		interval: opts.Interval,
		staleAge: opts.StaleAge,
		limit:    opts.Limit,
	}
}

// Run сканирует заказы до отмены ctx.
func (r *StaleReporter) Run(ctx context.Context) {
	if r.orders == nil {
		r.logger.Warn("stale order reporter is disabled: order source is nil")
		return
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.ScanOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.ScanOnce(ctx)
		}
	}
}

// ScanOnce выполняет один проход и возвращает найденные заказы.
func (r *StaleReporter) ScanOnce(ctx context.Context) []domain.Order {
	if ctx.Err() != nil {
		return nil
	}

	orders, err := r.orders.ListStalePending(ctx, r.staleAge, r.limit)
	if err != nil {
		r.logger.WithError(err).Warn("failed to list stale pending orders")
		return nil
	}

	r.metrics.SetStalePending(len(orders))
	if len(orders) == 0 {
		return orders
	}

	for _, order := range orders {
		r.logger.WithFields(log.Fields{
			"order_id":     order.ID,
			"user_id":      order.UserID,
			"provider":     order.Provider,
			"external_ref": order.ExternalRef,
			"age":          time.Since(order.CreatedAt).Round(time.Second).String(),
		}).Warn("pending order without payment confirmation")
	}
	if len(orders) == r.limit {
		r.logger.WithField("limit", r.limit).Warn("stale order scan hit the limit, more orders may be pending")
	}
	return orders
}

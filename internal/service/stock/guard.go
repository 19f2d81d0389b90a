// Package stock проверяет и списывает складские остатки для заказов.
package stock

import (
	"context"
	"errors"
	"fmt"
	"sort"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
)

// Option настраивает Guard.
type Option func(*Guard)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(g *Guard) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithMetrics задаёт метрики.
func WithMetrics(m *metrics.CheckoutMetrics) Option {
	return func(g *Guard) {
		g.metrics = m
	}
}

// Guard: единственная точка чтения и изменения остатков.
type Guard struct {
	products domain.ProductRepository
	orders   domain.OrderRepository
	logger   *log.Entry
	metrics  *metrics.CheckoutMetrics
}

// NewGuard создаёт Guard.
func NewGuard(products domain.ProductRepository, orders domain.OrderRepository, opts ...Option) *Guard {
	g := &Guard{
		products: products,
		orders:   orders,
		logger:   log.WithField("component", "stock-guard"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Validate проверяет, что остатков хватает на все строки. Ничего не меняет.
// Отсутствующий товар считается товаром с нулевым остатком.
func (g *Guard) Validate(ctx context.Context, lines []domain.StockLine) error {
	if len(lines) == 0 {
		return domain.ErrItemsRequired
	}
	for _, line := range lines {
		if line.ProductID == "" {
			return domain.ErrProductIDRequired
		}
	}

	required := domain.AggregateStock(lines)
	levels, err := g.products.StockLevels(ctx, required.ProductIDs())
	if err != nil {
		return fmt.Errorf("%w: read stock levels: %w", domain.ErrStoreUnavailable, err)
	}

	var shortages []domain.Shortage
	for id, needed := range required {
		available := levels[id]
		if available < needed {
			shortages = append(shortages, domain.Shortage{ProductID: id, Needed: needed, Available: available})
		}
	}
	if len(shortages) > 0 {
		g.metrics.RecordInsufficientStock()
		return domain.NewInsufficientStockError(shortages)
	}
	return nil
}

// DecrementForOrder списывает остатки по позициям заказа, по одному атомарному
// обновлению на товар. Идемпотентность обеспечивает вызывающий ledger.
func (g *Guard) DecrementForOrder(ctx context.Context, orderID string) error {
	order, err := g.orders.Get(ctx, orderID)
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			return err
		}
		return fmt.Errorf("%w: load order %s: %w", domain.ErrStoreUnavailable, orderID, err)
	}

	required := domain.AggregateStock(order.StockLines())
	ids := required.ProductIDs()
	// Фиксированный порядок строк снижает риск взаимных блокировок в БД.
	sort.Strings(ids)

	logger := g.logger.WithField("order_id", orderID)
	for _, id := range ids {
		change, err := g.products.DecrementStock(ctx, id, required[id])
		if err != nil {
			if errors.Is(err, domain.ErrProductNotFound) {
				logger.WithField("product_id", id).Warn("product vanished before stock decrement, skipping")
				continue
			}
			return fmt.Errorf("%w: decrement stock for %s: %w", domain.ErrStoreUnavailable, id, err)
		}

		if shortfall := change.Shortfall(); shortfall > 0 {
			g.metrics.RecordStockClamped()
			logger.WithFields(log.Fields{
				"product_id": id,
				"requested":  change.Requested,
				"before":     change.Before,
				"shortfall":  shortfall,
			}).Warn("oversell detected: stock clamped at zero")
		}
	}
	return nil
}

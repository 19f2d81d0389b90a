// Package ledger ведёт жизненный цикл заказа: pending -> paid | failed.
// Переход в paid выполняется одной compare-and-set операцией хранилища,
// поэтому списание остатков происходит ровно один раз при любых гонках
// между webhook и возвратом покупателя.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
)

const (
	defaultListLimit  = 50
	defaultStaleLimit = 100

	// settleTimeout ограничивает списание и запись событий после перехода в paid.
	settleTimeout = 15 * time.Second
)

// StockGuard: часть stock.Guard, нужная ledger.
type StockGuard interface {
	Validate(ctx context.Context, lines []domain.StockLine) error
	DecrementForOrder(ctx context.Context, orderID string) error
}

// NewOrder: входные данные для создания заказа.
type NewOrder struct {
	UserID   string
	Email    string
	Items    []domain.OrderItem
	Total    decimal.Decimal
	Provider domain.PaymentProvider
}

// Option настраивает Service.
type Option func(*Service)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics задаёт метрики.
func WithMetrics(m *metrics.CheckoutMetrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithClock подменяет источник времени (для тестов).
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDGenerator подменяет генератор идентификаторов.
func WithIDGenerator(gen func() string) Option {
	return func(s *Service) {
		if gen != nil {
			s.newID = gen
		}
	}
}

// Service: журнал заказов.
type Service struct {
	orders  domain.OrderRepository
	outbox  domain.OutboxRepository
	stock   StockGuard
	logger  *log.Entry
	metrics *metrics.CheckoutMetrics
	now     func() time.Time
	newID   func() string
}

// NewService создаёт ledger. outbox может быть nil, тогда события не пишутся.
func NewService(orders domain.OrderRepository, outbox domain.OutboxRepository, stock StockGuard, opts ...Option) *Service {
	s := &Service{
		orders: orders,
		outbox: outbox,
		stock:  stock,
		logger: log.WithField("component", "ledger"),
		now:    func() time.Time { return time.Now().UTC() },
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreatePending проверяет остатки и сохраняет заказ в статусе pending.
// Остатки не списываются.
func (s *Service) CreatePending(ctx context.Context, in NewOrder) (domain.Order, error) {
	order, err := s.build(ctx, in, domain.OrderStatusPending)
	if err != nil {
		return domain.Order{}, err
	}
	if err := s.persist(ctx, order); err != nil {
		return domain.Order{}, err
	}

	s.metrics.RecordOrderCreated(string(order.Provider))
	s.emitEvent(ctx, &order, domain.EventOrderCreated, nil)
	s.logger.WithFields(log.Fields{
		"order_id": order.ID,
		"user_id":  order.UserID,
		"total":    order.Total.StringFixed(2),
		"provider": order.Provider,
	}).Info("pending order created")
	return order, nil
}

// CreatePaidDirectly сохраняет заказ сразу в статусе paid и один раз списывает остатки.
// Используется для ручных и доверенных оплат.
func (s *Service) CreatePaidDirectly(ctx context.Context, in NewOrder) (domain.Order, error) {
	if in.Provider == "" {
		in.Provider = domain.PaymentProviderManual
	}
	order, err := s.build(ctx, in, domain.OrderStatusPaid)
	if err != nil {
		return domain.Order{}, err
	}
	if err := s.persist(ctx, order); err != nil {
		return domain.Order{}, err
	}

	// Заказ уже сохранён как paid: списание должно дойти до конца даже при отмене запроса.
	ctx, cancel := settleContext(ctx)
	defer cancel()

	s.metrics.RecordOrderCreated(string(order.Provider))
	s.emitEvent(ctx, &order, domain.EventOrderCreated, nil)

	if err := s.stock.DecrementForOrder(ctx, order.ID); err != nil {
		s.logger.WithError(err).WithField("order_id", order.ID).Error("stock decrement failed for paid order, manual reconciliation required")
		return order, fmt.Errorf("decrement stock for order %s: %w", order.ID, err)
	}

	s.metrics.RecordOrderPaid("direct_create")
	s.emitEvent(ctx, &order, domain.EventOrderPaid, nil)
	return order, nil
}

// MarkPaid переводит заказ в paid. Второй результат сообщает, выполнил ли
// переход именно этот вызов. Повторный вызов для оплаченного заказа ничего не меняет.
func (s *Service) MarkPaid(ctx context.Context, orderID string) (domain.Order, bool, error) {
	order, err := s.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, false, err
	}

	switch order.Status {
	case domain.OrderStatusPaid:
		return order, false, nil
	case domain.OrderStatusFailed:
		return order, false, domain.ErrOrderNotPending
	}

	won, err := s.orders.TransitionStatus(ctx, orderID, domain.OrderStatusPending, domain.OrderStatusPaid)
	if err != nil {
		return domain.Order{}, false, storeErr("transition order to paid", err)
	}
	if !won {
		// Параллельный канал успел раньше; перечитываем итоговое состояние.
		current, err := s.Get(ctx, orderID)
		if err != nil {
			return domain.Order{}, false, err
		}
		if current.Status == domain.OrderStatusFailed {
			return current, false, domain.ErrOrderNotPending
		}
		return current, false, nil
	}

	// CAS выигран: повторный MarkPaid уже не спишет остатки, поэтому отмена запроса не должна прервать списание.
	ctx, cancel := settleContext(ctx)
	defer cancel()

	order.Status = domain.OrderStatusPaid
	order.UpdatedAt = s.now()
	logger := s.logger.WithField("order_id", orderID)

	if err := s.stock.DecrementForOrder(ctx, orderID); err != nil {
		logger.WithError(err).Error("order marked paid but stock decrement failed, manual reconciliation required")
		s.emitEvent(ctx, &order, domain.EventOrderPaid, map[string]any{"stock_decremented": false})
		return order, true, fmt.Errorf("decrement stock for order %s: %w", orderID, err)
	}

	s.emitEvent(ctx, &order, domain.EventOrderPaid, nil)
	logger.Info("order marked paid")
	return order, true, nil
}

// MarkFailed переводит pending-заказ в failed. Остатки не трогаются.
// Для уже failed заказа это no-op, для paid возвращается ErrOrderNotPending.
func (s *Service) MarkFailed(ctx context.Context, orderID, reason string) (domain.Order, bool, error) {
	order, err := s.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, false, err
	}

	switch order.Status {
	case domain.OrderStatusFailed:
		return order, false, nil
	case domain.OrderStatusPaid:
		return order, false, domain.ErrOrderNotPending
	}

	won, err := s.orders.TransitionStatus(ctx, orderID, domain.OrderStatusPending, domain.OrderStatusFailed)
	if err != nil {
		return domain.Order{}, false, storeErr("transition order to failed", err)
	}
	if !won {
		current, err := s.Get(ctx, orderID)
		if err != nil {
			return domain.Order{}, false, err
		}
		if current.Status == domain.OrderStatusPaid {
			return current, false, domain.ErrOrderNotPending
		}
		return current, false, nil
	}

	ctx, cancel := settleContext(ctx)
	defer cancel()

	order.Status = domain.OrderStatusFailed
	order.UpdatedAt = s.now()
	s.emitEvent(ctx, &order, domain.EventOrderFailed, map[string]any{"reason": reason})
	s.logger.WithFields(log.Fields{"order_id": orderID, "reason": reason}).Warn("order marked failed")
	return order, true, nil
}

// AttachExternalRef сохраняет идентификатор сессии/транзакции провайдера.
func (s *Service) AttachExternalRef(ctx context.Context, orderID string, provider domain.PaymentProvider, ref string) error {
	if err := s.orders.SetPaymentRef(ctx, orderID, provider, ref); err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			return err
		}
		return storeErr("attach external ref", err)
	}
	return nil
}

// Get возвращает заказ.
func (s *Service) Get(ctx context.Context, orderID string) (domain.Order, error) {
	if strings.TrimSpace(orderID) == "" {
		return domain.Order{}, domain.ErrOrderIDRequired
	}
	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			return domain.Order{}, err
		}
		return domain.Order{}, storeErr("load order", err)
	}
	return order, nil
}

// ListByUser возвращает заказы пользователя, новые первыми.
func (s *Service) ListByUser(ctx context.Context, userID string, limit int) ([]domain.Order, error) {
	if userID == "" {
		return nil, domain.ErrUserRequired
	}
	if limit <= 0 || limit > defaultListLimit {
		limit = defaultListLimit
	}
	orders, err := s.orders.ListByUser(ctx, userID, limit)
	if err != nil {
		return nil, storeErr("list orders", err)
	}
	return orders, nil
}

// ListStalePending возвращает pending-заказы старше olderThan, старые первыми.
func (s *Service) ListStalePending(ctx context.Context, olderThan time.Duration, limit int) ([]domain.Order, error) {
	if limit <= 0 {
		limit = defaultStaleLimit
	}
	orders, err := s.orders.ListByStatusBefore(ctx, domain.OrderStatusPending, s.now().Add(-olderThan), limit)
	if err != nil {
		return nil, storeErr("list stale pending orders", err)
	}
	return orders, nil
}

func (s *Service) build(ctx context.Context, in NewOrder, status domain.OrderStatus) (domain.Order, error) {
	if strings.TrimSpace(in.UserID) == "" {
		return domain.Order{}, domain.ErrUserRequired
	}
	if len(in.Items) == 0 {
		return domain.Order{}, domain.ErrItemsRequired
	}

	now := s.now()
	order := domain.Order{
		ID:        s.newID(),
		UserID:    in.UserID,
		Email:     in.Email,
		Status:    status,
		Provider:  in.Provider,
		Items:     make([]domain.OrderItem, 0, len(in.Items)),
		CreatedAt: now,
		UpdatedAt: now,
	}
	for _, item := range in.Items {
		item.ID = s.newID()
		item.OrderID = order.ID
		item.Quantity = domain.NormalizeQuantity(item.Quantity)
		order.Items = append(order.Items, item)
	}

	order.Total = in.Total
	if !order.Total.IsPositive() {
		order.Total = order.Subtotal()
	}

	if errs := order.ValidateInvariants(); len(errs) > 0 {
		return domain.Order{}, errs[0]
	}

	if err := s.stock.Validate(ctx, order.StockLines()); err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

func (s *Service) persist(ctx context.Context, order domain.Order) error {
	if err := s.orders.Create(ctx, order); err != nil {
		if errors.Is(err, domain.ErrOrderAlreadyExists) {
			return err
		}
		return storeErr("create order", err)
	}
	return nil
}

// emitEvent пишет событие заказа в outbox. Ошибка записи не откатывает переход статуса.
func (s *Service) emitEvent(ctx context.Context, order *domain.Order, eventType string, payload map[string]any) {
	if s.outbox == nil {
		return
	}
	if payload == nil {
		payload = make(map[string]any)
	}
	payload["order_id"] = order.ID
	payload["user_id"] = order.UserID
	payload["status"] = string(order.Status)
	payload["total"] = order.Total.StringFixed(2)
	payload["provider"] = string(order.Provider)
	payload["ts"] = s.now().Format(time.RFC3339Nano)

	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.WithError(err).WithFields(log.Fields{
			"order_id": order.ID,
			"event":    eventType,
		}).Error("marshal event failed")
		return
	}

	msg := domain.OutboxMessage{
		AggregateType: "order",
		AggregateID:   order.ID,
		EventType:     eventType,
		Payload:       data,
	}
	if _, err := s.outbox.Enqueue(ctx, msg); err != nil {
		s.logger.WithError(err).WithFields(log.Fields{
			"order_id": order.ID,
			"event":    eventType,
		}).Error("enqueue event failed")
		return
	}
	s.metrics.RecordOutboxEvent(eventType)
}

func settleContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
}

func storeErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", domain.ErrStoreUnavailable, op, err)
}

package settlement

import (
	"context"
	"errors"
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
)

const (
	sourceWebhook = "webhook"
	sourceReturn  = "return"
)

// Ledger: операции книги заказов, которые нужны для расчёта.
type Ledger interface {
	Get(ctx context.Context, orderID string) (domain.Order, error)
	MarkPaid(ctx context.Context, orderID string) (domain.Order, bool, error)
	MarkFailed(ctx context.Context, orderID, reason string) (domain.Order, bool, error)
}

// AdminPolicy решает, может ли пользователь рассчитывать чужие заказы.
type AdminPolicy interface {
	IsAdmin(user domain.User) bool
}

// Option настраивает Receiver.
type Option func(*Receiver)

func WithLogger(logger *log.Entry) Option {
	return func(r *Receiver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func WithMetrics(m *metrics.CheckoutMetrics) Option {
	return func(r *Receiver) {
		r.metrics = m
	}
}

// WithAdminPolicy разрешает администраторам подтверждать любые заказы.
func WithAdminPolicy(p AdminPolicy) Option {
	return func(r *Receiver) {
		r.admins = p
	}
}

// Receiver применяет подтверждения оплаты к книге заказов.
// Оба канала могут прийти в любом порядке и одновременно: корректность
// обеспечивает только CAS-переход внутри Ledger.
type Receiver struct {
	ledger  Ledger
	parser  *Parser
	admins  AdminPolicy
	logger  *log.Entry
	metrics *metrics.CheckoutMetrics
}

// NewReceiver создаёт Receiver.
func NewReceiver(ledger Ledger, parser *Parser, opts ...Option) *Receiver {
	if parser == nil {
		parser = NewParser("")
	}
	r := &Receiver{
		ledger: ledger,
		parser: parser,
		logger: log.WithField("component", "settlement"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// OnWebhook применяет разобранное серверное уведомление.
func (r *Receiver) OnWebhook(ctx context.Context, out Outcome) (domain.Order, error) {
	logger := r.logger.WithFields(log.Fields{
		"order_id": out.OrderID,
		"provider": out.Provider,
		"source":   sourceWebhook,
	})

	if out.Succeeded {
		order, changed, err := r.ledger.MarkPaid(ctx, out.OrderID)
		r.recordPaid(sourceWebhook, changed, err)
		if err != nil {
			return order, err
		}
		if !changed {
			logger.Debug("duplicate payment confirmation ignored")
		}
		return order, nil
	}

	order, changed, err := r.ledger.MarkFailed(ctx, out.OrderID, out.Reason)
	if err != nil {
		return order, err
	}
	if changed {
		r.metrics.RecordOrderFailed(sourceWebhook)
	} else {
		r.metrics.RecordSettlementNoop(sourceWebhook)
	}
	logger.WithField("reason", out.Reason).Info("payment failure notification applied")
	return order, nil
}

// Receive разбирает и применяет тело уведомления. Ответ провайдеру от результата
// не зависит, поэтому ошибки только логируются и считаются.
func (r *Receiver) Receive(ctx context.Context, contentType string, header http.Header, body []byte) error {
	out, err := r.parser.Parse(contentType, header, body)
	if err != nil {
		switch {
		case errors.Is(err, ErrIgnoredEvent):
			r.metrics.RecordWebhookRejected("ignored")
			r.logger.WithError(err).Debug("payment notification ignored")
		case errors.Is(err, ErrSignatureInvalid):
			r.metrics.RecordWebhookRejected("signature")
			r.logger.WithError(err).Warn("payment notification rejected")
		default:
			r.metrics.RecordWebhookRejected("unparseable")
			r.logger.WithError(err).WithField("body_bytes", len(body)).Warn("payment notification not understood")
		}
		return err
	}

	if _, err := r.OnWebhook(ctx, out); err != nil {
		reason := "internal"
		switch {
		case errors.Is(err, domain.ErrOrderNotFound):
			reason = "unknown_order"
		case errors.Is(err, domain.ErrOrderNotPending):
			reason = "conflict"
		}
		r.metrics.RecordWebhookRejected(reason)
		r.logger.WithError(err).WithField("order_id", out.OrderID).Warn("payment notification not applied")
		return err
	}
	return nil
}

// OnReturn подтверждает оплату по возврату покупателя со страницы провайдера.
// Заказ должен принадлежать пользователю, если тот не администратор.
func (r *Receiver) OnReturn(ctx context.Context, user domain.User, orderID string) (domain.Order, error) {
	if user.ID == "" {
		return domain.Order{}, domain.ErrUnauthorized
	}

	order, err := r.ledger.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if order.UserID != user.ID && !r.isAdmin(user) {
		r.logger.WithFields(log.Fields{"order_id": orderID, "user_id": user.ID}).Warn("return confirmation for foreign order rejected")
		return domain.Order{}, domain.ErrForbidden
	}

	order, changed, err := r.ledger.MarkPaid(ctx, orderID)
	r.recordPaid(sourceReturn, changed, err)
	return order, err
}

func (r *Receiver) recordPaid(source string, changed bool, err error) {
	switch {
	case changed:
		r.metrics.RecordOrderPaid(source)
	case err == nil:
		r.metrics.RecordSettlementNoop(source)
	}
}

func (r *Receiver) isAdmin(user domain.User) bool {
	return r.admins != nil && r.admins.IsAdmin(user)
}

// Package checkout связывает создание pending-заказа с инициацией оплаты.
package checkout

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/ledger"
	"github.com/vladislavdragonenkov/storefront/internal/service/payment"
)

// Ledger: операции книги заказов, нужные checkout.
type Ledger interface {
	CreatePending(ctx context.Context, in ledger.NewOrder) (domain.Order, error)
	AttachExternalRef(ctx context.Context, orderID string, provider domain.PaymentProvider, ref string) error
}

// Backend: настроенный провайдер оплаты.
// Provider пишется в заказ, поэтому для Simulated он должен быть PaymentProviderSimulated.
type Backend struct {
	Provider  domain.PaymentProvider
	Initiator payment.Initiator
}

// SimulatedBackend возвращает backend без реквизитов.
func SimulatedBackend() Backend {
	return Backend{Provider: domain.PaymentProviderSimulated, Initiator: payment.Simulated{}}
}

// Cart: общая часть запросов на оплату.
type Cart struct {
	User  domain.User
	Items []domain.OrderItem
	Total decimal.Decimal
}

// DirectRequest: оплата картой через прямой шлюз.
type DirectRequest struct {
	Cart
	Card    payment.CardDetails
	Billing *payment.Billing
	Device  payment.Device
}

// Session: ответ клиенту: куда перенаправить покупателя.
type Session struct {
	OrderID     string
	RedirectURL string
	Simulated   bool
}

// Option настраивает Service.
type Option func(*Service)

func WithLogger(logger *log.Entry) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Service оркестрирует оформление: заказ всегда сохраняется до обращения
// к провайдеру, а при ошибке провайдера остаётся pending без списания остатков.
type Service struct {
	ledger Ledger
	hosted Backend
	direct Backend
	logger *log.Entry
}

// NewService создаёт Service. Backend без Initiator заменяется симуляцией.
func NewService(l Ledger, hosted, direct Backend, opts ...Option) *Service {
	if hosted.Initiator == nil {
		hosted = SimulatedBackend()
	}
	if direct.Initiator == nil {
		direct = SimulatedBackend()
	}
	s := &Service{
		ledger: l,
		hosted: hosted,
		direct: direct,
		logger: log.WithField("component", "checkout"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// StartHosted создаёт pending-заказ и hosted-сессию оплаты.
func (s *Service) StartHosted(ctx context.Context, cart Cart) (Session, error) {
	return s.start(ctx, s.hosted, cart, payment.Request{CustomerEmail: cart.User.Email})
}

// StartDirect проверяет карту, создаёт pending-заказ и авторизует оплату в шлюзе.
func (s *Service) StartDirect(ctx context.Context, req DirectRequest) (Session, error) {
	if err := ValidateCard(req.Card); err != nil {
		return Session{}, err
	}
	card := req.Card
	return s.start(ctx, s.direct, req.Cart, payment.Request{
		CustomerEmail: req.User.Email,
		Card:          &card,
		Billing:       req.Billing,
		Device:        req.Device,
	})
}

func (s *Service) start(ctx context.Context, backend Backend, cart Cart, req payment.Request) (Session, error) {
	order, err := s.ledger.CreatePending(ctx, ledger.NewOrder{
		UserID:   cart.User.ID,
		Email:    cart.User.Email,
		Items:    cart.Items,
		Total:    cart.Total,
		Provider: backend.Provider,
	})
	if err != nil {
		return Session{}, err
	}

	logger := s.logger.WithFields(log.Fields{"order_id": order.ID, "provider": backend.Provider})

	req.Order = order
	res, err := backend.Initiator.Initiate(ctx, req)
	if err != nil {
		logger.WithError(err).Warn("payment initiation failed, order left pending")
		return Session{OrderID: order.ID}, err
	}

	if res.ExternalRef != "" {
		if err := s.ledger.AttachExternalRef(ctx, order.ID, backend.Provider, res.ExternalRef); err != nil {
			logger.WithError(err).Warn("failed to store payment reference")
		}
	}

	return Session{OrderID: order.ID, RedirectURL: res.RedirectURL, Simulated: res.Simulated}, nil
}

// ValidateCard проверяет формат реквизитов карты до создания заказа.
func ValidateCard(card payment.CardDetails) error {
	number := digits(card.Number)
	if len(number) < 12 || len(number) > 19 {
		return fmt.Errorf("%w: card number must contain 12-19 digits", domain.ErrInvalidInput)
	}

	month, err := strconv.Atoi(strings.TrimSpace(card.ExpMonth))
	if err != nil || month < 1 || month > 12 {
		return fmt.Errorf("%w: card expiry month is invalid", domain.ErrInvalidInput)
	}

	year := strings.TrimSpace(card.ExpYear)
	if _, err := strconv.Atoi(year); err != nil || (len(year) != 2 && len(year) != 4) {
		return fmt.Errorf("%w: card expiry year is invalid", domain.ErrInvalidInput)
	}

	cvv := strings.TrimSpace(card.CVV)
	if (len(cvv) != 3 && len(cvv) != 4) || digits(cvv) != cvv {
		return fmt.Errorf("%w: card security code is invalid", domain.ErrInvalidInput)
	}
	return nil
}

func digits(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '-':
		default:
			return ""
		}
	}
	return b.String()
}

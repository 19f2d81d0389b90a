// Package payment инициирует оплату заказа через hosted checkout или прямой
// платёжный шлюз и приводит ответ провайдера к единому Result.
package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
)

// Initiator запускает оплату уже сохранённого pending-заказа.
type Initiator interface {
	Initiate(ctx context.Context, req Request) (Result, error)
}

// CardDetails: реквизиты карты для прямой авторизации. Никогда не логируются.
type CardDetails struct {
	Number   string
	ExpMonth string
	ExpYear  string
	CVV      string
}

// Billing: платёжные данные покупателя; пустые поля заменяются заглушками.
type Billing struct {
	FirstName string
	LastName  string
	Country   string
	City      string
	Address   string
	Zip       string
	Phone     string
}

// Device: метаданные клиента, которых требует шлюз для антифрода.
type Device struct {
	UserAgent      string
	IP             string
	AcceptLanguage string
}

// Request: всё, что нужно провайдеру для одной попытки оплаты.
type Request struct {
	Order         domain.Order
	CustomerEmail string
	Card          *CardDetails
	Billing       *Billing
	Device        Device
}

// Result: единый ответ обоих провайдеров.
// Simulated означает, что провайдер не настроен и клиент должен показать
// локальную симуляцию оплаты. Это не успешная оплата.
type Result struct {
	RedirectURL string
	Simulated   bool
	ExternalRef string
}

// ProviderError: ответ провайдера не удалось превратить в redirect или успех.
// Raw предназначен только для серверных логов, Detail можно отдавать клиенту.
type ProviderError struct {
	Provider   string
	StatusCode int
	Detail     string
	Raw        string
	Err        error
}

func (e *ProviderError) Error() string {
	msg := fmt.Sprintf("%s provider error", e.Provider)
	if e.StatusCode > 0 {
		msg = fmt.Sprintf("%s (http %d)", msg, e.StatusCode)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Is позволяет классифицировать ошибку через errors.Is(err, domain.ErrPaymentFailed).
func (e *ProviderError) Is(target error) bool {
	return target == domain.ErrPaymentFailed
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// AsProviderError достаёт *ProviderError из цепочки.
func AsProviderError(err error) (*ProviderError, bool) {
	var target *ProviderError
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// Simulated: явный режим без платёжных реквизитов.
type Simulated struct{}

// Initiate всегда возвращает Result{Simulated: true}.
func (Simulated) Initiate(context.Context, Request) (Result, error) {
	return Result{Simulated: true}, nil
}

type instrumented struct {
	next     Initiator
	provider string
	logger   *log.Entry
	metrics  *metrics.CheckoutMetrics
}

// Instrument оборачивает Initiator логированием и метриками.
func Instrument(next Initiator, provider domain.PaymentProvider, logger *log.Entry, m *metrics.CheckoutMetrics) Initiator {
	if logger == nil {
		logger = log.WithField("component", "payment")
	}
	return &instrumented{
		next:     next,
		provider: string(provider),
		logger:   logger.WithField("provider", provider),
		metrics:  m,
	}
}

func (i *instrumented) Initiate(ctx context.Context, req Request) (Result, error) {
	started := time.Now()
	res, err := i.next.Initiate(ctx, req)
	elapsed := time.Since(started)

	logger := i.logger.WithFields(log.Fields{
		"order_id":    req.Order.ID,
		"duration_ms": elapsed.Milliseconds(),
	})
	switch {
	case err != nil:
		i.metrics.RecordPaymentInitiation(i.provider, "error", elapsed)
		entry := logger.WithError(err)
		if perr, ok := AsProviderError(err); ok && perr.Raw != "" {
			entry = entry.WithField("raw_response", perr.Raw)
		}
		entry.Warn("payment initiation failed")
	case res.Simulated:
		i.metrics.RecordPaymentInitiation(i.provider, "simulated", elapsed)
		logger.Info("payment provider not configured, returning simulated checkout")
	default:
		i.metrics.RecordPaymentInitiation(i.provider, "redirect", elapsed)
		logger.WithField("external_ref", res.ExternalRef).Info("payment initiated")
	}
	return res, err
}

// ConfirmationURL: страница подтверждения заказа во фронтенде.
func ConfirmationURL(frontendURL, orderID string) string {
	return fmt.Sprintf("%s/#/order-confirmation?orderId=%s", trimSlash(frontendURL), orderID)
}

// CancelURL: возврат в корзину при отмене оплаты.
func CancelURL(frontendURL string) string {
	return trimSlash(frontendURL) + "/#/checkout"
}

func trimSlash(s string) string {
	return strings.TrimRight(s, "/")
}

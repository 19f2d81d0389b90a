// Package settlement применяет подтверждения оплаты, пришедшие по двум
// независимым каналам: серверное уведомление провайдера и возврат покупателя.
package settlement

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"strings"

	stripe "github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/payment"
)

var (
	// ErrUnrecognisedPayload: тело не похоже ни на одно известное уведомление.
	ErrUnrecognisedPayload = fmt.Errorf("%w: unrecognised payment notification", domain.ErrInvalidInput)
	// ErrSignatureInvalid: подпись уведомления не прошла проверку.
	ErrSignatureInvalid = errors.New("payment notification signature is invalid")
	// ErrIgnoredEvent: событие корректное, но не влияет на статус заказа.
	ErrIgnoredEvent = errors.New("payment notification does not settle an order")
)

// Outcome: нормализованный результат уведомления. Сырой JSON провайдера дальше не передаётся.
type Outcome struct {
	OrderID   string
	Succeeded bool
	Provider  domain.PaymentProvider
	// Reason заполняется для неуспешных исходов.
	Reason string
}

var orderIDKeys = []string{
	"order_no", "OrderNo", "orderNo", "order_id", "orderId", "OrderId", "merchantOrderNo", "out_trade_no",
}

var gatewaySignatureKeys = []string{"signInfo", "sign", "signature"}

const stripeSignatureHeader = "Stripe-Signature"

// Parser разбирает уведомления hosted checkout и прямого шлюза.
type Parser struct {
	stripeSecret  string
	gatewaySecret string
}

// ParserOption настраивает Parser.
type ParserOption func(*Parser)

// WithGatewaySecret включает проверку подписи уведомлений прямого шлюза.
func WithGatewaySecret(secret string) ParserOption {
	return func(p *Parser) { p.gatewaySecret = strings.TrimSpace(secret) }
}

// NewParser создаёт Parser. Пустой stripeSecret отключает проверку подписи stripe.
func NewParser(stripeSecret string, opts ...ParserOption) *Parser {
	p := &Parser{stripeSecret: strings.TrimSpace(stripeSecret)}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// VerifiesStripe сообщает, проверяются ли подписи stripe.
func (p *Parser) VerifiesStripe() bool { return p.stripeSecret != "" }

// Parse определяет форму уведомления и приводит его к Outcome.
func (p *Parser) Parse(contentType string, header http.Header, body []byte) (Outcome, error) {
	mediaType, _, _ := mime.ParseMediaType(contentType)

	if mediaType == "application/x-www-form-urlencoded" {
		values, err := url.ParseQuery(string(body))
		if err != nil {
			return Outcome{}, fmt.Errorf("%w: %v", ErrUnrecognisedPayload, err)
		}
		fields := make(payment.Fields, len(values))
		for k := range values {
			fields[k] = values.Get(k)
		}
		return p.gatewayOutcome(fields)
	}

	if header.Get(stripeSignatureHeader) != "" || looksLikeStripeEvent(body) {
		return p.stripeOutcome(header.Get(stripeSignatureHeader), body)
	}

	fields, err := payment.DecodeJSONFields(body)
	if err != nil {
		return Outcome{}, fmt.Errorf("%w: %v", ErrUnrecognisedPayload, err)
	}
	return p.gatewayOutcome(fields)
}

func looksLikeStripeEvent(body []byte) bool {
	var probe struct {
		Type string `json:"type"`
		Data struct {
			Object json.RawMessage `json:"object"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return false
	}
	return probe.Type != "" && len(probe.Data.Object) > 0
}

func (p *Parser) stripeOutcome(signature string, body []byte) (Outcome, error) {
	var (
		event stripe.Event
		err   error
	)
	if p.stripeSecret != "" {
		event, err = webhook.ConstructEventWithOptions(body, signature, p.stripeSecret, webhook.ConstructEventOptions{
			IgnoreAPIVersionMismatch: true,
		})
		if err != nil {
			return Outcome{}, fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
		}
	} else if err = json.Unmarshal(body, &event); err != nil {
		return Outcome{}, fmt.Errorf("%w: %v", ErrUnrecognisedPayload, err)
	}

	var succeeded bool
	switch event.Type {
	case "checkout.session.completed", "checkout.session.async_payment_succeeded":
		succeeded = true
	case "checkout.session.expired", "checkout.session.async_payment_failed":
		succeeded = false
	default:
		return Outcome{}, fmt.Errorf("%w: %s", ErrIgnoredEvent, event.Type)
	}

	if event.Data == nil || len(event.Data.Raw) == 0 {
		return Outcome{}, fmt.Errorf("%w: event %s without data", ErrUnrecognisedPayload, event.ID)
	}
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return Outcome{}, fmt.Errorf("%w: decode checkout session: %v", ErrUnrecognisedPayload, err)
	}

	// completed для отложенных методов оплаты приходит до списания денег.
	if event.Type == "checkout.session.completed" && session.PaymentStatus == stripe.CheckoutSessionPaymentStatusUnpaid {
		return Outcome{}, fmt.Errorf("%w: session %s completed but unpaid", ErrIgnoredEvent, session.ID)
	}

	orderID := strings.TrimSpace(session.ClientReferenceID)
	if orderID == "" {
		orderID = strings.TrimSpace(session.Metadata["order_id"])
	}
	if orderID == "" {
		return Outcome{}, fmt.Errorf("%w: session %s without order reference", ErrUnrecognisedPayload, session.ID)
	}

	out := Outcome{OrderID: orderID, Succeeded: succeeded, Provider: domain.PaymentProviderHosted}
	if !succeeded {
		out.Reason = string(event.Type)
	}
	return out, nil
}

func (p *Parser) gatewayOutcome(fields payment.Fields) (Outcome, error) {
	orderID, ok := fields.Lookup(orderIDKeys...)
	if !ok {
		return Outcome{}, fmt.Errorf("%w: order id is missing", ErrUnrecognisedPayload)
	}
	status, ok := fields.Lookup(payment.StatusKeys...)
	if !ok {
		return Outcome{}, fmt.Errorf("%w: status is missing", ErrUnrecognisedPayload)
	}
	if p.gatewaySecret != "" {
		got, _ := fields.Lookup(gatewaySignatureKeys...)
		want := payment.NotificationSignature(orderID, status, p.gatewaySecret)
		if subtle.ConstantTimeCompare([]byte(strings.ToLower(got)), []byte(want)) != 1 {
			return Outcome{}, fmt.Errorf("%w: gateway notification for order %s", ErrSignatureInvalid, orderID)
		}
	}

	out := Outcome{OrderID: orderID, Succeeded: payment.IsSuccessValue(status), Provider: domain.PaymentProviderDirect}
	if !out.Succeeded {
		out.Reason = "gateway status " + status
	}
	return out, nil
}

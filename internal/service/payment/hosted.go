package payment

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"
	stripe "github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const hostedCurrency = "usd"

// SessionCreator: подмножество stripe checkout API, которое нужно HostedCheckout.
type SessionCreator interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

// NewStripeSessions создаёт клиент checkout-сессий stripe с собственным http.Client.
func NewStripeSessions(secretKey string, httpClient *http.Client) SessionCreator {
	cfg := &stripe.BackendConfig{HTTPClient: httpClient}
	api := &client.API{}
	api.Init(secretKey, &stripe.Backends{
		API:     stripe.GetBackendWithConfig(stripe.APIBackend, cfg),
		Connect: stripe.GetBackendWithConfig(stripe.ConnectBackend, cfg),
		Uploads: stripe.GetBackendWithConfig(stripe.UploadsBackend, cfg),
	})
	return api.CheckoutSessions
}

// HostedCheckout создаёт hosted-сессию оплаты; order id передаётся
// как client_reference_id и в success URL.
type HostedCheckout struct {
	sessions    SessionCreator
	frontendURL string
}

// NewHostedCheckout создаёт backend hosted checkout.
func NewHostedCheckout(sessions SessionCreator, frontendURL string) *HostedCheckout {
	return &HostedCheckout{sessions: sessions, frontendURL: frontendURL}
}

// Initiate создаёт checkout-сессию и возвращает её URL.
func (h *HostedCheckout) Initiate(ctx context.Context, req Request) (Result, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(ConfirmationURL(h.frontendURL, req.Order.ID)),
		CancelURL:         stripe.String(CancelURL(h.frontendURL)),
		ClientReferenceID: stripe.String(req.Order.ID),
		LineItems:         make([]*stripe.CheckoutSessionLineItemParams, 0, len(req.Order.Items)),
	}
	params.Context = ctx
	params.AddMetadata("order_id", req.Order.ID)
	if email := strings.TrimSpace(req.CustomerEmail); email != "" {
		params.CustomerEmail = stripe.String(email)
	}

	for _, item := range req.Order.Items {
		name := item.Name
		if name == "" {
			name = item.ProductID
		}
		params.LineItems = append(params.LineItems, &stripe.CheckoutSessionLineItemParams{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency: stripe.String(hostedCurrency),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(name),
				},
				UnitAmount: stripe.Int64(MinorUnits(item.Price)),
			},
			Quantity: stripe.Int64(int64(domain.NormalizeQuantity(item.Quantity))),
		})
	}

	session, err := h.sessions.New(params)
	if err != nil {
		perr := &ProviderError{Provider: string(domain.PaymentProviderHosted), Err: err}
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) {
			perr.StatusCode = stripeErr.HTTPStatusCode
			perr.Detail = string(stripeErr.Code)
			perr.Raw = stripeErr.Msg
		}
		return Result{}, perr
	}
	if session == nil || session.URL == "" {
		return Result{}, &ProviderError{Provider: string(domain.PaymentProviderHosted), Detail: "session without url"}
	}
	return Result{RedirectURL: session.URL, ExternalRef: session.ID}, nil
}

// MinorUnits переводит цену в центы с округлением half-away-from-zero.
func MinorUnits(price decimal.Decimal) int64 {
	return price.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

package payment

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	stripe "github.com/stripe/stripe-go/v76"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type fakeSessions struct {
	params  *stripe.CheckoutSessionParams
	session *stripe.CheckoutSession
	err     error
}

func (f *fakeSessions) New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	f.params = params
	return f.session, f.err
}

func hostedOrder() domain.Order {
	return domain.Order{
		ID:    "ord-7",
		Total: decimal.RequireFromString("25.01"),
		Items: []domain.OrderItem{
			{ProductID: "p1", Name: "Tee", Price: decimal.RequireFromString("10.005"), Quantity: 2},
			{ProductID: "p2", Price: decimal.RequireFromString("5"), Quantity: 0},
		},
	}
}

func TestHostedCheckout_CreatesSession(t *testing.T) {
	sessions := &fakeSessions{session: &stripe.CheckoutSession{ID: "cs_test_1", URL: "https://checkout.stripe.com/c/pay/cs_test_1"}}
	hosted := NewHostedCheckout(sessions, "https://shop.example/")

	ctx := context.Background()
	res, err := hosted.Initiate(ctx, Request{Order: hostedOrder(), CustomerEmail: " jane@example.com "})
	require.NoError(t, err)
	assert.Equal(t, "https://checkout.stripe.com/c/pay/cs_test_1", res.RedirectURL)
	assert.Equal(t, "cs_test_1", res.ExternalRef)

	p := sessions.params
	require.NotNil(t, p)
	assert.Equal(t, "payment", stripe.StringValue(p.Mode))
	assert.Equal(t, "ord-7", stripe.StringValue(p.ClientReferenceID))
	assert.Equal(t, "https://shop.example/#/order-confirmation?orderId=ord-7", stripe.StringValue(p.SuccessURL))
	assert.Equal(t, "https://shop.example/#/checkout", stripe.StringValue(p.CancelURL))
	assert.Equal(t, "jane@example.com", stripe.StringValue(p.CustomerEmail))
	assert.Equal(t, "ord-7", p.Metadata["order_id"])
	assert.Equal(t, ctx, p.Context)

	require.Len(t, p.LineItems, 2)
	assert.Equal(t, "usd", stripe.StringValue(p.LineItems[0].PriceData.Currency))
	assert.Equal(t, "Tee", stripe.StringValue(p.LineItems[0].PriceData.ProductData.Name))
	assert.Equal(t, int64(1001), stripe.Int64Value(p.LineItems[0].PriceData.UnitAmount))
	assert.Equal(t, int64(2), stripe.Int64Value(p.LineItems[0].Quantity))
	assert.Equal(t, "p2", stripe.StringValue(p.LineItems[1].PriceData.ProductData.Name))
	assert.Equal(t, int64(1), stripe.Int64Value(p.LineItems[1].Quantity))
}

func TestHostedCheckout_StripeErrorBecomesProviderError(t *testing.T) {
	sessions := &fakeSessions{err: &stripe.Error{Code: stripe.ErrorCode("parameter_invalid_integer"), HTTPStatusCode: 400, Msg: "Invalid integer"}}
	hosted := NewHostedCheckout(sessions, "https://shop.example")

	_, err := hosted.Initiate(context.Background(), Request{Order: hostedOrder()})
	require.ErrorIs(t, err, domain.ErrPaymentFailed)

	perr, ok := AsProviderError(err)
	require.True(t, ok)
	assert.Equal(t, "hosted", perr.Provider)
	assert.Equal(t, 400, perr.StatusCode)
	assert.Equal(t, string(stripe.ErrorCode("parameter_invalid_integer")), perr.Detail)
	assert.Equal(t, "Invalid integer", perr.Raw)
}

func TestHostedCheckout_TransportErrorAndEmptyURL(t *testing.T) {
	hosted := NewHostedCheckout(&fakeSessions{err: errors.New("dial tcp: refused")}, "https://shop.example")
	_, err := hosted.Initiate(context.Background(), Request{Order: hostedOrder()})
	require.ErrorIs(t, err, domain.ErrPaymentFailed)

	hosted = NewHostedCheckout(&fakeSessions{session: &stripe.CheckoutSession{ID: "cs_2"}}, "https://shop.example")
	_, err = hosted.Initiate(context.Background(), Request{Order: hostedOrder()})
	perr, ok := AsProviderError(err)
	require.True(t, ok)
	assert.Equal(t, "session without url", perr.Detail)
}

func TestMinorUnits(t *testing.T) {
	assert.Equal(t, int64(1999), MinorUnits(decimal.RequireFromString("19.99")))
	assert.Equal(t, int64(1001), MinorUnits(decimal.RequireFromString("10.005")))
	assert.Equal(t, int64(0), MinorUnits(decimal.Zero))
}

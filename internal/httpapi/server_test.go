package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/auth"
	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
	"github.com/vladislavdragonenkov/storefront/internal/service/checkout"
	"github.com/vladislavdragonenkov/storefront/internal/service/idempotency"
	"github.com/vladislavdragonenkov/storefront/internal/service/ledger"
	"github.com/vladislavdragonenkov/storefront/internal/service/payment"
	"github.com/vladislavdragonenkov/storefront/internal/service/settlement"
	"github.com/vladislavdragonenkov/storefront/internal/service/stock"
	"github.com/vladislavdragonenkov/storefront/internal/service/support"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
)

const testSecret = "test-jwt-secret"

type stubGenerator struct {
	reply string
	err   error
}

func (g stubGenerator) Generate(context.Context, []support.Turn) (string, error) {
	return g.reply, g.err
}

type testEnv struct {
	handler  http.Handler
	verifier *auth.Verifier
	products domain.ProductRepository
	ledger   *ledger.Service
	hosted   *payment.MockInitiator
	direct   *payment.MockInitiator
}

func newTestEnv(t *testing.T, generator support.ReplyGenerator, products ...domain.Product) *testEnv {
	t.Helper()

	m := metrics.NewCheckoutMetricsWithRegisterer(prometheus.NewRegistry())
	orders := memory.NewOrderRepository()
	env := &testEnv{
		verifier: auth.NewVerifier(testSecret),
		products: memory.NewProductRepository(products...),
		hosted:   payment.NewMockInitiator("https://checkout.stripe.test/cs_1"),
		direct:   payment.NewMockInitiator("https://acs.bank.test/3ds"),
	}
	env.ledger = ledger.NewService(orders, memory.NewOutboxRepository(), stock.NewGuard(env.products, orders), ledger.WithMetrics(m))
	admins := auth.NewAdminPolicy([]string{"admin@example.com"})

	env.handler = NewRouter(Deps{
		Metrics:  m,
		Verifier: env.verifier,
		Admins:   admins,
		Checkout: checkout.NewService(env.ledger,
			checkout.Backend{Provider: domain.PaymentProviderHosted, Initiator: env.hosted},
			checkout.Backend{Provider: domain.PaymentProviderDirect, Initiator: env.direct},
		),
		Ledger:       env.ledger,
		Receiver:     settlement.NewReceiver(env.ledger, settlement.NewParser(""), settlement.WithAdminPolicy(admins)),
		Products:     env.products,
		Profiles:     memory.NewProfileRepository(),
		Support:      support.NewRelay(memory.NewSupportRepository(), generator),
		Keeper:       idempotency.NewKeeper(memory.NewIdempotencyRepository(), time.Hour, nil),
		WebhookLimit: RateLimit{RPS: 1000, Burst: 1000},
		ReplyLimit:   RateLimit{RPS: 1000, Burst: 1000},
	})
	return env
}

func (e *testEnv) token(t *testing.T, id, email string) string {
	t.Helper()
	token, err := e.verifier.Issue(domain.User{ID: id, Email: email}, time.Hour)
	require.NoError(t, err)
	return token
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) stockOf(t *testing.T, id string) int {
	t.Helper()
	levels, err := e.products.StockLevels(context.Background(), []string{id})
	require.NoError(t, err)
	return levels[id]
}

func cartBody(productID string, qty int) map[string]any {
	return map[string]any{
		"items": []map[string]any{{
			"id": productID, "name": "Runner", "price": 120, "quantity": qty,
			"selectedSize": "42", "selectedColor": "black",
		}},
		"total": 120 * qty,
	}
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

// Полный путь hosted checkout: сессия, webhook, заказ оплачен, остаток уменьшен.
func TestCheckoutSession_WebhookSettlesOrder(t *testing.T) {
	env := newTestEnv(t, nil, domain.Product{ID: "P1", Name: "Runner", Price: decimal.NewFromInt(120), Stock: 5})
	token := env.token(t, "u1", "u1@example.com")

	rec := env.do(t, http.MethodPost, "/checkout/session", token, cartBody("P1", 1))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	session := decode[sessionResponse](t, rec)
	assert.Equal(t, "https://checkout.stripe.test/cs_1", session.URL)
	require.NotEmpty(t, session.OrderID)
	assert.Equal(t, 5, env.stockOf(t, "P1"))

	webhook := env.do(t, http.MethodPost, "/payment/webhook", "",
		fmt.Sprintf(`{"orderNo":%q,"status":"success"}`, session.OrderID))
	require.Equal(t, http.StatusOK, webhook.Code)
	assert.Equal(t, "success", webhook.Body.String())
	assert.Equal(t, 4, env.stockOf(t, "P1"))

	mine := env.do(t, http.MethodGet, "/orders/mine", token, nil)
	require.Equal(t, http.StatusOK, mine.Code)
	orders := decode[[]orderResponse](t, mine)
	require.Len(t, orders, 1)
	assert.Equal(t, "paid", orders[0].Status)
	require.Len(t, orders[0].Items, 1)
	assert.Equal(t, "42", orders[0].Items[0].Size)

	// Возврат покупателя после webhook ничего не меняет.
	again := env.do(t, http.MethodPut, "/orders/"+session.OrderID+"/paid", token, nil)
	require.Equal(t, http.StatusOK, again.Code)
	assert.Equal(t, 4, env.stockOf(t, "P1"))
}

func TestCheckoutSession_InsufficientStock(t *testing.T) {
	env := newTestEnv(t, nil, domain.Product{ID: "P1", Stock: 0})
	token := env.token(t, "u1", "u1@example.com")

	rec := env.do(t, http.MethodPost, "/checkout/session", token, cartBody("P1", 1))
	require.Equal(t, http.StatusConflict, rec.Code)

	body := decode[struct {
		Error   string         `json:"error"`
		Message string         `json:"message"`
		Details []shortageBody `json:"details"`
	}](t, rec)
	assert.Equal(t, "insufficient_stock", body.Error)
	assert.Contains(t, body.Message, "can't fulfill quantity 1 of product P1")
	require.Len(t, body.Details, 1)
	assert.Equal(t, shortageBody{ProductID: "P1", Needed: 1, Available: 0}, body.Details[0])

	assert.Zero(t, env.hosted.CallCount())
	orders, err := env.ledger.ListByUser(context.Background(), "u1", 10)
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestCheckoutSession_RequiresToken(t *testing.T) {
	env := newTestEnv(t, nil, domain.Product{ID: "P1", Stock: 5})

	rec := env.do(t, http.MethodPost, "/checkout/session", "", cartBody("P1", 1))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error":"unauthorized"}`, rec.Body.String())

	rec = env.do(t, http.MethodPost, "/checkout/session", "not-a-jwt", cartBody("P1", 1))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCheckoutSession_SchemaViolation(t *testing.T) {
	env := newTestEnv(t, nil)
	token := env.token(t, "u1", "u1@example.com")

	rec := env.do(t, http.MethodPost, "/checkout/session", token, `{"items":[]}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_input", decode[errorBody](t, rec).Error)

	rec = env.do(t, http.MethodPost, "/checkout/session", token, `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCheckoutSession_Simulated(t *testing.T) {
	env := newTestEnv(t, nil, domain.Product{ID: "P1", Stock: 5})
	env.hosted.Result = payment.Result{Simulated: true}
	token := env.token(t, "u1", "u1@example.com")

	rec := env.do(t, http.MethodPost, "/checkout/session", token, cartBody("P1", 1))
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, true, body["simulate"])
	assert.NotEmpty(t, body["orderId"])
	assert.NotContains(t, body, "url")
}

func TestCheckoutSession_IdempotentReplay(t *testing.T) {
	env := newTestEnv(t, nil, domain.Product{ID: "P1", Stock: 5})
	token := env.token(t, "u1", "u1@example.com")

	first := env.do(t, http.MethodPost, "/checkout/session", token, cartBody("P1", 1), "Idempotency-Key", "k-1")
	require.Equal(t, http.StatusOK, first.Code)

	second := env.do(t, http.MethodPost, "/checkout/session", token, cartBody("P1", 1), "Idempotency-Key", "k-1")
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, "true", second.Header().Get(replayHeader))
	assert.JSONEq(t, first.Body.String(), second.Body.String())
	assert.Equal(t, 1, env.hosted.CallCount())

	mismatch := env.do(t, http.MethodPost, "/checkout/session", token, cartBody("P1", 2), "Idempotency-Key", "k-1")
	assert.Equal(t, http.StatusUnprocessableEntity, mismatch.Code)

	// Тот же ключ другого пользователя, независимый запрос.
	other := env.do(t, http.MethodPost, "/checkout/session", env.token(t, "u2", "u2@example.com"), cartBody("P1", 1), "Idempotency-Key", "k-1")
	require.Equal(t, http.StatusOK, other.Code)
	assert.Empty(t, other.Header().Get(replayHeader))
	assert.Equal(t, 2, env.hosted.CallCount())
}

func TestDirectPayment_Redirect(t *testing.T) {
	env := newTestEnv(t, nil, domain.Product{ID: "P1", Stock: 5})
	token := env.token(t, "u1", "u1@example.com")

	body := cartBody("P1", 1)
	body["card"] = map[string]any{"no": "4111111111111111", "expMonth": 12, "expYear": "2030", "cvv": "123"}
	body["billing"] = map[string]any{"firstName": "Ann", "city": "Berlin"}

	rec := env.do(t, http.MethodPost, "/payment/direct", token, body, "User-Agent", "test-agent")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	session := decode[sessionResponse](t, rec)
	assert.Equal(t, "https://acs.bank.test/3ds", session.URL)

	req := env.direct.LastRequest()
	require.NotNil(t, req.Card)
	assert.Equal(t, "12", req.Card.ExpMonth)
	require.NotNil(t, req.Billing)
	assert.Equal(t, "Berlin", req.Billing.City)
	assert.Equal(t, "test-agent", req.Device.UserAgent)
}

func TestDirectPayment_ProviderError(t *testing.T) {
	env := newTestEnv(t, nil, domain.Product{ID: "P1", Stock: 5})
	env.direct.Err = &payment.ProviderError{Provider: "gateway", Detail: "card declined", Raw: `{"status":"fail","cardNo":"4111"}`}
	token := env.token(t, "u1", "u1@example.com")

	body := cartBody("P1", 1)
	body["card"] = map[string]any{"no": "4111111111111111", "expMonth": "12", "expYear": "2030", "cvv": "123"}

	rec := env.do(t, http.MethodPost, "/payment/direct", token, body)
	require.Equal(t, http.StatusBadGateway, rec.Code)
	assert.JSONEq(t, `{"error":"payment_provider_error","details":"card declined"}`, rec.Body.String())
	assert.NotContains(t, rec.Body.String(), "4111")

	orders, err := env.ledger.ListByUser(context.Background(), "u1", 10)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, domain.OrderStatusPending, orders[0].Status)
	assert.Equal(t, 5, env.stockOf(t, "P1"))
}

func TestDirectPayment_InvalidCard(t *testing.T) {
	env := newTestEnv(t, nil, domain.Product{ID: "P1", Stock: 5})
	token := env.token(t, "u1", "u1@example.com")

	body := cartBody("P1", 1)
	body["card"] = map[string]any{"no": "12", "expMonth": "13", "expYear": "2030", "cvv": "1"}

	rec := env.do(t, http.MethodPost, "/payment/direct", token, body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, env.direct.CallCount())
}

func TestCreateOrder_PaidDirectlyDecrementsStock(t *testing.T) {
	env := newTestEnv(t, nil, domain.Product{ID: "P1", Stock: 5})
	token := env.token(t, "u1", "u1@example.com")

	rec := env.do(t, http.MethodPost, "/orders", token, cartBody("P1", 2))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[idResponse](t, rec)
	assert.Equal(t, "paid", created.Status)
	assert.Equal(t, 3, env.stockOf(t, "P1"))

	pending := cartBody("P1", 1)
	pending["status"] = "pending"
	rec = env.do(t, http.MethodPost, "/orders", token, pending)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "pending", decode[idResponse](t, rec).Status)
	assert.Equal(t, 3, env.stockOf(t, "P1"))
}

func TestMarkPaid_ForeignOrderForbidden(t *testing.T) {
	env := newTestEnv(t, nil, domain.Product{ID: "P1", Stock: 5})

	rec := env.do(t, http.MethodPost, "/checkout/session", env.token(t, "u1", "u1@example.com"), cartBody("P1", 1))
	require.Equal(t, http.StatusOK, rec.Code)
	orderID := decode[sessionResponse](t, rec).OrderID

	rec = env.do(t, http.MethodPut, "/orders/"+orderID+"/paid", env.token(t, "u2", "u2@example.com"), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, 5, env.stockOf(t, "P1"))

	rec = env.do(t, http.MethodPut, "/orders/"+orderID+"/paid", env.token(t, "admin", "admin@example.com"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 4, env.stockOf(t, "P1"))

	rec = env.do(t, http.MethodPut, "/orders/missing/paid", env.token(t, "u1", "u1@example.com"), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWebhook_AlwaysAnswersSuccess(t *testing.T) {
	env := newTestEnv(t, nil)

	for _, body := range []string{`garbage`, `{"orderNo":"missing","status":"success"}`, ``} {
		rec := env.do(t, http.MethodPost, "/payment/webhook", "", body)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "success", rec.Body.String())
		assert.True(t, strings.HasPrefix(rec.Header().Get("Content-Type"), "text/plain"))
	}
}

func TestWebhook_FormFailureMarksOrderFailed(t *testing.T) {
	env := newTestEnv(t, nil, domain.Product{ID: "P1", Stock: 5})
	rec := env.do(t, http.MethodPost, "/checkout/session", env.token(t, "u1", "u1@example.com"), cartBody("P1", 1))
	require.Equal(t, http.StatusOK, rec.Code)
	orderID := decode[sessionResponse](t, rec).OrderID

	rec = env.do(t, http.MethodPost, "/payment/webhook", "", "order_no="+orderID+"&status=fail",
		"Content-Type", "application/x-www-form-urlencoded")
	require.Equal(t, http.StatusOK, rec.Code)

	order, err := env.ledger.Get(context.Background(), orderID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusFailed, order.Status)
	assert.Equal(t, 5, env.stockOf(t, "P1"))
}

func TestProducts_HiddenOnlyForAdmins(t *testing.T) {
	env := newTestEnv(t, nil,
		domain.Product{ID: "P1", Name: "Visible", Price: decimal.NewFromInt(10), Stock: 1},
		domain.Product{ID: "P2", Name: "Secret", Price: decimal.NewFromInt(10), Stock: 1, Hidden: true},
	)

	anon := decode[[]productDTO](t, env.do(t, http.MethodGet, "/products", "", nil))
	require.Len(t, anon, 1)
	assert.Equal(t, "P1", anon[0].ID)

	user := decode[[]productDTO](t, env.do(t, http.MethodGet, "/products", env.token(t, "u1", "u1@example.com"), nil))
	assert.Len(t, user, 1)

	admin := decode[[]productDTO](t, env.do(t, http.MethodGet, "/products", env.token(t, "a", "admin@example.com"), nil))
	assert.Len(t, admin, 2)
}

func TestSeedProducts_AdminOnly(t *testing.T) {
	env := newTestEnv(t, nil)
	body := map[string]any{"products": []map[string]any{{"id": "S1", "name": "Seeded", "price": "59.90", "stock": 7}}}

	rec := env.do(t, http.MethodPost, "/products/seed", env.token(t, "u1", "u1@example.com"), body)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodPost, "/products/seed", env.token(t, "a", "admin@example.com"), body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"upserted":1}`, rec.Body.String())
	assert.Equal(t, 7, env.stockOf(t, "S1"))
}

func TestProfileSync_UsesEmailLocalPart(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodPost, "/profiles/sync", env.token(t, "u1", "jane.doe@example.com"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	profile := decode[profileResponse](t, rec)
	assert.Equal(t, "u1", profile.ID)
	assert.Equal(t, "jane.doe", profile.DisplayName)
	assert.Equal(t, "Member", displayName(""))
}

func TestSupport_MessagesAndReply(t *testing.T) {
	env := newTestEnv(t, stubGenerator{reply: "Your order ships tomorrow."})
	token := env.token(t, "u1", "u1@example.com")

	rec := env.do(t, http.MethodPost, "/support/messages", token, map[string]string{"text": "Where is my order?"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodPost, "/support/reply", token, map[string]any{
		"messages": []map[string]string{{"role": "user", "text": "Where is my order?"}},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Your order ships tomorrow.", decode[supportReplyResponse](t, rec).Reply)

	rec = env.do(t, http.MethodGet, "/support/messages", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	msgs := decode[[]supportMessageResponse](t, rec)
	require.Len(t, msgs, 2)
	assert.Equal(t, "user", msgs[0].Role)
	assert.Equal(t, "assistant", msgs[1].Role)

	rec = env.do(t, http.MethodGet, "/support/messages?limit=abc", token, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSupportReply_UnavailableWithoutGenerator(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodPost, "/support/reply", env.token(t, "u1", "u1@example.com"), map[string]any{
		"messages": []map[string]string{{"role": "user", "text": "hi"}},
	})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"error":"support_unavailable"}`, rec.Body.String())
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"unauthorized", domain.ErrUnauthorized, http.StatusUnauthorized, "unauthorized"},
		{"forbidden", domain.ErrForbidden, http.StatusForbidden, "forbidden"},
		{"invalid", fmt.Errorf("decode: %w", domain.ErrItemsRequired), http.StatusBadRequest, "invalid_input"},
		{"not found", domain.ErrOrderNotFound, http.StatusNotFound, "not_found"},
		{"not pending", domain.ErrOrderNotPending, http.StatusConflict, "order_not_pending"},
		{"stock", domain.NewInsufficientStockError([]domain.Shortage{{ProductID: "P1", Needed: 2}}), http.StatusConflict, "insufficient_stock"},
		{"provider", &payment.ProviderError{Provider: "gateway"}, http.StatusBadGateway, "payment_provider_error"},
		{"store", fmt.Errorf("%w: dial tcp", domain.ErrStoreUnavailable), http.StatusInternalServerError, "store_unavailable"},
		{"hash mismatch", domain.ErrIdempotencyHashMismatch, http.StatusUnprocessableEntity, "idempotency_key_reused"},
		{"in progress", domain.ErrIdempotencyKeyAlreadyExists, http.StatusConflict, "request_in_progress"},
		{"support", domain.ErrSupportUnavailable, http.StatusServiceUnavailable, "support_unavailable"},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := classify(tt.err)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.code, body.Error)
		})
	}
}

func TestIPLimiter(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	l := newIPLimiter(RateLimit{RPS: 1, Burst: 2})
	l.now = func() time.Time { return now }

	assert.True(t, l.allow("10.0.0.1"))
	assert.True(t, l.allow("10.0.0.1"))
	assert.False(t, l.allow("10.0.0.1"))
	assert.True(t, l.allow("10.0.0.2"))

	now = now.Add(time.Second)
	assert.True(t, l.allow("10.0.0.1"))
}

func TestWebhook_RateLimited(t *testing.T) {
	env := newTestEnv(t, nil)
	api := NewAPI(Deps{Verifier: env.verifier, WebhookLimit: RateLimit{RPS: 0.001, Burst: 1}, Receiver: settlement.NewReceiver(env.ledger, settlement.NewParser(""))})
	handler := api.Routes()

	send := func() int {
		req := httptest.NewRequest(http.MethodPost, "/payment/webhook", strings.NewReader(`{}`))
		req.RemoteAddr = "192.0.2.10:5555"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}
	assert.Equal(t, http.StatusOK, send())
	assert.Equal(t, http.StatusTooManyRequests, send())
}

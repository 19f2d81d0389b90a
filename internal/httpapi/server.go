// Package httpapi, HTTP-поверхность витрины: оформление заказа, приём
// уведомлений об оплате, каталог и чат поддержки.
package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/auth"
	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
	"github.com/vladislavdragonenkov/storefront/internal/service/checkout"
	"github.com/vladislavdragonenkov/storefront/internal/service/idempotency"
	"github.com/vladislavdragonenkov/storefront/internal/service/ledger"
	"github.com/vladislavdragonenkov/storefront/internal/service/settlement"
	"github.com/vladislavdragonenkov/storefront/internal/service/support"
)

// Deps: зависимости HTTP API. Keeper и Metrics необязательны.
type Deps struct {
	Logger   *log.Entry
	Metrics  *metrics.CheckoutMetrics
	Verifier *auth.Verifier
	Admins   *auth.AdminPolicy
	Checkout *checkout.Service
	Ledger   *ledger.Service
	Receiver *settlement.Receiver
	Products domain.ProductRepository
	Profiles domain.ProfileRepository
	Support  *support.Relay
	Keeper   *idempotency.Keeper

	WebhookLimit RateLimit
	ReplyLimit   RateLimit
}

// API держит обработчики и их зависимости.
type API struct {
	logger   *log.Entry
	metrics  *metrics.CheckoutMetrics
	verifier *auth.Verifier
	admins   *auth.AdminPolicy
	checkout *checkout.Service
	ledger   *ledger.Service
	receiver *settlement.Receiver
	products domain.ProductRepository
	profiles domain.ProfileRepository
	support  *support.Relay
	keeper   *idempotency.Keeper

	webhookLimiter *ipLimiter
	replyLimiter   *ipLimiter
}

// NewAPI собирает API из зависимостей.
func NewAPI(deps Deps) *API {
	logger := deps.Logger
	if logger == nil {
		logger = log.WithField("component", "http")
	}
	admins := deps.Admins
	if admins == nil {
		admins = auth.NewAdminPolicy(nil)
	}
	return &API{
		logger:         logger,
		metrics:        deps.Metrics,
		verifier:       deps.Verifier,
		admins:         admins,
		checkout:       deps.Checkout,
		ledger:         deps.Ledger,
		receiver:       deps.Receiver,
		products:       deps.Products,
		profiles:       deps.Profiles,
		support:        deps.Support,
		keeper:         deps.Keeper,
		webhookLimiter: newIPLimiter(deps.WebhookLimit),
		replyLimiter:   newIPLimiter(deps.ReplyLimit),
	}
}

// NewRouter возвращает готовый http.Handler со всеми маршрутами.
func NewRouter(deps Deps) http.Handler {
	return NewAPI(deps).Routes()
}

// Routes регистрирует маршруты.
func (a *API) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(a.requestLog)
	r.Use(middleware.Recoverer)
	r.Use(limitBody)

	r.Get("/health", a.handleHealth)

	r.With(a.rateLimited(a.webhookLimiter, tooManyPlain)).Post("/payment/webhook", a.handleWebhook)

	r.With(a.optionalUser).Get("/products", a.handleListProducts)

	r.Group(func(r chi.Router) {
		r.Use(a.requireUser)

		r.Post("/checkout/session", a.idempotent("/checkout/session", a.handleCheckoutSession))
		r.Post("/payment/direct", a.idempotent("/payment/direct", a.handleDirectPayment))
		r.Post("/orders", a.idempotent("/orders", a.handleCreateOrder))
		r.Put("/orders/{id}/paid", a.handleMarkPaid)
		r.Get("/orders/mine", a.handleMyOrders)

		r.With(a.requireAdmin).Post("/products/seed", a.handleSeedProducts)
		r.Post("/profiles/sync", a.handleProfileSync)

		r.Get("/support/messages", a.handleListSupportMessages)
		r.Post("/support/messages", a.handleAppendSupportMessage)
		r.With(a.rateLimited(a.replyLimiter, a.tooManyJSON)).Post("/support/reply", a.handleSupportReply)
	})

	return r
}

func tooManyPlain(w http.ResponseWriter, _ *http.Request) {
	http.Error(w, "rate limited", http.StatusTooManyRequests)
}

func (a *API) tooManyJSON(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "rate_limited"})
}

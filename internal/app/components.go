package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/auth"
	"github.com/vladislavdragonenkov/storefront/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/storefront/internal/health"
	"github.com/vladislavdragonenkov/storefront/internal/httpapi"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
	"github.com/vladislavdragonenkov/storefront/internal/service/checkout"
	"github.com/vladislavdragonenkov/storefront/internal/service/idempotency"
	"github.com/vladislavdragonenkov/storefront/internal/service/ledger"
	"github.com/vladislavdragonenkov/storefront/internal/service/outbox"
	"github.com/vladislavdragonenkov/storefront/internal/service/payment"
	"github.com/vladislavdragonenkov/storefront/internal/service/reconcile"
	"github.com/vladislavdragonenkov/storefront/internal/service/settlement"
	"github.com/vladislavdragonenkov/storefront/internal/service/stock"
	"github.com/vladislavdragonenkov/storefront/internal/service/support"
	"github.com/vladislavdragonenkov/storefront/internal/version"
)

const (
	stripeHTTPTimeout     = 20 * time.Second
	outboxBacklogDegraded = 1000
)

// components: собранное приложение без сетевых листенеров.
type components struct {
	storage    *storage
	publishers eventPublishers
	metrics    *metrics.CheckoutMetrics
	ledger     *ledger.Service
	handler    http.Handler
	health     *healthcheck.Handler

	outboxWorker  *outbox.Worker
	cleanupWorker *idempotency.CleanupWorker
	staleReporter *reconcile.StaleReporter
}

func buildComponents(ctx context.Context, cfg Config, logger *log.Entry) (*components, error) {
	store, err := initStorage(ctx, cfg, logger.WithField("layer", "storage"))
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	m := metrics.NewCheckoutMetrics()
	admins := auth.NewAdminPolicy(cfg.AdminEmailList())

	guard := stock.NewGuard(store.products, store.orders,
		stock.WithLogger(logger.WithField("layer", "stock")),
		stock.WithMetrics(m),
	)
	ledgerSvc := ledger.NewService(store.orders, store.outbox, guard,
		ledger.WithLogger(logger.WithField("layer", "ledger")),
		ledger.WithMetrics(m),
	)

	hosted, direct := paymentBackends(cfg, logger.WithField("layer", "payment"), m)
	checkoutSvc := checkout.NewService(ledgerSvc, hosted, direct,
		checkout.WithLogger(logger.WithField("layer", "checkout")),
	)

	parser := settlement.NewParser(cfg.StripeWebhookSecret, settlement.WithGatewaySecret(cfg.GatewaySecret))
	if !parser.VerifiesStripe() {
		logger.Warn("STRIPE_WEBHOOK_SECRET is not set, stripe webhook signatures are not verified")
	}
	receiver := settlement.NewReceiver(ledgerSvc, parser,
		settlement.WithLogger(logger.WithField("layer", "settlement")),
		settlement.WithMetrics(m),
		settlement.WithAdminPolicy(admins),
	)

	var generator support.ReplyGenerator
	if cfg.ReplyAPIKey != "" {
		generator = support.NewAnthropicClient(support.ReplyConfig{
			APIKey:  cfg.ReplyAPIKey,
			BaseURL: cfg.ReplyBaseURL,
			Model:   cfg.ReplyModel,
		})
	} else {
		logger.Info("support reply generator is not configured")
	}
	relay := support.NewRelay(store.support, generator,
		support.WithLogger(logger.WithField("layer", "support")),
		support.WithMetrics(m),
	)

	keeper := idempotency.NewKeeper(store.idempotency, cfg.IdempotencyTTL, logger.WithField("layer", "idempotency"))

	handler := httpapi.NewRouter(httpapi.Deps{
		Logger:       logger.WithField("layer", "http"),
		Metrics:      m,
		Verifier:     auth.NewVerifier(cfg.AuthJWTSecret),
		Admins:       admins,
		Checkout:     checkoutSvc,
		Ledger:       ledgerSvc,
		Receiver:     receiver,
		Products:     store.products,
		Profiles:     store.profiles,
		Support:      relay,
		Keeper:       keeper,
		WebhookLimit: httpapi.RateLimit{RPS: cfg.WebhookRateRPS, Burst: cfg.WebhookRateBurst},
		ReplyLimit:   httpapi.RateLimit{RPS: cfg.ReplyRateRPS, Burst: cfg.ReplyRateBurst},
	})

	publishers := initEventPublishers(cfg, logger.WithField("layer", "kafka"))

	health := healthcheck.NewHandler(version.GetVersion())
	health.RegisterChecker("store", healthcheck.NewPingChecker("store", store.ping))
	health.RegisterChecker("outbox", healthcheck.NewOptionalChecker("outbox", func(ctx context.Context) error {
		stats, err := store.outbox.Stats(ctx)
		if err != nil {
			return err
		}
		if stats.PendingCount > outboxBacklogDegraded {
			return fmt.Errorf("outbox backlog is %d events", stats.PendingCount)
		}
		return nil
	}))

	return &components{
		storage:    store,
		publishers: publishers,
		metrics:    m,
		ledger:     ledgerSvc,
		handler:    handler,
		health:     health,
		outboxWorker: outbox.NewWorker(store.outbox, publishers.main,
			outbox.WithLogger(logger.WithField("layer", "outbox")),
			outbox.WithMetrics(m),
			outbox.WithDLQPublisher(publishers.dlq),
			outbox.WithPollInterval(cfg.OutboxPollInterval),
			outbox.WithBatchSize(cfg.OutboxBatchSize),
			outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
		),
		cleanupWorker: idempotency.NewCleanupWorker(store.idempotency,
			idempotency.WithLogger(logger.WithField("layer", "idempotency-cleanup")),
			idempotency.WithMetrics(m),
			idempotency.WithInterval(cfg.IdempotencyCleanupInterval),
		),
		staleReporter: reconcile.NewStaleReporter(ledgerSvc,
			reconcile.WithLogger(logger.WithField("layer", "stale-orders")),
			reconcile.WithMetrics(m),
			reconcile.WithInterval(cfg.StaleOrderScanInterval),
			reconcile.WithStaleAge(cfg.StaleOrderAge),
		),
	}, nil
}

// paymentBackends выбирает провайдеров: без реквизитов используется явная симуляция.
func paymentBackends(cfg Config, logger *log.Entry, m *metrics.CheckoutMetrics) (hosted, direct checkout.Backend) {
	simulated := func() checkout.Backend {
		b := checkout.SimulatedBackend()
		b.Initiator = payment.Instrument(b.Initiator, b.Provider, logger, m)
		return b
	}

	hosted = simulated()
	if cfg.StripeSecretKey != "" {
		sessions := payment.NewStripeSessions(cfg.StripeSecretKey, &http.Client{Timeout: stripeHTTPTimeout})
		initiator := payment.NewCircuitBreaker(payment.NewHostedCheckout(sessions, cfg.FrontendURL),
			string(domain.PaymentProviderHosted), cfg.BreakerConfig(), logger)
		hosted = checkout.Backend{
			Provider:  domain.PaymentProviderHosted,
			Initiator: payment.Instrument(initiator, domain.PaymentProviderHosted, logger, m),
		}
	} else {
		logger.Warn("STRIPE_SECRET_KEY is not set, hosted checkout runs in simulated mode")
	}

	direct = simulated()
	if gw := cfg.GatewayConfig(); gw.Configured() {
		initiator := payment.NewCircuitBreaker(payment.NewDirectGateway(gw),
			string(domain.PaymentProviderDirect), cfg.BreakerConfig(), logger)
		direct = checkout.Backend{
			Provider:  domain.PaymentProviderDirect,
			Initiator: payment.Instrument(initiator, domain.PaymentProviderDirect, logger, m),
		}
	} else {
		logger.Warn("direct gateway credentials are not set, card payments run in simulated mode")
	}
	return hosted, direct
}

func (c *components) close(logger *log.Entry) {
	closeKafka(c.publishers.producer, logger)
	if err := c.storage.close(); err != nil {
		logger.WithError(err).Warn("failed to close storage")
	}
}

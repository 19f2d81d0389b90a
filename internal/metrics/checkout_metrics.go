package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// CheckoutMetrics содержит метрики оформления и расчёта заказов.
// Все методы безопасны для nil-получателя.
type CheckoutMetrics struct {
	ordersCreated     *prometheus.CounterVec
	ordersPaid        *prometheus.CounterVec
	ordersFailed      *prometheus.CounterVec
	settlementNoop    *prometheus.CounterVec
	webhookRejected   *prometheus.CounterVec
	insufficientStock prometheus.Counter
	stockClamped      prometheus.Counter

	paymentInitiations *prometheus.CounterVec
	paymentDuration    *prometheus.HistogramVec

	httpRequests *prometheus.HistogramVec

	stalePending   prometheus.Gauge
	supportReplies *prometheus.CounterVec
	outboxEvents   *prometheus.CounterVec

	outboxPublishes *prometheus.CounterVec
	outboxPending   prometheus.Gauge
	outboxOldestAge prometheus.Gauge

	idempotencyCleanupRuns    *prometheus.CounterVec
	idempotencyCleanupDeleted prometheus.Counter
}

// NewCheckoutMetrics регистрирует метрики в DefaultRegisterer.
func NewCheckoutMetrics() *CheckoutMetrics {
	return NewCheckoutMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewCheckoutMetricsWithRegisterer регистрирует метрики в переданном реестре.
func NewCheckoutMetricsWithRegisterer(registerer prometheus.Registerer) *CheckoutMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &CheckoutMetrics{
		ordersCreated: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "storefront_orders_created_total",
			Help: "Orders created, by payment provider",
		}, []string{"provider"}),
		ordersPaid: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "storefront_orders_paid_total",
			Help: "Orders transitioned to paid, by confirmation source",
		}, []string{"source"}),
		ordersFailed: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "storefront_orders_failed_total",
			Help: "Orders transitioned to failed, by confirmation source",
		}, []string{"source"}),
		settlementNoop: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "storefront_settlement_noop_total",
			Help: "Payment confirmations that found the order already settled",
		}, []string{"source"}),
		webhookRejected: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "storefront_webhook_rejected_total",
			Help: "Payment notifications that were acknowledged but not applied, by reason",
		}, []string{"reason"}),
		insufficientStock: registerCounter(registerer, prometheus.CounterOpts{
			Name: "storefront_insufficient_stock_total",
			Help: "Checkout attempts rejected because of insufficient stock",
		}),
		stockClamped: registerCounter(registerer, prometheus.CounterOpts{
			Name: "storefront_stock_clamped_total",
			Help: "Stock decrements that hit the zero floor",
		}),
		paymentInitiations: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "storefront_payment_initiations_total",
			Help: "Payment initiations, by provider and result",
		}, []string{"provider", "result"}),
		paymentDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "storefront_payment_initiation_duration_seconds",
			Help:    "Latency of payment provider calls",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15},
		}, []string{"provider"}),
		httpRequests: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "storefront_http_request_duration_seconds",
			Help:    "HTTP request latency by route pattern",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		stalePending: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "storefront_stale_pending_orders",
			Help: "Pending orders older than the configured age",
		}),
		supportReplies: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "storefront_support_replies_total",
			Help: "Support assistant replies, by result",
		}, []string{"result"}),
		outboxEvents: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "storefront_outbox_events_total",
			Help: "Order events written to the outbox",
		}, []string{"event_type"}),
		outboxPublishes: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "storefront_outbox_publish_attempts_total",
			Help: "Order event publish attempts grouped by result",
		}, []string{"result"}),
		outboxPending: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "storefront_outbox_pending_records",
			Help: "Order events waiting in the outbox",
		}),
		outboxOldestAge: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "storefront_outbox_oldest_pending_age_seconds",
			Help: "Age in seconds of the oldest pending outbox record",
		}),
		idempotencyCleanupRuns: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "storefront_idempotency_cleanup_runs_total",
			Help: "Idempotency key cleanup runs grouped by result",
		}, []string{"result"}),
		idempotencyCleanupDeleted: registerCounter(registerer, prometheus.CounterOpts{
			Name: "storefront_idempotency_cleanup_deleted_total",
			Help: "Expired idempotency keys deleted by the cleanup worker",
		}),
	}
}

// RecordOrderCreated учитывает созданный заказ.
func (m *CheckoutMetrics) RecordOrderCreated(provider string) {
	if m == nil {
		return
	}
	m.ordersCreated.WithLabelValues(provider).Inc()
}

// RecordOrderPaid учитывает переход в paid.
func (m *CheckoutMetrics) RecordOrderPaid(source string) {
	if m == nil {
		return
	}
	m.ordersPaid.WithLabelValues(source).Inc()
}

// RecordOrderFailed учитывает переход в failed.
func (m *CheckoutMetrics) RecordOrderFailed(source string) {
	if m == nil {
		return
	}
	m.ordersFailed.WithLabelValues(source).Inc()
}

// RecordSettlementNoop учитывает повторное подтверждение уже рассчитанного заказа.
func (m *CheckoutMetrics) RecordSettlementNoop(source string) {
	if m == nil {
		return
	}
	m.settlementNoop.WithLabelValues(source).Inc()
}

// RecordWebhookRejected учитывает уведомление, которое не удалось применить.
func (m *CheckoutMetrics) RecordWebhookRejected(reason string) {
	if m == nil {
		return
	}
	m.webhookRejected.WithLabelValues(reason).Inc()
}

func (m *CheckoutMetrics) RecordInsufficientStock() {
	if m == nil {
		return
	}
	m.insufficientStock.Inc()
}

func (m *CheckoutMetrics) RecordStockClamped() {
	if m == nil {
		return
	}
	m.stockClamped.Inc()
}

// RecordPaymentInitiation учитывает вызов провайдера и его длительность.
func (m *CheckoutMetrics) RecordPaymentInitiation(provider, result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.paymentInitiations.WithLabelValues(provider, result).Inc()
	m.paymentDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

// ObserveHTTPRequest пишет латентность запроса по шаблону маршрута.
func (m *CheckoutMetrics) ObserveHTTPRequest(method, route, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, status).Observe(duration.Seconds())
}

func (m *CheckoutMetrics) SetStalePending(count int) {
	if m == nil {
		return
	}
	m.stalePending.Set(float64(count))
}

func (m *CheckoutMetrics) RecordSupportReply(result string) {
	if m == nil {
		return
	}
	m.supportReplies.WithLabelValues(result).Inc()
}

// RecordOutboxEvent учитывает событие, записанное в outbox.
func (m *CheckoutMetrics) RecordOutboxEvent(eventType string) {
	if m == nil {
		return
	}
	m.outboxEvents.WithLabelValues(eventType).Inc()
}

// RecordOutboxPublish учитывает попытку публикации: sent, retry_error, failed, dlq_failed.
func (m *CheckoutMetrics) RecordOutboxPublish(result string) {
	if m == nil {
		return
	}
	m.outboxPublishes.WithLabelValues(result).Inc()
}

// SetOutboxBacklog выставляет размер backlog и возраст самого старого события.
func (m *CheckoutMetrics) SetOutboxBacklog(pending int, oldestAge time.Duration) {
	if m == nil {
		return
	}
	if oldestAge < 0 {
		oldestAge = 0
	}
	m.outboxPending.Set(float64(pending))
	m.outboxOldestAge.Set(oldestAge.Seconds())
}

func (m *CheckoutMetrics) RecordIdempotencyCleanup(result string, deleted int) {
	if m == nil {
		return
	}
	m.idempotencyCleanupRuns.WithLabelValues(result).Inc()
	if deleted > 0 {
		m.idempotencyCleanupDeleted.Add(float64(deleted))
	}
}

package reconcile

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
	"github.com/vladislavdragonenkov/storefront/internal/service/ledger"
	"github.com/vladislavdragonenkov/storefront/internal/service/stock"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
)

type stubLister struct {
	mu     sync.Mutex
	orders []domain.Order
	err    error
	calls  int
}

func (s *stubLister) ListStalePending(_ context.Context, _ time.Duration, limit int) ([]domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	if len(s.orders) > limit {
		return s.orders[:limit], nil
	}
	return s.orders, nil
}

func (s *stubLister) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func gaugeValue(t *testing.T, registry *prometheus.Registry) float64 {
	t.Helper()
	families, err := registry.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == "storefront_stale_pending_orders" {
			return mf.GetMetric()[0].GetGauge().GetValue()
		}
	}
	t.Fatal("stale gauge not registered")
	return 0
}

func TestStaleReporter_WithLedger(t *testing.T) {
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	clock := now.Add(-2 * time.Hour)

	orders := memory.NewOrderRepository()
	products := memory.NewProductRepository(domain.Product{ID: "P1", Stock: 10})
	svc := ledger.NewService(orders, nil, stock.NewGuard(products, orders), ledger.WithClock(func() time.Time { return clock }))

	create := func() domain.Order {
		order, err := svc.CreatePending(context.Background(), ledger.NewOrder{
			UserID: "u1",
			Items:  []domain.OrderItem{{ProductID: "P1", Price: decimal.NewFromInt(10), Quantity: 1}},
		})
		require.NoError(t, err)
		return order
	}
	old := create()
	paid := create()
	_, _, err := svc.MarkPaid(context.Background(), paid.ID)
	require.NoError(t, err)
	clock = now.Add(-5 * time.Minute)
	create()
	clock = now

	registry := prometheus.NewRegistry()
	reporter := NewStaleReporter(svc,
		WithMetrics(metrics.NewCheckoutMetricsWithRegisterer(registry)),
		WithStaleAge(time.Hour),
	)

	stale := reporter.ScanOnce(context.Background())
	require.Len(t, stale, 1)
	assert.Equal(t, old.ID, stale[0].ID)
	assert.Equal(t, float64(1), gaugeValue(t, registry))

	got, err := svc.Get(context.Background(), old.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPending, got.Status)
}

func TestStaleReporter_LogsEachOrderAndLimit(t *testing.T) {
	logger, hook := test.NewNullLogger()
	lister := &stubLister{orders: []domain.Order{{ID: "o1"}, {ID: "o2"}, {ID: "o3"}}}

	reporter := NewStaleReporter(lister, WithLogger(log.NewEntry(logger)), WithLimit(2))
	got := reporter.ScanOnce(context.Background())
	require.Len(t, got, 2)

	entries := hook.AllEntries()
	require.Len(t, entries, 3)
	assert.Equal(t, "o1", entries[0].Data["order_id"])
	assert.Equal(t, 2, entries[2].Data["limit"])
}

func TestStaleReporter_ListErrorKeepsGauge(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := metrics.NewCheckoutMetricsWithRegisterer(registry)
	m.SetStalePending(4)

	reporter := NewStaleReporter(&stubLister{err: errors.New("db down")}, WithMetrics(m))
	assert.Nil(t, reporter.ScanOnce(context.Background()))
	assert.Equal(t, float64(4), gaugeValue(t, registry))
}

func TestStaleReporter_RunStopsOnCancel(t *testing.T) {
	lister := &stubLister{}
	reporter := NewStaleReporter(lister, WithInterval(5*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		reporter.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return lister.callCount() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reporter did not stop after cancel")
	}
}

package memory_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
)

func newOrder(id, userID string, createdAt time.Time) domain.Order {
	return domain.Order{
		ID:     id,
		UserID: userID,
		Email:  "buyer@example.com",
		Total:  decimal.RequireFromString("120.00"),
		Status: domain.OrderStatusPending,
		Items: []domain.OrderItem{
			{ID: id + "-item-1", OrderID: id, ProductID: "P1", Name: "Runner", Price: decimal.RequireFromString("120.00"), Quantity: 1},
		},
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
}

func TestOrderRepository_CreateGet(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewOrderRepository()
	order := newOrder("order-1", "user-1", time.Now().UTC())

	if err := repo.Create(ctx, order); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := repo.Create(ctx, order); !errors.Is(err, domain.ErrOrderAlreadyExists) {
		t.Fatalf("expected ErrOrderAlreadyExists, got %v", err)
	}

	stored, err := repo.Get(ctx, order.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if stored.ID != order.ID || len(stored.Items) != 1 {
		t.Fatalf("unexpected stored order %+v", stored)
	}

	if _, err := repo.Get(ctx, "missing"); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestOrderRepository_ListByUser(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewOrderRepository()
	now := time.Now().UTC()

	for _, o := range []domain.Order{
		newOrder("order-old", "user-1", now.Add(-2*time.Minute)),
		newOrder("order-new", "user-1", now),
		newOrder("order-other", "user-2", now),
	} {
		if err := repo.Create(ctx, o); err != nil {
			t.Fatalf("create failed: %v", err)
		}
	}

	orders, err := repo.ListByUser(ctx, "user-1", 10)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(orders) != 2 {
		t.Fatalf("expected 2 orders, got %d", len(orders))
	}
	if orders[0].ID != "order-new" {
		t.Fatalf("expected newest first, got %s", orders[0].ID)
	}

	limited, err := repo.ListByUser(ctx, "user-1", 1)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(limited) != 1 {
		t.Fatalf("expected limit to apply, got %d", len(limited))
	}
}

func TestOrderRepository_ListByStatusBefore(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewOrderRepository()
	now := time.Now().UTC()

	stale := newOrder("stale", "user-1", now.Add(-time.Hour))
	fresh := newOrder("fresh", "user-1", now)
	paid := newOrder("paid", "user-1", now.Add(-time.Hour))
	paid.Status = domain.OrderStatusPaid

	for _, o := range []domain.Order{stale, fresh, paid} {
		if err := repo.Create(ctx, o); err != nil {
			t.Fatalf("create failed: %v", err)
		}
	}

	orders, err := repo.ListByStatusBefore(ctx, domain.OrderStatusPending, now.Add(-30*time.Minute), 10)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(orders) != 1 || orders[0].ID != "stale" {
		t.Fatalf("expected only stale pending order, got %+v", orders)
	}
}

func TestOrderRepository_TransitionStatusIsSingleWinner(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewOrderRepository()
	order := newOrder("order-race", "user-1", time.Now().UTC())
	if err := repo.Create(ctx, order); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	const workers = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := repo.TransitionStatus(ctx, order.ID, domain.OrderStatusPending, domain.OrderStatusPaid)
			if err != nil {
				t.Errorf("transition failed: %v", err)
				return
			}
			if ok {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if winners != 1 {
		t.Fatalf("expected exactly one winner, got %d", winners)
	}

	ok, err := repo.TransitionStatus(ctx, "missing", domain.OrderStatusPending, domain.OrderStatusPaid)
	if err != nil || ok {
		t.Fatalf("expected no-op for missing order, got ok=%v err=%v", ok, err)
	}
}

func TestOrderRepository_SetPaymentRef(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewOrderRepository()
	order := newOrder("order-ref", "user-1", time.Now().UTC())
	if err := repo.Create(ctx, order); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	if err := repo.SetPaymentRef(ctx, order.ID, domain.PaymentProviderHosted, "cs_test_1"); err != nil {
		t.Fatalf("set ref failed: %v", err)
	}
	stored, err := repo.Get(ctx, order.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if stored.Provider != domain.PaymentProviderHosted || stored.ExternalRef != "cs_test_1" {
		t.Fatalf("unexpected payment ref: %+v", stored)
	}

	if err := repo.SetPaymentRef(ctx, "missing", domain.PaymentProviderHosted, "x"); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

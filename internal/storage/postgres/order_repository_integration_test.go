package postgres

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

func TestOrderRepository_PostgresCreateGetAndList(t *testing.T) {
	ctx := context.Background()
	repo := NewOrderRepository(openTestStore(t))

	now := time.Now().UTC().Round(time.Microsecond)
	older := sampleOrder("order-1", "user-1", now.Add(-2*time.Minute))
	newer := sampleOrder("order-2", "user-1", now.Add(-time.Minute))

	require.NoError(t, repo.Create(ctx, older))
	require.NoError(t, repo.Create(ctx, newer))

	got, err := repo.Get(ctx, older.ID)
	require.NoError(t, err)
	require.Equal(t, older.UserID, got.UserID)
	require.Equal(t, domain.OrderStatusPending, got.Status)
	require.True(t, got.Total.Equal(older.Total), "total mismatch: %s", got.Total)
	require.Len(t, got.Items, 2)
	require.Equal(t, "sneaker-1", got.Items[0].ProductID)
	require.Equal(t, "sneaker-2", got.Items[1].ProductID)

	listed, err := repo.ListByUser(ctx, "user-1", 1)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	require.Equal(t, newer.ID, listed[0].ID)
	require.Len(t, listed[0].Items, 2)

	all, err := repo.ListByUser(ctx, "user-1", 0)
	require.NoError(t, err)
	require.Len(t, all, 2)

	stale, err := repo.ListByStatusBefore(ctx, domain.OrderStatusPending, now.Add(-90*time.Second), 0)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	require.Equal(t, older.ID, stale[0].ID)
}

func TestOrderRepository_PostgresTransitionIsCompareAndSet(t *testing.T) {
	ctx := context.Background()
	repo := NewOrderRepository(openTestStore(t))

	order := sampleOrder("order-cas", "user-2", time.Now().UTC())
	require.NoError(t, repo.Create(ctx, order))

	var (
		wins atomic.Int32
		wg   sync.WaitGroup
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := repo.TransitionStatus(ctx, order.ID, domain.OrderStatusPending, domain.OrderStatusPaid)
			if err == nil && ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	require.EqualValues(t, 1, wins.Load())

	ok, err := repo.TransitionStatus(ctx, order.ID, domain.OrderStatusPending, domain.OrderStatusFailed)
	require.NoError(t, err)
	require.False(t, ok)

	got, err := repo.Get(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusPaid, got.Status)
}

func TestOrderRepository_PostgresPaymentRefAndErrors(t *testing.T) {
	ctx := context.Background()
	repo := NewOrderRepository(openTestStore(t))

	_, err := repo.Get(ctx, "missing-order")
	require.ErrorIs(t, err, domain.ErrOrderNotFound)
	require.ErrorIs(t, repo.SetPaymentRef(ctx, "missing-order", domain.PaymentProviderHosted, "cs_1"), domain.ErrOrderNotFound)

	order := sampleOrder("order-ref", "user-3", time.Now().UTC())
	require.NoError(t, repo.Create(ctx, order))
	require.ErrorIs(t, repo.Create(ctx, order), domain.ErrOrderAlreadyExists)

	require.NoError(t, repo.SetPaymentRef(ctx, order.ID, domain.PaymentProviderHosted, "cs_test_1"))
	got, err := repo.Get(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, domain.PaymentProviderHosted, got.Provider)
	require.Equal(t, "cs_test_1", got.ExternalRef)
}

func TestIsUniqueViolation(t *testing.T) {
	if !isUniqueViolation(&pgconn.PgError{Code: "23505"}) {
		t.Fatal("expected unique violation for code 23505")
	}
	if isUniqueViolation(&pgconn.PgError{Code: "22001"}) {
		t.Fatal("unexpected unique violation for non-unique code")
	}
	if isUniqueViolation(errors.New("plain error")) {
		t.Fatal("plain error must not be unique violation")
	}
}

func sampleOrder(id, userID string, createdAt time.Time) domain.Order {
	items := []domain.OrderItem{
		{ID: id + "-item-1", OrderID: id, ProductID: "sneaker-1", Name: "Runner", Price: decimal.RequireFromString("89.90"), Quantity: 2, Size: "42"},
		{ID: id + "-item-2", OrderID: id, ProductID: "sneaker-2", Name: "Court", Price: decimal.RequireFromString("120.00"), Quantity: 1, Color: "white"},
	}
	order := domain.Order{
		ID:        id,
		UserID:    userID,
		Email:     userID + "@example.com",
		Status:    domain.OrderStatusPending,
		Provider:  domain.PaymentProviderHosted,
		Items:     items,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
	order.Total = order.Subtotal()
	return order
}

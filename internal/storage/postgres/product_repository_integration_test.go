package postgres

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

func TestProductRepository_PostgresUpsertListAndLevels(t *testing.T) {
	ctx := context.Background()
	repo := NewProductRepository(openTestStore(t))

	n, err := repo.Upsert(ctx, []domain.Product{
		{ID: "p1", Name: "Runner", Price: decimal.RequireFromString("89.90"), Sizes: []string{"41", "42"}, Stock: 5},
		{ID: "p2", Name: "Archive", Price: decimal.RequireFromString("50"), Hidden: true, Stock: 1},
	})
	require.NoError(t, err)
	require.Equal(t, 2, n)

	visible, err := repo.List(ctx, domain.ProductFilter{})
	require.NoError(t, err)
	require.Len(t, visible, 1)
	require.Equal(t, []string{"41", "42"}, visible[0].Sizes)
	require.Empty(t, visible[0].Colors)

	all, err := repo.List(ctx, domain.ProductFilter{IncludeHidden: true})
	require.NoError(t, err)
	require.Len(t, all, 2)

	// Повторный upsert обновляет запись, а не дублирует её.
	_, err = repo.Upsert(ctx, []domain.Product{{ID: "p1", Name: "Runner v2", Price: decimal.RequireFromString("99"), Stock: 7}})
	require.NoError(t, err)

	levels, err := repo.StockLevels(ctx, []string{"p1", "p2", "missing"})
	require.NoError(t, err)
	require.Equal(t, map[string]int{"p1": 7, "p2": 1}, levels)
}

func TestProductRepository_PostgresDecrementClampsAtZero(t *testing.T) {
	ctx := context.Background()
	repo := NewProductRepository(openTestStore(t))

	_, err := repo.Upsert(ctx, []domain.Product{{ID: "p1", Name: "Runner", Price: decimal.NewFromInt(10), Stock: 3}})
	require.NoError(t, err)

	change, err := repo.DecrementStock(ctx, "p1", 2)
	require.NoError(t, err)
	require.Equal(t, 3, change.Before)
	require.Equal(t, 1, change.After)
	require.Zero(t, change.Shortfall())

	change, err = repo.DecrementStock(ctx, "p1", 5)
	require.NoError(t, err)
	require.Equal(t, 1, change.Before)
	require.Equal(t, 0, change.After)
	require.Equal(t, 4, change.Shortfall())

	_, err = repo.DecrementStock(ctx, "missing", 1)
	require.ErrorIs(t, err, domain.ErrProductNotFound)
}

func TestProductRepository_PostgresConcurrentDecrementsAreSerialized(t *testing.T) {
	ctx := context.Background()
	repo := NewProductRepository(openTestStore(t))

	_, err := repo.Upsert(ctx, []domain.Product{{ID: "p1", Name: "Runner", Price: decimal.NewFromInt(10), Stock: 10}})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = repo.DecrementStock(ctx, "p1", 1)
		}()
	}
	wg.Wait()

	levels, err := repo.StockLevels(ctx, []string{"p1"})
	require.NoError(t, err)
	require.Equal(t, 0, levels["p1"])
}

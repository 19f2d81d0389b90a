package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type productRepositoryInMemory struct {
	mu    sync.RWMutex
	items map[string]domain.Product
}

// NewProductRepository создаёт in-memory каталог, опционально с начальными товарами.
func NewProductRepository(seed ...domain.Product) domain.ProductRepository {
	repo := &productRepositoryInMemory{items: make(map[string]domain.Product, len(seed))}
	for _, p := range seed {
		if p.CreatedAt.IsZero() {
			p.CreatedAt = time.Now().UTC()
		}
		repo.items[p.ID] = cloneProduct(p)
	}
	return repo
}

func (r *productRepositoryInMemory) List(_ context.Context, filter domain.ProductFilter) ([]domain.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.Product, 0, len(r.items))
	for _, p := range r.items {
		if p.Hidden && !filter.IncludeHidden {
			continue
		}
		result = append(result, cloneProduct(p))
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})

	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (r *productRepositoryInMemory) StockLevels(_ context.Context, ids []string) (map[string]int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	levels := make(map[string]int, len(ids))
	for _, id := range ids {
		if p, ok := r.items[id]; ok {
			levels[id] = p.Stock
		}
	}
	return levels, nil
}

// DecrementStock списывает остаток под мьютексом с полом в ноль.
func (r *productRepositoryInMemory) DecrementStock(_ context.Context, id string, qty int) (domain.StockChange, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.items[id]
	if !ok {
		return domain.StockChange{}, domain.ErrProductNotFound
	}

	change := domain.StockChange{ProductID: id, Requested: qty, Before: p.Stock}
	p.Stock -= qty
	if p.Stock < 0 {
		p.Stock = 0
	}
	change.After = p.Stock
	r.items[id] = p
	return change, nil
}

func (r *productRepositoryInMemory) Upsert(_ context.Context, products []domain.Product) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	for _, p := range products {
		if existing, ok := r.items[p.ID]; ok && p.CreatedAt.IsZero() {
			p.CreatedAt = existing.CreatedAt
		}
		if p.CreatedAt.IsZero() {
			p.CreatedAt = now
		}
		if p.Stock < 0 {
			p.Stock = 0
		}
		r.items[p.ID] = cloneProduct(p)
	}
	return len(products), nil
}

func cloneProduct(src domain.Product) domain.Product {
	dst := src
	dst.Images = append([]string(nil), src.Images...)
	dst.Colors = append([]string(nil), src.Colors...)
	dst.Sizes = append([]string(nil), src.Sizes...)
	return dst
}

var _ domain.ProductRepository = (*productRepositoryInMemory)(nil)

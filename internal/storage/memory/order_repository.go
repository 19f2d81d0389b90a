package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// orderRepositoryInMemory: простая in-memory реализация OrderRepository.
type orderRepositoryInMemory struct {
	mu    sync.RWMutex
	items map[string]domain.Order
}

// NewOrderRepository возвращает in-memory репозиторий для локальной разработки и тестов.
func NewOrderRepository() domain.OrderRepository {
	return &orderRepositoryInMemory{
		items: make(map[string]domain.Order),
	}
}

// Create сохраняет заказ вместе с позициями, если ID ещё не занят.
func (r *orderRepositoryInMemory) Create(_ context.Context, order domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[order.ID]; exists {
		return domain.ErrOrderAlreadyExists
	}
	r.items[order.ID] = cloneOrder(order)
	return nil
}

// Get возвращает заказ или ErrOrderNotFound, если его нет.
func (r *orderRepositoryInMemory) Get(_ context.Context, id string) (domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	order, ok := r.items[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return cloneOrder(order), nil
}

// ListByUser возвращает заказы пользователя, ограничивая выборку limit (если >0).
func (r *orderRepositoryInMemory) ListByUser(_ context.Context, userID string, limit int) ([]domain.Order, error) {
	return r.filter(func(o domain.Order) bool { return o.UserID == userID }, limit, true), nil
}

// ListByStatusBefore возвращает старейшие заказы в статусе status.
func (r *orderRepositoryInMemory) ListByStatusBefore(_ context.Context, status domain.OrderStatus, before time.Time, limit int) ([]domain.Order, error) {
	return r.filter(func(o domain.Order) bool {
		return o.Status == status && o.CreatedAt.Before(before)
	}, limit, false), nil
}

func (r *orderRepositoryInMemory) filter(match func(domain.Order) bool, limit int, newestFirst bool) []domain.Order {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.Order, 0)
	for _, order := range r.items {
		if !match(order) {
			continue
		}
		result = append(result, cloneOrder(order))
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			if newestFirst {
				return result[i].CreatedAt.After(result[j].CreatedAt)
			}
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID > result[j].ID
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result
}

// TransitionStatus меняет статус под мьютексом, только если текущий равен from.
func (r *orderRepositoryInMemory) TransitionStatus(_ context.Context, id string, from, to domain.OrderStatus) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.items[id]
	if !ok || current.Status != from {
		return false, nil
	}
	current.Status = to
	current.UpdatedAt = time.Now().UTC()
	r.items[id] = current
	return true, nil
}

// SetPaymentRef фиксирует провайдера и внешний идентификатор.
func (r *orderRepositoryInMemory) SetPaymentRef(_ context.Context, id string, provider domain.PaymentProvider, ref string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.items[id]
	if !ok {
		return domain.ErrOrderNotFound
	}
	current.Provider = provider
	current.ExternalRef = ref
	current.UpdatedAt = time.Now().UTC()
	r.items[id] = current
	return nil
}

// cloneOrder копирует слайс позиций, чтобы избежать мутаций извне.
func cloneOrder(src domain.Order) domain.Order {
	dst := src
	dst.Items = append([]domain.OrderItem(nil), src.Items...)
	return dst
}

var _ domain.OrderRepository = (*orderRepositoryInMemory)(nil)

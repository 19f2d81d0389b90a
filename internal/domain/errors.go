package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrUnauthorized: отсутствует или невалиден bearer-токен.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden: пользователь аутентифицирован, но не владеет ресурсом.
	ErrForbidden = errors.New("forbidden")
	// ErrInvalidInput: базовая ошибка валидации входных данных.
	ErrInvalidInput = errors.New("invalid input")
	// Ошибка отсутствия хотя бы одного товара в заказе.
	ErrItemsRequired = fmt.Errorf("%w: order must contain at least one item", ErrInvalidInput)
	// Ошибка пустого идентификатора товара в позиции.
	ErrProductIDRequired = fmt.Errorf("%w: item product id is required", ErrInvalidInput)
	// Ошибка при некорректном количестве товара (<= 0).
	ErrItemQtyInvalid = fmt.Errorf("%w: item quantity must be greater than zero", ErrInvalidInput)
	// Ошибка, если цена позиции отрицательная.
	ErrItemPriceInvalid = fmt.Errorf("%w: item price must be non-negative", ErrInvalidInput)
	// Ошибка отсутствующего владельца заказа.
	ErrUserRequired = fmt.Errorf("%w: user id is required", ErrInvalidInput)
	// Ошибка отрицательной суммы заказа.
	ErrAmountNegative = fmt.Errorf("%w: order total must be non-negative", ErrInvalidInput)
	// Ошибка отсутствующего идентификатора заказа.
	ErrOrderIDRequired = fmt.Errorf("%w: order id is required", ErrInvalidInput)
	// ErrInsufficientStock: на складе меньше единиц, чем требуется корзине.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrStoreUnavailable: хранилище не настроено или недоступно.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrPaymentFailed: платёжный провайдер вернул ошибку или неразборчивый ответ.
	ErrPaymentFailed = errors.New("payment failed")
	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderNotPending: переход запрошен из статуса, где он запрещён.
	ErrOrderNotPending = errors.New("order is not pending")
	// ErrOrderAlreadyExists: заказ с таким ID уже сохранён.
	ErrOrderAlreadyExists = errors.New("order already exists")
	// ErrProductNotFound: товар отсутствует в каталоге.
	ErrProductNotFound = errors.New("product not found")
	// ErrOutboxPublish: ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
	// ErrOutboxMessageNotFound: событие отсутствует в outbox.
	ErrOutboxMessageNotFound = errors.New("outbox message not found")
	// ErrSupportUnavailable: генератор ответов поддержки не настроен.
	ErrSupportUnavailable = errors.New("support reply generator is not configured")

	ErrIdempotencyKeyRequired         = errors.New("idempotency key is required")
	ErrIdempotencyRequestHashRequired = errors.New("idempotency request hash is required")
	ErrIdempotencyKeyAlreadyExists    = errors.New("idempotency key already exists")
	ErrIdempotencyHashMismatch        = errors.New("idempotency key reused with different request")
	ErrIdempotencyKeyNotFound         = errors.New("idempotency key not found")
)

// Shortage описывает одну позицию, которую склад не может покрыть.
type Shortage struct {
	ProductID string
	Needed    int
	Available int
}

// InsufficientStockError перечисляет все товары с нехваткой остатков.
type InsufficientStockError struct {
	Shortages []Shortage
}

// NewInsufficientStockError сортирует нехватки по product id, чтобы сообщение было детерминированным.
func NewInsufficientStockError(shortages []Shortage) *InsufficientStockError {
	sorted := append([]Shortage(nil), shortages...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ProductID < sorted[j].ProductID })
	return &InsufficientStockError{Shortages: sorted}
}

func (e *InsufficientStockError) Error() string {
	parts := make([]string, 0, len(e.Shortages))
	for _, s := range e.Shortages {
		parts = append(parts, fmt.Sprintf("can't fulfill quantity %d of product %s (available %d)", s.Needed, s.ProductID, s.Available))
	}
	return strings.Join(parts, "; ")
}

// Is позволяет классифицировать ошибку через errors.Is(err, ErrInsufficientStock).
func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// IsInvalidInput проверяет, что ошибка относится к валидации входа.
func IsInvalidInput(err error) bool {
	return errors.Is(err, ErrInvalidInput)
}

// AsInsufficientStock извлекает детали нехватки остатков.
func AsInsufficientStock(err error) (*InsufficientStockError, bool) {
	var target *InsufficientStockError
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus описывает расчётный статус заказа.
type OrderStatus string

const (
	// OrderStatusPending: заказ создан, оплата ещё не подтверждена.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusPaid: оплата подтверждена, остатки списаны ровно один раз.
	OrderStatusPaid OrderStatus = "paid"
	// OrderStatusFailed: провайдер сообщил об ошибке оплаты. Терминальный статус.
	OrderStatusFailed OrderStatus = "failed"
)

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusPaid, OrderStatusFailed:
		return true
	default:
		return false
	}
}

// PaymentProvider фиксирует, через какой канал инициирована оплата.
type PaymentProvider string

const (
	PaymentProviderHosted    PaymentProvider = "hosted"
	PaymentProviderDirect    PaymentProvider = "direct"
	PaymentProviderSimulated PaymentProvider = "simulated"
	PaymentProviderManual    PaymentProvider = "manual"
)

// OrderItem представляет одну позицию заказа.
type OrderItem struct {
	ID        string
	OrderID   string
	ProductID string
	Name      string
	// Price: снимок цены на момент создания заказа, не ссылка на Product.Price.
	Price    decimal.Decimal
	Quantity int
	Size     string
	Color    string
}

// LineTotal возвращает price * quantity.
func (i OrderItem) LineTotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Order агрегирует состояние заказа и его позиции.
type Order struct {
	ID          string
	UserID      string
	Email       string
	Total       decimal.Decimal
	Status      OrderStatus
	Provider    PaymentProvider
	ExternalRef string
	Items       []OrderItem
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if o.UserID == "" {
		errs = append(errs, ErrUserRequired)
	}
	if len(o.Items) == 0 {
		errs = append(errs, ErrItemsRequired)
	}
	if o.Total.IsNegative() {
		errs = append(errs, ErrAmountNegative)
	}
	for _, item := range o.Items {
		if item.ProductID == "" {
			errs = append(errs, ErrProductIDRequired)
		}
		if item.Quantity < 1 {
			errs = append(errs, ErrItemQtyInvalid)
		}
		if item.Price.IsNegative() {
			errs = append(errs, ErrItemPriceInvalid)
		}
	}

	return errs
}

// Subtotal суммирует позиции заказа.
func (o *Order) Subtotal() decimal.Decimal {
	sum := decimal.Zero
	for _, item := range o.Items {
		sum = sum.Add(item.LineTotal())
	}
	return sum
}

// StockLines превращает позиции заказа в строки для проверки остатков.
func (o *Order) StockLines() []StockLine {
	lines := make([]StockLine, 0, len(o.Items))
	for _, item := range o.Items {
		lines = append(lines, StockLine{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	return lines
}

// NormalizeQuantity приводит количество к max(1, q).
func NormalizeQuantity(q int) int {
	if q < 1 {
		return 1
	}
	return q
}

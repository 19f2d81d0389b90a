package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product: карточка товара с остатком на складе.
type Product struct {
	ID            string
	Name          string
	Category      string
	Price         decimal.Decimal
	OriginalPrice decimal.NullDecimal
	Image         string
	Images        []string
	Description   string
	Colors        []string
	Sizes         []string
	Rating        float64
	Reviews       int
	IsNew         bool
	IsSale        bool
	IsLimited     bool
	// Hidden скрывает товар из каталога для всех, кроме администраторов.
	Hidden    bool
	Stock     int
	CreatedAt time.Time
}

// ProductFilter ограничивает выборку каталога.
type ProductFilter struct {
	IncludeHidden bool
	Limit         int
}

// StockLine: запрошенное количество одного товара.
type StockLine struct {
	ProductID string
	Quantity  int
}

// StockRequirement суммирует запрошенные количества по product id.
type StockRequirement map[string]int

// AggregateStock складывает дубли product id; количество приводится к max(1, q).
func AggregateStock(lines []StockLine) StockRequirement {
	req := make(StockRequirement, len(lines))
	for _, line := range lines {
		req[line.ProductID] += NormalizeQuantity(line.Quantity)
	}
	return req
}

// ProductIDs возвращает ключи требования.
func (r StockRequirement) ProductIDs() []string {
	ids := make([]string, 0, len(r))
	for id := range r {
		ids = append(ids, id)
	}
	return ids
}

// StockChange: результат атомарного списания остатка.
type StockChange struct {
	ProductID string
	Requested int
	Before    int
	After     int
}

// Shortfall показывает, сколько единиц не удалось списать из-за пола в ноль.
func (c StockChange) Shortfall() int {
	return c.Requested - (c.Before - c.After)
}

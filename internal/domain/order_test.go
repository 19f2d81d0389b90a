package domain_test

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// helper для создания базового заказа с одной позицией.
func makeOrder() domain.Order {
	now := time.Now().UTC()
	return domain.Order{
		ID:     "order-1",
		UserID: "user-1",
		Email:  "buyer@example.com",
		Total:  decimal.RequireFromString("240.00"),
		Status: domain.OrderStatusPending,
		Items: []domain.OrderItem{
			{
				ID:        "item-1",
				ProductID: "P1",
				Name:      "Runner",
				Price:     decimal.RequireFromString("120.00"),
				Quantity:  2,
			},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestOrderValidateInvariants_Ok(t *testing.T) {
	order := makeOrder()
	if errs := order.ValidateInvariants(); len(errs) != 0 {
		t.Fatalf("expected no validation errors, got %v", errs)
	}
}

func TestOrderValidateInvariants_Errors(t *testing.T) {
	cases := []struct {
		name string
		mut  func(o *domain.Order)
		want error
	}{
		{name: "no user", mut: func(o *domain.Order) { o.UserID = "" }, want: domain.ErrUserRequired},
		{name: "negative total", mut: func(o *domain.Order) { o.Total = decimal.NewFromInt(-1) }, want: domain.ErrAmountNegative},
		{name: "no items", mut: func(o *domain.Order) { o.Items = nil }, want: domain.ErrItemsRequired},
		{name: "zero qty", mut: func(o *domain.Order) { o.Items[0].Quantity = 0 }, want: domain.ErrItemQtyInvalid},
		{name: "negative price", mut: func(o *domain.Order) { o.Items[0].Price = decimal.NewFromInt(-5) }, want: domain.ErrItemPriceInvalid},
		{name: "no product id", mut: func(o *domain.Order) { o.Items[0].ProductID = "" }, want: domain.ErrProductIDRequired},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			order := makeOrder()
			tc.mut(&order)
			errs := order.ValidateInvariants()
			if len(errs) == 0 {
				t.Fatal("expected validation errors")
			}
			if !errors.Is(errors.Join(errs...), tc.want) {
				t.Fatalf("expected %v in %v", tc.want, errs)
			}
		})
	}
}

func TestOrderSubtotal(t *testing.T) {
	order := makeOrder()
	order.Items = append(order.Items, domain.OrderItem{ProductID: "P2", Price: decimal.RequireFromString("89.50"), Quantity: 1})

	if got := order.Subtotal(); !got.Equal(decimal.RequireFromString("329.50")) {
		t.Fatalf("unexpected subtotal %s", got)
	}
}

func TestAggregateStock(t *testing.T) {
	req := domain.AggregateStock([]domain.StockLine{
		{ProductID: "A", Quantity: 2},
		{ProductID: "A", Quantity: 3},
		{ProductID: "B", Quantity: 0},
		{ProductID: "C", Quantity: -4},
	})

	if req["A"] != 5 {
		t.Fatalf("expected A=5, got %d", req["A"])
	}
	if req["B"] != 1 || req["C"] != 1 {
		t.Fatalf("expected non-positive quantities coerced to 1, got B=%d C=%d", req["B"], req["C"])
	}
	if len(req.ProductIDs()) != 3 {
		t.Fatalf("expected 3 product ids, got %v", req.ProductIDs())
	}
}

func TestStockChangeShortfall(t *testing.T) {
	change := domain.StockChange{ProductID: "P", Requested: 5, Before: 2, After: 0}
	if change.Shortfall() != 3 {
		t.Fatalf("expected shortfall 3, got %d", change.Shortfall())
	}

	exact := domain.StockChange{ProductID: "P", Requested: 1, Before: 5, After: 4}
	if exact.Shortfall() != 0 {
		t.Fatalf("expected no shortfall, got %d", exact.Shortfall())
	}
}

package domain

import (
	"context"
	"time"
)

// OrderRepository описывает требования к хранилищу заказов.
type OrderRepository interface {
	// Create сохраняет заказ вместе с позициями одной операцией: либо всё, либо ничего.
	Create(ctx context.Context, order Order) error
	// Get возвращает заказ с позициями или ErrOrderNotFound.
	Get(ctx context.Context, id string) (Order, error)
	// ListByUser возвращает заказы пользователя, новые первыми.
	ListByUser(ctx context.Context, userID string, limit int) ([]Order, error)
	// ListByStatusBefore возвращает заказы в статусе status, созданные раньше before.
	ListByStatusBefore(ctx context.Context, status OrderStatus, before time.Time, limit int) ([]Order, error)
	// TransitionStatus атомарно меняет статус from -> to одной строкой.
	// Возвращает false, если текущий статус не равен from (или заказа нет).
	TransitionStatus(ctx context.Context, id string, from, to OrderStatus) (bool, error)
	// SetPaymentRef сохраняет провайдера и его внешний идентификатор.
	SetPaymentRef(ctx context.Context, id string, provider PaymentProvider, ref string) error
}

// ProductRepository описывает каталог и остатки.
type ProductRepository interface {
	List(ctx context.Context, filter ProductFilter) ([]Product, error)
	// StockLevels читает остатки пачкой; отсутствующих id нет в результате.
	StockLevels(ctx context.Context, ids []string) (map[string]int, error)
	// DecrementStock атомарно выполняет stock = max(stock - qty, 0).
	// Для отсутствующего товара возвращает ErrProductNotFound.
	DecrementStock(ctx context.Context, id string, qty int) (StockChange, error)
	// Upsert вставляет или обновляет товары и возвращает число записей.
	Upsert(ctx context.Context, products []Product) (int, error)
}

// SupportRepository хранит транскрипт чата поддержки.
type SupportRepository interface {
	Append(ctx context.Context, msg SupportMessage) (SupportMessage, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]SupportMessage, error)
}

// ProfileRepository хранит профили пользователей.
type ProfileRepository interface {
	Upsert(ctx context.Context, profile Profile) (Profile, error)
}

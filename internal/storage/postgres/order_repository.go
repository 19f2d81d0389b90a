package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const orderColumns = `id, user_id, email, total, status, provider, external_ref, created_at, updated_at`

type orderRepository struct {
	db *sql.DB
}

// NewOrderRepository создаёт PostgreSQL-реализацию OrderRepository.
func NewOrderRepository(store *Store) domain.OrderRepository {
	return &orderRepository{db: store.DB()}
}

// Create вставляет заказ и его позиции в одной транзакции.
func (r *orderRepository) Create(ctx context.Context, order domain.Order) error {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	return inTx(ctx, r.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO orders (`+orderColumns+`)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		`,
			order.ID, order.UserID, order.Email, order.Total, string(order.Status),
			string(order.Provider), order.ExternalRef, order.CreatedAt, order.UpdatedAt,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return domain.ErrOrderAlreadyExists
			}
			return fmt.Errorf("insert order: %w", err)
		}

		for pos, item := range order.Items {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO order_items (
					id, order_id, product_id, name, price, quantity, size, color, position
				) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
			`,
				item.ID, order.ID, item.ProductID, item.Name, item.Price,
				item.Quantity, item.Size, item.Color, pos,
			); err != nil {
				return fmt.Errorf("insert order item: %w", err)
			}
		}
		return nil
	})
}

func (r *orderRepository) Get(ctx context.Context, id string) (domain.Order, error) {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	order, err := scanOrder(r.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, fmt.Errorf("select order: %w", err)
	}

	items, err := r.loadItems(ctx, []string{order.ID})
	if err != nil {
		return domain.Order{}, err
	}
	order.Items = items[order.ID]
	return order, nil
}

func (r *orderRepository) ListByUser(ctx context.Context, userID string, limit int) ([]domain.Order, error) {
	if limit <= 0 {
		limit = 50
	}
	return r.list(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, userID, limit)
}

func (r *orderRepository) ListByStatusBefore(ctx context.Context, status domain.OrderStatus, before time.Time, limit int) ([]domain.Order, error) {
	if limit <= 0 {
		limit = 100
	}
	return r.list(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE status = $1 AND created_at < $2
		ORDER BY created_at ASC, id ASC
		LIMIT $3
	`, string(status), before, limit)
}

// TransitionStatus: compare-and-set по одной строке.
func (r *orderRepository) TransitionStatus(ctx context.Context, id string, from, to domain.OrderStatus) (bool, error) {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE orders
		SET status = $3,
		    updated_at = NOW()
		WHERE id = $1
		  AND status = $2
	`, id, string(from), string(to))
	if err != nil {
		return false, fmt.Errorf("transition order status: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected == 1, nil
}

func (r *orderRepository) SetPaymentRef(ctx context.Context, id string, provider domain.PaymentProvider, ref string) error {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE orders
		SET provider = $2,
		    external_ref = $3,
		    updated_at = NOW()
		WHERE id = $1
	`, id, string(provider), ref)
	if err != nil {
		return fmt.Errorf("set payment ref: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrOrderNotFound
	}
	return nil
}

func (r *orderRepository) list(ctx context.Context, query string, args ...any) ([]domain.Order, error) {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	orders := make([]domain.Order, 0)
	ids := make([]string, 0)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order row: %w", err)
		}
		orders = append(orders, order)
		ids = append(ids, order.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order rows: %w", err)
	}
	if len(orders) == 0 {
		return orders, nil
	}

	items, err := r.loadItems(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range orders {
		orders[i].Items = items[orders[i].ID]
	}
	return orders, nil
}

// loadItems подгружает позиции для пачки заказов одним запросом.
func (r *orderRepository) loadItems(ctx context.Context, orderIDs []string) (map[string][]domain.OrderItem, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, order_id, product_id, name, price, quantity, size, color
		FROM order_items
		WHERE order_id = ANY($1)
		ORDER BY order_id, position ASC
	`, orderIDs)
	if err != nil {
		return nil, fmt.Errorf("load order items: %w", err)
	}
	defer rows.Close()

	result := make(map[string][]domain.OrderItem, len(orderIDs))
	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(
			&item.ID, &item.OrderID, &item.ProductID, &item.Name,
			&item.Price, &item.Quantity, &item.Size, &item.Color,
		); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		result[item.OrderID] = append(result[item.OrderID], item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order items: %w", err)
	}
	return result, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		order    domain.Order
		status   string
		provider string
	)
	if err := row.Scan(
		&order.ID, &order.UserID, &order.Email, &order.Total, &status,
		&provider, &order.ExternalRef, &order.CreatedAt, &order.UpdatedAt,
	); err != nil {
		return domain.Order{}, err
	}
	order.Status = domain.OrderStatus(status)
	order.Provider = domain.PaymentProvider(provider)
	return order, nil
}

var _ domain.OrderRepository = (*orderRepository)(nil)

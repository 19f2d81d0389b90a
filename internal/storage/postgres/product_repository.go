package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const productColumns = `id, name, category, price, original_price, image, images, description,
	colors, sizes, rating, reviews, is_new, is_sale, is_limited, hidden, stock, created_at`

type productRepository struct {
	db *sql.DB
}

// NewProductRepository создаёт PostgreSQL-реализацию ProductRepository.
func NewProductRepository(store *Store) domain.ProductRepository {
	return &productRepository{db: store.DB()}
}

func (r *productRepository) List(ctx context.Context, filter domain.ProductFilter) ([]domain.Product, error) {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE $1 OR NOT hidden
		ORDER BY created_at DESC, id ASC
		LIMIT $2
	`, filter.IncludeHidden, limit)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	// pgtype.Map не потокобезопасен, поэтому создаётся на вызов.
	typeMap := pgtype.NewMap()
	products := make([]domain.Product, 0)
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(
			&p.ID, &p.Name, &p.Category, &p.Price, &p.OriginalPrice, &p.Image,
			typeMap.SQLScanner(&p.Images), &p.Description,
			typeMap.SQLScanner(&p.Colors), typeMap.SQLScanner(&p.Sizes),
			&p.Rating, &p.Reviews, &p.IsNew, &p.IsSale, &p.IsLimited, &p.Hidden,
			&p.Stock, &p.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate products: %w", err)
	}
	return products, nil
}

func (r *productRepository) StockLevels(ctx context.Context, ids []string) (map[string]int, error) {
	levels := make(map[string]int, len(ids))
	if len(ids) == 0 {
		return levels, nil
	}

	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `SELECT id, stock FROM products WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("select stock levels: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id    string
			stock int
		)
		if err := rows.Scan(&id, &stock); err != nil {
			return nil, fmt.Errorf("scan stock level: %w", err)
		}
		levels[id] = stock
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stock levels: %w", err)
	}
	return levels, nil
}

// DecrementStock списывает остаток одним условным UPDATE с полом в ноль.
// Подзапрос с FOR UPDATE возвращает значение до списания.
func (r *productRepository) DecrementStock(ctx context.Context, id string, qty int) (domain.StockChange, error) {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	change := domain.StockChange{ProductID: id, Requested: qty}
	err := r.db.QueryRowContext(ctx, `
		UPDATE products AS p
		SET stock = GREATEST(p.stock - $2, 0)
		FROM (SELECT id, stock FROM products WHERE id = $1 FOR UPDATE) AS prev
		WHERE p.id = prev.id
		RETURNING prev.stock, p.stock
	`, id, qty).Scan(&change.Before, &change.After)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.StockChange{}, domain.ErrProductNotFound
		}
		return domain.StockChange{}, fmt.Errorf("decrement stock: %w", err)
	}
	return change, nil
}

func (r *productRepository) Upsert(ctx context.Context, products []domain.Product) (int, error) {
	if len(products) == 0 {
		return 0, nil
	}

	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	now := time.Now().UTC()
	err := inTx(ctx, r.db, func(tx *sql.Tx) error {
		for _, p := range products {
			createdAt := p.CreatedAt
			if createdAt.IsZero() {
				createdAt = now
			}
			stock := p.Stock
			if stock < 0 {
				stock = 0
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO products (`+productColumns+`)
				VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
				ON CONFLICT (id) DO UPDATE SET
					name = EXCLUDED.name,
					category = EXCLUDED.category,
					price = EXCLUDED.price,
					original_price = EXCLUDED.original_price,
					image = EXCLUDED.image,
					images = EXCLUDED.images,
					description = EXCLUDED.description,
					colors = EXCLUDED.colors,
					sizes = EXCLUDED.sizes,
					rating = EXCLUDED.rating,
					reviews = EXCLUDED.reviews,
					is_new = EXCLUDED.is_new,
					is_sale = EXCLUDED.is_sale,
					is_limited = EXCLUDED.is_limited,
					hidden = EXCLUDED.hidden,
					stock = EXCLUDED.stock
			`,
				p.ID, p.Name, p.Category, p.Price, p.OriginalPrice, p.Image, nonNil(p.Images), p.Description,
				nonNil(p.Colors), nonNil(p.Sizes), p.Rating, p.Reviews, p.IsNew, p.IsSale, p.IsLimited, p.Hidden,
				stock, createdAt,
			); err != nil {
				return fmt.Errorf("upsert product %s: %w", p.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(products), nil
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

var _ domain.ProductRepository = (*productRepository)(nil)

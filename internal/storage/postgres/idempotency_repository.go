package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const defaultIdempotencyTTL = 24 * time.Hour

type idempotencyRepository struct {
	db *sql.DB
}

// NewIdempotencyRepository хранит Idempotency-Key в idempotency_keys.
func NewIdempotencyRepository(store *Store) domain.IdempotencyRepository {
	return &idempotencyRepository{db: store.DB()}
}

// CreateProcessing занимает ключ одним upsert. Строка с истёкшим ttl_at,
// которую ещё не удалил cleanup worker, занимается заново; живая строка
// не меняется, и RETURNING ничего не отдаёт.
func (r *idempotencyRepository) CreateProcessing(ctx context.Context, key, requestHash string, ttlAt time.Time) (domain.IdempotencyRecord, error) {
	key, requestHash = strings.TrimSpace(key), strings.TrimSpace(requestHash)
	switch {
	case key == "":
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyRequired
	case requestHash == "":
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyRequestHashRequired
	}

	now := time.Now().UTC()
	if ttlAt.IsZero() {
		ttlAt = now.Add(defaultIdempotencyTTL)
	}

	opCtx, cancel := withOpTimeout(ctx)
	defer cancel()

	rec, err := scanIdempotency(r.db.QueryRowContext(opCtx, `
		INSERT INTO idempotency_keys AS k (key, request_hash, status, ttl_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (key) DO UPDATE
		SET request_hash = EXCLUDED.request_hash,
		    response_body = NULL,
		    http_status = NULL,
		    status = EXCLUDED.status,
		    ttl_at = EXCLUDED.ttl_at,
		    created_at = EXCLUDED.created_at,
		    updated_at = EXCLUDED.updated_at
		WHERE k.ttl_at <= EXCLUDED.created_at
		RETURNING `+idempotencyColumns,
		key, requestHash, string(domain.IdempotencyStatusProcessing), ttlAt, now,
	))
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, domain.ErrIdempotencyKeyNotFound) {
		return domain.IdempotencyRecord{}, fmt.Errorf("claim idempotency key: %w", err)
	}

	existing, err := r.Get(ctx, key)
	switch {
	case err != nil:
		// Запись успели удалить между upsert и чтением.
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyAlreadyExists
	case existing.RequestHash != requestHash:
		return existing, domain.ErrIdempotencyHashMismatch
	default:
		return existing, domain.ErrIdempotencyKeyAlreadyExists
	}
}

func (r *idempotencyRepository) Get(ctx context.Context, key string) (domain.IdempotencyRecord, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyRequired
	}

	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	rec, err := scanIdempotency(r.db.QueryRowContext(ctx,
		`SELECT `+idempotencyColumns+` FROM idempotency_keys WHERE key = $1`, key))
	if err != nil && !errors.Is(err, domain.ErrIdempotencyKeyNotFound) {
		return domain.IdempotencyRecord{}, fmt.Errorf("get idempotency key %s: %w", key, err)
	}
	return rec, err
}

func (r *idempotencyRepository) MarkDone(ctx context.Context, key string, responseBody []byte, httpStatus int) error {
	return r.finish(ctx, key, domain.IdempotencyStatusDone, responseBody, httpStatus)
}

func (r *idempotencyRepository) MarkFailed(ctx context.Context, key string, responseBody []byte, httpStatus int) error {
	return r.finish(ctx, key, domain.IdempotencyStatusFailed, responseBody, httpStatus)
}

// DeleteExpired удаляет просроченные ключи, самые старые первыми.
// limit <= 0 снимает ограничение.
func (r *idempotencyRepository) DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error) {
	if before.IsZero() {
		before = time.Now().UTC()
	}

	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	var limitArg any
	if limit > 0 {
		limitArg = limit
	}
	// LIMIT NULL в PostgreSQL означает отсутствие ограничения.
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM idempotency_keys
		WHERE key IN (
			SELECT key FROM idempotency_keys
			WHERE ttl_at <= $1
			ORDER BY ttl_at
			LIMIT $2
		)`, before, limitArg)
	if err != nil {
		return 0, fmt.Errorf("delete expired idempotency keys: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete expired idempotency keys: %w", err)
	}
	return int(n), nil
}

func (r *idempotencyRepository) finish(ctx context.Context, key string, status domain.IdempotencyStatus, responseBody []byte, httpStatus int) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.ErrIdempotencyKeyRequired
	}

	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE idempotency_keys
		SET status = $2, response_body = $3, http_status = $4, updated_at = NOW()
		WHERE key = $1`, key, string(status), responseBody, httpStatus)
	if err != nil {
		return fmt.Errorf("finish idempotency key %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish idempotency key %s: %w", key, err)
	}
	if n == 0 {
		return domain.ErrIdempotencyKeyNotFound
	}
	return nil
}

const idempotencyColumns = `key, request_hash, response_body, http_status, status, ttl_at, created_at, updated_at`

// scanIdempotency переводит sql.ErrNoRows в ErrIdempotencyKeyNotFound.
func scanIdempotency(row *sql.Row) (domain.IdempotencyRecord, error) {
	var (
		rec        domain.IdempotencyRecord
		status     string
		httpStatus sql.NullInt64
	)
	err := row.Scan(&rec.Key, &rec.RequestHash, &rec.ResponseBody, &httpStatus, &status, &rec.TTLAt, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyNotFound
	}
	if err != nil {
		return domain.IdempotencyRecord{}, err
	}

	rec.Status = domain.IdempotencyStatus(status)
	if !rec.Status.Valid() {
		return domain.IdempotencyRecord{}, fmt.Errorf("unknown idempotency status %q for key %s", status, rec.Key)
	}
	if httpStatus.Valid {
		rec.HTTPStatus = int(httpStatus.Int64)
	}
	rec.TTLAt = rec.TTLAt.UTC()
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	return rec, nil
}

package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const (
	outboxStatusPending = "pending"
	outboxStatusSent    = "sent"
	outboxStatusFailed  = "failed"

	defaultOutboxPullLimit = 100
)

type outboxRepository struct {
	db *sql.DB
}

// NewOutboxRepository хранит события заказов в outbox_messages.
func NewOutboxRepository(store *Store) domain.OutboxRepository {
	return &outboxRepository{db: store.DB()}
}

func (r *outboxRepository) Enqueue(ctx context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}

	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	const q = `
		INSERT INTO outbox_messages (id, aggregate_type, aggregate_id, event_type, payload, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)`
	if _, err := r.db.ExecContext(ctx, q,
		msg.ID, msg.AggregateType, msg.AggregateID, msg.EventType, msg.Payload,
		outboxStatusPending, time.Now().UTC(),
	); err != nil {
		return domain.OutboxMessage{}, fmt.Errorf("enqueue %s for %s: %w", msg.EventType, msg.AggregateID, err)
	}
	return msg, nil
}

// PullPending возвращает pending-события в порядке записи.
func (r *outboxRepository) PullPending(ctx context.Context, limit int) ([]domain.OutboxMessage, error) {
	if limit <= 0 {
		limit = defaultOutboxPullLimit
	}

	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, aggregate_type, aggregate_id, event_type, payload
		FROM outbox_messages
		WHERE status = $1
		ORDER BY created_at, id
		LIMIT $2`, outboxStatusPending, limit)
	if err != nil {
		return nil, fmt.Errorf("query pending outbox: %w", err)
	}
	defer rows.Close()

	var pending []domain.OutboxMessage
	for rows.Next() {
		var m domain.OutboxMessage
		if err := rows.Scan(&m.ID, &m.AggregateType, &m.AggregateID, &m.EventType, &m.Payload); err != nil {
			return nil, fmt.Errorf("scan outbox row: %w", err)
		}
		pending = append(pending, m)
	}
	return pending, rows.Err()
}

func (r *outboxRepository) Stats(ctx context.Context) (domain.OutboxStats, error) {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	var (
		count  int
		oldest sql.NullTime
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*), MIN(created_at) FROM outbox_messages WHERE status = $1`,
		outboxStatusPending,
	).Scan(&count, &oldest)
	if err != nil {
		return domain.OutboxStats{}, fmt.Errorf("outbox backlog stats: %w", err)
	}

	stats := domain.OutboxStats{PendingCount: count}
	if oldest.Valid {
		stats.OldestPendingAt = oldest.Time.UTC()
	}
	return stats, nil
}

// MarkSent проставляет published_at; событие больше не попадает в PullPending.
func (r *outboxRepository) MarkSent(ctx context.Context, id string) error {
	return r.finish(ctx, id, outboxStatusSent, `published_at = NOW(),`)
}

func (r *outboxRepository) MarkFailed(ctx context.Context, id string) error {
	return r.finish(ctx, id, outboxStatusFailed, ``)
}

func (r *outboxRepository) finish(ctx context.Context, id, status, extra string) error {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE outbox_messages
		SET status = $2, `+extra+`
		    attempt_count = attempt_count + 1,
		    updated_at = NOW()
		WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("mark outbox %s as %s: %w", id, status, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("mark outbox %s as %s: %w", id, status, err)
	} else if n == 0 {
		return fmt.Errorf("mark outbox %s as %s: %w", id, status, domain.ErrOutboxMessageNotFound)
	}
	return nil
}

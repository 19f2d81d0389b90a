package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type supportRepository struct {
	db *sql.DB
}

// NewSupportRepository создаёт PostgreSQL-хранилище транскрипта поддержки.
func NewSupportRepository(store *Store) domain.SupportRepository {
	return &supportRepository{db: store.DB()}
}

func (r *supportRepository) Append(ctx context.Context, msg domain.SupportMessage) (domain.SupportMessage, error) {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO support_messages (id, user_id, role, text, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, msg.ID, msg.UserID, string(msg.Role), msg.Text, msg.CreatedAt); err != nil {
		return domain.SupportMessage{}, fmt.Errorf("insert support message: %w", err)
	}
	return msg, nil
}

// ListByUser возвращает последние limit сообщений в хронологическом порядке.
func (r *supportRepository) ListByUser(ctx context.Context, userID string, limit int) ([]domain.SupportMessage, error) {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	if limit <= 0 {
		limit = 200
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, role, text, created_at
		FROM (
			SELECT id, user_id, role, text, created_at
			FROM support_messages
			WHERE user_id = $1
			ORDER BY created_at DESC, id DESC
			LIMIT $2
		) AS latest
		ORDER BY created_at ASC, id ASC
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list support messages: %w", err)
	}
	defer rows.Close()

	result := make([]domain.SupportMessage, 0)
	for rows.Next() {
		var (
			msg  domain.SupportMessage
			role string
		)
		if err := rows.Scan(&msg.ID, &msg.UserID, &role, &msg.Text, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan support message: %w", err)
		}
		msg.Role = domain.SupportRole(role)
		result = append(result, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate support messages: %w", err)
	}
	return result, nil
}

type profileRepository struct {
	db *sql.DB
}

// NewProfileRepository создаёт PostgreSQL-хранилище профилей.
func NewProfileRepository(store *Store) domain.ProfileRepository {
	return &profileRepository{db: store.DB()}
}

func (r *profileRepository) Upsert(ctx context.Context, profile domain.Profile) (domain.Profile, error) {
	if strings.TrimSpace(profile.ID) == "" {
		return domain.Profile{}, domain.ErrUserRequired
	}

	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	profile.UpdatedAt = time.Now().UTC()
	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO profiles (id, email, display_name, updated_at)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (id) DO UPDATE SET
			email = EXCLUDED.email,
			display_name = EXCLUDED.display_name,
			updated_at = EXCLUDED.updated_at
	`, profile.ID, profile.Email, profile.DisplayName, profile.UpdatedAt); err != nil {
		return domain.Profile{}, fmt.Errorf("upsert profile: %w", err)
	}
	return profile, nil
}

var (
	_ domain.SupportRepository = (*supportRepository)(nil)
	_ domain.ProfileRepository = (*profileRepository)(nil)
)

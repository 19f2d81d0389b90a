package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type supportRepositoryInMemory struct {
	mu       sync.RWMutex
	messages []domain.SupportMessage
}

// NewSupportRepository создаёт in-memory хранилище чата поддержки.
func NewSupportRepository() domain.SupportRepository {
	return &supportRepositoryInMemory{}
}

func (r *supportRepositoryInMemory) Append(_ context.Context, msg domain.SupportMessage) (domain.SupportMessage, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, msg)
	return msg, nil
}

// ListByUser возвращает последние limit сообщений пользователя в порядке добавления.
func (r *supportRepositoryInMemory) ListByUser(_ context.Context, userID string, limit int) ([]domain.SupportMessage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.SupportMessage, 0)
	for _, msg := range r.messages {
		if msg.UserID == userID {
			result = append(result, msg)
		}
	}
	if limit > 0 && len(result) > limit {
		result = result[len(result)-limit:]
	}
	return result, nil
}

type profileRepositoryInMemory struct {
	mu    sync.Mutex
	items map[string]domain.Profile
}

// NewProfileRepository создаёт in-memory хранилище профилей.
func NewProfileRepository() domain.ProfileRepository {
	return &profileRepositoryInMemory{items: make(map[string]domain.Profile)}
}

func (r *profileRepositoryInMemory) Upsert(_ context.Context, profile domain.Profile) (domain.Profile, error) {
	if strings.TrimSpace(profile.ID) == "" {
		return domain.Profile{}, domain.ErrUserRequired
	}
	profile.UpdatedAt = time.Now().UTC()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[profile.ID] = profile
	return profile, nil
}

var (
	_ domain.SupportRepository = (*supportRepositoryInMemory)(nil)
	_ domain.ProfileRepository = (*profileRepositoryInMemory)(nil)
)

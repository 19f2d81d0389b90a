package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const defaultIdempotencyTTL = 24 * time.Hour

// idempotencyRepositoryInMemory: ключи checkout-запросов. Просроченный ключ
// можно занять заново, физически он удаляется только DeleteExpired.
type idempotencyRepositoryInMemory struct {
	mu   sync.RWMutex
	keys map[string]domain.IdempotencyRecord
	now  func() time.Time
}

func NewIdempotencyRepository() domain.IdempotencyRepository {
	return &idempotencyRepositoryInMemory{
		keys: make(map[string]domain.IdempotencyRecord),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func (r *idempotencyRepositoryInMemory) CreateProcessing(_ context.Context, key, requestHash string, ttlAt time.Time) (domain.IdempotencyRecord, error) {
	key, requestHash = strings.TrimSpace(key), strings.TrimSpace(requestHash)
	switch {
	case key == "":
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyRequired
	case requestHash == "":
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyRequestHashRequired
	}

	now := r.now()
	if ttlAt.IsZero() {
		ttlAt = now.Add(defaultIdempotencyTTL)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.keys[key]; ok && current.TTLAt.After(now) {
		err := domain.ErrIdempotencyKeyAlreadyExists
		if current.RequestHash != requestHash {
			err = domain.ErrIdempotencyHashMismatch
		}
		return copyRecord(current), err
	}

	rec := domain.IdempotencyRecord{
		Key:         key,
		RequestHash: requestHash,
		Status:      domain.IdempotencyStatusProcessing,
		TTLAt:       ttlAt.UTC(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	r.keys[key] = rec
	return copyRecord(rec), nil
}

func (r *idempotencyRepositoryInMemory) Get(_ context.Context, key string) (domain.IdempotencyRecord, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyRequired
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.keys[key]
	if !ok {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyNotFound
	}
	return copyRecord(rec), nil
}

func (r *idempotencyRepositoryInMemory) MarkDone(_ context.Context, key string, responseBody []byte, httpStatus int) error {
	return r.finish(key, domain.IdempotencyStatusDone, responseBody, httpStatus)
}

func (r *idempotencyRepositoryInMemory) MarkFailed(_ context.Context, key string, responseBody []byte, httpStatus int) error {
	return r.finish(key, domain.IdempotencyStatusFailed, responseBody, httpStatus)
}

// DeleteExpired удаляет не более limit ключей с TTL <= before, начиная с самых старых.
func (r *idempotencyRepositoryInMemory) DeleteExpired(_ context.Context, before time.Time, limit int) (int, error) {
	if before.IsZero() {
		before = r.now()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	expired := make([]domain.IdempotencyRecord, 0)
	for _, rec := range r.keys {
		if !rec.TTLAt.After(before) {
			expired = append(expired, rec)
		}
	}
	sort.Slice(expired, func(i, j int) bool {
		if !expired[i].TTLAt.Equal(expired[j].TTLAt) {
			return expired[i].TTLAt.Before(expired[j].TTLAt)
		}
		return expired[i].Key < expired[j].Key
	})
	if limit > 0 && len(expired) > limit {
		expired = expired[:limit]
	}

	for _, rec := range expired {
		delete(r.keys, rec.Key)
	}
	return len(expired), nil
}

func (r *idempotencyRepositoryInMemory) finish(key string, status domain.IdempotencyStatus, responseBody []byte, httpStatus int) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.ErrIdempotencyKeyRequired
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.keys[key]
	if !ok {
		return domain.ErrIdempotencyKeyNotFound
	}
	rec.Status = status
	rec.ResponseBody = append([]byte(nil), responseBody...)
	rec.HTTPStatus = httpStatus
	rec.UpdatedAt = r.now()
	r.keys[key] = rec
	return nil
}

func copyRecord(rec domain.IdempotencyRecord) domain.IdempotencyRecord {
	rec.ResponseBody = append([]byte(nil), rec.ResponseBody...)
	return rec
}

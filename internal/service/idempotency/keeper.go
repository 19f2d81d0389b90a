package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// DefaultTTL: время жизни ключа идемпотентности.
const DefaultTTL = 24 * time.Hour

// Claim: результат попытки захватить ключ.
// Если Replay == true, обработчик не вызывается, а клиенту возвращается Record.
type Claim struct {
	Replay bool
	Record domain.IdempotencyRecord
}

// Keeper захватывает ключи идемпотентности и сохраняет ответы для повторов.
type Keeper struct {
	repo   domain.IdempotencyRepository
	ttl    time.Duration
	logger *log.Entry
	now    func() time.Time
}

// NewKeeper создаёт Keeper; ttl<=0 заменяется на DefaultTTL.
func NewKeeper(repo domain.IdempotencyRepository, ttl time.Duration, logger *log.Entry) *Keeper {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = log.WithField("component", "idempotency-keeper")
	}
	return &Keeper{
		repo:   repo,
		ttl:    ttl,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Begin захватывает ключ или возвращает сохранённый ответ.
//
// Ошибки:
//   - domain.ErrIdempotencyHashMismatch, ключ уже использован с другим телом;
//   - domain.ErrIdempotencyKeyAlreadyExists, запрос с этим ключом ещё выполняется.
func (k *Keeper) Begin(ctx context.Context, key, requestHash string) (Claim, error) {
	record, err := k.repo.CreateProcessing(ctx, key, requestHash, k.now().Add(k.ttl))
	if err == nil {
		return Claim{Record: record}, nil
	}

	switch {
	case errors.Is(err, domain.ErrIdempotencyHashMismatch):
		return Claim{}, err
	case errors.Is(err, domain.ErrIdempotencyKeyAlreadyExists):
		if record.Replayable() {
			return Claim{Replay: true, Record: record}, nil
		}
		return Claim{}, err
	default:
		return Claim{}, fmt.Errorf("claim idempotency key: %w", err)
	}
}

// Complete сохраняет ответ обработчика. Ответы 5xx помечаются как failed,
// но тоже воспроизводятся до истечения TTL.
func (k *Keeper) Complete(ctx context.Context, key string, httpStatus int, body []byte) {
	var err error
	if httpStatus >= http.StatusInternalServerError {
		err = k.repo.MarkFailed(ctx, key, body, httpStatus)
	} else {
		err = k.repo.MarkDone(ctx, key, body, httpStatus)
	}
	if err != nil {
		k.logger.WithError(err).WithField("idempotency_key", key).Warn("failed to store idempotent response")
	}
}

// RequestHash: SHA-256 от метода, маршрута и тела запроса.
func RequestHash(method, route string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(method))
	h.Write([]byte{0})
	h.Write([]byte(route))
	h.Write([]byte{0})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

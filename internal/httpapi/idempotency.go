package httpapi

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/auth"
	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/idempotency"
)

const (
	idempotencyHeader = "Idempotency-Key"
	replayHeader      = "Idempotent-Replayed"
	maxIdempotencyKey = 128

	// completeTimeout ограничивает сохранение ответа после того, как обработчик завершился.
	completeTimeout = 5 * time.Second
)

// responseRecorder дублирует ответ обработчика, чтобы сохранить его для повторов.
type responseRecorder struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (rec *responseRecorder) WriteHeader(status int) {
	if rec.status == 0 {
		rec.status = status
	}
	rec.ResponseWriter.WriteHeader(status)
}

func (rec *responseRecorder) Write(p []byte) (int, error) {
	if rec.status == 0 {
		rec.status = http.StatusOK
	}
	rec.body.Write(p)
	return rec.ResponseWriter.Write(p)
}

// idempotent оборачивает POST-обработчик: запрос с Idempotency-Key выполняется
// один раз, повтор с тем же телом получает сохранённый ответ.
func (a *API) idempotent(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rawKey := strings.TrimSpace(r.Header.Get(idempotencyHeader))
		if rawKey == "" || a.keeper == nil {
			next(w, r)
			return
		}
		if len(rawKey) > maxIdempotencyKey {
			a.writeError(w, r, domain.ErrInvalidInput)
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			a.writeError(w, r, domain.ErrInvalidInput)
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		user, _ := auth.UserFrom(r.Context())
		key := domain.ScopedIdempotencyKey(user.ID, route, rawKey)

		claim, err := a.keeper.Begin(r.Context(), key, idempotency.RequestHash(r.Method, route, body))
		if err != nil {
			a.writeError(w, r, err)
			return
		}
		if claim.Replay {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set(replayHeader, "true")
			w.WriteHeader(claim.Record.HTTPStatus)
			_, _ = w.Write(claim.Record.ResponseBody)
			return
		}

		rec := &responseRecorder{ResponseWriter: w}
		next(rec, r)

		status := rec.status
		if status == 0 {
			status = http.StatusOK
		}
		// Клиент мог отключиться, но ответ нужен повторам с тем же ключом.
		ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), completeTimeout)
		defer cancel()
		a.keeper.Complete(ctx, key, status, rec.body.Bytes())
	}
}

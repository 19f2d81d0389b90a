package domain

import (
	"strings"
	"time"
)

// IdempotencyStatus описывает жизненный цикл ключа идемпотентности.
type IdempotencyStatus string

const (
	// IdempotencyStatusProcessing означает, что запрос принят и ещё обрабатывается.
	IdempotencyStatusProcessing IdempotencyStatus = "processing"
	// IdempotencyStatusDone означает, что запрос завершён и ответ сохранён.
	IdempotencyStatusDone IdempotencyStatus = "done"
	// IdempotencyStatusFailed означает, что обработка завершилась ошибкой.
	IdempotencyStatusFailed IdempotencyStatus = "failed"
)

// IdempotencyRecord хранит состояние обработки запроса с Idempotency-Key.
type IdempotencyRecord struct {
	Key          string
	RequestHash  string
	ResponseBody []byte
	HTTPStatus   int
	Status       IdempotencyStatus
	TTLAt        time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s IdempotencyStatus) Valid() bool {
	switch s {
	case IdempotencyStatusProcessing, IdempotencyStatusDone, IdempotencyStatusFailed:
		return true
	default:
		return false
	}
}

// Replayable сообщает, можно ли вернуть сохранённый ответ повторному запросу.
func (r IdempotencyRecord) Replayable() bool {
	return r.Status != IdempotencyStatusProcessing && r.HTTPStatus > 0
}

// ScopedIdempotencyKey привязывает клиентский ключ к пользователю и маршруту,
// чтобы разные покупатели не пересекались.
func ScopedIdempotencyKey(userID, route, key string) string {
	return strings.Join([]string{userID, route, strings.TrimSpace(key)}, ":")
}

package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/payment"
)

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Details any    `json:"details,omitempty"`
}

type shortageBody struct {
	ProductID string `json:"productId"`
	Needed    int    `json:"needed"`
	Available int    `json:"available"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(body)
}

// writeError: единственное место, где доменные ошибки превращаются в HTTP-ответы.
// Сырые ошибки хранилища и провайдеров клиенту не отдаются.
func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := classify(err)

	entry := a.logger.WithError(err).WithFields(log.Fields{
		"request_id": middleware.GetReqID(r.Context()),
		"method":     r.Method,
		"path":       r.URL.Path,
		"status":     status,
	})
	if perr, ok := payment.AsProviderError(err); ok && perr.Raw != "" {
		entry = entry.WithField("raw_response", perr.Raw)
	}
	if status >= http.StatusInternalServerError {
		entry.Error("request failed")
	} else {
		entry.Info("request rejected")
	}

	writeJSON(w, status, body)
}

func classify(err error) (int, errorBody) {
	if shortage, ok := domain.AsInsufficientStock(err); ok {
		details := make([]shortageBody, 0, len(shortage.Shortages))
		for _, s := range shortage.Shortages {
			details = append(details, shortageBody{ProductID: s.ProductID, Needed: s.Needed, Available: s.Available})
		}
		return http.StatusConflict, errorBody{Error: "insufficient_stock", Message: shortage.Error(), Details: details}
	}
	if perr, ok := payment.AsProviderError(err); ok {
		details := perr.Detail
		if details == "" {
			details = "payment provider did not return a usable response"
		}
		return http.StatusBadGateway, errorBody{Error: "payment_provider_error", Details: details}
	}

	switch {
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized, errorBody{Error: "unauthorized"}
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden, errorBody{Error: "forbidden"}
	case errors.Is(err, domain.ErrOrderNotFound):
		return http.StatusNotFound, errorBody{Error: "not_found", Message: "order not found"}
	case errors.Is(err, domain.ErrProductNotFound):
		return http.StatusNotFound, errorBody{Error: "not_found", Message: "product not found"}
	case errors.Is(err, domain.ErrOrderNotPending):
		return http.StatusConflict, errorBody{Error: "order_not_pending", Message: err.Error()}
	case errors.Is(err, domain.ErrIdempotencyHashMismatch):
		return http.StatusUnprocessableEntity, errorBody{Error: "idempotency_key_reused", Message: "idempotency key was used with a different request"}
	case errors.Is(err, domain.ErrIdempotencyKeyAlreadyExists):
		return http.StatusConflict, errorBody{Error: "request_in_progress", Message: "a request with this idempotency key is still in progress"}
	case errors.Is(err, domain.ErrSupportUnavailable):
		return http.StatusServiceUnavailable, errorBody{Error: "support_unavailable"}
	case domain.IsInvalidInput(err):
		return http.StatusBadRequest, errorBody{Error: "invalid_input", Message: err.Error()}
	case errors.Is(err, domain.ErrStoreUnavailable):
		return http.StatusInternalServerError, errorBody{Error: "store_unavailable"}
	default:
		return http.StatusInternalServerError, errorBody{Error: "internal_error"}
	}
}

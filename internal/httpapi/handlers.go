package httpapi

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/vladislavdragonenkov/storefront/internal/auth"
	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/checkout"
	"github.com/vladislavdragonenkov/storefront/internal/service/ledger"
	"github.com/vladislavdragonenkov/storefront/internal/service/payment"
	"github.com/vladislavdragonenkov/storefront/internal/service/support"
)

const (
	maxOrdersPerPage  = 50
	maxSupportHistory = 200
)

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *API) handleCheckoutSession(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFrom(r.Context())

	var req cartRequest
	if err := decodeBody(r, cartSchema, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	items := req.orderItems()

	session, err := a.checkout.StartHosted(r.Context(), checkout.Cart{
		User:  user,
		Items: items,
		Total: req.total(items),
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(session))
}

func (a *API) handleDirectPayment(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFrom(r.Context())

	var req directPaymentRequest
	if err := decodeBody(r, directSchema, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	items := req.orderItems()

	session, err := a.checkout.StartDirect(r.Context(), checkout.DirectRequest{
		Cart: checkout.Cart{
			User:  user,
			Items: items,
			Total: req.total(items),
		},
		Card:    req.card(),
		Billing: req.billing(),
		Device: payment.Device{
			UserAgent:      r.UserAgent(),
			IP:             remoteIP(r),
			AcceptLanguage: r.Header.Get("Accept-Language"),
		},
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(session))
}

func toSessionResponse(s checkout.Session) sessionResponse {
	if s.Simulated {
		return sessionResponse{Simulate: true, OrderID: s.OrderID}
	}
	return sessionResponse{URL: s.RedirectURL, OrderID: s.OrderID}
}

// handleCreateOrder: ручное создание заказа без провайдера.
// status=paid (по умолчанию) сразу списывает остатки.
func (a *API) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFrom(r.Context())

	var req createOrderRequest
	if err := decodeBody(r, orderSchema, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	items := req.orderItems()
	email := strings.TrimSpace(req.Email)
	if email == "" {
		email = user.Email
	}
	in := ledger.NewOrder{
		UserID:   user.ID,
		Email:    email,
		Items:    items,
		Total:    req.total(items),
		Provider: domain.PaymentProviderManual,
	}

	var (
		order domain.Order
		err   error
	)
	if req.Status == string(domain.OrderStatusPending) {
		order, err = a.ledger.CreatePending(r.Context(), in)
	} else {
		order, err = a.ledger.CreatePaidDirectly(r.Context(), in)
	}
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, idResponse{ID: order.ID, Status: string(order.Status)})
}

func (a *API) handleMarkPaid(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFrom(r.Context())

	order, err := a.receiver.OnReturn(r.Context(), user, chi.URLParam(r, "id"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, idResponse{ID: order.ID, Status: string(order.Status)})
}

// handleWebhook всегда отвечает 200 "success": провайдеру не важен результат
// применения, а повторы только множат шум.
func (a *API) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		a.logger.WithError(err).Warn("failed to read payment notification body")
	} else {
		_ = a.receiver.Receive(r.Context(), r.Header.Get("Content-Type"), r.Header, body)
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, "success")
}

func (a *API) handleMyOrders(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFrom(r.Context())

	orders, err := a.ledger.ListByUser(r.Context(), user.ID, maxOrdersPerPage)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	resp := make([]orderResponse, 0, len(orders))
	for _, o := range orders {
		resp = append(resp, toOrderResponse(o))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleListProducts(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFrom(r.Context())

	products, err := a.products.List(r.Context(), domain.ProductFilter{
		IncludeHidden: a.admins.IsAdmin(user),
	})
	if err != nil {
		a.writeError(w, r, fmt.Errorf("%w: list products: %v", domain.ErrStoreUnavailable, err))
		return
	}
	resp := make([]productDTO, 0, len(products))
	for _, p := range products {
		resp = append(resp, toProductDTO(p))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleSeedProducts(w http.ResponseWriter, r *http.Request) {
	var req seedRequest
	if err := decodeBody(r, nil, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	if len(req.Products) == 0 {
		a.writeError(w, r, fmt.Errorf("%w: products are required", domain.ErrInvalidInput))
		return
	}

	products := make([]domain.Product, 0, len(req.Products))
	for _, p := range req.Products {
		if strings.TrimSpace(p.ID) == "" || strings.TrimSpace(p.Name) == "" {
			a.writeError(w, r, fmt.Errorf("%w: product id and name are required", domain.ErrInvalidInput))
			return
		}
		products = append(products, p.toDomain())
	}

	n, err := a.products.Upsert(r.Context(), products)
	if err != nil {
		a.writeError(w, r, fmt.Errorf("%w: seed products: %v", domain.ErrStoreUnavailable, err))
		return
	}
	a.logger.WithField("count", n).Info("products seeded")
	writeJSON(w, http.StatusOK, map[string]int{"upserted": n})
}

func (a *API) handleProfileSync(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFrom(r.Context())

	profile, err := a.profiles.Upsert(r.Context(), domain.Profile{
		ID:          user.ID,
		Email:       user.Email,
		DisplayName: displayName(user.Email),
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profileResponse{
		ID:          profile.ID,
		Email:       profile.Email,
		DisplayName: profile.DisplayName,
		UpdatedAt:   profile.UpdatedAt,
	})
}

func (a *API) handleListSupportMessages(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFrom(r.Context())

	limit := maxSupportHistory
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			a.writeError(w, r, fmt.Errorf("%w: limit must be a positive integer", domain.ErrInvalidInput))
			return
		}
		limit = min(n, maxSupportHistory)
	}

	msgs, err := a.support.List(r.Context(), user, limit)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	resp := make([]supportMessageResponse, 0, len(msgs))
	for _, m := range msgs {
		resp = append(resp, toSupportMessageResponse(m))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleAppendSupportMessage(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFrom(r.Context())

	var req supportMessageRequest
	if err := decodeBody(r, supportMessageSchema, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	msg, err := a.support.Append(r.Context(), user, domain.SupportRole(req.Role), req.Text)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSupportMessageResponse(msg))
}

func (a *API) handleSupportReply(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFrom(r.Context())

	var req supportReplyRequest
	if err := decodeBody(r, supportReplySchema, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	turns := make([]support.Turn, 0, len(req.Messages))
	for _, m := range req.Messages {
		turns = append(turns, support.Turn{Role: domain.SupportRole(m.Role), Text: m.Text})
	}

	msg, err := a.support.Reply(r.Context(), user, turns)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, supportReplyResponse{Reply: msg.Text, Message: toSupportMessageResponse(msg)})
}

package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/platform/auth"
	"github.com/storefront/api/internal/platform/httpx"
	"github.com/storefront/api/internal/platform/pagination"
	"github.com/storefront/api/internal/services"
)

const (
	maxOrderCancelBodySize = 4 * 1024
	guestLookupLimit       = 10
	guestLookupWindow      = time.Minute
)

type cancelOrderRequest struct {
	Reason string `json:"reason"`
}

// OrderHandlers serves order history and customer cancellation.
type OrderHandlers struct {
	authn   *auth.Authenticator
	orders  services.OrderService
	limiter rateLimiter
}

// OrderOption customises OrderHandlers.
type OrderOption func(*OrderHandlers)

// WithGuestLookupRateLimit bounds /orders:lookup calls per caller. A zero limit disables it.
func WithGuestLookupRateLimit(limit int, window time.Duration, clock func() time.Time) OrderOption {
	return func(h *OrderHandlers) {
		h.limiter = newKeyedLimiter(limit, window, clock)
	}
}

// NewOrderHandlers constructs order endpoints. Guest lookups are limited to 10 per minute by
// default.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService, opts ...OrderOption) *OrderHandlers {
	h := &OrderHandlers{
		authn:   authn,
		orders:  orders,
		limiter: newKeyedLimiter(guestLookupLimit, guestLookupWindow, nil),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers /orders and /orders:lookup on the API router.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Group(func(g chi.Router) {
		if h.authn != nil {
			g.Use(h.authn.Optional())
		}
		g.Get("/orders", h.listOrders)
		g.Get("/orders:lookup", h.lookupGuestOrders)
		g.Get("/orders/{orderId}", h.getOrder)
		g.Post("/orders/{orderId}:cancel", h.cancelOrder)
	})
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeOrdersUnavailable(w, r)
		return
	}
	identity := currentIdentity(ctx)
	if identity == nil {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}
	page, ok := parsePage(w, r)
	if !ok {
		return
	}
	result, err := h.orders.ListUserOrders(ctx, identity.UID, page)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildOrderList(result))
}

// lookupGuestOrders lists orders placed as a guest with the given email. Staff see every match,
// a signed-in shopper sees matches for their own verified email, and a guest sees only orders
// placed under their token.
func (h *OrderHandlers) lookupGuestOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeOrdersUnavailable(w, r)
		return
	}
	email := strings.TrimSpace(r.URL.Query().Get("email"))
	if email == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "email is required", http.StatusBadRequest))
		return
	}

	identity := currentIdentity(ctx)
	guestToken := strings.TrimSpace(r.Header.Get(GuestTokenHeader))
	var guestID string
	switch {
	case isStaff(identity):
	case identity != nil && identity.Email != "" && strings.EqualFold(identity.Email, email):
	case identity == nil && services.ValidGuestToken(guestToken):
		guestID = guestToken
	default:
		httpx.WriteError(ctx, w, httpx.NewError("access_denied", "a guest token or matching account is required", http.StatusForbidden))
		return
	}

	if !isStaff(identity) && h.limiter != nil {
		if allowed, wait := h.limiter.Allow(lookupKey(identity, guestToken)); !allowed {
			w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(wait)))
			httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many lookups; retry later", http.StatusTooManyRequests))
			return
		}
	}

	page, ok := parsePage(w, r)
	if !ok {
		return
	}
	result, err := h.orders.ListGuestOrders(ctx, email, guestID, page)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildOrderList(result))
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeOrdersUnavailable(w, r)
		return
	}
	viewer := orderViewer(r)
	order, err := h.orders.GetOrder(ctx, chi.URLParam(r, "orderId"), viewer)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order, viewer.Privileged)})
}

func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeOrdersUnavailable(w, r)
		return
	}
	var req cancelOrderRequest
	if err := httpx.DecodeJSON(r, maxOrderCancelBodySize, &req); err != nil && !errors.Is(err, httpx.ErrEmptyBody) {
		httpx.WriteDecodeError(w, r, err)
		return
	}
	viewer := orderViewer(r)
	if !viewer.Identity.Valid() && viewer.Email == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "sign in or present a guest token to cancel", http.StatusUnauthorized))
		return
	}
	order, err := h.orders.Cancel(ctx, services.CancelOrderCommand{
		OrderID: chi.URLParam(r, "orderId"),
		Reason:  req.Reason,
		Viewer:  viewer,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order, viewer.Privileged)})
}

// orderViewer describes the caller for ownership checks. Staff are privileged; guests are
// identified by their token or by the email the order was placed with.
func orderViewer(r *http.Request) services.OrderViewer {
	viewer := services.OrderViewer{Email: strings.TrimSpace(r.URL.Query().Get("email"))}
	if identity := currentIdentity(r.Context()); identity != nil {
		viewer.Identity = domain.UserIdentity(identity.UID)
		viewer.Privileged = isStaff(identity)
		return viewer
	}
	if token := strings.TrimSpace(r.Header.Get(GuestTokenHeader)); services.ValidGuestToken(token) {
		viewer.Identity = domain.GuestIdentity(token)
	}
	return viewer
}

func parsePage(w http.ResponseWriter, r *http.Request) (domain.Pagination, bool) {
	page, err := pagination.FromRequest(r, pagination.Limits{})
	if err != nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return domain.Pagination{}, false
	}
	return page, true
}

func lookupKey(identity *auth.Identity, guestToken string) string {
	if identity != nil {
		return "user:" + identity.UID
	}
	return "guest:" + guestToken
}

func writeOrdersUnavailable(w http.ResponseWriter, r *http.Request) {
	httpx.WriteError(r.Context(), w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
}

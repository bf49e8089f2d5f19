package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/platform/auth"
	"github.com/storefront/api/internal/platform/httpx"
	"github.com/storefront/api/internal/platform/textutil"
	"github.com/storefront/api/internal/services"
)

const maxAdminOrderBodySize = 8 * 1024

// AdminOrderHandlers lets staff drive the order status machine.
type AdminOrderHandlers struct {
	authn  *auth.Authenticator
	orders services.OrderService
}

// NewAdminOrderHandlers requires a staff or admin role on every route.
func NewAdminOrderHandlers(authn *auth.Authenticator, orders services.OrderService) *AdminOrderHandlers {
	return &AdminOrderHandlers{authn: authn, orders: orders}
}

// Routes wires the /admin/orders endpoints.
func (h *AdminOrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.Require(auth.RoleStaff, auth.RoleAdmin))
	}
	r.Get("/orders", h.listOrders)
	r.Get("/orders/{orderId}", h.getOrder)
	r.Post("/orders/{orderId}:status", h.updateStatus)
	r.Post("/orders/{orderId}:payment", h.updatePayment)
	r.Post("/orders/{orderId}:cancel", h.cancelOrder)
}

type adminStatusRequest struct {
	Status         string `json:"status"`
	Reason         string `json:"reason"`
	TrackingNumber string `json:"tracking_number"`
}

type adminPaymentRequest struct {
	Status  string            `json:"status"`
	Details map[string]string `json:"details"`
}

type adminCancelRequest struct {
	Reason string `json:"reason"`
}

// listOrders filters by user_id or by guest email; exactly one is required.
func (h *AdminOrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeOrdersUnavailable(w, r)
		return
	}
	query := r.URL.Query()
	userID := strings.TrimSpace(query.Get("user_id"))
	email := strings.TrimSpace(query.Get("email"))
	if (userID == "") == (email == "") {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "provide exactly one of user_id or email", http.StatusBadRequest))
		return
	}
	page, ok := parsePage(w, r)
	if !ok {
		return
	}

	var (
		result domain.CursorPage[domain.Order]
		err    error
	)
	if userID != "" {
		result, err = h.orders.ListUserOrders(ctx, userID, page)
	} else {
		result, err = h.orders.ListGuestOrders(ctx, email, "", page)
	}
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildOrderList(result))
}

func (h *AdminOrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeOrdersUnavailable(w, r)
		return
	}
	order, err := h.orders.GetOrder(ctx, chi.URLParam(r, "orderId"), h.staffViewer(r))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order, true)})
}

func (h *AdminOrderHandlers) updateStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeOrdersUnavailable(w, r)
		return
	}
	var req adminStatusRequest
	if err := httpx.DecodeJSON(r, maxAdminOrderBodySize, &req); err != nil {
		httpx.WriteDecodeError(w, r, err)
		return
	}
	status, ok := domain.ParseOrderStatus(req.Status)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "status is not a known order status", http.StatusBadRequest).
			WithDetails(map[string]any{"fields": []string{"status"}}))
		return
	}
	order, err := h.orders.UpdateStatus(ctx, services.UpdateOrderStatusCommand{
		OrderID:        chi.URLParam(r, "orderId"),
		Status:         status,
		ActorID:        actorID(r),
		Reason:         req.Reason,
		TrackingNumber: req.TrackingNumber,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order, true)})
}

func (h *AdminOrderHandlers) updatePayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeOrdersUnavailable(w, r)
		return
	}
	var req adminPaymentRequest
	if err := httpx.DecodeJSON(r, maxAdminOrderBodySize, &req); err != nil {
		httpx.WriteDecodeError(w, r, err)
		return
	}
	status, ok := domain.ParsePaymentStatus(req.Status)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "status is not a known payment status", http.StatusBadRequest).
			WithDetails(map[string]any{"fields": []string{"status"}}))
		return
	}
	order, err := h.orders.UpdatePaymentStatus(ctx, services.UpdatePaymentStatusCommand{
		OrderID: chi.URLParam(r, "orderId"),
		Status:  status,
		Details: textutil.SanitizeDetails(req.Details),
		ActorID: actorID(r),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order, true)})
}

func (h *AdminOrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeOrdersUnavailable(w, r)
		return
	}
	var req adminCancelRequest
	if err := httpx.DecodeJSON(r, maxAdminOrderBodySize, &req); err != nil && !errors.Is(err, httpx.ErrEmptyBody) {
		httpx.WriteDecodeError(w, r, err)
		return
	}
	order, err := h.orders.Cancel(ctx, services.CancelOrderCommand{
		OrderID: chi.URLParam(r, "orderId"),
		Reason:  req.Reason,
		Viewer:  h.staffViewer(r),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order, true)})
}

func (h *AdminOrderHandlers) staffViewer(r *http.Request) services.OrderViewer {
	viewer := services.OrderViewer{Privileged: true}
	if identity := currentIdentity(r.Context()); identity != nil {
		viewer.Identity = domain.UserIdentity(identity.UID)
	}
	return viewer
}

func actorID(r *http.Request) string {
	if identity := currentIdentity(r.Context()); identity != nil {
		return domain.UserIdentity(identity.UID).String()
	}
	return "staff"
}

package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/platform/httpx"
	"github.com/storefront/api/internal/platform/textutil"
	"github.com/storefront/api/internal/services"
)

const (
	maxWebhookBodySize  = 32 * 1024
	paymentWebhookActor = "payments-webhook"
)

// WebhookHandlers receives signed payment notifications. Signature checks run in the router's
// webhook middleware group.
type WebhookHandlers struct {
	orders services.OrderService
}

// NewWebhookHandlers constructs webhook endpoints.
func NewWebhookHandlers(orders services.OrderService) *WebhookHandlers {
	return &WebhookHandlers{orders: orders}
}

// Routes wires the /webhooks group.
func (h *WebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/payments", h.paymentEvent)
}

type paymentWebhookRequest struct {
	OrderID string            `json:"order_id"`
	Status  string            `json:"status"`
	Details map[string]string `json:"details"`
}

type paymentWebhookResponse struct {
	OrderID       string `json:"order_id"`
	PaymentStatus string `json:"payment_status"`
}

// paymentEvent applies a provider status. Repeated deliveries of the current status succeed
// without changing the order.
func (h *WebhookHandlers) paymentEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeOrdersUnavailable(w, r)
		return
	}
	var req paymentWebhookRequest
	if err := httpx.DecodeJSON(r, maxWebhookBodySize, &req); err != nil {
		httpx.WriteDecodeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.OrderID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order_id is required", http.StatusBadRequest))
		return
	}
	status, ok := domain.ParsePaymentStatus(req.Status)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "status is not a known payment status", http.StatusBadRequest))
		return
	}

	order, err := h.orders.UpdatePaymentStatus(ctx, services.UpdatePaymentStatusCommand{
		OrderID: strings.TrimSpace(req.OrderID),
		Status:  status,
		Details: textutil.SanitizeDetails(req.Details),
		ActorID: paymentWebhookActor,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, paymentWebhookResponse{OrderID: order.ID, PaymentStatus: string(order.PaymentStatus)})
}

package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/storefront/api/internal/platform/auth"
	"github.com/storefront/api/internal/platform/httpx"
	"github.com/storefront/api/internal/platform/requestctx"
	"github.com/storefront/api/internal/services"
)

const (
	defaultSweepLimit      = 200
	maxSweepLimit          = 1000
	maxInternalRequestBody = 1024
)

// InternalHandlers exposes maintenance endpoints for schedulers. Authentication is applied by
// the router's internal middleware group.
type InternalHandlers struct {
	sweeper services.CartSweeper
}

// NewInternalHandlers constructs the internal endpoints.
func NewInternalHandlers(sweeper services.CartSweeper) *InternalHandlers {
	return &InternalHandlers{sweeper: sweeper}
}

// Routes wires the /internal group.
func (h *InternalHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/carts:sweep", h.sweepCarts)
}

type sweepRequest struct {
	Limit int `json:"limit"`
}

type sweepResponse struct {
	Abandoned int `json:"abandoned"`
	Limit     int `json:"limit"`
}

func (h *InternalHandlers) sweepCarts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.sweeper == nil {
		httpx.WriteError(ctx, w, httpx.NewError("sweeper_unavailable", "cart sweeper is unavailable", http.StatusServiceUnavailable))
		return
	}
	var req sweepRequest
	if err := httpx.DecodeJSON(r, maxInternalRequestBody, &req); err != nil && !errors.Is(err, httpx.ErrEmptyBody) {
		httpx.WriteDecodeError(w, r, err)
		return
	}
	limit := req.Limit
	switch {
	case limit <= 0:
		limit = defaultSweepLimit
	case limit > maxSweepLimit:
		limit = maxSweepLimit
	}

	count, err := h.sweeper.SweepExpired(ctx, limit)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	fields := []zap.Field{zap.Int("abandoned", count), zap.Int("limit", limit)}
	if caller, ok := auth.ServiceIdentityFromContext(ctx); ok {
		fields = append(fields, zap.String("caller", caller.Email))
	}
	requestctx.Logger(ctx).Info("cart sweep triggered", fields...)
	httpx.WriteJSON(w, http.StatusOK, sweepResponse{Abandoned: count, Limit: limit})
}

package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/platform/auth"
	"github.com/storefront/api/internal/platform/httpx"
	"github.com/storefront/api/internal/platform/requestctx"
	"github.com/storefront/api/internal/services"
)

// GuestTokenHeader carries the anonymous shopper token in both directions.
const GuestTokenHeader = "X-Guest-Token"

// ownerResolver turns the request into the cart or order owner.
type ownerResolver struct {
	identities *services.IdentityResolver
}

func newOwnerResolver(identities *services.IdentityResolver) ownerResolver {
	if identities == nil {
		identities = services.NewIdentityResolver(nil)
	}
	return ownerResolver{identities: identities}
}

// resolve prefers the authenticated user. Guests get their token echoed back, or a fresh one
// when theirs was missing or malformed.
func (o ownerResolver) resolve(w http.ResponseWriter, r *http.Request) (domain.Identity, bool) {
	ctx := r.Context()
	var uid string
	if identity, ok := auth.IdentityFromContext(ctx); ok && identity != nil {
		uid = identity.UID
	}
	resolved, err := o.identities.Resolve(uid, strings.TrimSpace(r.Header.Get(GuestTokenHeader)))
	if err != nil {
		requestctx.Logger(ctx).Error("resolve shopper identity", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("identity_unavailable", "unable to resolve shopper identity", http.StatusServiceUnavailable))
		return domain.Identity{}, false
	}
	if resolved.Identity.IsGuest() {
		w.Header().Set(GuestTokenHeader, resolved.Identity.ID)
	}
	return resolved.Identity, true
}

func currentIdentity(ctx context.Context) *auth.Identity {
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		return nil
	}
	return identity
}

func isStaff(identity *auth.Identity) bool {
	return identity.IsStaff()
}

// writeServiceError maps the service error taxonomy onto HTTP responses. Specialised errors are
// checked before the kind they wrap.
func writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	var (
		validation  *services.ValidationError
		missing     *services.NotFoundError
		unavailable *services.ProductUnavailableError
	)
	switch {
	case errors.Is(err, services.ErrEmptyCart):
		httpx.WriteError(ctx, w, httpx.NewError("cart_empty", "cart has no items", http.StatusBadRequest))
	case errors.As(err, &validation):
		e := httpx.NewError("invalid_request", validation.Message, http.StatusBadRequest)
		if len(validation.Fields) > 0 {
			e = e.WithDetails(map[string]any{"fields": validation.Fields})
		}
		httpx.WriteError(ctx, w, e)
	case errors.Is(err, services.ErrValidation):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.As(err, &missing):
		code := strings.ReplaceAll(missing.Resource, " ", "_") + "_not_found"
		httpx.WriteError(ctx, w, httpx.NewError(code, missing.Error(), http.StatusNotFound))
	case errors.Is(err, services.ErrNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("not_found", "resource not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCannotCancel):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_cancellable", "order can no longer be cancelled", http.StatusConflict))
	case errors.Is(err, services.ErrInvalidTransition):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_transition", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrDuplicateCoupon):
		httpx.WriteError(ctx, w, httpx.NewError("coupon_already_applied", "coupon is already applied to the cart", http.StatusConflict))
	case errors.Is(err, services.ErrCartConverted):
		httpx.WriteError(ctx, w, httpx.NewError("cart_converted", "cart has already been checked out", http.StatusConflict))
	case errors.Is(err, services.ErrCartInactive):
		httpx.WriteError(ctx, w, httpx.NewError("cart_inactive", "cart is no longer active", http.StatusConflict))
	case errors.Is(err, services.ErrConflict):
		httpx.WriteError(ctx, w, httpx.NewError("conflict", "resource was modified concurrently; retry", http.StatusConflict))
	case errors.Is(err, services.ErrCounterExhausted):
		httpx.WriteError(ctx, w, httpx.NewError("order_number_exhausted", "no order numbers left for today", http.StatusServiceUnavailable))
	case errors.As(err, &unavailable):
		httpx.WriteError(ctx, w, httpx.NewError("product_unavailable", unavailable.Error(), http.StatusUnprocessableEntity).
			WithDetails(map[string]any{"product_ref": unavailable.ProductRef}))
	case errors.Is(err, services.ErrUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("unavailable", err.Error(), http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrAccessDenied):
		httpx.WriteError(ctx, w, httpx.NewError("access_denied", "not allowed to access this resource", http.StatusForbidden))
	default:
		requestctx.Logger(ctx).Error("service call failed", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "service temporarily unavailable", http.StatusServiceUnavailable))
	}
}

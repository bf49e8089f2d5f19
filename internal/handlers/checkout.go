package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/platform/auth"
	"github.com/storefront/api/internal/platform/httpx"
	"github.com/storefront/api/internal/services"
)

const (
	maxCheckoutBodySize  = 64 * 1024
	maxCheckoutLineItems = 100
)

// CheckoutHandlers turns carts or explicit item lists into orders.
type CheckoutHandlers struct {
	authn       *auth.Authenticator
	owners      ownerResolver
	checkout    services.CheckoutService
	idempotency func(http.Handler) http.Handler
}

// CheckoutOption customises CheckoutHandlers.
type CheckoutOption func(*CheckoutHandlers)

// WithCheckoutIdempotency installs the replay guard in front of both checkout endpoints. It runs
// after authentication so keys can be scoped to the caller.
func WithCheckoutIdempotency(mw func(http.Handler) http.Handler) CheckoutOption {
	return func(h *CheckoutHandlers) {
		h.idempotency = mw
	}
}

// NewCheckoutHandlers constructs checkout endpoints for users and guests.
func NewCheckoutHandlers(authn *auth.Authenticator, identities *services.IdentityResolver, checkout services.CheckoutService, opts ...CheckoutOption) *CheckoutHandlers {
	h := &CheckoutHandlers{
		authn:    authn,
		owners:   newOwnerResolver(identities),
		checkout: checkout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes wires the /checkout group.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.Optional())
	}
	if h.idempotency != nil {
		r.Use(h.idempotency)
	}
	r.Post("/cart", h.checkoutCart)
	r.Post("/items", h.checkoutItems)
}

type checkoutRequest struct {
	CartID          string          `json:"cart_id"`
	ShippingAddress addressRequest  `json:"shipping_address"`
	BillingAddress  *addressRequest `json:"billing_address"`
	PaymentMethod   string          `json:"payment_method"`
	Notes           string          `json:"notes"`
	Email           string          `json:"email"`
}

type checkoutItemRequest struct {
	ProductRef string            `json:"product_ref"`
	Quantity   int               `json:"quantity"`
	Options    map[string]string `json:"options"`
	UnitPrice  *moneyRequest     `json:"unit_price"`
}

type checkoutItemsRequest struct {
	Items           []checkoutItemRequest `json:"items"`
	Coupons         []couponRequest       `json:"coupons"`
	ShippingAddress addressRequest        `json:"shipping_address"`
	BillingAddress  *addressRequest       `json:"billing_address"`
	PaymentMethod   string                `json:"payment_method"`
	Notes           string                `json:"notes"`
	Email           string                `json:"email"`
}

func (h *CheckoutHandlers) checkoutCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		writeCheckoutUnavailable(w, r)
		return
	}
	var req checkoutRequest
	if err := httpx.DecodeJSON(r, maxCheckoutBodySize, &req); err != nil {
		httpx.WriteDecodeError(w, r, err)
		return
	}
	owner, ok := h.owners.resolve(w, r)
	if !ok {
		return
	}

	order, err := h.checkout.CreateFromCart(ctx, services.CreateOrderFromCartCommand{
		CartRef:         services.CartRef{Owner: owner, CartID: strings.TrimSpace(req.CartID)},
		CheckoutDetails: checkoutDetails(r, req.ShippingAddress, req.BillingAddress, req.PaymentMethod, req.Notes, req.Email),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeCreatedOrder(w, order)
}

func (h *CheckoutHandlers) checkoutItems(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		writeCheckoutUnavailable(w, r)
		return
	}
	var req checkoutItemsRequest
	if err := httpx.DecodeJSON(r, maxCheckoutBodySize, &req); err != nil {
		httpx.WriteDecodeError(w, r, err)
		return
	}
	if len(req.Items) == 0 {
		httpx.WriteError(ctx, w, httpx.NewError("cart_empty", "at least one item is required", http.StatusBadRequest))
		return
	}
	if len(req.Items) > maxCheckoutLineItems {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "too many line items", http.StatusBadRequest))
		return
	}

	staff := isStaff(currentIdentity(ctx))
	items := make([]services.CheckoutItem, 0, len(req.Items))
	for _, item := range req.Items {
		if item.UnitPrice != nil && !staff {
			httpx.WriteError(ctx, w, httpx.NewError("price_override_forbidden", "only staff may set an explicit unit price", http.StatusForbidden))
			return
		}
		price, err := item.UnitPrice.toDomain()
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
			return
		}
		items = append(items, services.CheckoutItem{
			ProductRef: strings.TrimSpace(item.ProductRef),
			Quantity:   item.Quantity,
			Options:    domain.NewSelectedOptions(item.Options),
			UnitPrice:  price,
		})
	}
	coupons := make([]services.CheckoutCoupon, 0, len(req.Coupons))
	for _, coupon := range req.Coupons {
		amount, err := coupon.amount()
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
			return
		}
		coupons = append(coupons, services.CheckoutCoupon{Code: coupon.Code, DiscountAmount: amount})
	}

	owner, ok := h.owners.resolve(w, r)
	if !ok {
		return
	}
	order, err := h.checkout.CreateFromItems(ctx, services.CreateOrderFromItemsCommand{
		Owner:           owner,
		Items:           items,
		Coupons:         coupons,
		CheckoutDetails: checkoutDetails(r, req.ShippingAddress, req.BillingAddress, req.PaymentMethod, req.Notes, req.Email),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeCreatedOrder(w, order)
}

// checkoutDetails falls back to the token email for signed-in shoppers.
func checkoutDetails(r *http.Request, shipping addressRequest, billing *addressRequest, method, notes, email string) services.CheckoutDetails {
	details := services.CheckoutDetails{
		ShippingAddress: shipping.toDomain(),
		PaymentMethod:   method,
		Notes:           notes,
		Email:           strings.TrimSpace(email),
	}
	if billing != nil {
		addr := billing.toDomain()
		details.BillingAddress = &addr
	}
	if details.Email == "" {
		if identity := currentIdentity(r.Context()); identity != nil {
			details.Email = identity.Email
		}
	}
	return details
}

func writeCreatedOrder(w http.ResponseWriter, order domain.Order) {
	w.Header().Set("Location", defaultAPIPrefix+"/orders/"+order.ID)
	httpx.WriteJSON(w, http.StatusCreated, orderResponse{Order: buildOrderPayload(order, false)})
}

func writeCheckoutUnavailable(w http.ResponseWriter, r *http.Request) {
	httpx.WriteError(r.Context(), w, httpx.NewError("checkout_unavailable", "checkout service is unavailable", http.StatusServiceUnavailable))
}

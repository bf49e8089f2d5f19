package handlers

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/platform/auth"
	"github.com/storefront/api/internal/platform/httpx"
	"github.com/storefront/api/internal/services"
)

const maxCartBodySize = 16 * 1024

// CartHandlers exposes the cart of the calling user or guest.
type CartHandlers struct {
	authn  *auth.Authenticator
	owners ownerResolver
	carts  services.CartService
}

// NewCartHandlers wires the cart service behind optional authentication. Requests without a
// bearer token are served as guests keyed by X-Guest-Token.
func NewCartHandlers(authn *auth.Authenticator, identities *services.IdentityResolver, carts services.CartService) *CartHandlers {
	return &CartHandlers{
		authn:  authn,
		owners: newOwnerResolver(identities),
		carts:  carts,
	}
}

// Routes registers /cart and /cart:merge on the API router.
func (h *CartHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Group(func(g chi.Router) {
		if h.authn != nil {
			g.Use(h.authn.Optional())
		}
		g.Route("/cart", func(cart chi.Router) {
			cart.Get("/", h.getCart)
			cart.Delete("/", h.clearCart)
			cart.Post("/items", h.addItem)
			cart.Patch("/items/{itemId}", h.updateItem)
			cart.Delete("/items/{itemId}", h.removeItem)
			cart.Post("/coupons", h.applyCoupon)
			cart.Delete("/coupons/{code}", h.removeCoupon)
		})
		g.Post("/cart:merge", h.mergeCart)
	})
}

type addCartItemRequest struct {
	ProductRef string            `json:"product_ref"`
	Quantity   int               `json:"quantity"`
	Options    map[string]string `json:"options"`
	UnitPrice  *moneyRequest     `json:"unit_price"`
}

type updateCartItemRequest struct {
	Quantity *int `json:"quantity"`
}

func (h *CartHandlers) getCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		writeCartUnavailable(w, r)
		return
	}
	owner, ok := h.owners.resolve(w, r)
	if !ok {
		return
	}
	cart, err := h.carts.GetOrCreate(ctx, owner)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeCart(w, http.StatusOK, cart)
}

func (h *CartHandlers) addItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		writeCartUnavailable(w, r)
		return
	}
	var req addCartItemRequest
	if err := httpx.DecodeJSON(r, maxCartBodySize, &req); err != nil {
		httpx.WriteDecodeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.ProductRef) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "product_ref is required", http.StatusBadRequest))
		return
	}
	if req.Quantity < 1 {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "quantity must be at least 1", http.StatusBadRequest))
		return
	}
	if req.UnitPrice != nil && !isStaff(currentIdentity(ctx)) {
		httpx.WriteError(ctx, w, httpx.NewError("price_override_forbidden", "only staff may set an explicit unit price", http.StatusForbidden))
		return
	}
	price, err := req.UnitPrice.toDomain()
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	owner, ok := h.owners.resolve(w, r)
	if !ok {
		return
	}
	cart, err := h.carts.AddItem(ctx, services.AddCartItemCommand{
		CartRef:    services.CartRef{Owner: owner},
		ProductRef: strings.TrimSpace(req.ProductRef),
		Quantity:   req.Quantity,
		Options:    domain.NewSelectedOptions(req.Options),
		UnitPrice:  price,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeCart(w, http.StatusOK, cart)
}

func (h *CartHandlers) updateItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		writeCartUnavailable(w, r)
		return
	}
	itemID := strings.TrimSpace(chi.URLParam(r, "itemId"))
	var req updateCartItemRequest
	if err := httpx.DecodeJSON(r, maxCartBodySize, &req); err != nil {
		httpx.WriteDecodeError(w, r, err)
		return
	}
	if req.Quantity == nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "quantity is required", http.StatusBadRequest))
		return
	}

	owner, ok := h.owners.resolve(w, r)
	if !ok {
		return
	}
	cart, err := h.carts.UpdateItemQuantity(ctx, services.UpdateCartItemCommand{
		CartRef:  services.CartRef{Owner: owner},
		ItemID:   itemID,
		Quantity: *req.Quantity,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeCart(w, http.StatusOK, cart)
}

func (h *CartHandlers) removeItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		writeCartUnavailable(w, r)
		return
	}
	owner, ok := h.owners.resolve(w, r)
	if !ok {
		return
	}
	cart, err := h.carts.RemoveItem(ctx, services.RemoveCartItemCommand{
		CartRef: services.CartRef{Owner: owner},
		ItemID:  strings.TrimSpace(chi.URLParam(r, "itemId")),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeCart(w, http.StatusOK, cart)
}

func (h *CartHandlers) clearCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		writeCartUnavailable(w, r)
		return
	}
	owner, ok := h.owners.resolve(w, r)
	if !ok {
		return
	}
	cart, err := h.carts.Clear(ctx, services.CartRef{Owner: owner})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeCart(w, http.StatusOK, cart)
}

func (h *CartHandlers) applyCoupon(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		writeCartUnavailable(w, r)
		return
	}
	var req couponRequest
	if err := httpx.DecodeJSON(r, maxCartBodySize, &req); err != nil {
		httpx.WriteDecodeError(w, r, err)
		return
	}
	amount, err := req.amount()
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	owner, ok := h.owners.resolve(w, r)
	if !ok {
		return
	}
	cart, err := h.carts.ApplyCoupon(ctx, services.ApplyCouponCommand{
		CartRef:        services.CartRef{Owner: owner},
		Code:           req.Code,
		DiscountAmount: amount,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeCart(w, http.StatusOK, cart)
}

func (h *CartHandlers) removeCoupon(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		writeCartUnavailable(w, r)
		return
	}
	owner, ok := h.owners.resolve(w, r)
	if !ok {
		return
	}
	cart, err := h.carts.RemoveCoupon(ctx, services.RemoveCouponCommand{
		CartRef: services.CartRef{Owner: owner},
		Code:    chi.URLParam(r, "code"),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeCart(w, http.StatusOK, cart)
}

// mergeCart folds the guest cart named by X-Guest-Token into the signed-in user's cart.
func (h *CartHandlers) mergeCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		writeCartUnavailable(w, r)
		return
	}
	identity := currentIdentity(ctx)
	if identity == nil {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "sign in to merge a guest cart", http.StatusUnauthorized))
		return
	}
	token := strings.TrimSpace(r.Header.Get(GuestTokenHeader))
	if !services.ValidGuestToken(token) {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", GuestTokenHeader+" header must carry a guest token", http.StatusBadRequest))
		return
	}
	cart, err := h.carts.MergeGuestCart(ctx, domain.GuestIdentity(token), domain.UserIdentity(identity.UID))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeCart(w, http.StatusOK, cart)
}

func writeCartUnavailable(w http.ResponseWriter, r *http.Request) {
	httpx.WriteError(r.Context(), w, httpx.NewError("cart_service_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
}

func writeCart(w http.ResponseWriter, status int, cart domain.Cart) {
	setCartResponseHeaders(w, cart)
	httpx.WriteJSON(w, status, cartResponse{Cart: buildCartPayload(cart)})
}

func setCartResponseHeaders(w http.ResponseWriter, cart domain.Cart) {
	w.Header().Set("Cache-Control", "no-store, no-cache, max-age=0, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	if !cart.UpdatedAt.IsZero() {
		w.Header().Set("Last-Modified", cart.UpdatedAt.UTC().Format(http.TimeFormat))
	}
	if etag := buildCartETag(cart); etag != "" {
		w.Header().Set("ETag", etag)
	}
}

func buildCartETag(cart domain.Cart) string {
	if strings.TrimSpace(cart.ID) == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%d:%d", cart.ID, cart.Version, cart.UpdatedAt.UTC().UnixNano())))
	return `W/"` + hex.EncodeToString(sum[:8]) + `"`
}

package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/platform/auth"
	"github.com/storefront/api/internal/services"
)

const (
	userToken  = "user-token"
	staffToken = "staff-token"
)

var (
	fixedNow     = time.Date(2024, 6, 15, 9, 30, 0, 0, time.UTC)
	issuedGuest  = strings.Repeat("ab", 16)
	knownGuestID = "0123456789abcdef0123456789abcdef"
)

type stubVerifier map[string]*auth.Identity

func (s stubVerifier) Verify(_ context.Context, token string) (*auth.Identity, error) {
	if identity, ok := s[token]; ok {
		return identity, nil
	}
	return nil, errors.New("unknown token")
}

func testAuthenticator() *auth.Authenticator {
	return auth.NewAuthenticator(stubVerifier{
		userToken:  {UID: "user-1", Email: "ana@example.com", Roles: []string{auth.RoleUser}},
		staffToken: {UID: "staff-1", Email: "ops@example.com", Roles: []string{auth.RoleStaff}},
	}, nil)
}

// testResolver mints the same guest token every time.
func testResolver() *services.IdentityResolver {
	return services.NewIdentityResolver(bytes.NewReader(bytes.Repeat([]byte{0xab}, 1024)))
}

func newJSONRequest(method, target, body string) *http.Request {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

func withBearer(req *http.Request, token string) *http.Request {
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func withGuest(req *http.Request, token string) *http.Request {
	req.Header.Set(GuestTokenHeader, token)
	return req
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode response %q: %v", rr.Body.String(), err)
	}
	return body
}

func assertErrorCode(t *testing.T, rr *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	if rr.Code != status {
		t.Fatalf("expected status %d, got %d: %s", status, rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	if body["error"] != code {
		t.Fatalf("expected error %q, got %v", code, body["error"])
	}
}

func sampleCart(owner domain.Identity) domain.Cart {
	cart := domain.Cart{
		ID:        "cart-1",
		Currency:  domain.CurrencyUSD,
		Status:    domain.CartStatusActive,
		CreatedAt: fixedNow,
		UpdatedAt: fixedNow,
		ExpiresAt: fixedNow.Add(domain.CartTTL),
		Version:   3,
	}
	if owner.IsUser() {
		cart.UserID = owner.ID
	} else {
		cart.GuestID = owner.ID
	}
	return cart
}

func sampleOrder() domain.Order {
	confirmed := fixedNow.Add(time.Hour)
	return domain.Order{
		ID:            "order-1",
		OrderNumber:   "ORD2406150007",
		UserID:        "user-1",
		CustomerEmail: "ana@example.com",
		Currency:      domain.CurrencyUSD,
		Items: []domain.OrderItem{{
			ProductRef: "tee",
			Name:       "Tee",
			Quantity:   2,
			UnitPrice:  domain.MustMoney("10.00", domain.CurrencyUSD),
			LineTotal:  domain.MustMoney("20.00", domain.CurrencyUSD).Amount,
		}},
		Subtotal:       domain.MustMoney("20.00", domain.CurrencyUSD).Amount,
		Total:          domain.MustMoney("20.00", domain.CurrencyUSD).Amount,
		Status:         domain.OrderStatusConfirmed,
		PaymentStatus:  domain.PaymentStatusPending,
		PaymentMethod:  domain.PaymentMethodCard,
		PaymentDetails: map[string]string{"provider_ref": "pi_123"},
		ConfirmedAt:    &confirmed,
		CreatedAt:      fixedNow,
		UpdatedAt:      confirmed,
	}
}

type stubCartService struct {
	getOrCreateFn  func(context.Context, domain.Identity) (domain.Cart, error)
	addItemFn      func(context.Context, services.AddCartItemCommand) (domain.Cart, error)
	updateItemFn   func(context.Context, services.UpdateCartItemCommand) (domain.Cart, error)
	removeItemFn   func(context.Context, services.RemoveCartItemCommand) (domain.Cart, error)
	clearFn        func(context.Context, services.CartRef) (domain.Cart, error)
	applyCouponFn  func(context.Context, services.ApplyCouponCommand) (domain.Cart, error)
	removeCouponFn func(context.Context, services.RemoveCouponCommand) (domain.Cart, error)
	mergeFn        func(context.Context, domain.Identity, domain.Identity) (domain.Cart, error)
}

func (s *stubCartService) GetOrCreate(ctx context.Context, owner domain.Identity) (domain.Cart, error) {
	if s.getOrCreateFn == nil {
		return sampleCart(owner), nil
	}
	return s.getOrCreateFn(ctx, owner)
}

func (s *stubCartService) AddItem(ctx context.Context, cmd services.AddCartItemCommand) (domain.Cart, error) {
	if s.addItemFn == nil {
		return sampleCart(cmd.Owner), nil
	}
	return s.addItemFn(ctx, cmd)
}

func (s *stubCartService) UpdateItemQuantity(ctx context.Context, cmd services.UpdateCartItemCommand) (domain.Cart, error) {
	if s.updateItemFn == nil {
		return sampleCart(cmd.Owner), nil
	}
	return s.updateItemFn(ctx, cmd)
}

func (s *stubCartService) RemoveItem(ctx context.Context, cmd services.RemoveCartItemCommand) (domain.Cart, error) {
	if s.removeItemFn == nil {
		return sampleCart(cmd.Owner), nil
	}
	return s.removeItemFn(ctx, cmd)
}

func (s *stubCartService) Clear(ctx context.Context, ref services.CartRef) (domain.Cart, error) {
	if s.clearFn == nil {
		return sampleCart(ref.Owner), nil
	}
	return s.clearFn(ctx, ref)
}

func (s *stubCartService) ApplyCoupon(ctx context.Context, cmd services.ApplyCouponCommand) (domain.Cart, error) {
	if s.applyCouponFn == nil {
		return sampleCart(cmd.Owner), nil
	}
	return s.applyCouponFn(ctx, cmd)
}

func (s *stubCartService) RemoveCoupon(ctx context.Context, cmd services.RemoveCouponCommand) (domain.Cart, error) {
	if s.removeCouponFn == nil {
		return sampleCart(cmd.Owner), nil
	}
	return s.removeCouponFn(ctx, cmd)
}

func (s *stubCartService) MergeGuestCart(ctx context.Context, guest, user domain.Identity) (domain.Cart, error) {
	if s.mergeFn == nil {
		return sampleCart(user), nil
	}
	return s.mergeFn(ctx, guest, user)
}

type stubCheckoutService struct {
	fromCartFn  func(context.Context, services.CreateOrderFromCartCommand) (domain.Order, error)
	fromItemsFn func(context.Context, services.CreateOrderFromItemsCommand) (domain.Order, error)
}

func (s *stubCheckoutService) CreateFromCart(ctx context.Context, cmd services.CreateOrderFromCartCommand) (domain.Order, error) {
	if s.fromCartFn == nil {
		return sampleOrder(), nil
	}
	return s.fromCartFn(ctx, cmd)
}

func (s *stubCheckoutService) CreateFromItems(ctx context.Context, cmd services.CreateOrderFromItemsCommand) (domain.Order, error) {
	if s.fromItemsFn == nil {
		return sampleOrder(), nil
	}
	return s.fromItemsFn(ctx, cmd)
}

type stubOrderService struct {
	getFn       func(context.Context, string, services.OrderViewer) (domain.Order, error)
	listUserFn  func(context.Context, string, domain.Pagination) (domain.CursorPage[domain.Order], error)
	listGuestFn func(context.Context, string, string, domain.Pagination) (domain.CursorPage[domain.Order], error)
	statusFn    func(context.Context, services.UpdateOrderStatusCommand) (domain.Order, error)
	paymentFn   func(context.Context, services.UpdatePaymentStatusCommand) (domain.Order, error)
	cancelFn    func(context.Context, services.CancelOrderCommand) (domain.Order, error)
}

func (s *stubOrderService) GetOrder(ctx context.Context, orderID string, viewer services.OrderViewer) (domain.Order, error) {
	if s.getFn == nil {
		return sampleOrder(), nil
	}
	return s.getFn(ctx, orderID, viewer)
}

func (s *stubOrderService) ListUserOrders(ctx context.Context, userID string, page domain.Pagination) (domain.CursorPage[domain.Order], error) {
	if s.listUserFn == nil {
		return domain.CursorPage[domain.Order]{}, nil
	}
	return s.listUserFn(ctx, userID, page)
}

func (s *stubOrderService) ListGuestOrders(ctx context.Context, email, guestID string, page domain.Pagination) (domain.CursorPage[domain.Order], error) {
	if s.listGuestFn == nil {
		return domain.CursorPage[domain.Order]{}, nil
	}
	return s.listGuestFn(ctx, email, guestID, page)
}

func (s *stubOrderService) UpdateStatus(ctx context.Context, cmd services.UpdateOrderStatusCommand) (domain.Order, error) {
	if s.statusFn == nil {
		return sampleOrder(), nil
	}
	return s.statusFn(ctx, cmd)
}

func (s *stubOrderService) UpdatePaymentStatus(ctx context.Context, cmd services.UpdatePaymentStatusCommand) (domain.Order, error) {
	if s.paymentFn == nil {
		return sampleOrder(), nil
	}
	return s.paymentFn(ctx, cmd)
}

func (s *stubOrderService) Cancel(ctx context.Context, cmd services.CancelOrderCommand) (domain.Order, error) {
	if s.cancelFn == nil {
		return sampleOrder(), nil
	}
	return s.cancelFn(ctx, cmd)
}

var (
	_ services.CartService     = (*stubCartService)(nil)
	_ services.CheckoutService = (*stubCheckoutService)(nil)
	_ services.OrderService    = (*stubOrderService)(nil)
)

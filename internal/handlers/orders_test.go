package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/services"
)

func newOrderRouter(svc services.OrderService, opts ...OrderOption) http.Handler {
	h := NewOrderHandlers(testAuthenticator(), svc, opts...)
	return NewRouter(WithOrderRoutes(h.Routes))
}

func TestOrderHandlers_ListRequiresAuthentication(t *testing.T) {
	rr := httptest.NewRecorder()
	newOrderRouter(&stubOrderService{}).ServeHTTP(rr, newJSONRequest(http.MethodGet, "/api/v1/orders", ""))
	assertErrorCode(t, rr, http.StatusUnauthorized, "unauthenticated")
}

func TestOrderHandlers_ListUserOrders(t *testing.T) {
	var gotUser string
	var gotPage domain.Pagination
	svc := &stubOrderService{
		listUserFn: func(_ context.Context, userID string, page domain.Pagination) (domain.CursorPage[domain.Order], error) {
			gotUser, gotPage = userID, page
			return domain.CursorPage[domain.Order]{Items: []domain.Order{sampleOrder()}, NextPageToken: "next"}, nil
		},
	}
	router := newOrderRouter(svc)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, withBearer(newJSONRequest(http.MethodGet, "/api/v1/orders?pageSize=5", ""), userToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if gotUser != "user-1" || gotPage.PageSize != 5 {
		t.Fatalf("unexpected list args: %q %+v", gotUser, gotPage)
	}
	body := decodeBody(t, rr)
	items := body["items"].([]any)
	if len(items) != 1 || body["next_page_token"] != "next" {
		t.Fatalf("unexpected list body: %v", body)
	}
	if summary := items[0].(map[string]any); summary["order_number"] != "ORD2406150007" || summary["items_count"] != float64(1) {
		t.Fatalf("unexpected summary: %v", summary)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, withBearer(newJSONRequest(http.MethodGet, "/api/v1/orders?pageToken=%21%21%21", ""), userToken))
	assertErrorCode(t, rr, http.StatusBadRequest, "invalid_request")
}

func TestOrderHandlers_GetOrder(t *testing.T) {
	var gotViewer services.OrderViewer
	svc := &stubOrderService{
		getFn: func(_ context.Context, id string, viewer services.OrderViewer) (domain.Order, error) {
			gotViewer = viewer
			if id != "order-1" {
				return domain.Order{}, &services.NotFoundError{Resource: "order", ID: id}
			}
			return sampleOrder(), nil
		},
	}
	router := newOrderRouter(svc)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, withBearer(newJSONRequest(http.MethodGet, "/api/v1/orders/order-1", ""), userToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if gotViewer.Identity != domain.UserIdentity("user-1") || gotViewer.Privileged {
		t.Fatalf("unexpected viewer: %+v", gotViewer)
	}
	order := decodeBody(t, rr)["order"].(map[string]any)
	if _, ok := order["payment_details"]; ok {
		t.Fatal("shoppers must not see payment details")
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, withBearer(newJSONRequest(http.MethodGet, "/api/v1/orders/order-1", ""), staffToken))
	order = decodeBody(t, rr)["order"].(map[string]any)
	if !gotViewer.Privileged || order["payment_details"] == nil {
		t.Fatalf("staff should see payment details, got %v", order)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, withGuest(newJSONRequest(http.MethodGet, "/api/v1/orders/order-1?email=Guest@Example.com", ""), knownGuestID))
	if gotViewer.Identity != domain.GuestIdentity(knownGuestID) || gotViewer.Email != "Guest@Example.com" {
		t.Fatalf("unexpected guest viewer: %+v", gotViewer)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, withBearer(newJSONRequest(http.MethodGet, "/api/v1/orders/missing", ""), userToken))
	assertErrorCode(t, rr, http.StatusNotFound, "order_not_found")
}

func TestOrderHandlers_Cancel(t *testing.T) {
	var got services.CancelOrderCommand
	svc := &stubOrderService{
		cancelFn: func(_ context.Context, cmd services.CancelOrderCommand) (domain.Order, error) {
			got = cmd
			if cmd.OrderID == "shipped" {
				return domain.Order{}, services.ErrCannotCancel
			}
			order := sampleOrder()
			order.Status = domain.OrderStatusCancelled
			return order, nil
		},
	}
	router := newOrderRouter(svc)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, withBearer(newJSONRequest(http.MethodPost, "/api/v1/orders/order-1:cancel", `{"reason":"changed my mind"}`), userToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if got.OrderID != "order-1" || got.Reason != "changed my mind" || got.Viewer.Identity != domain.UserIdentity("user-1") {
		t.Fatalf("unexpected cancel command: %+v", got)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, withBearer(newJSONRequest(http.MethodPost, "/api/v1/orders/shipped:cancel", ""), userToken))
	assertErrorCode(t, rr, http.StatusConflict, "order_not_cancellable")

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, newJSONRequest(http.MethodPost, "/api/v1/orders/order-1:cancel", ""))
	assertErrorCode(t, rr, http.StatusUnauthorized, "unauthenticated")

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, withBearer(newJSONRequest(http.MethodPost, "/api/v1/orders/order-1:cancel", `{"reason":`), userToken))
	assertErrorCode(t, rr, http.StatusBadRequest, "invalid_request")
}

func guestOrders() []domain.Order {
	mine := sampleOrder()
	mine.ID, mine.UserID, mine.GuestID = "order-mine", "", knownGuestID
	other := sampleOrder()
	other.ID, other.UserID, other.GuestID = "order-other", "", issuedGuest
	return []domain.Order{mine, other}
}

func TestOrderHandlers_LookupAccess(t *testing.T) {
	var gotEmail, gotGuestID string
	svc := &stubOrderService{
		listGuestFn: func(_ context.Context, email, guestID string, _ domain.Pagination) (domain.CursorPage[domain.Order], error) {
			gotEmail, gotGuestID = email, guestID
			var items []domain.Order
			for _, order := range guestOrders() {
				if guestID == "" || order.GuestID == guestID {
					items = append(items, order)
				}
			}
			return domain.CursorPage[domain.Order]{Items: items}, nil
		},
	}
	router := newOrderRouter(svc)

	cases := []struct {
		name    string
		build   func() *http.Request
		status  int
		count   int
		guestID string
	}{
		{
			name:    "guest token filters to own orders",
			build:   func() *http.Request { return withGuest(newJSONRequest(http.MethodGet, "/api/v1/orders:lookup?email=ana@example.com", ""), knownGuestID) },
			status:  http.StatusOK,
			count:   1,
			guestID: knownGuestID,
		},
		{
			name:   "staff see every match",
			build:  func() *http.Request { return withBearer(newJSONRequest(http.MethodGet, "/api/v1/orders:lookup?email=ana@example.com", ""), staffToken) },
			status: http.StatusOK,
			count:  2,
		},
		{
			name:   "user with matching email",
			build:  func() *http.Request { return withBearer(newJSONRequest(http.MethodGet, "/api/v1/orders:lookup?email=ANA@example.com", ""), userToken) },
			status: http.StatusOK,
			count:  2,
		},
		{
			name:   "user with another email",
			build:  func() *http.Request { return withBearer(newJSONRequest(http.MethodGet, "/api/v1/orders:lookup?email=bob@example.com", ""), userToken) },
			status: http.StatusForbidden,
		},
		{
			name:   "anonymous without token",
			build:  func() *http.Request { return newJSONRequest(http.MethodGet, "/api/v1/orders:lookup?email=ana@example.com", "") },
			status: http.StatusForbidden,
		},
		{
			name:   "missing email",
			build:  func() *http.Request { return withGuest(newJSONRequest(http.MethodGet, "/api/v1/orders:lookup", ""), knownGuestID) },
			status: http.StatusBadRequest,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, tc.build())
			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d: %s", tc.status, rr.Code, rr.Body.String())
			}
			if tc.status != http.StatusOK {
				return
			}
			if gotGuestID != tc.guestID {
				t.Fatalf("expected guest filter %q, got %q", tc.guestID, gotGuestID)
			}
			items := decodeBody(t, rr)["items"].([]any)
			if len(items) != tc.count {
				t.Fatalf("expected %d orders, got %d", tc.count, len(items))
			}
		})
	}
	if gotEmail == "" {
		t.Fatal("expected the lookup email to reach the service")
	}
}

func TestOrderHandlers_LookupRateLimited(t *testing.T) {
	now := fixedNow
	clock := func() time.Time { return now }
	svc := &stubOrderService{
		listGuestFn: func(context.Context, string, string, domain.Pagination) (domain.CursorPage[domain.Order], error) {
			return domain.CursorPage[domain.Order]{Items: guestOrders()}, nil
		},
	}
	router := newOrderRouter(svc, WithGuestLookupRateLimit(1, time.Minute, clock))

	lookup := func() *httptest.ResponseRecorder {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, withGuest(newJSONRequest(http.MethodGet, "/api/v1/orders:lookup?email=ana@example.com", ""), knownGuestID))
		return rr
	}

	if rr := lookup(); rr.Code != http.StatusOK {
		t.Fatalf("expected first lookup to pass, got %d", rr.Code)
	}
	rr := lookup()
	assertErrorCode(t, rr, http.StatusTooManyRequests, "rate_limited")
	if rr.Header().Get("Retry-After") != "60" {
		t.Fatalf("expected Retry-After header, got %q", rr.Header().Get("Retry-After"))
	}

	now = now.Add(2 * time.Minute)
	if rr := lookup(); rr.Code != http.StatusOK {
		t.Fatalf("expected lookup after the window to pass, got %d", rr.Code)
	}
}

func TestOrderHandlers_Unavailable(t *testing.T) {
	h := NewOrderHandlers(testAuthenticator(), nil)
	rr := httptest.NewRecorder()
	NewRouter(WithOrderRoutes(h.Routes)).ServeHTTP(rr, withBearer(newJSONRequest(http.MethodGet, "/api/v1/orders", ""), userToken))
	assertErrorCode(t, rr, http.StatusServiceUnavailable, "order_service_unavailable")
}

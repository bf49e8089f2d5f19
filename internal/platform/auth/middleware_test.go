package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

type stubVerifier struct {
	verifyFn func(ctx context.Context, token string) (*Identity, error)
	received string
}

func (s *stubVerifier) Verify(ctx context.Context, token string) (*Identity, error) {
	s.received = token
	if s.verifyFn != nil {
		return s.verifyFn(ctx, token)
	}
	return nil, ErrTokenInvalid
}

func decodeErrorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode error payload: %v", err)
	}
	code, _ := payload["error"].(string)
	return code
}

func TestOptionalPassesGuestsThrough(t *testing.T) {
	authn := NewAuthenticator(&stubVerifier{}, nil)
	called := false
	handler := authn.Optional()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		if _, ok := IdentityFromContext(r.Context()); ok {
			t.Fatalf("guest request must not carry an identity")
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/cart", nil))
	if !called || rr.Code != http.StatusNoContent {
		t.Fatalf("expected handler to run, status %d", rr.Code)
	}
}

func TestOptionalAttachesIdentity(t *testing.T) {
	verifier := &stubVerifier{verifyFn: func(context.Context, string) (*Identity, error) {
		return &Identity{UID: "user-1", Email: "a@example.com", Roles: []string{RoleUser}}, nil
	}}
	authn := NewAuthenticator(verifier, nil)
	handler := authn.Optional()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := IdentityFromContext(r.Context())
		if !ok || identity.UID != "user-1" {
			t.Fatalf("expected identity, got %#v", identity)
		}
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/cart", nil)
	req.Header.Set("Authorization", "Bearer abc.def")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if verifier.received != "abc.def" {
		t.Fatalf("expected token forwarded, got %q", verifier.received)
	}
}

func TestOptionalRejectsInvalidToken(t *testing.T) {
	authn := NewAuthenticator(&stubVerifier{}, nil)
	handler := authn.Optional()(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatalf("handler must not run")
	}))
	req := httptest.NewRequest(http.MethodGet, "/cart", nil)
	req.Header.Set("Authorization", "Bearer bad")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	if code := decodeErrorCode(t, rr); code != "invalid_token" {
		t.Fatalf("expected invalid_token, got %q", code)
	}
}

func TestRequireReportsExpiredToken(t *testing.T) {
	verifier := &stubVerifier{verifyFn: func(context.Context, string) (*Identity, error) {
		return nil, errors.Join(ErrTokenExpired, errors.New("exp"))
	}}
	handler := NewAuthenticator(verifier, nil).Require()(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatalf("handler must not run")
	}))
	req := httptest.NewRequest(http.MethodGet, "/orders", nil)
	req.Header.Set("Authorization", "Bearer old")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized || decodeErrorCode(t, rr) != "token_expired" {
		t.Fatalf("expected token_expired 401, got %d %s", rr.Code, rr.Body.String())
	}
}

func TestRequireMissingHeader(t *testing.T) {
	handler := NewAuthenticator(&stubVerifier{}, nil).Require()(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatalf("handler must not run")
	}))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/orders", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestRequireEnforcesRoles(t *testing.T) {
	verifier := &stubVerifier{verifyFn: func(context.Context, string) (*Identity, error) {
		return &Identity{UID: "user-1", Roles: []string{RoleUser}}, nil
	}}
	handler := NewAuthenticator(verifier, nil).Require(RoleStaff, RoleAdmin)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatalf("handler must not run")
	}))
	req := httptest.NewRequest(http.MethodPost, "/admin/orders/o1:status", nil)
	req.Header.Set("Authorization", "Bearer tok")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
}

func TestVerifierChain(t *testing.T) {
	first := &stubVerifier{}
	second := &stubVerifier{verifyFn: func(context.Context, string) (*Identity, error) {
		return &Identity{UID: "u2"}, nil
	}}
	identity, err := VerifierChain{first, nil, second}.Verify(context.Background(), "tok")
	if err != nil || identity.UID != "u2" {
		t.Fatalf("expected second verifier to win, got %v %v", identity, err)
	}

	expired := &stubVerifier{verifyFn: func(context.Context, string) (*Identity, error) {
		return nil, ErrTokenExpired
	}}
	if _, err := (VerifierChain{expired, second}).Verify(context.Background(), "tok"); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected expiry to stop the chain, got %v", err)
	}

	if _, err := (VerifierChain{}).Verify(context.Background(), "tok"); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected invalid for empty chain, got %v", err)
	}
}

func TestRolesFromClaimsShapes(t *testing.T) {
	cases := map[string]any{
		"string":   "Staff, user",
		"slice":    []any{"staff", "USER", "staff"},
		"strings":  []string{"staff", "user"},
		"flag map": map[string]any{"staff": true, "user": true, "admin": false},
	}
	for name, raw := range cases {
		roles := rolesFromClaims(map[string]any{"roles": raw}, "roles")
		identity := &Identity{Roles: roles}
		if !identity.HasRole(RoleStaff) || !identity.HasRole(RoleUser) || identity.HasRole(RoleAdmin) {
			t.Fatalf("%s: unexpected roles %v", name, roles)
		}
	}
}

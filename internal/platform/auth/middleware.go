package auth

import (
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/storefront/api/internal/platform/httpx"
)

// Authenticator wires a TokenVerifier into HTTP middleware. Guests browse and check out
// without a token, so most routes use Optional and only account or staff routes use Require.
type Authenticator struct {
	verifier TokenVerifier
	logger   *zap.Logger
}

// NewAuthenticator builds middleware around verifier. A nil verifier rejects every bearer token.
func NewAuthenticator(verifier TokenVerifier, logger *zap.Logger) *Authenticator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Authenticator{verifier: verifier, logger: logger}
}

// Optional attaches an Identity when a bearer token is present. A present but invalid token is
// rejected rather than silently downgraded to a guest.
func (a *Authenticator) Optional() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if strings.TrimSpace(header) == "" {
				next.ServeHTTP(w, r)
				return
			}
			identity, ok := a.authenticate(w, r, header)
			if !ok {
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

// Require demands a valid token and, when roles are given, at least one of them.
func (a *Authenticator) Require(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := a.authenticate(w, r, r.Header.Get("Authorization"))
			if !ok {
				return
			}
			if len(roles) > 0 && !identity.HasAnyRole(roles...) {
				httpx.WriteError(r.Context(), w, httpx.NewError("insufficient_role", "identity does not have a required role", http.StatusForbidden))
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

func (a *Authenticator) authenticate(w http.ResponseWriter, r *http.Request, header string) (*Identity, bool) {
	token, ok := extractBearerToken(header)
	if !ok {
		httpx.WriteError(r.Context(), w, httpx.NewError("unauthenticated", "authorization header missing or invalid", http.StatusUnauthorized))
		return nil, false
	}
	if a == nil || a.verifier == nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("unauthenticated", "token verification unavailable", http.StatusUnauthorized))
		return nil, false
	}
	identity, err := a.verifier.Verify(r.Context(), token)
	if err != nil {
		code, message := "invalid_token", "token verification failed"
		if errors.Is(err, ErrTokenExpired) {
			code, message = "token_expired", "token expired"
		}
		a.logger.Debug("token rejected", zap.String("code", code), zap.Error(err))
		httpx.WriteError(r.Context(), w, httpx.NewError(code, message, http.StatusUnauthorized))
		return nil, false
	}
	if identity == nil || identity.UID == "" {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_token", "token has no subject", http.StatusUnauthorized))
		return nil, false
	}
	return identity, true
}

func extractBearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

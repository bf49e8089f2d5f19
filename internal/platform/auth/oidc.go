package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	jwt "github.com/golang-jwt/jwt/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/storefront/api/internal/platform/httpx"
)

var (
	// ErrJWKSKeyNotFound is returned when the kid is absent even after a refresh.
	ErrJWKSKeyNotFound = errors.New("auth: jwks key not found")
	// ErrJWKSFetchFailed wraps transport and decoding failures.
	ErrJWKSFetchFailed = errors.New("auth: jwks fetch failed")
)

const defaultJWKSValidity = 15 * time.Minute

// JWKSCache fetches signing keys on demand and keeps them until the response's max-age passes.
// Concurrent misses share one fetch.
type JWKSCache struct {
	url    string
	client *http.Client
	now    func() time.Time
	flight singleflight.Group

	mu     sync.RWMutex
	keys   map[string]jose.JSONWebKey
	expiry time.Time
}

// NewJWKSCache returns a cache for url. A nil client uses a 10 second timeout client.
func NewJWKSCache(url string, client *http.Client) *JWKSCache {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &JWKSCache{url: url, client: client, now: time.Now}
}

// Key resolves the public key for kid, refreshing once on a miss.
func (c *JWKSCache) Key(ctx context.Context, kid string) (any, error) {
	if key, ok := c.lookup(kid); ok {
		return key, nil
	}
	if _, err, _ := c.flight.Do("refresh", func() (any, error) { return nil, c.refresh(ctx) }); err != nil {
		return nil, err
	}
	if key, ok := c.lookup(kid); ok {
		return key, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrJWKSKeyNotFound, kid)
}

func (c *JWKSCache) lookup(kid string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.now().Before(c.expiry) {
		return nil, false
	}
	jwk, ok := c.keys[kid]
	return jwk.Key, ok
}

func (c *JWKSCache) refresh(ctx context.Context) error {
	set, validity, err := c.fetch(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrJWKSFetchFailed, err)
	}
	keys := make(map[string]jose.JSONWebKey, len(set.Keys))
	for _, jwk := range set.Keys {
		if jwk.KeyID != "" && jwk.Valid() {
			keys[jwk.KeyID] = jwk
		}
	}
	if len(keys) == 0 {
		return fmt.Errorf("%w: no usable keys", ErrJWKSFetchFailed)
	}
	if validity <= 0 {
		validity = defaultJWKSValidity
	}
	c.mu.Lock()
	c.keys, c.expiry = keys, c.now().Add(validity)
	c.mu.Unlock()
	return nil
}

func (c *JWKSCache) fetch(ctx context.Context) (jose.JSONWebKeySet, time.Duration, error) {
	var set jose.JSONWebKeySet
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return set, 0, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return set, 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return set, 0, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return set, 0, fmt.Errorf("decode: %w", err)
	}
	return set, maxAge(resp.Header.Get("Cache-Control")), nil
}

func maxAge(header string) time.Duration {
	for _, directive := range strings.Split(header, ",") {
		name, value, found := strings.Cut(strings.TrimSpace(directive), "=")
		if !found || !strings.EqualFold(name, "max-age") {
			continue
		}
		if seconds, err := strconv.Atoi(strings.TrimSpace(value)); err == nil && seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
	}
	return 0
}

// ServiceIdentity is the caller of an internal endpoint, typically Cloud Scheduler.
type ServiceIdentity struct {
	Subject string
	Email   string
	Issuer  string
}

type serviceIdentityContextKey struct{}

func WithServiceIdentity(ctx context.Context, identity *ServiceIdentity) context.Context {
	if identity == nil {
		return ctx
	}
	return context.WithValue(ctx, serviceIdentityContextKey{}, identity)
}

func ServiceIdentityFromContext(ctx context.Context) (*ServiceIdentity, bool) {
	identity, ok := ctx.Value(serviceIdentityContextKey{}).(*ServiceIdentity)
	return identity, ok && identity != nil
}

// OIDCValidator checks Google-signed OIDC tokens presented to internal endpoints.
type OIDCValidator struct {
	keys   *JWKSCache
	parser *jwt.Parser
	logger *zap.Logger
}

func NewOIDCValidator(keys *JWKSCache, logger *zap.Logger) *OIDCValidator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OIDCValidator{
		keys:   keys,
		parser: jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()})),
		logger: logger,
	}
}

// Verify checks an RS256 token against audience and, when issuers is non-empty, its issuer.
// A JWKS outage is reported as ErrJWKSFetchFailed.
func (v *OIDCValidator) Verify(ctx context.Context, raw, audience string, issuers []string) (*ServiceIdentity, error) {
	claims := jwt.MapClaims{}
	_, err := v.parser.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("token missing kid header")
		}
		return v.keys.Key(ctx, kid)
	})
	if err != nil {
		return nil, err
	}
	identity := &ServiceIdentity{
		Subject: claimString(claims, "sub"),
		Email:   claimString(claims, "email"),
		Issuer:  claimString(claims, "iss"),
	}
	if len(issuers) > 0 && !slices.Contains(issuers, identity.Issuer) {
		return nil, fmt.Errorf("issuer %q not accepted", identity.Issuer)
	}
	if !claims.VerifyAudience(audience, true) {
		return nil, errors.New("audience mismatch")
	}
	return identity, nil
}

// RequireOIDC admits requests carrying a token Verify accepts. Without an audience or keys
// every request gets 503.
func (v *OIDCValidator) RequireOIDC(audience string, issuers []string) func(http.Handler) http.Handler {
	audience = strings.TrimSpace(audience)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if audience == "" || v == nil || v.keys == nil {
				httpx.WriteError(ctx, w, httpx.NewError("verification_unavailable", "oidc verification not configured", http.StatusServiceUnavailable))
				return
			}
			token, ok := extractBearerToken(r.Header.Get("Authorization"))
			if !ok {
				httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "oidc token missing", http.StatusUnauthorized))
				return
			}
			identity, err := v.Verify(ctx, token, audience, issuers)
			if err != nil {
				v.logger.Warn("oidc verification failed", zap.Error(err))
				status := http.StatusUnauthorized
				if errors.Is(err, ErrJWKSFetchFailed) {
					status = http.StatusServiceUnavailable
				}
				httpx.WriteError(ctx, w, httpx.NewError("invalid_token", "oidc token verification failed", status))
				return
			}
			next.ServeHTTP(w, r.WithContext(WithServiceIdentity(ctx, identity)))
		})
	}
}

package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	jwt "github.com/golang-jwt/jwt/v4"
)

// JWTVerifier accepts first-party HS256 tokens minted by the storefront's own session service.
type JWTVerifier struct {
	secret    []byte
	issuer    string
	audience  string
	roleClaim string
	parser    *jwt.Parser
}

// NewJWTVerifier requires a non-empty shared secret. Empty issuer or audience disables that check.
func NewJWTVerifier(secret, issuer, audience string) (*JWTVerifier, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("auth: jwt secret is required")
	}
	return &JWTVerifier{
		secret:    []byte(secret),
		issuer:    strings.TrimSpace(issuer),
		audience:  strings.TrimSpace(audience),
		roleClaim: defaultRoleClaim,
		parser:    jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})),
	}, nil
}

func (v *JWTVerifier) Verify(_ context.Context, raw string) (*Identity, error) {
	claims := jwt.MapClaims{}
	_, err := v.parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %v", ErrTokenExpired, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if v.issuer != "" && !claims.VerifyIssuer(v.issuer, true) {
		return nil, fmt.Errorf("%w: issuer mismatch", ErrTokenInvalid)
	}
	if v.audience != "" && !claims.VerifyAudience(v.audience, true) {
		return nil, fmt.Errorf("%w: audience mismatch", ErrTokenInvalid)
	}
	subject := claimString(claims, "sub")
	if subject == "" {
		return nil, fmt.Errorf("%w: subject missing", ErrTokenInvalid)
	}
	roles := rolesFromClaims(claims, v.roleClaim)
	if len(roles) == 0 {
		roles = []string{RoleUser}
	}
	return &Identity{
		UID:    subject,
		Email:  strings.ToLower(claimString(claims, "email")),
		Roles:  roles,
		Source: "jwt",
	}, nil
}

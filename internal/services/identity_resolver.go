package services

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"io"
	"strings"

	"github.com/storefront/api/internal/domain"
)

const guestTokenBytes = 16

// ResolvedIdentity is the actor of a request. Issued is true when a new guest token was minted
// and must be returned to the client.
type ResolvedIdentity struct {
	Identity domain.Identity
	Issued   bool
}

// IdentityResolver decides between an authenticated user and a guest token.
type IdentityResolver struct {
	random io.Reader
}

// NewIdentityResolver uses crypto/rand unless a reader is supplied.
func NewIdentityResolver(random io.Reader) *IdentityResolver {
	if random == nil {
		random = rand.Reader
	}
	return &IdentityResolver{random: random}
}

// Resolve returns the user identity when userID is set, otherwise the guest identity for a well
// formed token, otherwise a freshly generated guest identity. Guest tokens are never promoted
// to user ids.
func (r *IdentityResolver) Resolve(userID, guestToken string) (ResolvedIdentity, error) {
	if uid := strings.TrimSpace(userID); uid != "" {
		return ResolvedIdentity{Identity: domain.UserIdentity(uid)}, nil
	}
	if ValidGuestToken(guestToken) {
		return ResolvedIdentity{Identity: domain.GuestIdentity(guestToken)}, nil
	}
	token, err := r.NewGuestToken()
	if err != nil {
		return ResolvedIdentity{}, err
	}
	return ResolvedIdentity{Identity: domain.GuestIdentity(token), Issued: true}, nil
}

// NewGuestToken returns 128 random bits rendered as 32 lowercase hex characters.
func (r *IdentityResolver) NewGuestToken() (string, error) {
	buf := make([]byte, guestTokenBytes)
	if _, err := io.ReadFull(r.random, buf); err != nil {
		return "", errors.Join(ErrInfrastructure, err)
	}
	return hex.EncodeToString(buf), nil
}

// ValidGuestToken reports whether token is exactly 32 lowercase hex characters.
func ValidGuestToken(token string) bool {
	if len(token) != guestTokenBytes*2 {
		return false
	}
	for i := 0; i < len(token); i++ {
		c := token[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

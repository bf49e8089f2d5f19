package auth

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrTokenExpired signals a well formed token past its expiry.
	ErrTokenExpired = errors.New("auth: token expired")
	// ErrTokenInvalid covers every other verification failure.
	ErrTokenInvalid = errors.New("auth: token invalid")
)

// TokenVerifier turns a bearer token into an Identity.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*Identity, error)
}

// VerifierChain tries each verifier in order and returns the first success. An expired token
// stops the chain since no other issuer will accept it either.
type VerifierChain []TokenVerifier

func (c VerifierChain) Verify(ctx context.Context, token string) (*Identity, error) {
	var errs []error
	for _, verifier := range c {
		if verifier == nil {
			continue
		}
		identity, err := verifier.Verify(ctx, token)
		if err == nil {
			return identity, nil
		}
		if errors.Is(err, ErrTokenExpired) {
			return nil, err
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return nil, fmt.Errorf("%w: no verifier configured", ErrTokenInvalid)
	}
	return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, errors.Join(errs...))
}

package services

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestIdentityResolverPrefersUser(t *testing.T) {
	resolver := NewIdentityResolver(nil)
	resolved, err := resolver.Resolve(" user-9 ", "0123456789abcdef0123456789abcdef")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !resolved.Identity.IsUser() || resolved.Identity.ID != "user-9" || resolved.Issued {
		t.Fatalf("unexpected identity %+v", resolved)
	}
}

func TestIdentityResolverKeepsValidGuestToken(t *testing.T) {
	resolver := NewIdentityResolver(nil)
	token := "0123456789abcdef0123456789abcdef"
	resolved, err := resolver.Resolve("", token)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !resolved.Identity.IsGuest() || resolved.Identity.ID != token || resolved.Issued {
		t.Fatalf("unexpected identity %+v", resolved)
	}
}

func TestIdentityResolverIssuesTokenForMalformedInput(t *testing.T) {
	random := bytes.NewReader(bytes.Repeat([]byte{0xab}, 16))
	resolver := NewIdentityResolver(random)

	resolved, err := resolver.Resolve("", "NOT-A-TOKEN")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !resolved.Issued {
		t.Fatalf("expected a new token to be issued")
	}
	if resolved.Identity.ID != strings.Repeat("ab", 16) {
		t.Fatalf("unexpected token %q", resolved.Identity.ID)
	}
}

func TestIdentityResolverRandomFailure(t *testing.T) {
	resolver := NewIdentityResolver(bytes.NewReader(nil))
	if _, err := resolver.Resolve("", ""); !errors.Is(err, ErrInfrastructure) {
		t.Fatalf("expected ErrInfrastructure, got %v", err)
	}
}

func TestValidGuestToken(t *testing.T) {
	cases := map[string]bool{
		"0123456789abcdef0123456789abcdef":  true,
		"0123456789ABCDEF0123456789ABCDEF":  false,
		"0123456789abcdef":                  false,
		"0123456789abcdef0123456789abcdeg":  false,
		"0123456789abcdef0123456789abcdef0": false,
	}
	for token, want := range cases {
		if got := ValidGuestToken(token); got != want {
			t.Fatalf("ValidGuestToken(%q) = %v, want %v", token, got, want)
		}
	}
}

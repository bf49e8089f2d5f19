package domain

import "strings"

// IdentityKind distinguishes authenticated users from anonymous guests.
type IdentityKind string

const (
	IdentityUser  IdentityKind = "user"
	IdentityGuest IdentityKind = "guest"
)

// Identity is the actor a cart or order belongs to. Exactly one kind applies.
type Identity struct {
	Kind IdentityKind
	ID   string
}

// UserIdentity returns an authenticated identity.
func UserIdentity(id string) Identity {
	return Identity{Kind: IdentityUser, ID: strings.TrimSpace(id)}
}

// GuestIdentity returns an anonymous identity keyed by a guest token.
func GuestIdentity(token string) Identity {
	return Identity{Kind: IdentityGuest, ID: strings.TrimSpace(token)}
}

// IsUser reports whether the identity is an authenticated user.
func (i Identity) IsUser() bool { return i.Kind == IdentityUser && i.ID != "" }

// IsGuest reports whether the identity is a guest.
func (i Identity) IsGuest() bool { return i.Kind == IdentityGuest && i.ID != "" }

// Valid reports whether the identity has a known kind and a non-empty id.
func (i Identity) Valid() bool { return i.IsUser() || i.IsGuest() }

// String renders the identity as kind:id, used for cache keys and logs.
func (i Identity) String() string {
	return string(i.Kind) + ":" + i.ID
}

package auth

import (
	"context"
	"slices"
	"strings"
)

// Role names recognised in token claims. Admin implies staff.
const (
	RoleUser  = "user"
	RoleStaff = "staff"
	RoleAdmin = "admin"
)

// Identity is a verified end-user principal. Roles are lower-cased and unique.
type Identity struct {
	UID    string
	Email  string
	Roles  []string
	Source string
}

// HasRole matches role case-insensitively.
func (i *Identity) HasRole(role string) bool {
	if i == nil {
		return false
	}
	role = strings.TrimSpace(role)
	return role != "" && slices.ContainsFunc(i.Roles, func(r string) bool {
		return strings.EqualFold(strings.TrimSpace(r), role)
	})
}

func (i *Identity) HasAnyRole(roles ...string) bool {
	return slices.ContainsFunc(roles, i.HasRole)
}

// IsStaff reports whether the identity may use back-office operations.
func (i *Identity) IsStaff() bool {
	return i.HasAnyRole(RoleStaff, RoleAdmin)
}

type identityKey struct{}

// WithIdentity stores a verified identity; nil leaves ctx unchanged.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	if identity == nil {
		return ctx
	}
	return context.WithValue(ctx, identityKey{}, identity)
}

func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, _ := ctx.Value(identityKey{}).(*Identity)
	return identity, identity != nil
}

// rolesFromClaims accepts the shapes identity providers use for a role claim: a comma
// separated string, a list, or a map of role name to bool.
func rolesFromClaims(claims map[string]any, key string) []string {
	var names []string
	switch v := claims[key].(type) {
	case string:
		names = strings.Split(v, ",")
	case []string:
		names = v
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				names = append(names, s)
			}
		}
	case map[string]any:
		for name, enabled := range v {
			if on, _ := enabled.(bool); on {
				names = append(names, name)
			}
		}
	}

	roles := make([]string, 0, len(names))
	for _, name := range names {
		if role := strings.ToLower(strings.TrimSpace(name)); role != "" && !slices.Contains(roles, role) {
			roles = append(roles, role)
		}
	}
	slices.Sort(roles)
	return roles
}

func claimString(claims map[string]any, key string) string {
	s, _ := claims[key].(string)
	return strings.TrimSpace(s)
}

package config

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
)

// SecretResolver resolves references to external secrets (e.g. Secret Manager URIs).
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts ordinary functions to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// SecretError describes failures while resolving a secret reference.
type SecretError struct {
	Ref string
	Err error
}

func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

func (e *SecretError) Unwrap() error { return e.Err }

// MissingSecretsError indicates that one or more required secrets resolved to nothing.
// Only hashed names are printed.
type MissingSecretsError struct {
	names []string
}

func (e *MissingSecretsError) Error() string {
	if redacted := e.RedactedNames(); len(redacted) > 0 {
		return "missing required secrets [" + strings.Join(redacted, ", ") + "]"
	}
	return "missing required secrets"
}

func (e *MissingSecretsError) RedactedNames() []string {
	if e == nil {
		return nil
	}
	out := make([]string, len(e.names))
	for i, name := range e.names {
		sum := sha256.Sum256([]byte(name))
		out[i] = hex.EncodeToString(sum[:8])
	}
	slices.Sort(out)
	return out
}

func (e *MissingSecretsError) Names() []string {
	if e == nil {
		return nil
	}
	return slices.Sorted(slices.Values(e.names))
}

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// resolveSecrets replaces secret references in the secret-bearing fields and reports the
// resolved value of each by field name.
func (c *Config) resolveSecrets(ctx context.Context, resolver SecretResolver) (map[string]string, error) {
	fields := map[string]*string{
		"Mongo.URI":              &c.Mongo.URI,
		"Redis.Password":         &c.Redis.Password,
		"Auth.JWTSecret":         &c.Auth.JWTSecret,
		"Webhooks.PaymentSecret": &c.Webhooks.PaymentSecret,
	}
	resolved := make(map[string]string, len(fields))
	for _, name := range slices.Sorted(maps.Keys(fields)) {
		field := fields[name]
		ref, ok := secretReference(*field)
		if ok {
			if resolver == nil {
				return nil, &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
			}
			value, err := resolver.ResolveSecret(ctx, ref)
			if err != nil {
				return nil, &SecretError{Ref: ref, Err: err}
			}
			*field = value
		}
		resolved[name] = strings.TrimSpace(*field)
	}
	return resolved, nil
}

// secretReference reports whether value points at a secret and returns it in secret:// form.
func secretReference(value string) (string, bool) {
	value = strings.TrimSpace(value)
	if rest, ok := strings.CutPrefix(value, "sm://"); ok {
		return "secret://" + rest, true
	}
	return value, strings.HasPrefix(value, "secret://")
}

func missingSecrets(required []string, resolved map[string]string) *MissingSecretsError {
	var missing []string
	for _, name := range required {
		name = strings.TrimSpace(name)
		if name == "" || slices.Contains(missing, name) {
			continue
		}
		if resolved[name] == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return &MissingSecretsError{names: missing}
}

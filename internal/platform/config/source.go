package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile         string
	envMap          map[string]string
	useSystemEnv    bool
	secret          SecretResolver
	requiredSecrets []string
}

// WithEnvFile overrides the .env file path. An empty path skips the file.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) { o.envFile = path }
}

// WithEnvMap injects values that take precedence over the process environment.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) { o.envMap = values }
}

func WithoutSystemEnv() Option {
	return func(o *loaderOptions) { o.useSystemEnv = false }
}

// WithSecretResolver sets the resolver used for sm:// and secret:// values.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) { o.secret = resolver }
}

// WithRequiredSecrets marks config fields (e.g. "Webhooks.PaymentSecret") as mandatory.
func WithRequiredSecrets(names ...string) Option {
	return func(o *loaderOptions) { o.requiredSecrets = append(o.requiredSecrets, names...) }
}

func newLoaderOptions(opts []Option) loaderOptions {
	o := loaderOptions{envFile: defaultEnvFile, useSystemEnv: true}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// Lookup returns the raw value of key with the precedence Load uses: explicit map, then the
// process environment, then the .env file. main uses it to build the secret fetcher before Load.
func Lookup(key string, opts ...Option) (string, bool, error) {
	src, err := newLoaderOptions(opts).source()
	if err != nil {
		return "", false, err
	}
	value, ok := src.get(key)
	return value, ok, nil
}

// source layers the explicit map over the process environment over the .env file.
type source struct {
	overrides map[string]string
	system    bool
	dotEnv    map[string]string
}

func (o loaderOptions) source() (source, error) {
	src := source{overrides: o.envMap, system: o.useSystemEnv}
	if o.envFile == "" {
		return src, nil
	}
	values, err := godotenv.Read(o.envFile)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return source{}, fmt.Errorf("config: read %s: %w", o.envFile, err)
	default:
		src.dotEnv = values
	}
	return src, nil
}

func (s source) get(key string) (string, bool) {
	if value, ok := s.overrides[key]; ok {
		return value, true
	}
	if s.system {
		if value, ok := os.LookupEnv(key); ok {
			return value, true
		}
	}
	value, ok := s.dotEnv[key]
	return value, ok
}

// raw returns the trimmed value, or "" when unset.
func (s source) raw(key string) string {
	value, _ := s.get(key)
	return strings.TrimSpace(value)
}

func (s source) str(key, fallback string) string {
	if value := s.raw(key); value != "" {
		return value
	}
	return fallback
}

func (s source) lower(key, fallback string) string {
	return strings.ToLower(s.str(key, fallback))
}

// Unparseable values fall back to the default; validate catches what matters.
func (s source) dur(key string, fallback time.Duration) time.Duration {
	if d, err := time.ParseDuration(s.raw(key)); err == nil {
		return d
	}
	return fallback
}

func (s source) num(key string, fallback int) int {
	if n, err := strconv.Atoi(s.raw(key)); err == nil {
		return n
	}
	return fallback
}

func (s source) flag(key string, fallback bool) bool {
	switch strings.ToLower(s.raw(key)) {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	default:
		return fallback
	}
}

func (s source) list(key string) []string {
	var out []string
	for _, part := range strings.Split(s.raw(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

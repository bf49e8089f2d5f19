// Package secrets resolves secret:// references against Google Secret Manager, with an
// in-process cache and a dotenv-style fallback file for local development.
package secrets

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	defaultFallbackPath = ".secrets.local"
	defaultCacheTTL     = 10 * time.Minute
	accessTimeout       = 5 * time.Second
	instrumentationName = "github.com/storefront/api/internal/platform/secrets"
)

// ErrNotFound is returned when neither Secret Manager nor the fallback file has the secret.
var ErrNotFound = errors.New("secrets: secret not found")

type secretManagerClient interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

var dialSecretManager = func(ctx context.Context, opts ...option.ClientOption) (secretManagerClient, error) {
	return secretmanager.NewClient(ctx, opts...)
}

type cached struct {
	value string
	at    time.Time
}

// Fetcher is safe for concurrent use. Concurrent misses for one reference share a single call.
type Fetcher struct {
	client    secretManagerClient
	closeable bool
	project   string
	ttl       time.Duration
	now       func() time.Time
	logger    *zap.Logger
	fallback  *fallbackFile

	mu     sync.RWMutex
	values map[string]cached
	flight singleflight.Group

	latency metric.Float64Histogram
	hits    metric.Int64Counter

	meter      metric.Meter
	dialOpts   []option.ClientOption
	pathOption *string
}

type Option func(*Fetcher)

func WithLogger(logger *zap.Logger) Option {
	return func(f *Fetcher) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithProject sets the project used for references without ?project=.
func WithProject(projectID string) Option {
	return func(f *Fetcher) { f.project = strings.TrimSpace(projectID) }
}

// WithFallbackFile points at a dotenv file keyed by upper-cased secret name. Empty disables it.
func WithFallbackFile(path string) Option {
	return func(f *Fetcher) {
		path = strings.TrimSpace(path)
		f.pathOption = &path
	}
}

// WithCacheTTL bounds how long a resolved value is reused before Secret Manager is asked again.
func WithCacheTTL(ttl time.Duration) Option {
	return func(f *Fetcher) {
		if ttl > 0 {
			f.ttl = ttl
		}
	}
}

func WithMeter(m metric.Meter) Option {
	return func(f *Fetcher) { f.meter = m }
}

func WithSecretManagerClient(client secretManagerClient) Option {
	return func(f *Fetcher) { f.client = client }
}

func WithClientOptions(opts ...option.ClientOption) Option {
	return func(f *Fetcher) { f.dialOpts = append(f.dialOpts, opts...) }
}

func withClock(now func() time.Time) Option {
	return func(f *Fetcher) { f.now = now }
}

// NewFetcher never fails because Secret Manager is unreachable; it degrades to the fallback file.
func NewFetcher(ctx context.Context, opts ...Option) (*Fetcher, error) {
	f := &Fetcher{
		ttl:    defaultCacheTTL,
		now:    time.Now,
		logger: zap.NewNop(),
		values: map[string]cached{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	path := defaultFallbackPath
	if f.pathOption != nil {
		path = *f.pathOption
	}
	f.fallback = &fallbackFile{path: path, logger: f.logger}

	if err := f.instrument(); err != nil {
		return nil, err
	}
	if f.client == nil && f.project != "" {
		client, err := dialSecretManager(ctx, f.dialOpts...)
		if err != nil {
			f.logger.Warn("secret manager unavailable, using fallback file only", zap.Error(err))
		} else {
			f.client, f.closeable = client, true
		}
	}
	return f, nil
}

func (f *Fetcher) instrument() error {
	meter := f.meter
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(instrumentationName)
	}
	var err error
	f.latency, err = meter.Float64Histogram("secrets.fetch.latency",
		metric.WithUnit("ms"),
		metric.WithDescription("Secret resolution latency by source"))
	if err != nil {
		return fmt.Errorf("secrets: register latency histogram: %w", err)
	}
	f.hits, err = meter.Int64Counter("secrets.fetch.cache_hits",
		metric.WithDescription("Secret resolutions served from cache"))
	if err != nil {
		return fmt.Errorf("secrets: register cache counter: %w", err)
	}
	return nil
}

func (f *Fetcher) Close() error {
	if !f.closeable {
		return nil
	}
	return f.client.Close()
}

// ResolveSecret satisfies config.SecretResolver.
func (f *Fetcher) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f.Resolve(ctx, ref)
}

// Resolve returns the secret for raw from the cache, then Secret Manager, then the fallback
// file. The fallback is only consulted when Secret Manager is unreachable or denies access.
func (f *Fetcher) Resolve(ctx context.Context, raw string) (string, error) {
	start := time.Now()
	ref, err := ParseReference(raw)
	if err != nil {
		return "", err
	}
	if value, ok := f.lookup(ref.cacheKey()); ok {
		f.hits.Add(ctx, 1, metric.WithAttributes(attribute.String("secret", fingerprint(ref.String()))))
		f.record(ctx, start, "cache")
		return value, nil
	}

	type outcome struct{ value, source string }
	v, err, _ := f.flight.Do(ref.cacheKey(), func() (any, error) {
		value, source, err := f.resolve(ctx, ref)
		if err != nil {
			return nil, err
		}
		f.remember(ref.cacheKey(), value)
		return outcome{value, source}, nil
	})
	if err != nil {
		f.record(ctx, start, "error")
		return "", err
	}
	out := v.(outcome)
	f.record(ctx, start, out.source)
	return out.value, nil
}

func (f *Fetcher) resolve(ctx context.Context, ref Reference) (value, source string, err error) {
	project := ref.Project
	if project == "" {
		project = f.project
	}
	if f.client != nil && project != "" {
		value, err := f.access(ctx, ref.resource(project))
		if err == nil {
			return value, "remote", nil
		}
		if !recoverable(err) {
			return "", "", fmt.Errorf("secrets: fetch %s: %w", ref, err)
		}
		f.logger.Debug("secret manager failed, trying fallback file",
			zap.String("secret", fingerprint(ref.String())), zap.Error(err))
	}
	if value, ok := f.fallback.get(ref); ok {
		return value, "fallback", nil
	}
	return "", "", fmt.Errorf("%w: %s", ErrNotFound, ref)
}

func (f *Fetcher) access(ctx context.Context, name string) (string, error) {
	resp, err := f.client.AccessSecretVersion(ctx,
		&secretmanagerpb.AccessSecretVersionRequest{Name: name},
		gax.WithTimeout(accessTimeout))
	if err != nil {
		return "", err
	}
	payload := resp.GetPayload()
	if payload == nil {
		return "", fmt.Errorf("empty payload for %s", name)
	}
	return string(payload.GetData()), nil
}

// Invalidate drops every cached version of raw so the next Resolve refetches it.
func (f *Fetcher) Invalidate(raw string) {
	ref, err := ParseReference(raw)
	if err != nil {
		return
	}
	prefix := ref.String() + "#"
	f.mu.Lock()
	for key := range f.values {
		if strings.HasPrefix(key, prefix) {
			delete(f.values, key)
		}
	}
	f.mu.Unlock()
}

func (f *Fetcher) lookup(key string) (string, bool) {
	f.mu.RLock()
	entry, ok := f.values[key]
	f.mu.RUnlock()
	if !ok || f.now().Sub(entry.at) >= f.ttl {
		return "", false
	}
	return entry.value, true
}

func (f *Fetcher) remember(key, value string) {
	f.mu.Lock()
	f.values[key] = cached{value: value, at: f.now()}
	f.mu.Unlock()
}

func (f *Fetcher) record(ctx context.Context, start time.Time, source string) {
	elapsed := float64(time.Since(start)) / float64(time.Millisecond)
	f.latency.Record(ctx, elapsed, metric.WithAttributes(attribute.String("source", source)))
}

// recoverable reports whether err should send the lookup to the fallback file.
func recoverable(err error) bool {
	switch status.Code(err) {
	case codes.PermissionDenied, codes.Unauthenticated, codes.Unavailable, codes.DeadlineExceeded, codes.NotFound:
		return true
	default:
		return false
	}
}

// fingerprint keeps secret names out of logs and metric labels.
func fingerprint(name string) string {
	sum := sha256.Sum256([]byte(name))
	return hex.EncodeToString(sum[:6])
}

package secrets

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type fakeSecretClient struct {
	mu     sync.Mutex
	values map[string]string
	errs   map[string]error
	calls  map[string]int
}

func newFakeSecretClient() *fakeSecretClient {
	return &fakeSecretClient{values: map[string]string{}, errs: map[string]error{}, calls: map[string]int{}}
}

func (c *fakeSecretClient) AccessSecretVersion(_ context.Context, req *secretmanagerpb.AccessSecretVersionRequest, _ ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls[req.GetName()]++
	if err, ok := c.errs[req.GetName()]; ok {
		return nil, err
	}
	value, ok := c.values[req.GetName()]
	if !ok {
		return nil, status.Error(codes.NotFound, "missing")
	}
	return &secretmanagerpb.AccessSecretVersionResponse{
		Name:    req.GetName(),
		Payload: &secretmanagerpb.SecretPayload{Data: []byte(value)},
	}, nil
}

func (c *fakeSecretClient) Close() error { return nil }

func (c *fakeSecretClient) callCount(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[name]
}

func TestResolveCachesRemoteSecret(t *testing.T) {
	ctx := context.Background()
	client := newFakeSecretClient()
	resource := "projects/shop/secrets/payments-webhook/versions/latest"
	client.values[resource] = "whsec"

	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	fetcher, err := NewFetcher(ctx,
		WithSecretManagerClient(client),
		WithProject("shop"),
		WithFallbackFile(""),
		WithCacheTTL(time.Minute),
		WithLogger(zap.NewNop()),
		withClock(func() time.Time { return now }),
	)
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}
	defer fetcher.Close()

	for i := 0; i < 2; i++ {
		got, err := fetcher.ResolveSecret(ctx, "sm://payments-webhook")
		if err != nil {
			t.Fatalf("resolve %d: %v", i, err)
		}
		if got != "whsec" {
			t.Fatalf("expected whsec, got %q", got)
		}
	}
	if calls := client.callCount(resource); calls != 1 {
		t.Fatalf("expected one remote fetch, got %d", calls)
	}

	now = now.Add(2 * time.Minute)
	if _, err := fetcher.Resolve(ctx, "secret://payments-webhook"); err != nil {
		t.Fatalf("resolve after ttl: %v", err)
	}
	if calls := client.callCount(resource); calls != 2 {
		t.Fatalf("expected refetch after ttl, got %d calls", calls)
	}

	fetcher.Invalidate("secret://payments-webhook")
	if _, err := fetcher.Resolve(ctx, "secret://payments-webhook"); err != nil {
		t.Fatalf("resolve after invalidate: %v", err)
	}
	if calls := client.callCount(resource); calls != 3 {
		t.Fatalf("expected refetch after invalidate, got %d calls", calls)
	}
}

func TestResolveFallsBackWhenSecretManagerUnavailable(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, ".secrets.local")
	content := "# local secrets\nJWT_SIGNING=local-jwt\nexport OTHER=\"quoted\"\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write fallback: %v", err)
	}

	client := newFakeSecretClient()
	client.errs["projects/shop/secrets/jwt-signing/versions/latest"] = status.Error(codes.Unavailable, "down")

	fetcher, err := NewFetcher(ctx, WithSecretManagerClient(client), WithProject("shop"), WithFallbackFile(path))
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}

	got, err := fetcher.Resolve(ctx, "sm://jwt-signing")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got != "local-jwt" {
		t.Fatalf("expected fallback value, got %q", got)
	}
}

func TestResolvePropagatesNonFallbackErrors(t *testing.T) {
	ctx := context.Background()
	client := newFakeSecretClient()
	client.errs["projects/shop/secrets/broken/versions/latest"] = status.Error(codes.InvalidArgument, "bad")

	fetcher, err := NewFetcher(ctx, WithSecretManagerClient(client), WithProject("shop"), WithFallbackFile(""))
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}
	_, err = fetcher.Resolve(ctx, "secret://broken")
	if err == nil || errors.Is(err, ErrNotFound) {
		t.Fatalf("expected remote error, got %v", err)
	}
	if status.Code(errors.Unwrap(err)) != codes.InvalidArgument {
		t.Fatalf("expected wrapped InvalidArgument, got %v", err)
	}
}

func TestResolveWithoutProjectUsesFallbackOnly(t *testing.T) {
	ctx := context.Background()
	fetcher, err := NewFetcher(ctx, WithFallbackFile(filepath.Join(t.TempDir(), "missing")))
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}
	if _, err := fetcher.Resolve(ctx, "secret://anything"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestResolveSharesConcurrentMisses(t *testing.T) {
	ctx := context.Background()
	client := &blockingSecretClient{release: make(chan struct{}), value: "shared"}
	fetcher, err := NewFetcher(ctx, WithSecretManagerClient(client), WithProject("shop"), WithFallbackFile(""))
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}

	const callers = 6
	var wg sync.WaitGroup
	results := make(chan string, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			value, err := fetcher.Resolve(ctx, "secret://mongo-uri")
			if err != nil {
				t.Errorf("resolve: %v", err)
			}
			results <- value
		}()
	}
	for client.started.Load() == 0 {
		time.Sleep(time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)
	close(client.release)
	wg.Wait()
	close(results)

	for value := range results {
		if value != "shared" {
			t.Fatalf("unexpected value %q", value)
		}
	}
	if got := client.started.Load(); got != 1 {
		t.Fatalf("expected one Secret Manager call, got %d", got)
	}
}

type blockingSecretClient struct {
	started atomic.Int32
	release chan struct{}
	value   string
}

func (c *blockingSecretClient) AccessSecretVersion(ctx context.Context, _ *secretmanagerpb.AccessSecretVersionRequest, _ ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error) {
	c.started.Add(1)
	select {
	case <-c.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &secretmanagerpb.AccessSecretVersionResponse{Payload: &secretmanagerpb.SecretPayload{Data: []byte(c.value)}}, nil
}

func (c *blockingSecretClient) Close() error { return nil }

func TestParseReference(t *testing.T) {
	cases := []struct {
		raw     string
		want    Reference
		wantErr bool
	}{
		{raw: "secret://name", want: Reference{Name: "name", Version: "latest"}},
		{raw: "sm://name?version=4&project=other", want: Reference{Name: "name", Version: "4", Project: "other"}},
		{raw: "secret://team/api-key", want: Reference{Name: "team/api-key", Version: "latest"}},
		{raw: "https://name", wantErr: true},
		{raw: "secret://", wantErr: true},
		{raw: " ", wantErr: true},
	}
	for _, tc := range cases {
		got, err := ParseReference(tc.raw)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("%q: expected error", tc.raw)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%q: %v", tc.raw, err)
		}
		if got != tc.want {
			t.Fatalf("%q: got %+v want %+v", tc.raw, got, tc.want)
		}
	}
}

func TestReferenceEnvKey(t *testing.T) {
	ref := Reference{Name: "team/payments-webhook"}
	if got := ref.envKey(); got != "TEAM_PAYMENTS_WEBHOOK" {
		t.Fatalf("unexpected env key %q", got)
	}
	if got := ref.resource("shop"); got != "projects/shop/secrets/team/payments-webhook/versions/" {
		t.Fatalf("unexpected resource %q", got)
	}
}

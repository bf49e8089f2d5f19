package idempotency

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/storefront/api/internal/platform/auth"
	"github.com/storefront/api/internal/platform/httpx"
	"github.com/storefront/api/internal/platform/requestctx"
)

const (
	DefaultHeader    = "Idempotency-Key"
	ReplayHeader     = "X-Idempotent-Replay"
	maxKeyLength     = 255
	maxBodyBytes     = 1 << 20
	anonymousRequest = "anonymous"
)

// RequesterFunc names the principal a key is scoped to.
type RequesterFunc func(r *http.Request) string

// AuthenticatedRequester scopes keys to the verified user. Without one it uses the named
// header (a guest token, for example) and then a shared anonymous scope.
func AuthenticatedRequester(fallbackHeader string) RequesterFunc {
	return func(r *http.Request) string {
		if identity, ok := auth.IdentityFromContext(r.Context()); ok && identity.UID != "" {
			return "user:" + identity.UID
		}
		if fallbackHeader == "" {
			return anonymousRequest
		}
		if token := strings.TrimSpace(r.Header.Get(fallbackHeader)); token != "" {
			return "guest:" + token
		}
		return anonymousRequest
	}
}

type guard struct {
	store     Store
	header    string
	ttl       time.Duration
	optional  bool
	now       func() time.Time
	logger    *zap.Logger
	requester RequesterFunc
}

type MiddlewareOption func(*guard)

func WithHeader(name string) MiddlewareOption {
	return func(g *guard) {
		if name = strings.TrimSpace(name); name != "" {
			g.header = name
		}
	}
}

func WithTTL(ttl time.Duration) MiddlewareOption {
	return func(g *guard) {
		if ttl > 0 {
			g.ttl = ttl
		}
	}
}

// WithOptionalKey lets requests without a key through unguarded.
func WithOptionalKey() MiddlewareOption {
	return func(g *guard) { g.optional = true }
}

func WithLogger(logger *zap.Logger) MiddlewareOption {
	return func(g *guard) {
		if logger != nil {
			g.logger = logger
		}
	}
}

func WithClock(clock func() time.Time) MiddlewareOption {
	return func(g *guard) {
		if clock != nil {
			g.now = clock
		}
	}
}

// WithRequester replaces the default scoping, which uses the authenticated uid.
func WithRequester(fn RequesterFunc) MiddlewareOption {
	return func(g *guard) {
		if fn != nil {
			g.requester = fn
		}
	}
}

// Middleware replays the first completed response for a repeated key. Server errors are not
// stored, so the client may retry them with the same key.
func Middleware(store Store, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	g := &guard{
		store:     store,
		header:    DefaultHeader,
		ttl:       DefaultTTL,
		now:       time.Now,
		logger:    zap.NewNop(),
		requester: AuthenticatedRequester(""),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return func(next http.Handler) http.Handler {
		if store == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			g.serve(w, r, next)
		})
	}
}

func errKeyRequired(header string) httpx.Error {
	return httpx.NewError("idempotency_key_required", header+" header is required", http.StatusBadRequest)
}

var (
	errKeyTooLong  = httpx.NewError("invalid_idempotency_key", "idempotency key is too long", http.StatusBadRequest)
	errUnreadable  = httpx.NewError("invalid_request", "unable to read request body", http.StatusBadRequest)
	errKeyConflict = httpx.NewError("idempotency_key_conflict", "idempotency key already used for a different request", http.StatusConflict)
	errKeyBusy     = httpx.NewError("idempotency_in_progress", "a request with this idempotency key is still processing", http.StatusConflict)
	errUnavailable = httpx.NewError("idempotency_unavailable", "unable to process idempotency key", http.StatusServiceUnavailable)
)

func (g *guard) serve(w http.ResponseWriter, r *http.Request, next http.Handler) {
	ctx := r.Context()
	logger, ok := requestctx.LoggerFrom(ctx)
	if !ok {
		logger = g.logger
	}

	key := strings.TrimSpace(r.Header.Get(g.header))
	switch {
	case key == "" && g.optional:
		next.ServeHTTP(w, r)
		return
	case key == "":
		httpx.WriteError(ctx, w, errKeyRequired(g.header))
		return
	case len(key) > maxKeyLength:
		httpx.WriteError(ctx, w, errKeyTooLong)
		return
	}

	body, err := bufferBody(r)
	if err != nil {
		httpx.WriteError(ctx, w, errUnreadable)
		return
	}
	requester := g.requester(r)
	scoped := key + "|" + requester
	fingerprint := requestFingerprint(r, body, requester)

	res, err := g.store.Reserve(ctx, scoped, fingerprint, g.now(), g.ttl)
	switch {
	case errors.Is(err, ErrFingerprintMismatch):
		httpx.WriteError(ctx, w, errKeyConflict)
		return
	case err != nil:
		logger.Error("idempotency reserve failed", zap.Error(err))
		httpx.WriteError(ctx, w, errUnavailable)
		return
	case res.State == ReservationCompleted:
		replay(w, res.Record)
		return
	case res.State == ReservationPending:
		httpx.WriteError(ctx, w, errKeyBusy)
		return
	}

	buf := &bufferedWriter{header: http.Header{}}
	g.run(next, buf, r, scoped, logger)

	if buf.code() >= http.StatusInternalServerError {
		g.release(r, scoped, logger)
	} else {
		resp := Response{Status: buf.code(), Headers: buf.header, Body: buf.body.Bytes()}
		if err := g.store.Complete(ctx, scoped, fingerprint, resp, g.now(), g.ttl); err != nil {
			// The handler's effect already happened; answer anyway.
			logger.Error("idempotency complete failed", zap.Error(err))
		}
	}
	if err := buf.flushTo(w); err != nil {
		logger.Debug("idempotency flush failed", zap.Error(err))
	}
}

// run invokes next and frees the key before re-raising a panic.
func (g *guard) run(next http.Handler, w http.ResponseWriter, r *http.Request, scoped string, logger *zap.Logger) {
	defer func() {
		if rec := recover(); rec != nil {
			g.release(r, scoped, logger)
			panic(rec)
		}
	}()
	next.ServeHTTP(w, r)
}

func (g *guard) release(r *http.Request, scoped string, logger *zap.Logger) {
	if err := g.store.Release(r.Context(), scoped); err != nil {
		logger.Warn("idempotency release failed", zap.Error(err))
	}
}

// bufferBody reads the body so it can be fingerprinted and hands the handler a fresh reader.
func bufferBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	defer r.Body.Close()
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return nil, err
	}
	r.Body = io.NopCloser(bytes.NewReader(data))
	return data, nil
}

func requestFingerprint(r *http.Request, body []byte, requester string) string {
	h := sha256.New()
	_, _ = io.WriteString(h, strings.Join([]string{r.Method, r.URL.Path, r.URL.RawQuery, requester}, "|"))
	h.Write([]byte{'|'})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

func replay(w http.ResponseWriter, record Record) {
	dst := w.Header()
	for name, values := range record.ResponseHeaders {
		dst[name] = append(dst[name], values...)
	}
	dst.Set(ReplayHeader, "true")
	status := record.ResponseStatus
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if len(record.ResponseBody) > 0 {
		_, _ = w.Write(record.ResponseBody)
	}
}

// bufferedWriter holds the handler output until the store has been updated.
type bufferedWriter struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func (b *bufferedWriter) Header() http.Header { return b.header }

func (b *bufferedWriter) WriteHeader(status int) {
	if b.status == 0 {
		b.status = status
	}
}

func (b *bufferedWriter) Write(p []byte) (int, error) {
	b.WriteHeader(http.StatusOK)
	return b.body.Write(p)
}

func (b *bufferedWriter) code() int {
	if b.status == 0 {
		return http.StatusOK
	}
	return b.status
}

func (b *bufferedWriter) flushTo(w http.ResponseWriter) error {
	dst := w.Header()
	for name, values := range b.header {
		dst[name] = append([]string(nil), values...)
	}
	w.WriteHeader(b.code())
	if b.body.Len() == 0 {
		return nil
	}
	_, err := w.Write(b.body.Bytes())
	return err
}

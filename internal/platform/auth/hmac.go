package auth

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/storefront/api/internal/platform/httpx"
)

const (
	SignatureHeader          = "X-Signature"
	SignatureTimestampHeader = "X-Signature-Timestamp"

	defaultClockSkew  = 5 * time.Minute
	maxSignedBodySize = 1 << 20
)

// HMACValidator authenticates payment provider webhooks. The signature is the hex HMAC-SHA256
// of "<unix timestamp>.<raw body>" under the shared secret.
type HMACValidator struct {
	secret    []byte
	clockSkew time.Duration
	now       func() time.Time
}

type HMACOption func(*HMACValidator)

// WithClockSkew sets how far the signature timestamp may drift from the server clock.
func WithClockSkew(skew time.Duration) HMACOption {
	return func(v *HMACValidator) {
		if skew > 0 {
			v.clockSkew = skew
		}
	}
}

func NewHMACValidator(secret string, opts ...HMACOption) *HMACValidator {
	v := &HMACValidator{secret: []byte(secret), clockSkew: defaultClockSkew, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v
}

// Sign renders the signature for body at ts. Used by tests and local tooling.
func (v *HMACValidator) Sign(ts time.Time, body []byte) string {
	return hex.EncodeToString(computeHMAC(v.secret, signedPayload(strconv.FormatInt(ts.Unix(), 10), body)))
}

// RequireHMAC verifies the signature headers and restores the body for the next handler.
func (v *HMACValidator) RequireHMAC() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if v == nil || len(v.secret) == 0 {
				httpx.WriteError(ctx, w, httpx.NewError("verification_unavailable", "webhook secret not configured", http.StatusServiceUnavailable))
				return
			}

			stamp := strings.TrimSpace(r.Header.Get(SignatureTimestampHeader))
			seconds, err := strconv.ParseInt(stamp, 10, 64)
			if err != nil {
				httpx.WriteError(ctx, w, httpx.NewError("timestamp_invalid", "signature timestamp missing or invalid", http.StatusUnauthorized))
				return
			}
			if skew := v.now().Sub(time.Unix(seconds, 0)); skew > v.clockSkew || skew < -v.clockSkew {
				httpx.WriteError(ctx, w, httpx.NewError("timestamp_skew", "signature timestamp outside allowed window", http.StatusUnauthorized))
				return
			}

			signature, err := hex.DecodeString(strings.TrimSpace(r.Header.Get(SignatureHeader)))
			if err != nil || len(signature) == 0 {
				httpx.WriteError(ctx, w, httpx.NewError("signature_invalid", "signature missing or not hex encoded", http.StatusUnauthorized))
				return
			}

			body, err := io.ReadAll(io.LimitReader(r.Body, maxSignedBodySize))
			if err != nil {
				httpx.WriteError(ctx, w, httpx.NewError("invalid_body", "unable to read body", http.StatusBadRequest))
				return
			}
			_ = r.Body.Close()
			r.Body = io.NopCloser(bytes.NewReader(body))

			if !hmac.Equal(signature, computeHMAC(v.secret, signedPayload(stamp, body))) {
				httpx.WriteError(ctx, w, httpx.NewError("signature_mismatch", "signature verification failed", http.StatusUnauthorized))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func signedPayload(stamp string, body []byte) []byte {
	out := make([]byte, 0, len(stamp)+1+len(body))
	out = append(out, stamp...)
	out = append(out, '.')
	return append(out, body...)
}

func computeHMAC(secret, message []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write(message)
	return mac.Sum(nil)
}

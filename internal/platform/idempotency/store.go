// Package idempotency replays the first response of a checkout request when a client retries it
// with the same Idempotency-Key.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"time"
)

// DefaultTTL bounds how long a completed checkout can be replayed.
const DefaultTTL = 24 * time.Hour

// Status of a stored key.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
)

// ReservationState is the outcome of Reserve.
type ReservationState int

const (
	// ReservationNew means the caller owns the key and must run the request.
	ReservationNew ReservationState = iota
	// ReservationCompleted means Record holds a response to replay.
	ReservationCompleted
	// ReservationPending means another request with the key is still running.
	ReservationPending
)

func (s ReservationState) String() string {
	switch s {
	case ReservationNew:
		return "new"
	case ReservationCompleted:
		return "completed"
	case ReservationPending:
		return "pending"
	default:
		return "unknown"
	}
}

type Reservation struct {
	State  ReservationState
	Record Record
}

// Record is what a store keeps per key.
type Record struct {
	Key             string              `json:"key" firestore:"key"`
	Fingerprint     string              `json:"fingerprint" firestore:"fingerprint"`
	Status          Status              `json:"status" firestore:"status"`
	ResponseStatus  int                 `json:"responseStatus,omitempty" firestore:"responseStatus"`
	ResponseHeaders map[string][]string `json:"responseHeaders,omitempty" firestore:"responseHeaders"`
	ResponseBody    []byte              `json:"responseBody,omitempty" firestore:"responseBody"`
	CreatedAt       time.Time           `json:"createdAt" firestore:"createdAt"`
	ExpiresAt       time.Time           `json:"expiresAt" firestore:"expiresAt"`
}

// Response is the captured handler output.
type Response struct {
	Status  int
	Headers http.Header
	Body    []byte
}

// Store persists reservations. Implementations must make Reserve atomic per key.
type Store interface {
	Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error)
	Complete(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error
	Release(ctx context.Context, key string) error
}

// ErrFingerprintMismatch is returned when a key is reused for a different request.
var ErrFingerprintMismatch = errors.New("idempotency: key reused for a different request")

// claim opens a pending record owned by the caller.
func claim(key, fingerprint string, now time.Time, ttl time.Duration) Record {
	now = now.UTC()
	return Record{
		Key:         key,
		Fingerprint: fingerprint,
		Status:      StatusPending,
		CreatedAt:   now,
		ExpiresAt:   now.Add(lifetime(ttl)),
	}
}

func (r Record) liveAt(now time.Time) bool { return now.Before(r.ExpiresAt) }

// reservation reports how a second caller presenting fingerprint should treat r.
func (r Record) reservation(fingerprint string) (Reservation, error) {
	if r.Fingerprint != fingerprint {
		return Reservation{}, ErrFingerprintMismatch
	}
	state := ReservationPending
	if r.Status == StatusCompleted {
		state = ReservationCompleted
	}
	return Reservation{State: state, Record: r}, nil
}

// settle stores resp on r and restarts its lifetime from now.
func (r Record) settle(resp Response, now time.Time, ttl time.Duration) Record {
	r.Status = StatusCompleted
	r.ResponseStatus = resp.Status
	r.ResponseHeaders = replayableHeaders(resp.Headers)
	r.ResponseBody = append([]byte(nil), resp.Body...)
	r.ExpiresAt = now.UTC().Add(lifetime(ttl))
	return r
}

// settleOrClaim completes an existing record, or a fresh one when the reservation was lost.
func settleOrClaim(existing *Record, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) (Record, error) {
	base := claim(key, fingerprint, now, ttl)
	if existing != nil {
		if existing.Fingerprint != fingerprint {
			return Record{}, ErrFingerprintMismatch
		}
		base = *existing
	}
	return base.settle(resp, now, ttl), nil
}

func lifetime(ttl time.Duration) time.Duration {
	if ttl > 0 {
		return ttl
	}
	return DefaultTTL
}

// hashKey turns arbitrary client input into a fixed-length storage id.
func hashKey(key string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(key)))
	return hex.EncodeToString(sum[:])
}

var transportHeaders = map[string]struct{}{
	"Content-Length":    {},
	"Date":              {},
	"Connection":        {},
	"Transfer-Encoding": {},
	"Set-Cookie":        {},
}

func replayableHeaders(header http.Header) map[string][]string {
	var out map[string][]string
	for name, values := range header {
		name = http.CanonicalHeaderKey(name)
		if _, skip := transportHeaders[name]; skip {
			continue
		}
		if out == nil {
			out = make(map[string][]string, len(header))
		}
		out[name] = append([]string(nil), values...)
	}
	return out
}

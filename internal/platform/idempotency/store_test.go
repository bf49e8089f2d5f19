package idempotency

import (
	"errors"
	"net/http"
	"testing"
	"time"
)

func TestRecordReservation(t *testing.T) {
	pending := claim("k", "fp", fixedTime, 0)
	if got := pending.ExpiresAt.Sub(pending.CreatedAt); got != DefaultTTL {
		t.Fatalf("expected default ttl, got %s", got)
	}
	if !pending.liveAt(fixedTime.Add(time.Hour)) || pending.liveAt(pending.ExpiresAt) {
		t.Fatal("expected record to be live until, but not at, ExpiresAt")
	}

	res, err := pending.reservation("fp")
	if err != nil || res.State != ReservationPending {
		t.Fatalf("expected pending reservation, got %v %v", res.State, err)
	}
	if _, err := pending.reservation("other"); !errors.Is(err, ErrFingerprintMismatch) {
		t.Fatalf("expected fingerprint mismatch, got %v", err)
	}

	done := pending.settle(Response{
		Status:  http.StatusCreated,
		Headers: http.Header{"content-type": {"application/json"}, "Set-Cookie": {"s=1"}},
		Body:    []byte(`{}`),
	}, fixedTime.Add(time.Minute), time.Hour)
	res, err = done.reservation("fp")
	if err != nil || res.State != ReservationCompleted {
		t.Fatalf("expected completed reservation, got %v %v", res.State, err)
	}
	if _, ok := done.ResponseHeaders["Set-Cookie"]; ok {
		t.Fatal("set-cookie must not be replayed")
	}
	if got := done.ResponseHeaders["Content-Type"]; len(got) != 1 || got[0] != "application/json" {
		t.Fatalf("expected canonical content type, got %v", done.ResponseHeaders)
	}
	if want := fixedTime.Add(time.Minute + time.Hour); !done.ExpiresAt.Equal(want) {
		t.Fatalf("expected lifetime restarted at completion, got %s", done.ExpiresAt)
	}
}

func TestSettleOrClaim(t *testing.T) {
	done, err := settleOrClaim(nil, "k", "fp", Response{Status: http.StatusOK}, fixedTime, time.Hour)
	if err != nil {
		t.Fatalf("settle lost reservation: %v", err)
	}
	if done.Status != StatusCompleted || done.Key != "k" {
		t.Fatalf("unexpected record %+v", done)
	}

	existing := claim("k", "fp", fixedTime, time.Hour)
	if _, err := settleOrClaim(&existing, "k", "other", Response{}, fixedTime, time.Hour); !errors.Is(err, ErrFingerprintMismatch) {
		t.Fatalf("expected mismatch, got %v", err)
	}
}

func TestReservationStateString(t *testing.T) {
	for state, want := range map[ReservationState]string{
		ReservationNew:       "new",
		ReservationCompleted: "completed",
		ReservationPending:   "pending",
		ReservationState(42): "unknown",
	} {
		if got := state.String(); got != want {
			t.Fatalf("%d: got %q want %q", state, got, want)
		}
	}
}

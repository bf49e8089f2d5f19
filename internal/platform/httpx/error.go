// Package httpx holds the JSON envelope helpers shared by every HTTP handler.
package httpx

import (
	"context"
	"encoding/json"
	"maps"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/storefront/api/internal/platform/requestctx"
)

const (
	maxCodeLen    = 80
	maxMessageLen = 512
	maxIDLen      = 80
)

// Error is a client-facing failure. It renders as
// {"error": Code, "message": Message, "status": Status, "request_id", "trace_id", ...Details};
// Details never override the reserved keys.
type Error struct {
	Code    string
	Message string
	Status  int
	Details map[string]any
}

// NewError builds an Error. Code and message are flattened to one line and clipped, and a zero
// status means 500.
func NewError(code, message string, status int) Error {
	if status == 0 {
		status = http.StatusInternalServerError
	}
	return Error{Code: oneLine(code, maxCodeLen), Message: oneLine(message, maxMessageLen), Status: status}
}

func (e Error) Error() string { return e.Code + ": " + e.Message }

// WithDetails returns a copy of e with details added.
func (e Error) WithDetails(details map[string]any) Error {
	if len(details) == 0 {
		return e
	}
	merged := maps.Clone(e.Details)
	if merged == nil {
		merged = make(map[string]any, len(details))
	}
	maps.Copy(merged, details)
	e.Details = merged
	return e
}

func (e Error) body(ctx context.Context) map[string]any {
	body := maps.Clone(e.Details)
	if body == nil {
		body = make(map[string]any, 5)
	}
	body["error"] = e.Code
	body["message"] = e.Message
	body["status"] = e.Status
	delete(body, "request_id")
	delete(body, "trace_id")
	if id := oneLine(middleware.GetReqID(ctx), maxIDLen); id != "" {
		body["request_id"] = id
	}
	if id := oneLine(requestctx.TraceID(ctx), maxIDLen); id != "" {
		body["trace_id"] = id
	}
	return body
}

// WriteError renders err with the request and trace ids found on ctx.
func WriteError(ctx context.Context, w http.ResponseWriter, err Error) {
	if err.Status == 0 {
		err.Status = http.StatusInternalServerError
	}
	WriteJSON(w, err.Status, err.body(ctx))
}

// WriteJSON encodes payload with the given status. A nil payload writes only the status.
func WriteJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if payload != nil {
		_ = json.NewEncoder(w).Encode(payload)
	}
}

func oneLine(s string, limit int) string {
	s = strings.TrimSpace(strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' {
			return ' '
		}
		return r
	}, s))
	if len(s) <= limit {
		return s
	}
	s = s[:limit]
	for len(s) > 0 && !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s
}

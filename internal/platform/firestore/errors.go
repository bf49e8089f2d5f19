package firestore

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Kind classifies a failed call in the terms repositories.RepositoryError exposes.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindNotFound
	KindConflict
	KindUnavailable
)

// Aborted covers a lost transaction race and OutOfRange a counter overflow; both surface to
// services as conflicts.
var kindByCode = map[codes.Code]Kind{
	codes.NotFound:           KindNotFound,
	codes.AlreadyExists:      KindConflict,
	codes.FailedPrecondition: KindConflict,
	codes.Aborted:            KindConflict,
	codes.OutOfRange:         KindConflict,
	codes.Unavailable:        KindUnavailable,
	codes.ResourceExhausted:  KindUnavailable,
	codes.Internal:           KindUnavailable,
}

// Error is the error type every helper in this package returns for backend failures.
type Error struct {
	Op   string
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) IsNotFound() bool    { return e != nil && e.Kind == KindNotFound }
func (e *Error) IsConflict() bool    { return e != nil && e.Kind == KindConflict }
func (e *Error) IsUnavailable() bool { return e != nil && e.Kind == KindUnavailable }

// NotFound reports a document a query failed to find.
func NotFound(op, message string) error {
	return &Error{Op: op, Kind: KindNotFound, Err: errors.New(message)}
}

// Conflict reports a precondition checked in Go rather than by the backend.
func Conflict(op, message string) error {
	return &Error{Op: op, Kind: KindConflict, Err: errors.New(message)}
}

// IsNotFound reports whether err carries a not-found *Error.
func IsNotFound(err error) bool {
	var fsErr *Error
	return errors.As(err, &fsErr) && fsErr.IsNotFound()
}

// WrapError classifies err by its gRPC status. Cancellation is returned as the plain context
// error and an *Error already in the chain is returned as is.
func WrapError(op string, err error) error {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	code := status.Code(err)
	switch code {
	case codes.Canceled:
		return context.Canceled
	case codes.DeadlineExceeded:
		return context.DeadlineExceeded
	}
	var fsErr *Error
	if errors.As(err, &fsErr) {
		return fsErr
	}
	return &Error{Op: op, Kind: kindByCode[code], Err: err}
}

package repositories

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a StoreError.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindNotFound
	KindConflict
	KindUnavailable
)

// StoreError is a RepositoryError for backends without a richer native error type.
type StoreError struct {
	Op   string
	Kind ErrorKind
	Err  error
}

var _ RepositoryError = (*StoreError)(nil)

// NewStoreError annotates err with an operation and kind.
func NewStoreError(op string, kind ErrorKind, err error) *StoreError {
	if err == nil {
		err = errors.New(kindText(kind))
	}
	return &StoreError{Op: op, Kind: kind, Err: err}
}

// NotFound builds a not-found error for the resource id.
func NotFound(op, resource, id string) *StoreError {
	return NewStoreError(op, KindNotFound, fmt.Errorf("%s %s not found", resource, id))
}

// Conflict builds a conflict error with a message.
func Conflict(op, message string) *StoreError {
	return NewStoreError(op, KindConflict, errors.New(message))
}

func (e *StoreError) Error() string {
	if e == nil {
		return ""
	}
	if e.Op == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *StoreError) IsNotFound() bool    { return e != nil && e.Kind == KindNotFound }
func (e *StoreError) IsConflict() bool    { return e != nil && e.Kind == KindConflict }
func (e *StoreError) IsUnavailable() bool { return e != nil && e.Kind == KindUnavailable }

func kindText(kind ErrorKind) string {
	switch kind {
	case KindNotFound:
		return "not found"
	case KindConflict:
		return "conflict"
	case KindUnavailable:
		return "unavailable"
	default:
		return "storage error"
	}
}

// CounterErrorCode enumerates failure reasons for counter operations.
type CounterErrorCode string

const (
	CounterErrorInvalidInput CounterErrorCode = "counter_invalid_input"
	// CounterErrorExhausted means the configured max value would be exceeded.
	CounterErrorExhausted CounterErrorCode = "counter_exhausted"
)

// CounterError carries a machine readable code for counter failures.
type CounterError struct {
	Code    CounterErrorCode
	Message string
	Err     error
}

// NewCounterError constructs a typed counter error.
func NewCounterError(code CounterErrorCode, message string, err error) *CounterError {
	if message == "" {
		message = string(code)
	}
	return &CounterError{Code: code, Message: message, Err: err}
}

func (e *CounterError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

func (e *CounterError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IsNotFound reports whether err is a RepositoryError for a missing record.
func IsNotFound(err error) bool {
	var repoErr RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

// IsConflict reports whether err is a RepositoryError for a conflicting write.
func IsConflict(err error) bool {
	var repoErr RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsConflict()
}

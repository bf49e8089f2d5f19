package services

import (
	"errors"
	"fmt"

	"github.com/storefront/api/internal/repositories"
)

// Error kinds surfaced by every service. Callers match them with errors.Is.
var (
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrValidation        = errors.New("validation failed")
	ErrUnavailable       = errors.New("unavailable")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrAccessDenied      = errors.New("access denied")
	// ErrInfrastructure marks storage or broker failures that are not domain outcomes.
	ErrInfrastructure = errors.New("infrastructure failure")
)

// Specialised outcomes. Each one also matches its kind.
var (
	ErrDuplicateCoupon    = fmt.Errorf("%w: coupon already applied", ErrConflict)
	ErrCartConverted      = fmt.Errorf("%w: cart already converted", ErrConflict)
	ErrCartInactive       = fmt.Errorf("%w: cart is not active", ErrConflict)
	ErrEmptyCart          = fmt.Errorf("%w: cart is empty", ErrValidation)
	ErrProductUnavailable = fmt.Errorf("%w: product unavailable", ErrUnavailable)
	ErrCannotCancel       = fmt.Errorf("%w: order cannot be cancelled", ErrInvalidTransition)
	ErrCounterExhausted   = fmt.Errorf("%w: counter exhausted", ErrUnavailable)
	ErrCounterInvalid     = fmt.Errorf("%w: invalid counter input", ErrValidation)
)

// NotFoundError identifies the missing resource.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Resource, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

func notFound(resource, id string) error {
	return &NotFoundError{Resource: resource, ID: id}
}

// ProductUnavailableError names the product that blocked a checkout or add.
type ProductUnavailableError struct {
	ProductRef string
}

func (e *ProductUnavailableError) Error() string {
	return fmt.Sprintf("product %q is unavailable", e.ProductRef)
}

func (e *ProductUnavailableError) Unwrap() error { return ErrProductUnavailable }

func productUnavailable(ref string) error {
	return &ProductUnavailableError{ProductRef: ref}
}

// ValidationError lists the offending fields.
type ValidationError struct {
	Fields  []string
	Message string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Fields)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func invalid(format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

func invalidFields(message string, fields ...string) error {
	return &ValidationError{Message: message, Fields: fields}
}

func isDomainError(err error) bool {
	for _, kind := range []error{ErrNotFound, ErrConflict, ErrValidation, ErrUnavailable, ErrInvalidTransition, ErrAccessDenied, ErrInfrastructure} {
		if errors.Is(err, kind) {
			return true
		}
	}
	return false
}

// translateRepoError maps persistence failures onto the service taxonomy. Domain errors raised
// inside mutation callbacks pass through untouched.
func translateRepoError(resource, id string, err error) error {
	if err == nil {
		return nil
	}
	if isDomainError(err) {
		return err
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return notFound(resource, id)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: concurrent update of %s %s", ErrConflict, resource, id)
		}
	}
	return fmt.Errorf("%w: %s %s: %v", ErrInfrastructure, resource, id, err)
}

// Package shared holds the error kinds and domain events every layer of the
// progression hub agrees on. It imports nothing outside the standard library.
package shared

import (
	"errors"
	"fmt"
)

// Error kinds. Match them with errors.Is.
var (
	ErrNotFound = errors.New("not found")

	ErrValidation   = errors.New("validation error")
	ErrInvalidID    = errors.New("invalid ID")
	ErrInvalidInput = errors.New("invalid input")

	// The record store or the cache failed to answer.
	ErrExternalService    = errors.New("external service error")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrTimeout            = errors.New("operation timeout")
)

// DomainError carries where an error happened along with its kind.
type DomainError struct {
	Domain  string // "profile", "content"
	Op      string // "Find", "Update", "Validate"
	Kind    error
	Message string
	Err     error // cause, optional
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Domain, e.Op, e.Message)
}

// Unwrap returns the cause, or the kind when there is none.
func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is matches both the kind and the cause, so a wrapped ErrProfileWriteFailed
// is still an ErrExternalService.
func (e *DomainError) Is(target error) bool {
	return (e.Kind != nil && errors.Is(e.Kind, target)) ||
		(e.Err != nil && errors.Is(e.Err, target))
}

// NewDomainError creates a sentinel DomainError without a cause.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{Domain: domain, Op: op, Kind: kind, Message: message}
}

// WrapError attaches domain context to err.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{Domain: domain, Op: op, Kind: kind, Message: message, Err: err}
}

// Profile sync outcomes.
var (
	ErrProfileNotFound    = NewDomainError("profile", "Find", ErrNotFound, "no profile record")
	ErrInvalidProfileID   = NewDomainError("profile", "Validate", ErrInvalidID, "invalid profile ID")
	ErrProfileWriteFailed = NewDomainError("profile", "Update", ErrExternalService, "failed to persist progression")
)

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsValidation reports whether err was caused by bad input.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidID) ||
		errors.Is(err, ErrInvalidInput)
}

// IsExternalService reports whether a backing store failed. Such errors are
// worth retrying.
func IsExternalService(err error) bool {
	return errors.Is(err, ErrExternalService) ||
		errors.Is(err, ErrServiceUnavailable) ||
		errors.Is(err, ErrTimeout)
}

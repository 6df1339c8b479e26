// Package domain contains the inventory entities and business logic errors.
package domain

import (
	"errors"
	"fmt"
)

// Common domain errors
var (
	// ErrNotFound is returned when a requested resource is not found.
	ErrNotFound = errors.New("resource not found")

	// ErrAlreadyExists is returned when a resource with the same key already exists.
	ErrAlreadyExists = errors.New("resource already exists")

	// ErrInvalidArgument is returned when an invalid argument is provided.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrPermissionDenied is returned when the user lacks permission for an operation.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrConflict is returned when a write targets a stale version.
	ErrConflict = errors.New("conflict with current state")

	// ErrUnavailable is returned when a service or resource is unavailable.
	ErrUnavailable = errors.New("service unavailable")

	// ErrUnauthenticated is returned when credentials are missing or wrong.
	ErrUnauthenticated = errors.New("invalid credentials")

	// ErrAccountLocked is returned while a user is locked out after failed logins.
	ErrAccountLocked = errors.New("account temporarily locked")

	// ErrReadOnly is returned when a client writes a system-managed kind.
	ErrReadOnly = errors.New("resource is read-only")

	// ErrRateLimited is returned when a caller exceeds its request budget.
	ErrRateLimited = errors.New("too many requests")
)

// ConversionError reports a CloudStack payload that could not be mapped onto an entity.
// Key is the record's external key when it could be read before the failure.
type ConversionError struct {
	Kind  Kind
	Key   string
	Field string
	Cause error
}

func (e *ConversionError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("convert %s %q: field %q: %v", e.Kind, e.Key, e.Field, e.Cause)
	}
	return fmt.Sprintf("convert %s: field %q: %v", e.Kind, e.Field, e.Cause)
}

func (e *ConversionError) Unwrap() []error {
	return []error{ErrInvalidArgument, e.Cause}
}

// ErrMissingField is the cause of a ConversionError for an absent required key.
var ErrMissingField = errors.New("missing required field")

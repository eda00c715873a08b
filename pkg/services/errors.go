package services

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when an entity is not found
	ErrNotFound = errors.New("entity not found")

	// ErrAlreadyExists is returned when attempting to create a duplicate entity
	ErrAlreadyExists = errors.New("entity already exists")

	// ErrInvalidInput is returned when input validation fails
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnauthorized is returned when no project matches the presented token
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden is returned when the project exists but may not act
	// (suspended, or the operation is root-only)
	ErrForbidden = errors.New("forbidden")

	// ErrConflict is returned when a concurrent flush holds the user lock
	ErrConflict = errors.New("conflicting operation in progress")

	// ErrParseFailure is returned when a model reply does not follow the
	// expected line grammar
	ErrParseFailure = errors.New("model reply not parseable")

	// ErrQuotaExceeded is returned when a project is out of LLM tokens
	ErrQuotaExceeded = errors.New("token quota exceeded")

	// ErrServiceUnavailable is returned when a dependency (LLM provider,
	// Redis, database) cannot serve the request
	ErrServiceUnavailable = errors.New("service unavailable")
)

// ValidationError wraps field-specific validation errors
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

// Unwrap lets callers treat validation errors as ErrInvalidInput.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}

// NewValidationError creates a new validation error
func NewValidationError(field, message string) error {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInsufficientFunds is returned when cash cannot cover a withdrawal or investment
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrNoCapableWorker is returned when no active worker declares the capability
	ErrNoCapableWorker = errors.New("no capable worker available")
	// ErrWorkerNotAvailable is returned when a targeted worker is unknown or inactive
	ErrWorkerNotAvailable = errors.New("worker not available")
	// ErrTaskNotFound is returned for unknown task ids
	ErrTaskNotFound = errors.New("task not found")
	// ErrInvalidTransition is returned when a task would leave a terminal state
	ErrInvalidTransition = errors.New("invalid task status transition")
)

// ValidationError reports a rejected request field
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// NewValidationError creates a validation error for a field
func NewValidationError(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// MissingFieldError is the error returned for absent request fields
func MissingFieldError(field string) error {
	return &ValidationError{Message: "Missing required field: " + field}
}

// IsValidationError reports whether err wraps a ValidationError
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

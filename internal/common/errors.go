// Package common defines sentinel errors shared by the store, service and
// HTTP layers. Callers should match them with errors.Is / errors.As.
package common

import (
	"errors"
	"strings"
)

var (
	// Store-level errors.
	ErrNotFound = errors.New("not found")

	// Service-level errors.
	ErrInternal     = errors.New("internal error")
	ErrUnauthorized = errors.New("unauthorized")
	ErrConflict     = errors.New("conflict")

	// ErrInUse is returned when a record is still referenced elsewhere.
	ErrInUse = errors.New("in use")
)

// ValidationError carries every problem found while validating user input.
// Validation always happens before any collaborator call.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Problems, "; ")
}

// NewValidationError returns nil when problems is empty, so callers can
// write `if err := NewValidationError(p); err != nil`.
func NewValidationError(problems []string) error {
	if len(problems) == 0 {
		return nil
	}
	return &ValidationError{Problems: problems}
}

// InUseError reports the records blocking a delete.
type InUseError struct {
	What     string
	Blockers []string
}

func (e *InUseError) Error() string {
	return e.What + " is referenced by: " + strings.Join(e.Blockers, ", ")
}

func (e *InUseError) Unwrap() error { return ErrInUse }

// OpError is a collaborator failure carrying a message fit for end users.
type OpError struct {
	Message string
	Err     error
}

func (e *OpError) Error() string { return e.Message + ": " + e.Err.Error() }

func (e *OpError) Unwrap() error { return e.Err }

// Op wraps err with a user-facing message. A nil err stays nil.
func Op(message string, err error) error {
	if err == nil {
		return nil
	}
	return &OpError{Message: message, Err: err}
}

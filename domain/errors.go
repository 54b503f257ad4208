package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a record does not exist or belongs to another owner.
	ErrNotFound = errors.New("not found")
	// ErrValidation marks malformed or out-of-range input.
	ErrValidation = errors.New("invalid input")
	// ErrUnauthorized is returned when an operation is attempted without an owner.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrConflict is returned when creating something that already exists.
	ErrConflict = errors.New("already exists")
)

// ValidationError describes a single rejected field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// PositionError reports a position outside the owner's current task list.
type PositionError struct {
	Position int
	Count    int
}

func (e *PositionError) Error() string {
	return fmt.Sprintf("task #%d not found: %d tasks", e.Position, e.Count)
}

func (e *PositionError) Unwrap() error { return ErrNotFound }

// RequireOwner rejects empty owner identities.
func RequireOwner(owner string) error {
	if owner == "" {
		return ErrUnauthorized
	}
	return nil
}

package entity

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a lookup matches no stored entity.
	ErrNotFound = errors.New("entity not found")

	// ErrInvalidRecord marks an upstream feed record too malformed to store.
	ErrInvalidRecord = errors.New("invalid feed record")
)

// ValidationError names the field that failed validation and why. Callers
// can unwrap it with errors.As to surface the offending field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

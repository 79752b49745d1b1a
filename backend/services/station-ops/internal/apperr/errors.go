// Package apperr defines the error kinds shared by the coordinators and their adapters.
package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks input that can never succeed as given.
	ErrValidation = errors.New("validation error")
	// ErrNotFound marks a missing station, post, slot, booking or token.
	ErrNotFound = errors.New("not found")
	// ErrConflict marks a lost race or an ineligible resource; retrying may succeed.
	ErrConflict = errors.New("conflict")
	// ErrStorage marks a transaction that could not commit.
	ErrStorage = errors.New("storage failure")
)

// ErrInvalidState marks a transition attempted from the wrong current status.
// It matches ErrConflict as well.
var ErrInvalidState = fmt.Errorf("%w: invalid state", ErrConflict)

// Kind is the boundary name of an error class.
type Kind string

const (
	KindValidation   Kind = "validation"
	KindNotFound     Kind = "not_found"
	KindInvalidState Kind = "invalid_state"
	KindConflict     Kind = "conflict"
	KindStorage      Kind = "storage_failure"
	KindInternal     Kind = "internal"
)

// KindOf classifies err. Unknown errors are internal.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrInvalidState):
		return KindInvalidState
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrStorage):
		return KindStorage
	default:
		return KindInternal
	}
}

// Validation wraps a formatted message with ErrValidation.
func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// NotFound reports a missing entity.
func NotFound(entity, id string) error {
	return fmt.Errorf("%w: %s %s", ErrNotFound, entity, id)
}

// Conflict wraps a formatted message with ErrConflict.
func Conflict(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}

// InvalidState wraps a formatted message with ErrInvalidState.
func InvalidState(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidState, fmt.Sprintf(format, args...))
}

// Storage wraps a driver error, keeping it reachable through errors.Is/As.
// Errors that already carry a kind are returned unchanged.
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	if KindOf(err) != KindInternal {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrStorage, op, err)
}

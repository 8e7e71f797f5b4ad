// Package roomerr defines the user-facing error classes shared by the room
// core. Store unavailability is carried separately by store.ErrUnavailable,
// and a lost bid race is a normal outcome rather than an error.
package roomerr

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks a malformed or premature command (missing item
	// selection, non-positive amount). Surfaced to the initiating client
	// only; no state change.
	ErrValidation = errors.New("validation error")

	// ErrPermissionDenied marks a restriction-gate rejection. Never logged
	// as a system fault.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrInvariant marks corrupted room state (e.g. a second active auction
	// observed). Fatal to the room's state machine instance: the room is
	// forced to idle and needs a fresh start.
	ErrInvariant = errors.New("invariant violation")
)

// Validationf wraps ErrValidation with a user-facing reason.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrValidation}, args...)...)
}

// Deniedf wraps ErrPermissionDenied with the denial reason.
func Deniedf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrPermissionDenied}, args...)...)
}

// Invariantf wraps ErrInvariant with a description of the corrupted state.
func Invariantf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrInvariant}, args...)...)
}

// Package errs defines the error taxonomy shared by the room service and its
// HTTP surface.
package errs

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindValidation Kind = iota + 1
	KindConflict
	KindConcurrency
	KindPersistence
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindConcurrency:
		return "concurrency"
	case KindPersistence:
		return "persistence"
	default:
		return "unknown"
	}
}

// Error is a classified room error. Two errors match under errors.Is when
// their codes are equal.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Wrap returns a copy of base carrying cause.
func Wrap(base *Error, cause error) *Error {
	return &Error{Kind: base.Kind, Code: base.Code, Message: base.Message, Cause: cause}
}

var (
	ErrInvalidSum         = New(KindValidation, "invalid_sum", "A + B must equal 100")
	ErrInvalidAllocation  = New(KindValidation, "invalid_allocation", "allocations must be non-negative")
	ErrInvalidMaxPlayers  = New(KindValidation, "invalid_max_players", "max_players must be between 2 and 4")
	ErrInvalidDisplayName = New(KindValidation, "invalid_display_name", "display_name must be 1 to 64 characters")
	ErrInvalidRequest     = New(KindValidation, "invalid_request", "malformed request")

	ErrNotFound         = New(KindConflict, "not_found", "room not found")
	ErrPlayerNotFound   = New(KindConflict, "not_found", "player not found")
	ErrRoomFull         = New(KindConflict, "room_full", "room is full")
	ErrRoomClosed       = New(KindConflict, "room_closed", "room is closed to new players")
	ErrAlreadySubmitted = New(KindConflict, "already_submitted", "allocation already submitted")
	ErrRoomNotReady     = New(KindConflict, "room_not_ready", "room is not ready for submissions")

	ErrConcurrencyConflict = New(KindConcurrency, "concurrency_conflict", "room changed concurrently, refetch and retry")
	ErrPersistence         = New(KindPersistence, "persistence_failure", "storage write failed")
)

// KindOf returns the kind of err, or 0 when err is not a classified error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// CodeOf returns the machine readable code of err, or "internal".
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return "internal"
}

// Persistence classifies an unexpected storage error. Errors that are already
// classified pass through untouched.
func Persistence(err error) error {
	if err == nil {
		return nil
	}
	if KindOf(err) != 0 {
		return err
	}
	return Wrap(ErrPersistence, err)
}

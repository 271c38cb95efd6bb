package services

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// Kind is the stable, machine-readable class of a service failure.
type Kind string

const (
	KindInvalidInput       Kind = "INVALID_INPUT"
	KindNotFound           Kind = "NOT_FOUND"
	KindAlreadyInGuild     Kind = "ALREADY_IN_GUILD"
	KindGuildFull          Kind = "GUILD_FULL"
	KindNotInGuild         Kind = "NOT_IN_GUILD"
	KindLeaderMustTransfer Kind = "LEADER_MUST_TRANSFER"
	KindForbidden          Kind = "FORBIDDEN"
	KindStoreUnavailable   Kind = "STORE_UNAVAILABLE"
	KindConflict           Kind = "CONFLICT"
	KindUnknown            Kind = "UNKNOWN"
)

// Retryable reports whether an automated retry may act on the kind.
func (k Kind) Retryable() bool {
	return k == KindStoreUnavailable || k == KindConflict
}

// Error carries a Kind, a human-readable message and an optional cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf extracts the Kind of err, or KindUnknown when err is not a service error.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindUnknown
}

// IsKind reports whether err is a service error of the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

func newError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func invalidInput(format string, args ...any) error {
	return newError(KindInvalidInput, format, args...)
}

func conflict(format string, args ...any) error {
	return newError(KindConflict, format, args...)
}

// storeError classifies a store failure. Duplicate keys become Conflict, a
// missing row becomes NotFound, and everything else is StoreUnavailable.
func storeError(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return err
	}
	switch {
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return &Error{Kind: KindConflict, Message: op + ": concurrent write", Err: err}
	case errors.Is(err, gorm.ErrRecordNotFound):
		return &Error{Kind: KindNotFound, Message: op + ": not found", Err: err}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return &Error{Kind: KindStoreUnavailable, Message: op + ": request ended", Err: err}
	default:
		return &Error{Kind: KindStoreUnavailable, Message: op, Err: err}
	}
}

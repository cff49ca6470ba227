package bridge

import (
	"errors"
	"fmt"
)

// Kind classifies every error that leaves the dispatcher. The HTTP layer maps
// kinds to status codes and renders only Kind and Message.
type Kind string

const (
	KindInvalidInput         Kind = "invalid_input"
	KindActionFailed         Kind = "action_failed"
	KindReconciliationFailed Kind = "reconciliation_failed"
	KindSessionDegraded      Kind = "session_degraded"
	KindNotMapped            Kind = "not_mapped"
	KindResourceBusy         Kind = "resource_busy"
	KindInternal             Kind = "internal"
)

// Error represents a structured error with a kind and a caller-safe message.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap keeps cause for logs and errors.Is; it is never rendered to callers.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func Wrapf(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// KindOf returns KindInternal for errors that are not *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func HasKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// PublicMessage is the text safe to hand back to a caller.
func PublicMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "internal error"
}

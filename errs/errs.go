// Package errs defines the typed error taxonomy shared by the orchestration
// engine. Callers classify failures by kind (external tool, not found,
// conflict, persistence, validation) instead of matching message strings.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an engine error.
type Kind int

const (
	// KindUnknown is the zero value for errors that carry no kind.
	KindUnknown Kind = iota

	// KindExternalTool covers non-zero exit or timeout from the VCS or
	// multiplexer tool. The message carries the captured output.
	KindExternalTool

	// KindNotFound covers unknown thread/project/session/section ids.
	KindNotFound

	// KindConflict covers duplicate names, last-tab-close attempts, and
	// recovery already in flight.
	KindConflict

	// KindPersistence covers settings write/rename failures.
	KindPersistence

	// KindValidation covers malformed request fields.
	KindValidation
)

// String returns a short lowercase label for the kind.
func (k Kind) String() string {
	switch k {
	case KindExternalTool:
		return "external-tool"
	case KindNotFound:
		return "not-found"
	case KindConflict:
		return "conflict"
	case KindPersistence:
		return "persistence"
	case KindValidation:
		return "validation"
	default:
		return "unknown"
	}
}

// Error is a kinded error that optionally wraps a cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a kinded error with a formatted message.
func New(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap creates a kinded error wrapping a cause. Returns nil if err is nil.
func Wrap(kind Kind, err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// ExternalTool reports a failed external tool invocation, carrying the
// tool's combined output in the message.
func ExternalTool(err error, format string, args ...any) error {
	return Wrap(KindExternalTool, err, format, args...)
}

// NotFound reports an unknown entity id or name.
func NotFound(format string, args ...any) error {
	return New(KindNotFound, format, args...)
}

// Conflict reports an operation refused because of current state.
func Conflict(format string, args ...any) error {
	return New(KindConflict, format, args...)
}

// Persistence reports a failed settings write.
func Persistence(err error, format string, args ...any) error {
	return Wrap(KindPersistence, err, format, args...)
}

// Validation reports a malformed input field.
func Validation(format string, args ...any) error {
	return New(KindValidation, format, args...)
}

// KindOf returns the kind of err, or KindUnknown if err carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool {
	return KindOf(err) == KindNotFound
}

// IsConflict reports whether err is a conflict error.
func IsConflict(err error) bool {
	return KindOf(err) == KindConflict
}

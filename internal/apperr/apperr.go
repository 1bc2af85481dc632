// Package apperr defines the error kinds surfaced to screenpilot callers.
//
// Internal packages keep their own sentinel errors and wrap them with an
// *Error at the boundary where the failure can be classified. Callers only
// ever see the Kind and the Message; the wrapped cause stays in logs.
package apperr

import (
	"errors"
	"fmt"
)

// Kind is a stable, machine-readable error category.
type Kind string

const (
	InvalidArgument     Kind = "invalid_argument"
	ProviderUnavailable Kind = "provider_unavailable"
	CollectionNotFound  Kind = "collection_not_found"
	GenerationFailed    Kind = "generation_failed"
	Internal            Kind = "internal"
)

// Error is a classified error with a caller-safe message.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

// New creates an error of the given kind.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Newf creates an error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies err under kind. A nil err yields a plain New.
func Wrap(kind Kind, err error, msg string) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of the outermost *Error in err's chain,
// or Internal when err is not classified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Public returns the kind and message that may be shown to callers.
// Wrapped causes are never included.
func Public(err error) (Kind, string) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, e.Message
	}
	return Internal, "internal error"
}

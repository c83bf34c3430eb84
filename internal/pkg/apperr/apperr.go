// Package apperr defines the error taxonomy shared by the expedition core.
// Every error that reaches the interaction boundary is classified by Kind so
// the handler can turn it into a single reply.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for recovery and rendering.
type Kind string

const (
	KindUnknown        Kind = "UNKNOWN"
	KindValidation     Kind = "VALIDATION"
	KindState          Kind = "STATE"
	KindNotFound       Kind = "NOT_FOUND"
	KindAuthorization  Kind = "AUTHORIZATION"
	KindSessionExpired Kind = "SESSION_EXPIRED"
	KindTransient      Kind = "TRANSIENT"
)

// Resource names the entity a not-found error is about.
type Resource string

const (
	ResourceExpedition Resource = "expedition"
	ResourceCharacter  Resource = "character"
	ResourceTown       Resource = "town"
	ResourcePool       Resource = "pool"
)

// Error is the structured error carried through the core.
type Error struct {
	Kind    Kind
	Message string
	// Field names the offending input for validation errors.
	Field string
	// Range describes the accepted values for Field, e.g. "1-40".
	Range string
	// Status is the blocking expedition status for state errors.
	Status string
	// Resource is the missing entity for not-found errors.
	Resource Resource
	Cause    error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Sentinels for errors.Is matching by kind.
var (
	ErrValidation     = &Error{Kind: KindValidation, Message: "validation failed"}
	ErrState          = &Error{Kind: KindState, Message: "action not allowed in current state"}
	ErrNotFound       = &Error{Kind: KindNotFound, Message: "not found"}
	ErrAuthorization  = &Error{Kind: KindAuthorization, Message: "not authorized"}
	ErrSessionExpired = &Error{Kind: KindSessionExpired, Message: "session expired"}
	ErrTransient      = &Error{Kind: KindTransient, Message: "backend unavailable"}
)

// Validation reports malformed or out-of-range input for field.
func Validation(field, validRange, message string) *Error {
	return &Error{Kind: KindValidation, Field: field, Range: validRange, Message: message}
}

// State reports an action attempted against a forbidding status.
func State(status, message string) *Error {
	return &Error{Kind: KindState, Status: status, Message: message}
}

// NotFound reports a missing resource.
func NotFound(resource Resource, message string) *Error {
	return &Error{Kind: KindNotFound, Resource: resource, Message: message}
}

// Unauthorized reports an actor acting on something that is not theirs.
func Unauthorized(message string) *Error {
	return &Error{Kind: KindAuthorization, Message: message}
}

// SessionExpired reports a wizard session that can no longer be used.
func SessionExpired() *Error {
	return &Error{Kind: KindSessionExpired, Message: "session expired"}
}

// Transient wraps a network or backend failure on a call.
func Transient(message string, cause error) *Error {
	return &Error{Kind: KindTransient, Message: message, Cause: cause}
}

// Wrap attaches a cause to a new error of the given kind.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// As returns the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

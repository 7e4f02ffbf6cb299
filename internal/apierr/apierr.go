// Package apierr defines the error taxonomy shared across the control
// plane. Components return these kinds rather than bare errors so the
// HTTP surface and the retry classifier can pattern-match without
// parsing messages.
package apierr

import (
	"errors"
	"fmt"
)

// Kind is one entry in the fixed error taxonomy.
type Kind int

const (
	Internal Kind = iota
	ValidationError
	AuthenticationError
	AuthorizationError
	NotFound
	Conflict
	RateLimited
	UpstreamUnavailable
	CredentialExpired
	IntegrityViolation
	Serialization
)

func (k Kind) String() string {
	switch k {
	case ValidationError:
		return "ValidationError"
	case AuthenticationError:
		return "AuthenticationError"
	case AuthorizationError:
		return "AuthorizationError"
	case NotFound:
		return "NotFound"
	case Conflict:
		return "Conflict"
	case RateLimited:
		return "RateLimited"
	case UpstreamUnavailable:
		return "UpstreamUnavailable"
	case CredentialExpired:
		return "CredentialExpired"
	case IntegrityViolation:
		return "IntegrityViolation"
	case Serialization:
		return "Serialization"
	default:
		return "Internal"
	}
}

// Error is the concrete error type carrying a Kind, a user-safe message,
// field-level validation detail, and an optional Retry-After hint.
type Error struct {
	Kind       Kind
	Message    string
	Fields     map[string]string // per-field validation messages
	RetryAfter int               // seconds; 0 if the upstream supplied none
	cause      error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Code returns the machine-readable code shipped in the response envelope.
func (e *Error) Code() string { return e.Kind.String() }

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

func Validation(fields map[string]string) *Error {
	return &Error{Kind: ValidationError, Message: "validation failed", Fields: fields}
}

func NotFoundf(format string, args ...interface{}) *Error {
	return &Error{Kind: NotFound, Message: fmt.Sprintf(format, args...)}
}

func Conflictf(format string, args ...interface{}) *Error {
	return &Error{Kind: Conflict, Message: fmt.Sprintf(format, args...)}
}

// As is a convenience wrapper over errors.As for the common case of pulling
// an *Error out of a wrapped chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the Kind of err, defaulting to Internal when err does not
// carry one.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return Internal
}

// HTTPStatus maps a Kind to its HTTP status code.
func (k Kind) HTTPStatus() int {
	switch k {
	case ValidationError:
		return 400
	case AuthenticationError, CredentialExpired:
		return 401
	case AuthorizationError:
		return 403
	case NotFound:
		return 404
	case Conflict:
		return 409
	case RateLimited:
		return 429
	case UpstreamUnavailable, IntegrityViolation, Serialization, Internal:
		return 500
	default:
		return 500
	}
}

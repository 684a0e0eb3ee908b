// Package gwerr defines the gateway's error-kind taxonomy (spec §7).
package gwerr

import (
	"errors"
	"fmt"
)

// Kind categorizes a gateway failure for JSON-RPC surfacing and metrics.
type Kind string

const (
	Validation          Kind = "ValidationError"
	PolicyDenied        Kind = "PolicyDenied"
	Timeout             Kind = "Timeout"
	OutputLimitExceeded Kind = "OutputLimitExceeded"
	DepsResolutionFailed Kind = "DepsResolutionFailed"
	NoExecutorAttached  Kind = "NoExecutorAttached"
	Internal            Kind = "Internal"
)

// Code returns the JSON-RPC-adjacent HTTP status code conventionally
// associated with a kind, for use in error `data` fields.
func (k Kind) Code() int {
	switch k {
	case Validation:
		return 400
	case PolicyDenied:
		return 403
	case Timeout:
		return 408
	case OutputLimitExceeded:
		return 413
	case DepsResolutionFailed:
		return 424
	case NoExecutorAttached:
		return 425
	default:
		return 500
	}
}

// Error wraps an underlying error with a Kind so callers can branch on
// failure category without parsing message strings.
type Error struct {
	Kind Kind
	Err  error
}

func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

func Wrap(kind Kind, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}

func (e *Error) Error() string {
	if e == nil || e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Err.Error())
}

func (e *Error) Unwrap() error { return e.Err }

// As reports whether err (or one it wraps) is a *Error and, if so, returns it.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the Kind carried by err, or Internal if err does not carry one.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return Internal
}

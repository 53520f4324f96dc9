// ABOUTME: Typed capability failures reported by tool handlers.
// ABOUTME: Each Kind maps to one JSON-RPC error code at the protocol boundary.

package tools

import (
	"errors"
	"fmt"
)

// Kind classifies a capability failure.
type Kind int

const (
	KindInternal Kind = iota
	KindInvalidParams
	KindPermissionDenied
	KindElementNotFound
	KindActionFailed
	KindTimeout
)

func (k Kind) String() string {
	switch k {
	case KindInvalidParams:
		return "invalid_params"
	case KindPermissionDenied:
		return "permission_denied"
	case KindElementNotFound:
		return "element_not_found"
	case KindActionFailed:
		return "action_failed"
	case KindTimeout:
		return "timeout"
	default:
		return "internal"
	}
}

// Error is a failure returned by a Capability.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Errorf builds an Error of the given kind with a formatted message.
func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an underlying cause.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func InvalidParams(message string) *Error {
	return &Error{Kind: KindInvalidParams, Message: message}
}

func PermissionDenied(message string) *Error {
	return &Error{Kind: KindPermissionDenied, Message: message}
}

func ElementNotFound(message string) *Error {
	return &Error{Kind: KindElementNotFound, Message: message}
}

func ActionFailed(message string) *Error {
	return &Error{Kind: KindActionFailed, Message: message}
}

func Timeout(message string) *Error {
	return &Error{Kind: KindTimeout, Message: message}
}

func Internal(message string) *Error {
	return &Error{Kind: KindInternal, Message: message}
}

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) (Kind, bool) {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind, true
	}
	return KindInternal, false
}

// Package fault classifies domain errors into the categories callers act on:
// validation failures, missing resources, conflicts and everything else.
package fault

import (
	"fmt"

	"github.com/go-faster/errors"
)

// Kind is the category of a domain error.
type Kind uint8

const (
	// KindInternal covers store outages and unexpected failures. It is the
	// only kind eligible for caller-side retry.
	KindInternal Kind = iota
	// KindValidation is malformed input, an invalid state transition or a
	// coupon rule violation.
	KindValidation
	// KindNotFound is an unknown id, an access token mismatch or an archived
	// record hidden by the read policy.
	KindNotFound
	// KindConflict is a precondition lost to a concurrent writer, such as an
	// exhausted coupon.
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	default:
		return "internal"
	}
}

// Classified is implemented by errors that carry their own Kind.
type Classified interface {
	error
	FaultKind() Kind
}

// Error is a classified error with a stable machine-readable code and a
// message safe to show to end users.
type Error struct {
	Kind    Kind
	Code    string
	Message string
}

func (e *Error) Error() string { return e.Message }

// FaultKind implements Classified.
func (e *Error) FaultKind() Kind { return e.Kind }

// Is reports whether target is an *Error with the same kind and code, so that
// errors built by the helpers below compare equal to package sentinels.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && e.Code == t.Code
}

// Validation returns a KindValidation error.
func Validation(code, msg string) *Error {
	return &Error{Kind: KindValidation, Code: code, Message: msg}
}

// Validationf is like Validation with a formatted message.
func Validationf(code, format string, args ...any) *Error {
	return Validation(code, fmt.Sprintf(format, args...))
}

// NotFound returns a KindNotFound error.
func NotFound(code, msg string) *Error {
	return &Error{Kind: KindNotFound, Code: code, Message: msg}
}

// Conflict returns a KindConflict error.
func Conflict(code, msg string) *Error {
	return &Error{Kind: KindConflict, Code: code, Message: msg}
}

// KindOf returns the Kind of the first Classified error in err's chain, or
// KindInternal when there is none.
func KindOf(err error) Kind {
	if err == nil {
		return KindInternal
	}
	var c Classified
	if errors.As(err, &c) {
		return c.FaultKind()
	}
	return KindInternal
}

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Package apperr classifies domain failures so transports can report them
// consistently. Every error carries a stable snake_case code.
package apperr

import (
	"errors"
	"fmt"
)

type Kind int

const (
	Transient Kind = iota
	Validation
	Conflict
	Integrity
	Forbidden
	NotFound
)

func (k Kind) String() string {
	switch k {
	case Validation:
		return "validation"
	case Conflict:
		return "conflict"
	case Integrity:
		return "integrity"
	case Forbidden:
		return "forbidden"
	case NotFound:
		return "not_found"
	default:
		return "transient"
	}
}

type Error struct {
	Kind Kind
	Code string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	return e.Code
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches on Kind and Code so callers can compare against values built
// with the constructors below.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return other.Kind == e.Kind && other.Code == e.Code
}

func New(kind Kind, code string) *Error {
	return &Error{Kind: kind, Code: code}
}

func Wrap(kind Kind, code string, err error) *Error {
	return &Error{Kind: kind, Code: code, Err: err}
}

func Invalid(code string) *Error   { return New(Validation, code) }
func Conflicts(code string) *Error { return New(Conflict, code) }
func Broken(code string) *Error    { return New(Integrity, code) }
func Denied(code string) *Error    { return New(Forbidden, code) }
func Missing(code string) *Error   { return New(NotFound, code) }

func Unavailable(code string, err error) *Error {
	return Wrap(Transient, code, err)
}

// KindOf reports the kind of err. Errors that were never classified are
// treated as transient I/O failures.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Transient
}

// CodeOf returns the stable code of err, or "server_error" when err was
// never classified.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return "server_error"
}

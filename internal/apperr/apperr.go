// Package apperr defines the error kinds shared by services and transports.
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrStoreFailure    = errors.New("store failure")
)

// New returns an error of the given kind carrying a user facing message.
// errors.Is(err, kind) reports true for the result.
func New(kind error, msg string) error {
	return &kindError{kind: kind, msg: msg}
}

// Store wraps an unexpected storage error as ErrStoreFailure.
func Store(op string, err error) error {
	return &kindError{kind: ErrStoreFailure, msg: op, cause: err}
}

type kindError struct {
	kind  error
	msg   string
	cause error
}

func (e *kindError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.msg, e.cause)
	}
	return e.msg
}

func (e *kindError) Is(target error) bool { return target == e.kind }

func (e *kindError) Unwrap() error { return e.cause }

// Message returns the user facing part of err, without wrapped causes.
func Message(err error) string {
	var ke *kindError
	if errors.As(err, &ke) {
		return ke.msg
	}
	return err.Error()
}

package store

import (
	"errors"
	"fmt"
)

var (
	// ErrStoreUnavailable reports that the database file could not be opened or used.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrNotFound reports that a complaint or image does not exist.
	ErrNotFound = errors.New("not found")
	// ErrValidation reports malformed caller input.
	ErrValidation = errors.New("validation failed")
)

// Validationf wraps ErrValidation with a caller-facing message.
func Validationf(format string, args ...any) error {
	return &detailError{kind: ErrValidation, msg: fmt.Sprintf(format, args...)}
}

// NotFoundf wraps ErrNotFound with a caller-facing message.
func NotFoundf(format string, args ...any) error {
	return &detailError{kind: ErrNotFound, msg: fmt.Sprintf(format, args...)}
}

// IsExpected reports whether err is a business-rule outcome rather than a store failure.
func IsExpected(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrValidation)
}

type detailError struct {
	kind error
	msg  string
}

func (e *detailError) Error() string { return e.msg }

func (e *detailError) Unwrap() error { return e.kind }

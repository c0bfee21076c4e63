package statestore

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes store errors.
type ErrorCode string

const (
	// ErrCodeInvalidConfig indicates invalid options or arguments.
	ErrCodeInvalidConfig ErrorCode = "INVALID_CONFIG"

	// ErrCodeConflictingFilters indicates both IncludeKeys and ExcludeKeys were set.
	ErrCodeConflictingFilters ErrorCode = "CONFLICTING_FILTERS"

	// ErrCodeNotBoolean indicates Toggle was called on a non-boolean value.
	ErrCodeNotBoolean ErrorCode = "NOT_BOOLEAN"

	// ErrCodeDestroyed indicates the store was used after Destroy.
	ErrCodeDestroyed ErrorCode = "DESTROYED"
)

// Error is returned by every Store operation that fails.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Key is the state key involved, if any.
	Key string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("%s: %s (key=%s)", e.Code, e.Message, e.Key)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is matches errors by code, so errors.Is(err, ErrDestroyed) holds for any
// destroyed-store error.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

var (
	// ErrDestroyed is returned by every method called after Destroy.
	ErrDestroyed = &Error{Code: ErrCodeDestroyed, Message: "store has been destroyed"}

	// ErrConflictingFilters is returned by New when both persistence filters are set.
	ErrConflictingFilters = &Error{
		Code:    ErrCodeConflictingFilters,
		Message: `"IncludeKeys" and "ExcludeKeys" are mutually exclusive, only use one or the other`,
	}

	// ErrNotBoolean is returned by Toggle for non-boolean values.
	ErrNotBoolean = &Error{Code: ErrCodeNotBoolean, Message: "value is not a boolean"}
)

// IsDestroyed returns true if err reports use of a destroyed store.
func IsDestroyed(err error) bool {
	return errors.Is(err, ErrDestroyed)
}

// IsConfigError returns true if err reports invalid configuration.
// Uses errors.As to handle wrapped errors.
func IsConfigError(err error) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.Code == ErrCodeInvalidConfig || se.Code == ErrCodeConflictingFilters
	}
	return false
}

// IsTypeError returns true if err reports a value of the wrong type.
func IsTypeError(err error) bool {
	return errors.Is(err, ErrNotBoolean)
}

// newConfigError creates an Error for invalid configuration.
func newConfigError(format string, args ...any) *Error {
	return &Error{Code: ErrCodeInvalidConfig, Message: fmt.Sprintf(format, args...)}
}

// newNotBooleanError creates an Error for Toggle on a non-boolean key.
func newNotBooleanError(key string, v any) *Error {
	msg := "value is missing"
	if v != nil {
		msg = fmt.Sprintf("value is %T, not bool", v)
	}
	return &Error{Code: ErrCodeNotBoolean, Message: msg, Key: key}
}

package store

import (
	"errors"
)

// ErrNotFound is returned when a setting does not exist in the backing
// store. It is a semantic result, not a failure: callers must not confuse
// it with the store being unreachable.
var ErrNotFound = errors.New("setting not found")

// UnavailableError marks a transient backend failure (connection refused,
// timeout, 5xx). The cache reacts by skipping the refresh cycle and
// retrying on the next throttled opportunity.
type UnavailableError struct {
	Err error
}

// Error implements the error interface.
func (e *UnavailableError) Error() string {
	return "settings store unavailable: " + e.Err.Error()
}

// Unwrap exposes the underlying failure.
func (e *UnavailableError) Unwrap() error {
	return e.Err
}

// Unavailable wraps err as an UnavailableError. Passing nil returns nil.
func Unavailable(err error) error {
	if err == nil {
		return nil
	}

	return &UnavailableError{Err: err}
}

// IsUnavailable reports whether err marks a transient backend failure.
func IsUnavailable(err error) bool {
	var ue *UnavailableError

	return errors.As(err, &ue)
}

package coerce

import (
	"errors"
)

var (
	// ErrNotAnInteger is returned when a stored value does not parse as an integer.
	ErrNotAnInteger = errors.New("value is not an integer")

	// ErrNotAFloat is returned when a stored value does not parse as a float.
	ErrNotAFloat = errors.New("value is not a float")

	// ErrNotADatetime is returned when a stored value matches no supported datetime layout.
	ErrNotADatetime = errors.New("value is not a datetime")
)

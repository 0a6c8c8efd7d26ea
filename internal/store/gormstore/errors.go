package gormstore

import (
	"errors"
)

var (
	// ErrUnsupportedBackend is returned when Open is asked for a backend
	// this adapter has no driver for.
	ErrUnsupportedBackend = errors.New("not a relational settings backend")

	// ErrDBNil is returned when the database connection is nil.
	ErrDBNil = errors.New("database connection is nil")
)

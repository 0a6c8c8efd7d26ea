package setting

import (
	"errors"
	"sort"
	"strings"
)

// ValidationError carries field-level validation messages for a setting
// that failed its type or format constraints. It is reported to the
// writer; the record is never silently coerced or written.
type ValidationError struct {
	Fields map[string][]string
}

// Add appends a message for the given field.
func (e *ValidationError) Add(field, message string) {
	if e.Fields == nil {
		e.Fields = make(map[string][]string)
	}

	e.Fields[field] = append(e.Fields[field], message)
}

// Empty reports whether no messages were recorded.
func (e *ValidationError) Empty() bool {
	return len(e.Fields) == 0
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Empty() {
		return "setting validation failed"
	}

	fields := make([]string, 0, len(e.Fields))
	for field := range e.Fields {
		fields = append(fields, field)
	}

	sort.Strings(fields)

	parts := make([]string, 0, len(fields))
	for _, field := range fields {
		parts = append(parts, field+": "+strings.Join(e.Fields[field], "; "))
	}

	return "setting validation failed: " + strings.Join(parts, ", ")
}

// AsValidation unwraps err into a *ValidationError if it is one.
func AsValidation(err error) (*ValidationError, bool) {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return verr, true
	}

	return nil, false
}

// Package setting defines the setting record, its typed value forms and
// the validation applied before persistence.
package setting

import (
	"time"

	"github.com/go-settings-admin/go-settings-admin/internal/coerce"
)

// ValueType enumerates the supported value types of a setting.
type ValueType string

// Supported value types.
const (
	TypeString   ValueType = "string"
	TypeInteger  ValueType = "integer"
	TypeFloat    ValueType = "float"
	TypeBoolean  ValueType = "boolean"
	TypeDatetime ValueType = "datetime"
	TypeArray    ValueType = "array"
	TypeSecret   ValueType = "secret"
)

// ValueTypes lists every supported value type.
var ValueTypes = []ValueType{
	TypeString,
	TypeInteger,
	TypeFloat,
	TypeBoolean,
	TypeDatetime,
	TypeArray,
	TypeSecret,
}

// Valid reports whether t is a supported value type.
func (t ValueType) Valid() bool {
	for _, vt := range ValueTypes {
		if t == vt {
			return true
		}
	}

	return false
}

// Setting represents one named, typed configuration value.
// RawValue is the canonical stored form; the empty string is never stored
// and is normalized to nil. Deleted settings are tombstones: retained for
// history but excluded from active reads, and they coerce to nil.
type Setting struct {
	Key         string    `json:"key"`
	RawValue    *string   `json:"raw_value"`
	ValueType   ValueType `json:"value_type"`
	Description string    `json:"description,omitempty"`
	Deleted     bool      `json:"deleted"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Normalize applies the storage normalization rules in place: empty raw
// values become nil and a missing value type defaults to string.
func (s *Setting) Normalize() {
	s.RawValue = coerce.Normalize(s.RawValue)

	if s.ValueType == "" {
		s.ValueType = TypeString
	}
}

// Validate checks the record against its declared value type.
// It returns a *ValidationError carrying field-level messages; invalid
// combinations are rejected, never silently coerced.
func (s *Setting) Validate() error {
	verr := &ValidationError{}

	if s.Key == "" {
		verr.Add("key", "cannot be empty")
	}

	if !s.ValueType.Valid() {
		verr.Add("value_type", "unknown value type "+string(s.ValueType))

		return verr
	}

	raw := coerce.Normalize(s.RawValue)

	switch s.ValueType {
	case TypeInteger:
		if _, err := coerce.Integer(raw); err != nil {
			verr.Add("raw_value", "does not parse as an integer")
		}
	case TypeFloat:
		if _, err := coerce.Float(raw); err != nil {
			verr.Add("raw_value", "does not parse as a float")
		}
	case TypeDatetime:
		if _, err := coerce.Datetime(raw); err != nil {
			verr.Add("raw_value", "does not parse as a datetime")
		}
	case TypeString, TypeBoolean, TypeArray, TypeSecret:
		// any string is acceptable; booleans never fail coercion
	}

	if verr.Empty() {
		return nil
	}

	return verr
}

// Value returns the coerced value holder of the setting.
// A tombstone coerces to a present-but-nil value regardless of its raw
// content.
func (s *Setting) Value() Value {
	if s.Deleted {
		return Value{typ: s.ValueType, found: true}
	}

	return Value{raw: coerce.Normalize(s.RawValue), typ: s.ValueType, found: true}
}

// Secret reports whether the setting holds a secret value whose plaintext
// must be masked on display and kept out of history entries.
func (s *Setting) Secret() bool {
	return s.ValueType == TypeSecret
}

// HistoryEntry is an immutable snapshot of one past state of a setting.
// Entries are append-only; the only mutation ever allowed is redaction,
// which nulls the value while preserving attribution and timestamp.
type HistoryEntry struct {
	Key       string    `json:"key"`
	Value     *string   `json:"value"`
	ChangedBy string    `json:"changed_by,omitempty"`
	Deleted   bool      `json:"deleted"`
	CreatedAt time.Time `json:"created_at"`
}

// NewHistoryEntry builds the history entry recording the current state of
// the setting. Secret plaintext is never recorded.
func NewHistoryEntry(s *Setting, changedBy string, at time.Time) HistoryEntry {
	entry := HistoryEntry{
		Key:       s.Key,
		ChangedBy: changedBy,
		Deleted:   s.Deleted,
		CreatedAt: at,
	}

	if !s.Deleted && !s.Secret() {
		entry.Value = coerce.Normalize(s.RawValue)
	}

	return entry
}

package setting

import (
	"time"

	"github.com/go-settings-admin/go-settings-admin/internal/coerce"
)

// maskedValue is the display form of a secret value.
const maskedValue = "********"

// Value is the coerced value holder kept in the local cache.
// It distinguishes "key not present in the store" (a negative cache
// entry, Found() == false) from "key present with a null value"
// (Found() == true, IsNil() == true); both must be representable without
// re-querying the store.
type Value struct {
	raw   *string
	typ   ValueType
	found bool
}

// NewValue builds a value holder from a raw stored string and its type.
func NewValue(raw *string, typ ValueType) Value {
	return Value{raw: coerce.Normalize(raw), typ: typ, found: true}
}

// Missing returns the negative cache entry: the key has no record in the
// backing store.
func Missing() Value {
	return Value{}
}

// Found reports whether the key had a record in the backing store.
func (v Value) Found() bool {
	return v.found
}

// IsNil reports whether the value coerces to nil.
func (v Value) IsNil() bool {
	return !v.found || v.raw == nil
}

// Type returns the declared value type, or the empty type for a negative
// entry.
func (v Value) Type() ValueType {
	return v.typ
}

// String returns the raw stored form, nil when the value is nil.
// Arrays come back in their newline-joined form.
func (v Value) String() *string {
	if v.IsNil() {
		return nil
	}

	return v.raw
}

// Int coerces the value to an integer.
func (v Value) Int() (*int64, error) {
	return coerce.Integer(v.String())
}

// Float coerces the value to a float.
func (v Value) Float() (*float64, error) {
	return coerce.Float(v.String())
}

// Bool coerces the value to a boolean.
func (v Value) Bool() *bool {
	return coerce.Boolean(v.String())
}

// Time coerces the value to a datetime.
func (v Value) Time() (*time.Time, error) {
	return coerce.Datetime(v.String())
}

// Strings coerces the value to a list of strings.
func (v Value) Strings() []string {
	return coerce.Strings(v.String())
}

// Native returns the value in its declared native representation:
// string, int64, float64, bool, time.Time or []string. A nil value
// returns nil regardless of type.
func (v Value) Native() (any, error) {
	if v.IsNil() {
		return nil, nil
	}

	switch v.typ {
	case TypeInteger:
		n, err := v.Int()
		if err != nil {
			return nil, err
		}

		return *n, nil
	case TypeFloat:
		f, err := v.Float()
		if err != nil {
			return nil, err
		}

		return *f, nil
	case TypeBoolean:
		b := v.Bool()
		if b == nil {
			return nil, nil
		}

		return *b, nil
	case TypeDatetime:
		t, err := v.Time()
		if err != nil {
			return nil, err
		}

		return *t, nil
	case TypeArray:
		return v.Strings(), nil
	case TypeString, TypeSecret:
		return *v.raw, nil
	}

	return *v.raw, nil
}

// Masked returns the display form of the value: secrets are replaced by a
// fixed mask, everything else comes back as its raw string form.
func (v Value) Masked() *string {
	if v.IsNil() {
		return nil
	}

	if v.typ == TypeSecret {
		masked := maskedValue

		return &masked
	}

	return v.raw
}

package setting

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string {
	return &s
}

func TestValueTypeValid(t *testing.T) {
	for _, vt := range ValueTypes {
		assert.True(t, vt.Valid(), "type %s should be valid", vt)
	}

	assert.False(t, ValueType("json").Valid())
	assert.False(t, ValueType("").Valid())
}

func TestSettingNormalize(t *testing.T) {
	s := Setting{Key: "a", RawValue: strPtr("")}
	s.Normalize()

	assert.Nil(t, s.RawValue)
	assert.Equal(t, TypeString, s.ValueType)

	kept := Setting{Key: "b", RawValue: strPtr("x"), ValueType: TypeInteger}
	kept.Normalize()

	require.NotNil(t, kept.RawValue)
	assert.Equal(t, "x", *kept.RawValue)
	assert.Equal(t, TypeInteger, kept.ValueType)
}

func TestSettingValidate(t *testing.T) {
	testCases := []struct {
		name        string
		setting     Setting
		failedField string
	}{
		{
			name:        "empty key",
			setting:     Setting{ValueType: TypeString},
			failedField: "key",
		},
		{
			name:        "unknown value type",
			setting:     Setting{Key: "a", ValueType: "json"},
			failedField: "value_type",
		},
		{
			name:        "integer type with garbage",
			setting:     Setting{Key: "a", ValueType: TypeInteger, RawValue: strPtr("abc")},
			failedField: "raw_value",
		},
		{
			name:        "float type with garbage",
			setting:     Setting{Key: "a", ValueType: TypeFloat, RawValue: strPtr("pi")},
			failedField: "raw_value",
		},
		{
			name:        "datetime type with garbage",
			setting:     Setting{Key: "a", ValueType: TypeDatetime, RawValue: strPtr("soon")},
			failedField: "raw_value",
		},
		{
			name:    "valid integer",
			setting: Setting{Key: "a", ValueType: TypeInteger, RawValue: strPtr("42")},
		},
		{
			name:    "nil raw value always validates",
			setting: Setting{Key: "a", ValueType: TypeInteger},
		},
		{
			name:    "empty raw value always validates",
			setting: Setting{Key: "a", ValueType: TypeDatetime, RawValue: strPtr("")},
		},
		{
			// the boolean quirk: unrecognized tokens coerce to true, so they validate
			name:    "boolean with unrecognized token",
			setting: Setting{Key: "a", ValueType: TypeBoolean, RawValue: strPtr("banana")},
		},
		{
			name:    "valid string",
			setting: Setting{Key: "a", ValueType: TypeString, RawValue: strPtr("hello")},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.setting.Validate()

			if tc.failedField == "" {
				require.NoError(t, err)
				return
			}

			require.Error(t, err)

			verr, ok := AsValidation(err)
			require.True(t, ok)
			assert.Contains(t, verr.Fields, tc.failedField)
		})
	}
}

func TestSettingValue(t *testing.T) {
	s := Setting{Key: "a", ValueType: TypeInteger, RawValue: strPtr("42")}

	v := s.Value()
	assert.True(t, v.Found())
	assert.False(t, v.IsNil())

	n, err := v.Int()
	require.NoError(t, err)
	require.NotNil(t, n)
	assert.Equal(t, int64(42), *n)
}

func TestDeletedSettingCoercesToNil(t *testing.T) {
	s := Setting{Key: "a", ValueType: TypeString, RawValue: strPtr("still here"), Deleted: true}

	v := s.Value()
	assert.True(t, v.Found())
	assert.True(t, v.IsNil())
	assert.Nil(t, v.String())
}

func TestMissingValue(t *testing.T) {
	v := Missing()

	assert.False(t, v.Found())
	assert.True(t, v.IsNil())
	assert.Nil(t, v.String())
	assert.Nil(t, v.Bool())
}

func TestValueNative(t *testing.T) {
	testCases := []struct {
		name     string
		raw      string
		typ      ValueType
		expected any
	}{
		{name: "string", raw: "hello", typ: TypeString, expected: "hello"},
		{name: "integer", raw: "7", typ: TypeInteger, expected: int64(7)},
		{name: "float", raw: "1.5", typ: TypeFloat, expected: 1.5},
		{name: "boolean", raw: "off", typ: TypeBoolean, expected: false},
		{name: "array", raw: "a\nb", typ: TypeArray, expected: []string{"a", "b"}},
		{
			name:     "datetime",
			raw:      "2024-06-01T12:00:00Z",
			typ:      TypeDatetime,
			expected: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			v := NewValue(strPtr(tc.raw), tc.typ)

			native, err := v.Native()
			require.NoError(t, err)

			if expectedTime, ok := tc.expected.(time.Time); ok {
				gotTime, ok := native.(time.Time)
				require.True(t, ok)
				assert.True(t, expectedTime.Equal(gotTime))
				return
			}

			assert.Equal(t, tc.expected, native)
		})
	}
}

func TestValueMasked(t *testing.T) {
	secret := NewValue(strPtr("hunter2"), TypeSecret)
	masked := secret.Masked()
	require.NotNil(t, masked)
	assert.Equal(t, "********", *masked)

	plain := NewValue(strPtr("visible"), TypeString)
	shown := plain.Masked()
	require.NotNil(t, shown)
	assert.Equal(t, "visible", *shown)

	assert.Nil(t, Missing().Masked())
}

func TestNewHistoryEntry(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	s := &Setting{Key: "a", ValueType: TypeString, RawValue: strPtr("v1")}
	entry := NewHistoryEntry(s, "admin", now)

	assert.Equal(t, "a", entry.Key)
	require.NotNil(t, entry.Value)
	assert.Equal(t, "v1", *entry.Value)
	assert.Equal(t, "admin", entry.ChangedBy)
	assert.False(t, entry.Deleted)
	assert.Equal(t, now, entry.CreatedAt)
}

func TestNewHistoryEntrySecretHasNoPlaintext(t *testing.T) {
	now := time.Now()

	s := &Setting{Key: "token", ValueType: TypeSecret, RawValue: strPtr("hunter2")}
	entry := NewHistoryEntry(s, "admin", now)

	assert.Nil(t, entry.Value)
	assert.Equal(t, "admin", entry.ChangedBy)
}

func TestNewHistoryEntryDeleted(t *testing.T) {
	s := &Setting{Key: "a", ValueType: TypeString, RawValue: strPtr("v1"), Deleted: true}
	entry := NewHistoryEntry(s, "", time.Now())

	assert.Nil(t, entry.Value)
	assert.True(t, entry.Deleted)
}

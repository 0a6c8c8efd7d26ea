// Package coerce converts the canonical stored string form of a setting
// into typed representations and back. All conversions are pure and
// reproducible; the stored form is always a string or null.
package coerce

import (
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// truthy and falsy hold the fixed token allow-lists for boolean coercion.
// Any other non-blank token coerces to true. This mirrors the historical
// behaviour of the settings store and must not be tightened.
var (
	truthy = []string{"true", "on", "t", "1"}
	falsy  = []string{"false", "off", "f", "0"}
)

// datetimeLayouts are tried in order when parsing a datetime setting.
var datetimeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05 -0700",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Normalize maps the empty string to nil. Settings never store "".
func Normalize(raw *string) *string {
	if raw == nil || *raw == "" {
		return nil
	}

	return raw
}

// Boolean coerces a stored string into a boolean.
// Blank input yields nil. Tokens from the falsy list yield false, everything
// else (including unrecognized tokens) yields true.
func Boolean(raw *string) *bool {
	if raw == nil || strings.TrimSpace(*raw) == "" {
		return nil
	}

	token := strings.ToLower(strings.TrimSpace(*raw))

	b := true

	for _, t := range truthy {
		if token == t {
			return &b
		}
	}

	for _, f := range falsy {
		if token == f {
			b = false
			break
		}
	}

	return &b
}

// Integer parses a stored string as a base-10 integer.
// Blank input yields nil; a parse failure is an error, never a silent zero.
func Integer(raw *string) (*int64, error) {
	raw = Normalize(raw)
	if raw == nil {
		return nil, nil
	}

	n, err := strconv.ParseInt(strings.TrimSpace(*raw), 10, 64)
	if err != nil {
		return nil, errors.Wrapf(ErrNotAnInteger, "%q", *raw)
	}

	return &n, nil
}

// Float parses a stored string as a floating point number.
func Float(raw *string) (*float64, error) {
	raw = Normalize(raw)
	if raw == nil {
		return nil, nil
	}

	f, err := strconv.ParseFloat(strings.TrimSpace(*raw), 64)
	if err != nil {
		return nil, errors.Wrapf(ErrNotAFloat, "%q", *raw)
	}

	return &f, nil
}

// Datetime parses a stored string using the supported layouts.
func Datetime(raw *string) (*time.Time, error) {
	raw = Normalize(raw)
	if raw == nil {
		return nil, nil
	}

	s := strings.TrimSpace(*raw)

	for _, layout := range datetimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &t, nil
		}
	}

	return nil, errors.Wrapf(ErrNotADatetime, "%q", *raw)
}

// FormatDatetime serializes a time value back into the canonical stored
// form: RFC 3339 in UTC.
func FormatDatetime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// Strings splits a stored newline-joined string into a list.
// Blank input yields nil.
func Strings(raw *string) []string {
	raw = Normalize(raw)
	if raw == nil {
		return nil
	}

	return strings.Split(*raw, "\n")
}

// JoinStrings joins a list into the newline-joined stored form.
// An empty list yields nil, matching the empty-string normalization rule.
func JoinStrings(values []string) *string {
	if len(values) == 0 {
		return nil
	}

	joined := strings.Join(values, "\n")

	return Normalize(&joined)
}

// Package store defines the persistence contract every settings backend
// implements. The local cache and the facade only ever talk to an
// Adapter; the concrete backend (relational, Redis, S3, remote HTTP,
// in-memory) is selected at configuration time.
package store

import (
	"context"
	"time"

	"github.com/go-settings-admin/go-settings-admin/internal/setting"
)

// Adapter is the uniform contract a settings backend must satisfy.
//
// UpdatedSince must return settings whose UpdatedAt is strictly greater
// than the given timestamp, tombstones included, so the cache can evict
// freshly deleted keys. LastUpdatedAt must be cheap: it is polled on
// every refresh cycle.
//
// Adapters distinguish transient failures (wrapped as UnavailableError,
// the cache skips the cycle and retries next tick) from semantic results
// (ErrNotFound) and permanent validation failures
// (*setting.ValidationError, reported to the writer, nothing written).
type Adapter interface {
	// All returns every setting, tombstones included. No ordering guarantee.
	All(ctx context.Context) ([]setting.Setting, error)

	// Active returns only non-deleted settings. Used by the full-load path.
	Active(ctx context.Context) ([]setting.Setting, error)

	// UpdatedSince returns settings updated strictly after the given time,
	// tombstones included.
	UpdatedSince(ctx context.Context, since time.Time) ([]setting.Setting, error)

	// LastUpdatedAt returns the maximum UpdatedAt across all settings, or
	// nil when the store is empty.
	LastUpdatedAt(ctx context.Context) (*time.Time, error)

	// FindByKey returns the setting for the key, or ErrNotFound.
	FindByKey(ctx context.Context, key string) (*setting.Setting, error)

	// Persist validates and writes the setting, bumping UpdatedAt on
	// success. On validation failure nothing is written and the returned
	// error carries field-level messages.
	Persist(ctx context.Context, s *setting.Setting) error

	// CreateHistory appends a history entry. Failures here must not roll
	// back the primary persist; callers treat this as fire-and-forget.
	CreateHistory(ctx context.Context, entry setting.HistoryEntry) error

	// History returns the recorded history of a key, oldest first.
	History(ctx context.Context, key string) ([]setting.HistoryEntry, error)

	// RedactHistory nulls the value of every history entry of the key
	// while preserving attribution and timestamps.
	RedactHistory(ctx context.Context, key string) error
}

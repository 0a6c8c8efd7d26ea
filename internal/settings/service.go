// Package settings exposes the typed accessor facade applications read
// settings through, and the write path administrative surfaces persist
// through. Reads compose the request scope, the local cache and value
// coercion; writes go to the storage adapter directly and are pushed
// into the cache so writers see their own writes without waiting a
// refresh interval.
package settings

import (
	"context"
	"math/rand"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-settings-admin/go-settings-admin/internal/cache"
	"github.com/go-settings-admin/go-settings-admin/internal/scope"
	"github.com/go-settings-admin/go-settings-admin/internal/setting"
	"github.com/go-settings-admin/go-settings-admin/internal/store"
)

// Service is the settings facade.
type Service struct {
	adapter store.Adapter
	cache   *cache.Cache
	now     func() time.Time
}

// New creates a facade over the adapter and its cache.
func New(adapter store.Adapter, c *cache.Cache) *Service {
	return &Service{adapter: adapter, cache: c, now: time.Now}
}

// Cache exposes the underlying cache instance.
func (s *Service) Cache() *cache.Cache {
	return s.cache
}

// Value returns the coerced value holder for key. When the context
// carries a request scope the read is memoized there, freezing the
// observed value for the rest of the unit of work.
func (s *Service) Value(ctx context.Context, key string) (setting.Value, error) {
	if sc, ok := scope.From(ctx); ok {
		return sc.Resolve(key, func() (setting.Value, error) {
			return s.cache.Get(ctx, key)
		})
	}

	return s.cache.Get(ctx, key)
}

// String returns the raw string value, nil when unset.
func (s *Service) String(ctx context.Context, key string) (*string, error) {
	v, err := s.Value(ctx, key)
	if err != nil {
		return nil, err
	}

	return v.String(), nil
}

// StringOr returns the string value or def when unset or unreadable.
func (s *Service) StringOr(ctx context.Context, key, def string) string {
	v, err := s.String(ctx, key)
	if err != nil || v == nil {
		return def
	}

	return *v
}

// Int returns the integer value, nil when unset.
func (s *Service) Int(ctx context.Context, key string) (*int64, error) {
	v, err := s.Value(ctx, key)
	if err != nil {
		return nil, err
	}

	return v.Int()
}

// IntOr returns the integer value or def when unset or unreadable.
func (s *Service) IntOr(ctx context.Context, key string, def int64) int64 {
	v, err := s.Int(ctx, key)
	if err != nil || v == nil {
		return def
	}

	return *v
}

// Float returns the float value, nil when unset.
func (s *Service) Float(ctx context.Context, key string) (*float64, error) {
	v, err := s.Value(ctx, key)
	if err != nil {
		return nil, err
	}

	return v.Float()
}

// FloatOr returns the float value or def when unset or unreadable.
func (s *Service) FloatOr(ctx context.Context, key string, def float64) float64 {
	v, err := s.Float(ctx, key)
	if err != nil || v == nil {
		return def
	}

	return *v
}

// Bool returns the boolean value, nil when unset.
func (s *Service) Bool(ctx context.Context, key string) (*bool, error) {
	v, err := s.Value(ctx, key)
	if err != nil {
		return nil, err
	}

	return v.Bool(), nil
}

// BoolOr returns the boolean value or def when unset or unreadable.
func (s *Service) BoolOr(ctx context.Context, key string, def bool) bool {
	v, err := s.Bool(ctx, key)
	if err != nil || v == nil {
		return def
	}

	return *v
}

// Time returns the datetime value, nil when unset.
func (s *Service) Time(ctx context.Context, key string) (*time.Time, error) {
	v, err := s.Value(ctx, key)
	if err != nil {
		return nil, err
	}

	return v.Time()
}

// Strings returns the array value, nil when unset.
func (s *Service) Strings(ctx context.Context, key string) ([]string, error) {
	v, err := s.Value(ctx, key)
	if err != nil {
		return nil, err
	}

	return v.Strings(), nil
}

// Group returns every active setting under the dotted prefix as a map of
// native values, keys relative to the prefix. Secrets stay masked.
func (s *Service) Group(ctx context.Context, prefix string) (map[string]any, error) {
	all, err := s.cache.All(ctx)
	if err != nil {
		return nil, err
	}

	if !strings.HasSuffix(prefix, ".") {
		prefix += "."
	}

	out := make(map[string]any)

	for key, v := range all {
		if !strings.HasPrefix(key, prefix) {
			continue
		}

		if v.Type() == setting.TypeSecret {
			masked := v.Masked()
			if masked != nil {
				out[strings.TrimPrefix(key, prefix)] = *masked
			}

			continue
		}

		native, err := v.Native()
		if err != nil {
			return nil, errors.Wrapf(err, "setting %s", key)
		}

		if native != nil {
			out[strings.TrimPrefix(key, prefix)] = native
		}

	}

	return out, nil
}

// Rollout reads key as a percentage (0-100) and rolls a scoped die
// against it. Within one request scope both the percentage and the roll
// are stable, so the decision cannot flip mid-request.
func (s *Service) Rollout(ctx context.Context, key string) (bool, error) {
	pct := s.FloatOr(ctx, key, 0)
	if pct <= 0 {
		return false, nil
	}

	if pct >= 100 {
		return true, nil
	}

	var roll float64

	if sc, ok := scope.From(ctx); ok {
		roll = sc.Random()
	} else {
		roll = rand.Float64() //nolint:gosec // rollout decisions, not crypto
	}

	return roll*100 < pct, nil
}

// Set validates and persists the setting, records a history entry and
// pushes the new state into the cache. History failures are logged, not
// surfaced; the primary persist is never rolled back.
func (s *Service) Set(ctx context.Context, item *setting.Setting, changedBy string) error {
	item.Normalize()

	if existing, err := s.adapter.FindByKey(ctx, item.Key); err == nil {
		if item.CreatedAt.IsZero() {
			item.CreatedAt = existing.CreatedAt
		}

		if item.Description == "" {
			item.Description = existing.Description
		}
	}

	if err := s.adapter.Persist(ctx, item); err != nil {
		return err
	}

	s.recordHistory(ctx, item, changedBy)
	s.cache.Push(item)

	return nil
}

// Delete soft-deletes the setting: the tombstone stays in the store for
// history, the cache evicts the key.
func (s *Service) Delete(ctx context.Context, key, changedBy string) error {
	item, err := s.adapter.FindByKey(ctx, key)
	if err != nil {
		return err
	}

	item.Deleted = true

	if err := s.adapter.Persist(ctx, item); err != nil {
		return err
	}

	s.recordHistory(ctx, item, changedBy)
	s.cache.Push(item)

	return nil
}

// Restore clears a tombstone so the setting becomes active again.
func (s *Service) Restore(ctx context.Context, key, changedBy string) error {
	item, err := s.adapter.FindByKey(ctx, key)
	if err != nil {
		return err
	}

	if !item.Deleted {
		return nil
	}

	item.Deleted = false

	if err := s.adapter.Persist(ctx, item); err != nil {
		return err
	}

	s.recordHistory(ctx, item, changedBy)
	s.cache.Push(item)

	return nil
}

// Find returns the stored record for key, tombstones included.
func (s *Service) Find(ctx context.Context, key string) (*setting.Setting, error) {
	return s.adapter.FindByKey(ctx, key)
}

// List returns the stored records, optionally including tombstones.
func (s *Service) List(ctx context.Context, includeDeleted bool) ([]setting.Setting, error) {
	if includeDeleted {
		return s.adapter.All(ctx)
	}

	return s.adapter.Active(ctx)
}

// History returns the recorded history of a key, oldest first.
func (s *Service) History(ctx context.Context, key string) ([]setting.HistoryEntry, error) {
	return s.adapter.History(ctx, key)
}

// RedactHistory nulls every recorded value of the key while keeping
// attribution, for compliance and secret rotation.
func (s *Service) RedactHistory(ctx context.Context, key string) error {
	return s.adapter.RedactHistory(ctx, key)
}

func (s *Service) recordHistory(ctx context.Context, item *setting.Setting, changedBy string) {
	entry := setting.NewHistoryEntry(item, changedBy, s.now())

	if err := s.adapter.CreateHistory(ctx, entry); err != nil {
		log.Warn().Err(err).Str("key", item.Key).Msg("failed to record setting history")
	}
}

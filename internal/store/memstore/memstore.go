// Package memstore implements store.Adapter in process memory. It is the
// reference adapter: small deployments use it for ephemeral settings and
// the test suites use it as the contract double, with an injectable clock
// and per-operation call counters.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/go-settings-admin/go-settings-admin/internal/setting"
	"github.com/go-settings-admin/go-settings-admin/internal/store"
)

// Store is an in-memory settings store.
type Store struct {
	mu      sync.Mutex
	items   map[string]setting.Setting
	history map[string][]setting.HistoryEntry
	calls   map[string]int
	now     func() time.Time
}

// compile-time contract check
var _ store.Adapter = (*Store)(nil)

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		items:   make(map[string]setting.Setting),
		history: make(map[string][]setting.HistoryEntry),
		calls:   make(map[string]int),
		now:     time.Now,
	}
}

// SetNow replaces the clock used for persistence timestamps.
func (s *Store) SetNow(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.now = now
}

// Calls returns how often the named adapter operation was invoked.
func (s *Store) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.calls[op]
}

// ResetCalls zeroes all call counters.
func (s *Store) ResetCalls() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls = make(map[string]int)
}

// All returns every setting, tombstones included.
func (s *Store) All(_ context.Context) ([]setting.Setting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls["all"]++

	return s.snapshot(func(setting.Setting) bool { return true }), nil
}

// Active returns only non-deleted settings.
func (s *Store) Active(_ context.Context) ([]setting.Setting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls["active"]++

	return s.snapshot(func(item setting.Setting) bool { return !item.Deleted }), nil
}

// UpdatedSince returns settings updated strictly after since, tombstones
// included.
func (s *Store) UpdatedSince(_ context.Context, since time.Time) ([]setting.Setting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls["updated_since"]++

	return s.snapshot(func(item setting.Setting) bool { return item.UpdatedAt.After(since) }), nil
}

// LastUpdatedAt returns the maximum UpdatedAt or nil when empty.
func (s *Store) LastUpdatedAt(_ context.Context) (*time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls["last_updated_at"]++

	var max *time.Time

	for _, item := range s.items {
		if max == nil || item.UpdatedAt.After(*max) {
			t := item.UpdatedAt
			max = &t
		}
	}

	return max, nil
}

// FindByKey returns the setting or store.ErrNotFound.
func (s *Store) FindByKey(_ context.Context, key string) (*setting.Setting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls["find_by_key"]++

	item, ok := s.items[key]
	if !ok {
		return nil, store.ErrNotFound
	}

	found := item

	return &found, nil
}

// Persist validates and writes the setting, bumping UpdatedAt.
// UpdatedAt is kept strictly increasing per store so UpdatedSince never
// misses a write landing within clock granularity.
func (s *Store) Persist(_ context.Context, item *setting.Setting) error {
	item.Normalize()

	if err := item.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls["persist"]++

	now := s.now()

	if existing, ok := s.items[item.Key]; ok {
		item.CreatedAt = existing.CreatedAt
	} else {
		item.CreatedAt = now
	}

	if last := s.maxUpdatedAt(); last != nil && !now.After(*last) {
		now = last.Add(time.Nanosecond)
	}

	item.UpdatedAt = now
	s.items[item.Key] = *item

	return nil
}

// CreateHistory appends a history entry.
func (s *Store) CreateHistory(_ context.Context, entry setting.HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls["create_history"]++

	s.history[entry.Key] = append(s.history[entry.Key], entry)

	return nil
}

// History returns the recorded entries of a key, oldest first.
func (s *Store) History(_ context.Context, key string) ([]setting.HistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls["history"]++

	entries := make([]setting.HistoryEntry, len(s.history[key]))
	copy(entries, s.history[key])

	return entries, nil
}

// RedactHistory nulls every recorded value of the key.
func (s *Store) RedactHistory(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls["redact_history"]++

	entries := s.history[key]
	for i := range entries {
		entries[i].Value = nil
	}

	return nil
}

// snapshot copies matching items out of the store. Callers hold s.mu.
func (s *Store) snapshot(match func(setting.Setting) bool) []setting.Setting {
	out := make([]setting.Setting, 0, len(s.items))

	for _, item := range s.items {
		if match(item) {
			out = append(out, item)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })

	return out
}

// maxUpdatedAt returns the newest UpdatedAt. Callers hold s.mu.
func (s *Store) maxUpdatedAt() *time.Time {
	var max *time.Time

	for _, item := range s.items {
		if max == nil || item.UpdatedAt.After(*max) {
			t := item.UpdatedAt
			max = &t
		}
	}

	return max
}

package redisstore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-settings-admin/go-settings-admin/internal/setting"
	"github.com/go-settings-admin/go-settings-admin/internal/store"
)

func strPtr(s string) *string {
	return &s
}

func setupStore(t *testing.T) *Store {
	t.Helper()

	// Start miniredis for testing
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
	t.Cleanup(func() { _ = rdb.Close() })

	return New(rdb, "test")
}

func persist(t *testing.T, s *Store, key, value string, typ setting.ValueType) *setting.Setting {
	t.Helper()

	item := &setting.Setting{Key: key, RawValue: strPtr(value), ValueType: typ}
	require.NoError(t, s.Persist(context.Background(), item))

	return item
}

func TestPersistAndFindByKey(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	item := persist(t, s, "app.name", "My App", setting.TypeString)
	assert.False(t, item.UpdatedAt.IsZero())

	found, err := s.FindByKey(ctx, "app.name")
	require.NoError(t, err)
	require.NotNil(t, found.RawValue)
	assert.Equal(t, "My App", *found.RawValue)
	assert.True(t, item.UpdatedAt.Equal(found.UpdatedAt), "timestamps survive the JSON round trip")

	_, err = s.FindByKey(ctx, "missing")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestPersistKeepsCreatedAt(t *testing.T) {
	s := setupStore(t)

	first := persist(t, s, "k", "v1", setting.TypeString)
	second := persist(t, s, "k", "v2", setting.TypeString)

	assert.True(t, first.CreatedAt.Equal(second.CreatedAt))
	assert.True(t, second.UpdatedAt.After(first.UpdatedAt))
}

func TestPersistRejectsInvalidValue(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	err := s.Persist(ctx, &setting.Setting{
		Key:       "limit",
		RawValue:  strPtr("ten"),
		ValueType: setting.TypeInteger,
	})
	require.Error(t, err)

	_, ok := setting.AsValidation(err)
	assert.True(t, ok)

	_, err = s.FindByKey(ctx, "limit")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestAllAndActive(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	persist(t, s, "kept", "v", setting.TypeString)

	gone := persist(t, s, "gone", "v", setting.TypeString)
	gone.Deleted = true
	require.NoError(t, s.Persist(ctx, gone))

	all, err := s.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "gone", all[0].Key, "All is sorted by key")

	active, err := s.Active(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "kept", active[0].Key)
}

func TestUpdatedSinceIsStrict(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	old := persist(t, s, "old", "v", setting.TypeString)
	newer := persist(t, s, "new", "v", setting.TypeString)

	changed, err := s.UpdatedSince(ctx, old.UpdatedAt)
	require.NoError(t, err)
	require.Len(t, changed, 1)
	assert.Equal(t, "new", changed[0].Key)

	none, err := s.UpdatedSince(ctx, newer.UpdatedAt)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestUpdatedSinceIncludesTombstones(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	item := persist(t, s, "k", "v", setting.TypeString)
	cursor := item.UpdatedAt

	item.Deleted = true
	require.NoError(t, s.Persist(ctx, item))

	changed, err := s.UpdatedSince(ctx, cursor)
	require.NoError(t, err)
	require.Len(t, changed, 1)
	assert.True(t, changed[0].Deleted)
}

func TestMonotonicTimestamps(t *testing.T) {
	s := setupStore(t)

	// freeze the clock so every write lands on the same instant
	frozen := time.Now().Truncate(time.Microsecond)
	s.SetNow(func() time.Time { return frozen })

	first := persist(t, s, "a", "v", setting.TypeString)
	second := persist(t, s, "b", "v", setting.TypeString)

	assert.True(t, second.UpdatedAt.After(first.UpdatedAt),
		"UpdatedAt stays strictly increasing under a frozen clock")
}

func TestLastUpdatedAt(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	last, err := s.LastUpdatedAt(ctx)
	require.NoError(t, err)
	assert.Nil(t, last)

	item := persist(t, s, "k", "v", setting.TypeString)

	last, err = s.LastUpdatedAt(ctx)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.True(t, item.UpdatedAt.Equal(*last))
}

func TestHistoryAppendAndRedact(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)

	require.NoError(t, s.CreateHistory(ctx, setting.HistoryEntry{
		Key: "k", Value: strPtr("v1"), ChangedBy: "alice", CreatedAt: now,
	}))
	require.NoError(t, s.CreateHistory(ctx, setting.HistoryEntry{
		Key: "k", Value: strPtr("v2"), ChangedBy: "bob", CreatedAt: now.Add(time.Minute),
	}))

	entries, err := s.History(ctx, "k")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "v1", *entries[0].Value)
	assert.Equal(t, "v2", *entries[1].Value)

	require.NoError(t, s.RedactHistory(ctx, "k"))

	entries, err = s.History(ctx, "k")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Nil(t, entries[0].Value)
	assert.Nil(t, entries[1].Value)
	assert.Equal(t, "bob", entries[1].ChangedBy, "redaction keeps attribution")
}

func TestUnavailableOnClosedServer(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := New(rdb, "test")

	mr.Close()

	_, err = s.All(context.Background())
	require.Error(t, err)
	assert.True(t, store.IsUnavailable(err))
}

// Package redisstore implements store.Adapter on Redis. Settings live as
// JSON documents in one hash, indexed by a sorted set scored with the
// update timestamp in microseconds so incremental refresh is one range
// query. History is an append-only list per key.
package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/go-settings-admin/go-settings-admin/internal/config"
	"github.com/go-settings-admin/go-settings-admin/internal/setting"
	"github.com/go-settings-admin/go-settings-admin/internal/store"
)

const defaultPrefix = "settings"

// Store is a Redis backed settings store.
type Store struct {
	rdb    *redis.Client
	prefix string
	now    func() time.Time
}

// compile-time contract check
var _ store.Adapter = (*Store)(nil)

// Open connects to the configured Redis server.
func Open(cfg config.Redis) *Store {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	return New(rdb, cfg.KeyPrefix)
}

// New wraps an existing Redis client.
func New(rdb *redis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = defaultPrefix
	}

	return &Store{rdb: rdb, prefix: prefix, now: time.Now}
}

// SetNow replaces the clock used for persistence timestamps.
func (s *Store) SetNow(now func() time.Time) {
	s.now = now
}

func (s *Store) itemsKey() string {
	return s.prefix + ":items"
}

func (s *Store) updatedKey() string {
	return s.prefix + ":updated"
}

func (s *Store) historyKey(key string) string {
	return s.prefix + ":history:" + key
}

// All returns every setting, tombstones included.
func (s *Store) All(ctx context.Context) ([]setting.Setting, error) {
	raw, err := s.rdb.HGetAll(ctx, s.itemsKey()).Result()
	if err != nil {
		return nil, store.Unavailable(err)
	}

	items := make([]setting.Setting, 0, len(raw))

	for key, doc := range raw {
		item, err := decodeSetting(key, doc)
		if err != nil {
			return nil, err
		}

		items = append(items, item)
	}

	sort.Slice(items, func(i, j int) bool { return items[i].Key < items[j].Key })

	return items, nil
}

// Active returns only non-deleted settings.
func (s *Store) Active(ctx context.Context) ([]setting.Setting, error) {
	items, err := s.All(ctx)
	if err != nil {
		return nil, err
	}

	active := items[:0]

	for _, item := range items {
		if !item.Deleted {
			active = append(active, item)
		}
	}

	return active, nil
}

// UpdatedSince returns settings updated strictly after since, tombstones
// included. The sorted set index keeps this one ZRANGEBYSCORE plus one
// HMGET instead of a full scan.
func (s *Store) UpdatedSince(ctx context.Context, since time.Time) ([]setting.Setting, error) {
	keys, err := s.rdb.ZRangeByScore(ctx, s.updatedKey(), &redis.ZRangeBy{
		Min: fmt.Sprintf("(%d", since.UnixMicro()),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, store.Unavailable(err)
	}

	if len(keys) == 0 {
		return []setting.Setting{}, nil
	}

	docs, err := s.rdb.HMGet(ctx, s.itemsKey(), keys...).Result()
	if err != nil {
		return nil, store.Unavailable(err)
	}

	items := make([]setting.Setting, 0, len(docs))

	for i, doc := range docs {
		str, ok := doc.(string)
		if !ok {
			continue // index entry without document, skip
		}

		item, err := decodeSetting(keys[i], str)
		if err != nil {
			return nil, err
		}

		items = append(items, item)
	}

	return items, nil
}

// LastUpdatedAt returns the newest index score or nil when empty.
func (s *Store) LastUpdatedAt(ctx context.Context) (*time.Time, error) {
	scores, err := s.rdb.ZRevRangeWithScores(ctx, s.updatedKey(), 0, 0).Result()
	if err != nil {
		return nil, store.Unavailable(err)
	}

	if len(scores) == 0 {
		return nil, nil
	}

	t := time.UnixMicro(int64(scores[0].Score))

	return &t, nil
}

// FindByKey returns the setting or store.ErrNotFound.
func (s *Store) FindByKey(ctx context.Context, key string) (*setting.Setting, error) {
	doc, err := s.rdb.HGet(ctx, s.itemsKey(), key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, store.ErrNotFound
	}

	if err != nil {
		return nil, store.Unavailable(err)
	}

	item, err := decodeSetting(key, doc)
	if err != nil {
		return nil, err
	}

	return &item, nil
}

// Persist validates and writes the setting. Timestamps are truncated to
// microseconds to match the index score resolution, and kept strictly
// increasing so UpdatedSince never misses a write landing within clock
// granularity.
func (s *Store) Persist(ctx context.Context, item *setting.Setting) error {
	item.Normalize()

	if err := item.Validate(); err != nil {
		return err
	}

	now := s.now().Truncate(time.Microsecond)

	existing, err := s.FindByKey(ctx, item.Key)

	switch {
	case err == nil:
		item.CreatedAt = existing.CreatedAt
	case errors.Is(err, store.ErrNotFound):
		item.CreatedAt = now
	default:
		return err
	}

	if last, err := s.LastUpdatedAt(ctx); err != nil {
		return err
	} else if last != nil && !now.After(*last) {
		now = last.Add(time.Microsecond)
	}

	item.UpdatedAt = now

	doc, err := json.Marshal(item)
	if err != nil {
		return errors.Wrapf(err, "failed to encode setting %s", item.Key)
	}

	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, s.itemsKey(), item.Key, string(doc))
	pipe.ZAdd(ctx, s.updatedKey(), redis.Z{Score: float64(now.UnixMicro()), Member: item.Key})

	if _, err := pipe.Exec(ctx); err != nil {
		return store.Unavailable(err)
	}

	return nil
}

// CreateHistory appends a history entry to the key's list.
func (s *Store) CreateHistory(ctx context.Context, entry setting.HistoryEntry) error {
	doc, err := json.Marshal(entry)
	if err != nil {
		return errors.Wrapf(err, "failed to encode history entry for %s", entry.Key)
	}

	if err := s.rdb.RPush(ctx, s.historyKey(entry.Key), string(doc)).Err(); err != nil {
		return store.Unavailable(err)
	}

	return nil
}

// History returns the recorded entries of a key, oldest first.
func (s *Store) History(ctx context.Context, key string) ([]setting.HistoryEntry, error) {
	docs, err := s.rdb.LRange(ctx, s.historyKey(key), 0, -1).Result()
	if err != nil {
		return nil, store.Unavailable(err)
	}

	entries := make([]setting.HistoryEntry, 0, len(docs))

	for _, doc := range docs {
		var entry setting.HistoryEntry

		if err := json.Unmarshal([]byte(doc), &entry); err != nil {
			return nil, errors.Wrapf(err, "failed to decode history entry for %s", key)
		}

		entries = append(entries, entry)
	}

	return entries, nil
}

// RedactHistory rewrites every entry of the key with a nulled value.
func (s *Store) RedactHistory(ctx context.Context, key string) error {
	entries, err := s.History(ctx, key)
	if err != nil {
		return err
	}

	for i, entry := range entries {
		if entry.Value == nil {
			continue
		}

		entry.Value = nil

		doc, err := json.Marshal(entry)
		if err != nil {
			return errors.Wrapf(err, "failed to encode history entry for %s", key)
		}

		if err := s.rdb.LSet(ctx, s.historyKey(key), int64(i), string(doc)).Err(); err != nil {
			return store.Unavailable(err)
		}
	}

	return nil
}

func decodeSetting(key, doc string) (setting.Setting, error) {
	var item setting.Setting

	if err := json.Unmarshal([]byte(doc), &item); err != nil {
		return setting.Setting{}, errors.Wrapf(err, "failed to decode setting %s", key)
	}

	return item, nil
}

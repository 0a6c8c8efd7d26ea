// Package cache implements the in-process read-through settings cache:
// lazy full load, negative caching of absent keys, and an incremental
// refresh protocol that pulls only the records changed since the last
// known update cursor.
//
// The hot read path is lock-free: the snapshot lives behind an atomic
// pointer and is replaced wholesale on load, while single-key fills go
// through the snapshot's concurrent map. Refresh coordination uses a
// separate single-slot mutex so concurrent triggers coalesce into one
// in-flight cycle and everybody else proceeds against the still-valid,
// slightly stale snapshot.
package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/go-settings-admin/go-settings-admin/internal/setting"
	"github.com/go-settings-admin/go-settings-admin/internal/store"
)

// DefaultRefreshInterval bounds staleness when no interval is configured.
const DefaultRefreshInterval = 5 * time.Second

// Probe is an optional external cache for the store's last-updated
// timestamp, so the cheap poll can be answered without touching the
// store at all. The host application provides one backed by whatever
// generic key-value cache it already runs.
type Probe interface {
	// Get returns the cached timestamp and whether the probe had an answer.
	Get(ctx context.Context) (*time.Time, bool)

	// Set records the timestamp the store reported.
	Set(ctx context.Context, t *time.Time)
}

// Options configures a Cache.
type Options struct {
	// RefreshInterval throttles refresh polls; staleness is bounded by it.
	// Zero means DefaultRefreshInterval.
	RefreshInterval time.Duration

	// OnError receives failures from the throttled refresh path, which
	// must never surface into or block ordinary reads. Defaults to a log
	// warning.
	OnError func(error)

	// Now replaces the clock, for tests.
	Now func() time.Time

	// Probe optionally answers the last-updated poll without hitting the
	// store.
	Probe Probe
}

// Cache is an in-memory snapshot of all active settings keyed by name.
// One instance is owned by the composing application; there is no global.
type Cache struct {
	adapter store.Adapter
	opts    Options

	snap        atomic.Pointer[snapshot]
	loads       singleflight.Group
	refreshMu   sync.Mutex
	lastChecked atomic.Int64 // unix nanos of the last refresh attempt, 0 = never
}

// snapshot is the published cache state. The entries map is shared across
// incremental refreshes (per-key stores are atomic); a full load swaps in
// a fresh map. The cursor only ever advances after the corresponding
// records have been merged into entries.
type snapshot struct {
	entries *sync.Map // key -> setting.Value
	cursor  time.Time // max UpdatedAt merged so far
}

// New creates a cache in the UNLOADED state in front of the adapter.
func New(adapter store.Adapter, opts Options) *Cache {
	if opts.RefreshInterval <= 0 {
		opts.RefreshInterval = DefaultRefreshInterval
	}

	if opts.Now == nil {
		opts.Now = time.Now
	}

	if opts.OnError == nil {
		opts.OnError = func(err error) {
			log.Warn().Err(err).Msg("settings cache refresh failed")
		}
	}

	return &Cache{adapter: adapter, opts: opts}
}

// Get returns the cached value for key. The first read of any kind
// triggers the full load synchronously; a key absent from the snapshot
// costs one adapter round-trip and is then negatively cached, so
// repeated lookups of a nonexistent key never hit the store again.
//
// Negative entries are never evicted except by Reset or a later write to
// the key. Looking up unbounded high-cardinality dynamic keys therefore
// grows the snapshot without bound; keeping key cardinality sane is the
// caller's responsibility.
func (c *Cache) Get(ctx context.Context, key string) (setting.Value, error) {
	snap, err := c.ensureLoaded(ctx)
	if err != nil {
		return setting.Missing(), err
	}

	c.maybeRefresh(ctx)

	// the refresh may have swapped the snapshot
	if current := c.snap.Load(); current != nil {
		snap = current
	}

	if v, ok := snap.entries.Load(key); ok {
		metricHits.Inc()

		return v.(setting.Value), nil
	}

	metricMisses.Inc()

	rec, err := c.adapter.FindByKey(ctx, key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			v := setting.Missing()
			snap.entries.Store(key, v)

			return v, nil
		}

		// transient store failures are not "key not found"; propagate
		// without caching anything
		return setting.Missing(), err
	}

	v := rec.Value()
	snap.entries.Store(key, v)

	return v, nil
}

// All returns a copy of the current snapshot, negative entries excluded.
func (c *Cache) All(ctx context.Context) (map[string]setting.Value, error) {
	snap, err := c.ensureLoaded(ctx)
	if err != nil {
		return nil, err
	}

	c.maybeRefresh(ctx)

	if current := c.snap.Load(); current != nil {
		snap = current
	}

	out := make(map[string]setting.Value)

	snap.entries.Range(func(k, v any) bool {
		value := v.(setting.Value)
		if value.Found() {
			out[k.(string)] = value
		}

		return true
	})

	return out, nil
}

// Refresh forces an incremental pull regardless of elapsed time. Unlike
// the throttled path it blocks on an in-flight refresh and reports the
// cycle's error to the caller.
func (c *Cache) Refresh(ctx context.Context) error {
	if _, err := c.ensureLoaded(ctx); err != nil {
		return err
	}

	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	return c.refreshLocked(ctx)
}

// Reset discards the entire snapshot and returns to UNLOADED; the next
// read triggers a fresh full load. Used after bulk external changes and
// in test teardown.
func (c *Cache) Reset() {
	c.snap.Store(nil)
	c.lastChecked.Store(0)
}

// Push merges one just-persisted record into the snapshot so a writer
// sees its own write without waiting a refresh interval. A no-op while
// unloaded.
func (c *Cache) Push(s *setting.Setting) {
	snap := c.snap.Load()
	if snap == nil {
		return
	}

	if s.Deleted {
		snap.entries.Delete(s.Key)

		return
	}

	snap.entries.Store(s.Key, s.Value())
}

// Loaded reports whether the initial full load has completed.
func (c *Cache) Loaded() bool {
	return c.snap.Load() != nil
}

// Size returns the number of snapshot entries, negative entries included.
func (c *Cache) Size() int {
	snap := c.snap.Load()
	if snap == nil {
		return 0
	}

	n := 0

	snap.entries.Range(func(any, any) bool {
		n++

		return true
	})

	return n
}

// ensureLoaded performs the UNLOADED -> LOADING -> LOADED transition at
// most once per transition: concurrent first readers coalesce into a
// single full load and all block on its result.
func (c *Cache) ensureLoaded(ctx context.Context) (*snapshot, error) {
	if snap := c.snap.Load(); snap != nil {
		return snap, nil
	}

	v, err, _ := c.loads.Do("load", func() (any, error) {
		if snap := c.snap.Load(); snap != nil {
			return snap, nil
		}

		return c.load(ctx)
	})
	if err != nil {
		return nil, err
	}

	return v.(*snapshot), nil
}

// load fetches every active setting and publishes a fresh snapshot. The
// cursor is the maximum UpdatedAt over the fetched set; an empty store
// still counts as loaded.
func (c *Cache) load(ctx context.Context) (*snapshot, error) {
	records, err := c.adapter.Active(ctx)
	if err != nil {
		return nil, err
	}

	entries := &sync.Map{}

	var cursor time.Time

	for i := range records {
		rec := records[i]
		entries.Store(rec.Key, rec.Value())

		if rec.UpdatedAt.After(cursor) {
			cursor = rec.UpdatedAt
		}
	}

	snap := &snapshot{entries: entries, cursor: cursor}
	c.snap.Store(snap)
	c.lastChecked.Store(c.opts.Now().UnixNano())

	metricLoads.Inc()

	return snap, nil
}

// maybeRefresh runs one throttled refresh cycle if the interval has
// elapsed. Concurrent triggers coalesce: whoever wins the TryLock runs
// the cycle synchronously, everybody else keeps reading the old
// snapshot. Errors go to the hook, never to the reader.
func (c *Cache) maybeRefresh(ctx context.Context) {
	if !c.intervalElapsed() {
		return
	}

	if !c.refreshMu.TryLock() {
		return
	}
	defer c.refreshMu.Unlock()

	// a racing caller may have just finished a cycle
	if !c.intervalElapsed() {
		return
	}

	if err := c.refreshLocked(ctx); err != nil {
		c.opts.OnError(err)
	}
}

func (c *Cache) intervalElapsed() bool {
	last := c.lastChecked.Load()

	return c.opts.Now().Sub(time.Unix(0, last)) >= c.opts.RefreshInterval
}

// refreshLocked runs one refresh cycle. Callers hold refreshMu.
//
// The attempt timestamp advances even on failure so an unreachable store
// is polled at most once per interval; the cursor only advances after a
// successful merge, so no update can ever be skipped.
func (c *Cache) refreshLocked(ctx context.Context) error {
	snap := c.snap.Load()
	if snap == nil {
		// lost a race with Reset; the next read reloads from scratch
		return nil
	}

	defer func() {
		c.lastChecked.Store(c.opts.Now().UnixNano())
	}()

	last, err := c.lastUpdated(ctx)
	if err != nil {
		metricRefreshes.WithLabelValues("failed").Inc()

		return err
	}

	if last == nil || !last.After(snap.cursor) {
		metricRefreshes.WithLabelValues("noop").Inc()

		return nil
	}

	records, err := c.adapter.UpdatedSince(ctx, snap.cursor)
	if err != nil {
		metricRefreshes.WithLabelValues("failed").Inc()

		return err
	}

	cursor := snap.cursor

	for i := range records {
		rec := records[i]

		if rec.Deleted {
			snap.entries.Delete(rec.Key)
		} else {
			snap.entries.Store(rec.Key, rec.Value())
		}

		if rec.UpdatedAt.After(cursor) {
			cursor = rec.UpdatedAt
		}
	}

	// records are merged above before the cursor is published; the other
	// order would lose updates on a crash between the two steps
	c.snap.Store(&snapshot{entries: snap.entries, cursor: cursor})

	metricRefreshes.WithLabelValues("applied").Inc()

	return nil
}

// lastUpdated answers the cheap poll, preferring the external probe when
// one is configured.
func (c *Cache) lastUpdated(ctx context.Context) (*time.Time, error) {
	if c.opts.Probe != nil {
		if t, ok := c.opts.Probe.Get(ctx); ok {
			return t, nil
		}
	}

	t, err := c.adapter.LastUpdatedAt(ctx)
	if err != nil {
		return nil, err
	}

	if c.opts.Probe != nil {
		c.opts.Probe.Set(ctx, t)
	}

	return t, nil
}

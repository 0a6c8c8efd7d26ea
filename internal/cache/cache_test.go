package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-settings-admin/go-settings-admin/internal/setting"
	"github.com/go-settings-admin/go-settings-admin/internal/store"
	"github.com/go-settings-admin/go-settings-admin/internal/store/memstore"
)

func strPtr(s string) *string {
	return &s
}

// fakeClock drives both the store's persistence timestamps and the
// cache's throttle in tests.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.t = c.t.Add(d)
}

func setupCache(t *testing.T) (*Cache, *memstore.Store, *fakeClock) {
	t.Helper()

	clock := newFakeClock()

	s := memstore.New()
	s.SetNow(clock.Now)

	c := New(s, Options{RefreshInterval: 5 * time.Second, Now: clock.Now})

	return c, s, clock
}

func persist(t *testing.T, s *memstore.Store, key, value string, typ setting.ValueType) {
	t.Helper()

	require.NoError(t, s.Persist(context.Background(), &setting.Setting{
		Key:       key,
		RawValue:  strPtr(value),
		ValueType: typ,
	}))
}

func TestFirstReadLoadsOnceSecondReadIsFree(t *testing.T) {
	c, s, _ := setupCache(t)
	ctx := context.Background()

	persist(t, s, "site.name", "My Site", setting.TypeString)
	s.ResetCalls()

	v, err := c.Get(ctx, "site.name")
	require.NoError(t, err)
	require.NotNil(t, v.String())
	assert.Equal(t, "My Site", *v.String())

	assert.Equal(t, 1, s.Calls("active"), "first read triggers exactly one full load")
	assert.Zero(t, s.Calls("find_by_key"))

	_, err = c.Get(ctx, "site.name")
	require.NoError(t, err)

	assert.Equal(t, 1, s.Calls("active"), "second immediate read touches no adapter")
	assert.Zero(t, s.Calls("find_by_key"))
	assert.Zero(t, s.Calls("last_updated_at"), "no poll within the refresh interval")
}

func TestNegativeCaching(t *testing.T) {
	c, s, _ := setupCache(t)
	ctx := context.Background()

	persist(t, s, "present", "v", setting.TypeString)
	s.ResetCalls()

	v, err := c.Get(ctx, "absent")
	require.NoError(t, err)
	assert.False(t, v.Found())
	assert.True(t, v.IsNil())
	assert.Equal(t, 1, s.Calls("find_by_key"))

	v, err = c.Get(ctx, "absent")
	require.NoError(t, err)
	assert.False(t, v.Found())
	assert.Equal(t, 1, s.Calls("find_by_key"), "negative entry answers repeated lookups")
}

func TestConcurrentFirstReadsCoalesceIntoOneLoad(t *testing.T) {
	c, s, _ := setupCache(t)
	ctx := context.Background()

	persist(t, s, "k", "v", setting.TypeString)
	s.ResetCalls()

	const readers = 32

	var wg sync.WaitGroup

	start := make(chan struct{})

	for i := 0; i < readers; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()
			<-start

			v, err := c.Get(ctx, "k")
			assert.NoError(t, err)
			assert.False(t, v.IsNil())
		}()
	}

	close(start)
	wg.Wait()

	assert.Equal(t, 1, s.Calls("active"), "concurrent first reads must not race duplicate full loads")
}

func TestStalenessBoundedByRefreshInterval(t *testing.T) {
	c, s, clock := setupCache(t)
	ctx := context.Background()

	persist(t, s, "key.1", "1", setting.TypeInteger)

	v, err := c.Get(ctx, "key.1")
	require.NoError(t, err)

	n, err := v.Int()
	require.NoError(t, err)
	assert.Equal(t, int64(1), *n)

	// update the store directly; the cache must keep serving the stale
	// value within the interval
	persist(t, s, "key.1", "10", setting.TypeInteger)

	v, err = c.Get(ctx, "key.1")
	require.NoError(t, err)
	n, err = v.Int()
	require.NoError(t, err)
	assert.Equal(t, int64(1), *n, "within the interval the stale value is served")

	require.NoError(t, c.Refresh(ctx))

	v, err = c.Get(ctx, "key.1")
	require.NoError(t, err)
	n, err = v.Int()
	require.NoError(t, err)
	assert.Equal(t, int64(10), *n)

	_ = clock
}

func TestThrottledRefresh(t *testing.T) {
	c, s, clock := setupCache(t)
	ctx := context.Background()

	persist(t, s, "k", "v", setting.TypeString)

	_, err := c.Get(ctx, "k")
	require.NoError(t, err)
	s.ResetCalls()

	clock.Advance(2 * time.Second)

	_, err = c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Zero(t, s.Calls("last_updated_at"), "reads within the interval trigger no poll")

	clock.Advance(4 * time.Second)

	_, err = c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, 1, s.Calls("last_updated_at"), "a read past the interval polls once")

	_, err = c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, 1, s.Calls("last_updated_at"), "the poll result is reused until the next interval")
}

func TestRefreshEvictsTombstones(t *testing.T) {
	c, s, _ := setupCache(t)
	ctx := context.Background()

	persist(t, s, "doomed", "v", setting.TypeString)

	v, err := c.Get(ctx, "doomed")
	require.NoError(t, err)
	assert.False(t, v.IsNil())

	rec, err := s.FindByKey(ctx, "doomed")
	require.NoError(t, err)
	rec.Deleted = true
	require.NoError(t, s.Persist(ctx, rec))

	require.NoError(t, c.Refresh(ctx))

	v, err = c.Get(ctx, "doomed")
	require.NoError(t, err)
	assert.True(t, v.IsNil(), "a deleted key reads as nil after refresh")
}

func TestRefreshSkipsWhenNothingChanged(t *testing.T) {
	c, s, _ := setupCache(t)
	ctx := context.Background()

	persist(t, s, "k", "v", setting.TypeString)

	_, err := c.Get(ctx, "k")
	require.NoError(t, err)
	s.ResetCalls()

	require.NoError(t, c.Refresh(ctx))

	assert.Equal(t, 1, s.Calls("last_updated_at"))
	assert.Zero(t, s.Calls("updated_since"), "an unchanged store is never pulled")
}

func TestEmptyStoreLoadsAsEmptySnapshot(t *testing.T) {
	c, s, _ := setupCache(t)
	ctx := context.Background()

	all, err := c.All(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
	assert.True(t, c.Loaded())
	assert.Zero(t, c.Size())

	require.NoError(t, c.Refresh(ctx), "a nil last-updated timestamp means nothing to pull")

	_ = s
}

func TestReset(t *testing.T) {
	c, s, _ := setupCache(t)
	ctx := context.Background()

	persist(t, s, "k", "v", setting.TypeString)

	_, err := c.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, c.Loaded())

	c.Reset()
	assert.False(t, c.Loaded())
	assert.Zero(t, c.Size())

	s.ResetCalls()

	_, err = c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, 1, s.Calls("active"), "the read after a reset reloads from scratch")
}

func TestPushMakesWritesVisibleImmediately(t *testing.T) {
	c, s, _ := setupCache(t)
	ctx := context.Background()

	persist(t, s, "k", "v1", setting.TypeString)

	_, err := c.Get(ctx, "k")
	require.NoError(t, err)

	updated := &setting.Setting{Key: "k", RawValue: strPtr("v2"), ValueType: setting.TypeString}
	require.NoError(t, s.Persist(ctx, updated))
	c.Push(updated)

	s.ResetCalls()

	v, err := c.Get(ctx, "k")
	require.NoError(t, err)
	require.NotNil(t, v.String())
	assert.Equal(t, "v2", *v.String())
	assert.Zero(t, s.Calls("find_by_key"))

	// a pushed tombstone evicts
	updated.Deleted = true
	require.NoError(t, s.Persist(ctx, updated))
	c.Push(updated)

	v, err = c.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, v.IsNil())
}

// failingStore wraps the memstore and fails selected operations with a
// transient error.
type failingStore struct {
	*memstore.Store

	failLastUpdated bool
	failFind        bool
}

func (f *failingStore) LastUpdatedAt(ctx context.Context) (*time.Time, error) {
	if f.failLastUpdated {
		return nil, store.Unavailable(assert.AnError)
	}

	return f.Store.LastUpdatedAt(ctx)
}

func (f *failingStore) FindByKey(ctx context.Context, key string) (*setting.Setting, error) {
	if f.failFind {
		return nil, store.Unavailable(assert.AnError)
	}

	return f.Store.FindByKey(ctx, key)
}

func TestRefreshFailureKeepsSnapshotAndReportsToHook(t *testing.T) {
	clock := newFakeClock()

	inner := memstore.New()
	inner.SetNow(clock.Now)
	failing := &failingStore{Store: inner}

	var (
		hookMu   sync.Mutex
		hookErrs []error
	)

	c := New(failing, Options{
		RefreshInterval: 5 * time.Second,
		Now:             clock.Now,
		OnError: func(err error) {
			hookMu.Lock()
			defer hookMu.Unlock()
			hookErrs = append(hookErrs, err)
		},
	})

	ctx := context.Background()

	persist(t, inner, "k", "v", setting.TypeString)

	v, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, v.IsNil())

	failing.failLastUpdated = true
	clock.Advance(6 * time.Second)

	// the read keeps working on the stale snapshot while the refresh fails
	v, err = c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, v.IsNil())

	hookMu.Lock()
	defer hookMu.Unlock()
	require.Len(t, hookErrs, 1)
	assert.True(t, store.IsUnavailable(hookErrs[0]))
}

func TestThrottledRetryAfterFailure(t *testing.T) {
	clock := newFakeClock()

	inner := memstore.New()
	inner.SetNow(clock.Now)
	failing := &failingStore{Store: inner}

	c := New(failing, Options{RefreshInterval: 5 * time.Second, Now: clock.Now, OnError: func(error) {}})
	ctx := context.Background()

	persist(t, inner, "k", "1", setting.TypeInteger)

	_, err := c.Get(ctx, "k")
	require.NoError(t, err)

	persist(t, inner, "k", "2", setting.TypeInteger)

	failing.failLastUpdated = true
	clock.Advance(6 * time.Second)
	_, _ = c.Get(ctx, "k")

	// the failed cycle must not advance the cursor; once the store is back
	// the next interval picks the change up
	failing.failLastUpdated = false
	clock.Advance(6 * time.Second)

	v, err := c.Get(ctx, "k")
	require.NoError(t, err)

	n, err := v.Int()
	require.NoError(t, err)
	assert.Equal(t, int64(2), *n)
}

func TestPointLookupPropagatesStoreFailure(t *testing.T) {
	clock := newFakeClock()

	inner := memstore.New()
	inner.SetNow(clock.Now)
	failing := &failingStore{Store: inner}

	c := New(failing, Options{RefreshInterval: 5 * time.Second, Now: clock.Now})
	ctx := context.Background()

	_, err := c.All(ctx)
	require.NoError(t, err)

	failing.failFind = true

	_, err = c.Get(ctx, "unknown")
	require.Error(t, err, "an unreachable store is not the same as key-not-found")
	assert.True(t, store.IsUnavailable(err))

	// the failure was not cached as a negative entry
	failing.failFind = false
	inner.ResetCalls()

	v, err := c.Get(ctx, "unknown")
	require.NoError(t, err)
	assert.False(t, v.Found())
	assert.Equal(t, 1, inner.Calls("find_by_key"))
}

// recordingProbe is a Probe backed by a plain map, standing in for the
// host application's generic key-value cache.
type recordingProbe struct {
	mu     sync.Mutex
	t      *time.Time
	have   bool
	gets   int
	stores int
}

func (p *recordingProbe) Get(context.Context) (*time.Time, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.gets++

	return p.t, p.have
}

func (p *recordingProbe) Set(_ context.Context, t *time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stores++
	p.t = t
	p.have = true
}

func TestProbeAnswersThePollWithoutTheStore(t *testing.T) {
	clock := newFakeClock()

	s := memstore.New()
	s.SetNow(clock.Now)

	probe := &recordingProbe{}

	c := New(s, Options{RefreshInterval: 5 * time.Second, Now: clock.Now, Probe: probe})
	ctx := context.Background()

	persist(t, s, "k", "v", setting.TypeString)

	_, err := c.Get(ctx, "k")
	require.NoError(t, err)
	s.ResetCalls()

	// first poll misses the probe, hits the store, fills the probe
	clock.Advance(6 * time.Second)
	_, err = c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, 1, s.Calls("last_updated_at"))
	assert.Equal(t, 1, probe.stores)

	// second poll is answered by the probe alone
	clock.Advance(6 * time.Second)
	_, err = c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, 1, s.Calls("last_updated_at"))
}

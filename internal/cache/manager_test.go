package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pmujumdar27/erp-admission/internal/store"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type product struct {
	ID    string  `json:"id"`
	Name  string  `json:"name"`
	Price float64 `json:"price"`
	Notes string  `json:"notes,omitempty"`
}

func newTestManager(t *testing.T, cfg Config) (*Manager, *store.MemoryStore, *testClock) {
	t.Helper()
	clock := newTestClock()
	s := store.NewMemoryStoreWithConfig(store.MemoryStoreConfig{CleanupInterval: time.Hour, Now: clock.Now})
	t.Cleanup(func() { s.Close() })

	cfg.Now = clock.Now
	return NewManager(s, cfg, nil, discardLogger()), s, clock
}

func TestManager_SetGet(t *testing.T) {
	m, _, _ := newTestManager(t, Config{})
	ctx := context.Background()

	want := product{ID: "p1", Name: "Widget", Price: 9.5}
	stored, err := m.Set(ctx, "product:p1", want, SetOptions{})
	require.NoError(t, err)
	assert.True(t, stored)

	var got product
	hit, err := m.Get(ctx, "product:p1", &got)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, want, got)

	hit, err = m.Get(ctx, "product:missing", &got)
	require.NoError(t, err)
	assert.False(t, hit)

	_, err = m.Get(ctx, "", &got)
	assert.ErrorIs(t, err, ErrInvalidKey)
	_, err = m.Set(ctx, "", want, SetOptions{})
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestManager_TTLExpiry(t *testing.T) {
	m, _, clock := newTestManager(t, Config{})
	ctx := context.Background()

	_, err := m.Set(ctx, "k", "value", SetOptions{TTL: 100 * time.Millisecond})
	require.NoError(t, err)

	var got string
	hit, err := m.Get(ctx, "k", &got)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, "value", got)

	clock.Advance(101 * time.Millisecond)

	hit, err = m.Get(ctx, "k", &got)
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestManager_DefaultAndNoExpiry(t *testing.T) {
	m, _, clock := newTestManager(t, Config{DefaultTTL: time.Minute})
	ctx := context.Background()

	_, err := m.Set(ctx, "default", 1, SetOptions{})
	require.NoError(t, err)
	_, err = m.Set(ctx, "forever", 2, SetOptions{TTL: NoExpiry})
	require.NoError(t, err)

	clock.Advance(24 * time.Hour)

	var v int
	hit, _ := m.Get(ctx, "default", &v)
	assert.False(t, hit)
	hit, _ = m.Get(ctx, "forever", &v)
	assert.True(t, hit)
	assert.Equal(t, 2, v)
}

func TestManager_OverwriteReplacesTagsAndTTL(t *testing.T) {
	m, _, clock := newTestManager(t, Config{})
	ctx := context.Background()

	_, err := m.Set(ctx, "k", "v1", SetOptions{TTL: time.Second, Tags: []string{"product"}})
	require.NoError(t, err)
	_, err = m.Set(ctx, "k", "v2", SetOptions{TTL: time.Hour, Tags: []string{"order"}})
	require.NoError(t, err)

	cleared, err := m.ClearByTags(ctx, []string{"product"})
	require.NoError(t, err)
	assert.Equal(t, 0, cleared)

	clock.Advance(time.Minute)

	var got string
	hit, err := m.Get(ctx, "k", &got)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, "v2", got)
}

func TestManager_Delete(t *testing.T) {
	m, _, _ := newTestManager(t, Config{})
	ctx := context.Background()

	_, err := m.Set(ctx, "k", "v", SetOptions{})
	require.NoError(t, err)

	deleted, err := m.Delete(ctx, "k")
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = m.Delete(ctx, "k")
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestManager_ClearByTags(t *testing.T) {
	m, _, _ := newTestManager(t, Config{})
	ctx := context.Background()

	_, err := m.Set(ctx, "product:1", "a", SetOptions{Tags: []string{"product"}})
	require.NoError(t, err)
	_, err = m.Set(ctx, "product:list", "b", SetOptions{Tags: []string{"product", "listing"}})
	require.NoError(t, err)
	_, err = m.Set(ctx, "order:1", "c", SetOptions{Tags: []string{"order"}})
	require.NoError(t, err)

	cleared, err := m.ClearByTags(ctx, []string{"product"})
	require.NoError(t, err)
	assert.Equal(t, 2, cleared)

	var v string
	hit, _ := m.Get(ctx, "product:1", &v)
	assert.False(t, hit)
	hit, _ = m.Get(ctx, "order:1", &v)
	assert.True(t, hit)

	cleared, err = m.ClearByTags(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, cleared)
}

func TestManager_ClearByTagsUsesTagSets(t *testing.T) {
	m, s, clock := newTestManager(t, Config{})
	other := NewManager(s, Config{Now: clock.Now}, nil, discardLogger())
	ctx := context.Background()

	_, err := m.Set(ctx, "product:1", "a", SetOptions{TTL: time.Minute, Tags: []string{"product"}})
	require.NoError(t, err)
	_, err = other.Set(ctx, "product:2", "b", SetOptions{TTL: time.Hour, Tags: []string{"product"}})
	require.NoError(t, err)
	_, err = m.Set(ctx, "order:1", "c", SetOptions{})
	require.NoError(t, err)

	members, err := s.SetMembers(ctx, "tag:cache:product")
	require.NoError(t, err)
	assert.Equal(t, []string{"cache:product:1", "cache:product:2"}, members)

	cleared, err := m.ClearByTags(ctx, []string{"product"})
	require.NoError(t, err)
	assert.Equal(t, 2, cleared, "entries written by another instance are cleared too")

	members, err = s.SetMembers(ctx, "tag:cache:product")
	require.NoError(t, err)
	assert.Empty(t, members)

	var v string
	hit, _ := other.Get(ctx, "product:2", &v)
	assert.False(t, hit)
	hit, _ = m.Get(ctx, "order:1", &v)
	assert.True(t, hit)
}

func TestManager_InvalidatePattern(t *testing.T) {
	m, _, _ := newTestManager(t, Config{})
	ctx := context.Background()

	for _, k := range []string{"user:123:profile", "user:123:orders", "user:456:profile", "user:1234:profile"} {
		_, err := m.Set(ctx, k, k, SetOptions{})
		require.NoError(t, err)
	}

	n, err := m.InvalidatePattern(ctx, "user:123:*")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	var v string
	hit, _ := m.Get(ctx, "user:456:profile", &v)
	assert.True(t, hit)
	hit, _ = m.Get(ctx, "user:1234:profile", &v)
	assert.True(t, hit)
	hit, _ = m.Get(ctx, "user:123:profile", &v)
	assert.False(t, hit)

	n, err = m.InvalidatePattern(ctx, `/^user:\d+:profile$/`)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = m.InvalidatePattern(ctx, "re:([")
	assert.ErrorIs(t, err, ErrInvalidPattern)
	_, err = m.InvalidatePattern(ctx, " ")
	assert.ErrorIs(t, err, ErrInvalidPattern)
}

func TestManager_Warmup(t *testing.T) {
	m, _, _ := newTestManager(t, Config{WarmupConcurrency: 2})
	ctx := context.Background()

	_, err := m.Set(ctx, "c", "already", SetOptions{})
	require.NoError(t, err)

	var calls atomic.Int32
	fetch := func(_ context.Context, key string) (any, error) {
		calls.Add(1)
		switch key {
		case "a":
			return product{ID: "a", Name: "Alpha"}, nil
		case "p":
			panic("boom")
		default:
			return nil, errors.New("upstream timeout")
		}
	}

	results := m.Warmup(ctx, []string{"a", "b", "c", "p"}, fetch, SetOptions{Tags: []string{"product"}})
	require.Len(t, results, 4)

	assert.Equal(t, "a", results[0].Key)
	assert.True(t, results[0].Success)
	assert.Equal(t, product{ID: "a", Name: "Alpha"}, results[0].Value)

	assert.Equal(t, "b", results[1].Key)
	assert.False(t, results[1].Success)
	assert.Equal(t, "upstream timeout", results[1].Error)

	assert.True(t, results[2].Success)
	assert.True(t, results[2].Cached)

	assert.False(t, results[3].Success)
	assert.Contains(t, results[3].Error, "boom")
	assert.Equal(t, int32(3), calls.Load())

	var got product
	hit, err := m.Get(ctx, "a", &got)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, "Alpha", got.Name)

	hit, _ = m.Get(ctx, "b", &got)
	assert.False(t, hit)
}

func TestManager_CompressionRoundTrip(t *testing.T) {
	m, s, _ := newTestManager(t, Config{CompressThreshold: 64})
	ctx := context.Background()

	want := product{ID: "p1", Name: "Widget", Notes: strings.Repeat("lorem ipsum ", 200)}
	_, err := m.Set(ctx, "big", want, SetOptions{Compress: true})
	require.NoError(t, err)

	raw, found, err := s.Get(ctx, "cache:big")
	require.NoError(t, err)
	require.True(t, found)
	env, err := decodeEnvelope(raw)
	require.NoError(t, err)
	assert.True(t, env.Compressed)
	assert.Less(t, len(env.Data), env.Size)

	var got product
	hit, err := m.Get(ctx, "big", &got)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, want, got)

	_, err = m.Set(ctx, "small", "tiny", SetOptions{Compress: true})
	require.NoError(t, err)
	raw, _, _ = s.Get(ctx, "cache:small")
	env, err = decodeEnvelope(raw)
	require.NoError(t, err)
	assert.False(t, env.Compressed, "values under the threshold are stored raw")
}

func TestManager_CorruptEntriesAreMisses(t *testing.T) {
	m, s, _ := newTestManager(t, Config{})
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "cache:garbage", []byte("not json"), 0))
	require.NoError(t, s.Set(ctx, "cache:badgzip", []byte(`{"compressed":true,"data":"bm90IGd6aXA=","size":8}`), 0))

	var v string
	for _, key := range []string{"garbage", "badgzip"} {
		hit, err := m.Get(ctx, key, &v)
		require.NoError(t, err, key)
		assert.False(t, hit, key)

		_, found, err := s.Get(ctx, "cache:"+key)
		require.NoError(t, err)
		assert.False(t, found, "%s is dropped", key)
	}
	assert.Equal(t, int64(2), m.Stats(ctx).Errors)
}

func TestManager_DecodeIntoWrongType(t *testing.T) {
	m, _, _ := newTestManager(t, Config{})
	ctx := context.Background()

	_, err := m.Set(ctx, "k", "text", SetOptions{})
	require.NoError(t, err)

	var n int
	_, err = m.Get(ctx, "k", &n)
	assert.Error(t, err)
}

func TestManager_LRUEviction(t *testing.T) {
	m, s, _ := newTestManager(t, Config{MaxEntries: 2})
	ctx := context.Background()

	_, err := m.Set(ctx, "a", 1, SetOptions{})
	require.NoError(t, err)
	_, err = m.Set(ctx, "b", 2, SetOptions{})
	require.NoError(t, err)

	var v int
	hit, _ := m.Get(ctx, "a", &v)
	require.True(t, hit)

	_, err = m.Set(ctx, "c", 3, SetOptions{})
	require.NoError(t, err)

	_, found, _ := s.Get(ctx, "cache:b")
	assert.False(t, found, "least recently used entry is evicted")
	hit, _ = m.Get(ctx, "a", &v)
	assert.True(t, hit)
	hit, _ = m.Get(ctx, "c", &v)
	assert.True(t, hit)

	stats := m.Stats(ctx)
	assert.Equal(t, int64(1), stats.Evictions)
	assert.Zero(t, stats.Expirations)
	assert.Equal(t, 2, stats.Entries)
}

func TestManager_ByteBound(t *testing.T) {
	m, _, _ := newTestManager(t, Config{MaxBytes: 300})
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_, err := m.Set(ctx, fmt.Sprintf("k%d", i), strings.Repeat("x", 50), SetOptions{})
		require.NoError(t, err)
	}

	stats := m.Stats(ctx)
	assert.LessOrEqual(t, stats.MemoryBytes, int64(300))
	assert.Positive(t, stats.Evictions)
	assert.Equal(t, stats.Tracked, stats.Entries)
}

func TestManager_StatsAndAnalytics(t *testing.T) {
	m, _, _ := newTestManager(t, Config{})
	ctx := context.Background()

	_, err := m.Set(ctx, "hot", "h", SetOptions{Tags: []string{"product"}})
	require.NoError(t, err)
	_, err = m.Set(ctx, "cold", "c", SetOptions{Tags: []string{"product", "order"}, TTL: 30 * time.Second})
	require.NoError(t, err)

	var v string
	for i := 0; i < 3; i++ {
		_, _ = m.Get(ctx, "hot", &v)
	}
	_, _ = m.Get(ctx, "missing", &v)

	stats := m.Stats(ctx)
	assert.Equal(t, int64(3), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(2), stats.Sets)
	assert.Equal(t, 2, stats.Entries)
	assert.InDelta(t, 75.0, stats.HitRate, 0.001)
	assert.Equal(t, "memory", stats.Store)

	a := m.Analytics()
	require.NotEmpty(t, a.TopKeys)
	assert.Equal(t, "hot", a.TopKeys[0].Key)
	assert.Equal(t, int64(3), a.TopKeys[0].Hits)
	assert.Equal(t, "hot", a.RecentlyUsed[0])
	assert.Equal(t, 2, a.TagDistribution["product"])
	assert.Equal(t, 1, a.TagDistribution["order"])
	assert.Equal(t, 1, a.ExpiringSoon)
	assert.Positive(t, a.AverageEntryBytes)
}

func TestManager_GetOrLoad(t *testing.T) {
	m, _, _ := newTestManager(t, Config{})
	ctx := context.Background()

	var loads atomic.Int32
	release := make(chan struct{})
	load := func(context.Context) (any, error) {
		loads.Add(1)
		<-release
		return product{ID: "p1", Name: "Widget"}, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var p product
			_, err := m.GetOrLoad(ctx, "product:p1", &p, SetOptions{}, load)
			assert.NoError(t, err)
			assert.Equal(t, "Widget", p.Name)
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), loads.Load())

	var p product
	hit, err := m.GetOrLoad(ctx, "product:p1", &p, SetOptions{}, load)
	require.NoError(t, err)
	assert.True(t, hit)

	_, err = m.GetOrLoad(ctx, "product:p2", &p, SetOptions{}, func(context.Context) (any, error) {
		return nil, errors.New("not found")
	})
	assert.EqualError(t, err, "not found")
}

func TestManager_CleanupAndReset(t *testing.T) {
	m, s, clock := newTestManager(t, Config{})
	ctx := context.Background()

	_, err := m.Set(ctx, "short", 1, SetOptions{TTL: time.Minute})
	require.NoError(t, err)
	_, err = m.Set(ctx, "long", 2, SetOptions{TTL: time.Hour})
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, "ratelimit:standard:x", []byte("1"), 0))

	clock.Advance(2 * time.Minute)

	assert.Equal(t, 1, m.Cleanup(ctx))
	assert.Equal(t, int64(1), m.Stats(ctx).Expirations)

	n, err := m.Reset(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stats := m.Stats(ctx)
	assert.Zero(t, stats.Entries)
	assert.Zero(t, stats.Sets)

	_, found, _ := s.Get(ctx, "ratelimit:standard:x")
	assert.True(t, found, "reset only touches cache keys")
}

func TestManager_Compress(t *testing.T) {
	m, _, _ := newTestManager(t, Config{CompressThreshold: 100})

	r, err := m.Compress(strings.Repeat("abc", 500))
	require.NoError(t, err)
	assert.Greater(t, r.OriginalSize, r.CompressedSize)
	assert.True(t, r.Beneficial)
	assert.Less(t, r.Ratio, 1.0)

	r, err = m.Compress("x")
	require.NoError(t, err)
	assert.False(t, r.Beneficial)

	_, err = m.Compress(make(chan int))
	assert.Error(t, err)
}

func TestManager_Health(t *testing.T) {
	m, _, _ := newTestManager(t, Config{})

	h := m.Health(context.Background())
	assert.Equal(t, StatusHealthy, h.Status)
	assert.Equal(t, "memory", h.Store)
}

func newFallbackManager(t *testing.T) (*Manager, *store.FallbackStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	primary := store.NewRedisStore(redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1}), "erp:")
	local := store.NewMemoryStoreWithConfig(store.MemoryStoreConfig{CleanupInterval: time.Hour})
	fb := store.NewFallbackStore(primary, local, store.FallbackConfig{
		MirrorWrites: true,
		Circuit:      store.CircuitOptions{OpenDuration: time.Hour},
	}, discardLogger())
	t.Cleanup(func() { fb.Close() })
	return NewManager(fb, Config{}, nil, discardLogger()), fb, mr
}

func TestManager_FallbackRead(t *testing.T) {
	m, _, mr := newFallbackManager(t)
	ctx := context.Background()

	_, err := m.Set(ctx, "report:q1", "totals", SetOptions{})
	require.NoError(t, err)
	assert.True(t, mr.Exists("erp:cache:report:q1"))

	mr.FlushAll()

	var v string
	hit, err := m.Get(ctx, "report:q1", &v)
	require.NoError(t, err)
	assert.False(t, hit)

	hit, err = m.GetWithOptions(ctx, "report:q1", &v, GetOptions{AllowFallback: true})
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, "totals", v)
}

func TestManager_HealthDegraded(t *testing.T) {
	m, fb, _ := newFallbackManager(t)

	assert.Equal(t, StatusHealthy, m.Health(context.Background()).Status)

	fb.Trip()
	h := m.Health(context.Background())
	assert.Equal(t, StatusDegraded, h.Status)
	assert.Equal(t, "memory", h.Store)
}

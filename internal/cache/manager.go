// Package cache stores JSON values in the backing store with TTLs, tags,
// optional compression and a per-process LRU bound.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/pmujumdar27/erp-admission/internal/config"
	"github.com/pmujumdar27/erp-admission/internal/metrics"
	"github.com/pmujumdar27/erp-admission/internal/store"
)

var (
	ErrInvalidKey     = errors.New("cache: key must not be empty")
	ErrInvalidPattern = errors.New("cache: invalid pattern")
	ErrCorruptEntry   = errors.New("cache: corrupt entry")
)

// NoExpiry keeps an entry until it is evicted or invalidated.
const NoExpiry time.Duration = -1

// Config configures a Manager.
type Config struct {
	// Prefix namespaces cache keys in the store. Default is "cache:".
	Prefix string

	// DefaultTTL applies when SetOptions.TTL is zero.
	DefaultTTL time.Duration

	// CompressThreshold is the payload size in bytes above which compression
	// is applied to values stored with Compress set.
	CompressThreshold int

	MaxEntries int
	MaxBytes   int64

	WarmupConcurrency int

	// Now overrides the clock, mainly for tests.
	Now func() time.Time
}

// ConfigFrom maps the cache config section.
func ConfigFrom(c config.CacheConfig) Config {
	return Config{
		Prefix:            c.Prefix,
		DefaultTTL:        c.DefaultTTL,
		CompressThreshold: c.CompressThreshold,
		MaxEntries:        c.MaxEntries,
		MaxBytes:          c.MaxBytes,
		WarmupConcurrency: c.WarmupConcurrency,
	}
}

// SetOptions controls how a value is stored.
type SetOptions struct {
	// TTL of zero uses the default TTL; NoExpiry disables expiry.
	TTL      time.Duration
	Tags     []string
	Compress bool
}

// GetOptions controls a lookup.
type GetOptions struct {
	// AllowFallback reads the process-local copy when the shared store misses
	// or fails.
	AllowFallback bool
}

// Manager is safe for concurrent use. All store failures on the read and
// write paths are logged and treated as misses or dropped writes.
type Manager struct {
	store     store.Store
	cfg       Config
	index     *index
	collector metrics.Collector
	logger    *slog.Logger
	now       func() time.Time
	loads     singleflight.Group

	hits        atomic.Int64
	misses      atomic.Int64
	sets        atomic.Int64
	deletes     atomic.Int64
	evictions   atomic.Int64
	expirations atomic.Int64
	errors      atomic.Int64
}

func NewManager(s store.Store, cfg Config, collector metrics.Collector, logger *slog.Logger) *Manager {
	if cfg.Prefix == "" {
		cfg.Prefix = "cache:"
	}
	if cfg.DefaultTTL == 0 {
		cfg.DefaultTTL = 5 * time.Minute
	}
	if cfg.CompressThreshold <= 0 {
		cfg.CompressThreshold = 1024
	}
	if cfg.WarmupConcurrency <= 0 {
		cfg.WarmupConcurrency = 8
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if collector == nil {
		collector = metrics.NewNoopCollector()
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{
		store:     s,
		cfg:       cfg,
		index:     newIndex(cfg.MaxEntries, cfg.MaxBytes),
		collector: collector,
		logger:    logger,
		now:       cfg.Now,
	}
}

func (m *Manager) storeKey(key string) string {
	return m.cfg.Prefix + key
}

// Get decodes the cached value for key into dest and reports whether it was
// found. A miss is not an error; the error is only set when a live entry
// cannot be decoded into dest.
func (m *Manager) Get(ctx context.Context, key string, dest any) (bool, error) {
	return m.GetWithOptions(ctx, key, dest, GetOptions{})
}

func (m *Manager) GetWithOptions(ctx context.Context, key string, dest any, opts GetOptions) (bool, error) {
	if key == "" {
		return false, ErrInvalidKey
	}

	env, raw, ok := m.lookup(ctx, key, opts)
	if !ok {
		m.recordMiss()
		return false, nil
	}

	payload, err := env.payload()
	if err != nil {
		m.logger.Error("failed to decompress cache entry, dropping it", "key", key, "error", err)
		m.errors.Add(1)
		m.drop(ctx, key)
		m.recordMiss()
		return false, nil
	}

	if err := json.Unmarshal(payload, dest); err != nil {
		m.errors.Add(1)
		return false, fmt.Errorf("cache decode %s: %w", key, err)
	}

	m.hits.Add(1)
	m.collector.RecordCacheLookup(metrics.CacheHit)
	m.evict(ctx, m.index.touch(indexEntry{
		key:        key,
		size:       int64(len(raw)),
		tags:       env.Tags,
		compressed: env.Compressed,
		expiresAt:  expiresAt(env),
		lastAccess: m.now(),
	}))
	return true, nil
}

// lookup fetches and decodes the live envelope for key.
func (m *Manager) lookup(ctx context.Context, key string, opts GetOptions) (*envelope, []byte, bool) {
	data, found, err := m.store.Get(ctx, m.storeKey(key))
	if err != nil {
		m.errors.Add(1)
		m.logger.Warn("cache read failed, treating as miss", "key", key, "error", err)
	}

	if (!found || err != nil) && opts.AllowFallback {
		if lr, ok := m.store.(store.LocalReader); ok {
			var lerr error
			data, found, lerr = lr.GetLocal(ctx, m.storeKey(key))
			if lerr != nil {
				found = false
			}
		}
	}
	if !found {
		return nil, nil, false
	}

	env, err := decodeEnvelope(data)
	if err != nil {
		m.logger.Error("failed to decode cache entry, dropping it", "key", key, "error", err)
		m.errors.Add(1)
		m.drop(ctx, key)
		return nil, nil, false
	}

	if env.expired(m.now()) {
		m.drop(ctx, key)
		m.expirations.Add(1)
		m.collector.RecordCacheEviction(metrics.EvictionExpired)
		return nil, nil, false
	}
	return env, data, true
}

// Exists reports whether a live entry is stored under key without counting
// a lookup.
func (m *Manager) Exists(ctx context.Context, key string) bool {
	data, found, err := m.store.Get(ctx, m.storeKey(key))
	if err != nil || !found {
		return false
	}
	env, err := decodeEnvelope(data)
	return err == nil && !env.expired(m.now())
}

func (m *Manager) recordMiss() {
	m.misses.Add(1)
	m.collector.RecordCacheLookup(metrics.CacheMiss)
}

// Set stores value under key, replacing any existing entry with its tags
// and TTL. It reports whether the write reached the store; a failed write is
// logged and dropped. Errors are returned only for unusable input.
func (m *Manager) Set(ctx context.Context, key string, value any, opts SetOptions) (bool, error) {
	if key == "" {
		return false, ErrInvalidKey
	}

	payload, err := json.Marshal(value)
	if err != nil {
		return false, fmt.Errorf("cache encode %s: %w", key, err)
	}

	now := m.now()
	ttl := opts.TTL
	if ttl == 0 {
		ttl = m.cfg.DefaultTTL
	}

	env := envelope{
		Size:      len(payload),
		Tags:      dedupe(opts.Tags),
		CreatedAt: now,
	}
	if ttl > 0 {
		exp := now.Add(ttl)
		env.ExpiresAt = &exp
	} else {
		ttl = 0
	}

	env.Value = payload
	if opts.Compress && len(payload) > m.cfg.CompressThreshold {
		compressed, err := compress(payload)
		if err != nil {
			m.errors.Add(1)
			m.logger.Warn("compression failed, storing raw value", "key", key, "error", err)
		} else {
			env.Value = nil
			env.Data = compressed
			env.Compressed = true
		}
	}

	data, err := json.Marshal(&env)
	if err != nil {
		return false, fmt.Errorf("cache encode %s: %w", key, err)
	}

	if err := m.store.Set(ctx, m.storeKey(key), data, ttl); err != nil {
		m.errors.Add(1)
		m.logger.Warn("cache write failed, dropping it", "key", key, "error", err)
		return false, nil
	}

	m.sets.Add(1)
	m.tagEntry(ctx, key, env.Tags, ttl)
	m.evict(ctx, m.index.add(indexEntry{
		key:        key,
		size:       int64(len(data)),
		tags:       env.Tags,
		compressed: env.Compressed,
		expiresAt:  expiresAt(&env),
		lastAccess: now,
	}))
	return true, nil
}

// Delete removes key and reports whether a live entry was present.
func (m *Manager) Delete(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, ErrInvalidKey
	}

	m.index.remove(key)
	deleted, err := m.store.Delete(ctx, m.storeKey(key))
	if err != nil {
		m.errors.Add(1)
		return false, fmt.Errorf("cache delete %s: %w", key, err)
	}
	if deleted {
		m.deletes.Add(1)
	}
	return deleted, nil
}

// GetOrLoad returns the cached value for key, or calls load once across
// concurrent callers, caches its result and decodes it into dest. It
// reports whether the value came from the cache.
func (m *Manager) GetOrLoad(ctx context.Context, key string, dest any, opts SetOptions, load func(ctx context.Context) (any, error)) (bool, error) {
	hit, err := m.Get(ctx, key, dest)
	if err == nil && hit {
		return true, nil
	}

	v, err, _ := m.loads.Do(key, func() (any, error) {
		value, err := load(ctx)
		if err != nil {
			return nil, err
		}
		if _, err := m.Set(ctx, key, value, opts); err != nil {
			m.logger.Warn("failed to cache loaded value", "key", key, "error", err)
		}
		return json.Marshal(value)
	})
	if err != nil {
		return false, err
	}

	if err := json.Unmarshal(v.([]byte), dest); err != nil {
		return false, fmt.Errorf("cache decode %s: %w", key, err)
	}
	return false, nil
}

// Cleanup removes entries this process knows to have expired and returns
// how many were removed.
func (m *Manager) Cleanup(ctx context.Context) int {
	keys := m.index.expired(m.now())
	for _, key := range keys {
		if _, err := m.store.Delete(ctx, m.storeKey(key)); err != nil {
			m.logger.Warn("failed to delete expired entry", "key", key, "error", err)
		}
		m.collector.RecordCacheEviction(metrics.EvictionExpired)
	}
	m.expirations.Add(int64(len(keys)))
	return len(keys)
}

// Reset deletes every entry and zeroes the statistics. It returns the number
// of entries deleted.
func (m *Manager) Reset(ctx context.Context) (int, error) {
	keys, err := m.store.Keys(ctx, m.cfg.Prefix+"*")
	if err != nil {
		return 0, fmt.Errorf("list cache keys: %w", err)
	}

	deleted := 0
	for _, k := range keys {
		ok, err := m.store.Delete(ctx, k)
		if err != nil {
			return deleted, fmt.Errorf("delete %s: %w", k, err)
		}
		if ok {
			deleted++
		}
	}

	if tagKeys, err := m.store.Keys(ctx, m.tagKey("*")); err != nil {
		m.logger.Warn("failed to list tag sets", "error", err)
	} else {
		for _, k := range tagKeys {
			if _, err := m.store.Delete(ctx, k); err != nil {
				m.logger.Warn("failed to delete tag set", "key", k, "error", err)
			}
		}
	}

	m.index.reset()
	m.hits.Store(0)
	m.misses.Store(0)
	m.sets.Store(0)
	m.deletes.Store(0)
	m.evictions.Store(0)
	m.expirations.Store(0)
	m.errors.Store(0)

	m.logger.Info("cache reset", "entries_deleted", deleted)
	return deleted, nil
}

func (m *Manager) drop(ctx context.Context, key string) {
	m.index.remove(key)
	if _, err := m.store.Delete(ctx, m.storeKey(key)); err != nil {
		m.logger.Warn("failed to drop cache entry", "key", key, "error", err)
	}
}

func (m *Manager) evict(ctx context.Context, keys []string) {
	for _, key := range keys {
		if _, err := m.store.Delete(ctx, m.storeKey(key)); err != nil {
			m.logger.Warn("failed to evict cache entry", "key", key, "error", err)
		}
		m.evictions.Add(1)
		m.collector.RecordCacheEviction(metrics.EvictionCapacity)
	}
	if len(keys) > 0 {
		m.logger.Debug("evicted least recently used entries", "count", len(keys))
	}
}

func expiresAt(e *envelope) time.Time {
	if e.ExpiresAt == nil {
		return time.Time{}
	}
	return *e.ExpiresAt
}

func dedupe(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

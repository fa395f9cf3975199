package store

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/gobwas/glob"
)

// MemoryStore is a single-process Store. Expired entries are hidden on access
// and removed by a periodic cleanup loop.
type MemoryStore struct {
	mu       sync.Mutex
	entries  map[string]*memoryEntry
	now      func() time.Time
	stopChan chan struct{}
	stopped  bool
}

type memoryEntry struct {
	value     []byte
	count     int64
	counter   bool
	members   map[string]struct{}
	expiresAt time.Time
}

func (e *memoryEntry) expiredAt(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// MemoryStoreConfig holds configuration for MemoryStore.
type MemoryStoreConfig struct {
	// CleanupInterval is how often expired entries are swept. Default is 1 minute.
	CleanupInterval time.Duration

	// Now overrides the clock, mainly for tests.
	Now func() time.Time
}

// DefaultMemoryStoreConfig returns sensible defaults for MemoryStore.
func DefaultMemoryStoreConfig() MemoryStoreConfig {
	return MemoryStoreConfig{
		CleanupInterval: time.Minute,
	}
}

// NewMemoryStore creates a new in-memory store with default configuration.
func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithConfig(DefaultMemoryStoreConfig())
}

// NewMemoryStoreWithConfig creates a new in-memory store with custom configuration.
func NewMemoryStoreWithConfig(config MemoryStoreConfig) *MemoryStore {
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = time.Minute
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	s := &MemoryStore{
		entries:  make(map[string]*memoryEntry),
		now:      config.Now,
		stopChan: make(chan struct{}),
	}

	go s.cleanupLoop(config.CleanupInterval)

	return s
}

func (s *MemoryStore) Increment(_ context.Context, key string, window time.Duration) (Counter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	entry, ok := s.entries[key]
	if !ok || entry.expiredAt(now) {
		entry = &memoryEntry{
			counter:   true,
			count:     1,
			expiresAt: expiryFrom(now, window),
		}
		s.entries[key] = entry
		return Counter{Count: 1, ResetAt: entry.expiresAt}, nil
	}
	if !entry.counter {
		return Counter{}, ErrNotCounter
	}

	entry.count++
	return Counter{Count: entry.count, ResetAt: entry.expiresAt}, nil
}

func (s *MemoryStore) Decrement(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok || entry.expiredAt(s.now()) {
		return 0, nil
	}
	if !entry.counter {
		return 0, ErrNotCounter
	}
	if entry.count > 0 {
		entry.count--
	}
	return entry.count, nil
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok {
		return nil, false, nil
	}
	if entry.expiredAt(s.now()) {
		delete(s.entries, key)
		return nil, false, nil
	}
	if entry.members != nil {
		return nil, false, ErrWrongType
	}
	if entry.counter {
		return []byte(strconv.FormatInt(entry.count, 10)), true, nil
	}
	return cloneBytes(entry.value), true, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[key] = &memoryEntry{
		value:     cloneBytes(value),
		expiresAt: expiryFrom(s.now(), ttl),
	}
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok {
		return false, nil
	}
	delete(s.entries, key)
	return !entry.expiredAt(s.now()), nil
}

func (s *MemoryStore) Keys(_ context.Context, pattern string) ([]string, error) {
	matcher, err := glob.Compile(pattern)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	keys := make([]string, 0)
	for key, entry := range s.entries {
		if entry.expiredAt(now) {
			continue
		}
		if matcher.Match(key) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *MemoryStore) SetAdd(_ context.Context, key string, ttl time.Duration, members ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	entry, ok := s.entries[key]
	if !ok || entry.expiredAt(now) {
		entry = &memoryEntry{
			members:   make(map[string]struct{}, len(members)),
			expiresAt: expiryFrom(now, ttl),
		}
		s.entries[key] = entry
	} else if entry.members == nil {
		return ErrWrongType
	} else if !entry.expiresAt.IsZero() {
		if ttl <= 0 {
			entry.expiresAt = time.Time{}
		} else if exp := now.Add(ttl); exp.After(entry.expiresAt) {
			entry.expiresAt = exp
		}
	}

	for _, m := range members {
		entry.members[m] = struct{}{}
	}
	return nil
}

func (s *MemoryStore) SetMembers(_ context.Context, key string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok || entry.expiredAt(s.now()) {
		return nil, nil
	}
	if entry.members == nil {
		return nil, ErrWrongType
	}

	out := make([]string, 0, len(entry.members))
	for m := range entry.members {
		out = append(out, m)
	}
	sort.Strings(out)
	return out, nil
}

func (s *MemoryStore) SetRemove(_ context.Context, key string, members ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok {
		return nil
	}
	if entry.members == nil {
		return ErrWrongType
	}
	for _, m := range members {
		delete(entry.members, m)
	}
	if len(entry.members) == 0 {
		delete(s.entries, key)
	}
	return nil
}

func (s *MemoryStore) Ping(context.Context) error {
	return nil
}

func (s *MemoryStore) Kind() Kind {
	return KindMemory
}

// Len returns the number of entries in the store (including expired ones).
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.entries)
}

// Close stops the cleanup routine and releases resources.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.stopped {
		close(s.stopChan)
		s.stopped = true
	}

	return nil
}

// PurgeExpired removes all expired entries and returns how many were removed.
func (s *MemoryStore) PurgeExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for key, entry := range s.entries {
		if entry.expiredAt(now) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed
}

func (s *MemoryStore) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.PurgeExpired()
		case <-s.stopChan:
			return
		}
	}
}

// Package store provides the backing key-value stores shared by the rate
// limiter and the cache manager.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable is returned when the shared store cannot be reached.
var ErrUnavailable = errors.New("store: backing store unavailable")

// ErrNotCounter is returned when Increment targets a key holding a plain value.
var ErrNotCounter = errors.New("store: key does not hold a counter")

// ErrWrongType is returned when a value operation targets a set or the
// reverse.
var ErrWrongType = errors.New("store: key holds the wrong kind of value")

// Kind names the physical backend serving calls.
type Kind string

const (
	KindMemory Kind = "memory"
	KindRemote Kind = "remote"
)

// Counter is the state of a fixed-window counter after an increment.
type Counter struct {
	Count   int64
	ResetAt time.Time
}

// Store is the storage contract for buckets and cache entries.
// Implementations must be safe for concurrent use, and Increment must not lose
// updates for concurrent callers on the same key.
type Store interface {
	// Increment creates the counter with count 1 and expiry now+window when it
	// is absent or expired, otherwise adds one without touching the expiry.
	Increment(ctx context.Context, key string, window time.Duration) (Counter, error)

	// Decrement lowers a live counter by one, never below zero.
	Decrement(ctx context.Context, key string) (int64, error)

	// Get returns the value and true, or nil and false when absent or expired.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value under key. A ttl of 0 means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key and reports whether it was present.
	Delete(ctx context.Context, key string) (bool, error)

	// Keys lists live keys matching a Redis-style glob pattern.
	Keys(ctx context.Context, pattern string) ([]string, error)

	// SetAdd adds members to the set at key. The set lives at least ttl
	// longer; a ttl of 0 means it never expires.
	SetAdd(ctx context.Context, key string, ttl time.Duration, members ...string) error

	// SetMembers lists the members of the set at key, sorted when the backend
	// allows it.
	SetMembers(ctx context.Context, key string) ([]string, error)

	// SetRemove removes members from the set at key.
	SetRemove(ctx context.Context, key string, members ...string) error

	Ping(ctx context.Context) error
	Kind() Kind
	Close() error
}

// Degrader is implemented by stores that can serve from a fallback.
type Degrader interface {
	Degraded() bool
}

// LocalReader is implemented by stores keeping an in-process copy of values.
type LocalReader interface {
	GetLocal(ctx context.Context, key string) ([]byte, bool, error)
}

// Purger is implemented by stores without a native expiry sweep.
type Purger interface {
	PurgeExpired() int
}

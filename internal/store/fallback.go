package store

import (
	"context"
	"log/slog"
	"time"
)

// FallbackConfig bounds calls to the primary store.
type FallbackConfig struct {
	OperationTimeout time.Duration
	MaxRetries       int
	MirrorWrites     bool
	Circuit          CircuitOptions
}

// FallbackStore sends calls to a shared primary store and routes them to a
// local store when the primary keeps failing. While degraded, counts and
// cached values are only correct for this process.
type FallbackStore struct {
	primary Store
	local   *MemoryStore
	breaker *CircuitBreaker
	timeout time.Duration
	retries int
	mirror  bool
	logger  *slog.Logger
}

func NewFallbackStore(primary Store, local *MemoryStore, cfg FallbackConfig, logger *slog.Logger) *FallbackStore {
	if cfg.OperationTimeout <= 0 {
		cfg.OperationTimeout = 250 * time.Millisecond
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FallbackStore{
		primary: primary,
		local:   local,
		breaker: NewCircuitBreaker(cfg.Circuit),
		timeout: cfg.OperationTimeout,
		retries: cfg.MaxRetries,
		mirror:  cfg.MirrorWrites,
		logger:  logger,
	}
}

// Trip routes all calls to the local store until the breaker's open period
// elapses and a probe against the primary succeeds.
func (f *FallbackStore) Trip() {
	f.breaker.Trip()
}

func (f *FallbackStore) Degraded() bool {
	return f.breaker.State() != CircuitClosed
}

// usePrimary runs call against the primary with a per-attempt timeout and a
// bounded number of retries. It returns false when the caller must use the
// local store instead. A caller whose ctx ends is handed back ctx's error and
// the attempt does not count against the primary.
func (f *FallbackStore) usePrimary(ctx context.Context, op, key string, call func(ctx context.Context) error) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if !f.breaker.Allow() {
		return false, nil
	}
	wasDegraded := f.Degraded()

	var err error
	for attempt := 0; attempt <= f.retries; attempt++ {
		opCtx, cancel := context.WithTimeout(ctx, f.timeout)
		err = call(opCtx)
		cancel()
		if err == nil {
			f.breaker.OnSuccess()
			if wasDegraded {
				f.logger.Info("shared store recovered", "operation", op)
			}
			return true, nil
		}
		if ctx.Err() != nil {
			f.breaker.Release()
			return false, ctx.Err()
		}
	}

	f.breaker.OnFailure()
	f.logger.Warn("shared store call failed, using local fallback",
		"operation", op,
		"key", key,
		"attempts", f.retries+1,
		"circuit", f.breaker.State().String(),
		"error", err)
	return false, nil
}

func (f *FallbackStore) Increment(ctx context.Context, key string, window time.Duration) (Counter, error) {
	var counter Counter
	ok, err := f.usePrimary(ctx, "increment", key, func(ctx context.Context) error {
		var err error
		counter, err = f.primary.Increment(ctx, key, window)
		return err
	})
	if err != nil {
		return Counter{}, err
	}
	if ok {
		return counter, nil
	}
	return f.local.Increment(ctx, key, window)
}

func (f *FallbackStore) Decrement(ctx context.Context, key string) (int64, error) {
	var count int64
	ok, err := f.usePrimary(ctx, "decrement", key, func(ctx context.Context) error {
		var err error
		count, err = f.primary.Decrement(ctx, key)
		return err
	})
	if err != nil {
		return 0, err
	}
	if ok {
		return count, nil
	}
	return f.local.Decrement(ctx, key)
}

func (f *FallbackStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var (
		value []byte
		found bool
	)
	ok, err := f.usePrimary(ctx, "get", key, func(ctx context.Context) error {
		var err error
		value, found, err = f.primary.Get(ctx, key)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	if ok {
		return value, found, nil
	}
	return f.local.Get(ctx, key)
}

// GetLocal reads the in-process copy regardless of the primary's health.
func (f *FallbackStore) GetLocal(ctx context.Context, key string) ([]byte, bool, error) {
	return f.local.Get(ctx, key)
}

func (f *FallbackStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	ok, err := f.usePrimary(ctx, "set", key, func(ctx context.Context) error {
		return f.primary.Set(ctx, key, value, ttl)
	})
	if err != nil {
		return err
	}
	if ok && !f.mirror {
		return nil
	}
	return f.local.Set(ctx, key, value, ttl)
}

func (f *FallbackStore) Delete(ctx context.Context, key string) (bool, error) {
	var deleted bool
	ok, err := f.usePrimary(ctx, "delete", key, func(ctx context.Context) error {
		var err error
		deleted, err = f.primary.Delete(ctx, key)
		return err
	})
	if err != nil {
		return false, err
	}

	localDeleted, err := f.local.Delete(ctx, key)
	if !ok {
		return localDeleted, err
	}
	return deleted, nil
}

func (f *FallbackStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	ok, err := f.usePrimary(ctx, "keys", pattern, func(ctx context.Context) error {
		var err error
		keys, err = f.primary.Keys(ctx, pattern)
		return err
	})
	if err != nil {
		return nil, err
	}
	if ok {
		return keys, nil
	}
	return f.local.Keys(ctx, pattern)
}

func (f *FallbackStore) SetAdd(ctx context.Context, key string, ttl time.Duration, members ...string) error {
	ok, err := f.usePrimary(ctx, "sadd", key, func(ctx context.Context) error {
		return f.primary.SetAdd(ctx, key, ttl, members...)
	})
	if err != nil {
		return err
	}
	if ok && !f.mirror {
		return nil
	}
	return f.local.SetAdd(ctx, key, ttl, members...)
}

func (f *FallbackStore) SetMembers(ctx context.Context, key string) ([]string, error) {
	var members []string
	ok, err := f.usePrimary(ctx, "smembers", key, func(ctx context.Context) error {
		var err error
		members, err = f.primary.SetMembers(ctx, key)
		return err
	})
	if err != nil {
		return nil, err
	}
	if ok {
		return members, nil
	}
	return f.local.SetMembers(ctx, key)
}

func (f *FallbackStore) SetRemove(ctx context.Context, key string, members ...string) error {
	ok, err := f.usePrimary(ctx, "srem", key, func(ctx context.Context) error {
		return f.primary.SetRemove(ctx, key, members...)
	})
	if err != nil {
		return err
	}

	lerr := f.local.SetRemove(ctx, key, members...)
	if !ok {
		return lerr
	}
	return nil
}

// Ping checks the primary directly so health reports reflect the shared store.
func (f *FallbackStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	return f.primary.Ping(ctx)
}

func (f *FallbackStore) Kind() Kind {
	if f.Degraded() {
		return f.local.Kind()
	}
	return f.primary.Kind()
}

func (f *FallbackStore) PurgeExpired() int {
	return f.local.PurgeExpired()
}

func (f *FallbackStore) Close() error {
	err := f.primary.Close()
	if lerr := f.local.Close(); err == nil {
		err = lerr
	}
	return err
}

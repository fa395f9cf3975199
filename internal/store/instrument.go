package store

import (
	"context"
	"time"

	"github.com/pmujumdar27/erp-admission/internal/metrics"
)

// Instrumented records the duration and outcome of every call on the wrapped
// store.
type Instrumented struct {
	store     Store
	collector metrics.Collector
}

func Instrument(s Store, collector metrics.Collector) *Instrumented {
	if collector == nil {
		collector = metrics.NewNoopCollector()
	}
	return &Instrumented{store: s, collector: collector}
}

// Unwrap returns the decorated store.
func (i *Instrumented) Unwrap() Store {
	return i.store
}

func (i *Instrumented) record(op string, start time.Time, err error) {
	i.collector.RecordStoreOperation(string(i.store.Kind()), op, err, time.Since(start))
}

func (i *Instrumented) Increment(ctx context.Context, key string, window time.Duration) (Counter, error) {
	start := time.Now()
	counter, err := i.store.Increment(ctx, key, window)
	i.record("increment", start, err)
	return counter, err
}

func (i *Instrumented) Decrement(ctx context.Context, key string) (int64, error) {
	start := time.Now()
	count, err := i.store.Decrement(ctx, key)
	i.record("decrement", start, err)
	return count, err
}

func (i *Instrumented) Get(ctx context.Context, key string) ([]byte, bool, error) {
	start := time.Now()
	value, found, err := i.store.Get(ctx, key)
	i.record("get", start, err)
	return value, found, err
}

func (i *Instrumented) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	start := time.Now()
	err := i.store.Set(ctx, key, value, ttl)
	i.record("set", start, err)
	return err
}

func (i *Instrumented) Delete(ctx context.Context, key string) (bool, error) {
	start := time.Now()
	deleted, err := i.store.Delete(ctx, key)
	i.record("delete", start, err)
	return deleted, err
}

func (i *Instrumented) Keys(ctx context.Context, pattern string) ([]string, error) {
	start := time.Now()
	keys, err := i.store.Keys(ctx, pattern)
	i.record("keys", start, err)
	return keys, err
}

func (i *Instrumented) SetAdd(ctx context.Context, key string, ttl time.Duration, members ...string) error {
	start := time.Now()
	err := i.store.SetAdd(ctx, key, ttl, members...)
	i.record("sadd", start, err)
	return err
}

func (i *Instrumented) SetMembers(ctx context.Context, key string) ([]string, error) {
	start := time.Now()
	members, err := i.store.SetMembers(ctx, key)
	i.record("smembers", start, err)
	return members, err
}

func (i *Instrumented) SetRemove(ctx context.Context, key string, members ...string) error {
	start := time.Now()
	err := i.store.SetRemove(ctx, key, members...)
	i.record("srem", start, err)
	return err
}

func (i *Instrumented) Ping(ctx context.Context) error {
	start := time.Now()
	err := i.store.Ping(ctx)
	i.record("ping", start, err)
	return err
}

func (i *Instrumented) Kind() Kind {
	return i.store.Kind()
}

func (i *Instrumented) Close() error {
	return i.store.Close()
}

func (i *Instrumented) Degraded() bool {
	if d, ok := i.store.(Degrader); ok {
		return d.Degraded()
	}
	return false
}

func (i *Instrumented) GetLocal(ctx context.Context, key string) ([]byte, bool, error) {
	if lr, ok := i.store.(LocalReader); ok {
		return lr.GetLocal(ctx, key)
	}
	return i.store.Get(ctx, key)
}

func (i *Instrumented) PurgeExpired() int {
	if p, ok := i.store.(Purger); ok {
		return p.PurgeExpired()
	}
	return 0
}

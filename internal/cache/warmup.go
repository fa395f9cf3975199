package cache

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Fetcher produces the value to cache for a key.
type Fetcher func(ctx context.Context, key string) (any, error)

// WarmupResult is the outcome for one key.
type WarmupResult struct {
	Key     string `json:"key"`
	Success bool   `json:"success"`
	// Cached is true when the key was already present and fetch was skipped.
	Cached bool   `json:"cached,omitempty"`
	Value  any    `json:"value,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Warmup fetches and stores every key not already cached. Keys are fetched
// concurrently; a failed fetch or write is reported in that key's result and
// never stops the others. Results are in the order of keys.
func (m *Manager) Warmup(ctx context.Context, keys []string, fetch Fetcher, opts SetOptions) []WarmupResult {
	results := make([]WarmupResult, len(keys))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.WarmupConcurrency)

	for i, key := range keys {
		i, key := i, key
		g.Go(func() error {
			results[i] = m.warmKey(gctx, key, fetch, opts)
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, r := range results {
		if !r.Success {
			failed++
		}
	}
	m.logger.Info("cache warmup finished", "keys", len(keys), "failed", failed)
	return results
}

func (m *Manager) warmKey(ctx context.Context, key string, fetch Fetcher, opts SetOptions) (result WarmupResult) {
	result.Key = key
	if key == "" {
		result.Error = ErrInvalidKey.Error()
		return result
	}
	if m.Exists(ctx, key) {
		result.Success = true
		result.Cached = true
		return result
	}

	defer func() {
		if r := recover(); r != nil {
			result.Success = false
			result.Error = fmt.Sprintf("fetcher panicked: %v", r)
		}
	}()

	value, err := fetch(ctx, key)
	if err != nil {
		m.logger.Warn("warmup fetch failed", "key", key, "error", err)
		result.Error = err.Error()
		return result
	}

	stored, err := m.Set(ctx, key, value, opts)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	if !stored {
		result.Error = "store unavailable"
		return result
	}

	result.Success = true
	result.Value = value
	return result
}

package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/pmujumdar27/erp-admission/internal/store"
)

// Stats is a snapshot of the manager's counters. Counters accumulate until
// Reset; Entries tracks live size.
type Stats struct {
	Hits        int64   `json:"hits"`
	Misses      int64   `json:"misses"`
	Sets        int64   `json:"sets"`
	Deletes     int64   `json:"deletes"`
	Evictions   int64   `json:"evictions"`
	Expirations int64   `json:"expirations"`
	Errors      int64   `json:"errors"`
	Entries     int     `json:"entries"`
	Tracked     int     `json:"tracked"`
	MemoryBytes int64   `json:"memoryBytes"`
	HitRate     float64 `json:"hitRate"`
	TotalGets   int64   `json:"totalGets"`
	Store       string  `json:"store"`
}

// Stats counts live entries by scanning the store and falls back to the
// local index when the scan fails.
func (m *Manager) Stats(ctx context.Context) Stats {
	hits := m.hits.Load()
	misses := m.misses.Load()
	total := hits + misses

	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}

	s := Stats{
		Hits:        hits,
		Misses:      misses,
		Sets:        m.sets.Load(),
		Deletes:     m.deletes.Load(),
		Evictions:   m.evictions.Load(),
		Expirations: m.expirations.Load(),
		Errors:      m.errors.Load(),
		Tracked:     m.index.len(),
		MemoryBytes: m.index.size(),
		HitRate:     hitRate,
		TotalGets:   total,
		Store:       string(m.store.Kind()),
	}

	keys, err := m.store.Keys(ctx, m.cfg.Prefix+"*")
	if err != nil {
		m.logger.Warn("failed to count cache entries", "error", err)
		s.Entries = s.Tracked
	} else {
		s.Entries = len(keys)
	}
	return s
}

// KeyUsage is one entry in the analytics top keys list.
type KeyUsage struct {
	Key        string    `json:"key"`
	Hits       int64     `json:"hits"`
	Size       int64     `json:"size"`
	Compressed bool      `json:"compressed"`
	LastAccess time.Time `json:"lastAccess"`
}

type Analytics struct {
	HitRate           float64        `json:"hitRate"`
	TopKeys           []KeyUsage     `json:"topKeys"`
	RecentlyUsed      []string       `json:"recentlyUsed"`
	TagDistribution   map[string]int `json:"tagDistribution"`
	AverageEntryBytes int64          `json:"averageEntryBytes"`
	CompressedEntries int            `json:"compressedEntries"`
	ExpiringSoon      int            `json:"expiringSoon"`
	NoExpiry          int            `json:"noExpiry"`
}

const (
	analyticsTopKeys    = 10
	analyticsSoonWindow = time.Minute
)

// Analytics describes how entries tracked by this process are used.
func (m *Manager) Analytics() Analytics {
	entries := m.index.snapshot()
	now := m.now()

	a := Analytics{
		TagDistribution: make(map[string]int),
		TopKeys:         make([]KeyUsage, 0, analyticsTopKeys),
		RecentlyUsed:    make([]string, 0, analyticsTopKeys),
	}

	hits, misses := m.hits.Load(), m.misses.Load()
	if hits+misses > 0 {
		a.HitRate = float64(hits) / float64(hits+misses) * 100
	}

	var totalBytes int64
	for i, e := range entries {
		if i < analyticsTopKeys {
			a.RecentlyUsed = append(a.RecentlyUsed, e.key)
		}
		totalBytes += e.size
		for _, t := range e.tags {
			a.TagDistribution[t]++
		}
		if e.compressed {
			a.CompressedEntries++
		}
		switch {
		case e.expiresAt.IsZero():
			a.NoExpiry++
		case e.expiresAt.Sub(now) <= analyticsSoonWindow:
			a.ExpiringSoon++
		}
	}
	if len(entries) > 0 {
		a.AverageEntryBytes = totalBytes / int64(len(entries))
	}

	sort.SliceStable(entries, func(i, j int) bool { return entries[i].hits > entries[j].hits })
	for i := 0; i < len(entries) && i < analyticsTopKeys; i++ {
		e := entries[i]
		a.TopKeys = append(a.TopKeys, KeyUsage{
			Key:        e.key,
			Hits:       e.hits,
			Size:       e.size,
			Compressed: e.compressed,
			LastAccess: e.lastAccess,
		})
	}
	return a
}

// Health statuses.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

type Health struct {
	Status    string `json:"status"`
	Store     string `json:"store"`
	Detail    string `json:"detail"`
	LatencyMs int64  `json:"latencyMs"`
}

const healthProbeKey = "__health__"

// Health probes the store with a ping and a write/read round trip. A store
// serving from its local fallback is degraded.
func (m *Manager) Health(ctx context.Context) Health {
	h := Health{Store: string(m.store.Kind())}
	start := time.Now()

	degraded := false
	if d, ok := m.store.(store.Degrader); ok {
		degraded = d.Degraded()
	}

	if err := m.store.Ping(ctx); err != nil && !degraded {
		h.Status = StatusUnhealthy
		h.Detail = fmt.Sprintf("ping failed: %v", err)
		return finishHealth(h, start)
	}

	probe := []byte(`"ok"`)
	key := m.storeKey(healthProbeKey)
	if err := m.store.Set(ctx, key, probe, 10*time.Second); err != nil {
		h.Status = StatusUnhealthy
		h.Detail = fmt.Sprintf("write probe failed: %v", err)
		return finishHealth(h, start)
	}
	got, found, err := m.store.Get(ctx, key)
	_, _ = m.store.Delete(ctx, key)
	if err != nil || !found || string(got) != string(probe) {
		h.Status = StatusUnhealthy
		h.Detail = "read probe did not return the written value"
		return finishHealth(h, start)
	}

	if degraded {
		h.Status = StatusDegraded
		h.Detail = "shared store unreachable, serving from in-process fallback"
		return finishHealth(h, start)
	}

	h.Status = StatusHealthy
	h.Detail = "store reachable"
	return finishHealth(h, start)
}

func finishHealth(h Health, start time.Time) Health {
	h.LatencyMs = time.Since(start).Milliseconds()
	return h
}

// Compress reports what compressing value would save without storing it.
func (m *Manager) Compress(value any) (CompressionReport, error) {
	payload, err := json.Marshal(value)
	if err != nil {
		return CompressionReport{}, fmt.Errorf("cache encode: %w", err)
	}
	compressed, err := compress(payload)
	if err != nil {
		return CompressionReport{}, err
	}

	r := CompressionReport{
		OriginalSize:   len(payload),
		CompressedSize: len(compressed),
		SavedBytes:     len(payload) - len(compressed),
	}
	if len(payload) > 0 {
		r.Ratio = float64(len(compressed)) / float64(len(payload))
	}
	r.Beneficial = len(payload) > m.cfg.CompressThreshold && r.SavedBytes > 0
	return r, nil
}

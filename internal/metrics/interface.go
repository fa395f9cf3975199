package metrics

import "time"

type Collector interface {
	RecordRateLimitDecision(strategy string, allowed bool)
	RecordRateLimitDuration(strategy string, duration time.Duration)
	RecordCacheLookup(result string)
	RecordCacheEviction(reason string)
	RecordStoreOperation(backend, operation string, err error, duration time.Duration)
}

// Cache lookup results and eviction reasons used as label values.
const (
	CacheHit  = "hit"
	CacheMiss = "miss"

	EvictionCapacity   = "capacity"
	EvictionExpired    = "expired"
	EvictionInvalidate = "invalidate"
)

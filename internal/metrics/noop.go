package metrics

import "time"

// NoopCollector is a no-operation metrics collector for testing or when metrics are disabled
type NoopCollector struct{}

func NewNoopCollector() *NoopCollector {
	return &NoopCollector{}
}

func (n *NoopCollector) RecordRateLimitDecision(strategy string, allowed bool) {}

func (n *NoopCollector) RecordRateLimitDuration(strategy string, duration time.Duration) {}

func (n *NoopCollector) RecordCacheLookup(result string) {}

func (n *NoopCollector) RecordCacheEviction(reason string) {}

func (n *NoopCollector) RecordStoreOperation(backend, operation string, err error, duration time.Duration) {}

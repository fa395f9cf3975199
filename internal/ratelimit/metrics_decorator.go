package ratelimit

import (
	"context"
	"time"

	"github.com/pmujumdar27/erp-admission/internal/metrics"
)

type MetricsDecorator struct {
	limiter   Limiter
	collector metrics.Collector
}

func NewMetricsDecorator(limiter Limiter, collector metrics.Collector) *MetricsDecorator {
	if collector == nil {
		collector = metrics.NewNoopCollector()
	}
	return &MetricsDecorator{
		limiter:   limiter,
		collector: collector,
	}
}

func (m *MetricsDecorator) Check(ctx context.Context, strategy, identity string, aliases ...string) (Decision, error) {
	start := time.Now()

	decision, err := m.limiter.Check(ctx, strategy, identity, aliases...)

	duration := time.Since(start)
	m.collector.RecordRateLimitDuration(strategy, duration)

	if err == nil {
		m.collector.RecordRateLimitDecision(strategy, decision.Allowed)
	}

	return decision, err
}

func (m *MetricsDecorator) Report(ctx context.Context, decision Decision, identity string, outcome Outcome) error {
	return m.limiter.Report(ctx, decision, identity, outcome)
}

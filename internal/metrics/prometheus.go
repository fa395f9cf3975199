package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type PrometheusCollector struct {
	rateLimitDecisions *prometheus.CounterVec
	rateLimitDuration  *prometheus.HistogramVec
	cacheLookups       *prometheus.CounterVec
	cacheEvictions     *prometheus.CounterVec
	storeOperations    *prometheus.CounterVec
	storeDuration      *prometheus.HistogramVec
}

// NewPrometheusCollector registers the admission metrics on reg. Passing a
// dedicated registry keeps tests from colliding on the global one.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	factory := promauto.With(reg)
	return &PrometheusCollector{
		rateLimitDecisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rate_limit_requests_total",
				Help: "Total number of rate limit decisions by strategy and outcome",
			},
			[]string{"strategy", "decision"},
		),
		rateLimitDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rate_limit_duration_seconds",
				Help:    "Time taken to process rate limit checks",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"strategy"},
		),
		cacheLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cache_lookups_total",
				Help: "Total number of cache lookups by result",
			},
			[]string{"result"},
		),
		cacheEvictions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cache_evictions_total",
				Help: "Total number of cache entries removed by reason",
			},
			[]string{"reason"},
		),
		storeOperations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "store_operations_total",
				Help: "Total number of backing store operations by backend, operation and status",
			},
			[]string{"backend", "operation", "status"},
		),
		storeDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "store_operation_duration_seconds",
				Help:    "Time spent on backing store operations",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"backend", "operation"},
		),
	}
}

func (p *PrometheusCollector) RecordRateLimitDecision(strategy string, allowed bool) {
	decision := "denied"
	if allowed {
		decision = "allowed"
	}
	p.rateLimitDecisions.WithLabelValues(strategy, decision).Inc()
}

func (p *PrometheusCollector) RecordRateLimitDuration(strategy string, duration time.Duration) {
	p.rateLimitDuration.WithLabelValues(strategy).Observe(duration.Seconds())
}

func (p *PrometheusCollector) RecordCacheLookup(result string) {
	p.cacheLookups.WithLabelValues(result).Inc()
}

func (p *PrometheusCollector) RecordCacheEviction(reason string) {
	p.cacheEvictions.WithLabelValues(reason).Inc()
}

func (p *PrometheusCollector) RecordStoreOperation(backend, operation string, err error, duration time.Duration) {
	status := "success"
	if err != nil {
		status = "error"
	}
	p.storeOperations.WithLabelValues(backend, operation, status).Inc()
	p.storeDuration.WithLabelValues(backend, operation).Observe(duration.Seconds())
}

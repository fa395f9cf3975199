// Package maintenance sweeps expired cache entries, bans and buckets.
package maintenance

import (
	"context"
	"log/slog"
	"time"
)

type CacheCleaner interface {
	Cleanup(ctx context.Context) int
}

type LimiterCleaner interface {
	Cleanup() int
}

// Report is the result of one sweep.
type Report struct {
	CacheCleaned       int `json:"cacheCleaned"`
	RateLimiterCleaned int `json:"rateLimiterCleaned"`
	TotalCleaned       int `json:"totalCleaned"`
}

type Janitor struct {
	cache   CacheCleaner
	limiter LimiterCleaner
	logger  *slog.Logger
}

func NewJanitor(cache CacheCleaner, limiter LimiterCleaner, logger *slog.Logger) *Janitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Janitor{cache: cache, limiter: limiter, logger: logger}
}

// Sweep runs both cleanups once.
func (j *Janitor) Sweep(ctx context.Context) Report {
	var r Report
	if j.cache != nil {
		r.CacheCleaned = j.cache.Cleanup(ctx)
	}
	if j.limiter != nil {
		r.RateLimiterCleaned = j.limiter.Cleanup()
	}
	r.TotalCleaned = r.CacheCleaned + r.RateLimiterCleaned

	if r.TotalCleaned > 0 {
		j.logger.Info("maintenance sweep",
			"cache_cleaned", r.CacheCleaned,
			"rate_limiter_cleaned", r.RateLimiterCleaned)
	}
	return r
}

// Run sweeps every interval until ctx is cancelled.
func (j *Janitor) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.Sweep(ctx)
		}
	}
}

package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pmujumdar27/erp-admission/internal/config"
	"github.com/pmujumdar27/erp-admission/internal/store"
)

// EngineConfig configures an Engine.
type EngineConfig struct {
	Strategies map[string]Strategy

	// FailOpen admits requests when the store cannot be reached. When false
	// such requests are denied.
	FailOpen bool

	// Now overrides the clock used for bans, mainly for tests.
	Now func() time.Time
}

// Engine counts requests per strategy and identity in fixed windows held by
// the backing store. Whitelist and blacklist entries are process-local.
type Engine struct {
	store      store.Store
	strategies map[string]Strategy
	failOpen   bool
	logger     *slog.Logger
	now        func() time.Time

	mu        sync.RWMutex
	whitelist map[string]struct{}
	blacklist map[string]time.Time

	allowed atomic.Int64
	denied  atomic.Int64
}

func NewEngine(s store.Store, cfg EngineConfig, logger *slog.Logger) (*Engine, error) {
	if s == nil {
		return nil, fmt.Errorf("ratelimit: store is required")
	}
	if len(cfg.Strategies) == 0 {
		cfg.Strategies = Presets()
	}
	if err := validateStrategies(cfg.Strategies); err != nil {
		return nil, err
	}
	if _, ok := cfg.Strategies[StrategyStandard]; !ok {
		return nil, &config.ValidationError{Field: "rate_limit.strategies." + StrategyStandard, Reason: "fallback strategy is required"}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}

	strategies := make(map[string]Strategy, len(cfg.Strategies))
	for name, st := range cfg.Strategies {
		strategies[name] = st
	}

	return &Engine{
		store:      s,
		strategies: strategies,
		failOpen:   cfg.FailOpen,
		logger:     logger,
		now:        cfg.Now,
		whitelist:  make(map[string]struct{}),
		blacklist:  make(map[string]time.Time),
	}, nil
}

// NewEngineFromConfig builds the engine from the rate_limit config section.
func NewEngineFromConfig(s store.Store, cfg config.RateLimitConfig, logger *slog.Logger) (*Engine, error) {
	strategies, err := BuildStrategies(cfg.Strategies)
	if err != nil {
		return nil, err
	}
	return NewEngine(s, EngineConfig{Strategies: strategies, FailOpen: cfg.FailOpen}, logger)
}

func (e *Engine) Strategy(name string) (Strategy, bool) {
	s, ok := e.strategies[name]
	return s, ok
}

// Strategies returns the strategies sorted by name.
func (e *Engine) Strategies() []Strategy {
	out := make([]Strategy, 0, len(e.strategies))
	for _, s := range e.strategies {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Check decides whether identity may proceed under the named strategy.
// Blacklist and whitelist entries are consulted first, for identity and for
// every alias, and such requests never touch the bucket. Otherwise the
// bucket is incremented and the request is allowed while the count is
// within the strategy's max.
//
// Store failures are absorbed: the decision follows the fail-open setting
// and carries ReasonStoreUnavailable.
func (e *Engine) Check(ctx context.Context, strategyName, identity string, aliases ...string) (Decision, error) {
	strategy, ok := e.strategies[strategyName]
	if !ok {
		return Decision{}, fmt.Errorf("%w: %s", ErrUnknownStrategy, strategyName)
	}
	if identity == "" {
		return Decision{}, ErrEmptyIdentity
	}

	now := e.now()
	decision := Decision{
		Strategy:       strategy.Name,
		Limit:          strategy.Max,
		Message:        strategy.Message,
		RetryAfterText: strategy.RetryAfter(),
	}

	if until, banned := e.bannedUntil(now, identity, aliases...); banned {
		decision.Reason = ReasonBlacklisted
		decision.ResetAt = until
		decision.RetryAfter = until.Sub(now)
		decision.RetryAfterText = formatMinutes(decision.RetryAfter)
		e.denied.Add(1)
		e.logger.Warn("request denied by blacklist",
			"strategy", strategy.Name,
			"identity", identity,
			"until", until)
		return decision, nil
	}

	if e.whitelisted(identity, aliases...) {
		decision.Allowed = true
		decision.Reason = ReasonWhitelisted
		decision.Remaining = strategy.Max
		decision.ResetAt = now.Add(strategy.Window)
		e.allowed.Add(1)
		return decision, nil
	}

	counter, err := e.store.Increment(ctx, bucketKey(strategy.Name, identity), strategy.Window)
	if err != nil {
		decision.Reason = ReasonStoreUnavailable
		decision.ResetAt = now.Add(strategy.Window)
		e.logger.Error("rate limit store unavailable",
			"strategy", strategy.Name,
			"identity", identity,
			"fail_open", e.failOpen,
			"error", err)
		if e.failOpen {
			decision.Allowed = true
			decision.Remaining = strategy.Max
			e.allowed.Add(1)
		} else {
			decision.RetryAfter = strategy.Window
			e.denied.Add(1)
		}
		return decision, nil
	}

	decision.Counted = true
	decision.ResetAt = counter.ResetAt
	decision.Remaining = remaining(strategy.Max, counter.Count)
	decision.Allowed = counter.Count <= strategy.Max

	if decision.Allowed {
		decision.Reason = ReasonWithinLimit
		e.allowed.Add(1)
		return decision, nil
	}

	decision.Reason = ReasonLimitExceeded
	decision.RetryAfter = counter.ResetAt.Sub(now)
	if decision.RetryAfter < 0 {
		decision.RetryAfter = 0
	}
	e.denied.Add(1)
	e.logger.Warn("rate limit exceeded",
		"strategy", strategy.Name,
		"identity", identity,
		"count", counter.Count,
		"max", strategy.Max,
		"reset_at", counter.ResetAt)
	return decision, nil
}

// Report takes a finished request back out of its bucket when the strategy
// says requests with that outcome do not count. Only decisions with Counted
// set are reported, and nothing is taken back once the window the request
// was counted in has ended, since the live bucket then belongs to a later
// window.
func (e *Engine) Report(ctx context.Context, decision Decision, identity string, outcome Outcome) error {
	strategy, ok := e.strategies[decision.Strategy]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownStrategy, decision.Strategy)
	}
	if !decision.Counted {
		return nil
	}

	skip := (outcome == OutcomeSuccess && strategy.SkipSuccessfulRequests) ||
		(outcome == OutcomeFailure && strategy.SkipFailedRequests)
	if !skip {
		return nil
	}

	if !e.now().Before(decision.ResetAt) {
		e.logger.Debug("window ended before request finished, keeping count",
			"strategy", strategy.Name,
			"identity", identity,
			"reset_at", decision.ResetAt)
		return nil
	}

	if _, err := e.store.Decrement(ctx, bucketKey(strategy.Name, identity)); err != nil {
		e.logger.Warn("failed to uncount request",
			"strategy", strategy.Name,
			"identity", identity,
			"outcome", outcome.String(),
			"error", err)
	}
	return nil
}

func (e *Engine) bannedUntil(now time.Time, identity string, aliases ...string) (time.Time, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if until, ok := e.blacklist[identity]; ok && now.Before(until) {
		return until, true
	}
	for _, id := range aliases {
		if id == "" {
			continue
		}
		if until, ok := e.blacklist[id]; ok && now.Before(until) {
			return until, true
		}
	}
	return time.Time{}, false
}

func (e *Engine) whitelisted(identity string, aliases ...string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if _, ok := e.whitelist[identity]; ok {
		return true
	}
	for _, id := range aliases {
		if _, ok := e.whitelist[id]; ok && id != "" {
			return true
		}
	}
	return false
}

func (e *Engine) IsWhitelisted(identity string) bool {
	return e.whitelisted(identity)
}

// IsBlacklisted reports whether identity is banned and until when.
func (e *Engine) IsBlacklisted(identity string) (time.Time, bool) {
	return e.bannedUntil(e.now(), identity)
}

func (e *Engine) AddToWhitelist(identity string) error {
	if identity == "" {
		return ErrEmptyIdentity
	}
	e.mu.Lock()
	e.whitelist[identity] = struct{}{}
	e.mu.Unlock()

	e.logger.Info("identity whitelisted", "identity", identity)
	return nil
}

func (e *Engine) RemoveFromWhitelist(identity string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	_, ok := e.whitelist[identity]
	delete(e.whitelist, identity)
	return ok
}

// AddToBlacklist bans identity for d and returns when the ban ends. A
// repeated ban replaces the previous expiry.
func (e *Engine) AddToBlacklist(identity string, d time.Duration) (time.Time, error) {
	if identity == "" {
		return time.Time{}, ErrEmptyIdentity
	}
	if d <= 0 {
		return time.Time{}, ErrInvalidDuration
	}

	until := e.now().Add(d)
	e.mu.Lock()
	e.blacklist[identity] = until
	e.mu.Unlock()

	e.logger.Warn("identity blacklisted", "identity", identity, "until", until)
	return until, nil
}

func (e *Engine) RemoveFromBlacklist(identity string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	_, ok := e.blacklist[identity]
	delete(e.blacklist, identity)
	return ok
}

func (e *Engine) Whitelist() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]string, 0, len(e.whitelist))
	for id := range e.whitelist {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// BlacklistEntry is an active ban.
type BlacklistEntry struct {
	Identity string    `json:"identity"`
	Until    time.Time `json:"until"`
}

// Blacklist lists bans that have not expired, sorted by identity.
func (e *Engine) Blacklist() []BlacklistEntry {
	now := e.now()

	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]BlacklistEntry, 0, len(e.blacklist))
	for id, until := range e.blacklist {
		if now.Before(until) {
			out = append(out, BlacklistEntry{Identity: id, Until: until})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identity < out[j].Identity })
	return out
}

// Cleanup drops expired bans, and expired buckets when the store has no
// native expiry sweep. It returns the number of entries removed.
func (e *Engine) Cleanup() int {
	now := e.now()
	removed := 0

	e.mu.Lock()
	for id, until := range e.blacklist {
		if !now.Before(until) {
			delete(e.blacklist, id)
			removed++
		}
	}
	e.mu.Unlock()

	if p, ok := e.store.(store.Purger); ok {
		removed += p.PurgeExpired()
	}
	return removed
}

// StrategyInfo describes a strategy in stats output.
type StrategyInfo struct {
	Name                   string `json:"name"`
	WindowMs               int64  `json:"windowMs"`
	Max                    int64  `json:"max"`
	Message                string `json:"message"`
	SkipSuccessfulRequests bool   `json:"skipSuccessfulRequests"`
	SkipFailedRequests     bool   `json:"skipFailedRequests"`
}

type Stats struct {
	ActiveKeys     int            `json:"activeKeys"`
	TotalAllowed   int64          `json:"totalAllowed"`
	TotalDenied    int64          `json:"totalDenied"`
	Whitelisted    int            `json:"whitelisted"`
	Blacklisted    int            `json:"blacklisted"`
	Store          string         `json:"store"`
	StoreAvailable bool           `json:"storeAvailable"`
	FailOpen       bool           `json:"failOpen"`
	Strategies     []StrategyInfo `json:"strategies"`
}

// Stats aggregates counters and scans the store for live buckets. A failed
// scan is reported through StoreAvailable rather than an error.
func (e *Engine) Stats(ctx context.Context) Stats {
	stats := Stats{
		TotalAllowed:   e.allowed.Load(),
		TotalDenied:    e.denied.Load(),
		Whitelisted:    len(e.Whitelist()),
		Blacklisted:    len(e.Blacklist()),
		Store:          string(e.store.Kind()),
		StoreAvailable: true,
		FailOpen:       e.failOpen,
	}

	keys, err := e.store.Keys(ctx, BucketKeyPrefix+"*")
	if err != nil {
		e.logger.Warn("failed to list rate limit buckets", "error", err)
		stats.StoreAvailable = false
	} else {
		stats.ActiveKeys = len(keys)
	}

	for _, s := range e.Strategies() {
		stats.Strategies = append(stats.Strategies, StrategyInfo{
			Name:                   s.Name,
			WindowMs:               s.Window.Milliseconds(),
			Max:                    s.Max,
			Message:                s.Message,
			SkipSuccessfulRequests: s.SkipSuccessfulRequests,
			SkipFailedRequests:     s.SkipFailedRequests,
		})
	}
	return stats
}

// Reset deletes every bucket, clears both lists and zeroes the counters. It
// returns the number of buckets deleted.
func (e *Engine) Reset(ctx context.Context) (int, error) {
	e.mu.Lock()
	e.whitelist = make(map[string]struct{})
	e.blacklist = make(map[string]time.Time)
	e.mu.Unlock()

	e.allowed.Store(0)
	e.denied.Store(0)

	keys, err := e.store.Keys(ctx, BucketKeyPrefix+"*")
	if err != nil {
		return 0, fmt.Errorf("list buckets: %w", err)
	}

	deleted := 0
	for _, key := range keys {
		ok, err := e.store.Delete(ctx, key)
		if err != nil {
			return deleted, fmt.Errorf("delete bucket %s: %w", key, err)
		}
		if ok {
			deleted++
		}
	}

	e.logger.Info("rate limiter reset", "buckets_deleted", deleted)
	return deleted, nil
}

package ratelimit

import "time"

// Preset strategy names. Route rules fall back to StrategyStandard.
const (
	StrategyStrict   = "strict"
	StrategyStandard = "standard"
	StrategyGenerous = "generous"
	StrategyBurst    = "burst"
)

const (
	// BucketKeyPrefix namespaces bucket keys in the shared store.
	BucketKeyPrefix = "ratelimit:"

	DefaultMessage = "Too many requests, please try again later."
)

// Decision reasons.
const (
	ReasonWithinLimit      = "within_limit"
	ReasonLimitExceeded    = "limit_exceeded"
	ReasonWhitelisted      = "whitelisted"
	ReasonBlacklisted      = "blacklisted"
	ReasonStoreUnavailable = "store_unavailable"
)

var presets = map[string]Strategy{
	StrategyStrict: {
		Name:    StrategyStrict,
		Window:  15 * time.Minute,
		Max:     5,
		Message: "Too many authentication attempts, please try again later.",
	},
	StrategyStandard: {
		Name:    StrategyStandard,
		Window:  15 * time.Minute,
		Max:     100,
		Message: "Too many requests, please try again later.",
	},
	StrategyGenerous: {
		Name:    StrategyGenerous,
		Window:  15 * time.Minute,
		Max:     1000,
		Message: "Request limit reached for public endpoints, please try again later.",
	},
	StrategyBurst: {
		Name:    StrategyBurst,
		Window:  time.Minute,
		Max:     30,
		Message: "Too many requests to this resource, please slow down.",
	},
}

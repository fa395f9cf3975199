package config

import (
	"errors"
	"fmt"
	"strings"
)

const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Key generator names accepted in route rules.
var KeyGenerators = []string{"ip", "ip_username", "user", "role"}

// ValidationError reports a configuration value the process cannot start with.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid configuration %s: %s", e.Field, e.Reason)
}

// IsValidationError reports whether err carries a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func (c *Config) Validate() error {
	switch c.Store.Backend {
	case BackendMemory, BackendRedis:
	default:
		return &ValidationError{Field: "store.backend", Reason: fmt.Sprintf("unknown backend %q", c.Store.Backend)}
	}

	if c.Store.MaxRetries < 0 {
		return &ValidationError{Field: "store.max_retries", Reason: "must not be negative"}
	}

	for name, s := range c.RateLimit.Strategies {
		if strings.TrimSpace(name) == "" {
			return &ValidationError{Field: "rate_limit.strategies", Reason: "strategy name must not be empty"}
		}
		if s.Window < 0 {
			return &ValidationError{Field: "rate_limit.strategies." + name + ".window", Reason: "must be positive"}
		}
		if s.Max < 0 {
			return &ValidationError{Field: "rate_limit.strategies." + name + ".max", Reason: "must be positive"}
		}
	}

	for i, r := range c.RateLimit.Routes {
		field := fmt.Sprintf("rate_limit.routes[%d]", i)
		if !strings.HasPrefix(r.Prefix, "/") {
			return &ValidationError{Field: field + ".prefix", Reason: "must start with /"}
		}
		if r.Strategy == "" {
			return &ValidationError{Field: field + ".strategy", Reason: "must not be empty"}
		}
		if r.Key != "" && !knownKeyGenerator(r.Key) {
			return &ValidationError{Field: field + ".key", Reason: fmt.Sprintf("unknown key generator %q", r.Key)}
		}
	}

	if c.Cache.DefaultTTL < 0 {
		return &ValidationError{Field: "cache.default_ttl", Reason: "must not be negative"}
	}
	if c.Cache.MaxEntries < 0 || c.Cache.MaxBytes < 0 {
		return &ValidationError{Field: "cache.max_entries", Reason: "bounds must not be negative"}
	}
	for i, r := range c.Cache.Routes {
		field := fmt.Sprintf("cache.routes[%d]", i)
		if !strings.HasPrefix(r.Path, "/") {
			return &ValidationError{Field: field + ".path", Reason: "must start with /"}
		}
		if r.TTL < 0 {
			return &ValidationError{Field: field + ".ttl", Reason: "must not be negative"}
		}
	}

	return nil
}

func knownKeyGenerator(name string) bool {
	for _, k := range KeyGenerators {
		if k == name {
			return true
		}
	}
	return false
}

package ratelimit

import (
	"fmt"
	"sort"

	"github.com/pmujumdar27/erp-admission/internal/config"
)

// Presets returns a copy of the built-in strategies.
func Presets() map[string]Strategy {
	out := make(map[string]Strategy, len(presets))
	for name, s := range presets {
		out[name] = s
	}
	return out
}

// BuildStrategies merges configured strategies over the presets. A configured
// name matching a preset overrides only the fields it sets; any other name
// defines a new strategy and must set both window and max.
func BuildStrategies(overrides map[string]config.StrategyConfig) (map[string]Strategy, error) {
	strategies := Presets()

	names := make([]string, 0, len(overrides))
	for name := range overrides {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		o := overrides[name]
		s, exists := strategies[name]
		if !exists {
			s = Strategy{Name: name, Message: DefaultMessage}
		}

		strategies[name] = applyOverride(s, o)
	}

	if err := validateStrategies(strategies); err != nil {
		return nil, err
	}
	return strategies, nil
}

func applyOverride(s Strategy, o config.StrategyConfig) Strategy {
	if o.Window > 0 {
		s.Window = o.Window
	}
	if o.Max > 0 {
		s.Max = o.Max
	}
	if o.Message != "" {
		s.Message = o.Message
	}
	if o.SkipSuccessfulRequests != nil {
		s.SkipSuccessfulRequests = *o.SkipSuccessfulRequests
	}
	if o.SkipFailedRequests != nil {
		s.SkipFailedRequests = *o.SkipFailedRequests
	}
	return s
}

func validateStrategies(strategies map[string]Strategy) error {
	for name, s := range strategies {
		field := "rate_limit.strategies." + name
		if name == "" || s.Name != name {
			return &config.ValidationError{Field: field, Reason: fmt.Sprintf("strategy name mismatch %q", s.Name)}
		}
		if s.Window <= 0 {
			return &config.ValidationError{Field: field + ".window", Reason: "must be positive"}
		}
		if s.Max <= 0 {
			return &config.ValidationError{Field: field + ".max", Reason: "must be positive"}
		}
	}
	return nil
}

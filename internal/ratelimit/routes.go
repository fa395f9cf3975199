package ratelimit

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pmujumdar27/erp-admission/internal/config"
)

// Rule binds a path prefix to a strategy and key generator.
type Rule struct {
	Prefix   string
	Strategy string
	KeyName  string
	Key      KeyGenerator
}

// RouteTable selects the rule for a request path by longest matching prefix.
// Prefixes match whole path segments: /api/auth matches /api/auth/login but
// not /api/authors.
type RouteTable struct {
	rules    []Rule
	fallback Rule
}

// NewRouteTable validates routes against the known strategies. Paths that
// match no rule use the standard strategy keyed by IP.
func NewRouteTable(routes []config.RouteConfig, strategies map[string]Strategy) (*RouteTable, error) {
	t := &RouteTable{
		fallback: Rule{Prefix: "/", Strategy: StrategyStandard, KeyName: "ip", Key: ByIP},
	}
	if _, ok := strategies[StrategyStandard]; !ok {
		return nil, &config.ValidationError{Field: "rate_limit.strategies." + StrategyStandard, Reason: "fallback strategy is required"}
	}

	for i, r := range routes {
		field := fmt.Sprintf("rate_limit.routes[%d]", i)
		if _, ok := strategies[r.Strategy]; !ok {
			return nil, &config.ValidationError{Field: field + ".strategy", Reason: fmt.Sprintf("unknown strategy %q", r.Strategy)}
		}
		key, ok := KeyGeneratorByName(r.Key)
		if !ok {
			return nil, &config.ValidationError{Field: field + ".key", Reason: fmt.Sprintf("unknown key generator %q", r.Key)}
		}
		keyName := r.Key
		if keyName == "" {
			keyName = "ip"
		}
		t.rules = append(t.rules, Rule{
			Prefix:   strings.TrimSuffix(r.Prefix, "/"),
			Strategy: r.Strategy,
			KeyName:  keyName,
			Key:      key,
		})
	}

	sort.SliceStable(t.rules, func(i, j int) bool {
		return len(t.rules[i].Prefix) > len(t.rules[j].Prefix)
	})
	return t, nil
}

// WithKey registers a custom key generator on a prefix, ahead of any
// configured rule of the same length.
func (t *RouteTable) WithKey(prefix, strategy, name string, key KeyGenerator) *RouteTable {
	rule := Rule{Prefix: strings.TrimSuffix(prefix, "/"), Strategy: strategy, KeyName: name, Key: key}
	t.rules = append([]Rule{rule}, t.rules...)
	sort.SliceStable(t.rules, func(i, j int) bool {
		return len(t.rules[i].Prefix) > len(t.rules[j].Prefix)
	})
	return t
}

func (t *RouteTable) Match(path string) Rule {
	for _, r := range t.rules {
		if matchPrefix(path, r.Prefix) {
			return r
		}
	}
	return t.fallback
}

func (t *RouteTable) Rules() []Rule {
	out := make([]Rule, len(t.rules))
	copy(out, t.rules)
	return out
}

func matchPrefix(path, prefix string) bool {
	if prefix == "" {
		return true
	}
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	return len(path) == len(prefix) || path[len(prefix)] == '/'
}

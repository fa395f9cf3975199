package cache

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/gobwas/glob"

	"github.com/pmujumdar27/erp-admission/internal/metrics"
)

// tagKey names the set holding the store keys of entries tagged tag. It sits
// outside the entry prefix so entry scans never see it.
func (m *Manager) tagKey(tag string) string {
	return "tag:" + m.cfg.Prefix + tag
}

// tagEntry records key in the set of each of its tags. A set outlives every
// entry added to it.
func (m *Manager) tagEntry(ctx context.Context, key string, tags []string, ttl time.Duration) {
	storeKey := m.storeKey(key)
	for _, tag := range tags {
		if err := m.store.SetAdd(ctx, m.tagKey(tag), ttl, storeKey); err != nil {
			m.errors.Add(1)
			m.logger.Warn("failed to index cache tag", "key", key, "tag", tag, "error", err)
		}
	}
}

// ClearByTags deletes every entry carrying at least one of tags and returns
// how many were deleted. Only the entries recorded under each tag are read.
// Members whose entry expired or was rewritten without the tag are pruned.
func (m *Manager) ClearByTags(ctx context.Context, tags []string) (int, error) {
	wanted := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		if t != "" {
			wanted[t] = struct{}{}
		}
	}
	if len(wanted) == 0 {
		return 0, nil
	}

	cleared := 0
	for tag := range wanted {
		setKey := m.tagKey(tag)
		members, err := m.store.SetMembers(ctx, setKey)
		if err != nil {
			return cleared, fmt.Errorf("list entries tagged %s: %w", tag, err)
		}

		done := make([]string, 0, len(members))
		for _, storeKey := range members {
			data, found, err := m.store.Get(ctx, storeKey)
			if err != nil {
				continue
			}
			done = append(done, storeKey)
			if !found {
				continue
			}
			env, err := decodeEnvelope(data)
			if err != nil || !env.hasAnyTag(wanted) {
				continue
			}
			if m.invalidate(ctx, storeKey) {
				cleared++
			}
		}

		if err := m.store.SetRemove(ctx, setKey, done...); err != nil {
			m.logger.Warn("failed to prune tag set", "tag", tag, "error", err)
		}
	}

	m.logger.Info("cleared cache entries by tag", "tags", tags, "count", cleared)
	return cleared, nil
}

// InvalidatePattern deletes every entry whose key matches pattern and
// returns how many were deleted. Patterns are Redis-style globs such as
// "user:123:*"; a pattern written as /expr/ or prefixed with "re:" is a
// regular expression.
func (m *Manager) InvalidatePattern(ctx context.Context, pattern string) (int, error) {
	match, storePattern, err := m.compilePattern(pattern)
	if err != nil {
		return 0, err
	}

	keys, err := m.store.Keys(ctx, storePattern)
	if err != nil {
		return 0, fmt.Errorf("list cache keys: %w", err)
	}

	invalidated := 0
	for _, storeKey := range keys {
		if !match(strings.TrimPrefix(storeKey, m.cfg.Prefix)) {
			continue
		}
		if m.invalidate(ctx, storeKey) {
			invalidated++
		}
	}

	m.logger.Info("invalidated cache entries by pattern", "pattern", pattern, "count", invalidated)
	return invalidated, nil
}

// compilePattern returns a matcher over unprefixed keys and the glob used to
// narrow the store scan.
func (m *Manager) compilePattern(pattern string) (func(string) bool, string, error) {
	if strings.TrimSpace(pattern) == "" {
		return nil, "", fmt.Errorf("%w: empty", ErrInvalidPattern)
	}

	if expr, ok := regexExpr(pattern); ok {
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, "", fmt.Errorf("%w: %v", ErrInvalidPattern, err)
		}
		return re.MatchString, m.cfg.Prefix + "*", nil
	}

	g, err := glob.Compile(pattern)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrInvalidPattern, err)
	}
	return g.Match, m.cfg.Prefix + pattern, nil
}

func regexExpr(pattern string) (string, bool) {
	if strings.HasPrefix(pattern, "re:") {
		return strings.TrimPrefix(pattern, "re:"), true
	}
	if len(pattern) >= 2 && strings.HasPrefix(pattern, "/") && strings.HasSuffix(pattern, "/") {
		return pattern[1 : len(pattern)-1], true
	}
	return "", false
}

func (m *Manager) invalidate(ctx context.Context, storeKey string) bool {
	m.index.remove(strings.TrimPrefix(storeKey, m.cfg.Prefix))
	deleted, err := m.store.Delete(ctx, storeKey)
	if err != nil {
		m.errors.Add(1)
		m.logger.Warn("failed to invalidate cache entry", "key", storeKey, "error", err)
		return false
	}
	if deleted {
		m.deletes.Add(1)
		m.collector.RecordCacheEviction(metrics.EvictionInvalidate)
	}
	return deleted
}

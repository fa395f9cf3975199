package middleware

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/pmujumdar27/erp-admission/internal/auth"
	"github.com/pmujumdar27/erp-admission/internal/cache"
	"github.com/pmujumdar27/erp-admission/internal/config"
)

const (
	HeaderCache = "X-Cache"
	CacheHit    = "HIT"
	CacheMiss   = "MISS"
)

// CacheRule marks a path, and everything below it, as cacheable.
type CacheRule struct {
	Path       string
	TTL        time.Duration
	Tags       []string
	VaryByUser bool
	Compress   bool
}

// CacheRulesFrom maps the cache.routes config section.
func CacheRulesFrom(routes []config.CacheRouteConfig) []CacheRule {
	rules := make([]CacheRule, 0, len(routes))
	for _, r := range routes {
		rules = append(rules, CacheRule{
			Path:       strings.TrimSuffix(r.Path, "/"),
			TTL:        r.TTL,
			Tags:       r.Tags,
			VaryByUser: r.VaryByUser,
			Compress:   r.Compress,
		})
	}
	sort.SliceStable(rules, func(i, j int) bool { return len(rules[i].Path) > len(rules[j].Path) })
	return rules
}

type cachedResponse struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type"`
	Body        []byte `json:"body"`
}

type captureWriter struct {
	gin.ResponseWriter
	body bytes.Buffer
}

func (w *captureWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *captureWriter) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

// ResponseCache serves GET and HEAD responses for matching paths from the
// cache manager and stores successful responses on a miss. Cache failures
// never fail the request.
func ResponseCache(manager *cache.Manager, rules []CacheRule, logger *slog.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}

	return func(c *gin.Context) {
		if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
			c.Next()
			return
		}
		rule, ok := matchCacheRule(rules, c.Request.URL.Path)
		if !ok {
			c.Next()
			return
		}

		key := CacheKey(c, rule.VaryByUser)

		var cached cachedResponse
		hit, err := manager.Get(c.Request.Context(), key, &cached)
		if err != nil {
			logger.Warn("cached response unreadable", "key", key, "error", err)
		}
		if hit {
			c.Header(HeaderCache, CacheHit)
			c.Data(cached.Status, cached.ContentType, cached.Body)
			c.Abort()
			return
		}

		c.Header(HeaderCache, CacheMiss)
		writer := &captureWriter{ResponseWriter: c.Writer}
		c.Writer = writer

		c.Next()

		if writer.Status() != http.StatusOK || c.Request.Method != http.MethodGet {
			return
		}

		entry := cachedResponse{
			Status:      writer.Status(),
			ContentType: writer.Header().Get("Content-Type"),
			Body:        writer.body.Bytes(),
		}
		ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request.Context()), 2*time.Second)
		defer cancel()
		if _, err := manager.Set(ctx, key, entry, cache.SetOptions{
			TTL:      rule.TTL,
			Tags:     rule.Tags,
			Compress: rule.Compress,
		}); err != nil {
			logger.Warn("failed to cache response", "key", key, "error", err)
		}
	}
}

// CacheKey is a deterministic key for the request: path and the query with
// keys and values sorted, plus the caller when the route varies by user. HEAD
// requests share the GET entry.
func CacheKey(c *gin.Context, varyByUser bool) string {
	query := c.Request.URL.Query()
	for _, values := range query {
		sort.Strings(values)
	}

	key := "route:" + http.MethodGet + ":" + c.Request.URL.Path
	if encoded := query.Encode(); encoded != "" {
		key += "?" + encoded
	}
	if varyByUser {
		if p, ok := auth.PrincipalFrom(c); ok && p.ID != "" {
			key += ":user-" + p.ID
		} else {
			key += ":anonymous"
		}
	}
	return key
}

func matchCacheRule(rules []CacheRule, path string) (CacheRule, bool) {
	for _, r := range rules {
		if path == r.Path || strings.HasPrefix(path, r.Path+"/") {
			return r, true
		}
	}
	return CacheRule{}, false
}

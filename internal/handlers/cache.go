package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/pmujumdar27/erp-admission/internal/cache"
	"github.com/pmujumdar27/erp-admission/internal/maintenance"
)

// CacheHandler serves the /cache administrative endpoints.
type CacheHandler struct {
	manager        *cache.Manager
	janitor        *maintenance.Janitor
	fetchers       map[string]cache.Fetcher
	defaultFetcher string
	logger         *slog.Logger
}

func NewCacheHandler(manager *cache.Manager, janitor *maintenance.Janitor, logger *slog.Logger) *CacheHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &CacheHandler{
		manager:  manager,
		janitor:  janitor,
		fetchers: make(map[string]cache.Fetcher),
		logger:   logger,
	}
}

// RegisterFetcher makes fetch available to warmup requests under name. The
// first registered fetcher is used when a request names none.
func (h *CacheHandler) RegisterFetcher(name string, fetch cache.Fetcher) {
	if h.defaultFetcher == "" {
		h.defaultFetcher = name
	}
	h.fetchers[name] = fetch
}

type entryOptions struct {
	Tags     []string `json:"tags"`
	Compress bool     `json:"compress"`
}

type setRequest struct {
	Key     string          `json:"key"`
	Value   json.RawMessage `json:"value"`
	TTL     *int64          `json:"ttl"`
	Options entryOptions    `json:"options"`
}

type warmupRequest struct {
	Keys    json.RawMessage `json:"keys"`
	Fetcher string          `json:"fetcher"`
	TTL     *int64          `json:"ttl"`
	Options entryOptions    `json:"options"`
}

// ttlFromSeconds maps the admin TTL field: absent or 0 uses the default,
// -1 disables expiry.
func ttlFromSeconds(ttl *int64) (time.Duration, error) {
	switch {
	case ttl == nil || *ttl == 0:
		return 0, nil
	case *ttl == -1:
		return cache.NoExpiry, nil
	case *ttl < -1:
		return 0, errors.New("ttl must be a positive number of seconds or -1")
	}
	return time.Duration(*ttl) * time.Second, nil
}

func isJSONNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}

// stringArray decodes a field that must be a non-empty JSON array of
// strings.
func stringArray(raw json.RawMessage, field string) ([]string, error) {
	var values []string
	if isJSONNull(raw) || json.Unmarshal(raw, &values) != nil {
		return nil, fmt.Errorf("%s must be an array of strings", field)
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("%s must not be empty", field)
	}
	return values, nil
}

func (h *CacheHandler) Stats(c *gin.Context) {
	ctx, cancel := requestContext(c)
	defer cancel()

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"stats":   h.manager.Stats(ctx),
	})
}

func (h *CacheHandler) Analytics(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"analytics": h.manager.Analytics(),
	})
}

func (h *CacheHandler) Health(c *gin.Context) {
	ctx, cancel := requestContext(c)
	defer cancel()

	health := h.manager.Health(ctx)
	status := http.StatusOK
	if health.Status == cache.StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{
		"success": health.Status != cache.StatusUnhealthy,
		"health":  health,
	})
}

func (h *CacheHandler) Set(c *gin.Context) {
	var req setRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}
	if req.Key == "" {
		errorResponse(c, http.StatusBadRequest, "Key is required")
		return
	}
	if isJSONNull(req.Value) {
		errorResponse(c, http.StatusBadRequest, "Value is required")
		return
	}
	ttl, err := ttlFromSeconds(req.TTL)
	if err != nil {
		errorResponse(c, http.StatusBadRequest, "Invalid ttl", err.Error())
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	stored, err := h.manager.Set(ctx, req.Key, req.Value, cache.SetOptions{
		TTL:      ttl,
		Tags:     req.Options.Tags,
		Compress: req.Options.Compress,
	})
	if err != nil {
		errorResponse(c, http.StatusBadRequest, "Invalid cache entry", err.Error())
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"key":     req.Key,
		"stored":  stored,
	})
}

func (h *CacheHandler) Get(c *gin.Context) {
	key := c.Param("key")

	allowFallback := false
	if raw := c.Query("fallbackToDisk"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			errorResponse(c, http.StatusBadRequest, "Invalid fallbackToDisk", "must be true or false")
			return
		}
		allowFallback = v
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	var value json.RawMessage
	hit, err := h.manager.GetWithOptions(ctx, key, &value, cache.GetOptions{AllowFallback: allowFallback})
	if err != nil {
		if errors.Is(err, cache.ErrInvalidKey) {
			errorResponse(c, http.StatusBadRequest, "Key is required")
			return
		}
		h.logger.Error("failed to read cache entry", "key", key, "error", err)
		errorResponse(c, http.StatusInternalServerError, "Failed to read cache entry")
		return
	}
	if !hit {
		errorResponse(c, http.StatusNotFound, "Key not found")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"key":     key,
		"value":   value,
	})
}

func (h *CacheHandler) Delete(c *gin.Context) {
	key := c.Param("key")

	ctx, cancel := requestContext(c)
	defer cancel()

	deleted, err := h.manager.Delete(ctx, key)
	if err != nil {
		if errors.Is(err, cache.ErrInvalidKey) {
			errorResponse(c, http.StatusBadRequest, "Key is required")
			return
		}
		h.logger.Warn("failed to delete cache entry", "key", key, "error", err)
		errorResponse(c, http.StatusServiceUnavailable, "Cache store unavailable")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"key":     key,
		"deleted": deleted,
	})
}

func (h *CacheHandler) ClearTags(c *gin.Context) {
	var req struct {
		Tags json.RawMessage `json:"tags"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}
	tags, err := stringArray(req.Tags, "tags")
	if err != nil {
		errorResponse(c, http.StatusBadRequest, "Invalid tags", err.Error())
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	cleared, err := h.manager.ClearByTags(ctx, tags)
	if err != nil {
		h.logger.Warn("failed to clear cache tags", "tags", tags, "error", err)
		errorResponse(c, http.StatusServiceUnavailable, "Cache store unavailable")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"tags":    tags,
		"cleared": cleared,
	})
}

func (h *CacheHandler) InvalidatePattern(c *gin.Context) {
	var req struct {
		Pattern string `json:"pattern"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}
	if req.Pattern == "" {
		errorResponse(c, http.StatusBadRequest, "Pattern is required")
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	n, err := h.manager.InvalidatePattern(ctx, req.Pattern)
	if err != nil {
		if errors.Is(err, cache.ErrInvalidPattern) {
			errorResponse(c, http.StatusBadRequest, "Invalid pattern", err.Error())
			return
		}
		h.logger.Warn("failed to invalidate cache pattern", "pattern", req.Pattern, "error", err)
		errorResponse(c, http.StatusServiceUnavailable, "Cache store unavailable")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"pattern":     req.Pattern,
		"invalidated": n,
	})
}

func (h *CacheHandler) Warmup(c *gin.Context) {
	var req warmupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}
	keys, err := stringArray(req.Keys, "keys")
	if err != nil {
		errorResponse(c, http.StatusBadRequest, "Invalid keys", err.Error())
		return
	}
	ttl, err := ttlFromSeconds(req.TTL)
	if err != nil {
		errorResponse(c, http.StatusBadRequest, "Invalid ttl", err.Error())
		return
	}

	name := req.Fetcher
	if name == "" {
		name = h.defaultFetcher
	}
	fetch, ok := h.fetchers[name]
	if !ok {
		errorResponse(c, http.StatusBadRequest, "Unknown fetcher", fmt.Sprintf("no fetcher named %q", name))
		return
	}

	results := h.manager.Warmup(c.Request.Context(), keys, fetch, cache.SetOptions{
		TTL:      ttl,
		Tags:     req.Options.Tags,
		Compress: req.Options.Compress,
	})

	warmed := 0
	for _, r := range results {
		if r.Success {
			warmed++
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"fetcher": name,
		"warmed":  warmed,
		"failed":  len(results) - warmed,
		"results": results,
	})
}

func (h *CacheHandler) Compress(c *gin.Context) {
	var req struct {
		Value json.RawMessage `json:"value"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}
	if isJSONNull(req.Value) {
		errorResponse(c, http.StatusBadRequest, "Value is required")
		return
	}

	report, err := h.manager.Compress(req.Value)
	if err != nil {
		h.logger.Warn("compression analysis failed", "error", err)
		errorResponse(c, http.StatusInternalServerError, "Compression failed")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"report":  report,
	})
}

// Cleanup sweeps expired cache entries, bans and buckets once.
func (h *CacheHandler) Cleanup(c *gin.Context) {
	ctx, cancel := requestContext(c)
	defer cancel()

	report := h.janitor.Sweep(ctx)
	c.JSON(http.StatusOK, gin.H{
		"success":            true,
		"cacheCleaned":       report.CacheCleaned,
		"rateLimiterCleaned": report.RateLimiterCleaned,
		"totalCleaned":       report.TotalCleaned,
	})
}

func (h *CacheHandler) Reset(c *gin.Context) {
	ctx, cancel := requestContext(c)
	defer cancel()

	deleted, err := h.manager.Reset(ctx)
	if err != nil {
		h.logger.Warn("cache reset failed", "deleted", deleted, "error", err)
		errorResponse(c, http.StatusServiceUnavailable, "Cache store unavailable")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":        true,
		"entriesDeleted": deleted,
	})
}

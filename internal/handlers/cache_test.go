package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pmujumdar27/erp-admission/internal/cache"
	"github.com/pmujumdar27/erp-admission/internal/maintenance"
	"github.com/pmujumdar27/erp-admission/internal/store"
)

type cacheFixture struct {
	router  *gin.Engine
	manager *cache.Manager
	handler *CacheHandler
	now     time.Time
}

func (f *cacheFixture) clock() time.Time { return f.now }

func newCacheFixture(t *testing.T) *cacheFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	s := store.NewMemoryStore()
	t.Cleanup(func() { s.Close() })

	f := &cacheFixture{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	f.manager = cache.NewManager(s, cache.Config{Now: f.clock}, nil, discardLogger())
	f.handler = NewCacheHandler(f.manager, maintenance.NewJanitor(f.manager, nil, discardLogger()), discardLogger())

	router := gin.New()
	group := router.Group("/cache")
	group.GET("/stats", f.handler.Stats)
	group.GET("/analytics", f.handler.Analytics)
	group.GET("/health", f.handler.Health)
	group.POST("/set", f.handler.Set)
	group.GET("/get/:key", f.handler.Get)
	group.DELETE("/delete/:key", f.handler.Delete)
	group.POST("/clear-tags", f.handler.ClearTags)
	group.POST("/invalidate-pattern", f.handler.InvalidatePattern)
	group.POST("/warmup", f.handler.Warmup)
	group.POST("/compress", f.handler.Compress)
	group.POST("/cleanup", f.handler.Cleanup)
	group.POST("/reset", f.handler.Reset)
	f.router = router
	return f
}

func TestCacheHandler_SetGetDelete(t *testing.T) {
	f := newCacheFixture(t)

	w := doJSON(f.router, http.MethodPost, "/cache/set",
		`{"key":"order:1","value":{"total":42,"items":["a","b"]},"ttl":60,"options":{"tags":["orders"]}}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decodeBody(t, w)["stored"])

	w = doJSON(f.router, http.MethodGet, "/cache/get/order:1", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"success":true,"key":"order:1","value":{"total":42,"items":["a","b"]}}`, w.Body.String())

	w = doJSON(f.router, http.MethodDelete, "/cache/delete/order:1", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decodeBody(t, w)["deleted"])

	w = doJSON(f.router, http.MethodGet, "/cache/get/order:1", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Key not found", decodeBody(t, w)["error"])
}

func TestCacheHandler_SetTTL(t *testing.T) {
	f := newCacheFixture(t)

	w := doJSON(f.router, http.MethodPost, "/cache/set", `{"key":"short","value":"x","ttl":10}`)
	require.Equal(t, http.StatusOK, w.Code)
	w = doJSON(f.router, http.MethodPost, "/cache/set", `{"key":"forever","value":"y","ttl":-1}`)
	require.Equal(t, http.StatusOK, w.Code)

	f.now = f.now.Add(time.Hour)

	assert.Equal(t, http.StatusNotFound, doJSON(f.router, http.MethodGet, "/cache/get/short", "").Code)
	assert.Equal(t, http.StatusOK, doJSON(f.router, http.MethodGet, "/cache/get/forever", "").Code)
}

func TestCacheHandler_InvalidInput(t *testing.T) {
	f := newCacheFixture(t)

	tests := []struct {
		name  string
		path  string
		body  string
		error string
	}{
		{name: "set without key", path: "/cache/set", body: `{"value":1}`, error: "Key is required"},
		{name: "set without value", path: "/cache/set", body: `{"key":"k"}`, error: "Value is required"},
		{name: "set with null value", path: "/cache/set", body: `{"key":"k","value":null}`, error: "Value is required"},
		{name: "set with bad ttl", path: "/cache/set", body: `{"key":"k","value":1,"ttl":-7}`, error: "Invalid ttl"},
		{name: "tags not an array", path: "/cache/clear-tags", body: `{"tags":"orders"}`, error: "Invalid tags"},
		{name: "tags missing", path: "/cache/clear-tags", body: `{}`, error: "Invalid tags"},
		{name: "tags empty", path: "/cache/clear-tags", body: `{"tags":[]}`, error: "Invalid tags"},
		{name: "pattern missing", path: "/cache/invalidate-pattern", body: `{}`, error: "Pattern is required"},
		{name: "pattern invalid regex", path: "/cache/invalidate-pattern", body: `{"pattern":"/([a-/"}`, error: "Invalid pattern"},
		{name: "warmup keys not an array", path: "/cache/warmup", body: `{"keys":"a"}`, error: "Invalid keys"},
		{name: "compress without value", path: "/cache/compress", body: `{}`, error: "Value is required"},
		{name: "malformed body", path: "/cache/set", body: `{"key":`, error: "Invalid request body"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(f.router, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			body := decodeBody(t, w)
			assert.Equal(t, false, body["success"])
			assert.Equal(t, tt.error, body["error"])
		})
	}
}

func TestCacheHandler_ClearTagsAndPattern(t *testing.T) {
	f := newCacheFixture(t)
	ctx := context.Background()

	for key, tags := range map[string][]string{
		"user:1":    {"users"},
		"user:2":    {"users"},
		"product:1": {"products"},
		"product:2": {"products"},
		"report:q1": nil,
	} {
		_, err := f.manager.Set(ctx, key, key, cache.SetOptions{Tags: tags})
		require.NoError(t, err)
	}

	w := doJSON(f.router, http.MethodPost, "/cache/clear-tags", `{"tags":["users"]}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(2), decodeBody(t, w)["cleared"])

	w = doJSON(f.router, http.MethodPost, "/cache/invalidate-pattern", `{"pattern":"product:*"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(2), decodeBody(t, w)["invalidated"])

	w = doJSON(f.router, http.MethodPost, "/cache/invalidate-pattern", `{"pattern":"/^report:q[0-9]$/"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decodeBody(t, w)["invalidated"])

	assert.Zero(t, f.manager.Stats(ctx).Entries)
}

func TestCacheHandler_Warmup(t *testing.T) {
	f := newCacheFixture(t)
	f.handler.RegisterFetcher("echo", func(_ context.Context, key string) (any, error) {
		if strings.HasSuffix(key, "bad") {
			return nil, errors.New("no such record")
		}
		return map[string]string{"key": key}, nil
	})
	f.handler.RegisterFetcher("other", func(context.Context, string) (any, error) { return 1, nil })

	_, err := f.manager.Set(context.Background(), "w:cached", "present", cache.SetOptions{})
	require.NoError(t, err)

	w := doJSON(f.router, http.MethodPost, "/cache/warmup", `{"keys":["w:1","w:bad","w:cached"]}`)
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "echo", body["fetcher"])
	assert.Equal(t, float64(2), body["warmed"])
	assert.Equal(t, float64(1), body["failed"])

	results := body["results"].([]any)
	require.Len(t, results, 3)
	assert.Equal(t, true, results[0].(map[string]any)["success"])
	assert.Equal(t, "no such record", results[1].(map[string]any)["error"])
	assert.Equal(t, true, results[2].(map[string]any)["cached"])

	var got map[string]string
	hit, err := f.manager.Get(context.Background(), "w:1", &got)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, "w:1", got["key"])

	w = doJSON(f.router, http.MethodPost, "/cache/warmup", `{"keys":["w:2"],"fetcher":"missing"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Unknown fetcher", decodeBody(t, w)["error"])
}

func TestCacheHandler_Compress(t *testing.T) {
	f := newCacheFixture(t)

	value := `"` + strings.Repeat("inventory ", 500) + `"`
	w := doJSON(f.router, http.MethodPost, "/cache/compress", `{"value":`+value+`}`)
	require.Equal(t, http.StatusOK, w.Code)

	report := decodeBody(t, w)["report"].(map[string]any)
	assert.Greater(t, report["originalSize"].(float64), report["compressedSize"].(float64))
	assert.Equal(t, true, report["beneficial"])
}

func TestCacheHandler_CleanupAndReset(t *testing.T) {
	f := newCacheFixture(t)
	ctx := context.Background()

	_, err := f.manager.Set(ctx, "a", 1, cache.SetOptions{TTL: time.Second})
	require.NoError(t, err)
	_, err = f.manager.Set(ctx, "b", 2, cache.SetOptions{TTL: time.Hour})
	require.NoError(t, err)

	f.now = f.now.Add(time.Minute)

	w := doJSON(f.router, http.MethodPost, "/cache/cleanup", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"success":true,"cacheCleaned":1,"rateLimiterCleaned":0,"totalCleaned":1}`, w.Body.String())

	w = doJSON(f.router, http.MethodPost, "/cache/reset", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decodeBody(t, w)["entriesDeleted"])

	stats := decodeBody(t, doJSON(f.router, http.MethodGet, "/cache/stats", ""))["stats"].(map[string]any)
	assert.Equal(t, float64(0), stats["entries"])
	assert.Equal(t, float64(0), stats["sets"])
}

func TestCacheHandler_StatsAnalyticsHealth(t *testing.T) {
	f := newCacheFixture(t)
	ctx := context.Background()

	_, err := f.manager.Set(ctx, "k", "v", cache.SetOptions{Tags: []string{"t"}})
	require.NoError(t, err)
	var v string
	_, _ = f.manager.Get(ctx, "k", &v)
	_, _ = f.manager.Get(ctx, "missing", &v)

	stats := decodeBody(t, doJSON(f.router, http.MethodGet, "/cache/stats", ""))["stats"].(map[string]any)
	assert.Equal(t, float64(1), stats["hits"])
	assert.Equal(t, float64(1), stats["misses"])
	assert.Equal(t, float64(50), stats["hitRate"])

	analytics := decodeBody(t, doJSON(f.router, http.MethodGet, "/cache/analytics", ""))["analytics"].(map[string]any)
	assert.Equal(t, map[string]any{"t": float64(1)}, analytics["tagDistribution"])

	w := doJSON(f.router, http.MethodGet, "/cache/health", "")
	require.Equal(t, http.StatusOK, w.Code)
	health := decodeBody(t, w)["health"].(map[string]any)
	assert.Equal(t, cache.StatusHealthy, health["status"])
}

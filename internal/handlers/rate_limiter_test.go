package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/pmujumdar27/erp-admission/internal/ratelimit"
	"github.com/pmujumdar27/erp-admission/internal/store"
)

type MockLimiterAdmin struct {
	mock.Mock
}

func (m *MockLimiterAdmin) Stats(ctx context.Context) ratelimit.Stats {
	return m.Called(ctx).Get(0).(ratelimit.Stats)
}

func (m *MockLimiterAdmin) Reset(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func (m *MockLimiterAdmin) AddToWhitelist(identity string) error {
	return m.Called(identity).Error(0)
}

func (m *MockLimiterAdmin) RemoveFromWhitelist(identity string) bool {
	return m.Called(identity).Bool(0)
}

func (m *MockLimiterAdmin) Whitelist() []string {
	return m.Called().Get(0).([]string)
}

func (m *MockLimiterAdmin) AddToBlacklist(identity string, d time.Duration) (time.Time, error) {
	args := m.Called(identity, d)
	return args.Get(0).(time.Time), args.Error(1)
}

func (m *MockLimiterAdmin) RemoveFromBlacklist(identity string) bool {
	return m.Called(identity).Bool(0)
}

func (m *MockLimiterAdmin) Blacklist() []ratelimit.BlacklistEntry {
	return m.Called().Get(0).([]ratelimit.BlacklistEntry)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func doJSON(router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func newRateLimitRouter(h *RateLimitHandler) *gin.Engine {
	router := gin.New()
	group := router.Group("/rate-limiter")
	group.GET("/stats", h.Stats)
	group.POST("/whitelist", h.AddToWhitelist)
	group.DELETE("/whitelist/:ip", h.RemoveFromWhitelist)
	group.POST("/blacklist", h.AddToBlacklist)
	group.DELETE("/blacklist/:ip", h.RemoveFromBlacklist)
	group.POST("/reset", h.Reset)
	return router
}

func TestRateLimitHandler_Whitelist(t *testing.T) {
	gin.SetMode(gin.TestMode)

	limiter := &MockLimiterAdmin{}
	limiter.On("AddToWhitelist", "10.0.0.1").Return(nil).Once()
	limiter.On("RemoveFromWhitelist", "10.0.0.1").Return(true).Once()
	limiter.On("RemoveFromWhitelist", "10.0.0.2").Return(false).Once()
	router := newRateLimitRouter(NewRateLimitHandler(limiter, discardLogger()))

	w := doJSON(router, http.MethodPost, "/rate-limiter/whitelist", `{"ip":"10.0.0.1"}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decodeBody(t, w)["success"])

	w = doJSON(router, http.MethodDelete, "/rate-limiter/whitelist/10.0.0.1", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(router, http.MethodDelete, "/rate-limiter/whitelist/10.0.0.2", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, false, decodeBody(t, w)["success"])

	limiter.AssertExpectations(t)
}

func TestRateLimitHandler_MissingIP(t *testing.T) {
	gin.SetMode(gin.TestMode)

	limiter := &MockLimiterAdmin{}
	router := newRateLimitRouter(NewRateLimitHandler(limiter, discardLogger()))

	for _, path := range []string{"/rate-limiter/whitelist", "/rate-limiter/blacklist"} {
		w := doJSON(router, http.MethodPost, path, `{}`)
		assert.Equal(t, http.StatusBadRequest, w.Code, path)
		body := decodeBody(t, w)
		assert.Equal(t, false, body["success"])
		assert.Equal(t, "IP is required", body["error"])
	}

	w := doJSON(router, http.MethodPost, "/rate-limiter/whitelist", `not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	limiter.AssertNotCalled(t, "AddToWhitelist", mock.Anything)
	limiter.AssertNotCalled(t, "AddToBlacklist", mock.Anything, mock.Anything)
}

func TestRateLimitHandler_BlacklistDurations(t *testing.T) {
	gin.SetMode(gin.TestMode)

	until := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		body string
		want time.Duration
	}{
		{name: "default", body: `{"ip":"1.1.1.1"}`, want: DefaultBanDuration},
		{name: "milliseconds", body: `{"ip":"1.1.1.1","duration":60000}`, want: time.Minute},
		{name: "duration string", body: `{"ip":"1.1.1.1","duration":"90m"}`, want: 90 * time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limiter := &MockLimiterAdmin{}
			limiter.On("AddToBlacklist", "1.1.1.1", tt.want).Return(until, nil).Once()
			router := newRateLimitRouter(NewRateLimitHandler(limiter, discardLogger()))

			w := doJSON(router, http.MethodPost, "/rate-limiter/blacklist", tt.body)
			assert.Equal(t, http.StatusOK, w.Code)
			body := decodeBody(t, w)
			assert.Equal(t, "2026-01-01T12:00:00Z", body["until"])
			assert.Equal(t, float64(tt.want.Milliseconds()), body["durationMs"])
			limiter.AssertExpectations(t)
		})
	}
}

func TestRateLimitHandler_InvalidBlacklistDuration(t *testing.T) {
	gin.SetMode(gin.TestMode)

	limiter := &MockLimiterAdmin{}
	router := newRateLimitRouter(NewRateLimitHandler(limiter, discardLogger()))

	for _, body := range []string{
		`{"ip":"1.1.1.1","duration":-5}`,
		`{"ip":"1.1.1.1","duration":"soon"}`,
		`{"ip":"1.1.1.1","duration":[1]}`,
	} {
		w := doJSON(router, http.MethodPost, "/rate-limiter/blacklist", body)
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
		assert.Equal(t, "Invalid duration", decodeBody(t, w)["error"])
	}
}

func TestRateLimitHandler_ResetUnavailable(t *testing.T) {
	gin.SetMode(gin.TestMode)

	limiter := &MockLimiterAdmin{}
	limiter.On("Reset", mock.Anything).Return(0, store.ErrUnavailable).Once()
	router := newRateLimitRouter(NewRateLimitHandler(limiter, discardLogger()))

	w := doJSON(router, http.MethodPost, "/rate-limiter/reset", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, false, body["success"])
	assert.NotContains(t, w.Body.String(), store.ErrUnavailable.Error())
	limiter.AssertExpectations(t)
}

func TestRateLimitHandler_WithEngine(t *testing.T) {
	gin.SetMode(gin.TestMode)

	s := store.NewMemoryStore()
	t.Cleanup(func() { s.Close() })
	engine, err := ratelimit.NewEngine(s, ratelimit.EngineConfig{
		Strategies: ratelimit.Presets(),
		FailOpen:   true,
	}, discardLogger())
	require.NoError(t, err)

	router := newRateLimitRouter(NewRateLimitHandler(engine, discardLogger()))
	ctx := context.Background()

	_, err = engine.Check(ctx, ratelimit.StrategyStandard, "9.9.9.9")
	require.NoError(t, err)

	w := doJSON(router, http.MethodPost, "/rate-limiter/blacklist", `{"ip":"6.6.6.6","duration":"1h"}`)
	require.Equal(t, http.StatusOK, w.Code)

	d, err := engine.Check(ctx, ratelimit.StrategyStandard, "6.6.6.6")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, ratelimit.ReasonBlacklisted, d.Reason)

	w = doJSON(router, http.MethodGet, "/rate-limiter/stats", "")
	require.Equal(t, http.StatusOK, w.Code)
	stats := decodeBody(t, w)["stats"].(map[string]any)
	assert.Equal(t, float64(1), stats["activeKeys"])
	assert.Equal(t, float64(1), stats["blacklisted"])
	assert.Equal(t, float64(1), stats["totalDenied"])

	w = doJSON(router, http.MethodPost, "/rate-limiter/reset", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decodeBody(t, w)["bucketsDeleted"])
	assert.Empty(t, engine.Blacklist())
}

package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/pmujumdar27/erp-admission/internal/ratelimit"
)

// DefaultBanDuration applies when a blacklist request omits duration.
const DefaultBanDuration = time.Hour

// LimiterAdmin is the part of the rate limit engine operators manage.
type LimiterAdmin interface {
	Stats(ctx context.Context) ratelimit.Stats
	Reset(ctx context.Context) (int, error)
	AddToWhitelist(identity string) error
	RemoveFromWhitelist(identity string) bool
	Whitelist() []string
	AddToBlacklist(identity string, d time.Duration) (time.Time, error)
	RemoveFromBlacklist(identity string) bool
	Blacklist() []ratelimit.BlacklistEntry
}

type RateLimitHandler struct {
	limiter LimiterAdmin
	logger  *slog.Logger
}

func NewRateLimitHandler(limiter LimiterAdmin, logger *slog.Logger) *RateLimitHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &RateLimitHandler{
		limiter: limiter,
		logger:  logger,
	}
}

type listRequest struct {
	IP       string          `json:"ip"`
	Duration json.RawMessage `json:"duration"`
}

// banDuration accepts a number of milliseconds or a duration string such as
// "30m".
func banDuration(raw json.RawMessage) (time.Duration, error) {
	if isJSONNull(raw) {
		return DefaultBanDuration, nil
	}

	var d time.Duration
	var ms float64
	var text string
	switch {
	case json.Unmarshal(raw, &ms) == nil:
		d = time.Duration(ms * float64(time.Millisecond))
	case json.Unmarshal(raw, &text) == nil:
		parsed, err := time.ParseDuration(text)
		if err != nil {
			return 0, fmt.Errorf("duration %q: %w", text, err)
		}
		d = parsed
	default:
		return 0, errors.New("duration must be milliseconds or a duration string")
	}

	if d <= 0 {
		return 0, errors.New("duration must be positive")
	}
	return d, nil
}

func (h *RateLimitHandler) Stats(c *gin.Context) {
	ctx, cancel := requestContext(c)
	defer cancel()

	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"stats":     h.limiter.Stats(ctx),
		"whitelist": h.limiter.Whitelist(),
		"blacklist": h.limiter.Blacklist(),
	})
}

func (h *RateLimitHandler) AddToWhitelist(c *gin.Context) {
	var req listRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}
	if req.IP == "" {
		errorResponse(c, http.StatusBadRequest, "IP is required")
		return
	}
	if err := h.limiter.AddToWhitelist(req.IP); err != nil {
		errorResponse(c, http.StatusBadRequest, "Invalid IP", err.Error())
		return
	}

	h.logger.Info("identity whitelisted", "identity", req.IP)
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": fmt.Sprintf("%s added to whitelist", req.IP),
		"ip":      req.IP,
	})
}

func (h *RateLimitHandler) RemoveFromWhitelist(c *gin.Context) {
	ip := c.Param("ip")
	if !h.limiter.RemoveFromWhitelist(ip) {
		errorResponse(c, http.StatusNotFound, "IP not whitelisted")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": fmt.Sprintf("%s removed from whitelist", ip),
		"ip":      ip,
	})
}

func (h *RateLimitHandler) AddToBlacklist(c *gin.Context) {
	var req listRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}
	if req.IP == "" {
		errorResponse(c, http.StatusBadRequest, "IP is required")
		return
	}
	d, err := banDuration(req.Duration)
	if err != nil {
		errorResponse(c, http.StatusBadRequest, "Invalid duration", err.Error())
		return
	}

	until, err := h.limiter.AddToBlacklist(req.IP, d)
	if err != nil {
		errorResponse(c, http.StatusBadRequest, "Invalid blacklist entry", err.Error())
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"message":    fmt.Sprintf("%s added to blacklist", req.IP),
		"ip":         req.IP,
		"durationMs": d.Milliseconds(),
		"until":      until.UTC().Format(time.RFC3339),
	})
}

func (h *RateLimitHandler) RemoveFromBlacklist(c *gin.Context) {
	ip := c.Param("ip")
	if !h.limiter.RemoveFromBlacklist(ip) {
		errorResponse(c, http.StatusNotFound, "IP not blacklisted")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": fmt.Sprintf("%s removed from blacklist", ip),
		"ip":      ip,
	})
}

func (h *RateLimitHandler) Reset(c *gin.Context) {
	ctx, cancel := requestContext(c)
	defer cancel()

	deleted, err := h.limiter.Reset(ctx)
	if err != nil {
		h.logger.Warn("rate limiter reset failed", "deleted", deleted, "error", err)
		errorResponse(c, http.StatusServiceUnavailable, "Rate limit store unavailable")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":        true,
		"bucketsDeleted": deleted,
	})
}

package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/pmujumdar27/erp-admission/internal/auth"
	"github.com/pmujumdar27/erp-admission/internal/ratelimit"
)

const maxIdentityBodyBytes = 64 << 10

type RateLimitConfig struct {
	// RequestInfo extracts what key generators may use. The default reads the
	// client IP, the authenticated principal and, for ip_username rules, the
	// submitted username.
	RequestInfo func(c *gin.Context, rule ratelimit.Rule) ratelimit.RequestInfo

	OnLimitReached func(c *gin.Context, decision ratelimit.Decision)

	// Timeout bounds the store round trip of a single check.
	Timeout time.Duration

	Logger *slog.Logger
}

func defaultRequestInfo(c *gin.Context, rule ratelimit.Rule) ratelimit.RequestInfo {
	info := ratelimit.RequestInfo{IP: c.ClientIP()}
	if p, ok := auth.PrincipalFrom(c); ok {
		info.UserID = p.ID
		info.Username = p.Username
		info.Role = p.Role
	}
	if rule.KeyName == "ip_username" {
		if username := submittedUsername(c); username != "" {
			info.Username = username
		}
	}
	return info
}

// submittedUsername reads the username from a JSON or form body and puts the
// body back for the handler.
func submittedUsername(c *gin.Context) string {
	if c.Request.Body == nil || c.Request.Body == http.NoBody {
		return ""
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxIdentityBodyBytes))
	c.Request.Body = io.NopCloser(io.MultiReader(bytes.NewReader(body), c.Request.Body))
	if err != nil || len(body) == 0 {
		return ""
	}

	contentType := c.ContentType()
	switch {
	case strings.Contains(contentType, "json"):
		var payload struct {
			Username string `json:"username"`
			Email    string `json:"email"`
		}
		if json.Unmarshal(body, &payload) != nil {
			return ""
		}
		if payload.Username != "" {
			return payload.Username
		}
		return payload.Email
	case contentType == "application/x-www-form-urlencoded":
		values, err := url.ParseQuery(string(body))
		if err != nil {
			return ""
		}
		return values.Get("username")
	}
	return ""
}

func defaultOnLimitReached(c *gin.Context, decision ratelimit.Decision) {
	status := http.StatusTooManyRequests
	summary := "Rate limit exceeded"
	if decision.Reason == ratelimit.ReasonStoreUnavailable {
		status = http.StatusServiceUnavailable
		summary = "Service temporarily unavailable"
	}

	c.AbortWithStatusJSON(status, gin.H{
		"success":    false,
		"error":      summary,
		"message":    decision.Message,
		"retryAfter": decision.RetryAfterText,
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
	})
}

// RateLimit admits or rejects each request according to the rule its path
// matches. Requests are counted before the handler runs; once it finishes
// the outcome is reported so strategies that skip successful or failed
// requests can take them back out of the bucket.
func RateLimit(limiter ratelimit.Limiter, routes *ratelimit.RouteTable, config ...*RateLimitConfig) gin.HandlerFunc {
	var cfg *RateLimitConfig
	if len(config) > 0 && config[0] != nil {
		cfg = config[0]
	} else {
		cfg = &RateLimitConfig{}
	}

	if cfg.RequestInfo == nil {
		cfg.RequestInfo = defaultRequestInfo
	}
	if cfg.OnLimitReached == nil {
		cfg.OnLimitReached = defaultOnLimitReached
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return func(c *gin.Context) {
		rule := routes.Match(c.Request.URL.Path)
		info := cfg.RequestInfo(c, rule)
		identity := rule.Key(info)
		if identity == "" {
			identity = info.IP
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), cfg.Timeout)
		decision, err := limiter.Check(ctx, rule.Strategy, identity, info.IP)
		cancel()
		if err != nil {
			cfg.Logger.Error("rate limit check failed",
				"path", c.Request.URL.Path,
				"strategy", rule.Strategy,
				"error", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"success": false,
				"error":   "Rate limiter error",
			})
			return
		}

		setRateLimitHeaders(c, decision)

		if !decision.Allowed {
			cfg.OnLimitReached(c, decision)
			return
		}

		c.Next()

		if !decision.Counted {
			return
		}
		outcome := ratelimit.OutcomeFromStatus(c.Writer.Status())
		ctx, cancel = context.WithTimeout(context.WithoutCancel(c.Request.Context()), cfg.Timeout)
		defer cancel()
		if err := limiter.Report(ctx, decision, identity, outcome); err != nil {
			cfg.Logger.Warn("failed to report request outcome",
				"strategy", rule.Strategy,
				"outcome", outcome.String(),
				"error", err)
		}
	}
}

func setRateLimitHeaders(c *gin.Context, decision ratelimit.Decision) {
	c.Header("X-RateLimit-Limit", strconv.FormatInt(decision.Limit, 10))
	c.Header("X-RateLimit-Remaining", strconv.FormatInt(decision.Remaining, 10))

	resetSeconds := int64(time.Until(decision.ResetAt).Seconds())
	if resetSeconds < 0 {
		resetSeconds = 0
	}
	c.Header("X-RateLimit-Reset", strconv.FormatInt(resetSeconds, 10))

	if !decision.Allowed {
		retryAfterSeconds := int64((decision.RetryAfter + time.Second - 1) / time.Second)
		if retryAfterSeconds < 0 {
			retryAfterSeconds = 0
		}
		c.Header("Retry-After", strconv.FormatInt(retryAfterSeconds, 10))
	}
}

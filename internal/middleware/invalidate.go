package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/pmujumdar27/erp-admission/internal/cache"
)

// InvalidateTags clears cache entries carrying tags after a write request
// succeeds.
func InvalidateTags(manager *cache.Manager, logger *slog.Logger, tags ...string) gin.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}

	return func(c *gin.Context) {
		c.Next()

		switch c.Request.Method {
		case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		default:
			return
		}
		if c.Writer.Status() >= http.StatusBadRequest {
			return
		}

		ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request.Context()), 2*time.Second)
		defer cancel()
		n, err := manager.ClearByTags(ctx, tags)
		if err != nil {
			logger.Warn("failed to invalidate cache after write", "tags", tags, "error", err)
			return
		}
		logger.Debug("invalidated cache after write", "tags", tags, "count", n)
	}
}

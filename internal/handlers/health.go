package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/pmujumdar27/erp-admission/internal/store"
)

// Health reports whether the backing store is serving. A store running on
// its local fallback is degraded but still serving.
func Health(s store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		degraded := false
		if d, ok := s.(store.Degrader); ok {
			degraded = d.Degraded()
		}

		status := "ok"
		code := http.StatusOK
		if err := s.Ping(ctx); err != nil {
			if degraded {
				status = "degraded"
			} else {
				status = "unavailable"
				code = http.StatusServiceUnavailable
			}
		}

		c.JSON(code, gin.H{
			"status":    status,
			"store":     string(s.Kind()),
			"degraded":  degraded,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	}
}

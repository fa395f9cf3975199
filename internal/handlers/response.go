package handlers

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
)

const adminTimeout = 5 * time.Second

// errorResponse writes the error envelope shared by every endpoint.
func errorResponse(c *gin.Context, status int, summary string, details ...string) {
	body := gin.H{
		"success": false,
		"error":   summary,
	}
	if len(details) > 0 && details[0] != "" {
		body["details"] = details[0]
	}
	c.AbortWithStatusJSON(status, body)
}

func requestContext(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), adminTimeout)
}

package auth

import (
	"log/slog"

	"github.com/gin-gonic/gin"
)

// Authenticate attaches the Principal from a valid bearer token. Requests
// without a token, or with an invalid one, continue anonymously.
func Authenticate(jwtManager *JWTManager, logger *slog.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(c *gin.Context) {
		token := bearerToken(c.GetHeader("Authorization"))
		if token == "" {
			c.Next()
			return
		}

		claims, err := jwtManager.Validate(token)
		if err != nil {
			logger.Debug("ignoring invalid bearer token", "path", c.Request.URL.Path, "error", err)
			c.Next()
			return
		}

		c.Set(PrincipalKey, claims.Principal())
		c.Next()
	}
}

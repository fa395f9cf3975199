package auth

import (
	"strings"

	"github.com/gin-gonic/gin"
)

// PrincipalKey is the gin context key holding the authenticated Principal.
const PrincipalKey = "auth.principal"

// Principal is the authenticated caller.
type Principal struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

func PrincipalFrom(c *gin.Context) (Principal, bool) {
	v, ok := c.Get(PrincipalKey)
	if !ok {
		return Principal{}, false
	}
	p, ok := v.(Principal)
	return p, ok
}

func bearerToken(header string) string {
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

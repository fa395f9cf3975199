package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pmujumdar27/erp-admission/internal/auth"
)

type AuthHandler struct {
	authenticator *auth.Authenticator
}

func NewAuthHandler(authenticator *auth.Authenticator) *AuthHandler {
	return &AuthHandler{authenticator: authenticator}
}

type loginRequest struct {
	Username string `json:"username" form:"username"`
	Password string `json:"password" form:"password"`
}

func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBind(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}
	if req.Username == "" || req.Password == "" {
		errorResponse(c, http.StatusBadRequest, "Username and password are required")
		return
	}

	token, principal, err := h.authenticator.Login(req.Username, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			errorResponse(c, http.StatusUnauthorized, "Invalid credentials")
			return
		}
		errorResponse(c, http.StatusInternalServerError, "Login failed")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"token":   token,
		"user":    principal,
	})
}

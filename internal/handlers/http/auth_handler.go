package http

import (
	"net/http"

	"meetkit/internal/core/services"
	"meetkit/internal/infrastructure/middleware"
	"meetkit/pkg/errors"

	"github.com/gin-gonic/gin"
)

// AuthHandler lets an authenticated operator exchange a token for a fresh
// one with the same scopes. Initial tokens are minted offline.
type AuthHandler struct {
	authService services.AuthService
}

func NewAuthHandler(authService services.AuthService) *AuthHandler {
	return &AuthHandler{
		authService: authService,
	}
}

// SetupRoutes expects a group protected by middleware.AuthMiddleware.
func (h *AuthHandler) SetupRoutes(group *gin.RouterGroup) {
	group.POST("/auth/refresh", h.RefreshToken)
}

func (h *AuthHandler) RefreshToken(c *gin.Context) {
	claims, ok := middleware.ClaimsFromContext(c)
	if !ok {
		c.Error(errors.NewUnauthorizedError("authentication required"))
		return
	}

	token, err := h.authService.GenerateToken(claims.Operator, claims.Scopes...)
	if err != nil {
		c.Error(errors.NewInternalError("failed to generate token").WithCause(err))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"access_token": token,
		"operator":     claims.Operator,
		"scopes":       claims.Scopes,
	})
}

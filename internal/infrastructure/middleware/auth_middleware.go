package middleware

import (
	"context"
	stderrors "errors"
	"strings"

	"meetkit/internal/core/services"
	"meetkit/pkg/errors"
	"meetkit/pkg/logger"

	"github.com/gin-gonic/gin"
)

const claimsKey = "claims"

// AuthMiddleware requires a bearer token carrying the given scope. Failures
// are reported through c.Error for ErrorHandlerMiddleware to render.
func AuthMiddleware(authService services.AuthService, required services.Scope) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.Error(errors.NewUnauthorizedError("authorization header required"))
			c.Abort()
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.Error(errors.NewUnauthorizedError("invalid authorization header format"))
			c.Abort()
			return
		}

		claims, err := authService.ValidateToken(parts[1])
		if err != nil {
			message := "invalid token"
			if stderrors.Is(err, services.ErrExpiredToken) {
				message = "token expired"
			}
			c.Error(errors.NewUnauthorizedError(message).WithCause(err))
			c.Abort()
			return
		}

		if err := authService.Authorize(claims, required); err != nil {
			c.Error(errors.NewForbiddenError("insufficient scope").WithContext("required", string(required)))
			c.Abort()
			return
		}

		c.Set(claimsKey, claims)
		c.Request = c.Request.WithContext(context.WithValue(c.Request.Context(), logger.OperatorKey, claims.Operator))
		c.Next()
	}
}

// ClaimsFromContext returns the claims stored by AuthMiddleware.
func ClaimsFromContext(c *gin.Context) (*services.Claims, bool) {
	value, exists := c.Get(claimsKey)
	if !exists {
		return nil, false
	}
	claims, ok := value.(*services.Claims)
	return claims, ok
}

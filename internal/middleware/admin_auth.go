// Package middleware provides HTTP middleware for the Clawcierge API.
// This file gates the operator-only agent management routes with an admin
// JWT, separate from the bearer-credential auth that gates the core
// submit/poll/channel paths.
package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/morioust/clawcierge/internal/auth"
	apperrors "github.com/morioust/clawcierge/internal/errors"
)

// AdminAuth resolves the Authorization header as an admin JWT. Aborts with
// 401 if missing or invalid.
func AdminAuth(manager *auth.JWTManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" || !strings.HasPrefix(header, bearerPrefix) {
			apperrors.AbortWithError(c, apperrors.AuthMissing())
			return
		}

		token := strings.TrimSpace(strings.TrimPrefix(header, bearerPrefix))
		if _, err := manager.ValidateAdminToken(token); err != nil {
			apperrors.AbortWithError(c, apperrors.AuthInvalid())
			return
		}

		c.Next()
	}
}

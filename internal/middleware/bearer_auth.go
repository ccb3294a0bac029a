// Package middleware provides HTTP middleware for the Clawcierge API.
// This file implements bearer-token authentication against the credential
// store.
//
// Clients authenticate with:
//
//	Authorization: Bearer <token>
//
// where <token> is the plaintext returned once at key-generation time.
// The middleware never sees or stores the plaintext beyond this request;
// internal/auth hashes it and looks the hash up in api_keys.
package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/morioust/clawcierge/internal/auth"
	apperrors "github.com/morioust/clawcierge/internal/errors"
	"github.com/morioust/clawcierge/internal/models"
)

const (
	authContextKey = "auth_context"
	bearerPrefix   = "Bearer "
)

// BearerAuth resolves the Authorization header into an AuthContext and
// stores it in the Gin context under authContextKey. Aborts the chain with
// 401 if the header is missing or the token does not resolve.
func BearerAuth(store auth.KeyStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" || !strings.HasPrefix(header, bearerPrefix) {
			apperrors.AbortWithError(c, apperrors.AuthMissing())
			return
		}

		token := strings.TrimSpace(strings.TrimPrefix(header, bearerPrefix))
		authCtx, err := auth.Validate(c.Request.Context(), store, token)
		if err != nil {
			if appErr, ok := err.(*apperrors.AppError); ok {
				apperrors.AbortWithError(c, appErr)
				return
			}
			apperrors.AbortWithError(c, apperrors.InternalServer(err.Error()))
			return
		}

		c.Set(authContextKey, authCtx)
		c.Next()
	}
}

// GetAuthContext retrieves the resolved AuthContext from the Gin context.
// Only meaningful downstream of BearerAuth.
func GetAuthContext(c *gin.Context) *models.AuthContext {
	v, exists := c.Get(authContextKey)
	if !exists {
		return nil
	}
	authCtx, ok := v.(*models.AuthContext)
	if !ok {
		return nil
	}
	return authCtx
}

// RequireOwner aborts with 403 unless the resolved AuthContext's owner_id
// matches ownerID (e.g. a capability or policy upload, where the path's
// agent id must equal the bearer token's owner_id).
func RequireOwner(c *gin.Context, ownerID string) bool {
	authCtx := GetAuthContext(c)
	if authCtx == nil || authCtx.OwnerID != ownerID {
		apperrors.AbortWithError(c, apperrors.NotAuthorized("token does not grant access to this agent"))
		return false
	}
	return true
}

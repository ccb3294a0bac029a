// Package handlers provides HTTP handlers for the Clawcierge API.
// This file implements the thin operator-only admin surface: login, agent
// listing, agent deletion, and minting sender credentials. Out of scope for
// the core dispatch pipeline, kept minimal since a runnable server still
// needs some way to seed sender credentials and police agents.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/morioust/clawcierge/internal/auth"
	"github.com/morioust/clawcierge/internal/db"
	apperrors "github.com/morioust/clawcierge/internal/errors"
	"github.com/morioust/clawcierge/internal/middleware"
	"github.com/morioust/clawcierge/internal/models"
	"github.com/morioust/clawcierge/internal/registry"
	"github.com/morioust/clawcierge/internal/validator"
)

// AdminHandler serves the operator-only agent management routes.
type AdminHandler struct {
	database          *db.Database
	registry          *registry.Registry
	jwtManager        *auth.JWTManager
	adminUsername     string
	adminPasswordHash string
}

// NewAdminHandler wires the persistent store, connection registry, and JWT
// manager behind a single configured operator credential.
func NewAdminHandler(database *db.Database, reg *registry.Registry, jwtManager *auth.JWTManager, adminUsername, adminPasswordHash string) *AdminHandler {
	return &AdminHandler{
		database:          database,
		registry:          reg,
		jwtManager:        jwtManager,
		adminUsername:     adminUsername,
		adminPasswordHash: adminPasswordHash,
	}
}

// RegisterRoutes mounts the admin routes under v1 (already prefixed with
// /v1 by the caller). Login is public; everything else requires the issued
// admin JWT.
func (h *AdminHandler) RegisterRoutes(v1 *gin.RouterGroup) {
	v1.POST("/admin/login", h.Login)

	admin := v1.Group("/admin")
	admin.Use(middleware.AdminAuth(h.jwtManager))
	admin.GET("/agents", h.ListAgents)
	admin.DELETE("/agents/:id", h.DeleteAgent)
	admin.POST("/sender-keys", h.IssueSenderKey)
}

// Login handles POST /v1/admin/login against the single configured operator
// credential.
func (h *AdminHandler) Login(c *gin.Context) {
	var req models.AdminLoginRequest
	if !validator.BindAndValidate(c, &req) {
		return
	}

	if req.Username != h.adminUsername || !auth.ComparePassword(h.adminPasswordHash, req.Password) {
		apperrors.AbortWithError(c, apperrors.AuthInvalid())
		return
	}

	token, err := h.jwtManager.GenerateAdminToken()
	if err != nil {
		apperrors.HandleError(c, apperrors.InternalServer(err.Error()))
		return
	}

	c.JSON(http.StatusOK, models.AdminLoginResponse{
		Token:     token,
		ExpiresIn: int64(h.jwtManager.TokenDuration().Seconds()),
	})
}

// ListAgents handles GET /v1/admin/agents.
func (h *AdminHandler) ListAgents(c *gin.Context) {
	agents, err := h.database.ListAgents(c.Request.Context())
	if err != nil {
		apperrors.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.AdminAgentListResponse{Agents: agents})
}

// DeleteAgent handles DELETE /v1/admin/agents/{id}: removes the agent from
// the persistent store and forcibly closes its channel, if open.
func (h *AdminHandler) DeleteAgent(c *gin.Context) {
	agentID := c.Param("id")

	if err := h.database.DeleteAgent(c.Request.Context(), agentID); err != nil {
		apperrors.HandleError(c, err)
		return
	}
	h.registry.Disconnect(agentID)

	c.JSON(http.StatusOK, SuccessResponse{Message: "agent deleted"})
}

// IssueSenderKey handles POST /v1/admin/sender-keys: mints a bearer
// credential for a sender identity, since senders have no registration
// flow of their own.
func (h *AdminHandler) IssueSenderKey(c *gin.Context) {
	var req models.IssueSenderKeyRequest
	if !validator.BindAndValidate(c, &req) {
		return
	}

	plaintext, _, err := auth.Generate(c.Request.Context(), h.database, models.OwnerTypeSender, req.SenderID, nil, nil)
	if err != nil {
		apperrors.HandleError(c, err)
		return
	}

	c.JSON(http.StatusCreated, models.IssueSenderKeyResponse{
		SenderID: req.SenderID,
		APIKey:   plaintext,
	})
}

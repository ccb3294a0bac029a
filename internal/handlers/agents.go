// Package handlers provides HTTP handlers for the Clawcierge API.
// This file implements agent registration, directory resolve, capability
// and policy upload, and the request submit/poll endpoints — the bit-exact
// HTTP surface built on top of the credential store, persistent store
// adapter, and dispatch orchestrator.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/morioust/clawcierge/internal/auth"
	"github.com/morioust/clawcierge/internal/db"
	apperrors "github.com/morioust/clawcierge/internal/errors"
	"github.com/morioust/clawcierge/internal/middleware"
	"github.com/morioust/clawcierge/internal/models"
	"github.com/morioust/clawcierge/internal/policy"
	"github.com/morioust/clawcierge/internal/sandbox"
	"github.com/morioust/clawcierge/internal/services"
	"github.com/morioust/clawcierge/internal/validator"
)

// AgentHandler serves the agent registry and request submit/poll routes.
type AgentHandler struct {
	database     *db.Database
	dispatcher   *services.Dispatcher
	policyEngine *policy.Engine
}

// NewAgentHandler wires the persistent store, dispatch orchestrator, and the
// policy engine the upload path reuses to compile-check rule conditions
// before they're ever persisted as active.
func NewAgentHandler(database *db.Database, dispatcher *services.Dispatcher, policyEngine *policy.Engine) *AgentHandler {
	return &AgentHandler{database: database, dispatcher: dispatcher, policyEngine: policyEngine}
}

// RegisterRoutes mounts every route this handler serves under v1 (already
// prefixed with /v1 by the caller).
func (h *AgentHandler) RegisterRoutes(v1 *gin.RouterGroup, bearerStore auth.KeyStore) {
	v1.POST("/agents", h.RegisterAgent)
	v1.GET("/agents/:id", h.GetAgent)
	v1.GET("/directory/:handle", h.GetDirectoryEntry)

	authed := v1.Group("")
	authed.Use(middleware.BearerAuth(bearerStore))
	authed.PUT("/agents/:id/capabilities", h.UploadCapabilities)
	authed.PUT("/agents/:id/policies", h.UploadPolicies)
	// Shares the /agents/:id subtree with the routes above, so this uses the
	// same wildcard name even though the path segment is semantically a
	// handle, not an id — gin's router panics on conflicting wildcard names
	// at the same tree position.
	authed.POST("/agents/:id/requests", h.SubmitRequest)
	authed.GET("/requests/:id", h.GetRequestStatus)
}

// RegisterAgent handles POST /v1/agents: creates the agent and handle in
// one transaction, then mints the one-time-visible api key scoped to the
// new agent's own id.
func (h *AgentHandler) RegisterAgent(c *gin.Context) {
	var req models.RegisterAgentRequest
	if !validator.BindAndValidate(c, &req) {
		return
	}
	if !validator.IsValidHandle(req.Handle) {
		apperrors.AbortWithError(c, apperrors.BadInput("handle must be 3-64 chars, lowercase alphanumeric plus '.', not starting or ending with '.'"))
		return
	}

	ctx := c.Request.Context()
	agent, err := h.database.RegisterAgent(ctx, req.DisplayName, req.Handle)
	if err != nil {
		apperrors.HandleError(c, err)
		return
	}

	plaintext, _, err := auth.Generate(ctx, h.database, models.OwnerTypeAgent, agent.ID, nil, nil)
	if err != nil {
		apperrors.HandleError(c, err)
		return
	}

	c.JSON(http.StatusCreated, models.RegisterAgentResponse{
		ID:          agent.ID,
		Handle:      agent.Handle,
		APIKey:      plaintext,
		DisplayName: agent.DisplayName,
		Status:      agent.Status,
	})
}

// GetAgent handles GET /v1/agents/{id-or-handle}.
func (h *AgentHandler) GetAgent(c *gin.Context) {
	idOrHandle := c.Param("id")
	agent, err := h.database.GetAgent(c.Request.Context(), idOrHandle)
	if err != nil {
		apperrors.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, agent)
}

// GetDirectoryEntry handles GET /v1/directory/{handle}.
func (h *AgentHandler) GetDirectoryEntry(c *gin.Context) {
	handle := c.Param("handle")
	ctx := c.Request.Context()

	agent, err := h.database.GetAgentByHandle(ctx, handle)
	if err != nil {
		apperrors.HandleError(c, err)
		return
	}

	contract, err := h.database.GetActiveCapabilityContract(ctx, agent.ID)
	if err != nil {
		apperrors.HandleError(c, err)
		return
	}
	var capabilities models.Capabilities
	if contract != nil {
		capabilities = contract.Capabilities
	}

	c.JSON(http.StatusOK, models.DirectoryEntry{
		AgentID:      agent.ID,
		DisplayName:  agent.DisplayName,
		Handle:       agent.Handle,
		Status:       agent.Status,
		Capabilities: capabilities,
	})
}

// UploadCapabilities handles PUT /v1/agents/{id}/capabilities.
func (h *AgentHandler) UploadCapabilities(c *gin.Context) {
	agentID := c.Param("id")
	if !middleware.RequireOwner(c, agentID) {
		return
	}

	var req models.UploadCapabilitiesRequest
	if !validator.BindAndValidate(c, &req) {
		return
	}
	if err := sandbox.ValidateCapabilities(req.Capabilities); err != nil {
		apperrors.AbortWithError(c, apperrors.BadInput(err.Error()))
		return
	}

	contract, err := h.database.RotateCapabilityContract(c.Request.Context(), agentID, req.Capabilities)
	if err != nil {
		apperrors.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, contract)
}

// UploadPolicies handles PUT /v1/agents/{id}/policies.
func (h *AgentHandler) UploadPolicies(c *gin.Context) {
	agentID := c.Param("id")
	if !middleware.RequireOwner(c, agentID) {
		return
	}

	var req models.UploadPoliciesRequest
	if !validator.BindAndValidate(c, &req) {
		return
	}
	if err := h.policyEngine.ValidateRules(req.Rules); err != nil {
		apperrors.AbortWithError(c, apperrors.BadInput(err.Error()))
		return
	}

	policy, err := h.database.RotatePolicy(c.Request.Context(), agentID, req.Rules)
	if err != nil {
		apperrors.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, policy)
}

// SubmitRequest handles POST /v1/agents/{handle}/requests.
func (h *AgentHandler) SubmitRequest(c *gin.Context) {
	handle := c.Param("id")
	authCtx := middleware.GetAuthContext(c)

	var req models.SubmitRequestRequest
	if !validator.BindAndValidate(c, &req) {
		return
	}

	resp, err := h.dispatcher.Submit(c.Request.Context(), authCtx, handle, req)
	if err != nil {
		apperrors.HandleError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, resp)
}

// GetRequestStatus handles GET /v1/requests/{id}.
func (h *AgentHandler) GetRequestStatus(c *gin.Context) {
	requestID := c.Param("id")
	authCtx := middleware.GetAuthContext(c)

	request, err := h.dispatcher.Poll(c.Request.Context(), authCtx, requestID)
	if err != nil {
		apperrors.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, request)
}

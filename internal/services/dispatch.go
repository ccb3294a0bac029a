// Package services implements the dispatch orchestrator: the glue between
// the credential store, persistent store, pipeline executor, request
// tracker (folded into internal/db's request operations), and connection
// registry for the submit path.
//
// Submit is intentionally synchronous end-to-end: the caller's HTTP request
// blocks until the pipeline has run and the dispatch has either succeeded
// or failed, because the response code itself (202 vs 422 vs 503) depends
// on that outcome. The worker-pool/queue shape used elsewhere in this
// codebase's ancestry for asynchronous command dispatch doesn't fit that
// contract — see DESIGN.md for why it was not reused here.
package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/morioust/clawcierge/internal/db"
	apperrors "github.com/morioust/clawcierge/internal/errors"
	"github.com/morioust/clawcierge/internal/logger"
	"github.com/morioust/clawcierge/internal/models"
	"github.com/morioust/clawcierge/internal/pipeline"
	"github.com/morioust/clawcierge/internal/registry"
)

// Dispatcher composes the submit and poll paths: resolve the handle, run
// the pipeline, hand off to the agent's channel, and let the sender poll
// the result.
type Dispatcher struct {
	database *db.Database
	registry *registry.Registry
	pipeline *pipeline.Executor
	expiry   time.Duration
}

func marshalFrame(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

// NewDispatcher wires the components the submit path needs.
func NewDispatcher(database *db.Database, reg *registry.Registry, exec *pipeline.Executor, requestExpiry time.Duration) *Dispatcher {
	return &Dispatcher{database: database, registry: reg, pipeline: exec, expiry: requestExpiry}
}

// Submit runs the full POST /v1/agents/{handle}/requests flow: resolve the
// handle, load the active contract/policy, run the pipeline, and on a pass
// persist a request and hand it to the agent's channel.
//
// No Request row is created for a pipeline rejection or for an agent that
// is not connected when the pipeline finishes. The row is created before the
// hand-off to the registry; if that hand-off fails, the row is moved to
// "timeout" and AgentNotConnected is returned.
func (d *Dispatcher) Submit(ctx context.Context, authCtx *models.AuthContext, handle string, body models.SubmitRequestRequest) (*models.SubmitRequestResponse, error) {
	agent, err := d.database.GetAgentByHandle(ctx, handle)
	if err != nil {
		return nil, err
	}

	contract, err := d.database.GetActiveCapabilityContract(ctx, agent.ID)
	if err != nil {
		return nil, err
	}
	var capabilities models.Capabilities
	if contract != nil {
		capabilities = contract.Capabilities
	}

	policyRow, err := d.database.GetActivePolicy(ctx, agent.ID)
	if err != nil {
		return nil, err
	}
	var rules models.PolicyRules
	if policyRow != nil {
		rules = policyRow.Rules
	}

	pctx := &models.PipelineContext{
		RequestID:    uuid.New().String(),
		AgentID:      agent.ID,
		SenderID:     authCtx.OwnerID,
		Handle:       handle,
		Action:       body.Action,
		Params:       body.Params,
		PolicyRules:  rules,
		Capabilities: capabilities,
	}

	if err := d.pipeline.Run(pctx); err != nil {
		return nil, err
	}

	if !d.registry.IsConnected(agent.ID) {
		logger.Dispatch().Warn().Str("agent_id", agent.ID).Str("handle", handle).Msg("agent not connected, rejecting submission")
		return nil, apperrors.AgentNotConnected(agent.ID)
	}

	request, err := d.database.CreateRequest(ctx, agent.ID, authCtx.OwnerID, handle, body.Action, body.Params, pctx.Log, d.expiry)
	if err != nil {
		return nil, err
	}

	envelope := models.RequestReceivedFrame{
		Type:      models.FrameRequestReceived,
		RequestID: request.ID,
		Action:    body.Action,
		Params:    body.Params,
		SenderID:  authCtx.OwnerID,
	}
	payload, err := marshalFrame(envelope)
	if err != nil {
		return nil, apperrors.InternalServer(err.Error())
	}

	if !d.registry.Send(agent.ID, payload) {
		// The registry already evicted the stale entry on send failure.
		// Surface this as AgentNotConnected, and move the request to its
		// terminal timeout state rather than leaving it dangling in
		// "pending".
		if err := d.database.UpdateRequestStatus(ctx, request.ID, models.StatusTimeout, nil); err != nil {
			return nil, err
		}
		return nil, apperrors.AgentNotConnected(agent.ID)
	}

	if err := d.database.UpdateRequestStatus(ctx, request.ID, models.StatusDispatched, nil); err != nil {
		return nil, err
	}

	return &models.SubmitRequestResponse{
		ID:         request.ID,
		Status:     models.StatusDispatched,
		ActionType: body.Action,
	}, nil
}

// Poll implements GET /v1/requests/{id}: the caller may only read a
// request it submitted.
func (d *Dispatcher) Poll(ctx context.Context, authCtx *models.AuthContext, requestID string) (*models.Request, error) {
	request, err := d.database.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if request == nil {
		return nil, apperrors.RequestNotFound(requestID)
	}
	if request.SenderID != authCtx.OwnerID {
		return nil, apperrors.NotAuthorized("request does not belong to this caller")
	}
	return request, nil
}

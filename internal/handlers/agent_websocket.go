// Package handlers provides HTTP handlers for the Clawcierge API.
// This file implements the agent channel handler: the per-agent duplex
// WebSocket session — authenticate on open, demultiplex inbound frames to
// the connection registry and request tracker, tear down on close.
//
// State machine:
//
//	CLOSED -> (client opens, token query param present) -> AUTHENTICATING
//	AUTHENTICATING -> valid token bound to this agent -> ACCEPTED
//	AUTHENTICATING -> invalid/mismatched token -> CLOSED (code 4001)
//	ACCEPTED -> register in the connection registry (evicts prior connection); agent -> active -> OPEN
//	OPEN -> receive frame loop
//	OPEN -> fault or peer close -> CLOSING
//	CLOSING -> registry remove, agent -> inactive -> CLOSED
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/morioust/clawcierge/internal/auth"
	"github.com/morioust/clawcierge/internal/db"
	"github.com/morioust/clawcierge/internal/logger"
	"github.com/morioust/clawcierge/internal/models"
	"github.com/morioust/clawcierge/internal/registry"
)

// closeAuthFailed is the application close code used for an
// authentication failure (distinct from the normal 1000 used for
// ordinary teardown and for replace-on-reconnect eviction).
const closeAuthFailed = 4001

// AgentWebSocketHandler upgrades and services the per-agent duplex channel.
type AgentWebSocketHandler struct {
	database          *db.Database
	registry          *registry.Registry
	upgrader          websocket.Upgrader
	maxMessageSize    int64
	heartbeatInterval time.Duration
	heartbeatTimeout  time.Duration
}

// NewAgentWebSocketHandler wires the persistent store and connection
// registry with the configured heartbeat cadence and frame size limit.
func NewAgentWebSocketHandler(database *db.Database, reg *registry.Registry, maxMessageSize int64, heartbeatInterval, heartbeatTimeout time.Duration) *AgentWebSocketHandler {
	return &AgentWebSocketHandler{
		database:          database,
		registry:          reg,
		maxMessageSize:    maxMessageSize,
		heartbeatInterval: heartbeatInterval,
		heartbeatTimeout:  heartbeatTimeout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// HandleConnection handles GET /v1/agents/{id}/ws?token=...
func (h *AgentWebSocketHandler) HandleConnection(c *gin.Context) {
	agentID := c.Param("id")
	token := c.Query("token")

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Channel().Warn().Err(err).Str("agent_id", agentID).Msg("websocket upgrade failed")
		return
	}

	authCtx, err := auth.Validate(c.Request.Context(), h.database, token)
	if err != nil || authCtx.OwnerType != models.OwnerTypeAgent || authCtx.OwnerID != agentID {
		logger.Channel().Warn().Str("agent_id", agentID).Msg("channel authentication failed")
		closeWithCode(conn, closeAuthFailed, "Authentication failed")
		conn.Close()
		return
	}

	conn.SetReadLimit(h.maxMessageSize)

	agentConn := registry.NewConnection(agentID, conn)
	h.registry.Register(agentConn)

	bgCtx := context.Background()
	if err := h.database.SetAgentStatus(bgCtx, agentID, models.AgentStatusActive); err != nil {
		logger.Channel().Error().Err(err).Str("agent_id", agentID).Msg("failed to mark agent active")
	}
	logger.Channel().Info().Str("agent_id", agentID).Msg("agent channel open")

	done := make(chan struct{})
	go h.writePump(agentConn, done)
	h.readPump(agentConn)

	close(done)
	h.registry.Remove(agentID, agentConn)
	if err := h.database.SetAgentStatus(bgCtx, agentID, models.AgentStatusInactive); err != nil {
		logger.Channel().Error().Err(err).Str("agent_id", agentID).Msg("failed to mark agent inactive")
	}
	logger.Channel().Info().Str("agent_id", agentID).Msg("agent channel closed")
}

// writePump is the sole writer of agentConn.Conn: it drains the Send
// channel and emits periodic liveness pings, preserving the single-writer-
// per-socket discipline the registry depends on.
func (h *AgentWebSocketHandler) writePump(agentConn *registry.Connection, done chan struct{}) {
	ticker := time.NewTicker(h.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case message, ok := <-agentConn.Send:
			if !ok {
				return
			}
			if err := agentConn.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			ping, _ := json.Marshal(models.PingFrame{Type: models.FramePing})
			if err := agentConn.Conn.WriteMessage(websocket.TextMessage, ping); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

// readPump owns the blocking receive loop and demultiplexes inbound
// frames. It returns on any read error (peer close, idle timeout, or
// protocol fault), which the caller treats as CLOSING.
func (h *AgentWebSocketHandler) readPump(agentConn *registry.Connection) {
	agentConn.Conn.SetReadDeadline(time.Now().Add(h.heartbeatTimeout))

	for {
		_, raw, err := agentConn.Conn.ReadMessage()
		if err != nil {
			return
		}
		agentConn.Conn.SetReadDeadline(time.Now().Add(h.heartbeatTimeout))
		h.handleFrame(agentConn, raw)
	}
}

// handleFrame decodes one inbound frame and dispatches it. Malformed JSON
// or an unrecognized type is logged and ignored — the session stays open
// to stay forward-compatible with new frame types.
func (h *AgentWebSocketHandler) handleFrame(agentConn *registry.Connection, raw []byte) {
	var envelope models.Envelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		logger.Channel().Warn().Str("agent_id", agentConn.AgentID).Err(err).Msg("malformed frame, ignoring")
		return
	}

	ctx := context.Background()

	switch envelope.Type {
	case models.FrameHeartbeat:
		h.registry.UpdateHeartbeat(agentConn.AgentID)

	case models.FrameAck:
		var frame models.AckFrame
		if err := json.Unmarshal(raw, &frame); err != nil || frame.RequestID == "" {
			logger.Channel().Warn().Str("agent_id", agentConn.AgentID).Msg("malformed ack frame, ignoring")
			return
		}
		if err := h.database.UpdateRequestStatus(ctx, frame.RequestID, models.StatusAcked, nil); err != nil {
			logger.Channel().Error().Err(err).Str("request_id", frame.RequestID).Msg("failed to record ack")
		}

	case models.FrameActionResult:
		var frame models.ActionResultFrame
		if err := json.Unmarshal(raw, &frame); err != nil || frame.RequestID == "" {
			logger.Channel().Warn().Str("agent_id", agentConn.AgentID).Msg("malformed action.result frame, ignoring")
			return
		}
		if frame.Status == models.ActionResultCompleted {
			if err := h.database.UpdateRequestStatus(ctx, frame.RequestID, models.StatusCompleted, frame.Result); err != nil {
				logger.Channel().Error().Err(err).Str("request_id", frame.RequestID).Msg("failed to record completion")
			}
		} else {
			result := models.JSONMap{"error": frame.Error}
			if err := h.database.UpdateRequestStatus(ctx, frame.RequestID, models.StatusRejected, result); err != nil {
				logger.Channel().Error().Err(err).Str("request_id", frame.RequestID).Msg("failed to record rejection")
			}
		}

	default:
		// Unknown frame type: forward-compatible no-op.
	}
}

// closeWithCode sends a close frame with the given application code and
// reason, best-effort (the peer may already be gone).
func closeWithCode(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
}

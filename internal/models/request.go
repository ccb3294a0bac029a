package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// Request status values. Transitions form a DAG: pending -> dispatched ->
// acked -> completed; any non-terminal state may move to rejected or
// timeout. Terminal states are never overwritten.
const (
	StatusPending    = "pending"
	StatusDispatched = "dispatched"
	StatusAcked      = "acked"
	StatusCompleted  = "completed"
	StatusRejected   = "rejected"
	StatusTimeout    = "timeout"
)

// TerminalStatuses is the set of statuses a request never leaves.
var TerminalStatuses = map[string]bool{
	StatusCompleted: true,
	StatusRejected:  true,
	StatusTimeout:   true,
}

// JSONMap is a free-form JSONB-stored object, used for request payloads and
// results.
type JSONMap map[string]interface{}

func (m *JSONMap) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}
	return json.Unmarshal(bytes, m)
}

func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return []byte("null"), nil
	}
	return json.Marshal(m)
}

// StageResult records one enforcement stage's outcome in a request's
// pipeline_log.
type StageResult struct {
	Stage      string `json:"stage"`
	Passed     bool   `json:"passed"`
	Reason     string `json:"reason,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// PipelineLog is the JSONB-stored ordered list of StageResult entries.
type PipelineLog []StageResult

func (p *PipelineLog) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}
	return json.Unmarshal(bytes, p)
}

func (p PipelineLog) Value() (driver.Value, error) {
	return json.Marshal(p)
}

// Request is a unit of work submitted by a sender, correlated by id, with a
// monotonic status lifecycle.
type Request struct {
	ID          string      `json:"id" db:"id"`
	AgentID     string      `json:"agent_id" db:"agent_id"`
	SenderID    string      `json:"sender_id" db:"sender_id"`
	Handle      string      `json:"handle" db:"handle"`
	ActionType  string      `json:"action_type" db:"action_type"`
	Payload     JSONMap     `json:"payload" db:"payload"`
	Status      string      `json:"status" db:"status"`
	Result      JSONMap     `json:"result,omitempty" db:"result"`
	PipelineLog PipelineLog `json:"pipeline_log" db:"pipeline_log"`
	CreatedAt   time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at" db:"updated_at"`
	ExpiresAt   time.Time   `json:"expires_at" db:"expires_at"`
}

// SubmitRequestRequest is the POST /v1/agents/{handle}/requests body.
type SubmitRequestRequest struct {
	Action string  `json:"action" binding:"required"`
	Params JSONMap `json:"params"`
}

// SubmitRequestResponse is the 202 body for a dispatched submission.
type SubmitRequestResponse struct {
	ID         string `json:"id"`
	Status     string `json:"status"`
	ActionType string `json:"action_type"`
}

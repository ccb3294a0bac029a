// Package models defines the core data structures for Clawcierge.
//
// This file covers the registry side of the data model: Agent, Handle,
// CapabilityContract, Policy, and the wire types used to accept them over
// HTTP.
package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// Agent statuses. An agent is inactive until its channel session opens.
const (
	AgentStatusInactive = "inactive"
	AgentStatusActive   = "active"
)

// Agent is a software principal addressable by a handle.
type Agent struct {
	ID          string    `json:"id" db:"id"`
	OwnerID     string    `json:"owner_id" db:"owner_id"`
	DisplayName string    `json:"display_name" db:"display_name"`
	Handle      string    `json:"handle,omitempty" db:"-"`
	Status      string    `json:"status" db:"status"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// CapabilityDescriptor is one entry in a CapabilityContract's payload.
//
// Constraints maps names prefixed max_/min_ to numeric bounds, e.g.
// {"max_duration_minutes": 120}. ParamsSchema is a JSON Schema document
// validated against the request's params at submit time.
type CapabilityDescriptor struct {
	Action       string             `json:"action"`
	ParamsSchema json.RawMessage    `json:"params_schema,omitempty"`
	Constraints  map[string]float64 `json:"constraints,omitempty"`
}

// Capabilities is the JSONB-stored ordered list of capability descriptors.
type Capabilities []CapabilityDescriptor

func (c *Capabilities) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}
	return json.Unmarshal(bytes, c)
}

func (c Capabilities) Value() (driver.Value, error) {
	return json.Marshal(c)
}

// CapabilityContract is the monotonically-versioned set of actions an agent
// accepts. At most one contract per agent is active at a time.
type CapabilityContract struct {
	ID           string       `json:"id" db:"id"`
	AgentID      string       `json:"agent_id" db:"agent_id"`
	Version      int          `json:"version" db:"version"`
	Capabilities Capabilities `json:"capabilities" db:"capabilities"`
	IsActive     bool         `json:"is_active" db:"is_active"`
	CreatedAt    time.Time    `json:"created_at" db:"created_at"`
}

// PolicyRule is one entry in a Policy's payload. When Condition evaluates
// truthy and Action is "reject", the submission is rejected with Reason.
type PolicyRule struct {
	Condition string `json:"condition"`
	Action    string `json:"action"`
	Reason    string `json:"reason,omitempty"`
}

const PolicyActionReject = "reject"
const PolicyActionAllow = "allow"

// PolicyRules is the JSONB-stored ordered list of policy rules.
type PolicyRules []PolicyRule

func (p *PolicyRules) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}
	return json.Unmarshal(bytes, p)
}

func (p PolicyRules) Value() (driver.Value, error) {
	return json.Marshal(p)
}

// Policy is the monotonically-versioned set of rules gating who may invoke
// an agent. At most one policy per agent is active at a time.
type Policy struct {
	ID        string      `json:"id" db:"id"`
	AgentID   string      `json:"agent_id" db:"agent_id"`
	Version   int         `json:"version" db:"version"`
	Rules     PolicyRules `json:"rules" db:"rules"`
	IsActive  bool        `json:"is_active" db:"is_active"`
	CreatedAt time.Time   `json:"created_at" db:"created_at"`
}

// RegisterAgentRequest is the POST /v1/agents body.
type RegisterAgentRequest struct {
	DisplayName string `json:"display_name" binding:"required" validate:"required,min=1,max=255"`
	Handle      string `json:"handle" binding:"required" validate:"required,handle"`
}

// RegisterAgentResponse is the 201 body for agent registration. APIKey is
// the one and only time the plaintext credential is surfaced.
type RegisterAgentResponse struct {
	ID          string `json:"id"`
	Handle      string `json:"handle"`
	APIKey      string `json:"api_key"`
	DisplayName string `json:"display_name"`
	Status      string `json:"status"`
}

// DirectoryEntry is the GET /v1/directory/{handle} body.
type DirectoryEntry struct {
	AgentID      string       `json:"agent_id"`
	DisplayName  string       `json:"display_name"`
	Handle       string       `json:"handle"`
	Status       string       `json:"status"`
	Capabilities Capabilities `json:"capabilities"`
}

// UploadCapabilitiesRequest is the PUT /v1/agents/{id}/capabilities body.
type UploadCapabilitiesRequest struct {
	Capabilities Capabilities `json:"capabilities" binding:"required"`
}

// UploadPoliciesRequest is the PUT /v1/agents/{id}/policies body.
type UploadPoliciesRequest struct {
	Rules PolicyRules `json:"rules" binding:"required"`
}

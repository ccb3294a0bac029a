// This file defines the wire types for the operator-only admin surface:
// login and agent listing/deletion. Not part of the bit-exact agent/sender
// HTTP contract.
package models

// AdminLoginRequest is the POST /v1/admin/login body.
type AdminLoginRequest struct {
	Username string `json:"username" binding:"required" validate:"required"`
	Password string `json:"password" binding:"required" validate:"required"`
}

// AdminLoginResponse carries the issued admin JWT.
type AdminLoginResponse struct {
	Token     string `json:"token"`
	ExpiresIn int64  `json:"expires_in_seconds"`
}

// AdminAgentListResponse is the GET /v1/admin/agents body.
type AdminAgentListResponse struct {
	Agents []*Agent `json:"agents"`
}

// IssueSenderKeyRequest is the POST /v1/admin/sender-keys body: mints a
// bearer credential for a sender identity that has no registration flow
// of its own (senders are not agents and so never call POST /v1/agents).
type IssueSenderKeyRequest struct {
	SenderID string `json:"sender_id" binding:"required" validate:"required,min=1,max=255"`
}

// IssueSenderKeyResponse carries the one-time-visible plaintext credential.
type IssueSenderKeyResponse struct {
	SenderID string `json:"sender_id"`
	APIKey   string `json:"api_key"`
}

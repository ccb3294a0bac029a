package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// Scopes is the JSONB-stored list of scope strings an ApiKey carries.
type Scopes []string

func (s *Scopes) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}
	return json.Unmarshal(bytes, s)
}

func (s Scopes) Value() (driver.Value, error) {
	return json.Marshal(s)
}

// Owner types an ApiKey can be scoped to.
const (
	OwnerTypeAgent  = "agent"
	OwnerTypeSender = "sender"
)

// ApiKey is a bearer credential. Only KeyHash is persisted; the plaintext is
// surfaced exactly once, at creation.
type ApiKey struct {
	ID         string     `json:"id" db:"id"`
	KeyHash    string     `json:"-" db:"key_hash"`
	KeyPrefix  string     `json:"key_prefix" db:"key_prefix"`
	OwnerType  string     `json:"owner_type" db:"owner_type"`
	OwnerID    string     `json:"owner_id" db:"owner_id"`
	Scopes     Scopes     `json:"scopes" db:"scopes"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty" db:"expires_at"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty" db:"revoked_at"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
}

// AuthContext is what a validated bearer credential resolves to.
type AuthContext struct {
	OwnerType string `json:"owner_type"`
	OwnerID   string `json:"owner_id"`
	Scopes    Scopes `json:"scopes"`
	KeyID     string `json:"key_id"`
}

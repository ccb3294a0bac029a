package db

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	apperrors "github.com/morioust/clawcierge/internal/errors"
	"github.com/morioust/clawcierge/internal/models"
)

// RotateCapabilityContract deactivates any currently-active contract for
// agentID and inserts a new one at version = max+1, atomically.
func (d *Database) RotateCapabilityContract(ctx context.Context, agentID string, capabilities models.Capabilities) (*models.CapabilityContract, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, apperrors.DatabaseError(err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE capability_contracts SET is_active = false WHERE agent_id = $1 AND is_active`,
		agentID); err != nil {
		return nil, apperrors.DatabaseError(err)
	}

	var maxVersion sql.NullInt64
	if err := tx.QueryRowContext(ctx,
		`SELECT max(version) FROM capability_contracts WHERE agent_id = $1`, agentID).Scan(&maxVersion); err != nil {
		return nil, apperrors.DatabaseError(err)
	}

	contract := &models.CapabilityContract{
		ID:           uuid.New().String(),
		AgentID:      agentID,
		Version:      int(maxVersion.Int64) + 1,
		Capabilities: capabilities,
		IsActive:     true,
	}

	row := tx.QueryRowContext(ctx,
		`INSERT INTO capability_contracts (id, agent_id, version, capabilities, is_active)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING created_at`,
		contract.ID, contract.AgentID, contract.Version, contract.Capabilities, contract.IsActive)
	if err := row.Scan(&contract.CreatedAt); err != nil {
		return nil, apperrors.DatabaseError(err)
	}

	if err := tx.Commit(); err != nil {
		return nil, apperrors.DatabaseError(err)
	}
	return contract, nil
}

// GetActiveCapabilityContract returns the single active contract for an
// agent, or nil if the agent has never uploaded one.
func (d *Database) GetActiveCapabilityContract(ctx context.Context, agentID string) (*models.CapabilityContract, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT id, agent_id, version, capabilities, is_active, created_at
		 FROM capability_contracts WHERE agent_id = $1 AND is_active`, agentID)

	c := &models.CapabilityContract{}
	err := row.Scan(&c.ID, &c.AgentID, &c.Version, &c.Capabilities, &c.IsActive, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.DatabaseError(err)
	}
	return c, nil
}

package db

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	apperrors "github.com/morioust/clawcierge/internal/errors"
	"github.com/morioust/clawcierge/internal/models"
)

// RotatePolicy deactivates any currently-active policy for agentID and
// inserts a new one at version = max+1, atomically. Same invariants as
// RotateCapabilityContract.
func (d *Database) RotatePolicy(ctx context.Context, agentID string, rules models.PolicyRules) (*models.Policy, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, apperrors.DatabaseError(err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE policies SET is_active = false WHERE agent_id = $1 AND is_active`,
		agentID); err != nil {
		return nil, apperrors.DatabaseError(err)
	}

	var maxVersion sql.NullInt64
	if err := tx.QueryRowContext(ctx,
		`SELECT max(version) FROM policies WHERE agent_id = $1`, agentID).Scan(&maxVersion); err != nil {
		return nil, apperrors.DatabaseError(err)
	}

	policy := &models.Policy{
		ID:       uuid.New().String(),
		AgentID:  agentID,
		Version:  int(maxVersion.Int64) + 1,
		Rules:    rules,
		IsActive: true,
	}

	row := tx.QueryRowContext(ctx,
		`INSERT INTO policies (id, agent_id, version, rules, is_active)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING created_at`,
		policy.ID, policy.AgentID, policy.Version, policy.Rules, policy.IsActive)
	if err := row.Scan(&policy.CreatedAt); err != nil {
		return nil, apperrors.DatabaseError(err)
	}

	if err := tx.Commit(); err != nil {
		return nil, apperrors.DatabaseError(err)
	}
	return policy, nil
}

// GetActivePolicy returns the single active policy for an agent, or nil if
// the agent has never uploaded one.
func (d *Database) GetActivePolicy(ctx context.Context, agentID string) (*models.Policy, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT id, agent_id, version, rules, is_active, created_at
		 FROM policies WHERE agent_id = $1 AND is_active`, agentID)

	p := &models.Policy{}
	err := row.Scan(&p.ID, &p.AgentID, &p.Version, &p.Rules, &p.IsActive, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.DatabaseError(err)
	}
	return p, nil
}

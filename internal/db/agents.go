package db

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/lib/pq"

	apperrors "github.com/morioust/clawcierge/internal/errors"
	"github.com/morioust/clawcierge/internal/models"
)

// pqUniqueViolation is the SQLSTATE lib/pq reports for a unique-key
// conflict.
const pqUniqueViolation = "23505"

// RegisterAgent creates an Agent and reserves its Handle in one transaction.
// A duplicate handle surfaces as errors.HandleTaken. An agent is its own
// owner: owner_id is set to the freshly generated id, since Clawcierge has
// no user-account layer above bearer credentials.
func (d *Database) RegisterAgent(ctx context.Context, displayName, handle string) (*models.Agent, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, apperrors.DatabaseError(err)
	}
	defer tx.Rollback()

	id := uuid.New().String()
	agent := &models.Agent{
		ID:          id,
		OwnerID:     id,
		DisplayName: displayName,
		Handle:      handle,
		Status:      models.AgentStatusInactive,
	}

	row := tx.QueryRowContext(ctx,
		`INSERT INTO agents (id, owner_id, display_name, status)
		 VALUES ($1, $2, $3, $4)
		 RETURNING created_at, updated_at`,
		agent.ID, agent.OwnerID, agent.DisplayName, agent.Status)
	if err := row.Scan(&agent.CreatedAt, &agent.UpdatedAt); err != nil {
		return nil, apperrors.DatabaseError(err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO handles (handle, agent_id) VALUES ($1, $2)`,
		handle, agent.ID); err != nil {
		if pqErr, ok := err.(*pq.Error); ok && string(pqErr.Code) == pqUniqueViolation {
			return nil, apperrors.HandleTaken(handle)
		}
		return nil, apperrors.DatabaseError(err)
	}

	if err := tx.Commit(); err != nil {
		return nil, apperrors.DatabaseError(err)
	}

	return agent, nil
}

// scanAgent scans a row joined against handles into an Agent, tolerating a
// NULL handle (an agent whose handle was never reserved, which the registry
// invariant otherwise disallows but a defensive scan still handles).
func scanAgent(row interface {
	Scan(dest ...interface{}) error
}) (*models.Agent, error) {
	a := &models.Agent{}
	var handle sql.NullString
	if err := row.Scan(&a.ID, &a.OwnerID, &a.DisplayName, &a.Status, &a.CreatedAt, &a.UpdatedAt, &handle); err != nil {
		return nil, err
	}
	a.Handle = handle.String
	return a, nil
}

const agentSelect = `
	SELECT a.id, a.owner_id, a.display_name, a.status, a.created_at, a.updated_at, h.handle
	FROM agents a
	LEFT JOIN handles h ON h.agent_id = a.id`

// GetAgentByID loads an agent by its UUID.
func (d *Database) GetAgentByID(ctx context.Context, id string) (*models.Agent, error) {
	row := d.db.QueryRowContext(ctx, agentSelect+" WHERE a.id = $1", id)
	agent, err := scanAgent(row)
	if err == sql.ErrNoRows {
		return nil, apperrors.AgentNotFound(id)
	}
	if err != nil {
		return nil, apperrors.DatabaseError(err)
	}
	return agent, nil
}

// GetAgentByHandle loads an agent by its handle.
func (d *Database) GetAgentByHandle(ctx context.Context, handle string) (*models.Agent, error) {
	row := d.db.QueryRowContext(ctx, agentSelect+" WHERE h.handle = $1", handle)
	agent, err := scanAgent(row)
	if err == sql.ErrNoRows {
		return nil, apperrors.AgentNotFound(handle)
	}
	if err != nil {
		return nil, apperrors.DatabaseError(err)
	}
	return agent, nil
}

// GetAgent resolves a path segment that may be a UUID or a handle, trying
// UUID first and falling back to handle lookup, per the directory/detail
// route's documented behavior.
func (d *Database) GetAgent(ctx context.Context, idOrHandle string) (*models.Agent, error) {
	if _, err := uuid.Parse(idOrHandle); err == nil {
		return d.GetAgentByID(ctx, idOrHandle)
	}
	return d.GetAgentByHandle(ctx, idOrHandle)
}

// ListAgents returns every registered agent, most recently created first.
// Used by the operator-only admin listing.
func (d *Database) ListAgents(ctx context.Context) ([]*models.Agent, error) {
	rows, err := d.db.QueryContext(ctx, agentSelect+" ORDER BY a.created_at DESC")
	if err != nil {
		return nil, apperrors.DatabaseError(err)
	}
	defer rows.Close()

	agents := []*models.Agent{}
	for rows.Next() {
		agent, err := scanAgent(rows)
		if err != nil {
			return nil, apperrors.DatabaseError(err)
		}
		agents = append(agents, agent)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.DatabaseError(err)
	}
	return agents, nil
}

// SetAgentStatus updates an agent's status, used by the channel handler on
// session open/close.
func (d *Database) SetAgentStatus(ctx context.Context, agentID, status string) error {
	res, err := d.db.ExecContext(ctx,
		`UPDATE agents SET status = $1, updated_at = now() WHERE id = $2`, status, agentID)
	if err != nil {
		return apperrors.DatabaseError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apperrors.DatabaseError(err)
	}
	if n == 0 {
		return apperrors.AgentNotFound(agentID)
	}
	return nil
}

// DeleteAgent removes an agent and, via ON DELETE CASCADE, its handle,
// contracts, policies, and requests.
func (d *Database) DeleteAgent(ctx context.Context, agentID string) error {
	res, err := d.db.ExecContext(ctx, `DELETE FROM agents WHERE id = $1`, agentID)
	if err != nil {
		return apperrors.DatabaseError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apperrors.DatabaseError(err)
	}
	if n == 0 {
		return apperrors.AgentNotFound(agentID)
	}
	return nil
}

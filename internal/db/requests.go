package db

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/morioust/clawcierge/internal/errors"
	"github.com/morioust/clawcierge/internal/models"
)

// terminalStatusList renders models.TerminalStatuses as a quoted SQL list
// once at init, so the monotonicity guard below stays in sync with the
// status DAG defined on models.Request instead of duplicating it.
var terminalStatusList = func() string {
	names := make([]string, 0, len(models.TerminalStatuses))
	for status := range models.TerminalStatuses {
		names = append(names, fmt.Sprintf("'%s'", status))
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}()

// CreateRequest inserts a pending Request row with expires_at = now +
// expiry. Returns the inserted Request, which carries the generated id.
func (d *Database) CreateRequest(ctx context.Context, agentID, senderID, handle, action string, payload models.JSONMap, pipelineLog models.PipelineLog, expiry time.Duration) (*models.Request, error) {
	now := time.Now().UTC()
	req := &models.Request{
		ID:          uuid.New().String(),
		AgentID:     agentID,
		SenderID:    senderID,
		Handle:      handle,
		ActionType:  action,
		Payload:     payload,
		Status:      models.StatusPending,
		PipelineLog: pipelineLog,
		CreatedAt:   now,
		UpdatedAt:   now,
		ExpiresAt:   now.Add(expiry),
	}

	_, err := d.db.ExecContext(ctx,
		`INSERT INTO requests (id, agent_id, sender_id, handle, action_type, payload, status, pipeline_log, created_at, updated_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		req.ID, req.AgentID, req.SenderID, req.Handle, req.ActionType, req.Payload,
		req.Status, req.PipelineLog, req.CreatedAt, req.UpdatedAt, req.ExpiresAt)
	if err != nil {
		return nil, apperrors.DatabaseError(err)
	}
	return req, nil
}

// UpdateRequestStatus persists a new status (and, when supplied, a result).
// The tracker layer is responsible for only calling this with legal status
// transitions; this layer does not validate the transition itself, but it
// does guard status monotonicity at the row level — the WHERE clause
// excludes rows already in a terminal state, so a late or duplicate agent
// frame can never overwrite a completed/rejected/timeout row.
func (d *Database) UpdateRequestStatus(ctx context.Context, id, status string, result models.JSONMap) error {
	var err error
	if result != nil {
		_, err = d.db.ExecContext(ctx,
			fmt.Sprintf(`UPDATE requests SET status = $1, result = $2, updated_at = now()
			 WHERE id = $3 AND status NOT IN (%s)`, terminalStatusList),
			status, result, id)
	} else {
		_, err = d.db.ExecContext(ctx,
			fmt.Sprintf(`UPDATE requests SET status = $1, updated_at = now()
			 WHERE id = $2 AND status NOT IN (%s)`, terminalStatusList),
			status, id)
	}
	if err != nil {
		return apperrors.DatabaseError(err)
	}
	return nil
}

// GetRequest loads a request by id.
func (d *Database) GetRequest(ctx context.Context, id string) (*models.Request, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT id, agent_id, sender_id, handle, action_type, payload, status, result, pipeline_log, created_at, updated_at, expires_at
		 FROM requests WHERE id = $1`, id)

	r := &models.Request{}
	err := row.Scan(&r.ID, &r.AgentID, &r.SenderID, &r.Handle, &r.ActionType, &r.Payload,
		&r.Status, &r.Result, &r.PipelineLog, &r.CreatedAt, &r.UpdatedAt, &r.ExpiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.DatabaseError(err)
	}
	return r, nil
}

// ExpireStaleRequests sets status="timeout" for every non-terminal request
// past its expires_at. Returns the number of rows affected.
func (d *Database) ExpireStaleRequests(ctx context.Context) (int64, error) {
	res, err := d.db.ExecContext(ctx,
		`UPDATE requests SET status = $1, updated_at = now()
		 WHERE status IN ($2, $3) AND expires_at < now()`,
		models.StatusTimeout, models.StatusPending, models.StatusDispatched)
	if err != nil {
		return 0, apperrors.DatabaseError(err)
	}
	return res.RowsAffected()
}

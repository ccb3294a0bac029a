package db

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/morioust/clawcierge/internal/errors"
	"github.com/morioust/clawcierge/internal/models"
)

func setupAgentsTest(t *testing.T) (*Database, sqlmock.Sqlmock, func()) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	return NewDatabaseForTesting(mockDB), mock, func() { mockDB.Close() }
}

// TestRegisterAgent_HandleConflict surfaces a unique-constraint violation
// on the handles table as HandleTaken, not a raw database error.
func TestRegisterAgent_HandleConflict(t *testing.T) {
	database, mock, cleanup := setupAgentsTest(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO agents`).
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(time.Now(), time.Now()))
	mock.ExpectExec(`INSERT INTO handles`).
		WillReturnError(&pq.Error{Code: pqUniqueViolation})
	mock.ExpectRollback()

	_, err := database.RegisterAgent(context.Background(), "Pink Agent", "pink")

	require.Error(t, err)
	appErr, ok := err.(*apperrors.AppError)
	require.True(t, ok)
	assert.Equal(t, apperrors.ErrCodeHandleTaken, appErr.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// TestRegisterAgent_Success commits the transaction and returns an
// inactive agent whose owner_id is its own freshly generated id.
func TestRegisterAgent_Success(t *testing.T) {
	database, mock, cleanup := setupAgentsTest(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO agents`).
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(time.Now(), time.Now()))
	mock.ExpectExec(`INSERT INTO handles`).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	agent, err := database.RegisterAgent(context.Background(), "Pink Agent", "pink")

	require.NoError(t, err)
	assert.Equal(t, agent.ID, agent.OwnerID)
	assert.Equal(t, models.AgentStatusInactive, agent.Status)
	assert.Equal(t, "pink", agent.Handle)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// TestGetAgent_TriesUUIDFirst resolves a UUID-shaped path segment via the
// by-id lookup rather than the handle lookup.
func TestGetAgent_TriesUUIDFirst(t *testing.T) {
	database, mock, cleanup := setupAgentsTest(t)
	defer cleanup()

	id := "11111111-1111-1111-1111-111111111111"
	mock.ExpectQuery(`WHERE a.id = \$1`).WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"id", "owner_id", "display_name", "status", "created_at", "updated_at", "handle"}).
			AddRow(id, id, "Agent", models.AgentStatusActive, time.Now(), time.Now(), "pink"))

	agent, err := database.GetAgent(context.Background(), id)

	require.NoError(t, err)
	assert.Equal(t, id, agent.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// TestGetAgent_FallsBackToHandle resolves a non-UUID path segment via the
// handle lookup.
func TestGetAgent_FallsBackToHandle(t *testing.T) {
	database, mock, cleanup := setupAgentsTest(t)
	defer cleanup()

	mock.ExpectQuery(`WHERE h.handle = \$1`).WithArgs("pink").
		WillReturnRows(sqlmock.NewRows([]string{"id", "owner_id", "display_name", "status", "created_at", "updated_at", "handle"}).
			AddRow("agent-1", "agent-1", "Agent", models.AgentStatusActive, time.Now(), time.Now(), "pink"))

	agent, err := database.GetAgent(context.Background(), "pink")

	require.NoError(t, err)
	assert.Equal(t, "agent-1", agent.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// TestSetAgentStatus_NotFound reports AgentNotFound when no row matched,
// rather than silently succeeding.
func TestSetAgentStatus_NotFound(t *testing.T) {
	database, mock, cleanup := setupAgentsTest(t)
	defer cleanup()

	mock.ExpectExec(`UPDATE agents SET status`).
		WithArgs(models.AgentStatusActive, "missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := database.SetAgentStatus(context.Background(), "missing", models.AgentStatusActive)

	require.Error(t, err)
	appErr, ok := err.(*apperrors.AppError)
	require.True(t, ok)
	assert.Equal(t, apperrors.ErrCodeAgentNotFound, appErr.Code)
}

// TestDeleteAgent_NotFound reports AgentNotFound when no row matched.
func TestDeleteAgent_NotFound(t *testing.T) {
	database, mock, cleanup := setupAgentsTest(t)
	defer cleanup()

	mock.ExpectExec(`DELETE FROM agents`).WithArgs("missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := database.DeleteAgent(context.Background(), "missing")

	require.Error(t, err)
	appErr, ok := err.(*apperrors.AppError)
	require.True(t, ok)
	assert.Equal(t, apperrors.ErrCodeAgentNotFound, appErr.Code)
}

package services

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/morioust/clawcierge/internal/db"
	apperrors "github.com/morioust/clawcierge/internal/errors"
	"github.com/morioust/clawcierge/internal/models"
	"github.com/morioust/clawcierge/internal/pipeline"
	"github.com/morioust/clawcierge/internal/policy"
	"github.com/morioust/clawcierge/internal/registry"
	"github.com/morioust/clawcierge/internal/sandbox"
)

func setupDispatchTest(t *testing.T) (*Dispatcher, *db.Database, sqlmock.Sqlmock, *registry.Registry, func()) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)

	database := db.NewDatabaseForTesting(mockDB)

	engine, err := policy.NewEngine()
	require.NoError(t, err)
	exec := pipeline.NewExecutor(engine, sandbox.New(), time.Second)
	reg := registry.New()

	dispatcher := NewDispatcher(database, reg, exec, 5*time.Minute)
	return dispatcher, database, mock, reg, func() { mockDB.Close() }
}

func agentRow(id, handle string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "owner_id", "display_name", "status", "created_at", "updated_at", "handle"}).
		AddRow(id, id, "Agent", models.AgentStatusActive, time.Now(), time.Now(), handle)
}

// TestSubmit_Success exercises the full pass path: agent resolves, the
// active contract declares "echo" with no schema or constraints, there is
// no policy (an empty rule list passes), the agent is connected, and the
// request lands in "dispatched".
func TestSubmit_Success(t *testing.T) {
	dispatcher, database, mock, reg, cleanup := setupDispatchTest(t)
	defer cleanup()

	mock.ExpectQuery(`SELECT a.id, a.owner_id`).WithArgs("pink").WillReturnRows(agentRow("agent-1", "pink"))
	mock.ExpectQuery(`SELECT id, agent_id, version, capabilities`).WithArgs("agent-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "agent_id", "version", "capabilities", "is_active", "created_at"}).
			AddRow("contract-1", "agent-1", 1, models.Capabilities{{Action: "echo"}}, true, time.Now()))
	mock.ExpectQuery(`SELECT id, agent_id, version, rules`).WithArgs("agent-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "agent_id", "version", "rules", "is_active", "created_at"}))
	mock.ExpectExec(`INSERT INTO requests`).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`UPDATE requests SET status = \$1, updated_at = now\(\)\s+WHERE id = \$2 AND status NOT IN`).
		WithArgs(models.StatusDispatched, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	reg.Register(registry.NewConnection("agent-1", nil))

	resp, err := dispatcher.Submit(context.Background(), &models.AuthContext{OwnerID: "sender-1"}, "pink",
		models.SubmitRequestRequest{Action: "echo", Params: models.JSONMap{"message": "hi"}})

	require.NoError(t, err)
	assert.Equal(t, models.StatusDispatched, resp.Status)
	_ = database
	assert.NoError(t, mock.ExpectationsWereMet())
}

// TestSubmit_AgentNotFound propagates the lookup miss without ever
// touching the pipeline or registry.
func TestSubmit_AgentNotFound(t *testing.T) {
	dispatcher, _, mock, _, cleanup := setupDispatchTest(t)
	defer cleanup()

	mock.ExpectQuery(`SELECT a.id, a.owner_id`).WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"id", "owner_id", "display_name", "status", "created_at", "updated_at", "handle"}))

	_, err := dispatcher.Submit(context.Background(), &models.AuthContext{OwnerID: "sender-1"}, "ghost",
		models.SubmitRequestRequest{Action: "echo"})

	require.Error(t, err)
	appErr, ok := err.(*apperrors.AppError)
	require.True(t, ok)
	assert.Equal(t, 404, appErr.StatusCode)
}

// TestSubmit_RejectedByCapabilitySandbox: an action outside the agent's
// capability contract is rejected before any Request row is created.
func TestSubmit_RejectedByCapabilitySandbox(t *testing.T) {
	dispatcher, _, mock, _, cleanup := setupDispatchTest(t)
	defer cleanup()

	mock.ExpectQuery(`SELECT a.id, a.owner_id`).WithArgs("pink").WillReturnRows(agentRow("agent-1", "pink"))
	mock.ExpectQuery(`SELECT id, agent_id, version, capabilities`).WithArgs("agent-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "agent_id", "version", "capabilities", "is_active", "created_at"}).
			AddRow("contract-1", "agent-1", 1, models.Capabilities{{Action: "echo"}}, true, time.Now()))
	mock.ExpectQuery(`SELECT id, agent_id, version, rules`).WithArgs("agent-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "agent_id", "version", "rules", "is_active", "created_at"}))

	_, err := dispatcher.Submit(context.Background(), &models.AuthContext{OwnerID: "sender-1"}, "pink",
		models.SubmitRequestRequest{Action: "delete_everything"})

	require.Error(t, err)
	appErr, ok := err.(*apperrors.AppError)
	require.True(t, ok)
	assert.Equal(t, 422, appErr.StatusCode)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// TestSubmit_AgentNotConnected: a pipeline pass with no live channel never
// creates a Request row and surfaces AgentNotConnected.
func TestSubmit_AgentNotConnected(t *testing.T) {
	dispatcher, _, mock, _, cleanup := setupDispatchTest(t)
	defer cleanup()

	mock.ExpectQuery(`SELECT a.id, a.owner_id`).WithArgs("pink").WillReturnRows(agentRow("agent-1", "pink"))
	mock.ExpectQuery(`SELECT id, agent_id, version, capabilities`).WithArgs("agent-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "agent_id", "version", "capabilities", "is_active", "created_at"}).
			AddRow("contract-1", "agent-1", 1, models.Capabilities{{Action: "echo"}}, true, time.Now()))
	mock.ExpectQuery(`SELECT id, agent_id, version, rules`).WithArgs("agent-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "agent_id", "version", "rules", "is_active", "created_at"}))

	_, err := dispatcher.Submit(context.Background(), &models.AuthContext{OwnerID: "sender-1"}, "pink",
		models.SubmitRequestRequest{Action: "echo", Params: models.JSONMap{"message": "hi"}})

	require.Error(t, err)
	appErr, ok := err.(*apperrors.AppError)
	require.True(t, ok)
	assert.Equal(t, 503, appErr.StatusCode)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// TestPoll_WrongOwnerRejected: a caller may only poll a request it
// submitted, even if it knows the request id.
func TestPoll_WrongOwnerRejected(t *testing.T) {
	dispatcher, _, mock, _, cleanup := setupDispatchTest(t)
	defer cleanup()

	mock.ExpectQuery(`SELECT id, agent_id, sender_id`).WillReturnRows(sqlmock.NewRows([]string{
		"id", "agent_id", "sender_id", "handle", "action_type", "payload", "status",
		"result", "pipeline_log", "created_at", "updated_at", "expires_at",
	}).AddRow("req-1", "agent-1", "sender-owner", "pink", "echo", models.JSONMap{}, models.StatusDispatched,
		nil, models.PipelineLog{}, time.Now(), time.Now(), time.Now().Add(time.Minute)))

	_, err := dispatcher.Poll(context.Background(), &models.AuthContext{OwnerID: "someone-else"}, "req-1")

	require.Error(t, err)
	appErr, ok := err.(*apperrors.AppError)
	require.True(t, ok)
	assert.Equal(t, 403, appErr.StatusCode)
}

package db

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/morioust/clawcierge/internal/models"
)

func setupRequestsTest(t *testing.T) (*Database, sqlmock.Sqlmock, func()) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	return NewDatabaseForTesting(mockDB), mock, func() { mockDB.Close() }
}

// TestCreateRequest_SetsPendingAndExpiry exercises the tracker's create op:
// a freshly created row is always "pending" with expires_at derived from
// the configured request expiry.
func TestCreateRequest_SetsPendingAndExpiry(t *testing.T) {
	database, mock, cleanup := setupRequestsTest(t)
	defer cleanup()

	mock.ExpectExec(`INSERT INTO requests`).WillReturnResult(sqlmock.NewResult(1, 1))

	req, err := database.CreateRequest(context.Background(), "agent-1", "sender-1", "pink", "echo",
		models.JSONMap{"message": "hi"}, models.PipelineLog{{Stage: "policy_engine", Passed: true}}, 5*time.Minute)

	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, req.Status)
	assert.WithinDuration(t, req.CreatedAt.Add(5*time.Minute), req.ExpiresAt, time.Second)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// TestUpdateRequestStatus_MonotonicityGuard exercises the terminal-state
// guard: a row already in a terminal state is excluded from the UPDATE's
// WHERE clause, so a late or duplicate frame can never overwrite it.
func TestUpdateRequestStatus_MonotonicityGuard(t *testing.T) {
	database, mock, cleanup := setupRequestsTest(t)
	defer cleanup()

	// Row is already "completed"; the guarded WHERE excludes it, so the
	// exec reports zero rows affected — the store does not error, but it
	// also does not move the row.
	mock.ExpectExec(`UPDATE requests SET status = \$1, updated_at = now\(\)\s+WHERE id = \$2 AND status NOT IN`).
		WithArgs(models.StatusRejected, "req-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := database.UpdateRequestStatus(context.Background(), "req-1", models.StatusRejected, nil)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// TestUpdateRequestStatus_WithResult exercises the result-carrying branch
// used by action.result frames that complete or reject a request.
func TestUpdateRequestStatus_WithResult(t *testing.T) {
	database, mock, cleanup := setupRequestsTest(t)
	defer cleanup()

	mock.ExpectExec(`UPDATE requests SET status = \$1, result = \$2, updated_at = now\(\)\s+WHERE id = \$3 AND status NOT IN`).
		WithArgs(models.StatusCompleted, sqlmock.AnyArg(), "req-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := database.UpdateRequestStatus(context.Background(), "req-1", models.StatusCompleted, models.JSONMap{"echo": "hi"})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// TestGetRequest_NotFound exercises the nil-nil miss contract GetRequest
// uses so handlers can distinguish "not found" from a transport error.
func TestGetRequest_NotFound(t *testing.T) {
	database, mock, cleanup := setupRequestsTest(t)
	defer cleanup()

	mock.ExpectQuery(`SELECT id, agent_id, sender_id`).WillReturnRows(sqlmock.NewRows([]string{
		"id", "agent_id", "sender_id", "handle", "action_type", "payload", "status",
		"result", "pipeline_log", "created_at", "updated_at", "expires_at",
	}))

	req, err := database.GetRequest(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, req)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// TestExpireStaleRequests_ReturnsCount exercises expire_stale: it targets
// only pending/dispatched rows past their expiry and reports how many it
// moved to "timeout".
func TestExpireStaleRequests_ReturnsCount(t *testing.T) {
	database, mock, cleanup := setupRequestsTest(t)
	defer cleanup()

	mock.ExpectExec(`UPDATE requests SET status = \$1, updated_at = now\(\)\s+WHERE status IN \(\$2, \$3\) AND expires_at < now\(\)`).
		WithArgs(models.StatusTimeout, models.StatusPending, models.StatusDispatched).
		WillReturnResult(sqlmock.NewResult(0, 3))

	count, err := database.ExpireStaleRequests(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

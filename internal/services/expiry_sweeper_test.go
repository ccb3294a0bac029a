package services

import (
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/morioust/clawcierge/internal/db"
	"github.com/morioust/clawcierge/internal/models"
)

// TestExpirySweeper_StartInvokesSweepOnSchedule confirms the cron-driven
// sweep actually calls through to expire_stale on its schedule, not just
// that the scheduler starts without error.
func TestExpirySweeper_StartInvokesSweepOnSchedule(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()

	database := db.NewDatabaseForTesting(mockDB)
	mock.ExpectExec(`UPDATE requests SET status = \$1, updated_at = now\(\)\s+WHERE status IN \(\$2, \$3\) AND expires_at < now\(\)`).
		WithArgs(models.StatusTimeout, models.StatusPending, models.StatusDispatched).
		WillReturnResult(sqlmock.NewResult(0, 0))

	sweeper := NewExpirySweeper(database)
	require.NoError(t, sweeper.Start(50*time.Millisecond))
	defer sweeper.Stop()

	require.Eventually(t, func() bool {
		return mock.ExpectationsWereMet() == nil
	}, time.Second, 10*time.Millisecond)
}

// TestExpirySweeper_StopBeforeFirstSweep starts a sweeper whose first
// sweep is an hour away and confirms Stop returns without hanging.
func TestExpirySweeper_StopBeforeFirstSweep(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()

	database := db.NewDatabaseForTesting(mockDB)
	mock.MatchExpectationsInOrder(false)
	mock.ExpectExec(`UPDATE requests`).WillReturnResult(sqlmock.NewResult(0, 0))

	sweeper := NewExpirySweeper(database)
	require.NoError(t, sweeper.Start(time.Hour))
	sweeper.Stop()
}

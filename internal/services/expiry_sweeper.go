package services

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/morioust/clawcierge/internal/db"
	"github.com/morioust/clawcierge/internal/logger"
)

// ExpirySweeper runs the request tracker's expire_stale operation on a
// schedule. expire_stale may equally be invoked on demand, but a runnable
// server needs something driving it, and robfig/cron is already part of the ambient
// stack.
type ExpirySweeper struct {
	database *db.Database
	cron     *cron.Cron
}

// NewExpirySweeper builds a sweeper that has not yet been started.
func NewExpirySweeper(database *db.Database) *ExpirySweeper {
	return &ExpirySweeper{
		database: database,
		cron:     cron.New(),
	}
}

// Start schedules the sweep to run every interval and begins the cron
// scheduler's own goroutine.
func (s *ExpirySweeper) Start(interval time.Duration) error {
	spec := "@every " + interval.String()
	_, err := s.cron.AddFunc(spec, s.sweep)
	if err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

// Stop halts the scheduler, waiting for any in-flight sweep to finish.
func (s *ExpirySweeper) Stop() {
	<-s.cron.Stop().Done()
}

func (s *ExpirySweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	count, err := s.database.ExpireStaleRequests(ctx)
	if err != nil {
		logger.Dispatch().Error().Err(err).Msg("expire_stale sweep failed")
		return
	}
	if count > 0 {
		logger.Dispatch().Info().Int64("count", count).Msg("expired stale requests")
	}
}

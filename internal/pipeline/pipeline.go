// Package pipeline implements the pipeline executor: it runs a fixed,
// ordered sequence of enforcement stages against a submission, enforcing a
// per-stage timeout and halting on the first rejection.
//
// Stage order is static: policy_engine, then capability_sandbox. A stage
// that times out or panics fails the request closed, the same as an
// explicit rejection — the pipeline never lets an unresponsive stage let a
// request through.
package pipeline

import (
	"fmt"
	"time"

	apperrors "github.com/morioust/clawcierge/internal/errors"
	"github.com/morioust/clawcierge/internal/logger"
	"github.com/morioust/clawcierge/internal/models"
	"github.com/morioust/clawcierge/internal/policy"
	"github.com/morioust/clawcierge/internal/sandbox"
)

// Stage is one enforcement check the pipeline runs in order.
type Stage struct {
	Name string
	Run  func(pctx *models.PipelineContext) error
}

// Executor runs the fixed stage list with a shared per-stage timeout.
type Executor struct {
	stages  []Stage
	timeout time.Duration
}

// NewExecutor wires the policy engine and capability sandbox into the
// static stage order, with the given per-stage timeout.
func NewExecutor(engine *policy.Engine, sb *sandbox.Sandbox, stageTimeout time.Duration) *Executor {
	return &Executor{
		stages: []Stage{
			{Name: policy.StageName, Run: engine.Evaluate},
			{Name: sandbox.StageName, Run: sb.Check},
		},
		timeout: stageTimeout,
	}
}

// Run executes every stage against pctx in order, recording a StageResult
// for each. It returns the first rejection encountered, or nil if every
// stage passed.
func (e *Executor) Run(pctx *models.PipelineContext) error {
	for _, stage := range e.stages {
		start := time.Now()
		err := e.runStage(stage, pctx)
		elapsed := time.Since(start).Milliseconds()

		if err != nil {
			appErr, ok := err.(*apperrors.AppError)
			reason := err.Error()
			if ok {
				reason = appErr.Reason
			}
			pctx.Reject(stage.Name, reason, elapsed)
			logger.Pipeline().Info().
				Str("request_id", pctx.RequestID).
				Str("stage", stage.Name).
				Str("reason", reason).
				Msg("pipeline stage rejected request")
			return err
		}

		pctx.Pass(stage.Name, elapsed)
	}
	return nil
}

// runStage executes a single stage with a timeout and panic guard, so a
// hung or misbehaving check cannot block or crash the submit path.
func (e *Executor) runStage(stage Stage, pctx *models.PipelineContext) error {
	done := make(chan error, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- apperrors.PipelineRejection(stage.Name, fmt.Sprintf("Stage error: %v", r))
			}
		}()
		done <- stage.Run(pctx)
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(e.timeout):
		return apperrors.PipelineRejection(stage.Name,
			fmt.Sprintf("Stage timed out after %ds", int(e.timeout.Seconds())))
	}
}

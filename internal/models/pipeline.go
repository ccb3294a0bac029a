package models

// PipelineContext carries everything the enforcement pipeline (policy
// engine, then capability sandbox) needs to evaluate a submission, and
// accumulates the outcome.
type PipelineContext struct {
	RequestID    string
	AgentID      string
	SenderID     string
	Handle       string
	Action       string
	Params       JSONMap
	PolicyRules  PolicyRules
	Capabilities Capabilities

	Rejected        bool
	RejectionStage  string
	RejectionReason string
	Log             PipelineLog
}

// Reject marks the context as rejected at the given stage and appends the
// failing StageResult; it does not append results for stages that never ran.
func (c *PipelineContext) Reject(stage, reason string, durationMs int64) {
	c.Rejected = true
	c.RejectionStage = stage
	c.RejectionReason = reason
	c.Log = append(c.Log, StageResult{Stage: stage, Passed: false, Reason: reason, DurationMs: durationMs})
}

// Pass appends a passing StageResult for the given stage.
func (c *PipelineContext) Pass(stage string, durationMs int64) {
	c.Log = append(c.Log, StageResult{Stage: stage, Passed: true, DurationMs: durationMs})
}

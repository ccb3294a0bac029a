package errors

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestStatusForCode pins every error code to its HTTP status, since
// middleware.go trusts AppError.StatusCode rather than re-deriving it.
func TestStatusForCode(t *testing.T) {
	tests := []struct {
		code string
		want int
	}{
		{ErrCodeHandleTaken, http.StatusConflict},
		{ErrCodeAgentNotFound, http.StatusNotFound},
		{ErrCodeRequestNotFound, http.StatusNotFound},
		{ErrCodeAuthMissing, http.StatusUnauthorized},
		{ErrCodeAuthInvalid, http.StatusUnauthorized},
		{ErrCodeAuthExpired, http.StatusUnauthorized},
		{ErrCodeNotAuthorized, http.StatusForbidden},
		{ErrCodePipelineRejection, http.StatusUnprocessableEntity},
		{ErrCodeBadInput, http.StatusUnprocessableEntity},
		{ErrCodeAgentNotConnected, http.StatusServiceUnavailable},
		{ErrCodeInternalServer, http.StatusInternalServerError},
		{ErrCodeDatabaseError, http.StatusInternalServerError},
		{"UNKNOWN_CODE", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := New(tt.code, "message")
			assert.Equal(t, tt.want, err.StatusCode)
		})
	}
}

func TestAppError_Error(t *testing.T) {
	plain := New(ErrCodeBadInput, "bad params")
	assert.Equal(t, "BAD_INPUT: bad params", plain.Error())

	withDetails := NewWithDetails(ErrCodeDatabaseError, "query failed", "connection reset")
	assert.Equal(t, "DATABASE_ERROR: query failed - connection reset", withDetails.Error())
}

func TestWrap_NilError(t *testing.T) {
	err := Wrap(ErrCodeInternalServer, "failed", nil)
	assert.Empty(t, err.Details)
}

func TestPipelineRejection_CarriesStageAndReason(t *testing.T) {
	err := PipelineRejection("capability_sandbox", "action not permitted")

	assert.Equal(t, ErrCodePipelineRejection, err.Code)
	assert.Equal(t, "capability_sandbox", err.Stage)
	assert.Equal(t, "action not permitted", err.Reason)
	assert.Equal(t, http.StatusUnprocessableEntity, err.StatusCode)
}

func TestAppError_ToResponse(t *testing.T) {
	err := PipelineRejection("policy_engine", "rejected by rule")
	resp := err.ToResponse()

	assert.Equal(t, ErrCodePipelineRejection, resp.Error)
	assert.Equal(t, "rejected by rule", resp.Message)
	assert.Equal(t, "policy_engine", resp.Stage)
	assert.Equal(t, "rejected by rule", resp.Reason)
}

func TestCommonConstructors(t *testing.T) {
	assert.Equal(t, http.StatusConflict, HandleTaken("pink").StatusCode)
	assert.Equal(t, http.StatusNotFound, AgentNotFound("pink").StatusCode)
	assert.Equal(t, http.StatusUnauthorized, AuthMissing().StatusCode)
	assert.Equal(t, http.StatusUnauthorized, AuthInvalid().StatusCode)
	assert.Equal(t, http.StatusUnauthorized, AuthExpired().StatusCode)
	assert.Equal(t, http.StatusForbidden, NotAuthorized("no").StatusCode)
	assert.Equal(t, http.StatusServiceUnavailable, AgentNotConnected("agent-1").StatusCode)
	assert.Equal(t, http.StatusUnprocessableEntity, BadInput("bad").StatusCode)
	assert.Equal(t, http.StatusNotFound, RequestNotFound("req-1").StatusCode)
	assert.Equal(t, http.StatusInternalServerError, InternalServer("boom").StatusCode)
	assert.Equal(t, http.StatusInternalServerError, DatabaseError(assertError{}).StatusCode)
}

type assertError struct{}

func (assertError) Error() string { return "db down" }

// Package errors provides standardized error handling for Clawcierge.
//
// Every caller-visible failure is represented as an *AppError*: a
// machine-readable code, a human-readable message, optional details, and the
// HTTP status it maps to. Handlers return an *AppError and a single gin
// middleware (see middleware.go) renders it.
package errors

import (
	"fmt"
	"net/http"
)

// AppError represents a standardized application error with HTTP context.
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Details    string `json:"details,omitempty"`
	StatusCode int    `json:"-"`

	// Stage and Reason are populated for PipelineRejection errors so the
	// caller-visible body can carry {stage, reason} per the submit path's
	// 422 contract.
	Stage  string `json:"stage,omitempty"`
	Reason string `json:"reason,omitempty"`
}

func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s - %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// ErrorResponse is the JSON error body returned to callers.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
	Stage   string `json:"stage,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// Error kinds, named per the design's error-handling section.
const (
	ErrCodeHandleTaken        = "HANDLE_TAKEN"
	ErrCodeAgentNotFound      = "AGENT_NOT_FOUND"
	ErrCodeAuthMissing        = "AUTH_MISSING"
	ErrCodeAuthInvalid        = "AUTH_INVALID"
	ErrCodeAuthExpired        = "AUTH_EXPIRED"
	ErrCodeNotAuthorized      = "NOT_AUTHORIZED"
	ErrCodePipelineRejection  = "PIPELINE_REJECTION"
	ErrCodeAgentNotConnected  = "AGENT_NOT_CONNECTED"
	ErrCodeBadInput           = "BAD_INPUT"
	ErrCodeRequestNotFound    = "REQUEST_NOT_FOUND"
	ErrCodeInternalServer     = "INTERNAL_SERVER_ERROR"
	ErrCodeDatabaseError      = "DATABASE_ERROR"
)

func New(code, message string) *AppError {
	return &AppError{Code: code, Message: message, StatusCode: statusForCode(code)}
}

func NewWithDetails(code, message, details string) *AppError {
	return &AppError{Code: code, Message: message, Details: details, StatusCode: statusForCode(code)}
}

func Wrap(code, message string, err error) *AppError {
	details := ""
	if err != nil {
		details = err.Error()
	}
	return NewWithDetails(code, message, details)
}

func statusForCode(code string) int {
	switch code {
	case ErrCodeHandleTaken:
		return http.StatusConflict
	case ErrCodeAgentNotFound, ErrCodeRequestNotFound:
		return http.StatusNotFound
	case ErrCodeAuthMissing, ErrCodeAuthInvalid, ErrCodeAuthExpired:
		return http.StatusUnauthorized
	case ErrCodeNotAuthorized:
		return http.StatusForbidden
	case ErrCodePipelineRejection, ErrCodeBadInput:
		return http.StatusUnprocessableEntity
	case ErrCodeAgentNotConnected:
		return http.StatusServiceUnavailable
	case ErrCodeInternalServer, ErrCodeDatabaseError:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

func (e *AppError) ToResponse() ErrorResponse {
	return ErrorResponse{
		Error:   e.Code,
		Message: e.Message,
		Code:    e.Code,
		Details: e.Details,
		Stage:   e.Stage,
		Reason:  e.Reason,
	}
}

// Common error constructors.

func HandleTaken(handle string) *AppError {
	return New(ErrCodeHandleTaken, fmt.Sprintf("handle %q is already taken", handle))
}

func AgentNotFound(idOrHandle string) *AppError {
	return New(ErrCodeAgentNotFound, fmt.Sprintf("agent %q not found", idOrHandle))
}

func AuthMissing() *AppError {
	return New(ErrCodeAuthMissing, "missing bearer credential")
}

func AuthInvalid() *AppError {
	return New(ErrCodeAuthInvalid, "invalid bearer credential")
}

func AuthExpired() *AppError {
	return New(ErrCodeAuthExpired, "bearer credential has expired or been revoked")
}

func NotAuthorized(message string) *AppError {
	return New(ErrCodeNotAuthorized, message)
}

// PipelineRejection builds the caller-visible 422 for a rejected submission.
func PipelineRejection(stage, reason string) *AppError {
	err := New(ErrCodePipelineRejection, reason)
	err.Stage = stage
	err.Reason = reason
	return err
}

func AgentNotConnected(agentID string) *AppError {
	return New(ErrCodeAgentNotConnected, fmt.Sprintf("agent %s has no live channel", agentID))
}

func BadInput(message string) *AppError {
	return New(ErrCodeBadInput, message)
}

func RequestNotFound(id string) *AppError {
	return New(ErrCodeRequestNotFound, fmt.Sprintf("request %s not found", id))
}

func InternalServer(message string) *AppError {
	return New(ErrCodeInternalServer, message)
}

func DatabaseError(err error) *AppError {
	return Wrap(ErrCodeDatabaseError, "database operation failed", err)
}

package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/morioust/clawcierge/internal/errors"
	"github.com/morioust/clawcierge/internal/models"
)

func newCtx(action string, params models.JSONMap, rules models.PolicyRules) *models.PipelineContext {
	return &models.PipelineContext{
		SenderID:    "sender-1",
		Action:      action,
		Params:      params,
		PolicyRules: rules,
	}
}

func TestEvaluateNoRulesAllows(t *testing.T) {
	e, err := NewEngine()
	require.NoError(t, err)

	err = e.Evaluate(newCtx("send_message", models.JSONMap{}, nil))
	assert.NoError(t, err)
}

func TestEvaluateRejectMatches(t *testing.T) {
	e, err := NewEngine()
	require.NoError(t, err)

	rules := models.PolicyRules{
		{Condition: `action == "delete_account"`, Action: models.PolicyActionReject, Reason: "destructive action blocked"},
	}
	err = e.Evaluate(newCtx("delete_account", models.JSONMap{}, rules))

	require.Error(t, err)
	appErr, ok := err.(*apperrors.AppError)
	require.True(t, ok)
	assert.Equal(t, StageName, appErr.Stage)
	assert.Equal(t, "destructive action blocked", appErr.Reason)
}

func TestEvaluateRejectDefaultReason(t *testing.T) {
	e, err := NewEngine()
	require.NoError(t, err)

	rules := models.PolicyRules{
		{Condition: `action == "delete_account"`, Action: models.PolicyActionReject},
	}
	err = e.Evaluate(newCtx("delete_account", models.JSONMap{}, rules))

	require.Error(t, err)
	appErr := err.(*apperrors.AppError)
	assert.Equal(t, "Policy rule matched", appErr.Reason)
}

func TestEvaluateAllowDoesNotShortCircuitLaterReject(t *testing.T) {
	e, err := NewEngine()
	require.NoError(t, err)

	rules := models.PolicyRules{
		{Condition: `action == "send_message"`, Action: models.PolicyActionAllow},
		{Condition: `sender_id == "sender-1"`, Action: models.PolicyActionReject, Reason: "sender blocked"},
	}
	err = e.Evaluate(newCtx("send_message", models.JSONMap{}, rules))

	require.Error(t, err)
	appErr := err.(*apperrors.AppError)
	assert.Equal(t, "sender blocked", appErr.Reason)
}

func TestEvaluateUsesFlatParamsNamespace(t *testing.T) {
	e, err := NewEngine()
	require.NoError(t, err)

	rules := models.PolicyRules{
		{Condition: `params_amount > 1000.0`, Action: models.PolicyActionReject, Reason: "amount too large"},
	}
	err = e.Evaluate(newCtx("transfer", models.JSONMap{"amount": 5000.0}, rules))

	require.Error(t, err)
	appErr := err.(*apperrors.AppError)
	assert.Equal(t, "amount too large", appErr.Reason)
}

func TestEvaluateAttributeAccessFailsClosed(t *testing.T) {
	e, err := NewEngine()
	require.NoError(t, err)

	// "params" is not a namespace name — the namespace is flat
	// (params_<k>), per spec.md §4.4, precisely so a condition can never
	// select a field off a compound params value.
	rules := models.PolicyRules{
		{Condition: `params.amount > 1000.0`, Action: models.PolicyActionReject, Reason: "amount too large"},
	}
	err = e.Evaluate(newCtx("transfer", models.JSONMap{"amount": 5000.0}, rules))

	require.Error(t, err)
	appErr := err.(*apperrors.AppError)
	assert.Contains(t, appErr.Reason, "Policy evaluation error for condition:")
}

func TestEvaluateMissingParamKeyFailsClosed(t *testing.T) {
	e, err := NewEngine()
	require.NoError(t, err)

	rules := models.PolicyRules{
		{Condition: `params_amount > 1000.0`, Action: models.PolicyActionReject, Reason: "amount too large"},
	}
	// "amount" is absent from this request's params, so params_amount was
	// never bound in the namespace — an undeclared reference, same as the
	// original's NameError on a missing namespace key.
	err = e.Evaluate(newCtx("transfer", models.JSONMap{"currency": "usd"}, rules))

	require.Error(t, err)
	appErr := err.(*apperrors.AppError)
	assert.Contains(t, appErr.Reason, "Policy evaluation error for condition:")
}

func TestEvaluateBadConditionFailsClosed(t *testing.T) {
	e, err := NewEngine()
	require.NoError(t, err)

	rules := models.PolicyRules{
		{Condition: `not a valid cel expression (((`, Action: models.PolicyActionReject},
	}
	err = e.Evaluate(newCtx("send_message", models.JSONMap{}, rules))

	require.Error(t, err)
	appErr := err.(*apperrors.AppError)
	assert.Contains(t, appErr.Reason, "Policy evaluation error for condition:")
}

func TestValidateRulesAcceptsFlatParamsReference(t *testing.T) {
	e, err := NewEngine()
	require.NoError(t, err)

	err = e.ValidateRules(models.PolicyRules{
		{Condition: `params_duration_minutes > 120`, Action: models.PolicyActionReject},
	})
	assert.NoError(t, err)
}

func TestValidateRulesRejectsAttributeAccess(t *testing.T) {
	e, err := NewEngine()
	require.NoError(t, err)

	err = e.ValidateRules(models.PolicyRules{
		{Condition: `params.amount > 1000.0`, Action: models.PolicyActionReject},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "attribute access is forbidden")
}

func TestValidateRulesRejectsDisallowedFunction(t *testing.T) {
	e, err := NewEngine()
	require.NoError(t, err)

	err = e.ValidateRules(models.PolicyRules{
		{Condition: `timestamp("2024-01-01T00:00:00Z") < timestamp("2025-01-01T00:00:00Z")`, Action: models.PolicyActionReject},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not in the policy evaluator's whitelist")
}

func TestValidateRulesRejectsSyntaxError(t *testing.T) {
	e, err := NewEngine()
	require.NoError(t, err)

	err = e.ValidateRules(models.PolicyRules{
		{Condition: `not a valid cel expression (((`, Action: models.PolicyActionReject},
	})
	require.Error(t, err)
}

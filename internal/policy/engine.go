// Package policy implements the policy engine: a restricted expression
// evaluator that decides whether a request may proceed past this pipeline
// stage.
//
// Rule conditions are CEL expressions evaluated against a namespace built
// from the request: sender_id, action, and one params_<k> variable per
// top-level key present in the request's payload (per spec.md §4.4 — the
// namespace is flat; there is no nested params map to select a field off
// of, since attribute access is one of the constructs §4.4 forbids
// outright). Rules are evaluated in upload order; the first matching reject
// rule decides the outcome. allow never short-circuits past a later reject. Any
// compile or evaluation error, including a condition that references a
// params_<k> name absent from this particular request, fails the request
// closed.
package policy

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
	exprpb "google.golang.org/genproto/googleapis/api/expr/v1alpha1"

	apperrors "github.com/morioust/clawcierge/internal/errors"
	"github.com/morioust/clawcierge/internal/models"
)

const StageName = "policy_engine"

// allowedFunctions is the whitelist of named (non-operator) CEL calls a
// condition may use, per spec.md §4.4's "function calls other than a
// whitelisted set" restriction. size() is CEL's len()-equivalent.
var allowedFunctions = map[string]bool{
	"size": true,
}

// allowedOperators is the set of desugared CEL operator call names that
// implement comparisons, boolean connectives, arithmetic, and membership
// tests — exactly the constructs spec.md §4.4 permits. Anything else
// reaching a CallExpr node is a disallowed function.
var allowedOperators = map[string]bool{
	"_&&_":                true, // and
	"_||_":                true, // or
	"!_":                  true, // not
	"_==_":                true,
	"_!=_":                true,
	"_<_":                 true,
	"_<=_":                true,
	"_>_":                 true,
	"_>=_":                true,
	"_+_":                 true,
	"_-_":                 true,
	"-_":                  true,
	"_*_":                 true,
	"_/_":                 true,
	"_%_":                 true,
	"_[_]":                true, // index
	"_[?_]":               true, // optional index
	"@in":                 true, // membership ("in")
	"in":                  true,
	"_?_:_":               true, // conditional
	"@not_strictly_false": true,
}

// Engine compiles and caches CEL programs for policy rule conditions.
type Engine struct {
	baseEnv *cel.Env

	mu       sync.RWMutex
	programs map[string]cel.Program
}

// NewEngine builds the CEL environment with the two names every condition
// may rely on regardless of the request's payload shape: sender_id and
// action. params_<k> variables are bound per-request by paramsEnv, since
// the set of payload keys isn't known until submit time.
func NewEngine() (*Engine, error) {
	env, err := cel.NewEnv(
		cel.Variable("sender_id", cel.StringType),
		cel.Variable("action", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("policy: failed to build CEL environment: %w", err)
	}
	return &Engine{baseEnv: env, programs: make(map[string]cel.Program)}, nil
}

// paramsEnv extends the base environment with one params_<k> DynType
// variable per key in keys.
func (e *Engine) paramsEnv(keys []string) (*cel.Env, error) {
	opts := make([]cel.EnvOption, 0, len(keys))
	for _, k := range keys {
		opts = append(opts, cel.Variable("params_"+k, cel.DynType))
	}
	if len(opts) == 0 {
		return e.baseEnv, nil
	}
	return e.baseEnv.Extend(opts...)
}

// paramsSignature returns params' keys sorted, plus that sort joined as a
// cache-key fragment, so two requests exposing the same key set reuse the
// same extended environment and compiled programs.
func paramsSignature(params models.JSONMap) ([]string, string) {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, strings.Join(keys, ",")
}

func (e *Engine) program(expr string, env *cel.Env, sig string) (cel.Program, error) {
	cacheKey := sig + "\x00" + expr
	e.mu.RLock()
	prg, ok := e.programs[cacheKey]
	e.mu.RUnlock()
	if ok {
		return prg, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if prg, ok = e.programs[cacheKey]; ok {
		return prg, nil
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, issues.Err()
	}
	if err := rejectDisallowed(ast); err != nil {
		return nil, err
	}
	prg, err := env.Program(ast, cel.InterruptCheckFrequency(100))
	if err != nil {
		return nil, err
	}
	e.programs[cacheKey] = prg
	return prg, nil
}

// ValidateRules parses every rule's condition and rejects any that are
// syntactically invalid or that reference a disallowed construct (attribute
// access, a non-whitelisted function call, or a comprehension). It does not
// type-check params_<k> references against a concrete payload — the set of
// payload keys isn't known at upload time — so an upload-time pass here
// does not guarantee every params_<k> name referenced will be present on
// every future submission; a reference to an absent key fails closed at
// evaluation time instead, the same way an undefined name does.
func (e *Engine) ValidateRules(rules models.PolicyRules) error {
	for _, rule := range rules {
		ast, issues := e.baseEnv.Parse(rule.Condition)
		if issues != nil && issues.Err() != nil {
			return fmt.Errorf("invalid policy condition %q: %w", rule.Condition, issues.Err())
		}
		if err := rejectDisallowed(ast); err != nil {
			return fmt.Errorf("invalid policy condition %q: %w", rule.Condition, err)
		}
	}
	return nil
}

// Evaluate runs pctx's policy rules in order against its sender/action/
// params_<k> namespace. Returns nil when the request may proceed; otherwise
// a PipelineRejection error naming StageName and the rejection reason.
//
// A rule with action "reject" that matches stops evaluation and rejects
// immediately. A rule with action "allow" that matches does NOT
// short-circuit — later rules still run, so a later reject can still fire.
// If no rule matches, the request is allowed by default.
func (e *Engine) Evaluate(pctx *models.PipelineContext) error {
	keys, sig := paramsSignature(pctx.Params)
	env, err := e.paramsEnv(keys)
	if err != nil {
		return apperrors.PipelineRejection(StageName, "Policy evaluation error: failed to build namespace")
	}

	input := map[string]interface{}{
		"sender_id": pctx.SenderID,
		"action":    pctx.Action,
	}
	for k, v := range pctx.Params {
		input["params_"+k] = v
	}

	for _, rule := range pctx.PolicyRules {
		prg, err := e.program(rule.Condition, env, sig)
		if err != nil {
			return apperrors.PipelineRejection(StageName,
				fmt.Sprintf("Policy evaluation error for condition: %s", rule.Condition))
		}

		out, _, err := prg.Eval(input)
		if err != nil {
			return apperrors.PipelineRejection(StageName,
				fmt.Sprintf("Policy evaluation error for condition: %s", rule.Condition))
		}

		matched, ok := out.Value().(bool)
		if !ok {
			return apperrors.PipelineRejection(StageName,
				fmt.Sprintf("Policy evaluation error for condition: %s", rule.Condition))
		}
		if !matched {
			continue
		}

		if rule.Action == models.PolicyActionReject {
			reason := rule.Reason
			if reason == "" {
				reason = "Policy rule matched"
			}
			return apperrors.PipelineRejection(StageName, reason)
		}
		// action == allow: keep evaluating, a later reject still applies.
	}

	return nil
}

// rejectDisallowed walks ast's expression tree and returns an error naming
// the first disallowed construct it finds: attribute access (a SelectExpr —
// there is nothing in the namespace to select a field off of in the first
// place, but a rule author could still write one against a literal), a
// comprehension (unbounded iteration), or a function call outside
// allowedOperators/allowedFunctions.
func rejectDisallowed(ast *cel.Ast) error {
	var issues []string
	checkExpr(ast.Expr(), &issues) //nolint:staticcheck // Expr() is deprecated but has no replacement for AST walking.
	if len(issues) > 0 {
		return fmt.Errorf("disallowed construct: %s", strings.Join(issues, "; "))
	}
	return nil
}

func checkExpr(e *exprpb.Expr, issues *[]string) {
	if e == nil {
		return
	}

	switch k := e.ExprKind.(type) {
	case *exprpb.Expr_SelectExpr:
		*issues = append(*issues, "attribute access is forbidden")
		checkExpr(k.SelectExpr.Operand, issues)

	case *exprpb.Expr_CallExpr:
		call := k.CallExpr
		if !allowedOperators[call.Function] && !allowedFunctions[call.Function] {
			*issues = append(*issues, fmt.Sprintf("function %q is not in the policy evaluator's whitelist", call.Function))
		}
		if call.Target != nil {
			checkExpr(call.Target, issues)
		}
		for _, arg := range call.Args {
			checkExpr(arg, issues)
		}

	case *exprpb.Expr_ListExpr:
		for _, el := range k.ListExpr.Elements {
			checkExpr(el, issues)
		}

	case *exprpb.Expr_StructExpr:
		for _, entry := range k.StructExpr.Entries {
			if entry.GetMapKey() != nil {
				checkExpr(entry.GetMapKey(), issues)
			}
			checkExpr(entry.Value, issues)
		}

	case *exprpb.Expr_ComprehensionExpr:
		*issues = append(*issues, "comprehensions are forbidden")

	case *exprpb.Expr_ConstExpr, *exprpb.Expr_IdentExpr:
		// Leaves: nothing to check.
	}
}

// Package sandbox implements the capability sandbox: the pipeline stage
// that checks a request's action is in the agent's active capability
// contract, validates its params against that action's JSON Schema, and
// enforces any numeric min_/max_ constraints.
package sandbox

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	apperrors "github.com/morioust/clawcierge/internal/errors"
	"github.com/morioust/clawcierge/internal/models"
)

const StageName = "capability_sandbox"

// Sandbox compiles and caches JSON Schema documents keyed by a SHA-256 of
// their raw bytes, since the same contract is re-evaluated on every request an agent
// receives until it next uploads a new one.
type Sandbox struct {
	mu      sync.RWMutex
	schemas map[string]*jsonschema.Schema
}

// New returns an empty Sandbox.
func New() *Sandbox {
	return &Sandbox{schemas: make(map[string]*jsonschema.Schema)}
}

func (s *Sandbox) compiled(raw json.RawMessage, cacheKey string) (*jsonschema.Schema, error) {
	s.mu.RLock()
	schema, ok := s.schemas[cacheKey]
	s.mu.RUnlock()
	if ok {
		return schema, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if schema, ok = s.schemas[cacheKey]; ok {
		return schema, nil
	}

	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft7
	url := "mem://" + cacheKey
	if err := compiler.AddResource(url, bytes.NewReader(raw)); err != nil {
		return nil, err
	}
	compiled, err := compiler.Compile(url)
	if err != nil {
		return nil, err
	}
	s.schemas[cacheKey] = compiled
	return compiled, nil
}

// Check validates pctx's action and params against the given contract.
// Returns nil when the request may proceed; otherwise a PipelineRejection
// naming StageName and the exact reason text.
func (s *Sandbox) Check(pctx *models.PipelineContext) error {
	descriptor, found := findCapability(pctx.Capabilities, pctx.Action)
	if !found {
		return apperrors.PipelineRejection(StageName,
			fmt.Sprintf("Action '%s' is not in the agent's capability contract", pctx.Action))
	}

	if len(descriptor.ParamsSchema) > 0 {
		sum := sha256.Sum256(descriptor.ParamsSchema)
		cacheKey := hex.EncodeToString(sum[:])
		schema, err := s.compiled(descriptor.ParamsSchema, cacheKey)
		if err != nil {
			return apperrors.PipelineRejection(StageName,
				fmt.Sprintf("Stage error: invalid params schema for action '%s'", pctx.Action))
		}

		if err := schema.Validate(toSchemaInput(pctx.Params)); err != nil {
			return apperrors.PipelineRejection(StageName, fmt.Sprintf("Params failed schema validation: %s", err.Error()))
		}
	}

	if err := checkConstraints(descriptor.Constraints, pctx.Params); err != nil {
		return apperrors.PipelineRejection(StageName, err.Error())
	}

	return nil
}

// ValidateCapabilities compiles every descriptor's params_schema so an
// upload with a malformed JSON Schema document is rejected at upload time
// (422) rather than silently failing every later submission.
func ValidateCapabilities(caps models.Capabilities) error {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft7
	for i, c := range caps {
		if len(c.ParamsSchema) == 0 {
			continue
		}
		url := fmt.Sprintf("mem://validate/%d", i)
		if err := compiler.AddResource(url, bytes.NewReader(c.ParamsSchema)); err != nil {
			return fmt.Errorf("capability %q: invalid params_schema: %w", c.Action, err)
		}
		if _, err := compiler.Compile(url); err != nil {
			return fmt.Errorf("capability %q: invalid params_schema: %w", c.Action, err)
		}
	}
	return nil
}

func findCapability(caps models.Capabilities, action string) (models.CapabilityDescriptor, bool) {
	for _, c := range caps {
		if c.Action == action {
			return c, true
		}
	}
	return models.CapabilityDescriptor{}, false
}

// toSchemaInput re-decodes params through encoding/json so numeric values
// arrive as float64/json.Number the way the jsonschema package expects,
// regardless of how the caller originally constructed the map.
func toSchemaInput(params models.JSONMap) interface{} {
	raw, err := json.Marshal(params)
	if err != nil {
		return map[string]interface{}(params)
	}
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return map[string]interface{}(params)
	}
	return v
}

// checkConstraints enforces constraints named max_<param> / min_<param>
// against numeric values present in params. Missing params are not an
// error here — schema validation (if configured) is responsible for
// required-field enforcement.
func checkConstraints(constraints map[string]float64, params models.JSONMap) error {
	for name, bound := range constraints {
		var param string
		var isMax bool
		switch {
		case strings.HasPrefix(name, "max_"):
			param = strings.TrimPrefix(name, "max_")
			isMax = true
		case strings.HasPrefix(name, "min_"):
			param = strings.TrimPrefix(name, "min_")
			isMax = false
		default:
			continue
		}

		raw, present := params[param]
		if !present {
			continue
		}
		value, ok := toFloat(raw)
		if !ok {
			continue
		}

		if isMax && value > bound {
			return fmt.Errorf("Constraint violation: %s=%v exceeds max of %v", param, value, bound)
		}
		if !isMax && value < bound {
			return fmt.Errorf("Constraint violation: %s=%v below min of %v", param, value, bound)
		}
	}
	return nil
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

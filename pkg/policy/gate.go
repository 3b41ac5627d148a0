// Package policy provides an OPA-backed admission gate for plans. The
// gate evaluates a rego decision document against the plan before any
// task runs; a deny comes back as an error whose text is the policy's
// reason, which the runtime surfaces as a PLAN_REJECTED failure.
package policy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/open-policy-agent/opa/v1/rego"

	"github.com/calyptra/arbor/pkg/domain"
)

// DefaultQuery locates the decision document evaluated by Admit.
const DefaultQuery = "data.arbor.admission.decision"

// DefaultPolicy enforces pre-run sanity: plans must not arrive in a
// running or terminal status, and declared constraints must stay inside
// engine bounds.
const DefaultPolicy = `
package arbor.admission

deny contains "plan status must be empty, draft, or approved" if {
	not input.status in {"", "draft", "approved"}
}

deny contains "maxParallelism must not exceed 64" if {
	input.constraints.maxParallelism > 64
}

deny contains "plan exceeds the 256 task budget" if {
	count(input.tasks) > 256
}

decision := {"allow": count(deny) == 0, "reasons": deny}
`

// Gate is a prepared admission policy. It satisfies the runtime's
// AdmissionGate interface.
type Gate struct {
	query rego.PreparedEvalQuery
}

type config struct {
	module string
	query  string
}

// Option configures the gate.
type Option func(*config)

// WithModule substitutes the rego module source.
func WithModule(src string) Option {
	return func(c *config) {
		c.module = src
	}
}

// WithQuery substitutes the decision query path.
func WithQuery(query string) Option {
	return func(c *config) {
		c.query = query
	}
}

// New compiles the policy and prepares it for evaluation.
func New(ctx context.Context, opts ...Option) (*Gate, error) {
	cfg := &config{
		module: DefaultPolicy,
		query:  DefaultQuery,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	query, err := rego.New(
		rego.Query(cfg.query),
		rego.Module("arbor_admission.rego", cfg.module),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare admission policy: %w", err)
	}
	return &Gate{query: query}, nil
}

// Admit evaluates the plan against the policy. A nil return admits the
// plan; the error text of a deny is the policy's reason.
func (g *Gate) Admit(ctx context.Context, plan *domain.Plan) error {
	input, err := planInput(plan)
	if err != nil {
		return fmt.Errorf("failed to build policy input: %w", err)
	}

	results, err := g.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return fmt.Errorf("policy evaluation failed: %w", err)
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		// The policy stayed silent on this input; silence admits.
		return nil
	}

	allow, reason := parseDecision(results[0].Expressions[0].Value)
	if allow {
		return nil
	}
	if reason == "" {
		reason = "denied by admission policy"
	}
	return errors.New(reason)
}

// planInput converts the plan to the generic JSON shape rego evaluates.
// Status and tasks are always present so `not ... in` and count() behave
// on zero-value plans.
func planInput(plan *domain.Plan) (map[string]any, error) {
	raw, err := json.Marshal(plan)
	if err != nil {
		return nil, err
	}
	var input map[string]any
	if err := json.Unmarshal(raw, &input); err != nil {
		return nil, err
	}
	input["status"] = string(plan.Status)
	if input["tasks"] == nil {
		input["tasks"] = []any{}
	}
	return input, nil
}

// parseDecision accepts the decision shapes a policy may produce: a bare
// bool, an allow/deny string, or an object with allow plus reason(s).
func parseDecision(value any) (bool, string) {
	switch v := value.(type) {
	case bool:
		return v, ""
	case string:
		return v == "allow", v
	case map[string]any:
		allow, _ := v["allow"].(bool)
		if reason, ok := v["reason"].(string); ok {
			return allow, reason
		}
		if reasons, ok := v["reasons"].([]any); ok {
			parts := make([]string, 0, len(reasons))
			for _, r := range reasons {
				if s, ok := r.(string); ok {
					parts = append(parts, s)
				}
			}
			return allow, strings.Join(parts, "; ")
		}
		return allow, ""
	default:
		// Unknown shape; admit rather than brick every plan.
		return true, ""
	}
}

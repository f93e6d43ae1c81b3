// Package policy decides whether checkpoint steps block their mission.
package policy

import (
	"context"
	"fmt"
	"os"

	"github.com/open-policy-agent/opa/rego"

	"github.com/curatedhealth/missionengine/internal/domain"
)

// Decisions a checkpoint policy may return.
const (
	DecisionBlock    = "block"
	DecisionAdvisory = "advisory"
)

// Input is the document a checkpoint policy evaluates.
type Input struct {
	Mode        domain.Mode `json:"mode"`
	StepIndex   int         `json:"step_index"`
	TotalSteps  int         `json:"total_steps"`
	Reason      string      `json:"reason"`
	ExpertCount int         `json:"expert_count"`
	Question    string      `json:"question"`
}

// Engine is the OPA policy engine.
type Engine struct {
	query rego.PreparedEvalQuery
}

// NewEngine creates a new policy engine with the given policy content.
func NewEngine(ctx context.Context, policyContent string) (*Engine, error) {
	r := rego.New(
		rego.Query("data.checkpoint_policy.decision"),
		rego.Module("checkpoint_policy.rego", policyContent),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}

	return &Engine{query: query}, nil
}

// NewEngineFromFile loads the policy at path, or DefaultPolicy when path is empty.
func NewEngineFromFile(ctx context.Context, path string) (*Engine, error) {
	if path == "" {
		return NewEngine(ctx, DefaultPolicy)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}
	return NewEngine(ctx, string(content))
}

// Evaluate returns the policy decision for input. An undefined decision
// means block.
func (e *Engine) Evaluate(ctx context.Context, input Input) (string, error) {
	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return "", fmt.Errorf("failed to evaluate policy: %w", err)
	}

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return DecisionBlock, nil
	}

	if s, ok := results[0].Expressions[0].Value.(string); ok && (s == DecisionBlock || s == DecisionAdvisory) {
		return s, nil
	}
	return "", fmt.Errorf("policy returned unexpected decision %v", results[0].Expressions[0].Value)
}

// Blocking reports whether the checkpoint described by input halts its mission.
func (e *Engine) Blocking(ctx context.Context, input Input) (bool, error) {
	decision, err := e.Evaluate(ctx, input)
	if err != nil {
		return true, err
	}
	return decision == DecisionBlock, nil
}

// DefaultPolicy is the default policy content: every checkpoint blocks.
const DefaultPolicy = `
package checkpoint_policy

default decision = "block"

# Example: let single-expert oversight checkpoints run advisory only
# decision = "advisory" {
#	input.mode == "autonomous_single"
#	input.step_index < 2
# }
`

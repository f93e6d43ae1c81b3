// Package strategy turns a mission into an immutable plan, one strategy per mode.
package strategy

import (
	"context"
	"fmt"
	"time"

	"github.com/curatedhealth/missionengine/internal/domain"
	"github.com/curatedhealth/missionengine/policy"
)

// Strategy produces the plan of a mission. Implementations hold no runtime
// state.
type Strategy interface {
	Mode() domain.Mode
	Plan(ctx context.Context, mission domain.Mission) (*domain.Plan, error)
}

// Gate decides whether a checkpoint step blocks.
type Gate interface {
	Blocking(ctx context.Context, input policy.Input) (bool, error)
}

// Config carries the knobs shared by the built-in strategies.
type Config struct {
	// Rounds is the number of dispatch rounds of autonomous-single missions.
	Rounds int
	// CheckpointEvery inserts a checkpoint after every N rounds.
	CheckpointEvery int
	// Synthesizer, when set, is the expert that writes the final answer.
	Synthesizer string
	// Eligible filters candidate experts. Nil accepts all.
	Eligible func(ref string) bool
}

// Registry maps modes to strategies.
type Registry struct {
	strategies map[domain.Mode]Strategy
}

// NewRegistry registers strategies by their mode.
func NewRegistry(strategies ...Strategy) *Registry {
	r := &Registry{strategies: make(map[domain.Mode]Strategy, len(strategies))}
	for _, s := range strategies {
		r.strategies[s.Mode()] = s
	}
	return r
}

// Defaults returns the four built-in strategies.
func Defaults(cfg Config, ranker Ranker, gate Gate) *Registry {
	return NewRegistry(
		&Manual{cfg: cfg},
		&Automatic{cfg: cfg, ranker: ranker},
		&AutonomousSingle{cfg: cfg, gate: gate},
		&AutonomousTeam{cfg: cfg, gate: gate},
	)
}

// Plan runs the strategy registered for the mission's mode.
func (r *Registry) Plan(ctx context.Context, mission domain.Mission) (*domain.Plan, error) {
	s, ok := r.strategies[mission.Mode]
	if !ok {
		return nil, fmt.Errorf("%w: no strategy for mode %q", domain.ErrPlanGeneration, mission.Mode)
	}
	plan, err := s.Plan(ctx, mission)
	if err != nil {
		return nil, err
	}
	for i := range plan.Steps {
		plan.Steps[i].Index = i
	}
	return plan, nil
}

func eligibleCandidates(cfg Config, mission domain.Mission) ([]string, error) {
	seen := make(map[string]bool, len(mission.CandidateExperts))
	var out []string
	for _, ref := range mission.CandidateExperts {
		if ref == "" || seen[ref] {
			continue
		}
		seen[ref] = true
		if cfg.Eligible != nil && !cfg.Eligible(ref) {
			continue
		}
		out = append(out, ref)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no eligible experts among %d candidates", domain.ErrPlanGeneration, len(mission.CandidateExperts))
	}
	return out, nil
}

func newPlan(mode domain.Mode, steps []domain.Step) *domain.Plan {
	return &domain.Plan{Version: 1, Mode: mode, Steps: steps, CreatedAt: time.Now().UTC()}
}

func dispatchStep(concurrency domain.ConcurrencyPolicy, reason string, refs ...string) domain.Step {
	return domain.Step{
		Kind:        domain.StepKindDispatchExperts,
		ExpertRefs:  refs,
		Concurrency: concurrency,
		Reason:      reason,
	}
}

func synthesizeStep(cfg Config) domain.Step {
	step := domain.Step{Kind: domain.StepKindSynthesize, Reason: "compose final answer"}
	if cfg.Synthesizer != "" {
		step.ExpertRefs = []string{cfg.Synthesizer}
	}
	return step
}

// checkpointStep asks gate whether the checkpoint at index blocks.
func checkpointStep(ctx context.Context, gate Gate, mission domain.Mission, index, totalSteps, experts int, reason string) (domain.Step, error) {
	blocking := true
	if gate != nil {
		b, err := gate.Blocking(ctx, policy.Input{
			Mode:        mission.Mode,
			StepIndex:   index,
			TotalSteps:  totalSteps,
			Reason:      reason,
			ExpertCount: experts,
			Question:    mission.Question,
		})
		if err != nil {
			return domain.Step{}, fmt.Errorf("%w: checkpoint policy: %v", domain.ErrPlanGeneration, err)
		}
		blocking = b
	}
	return domain.Step{Kind: domain.StepKindCheckpoint, IsBlocking: blocking, Reason: reason}, nil
}

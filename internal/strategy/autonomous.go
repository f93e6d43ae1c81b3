package strategy

import (
	"context"
	"fmt"

	"github.com/curatedhealth/missionengine/internal/domain"
)

// AutonomousSingle runs one expert over several rounds with oversight
// checkpoints between rounds.
type AutonomousSingle struct {
	cfg  Config
	gate Gate
}

// Mode implements Strategy.
func (a *AutonomousSingle) Mode() domain.Mode { return domain.ModeAutonomousSingle }

// Plan implements Strategy.
func (a *AutonomousSingle) Plan(ctx context.Context, mission domain.Mission) (*domain.Plan, error) {
	candidates, err := eligibleCandidates(a.cfg, mission)
	if err != nil {
		return nil, err
	}
	ref := candidates[0]
	rounds := a.cfg.Rounds
	if rounds <= 0 {
		rounds = 1
	}
	every := a.cfg.CheckpointEvery
	if every <= 0 {
		every = 1
	}

	checkpoints := (rounds - 1) / every
	total := rounds + checkpoints + 1

	var steps []domain.Step
	for round := 1; round <= rounds; round++ {
		reason := "initial analysis"
		if round > 1 {
			reason = fmt.Sprintf("refinement round %d", round)
		}
		steps = append(steps, dispatchStep(domain.ConcurrencySequential, reason, ref))
		if round < rounds && round%every == 0 {
			cp, err := checkpointStep(ctx, a.gate, mission, len(steps), total, 1,
				fmt.Sprintf("oversight after round %d", round))
			if err != nil {
				return nil, err
			}
			steps = append(steps, cp)
		}
	}
	steps = append(steps, synthesizeStep(a.cfg))
	return newPlan(a.Mode(), steps), nil
}

// AutonomousTeam consults every candidate in parallel, merges, checkpoints,
// then synthesizes.
type AutonomousTeam struct {
	cfg  Config
	gate Gate
}

// Mode implements Strategy.
func (a *AutonomousTeam) Mode() domain.Mode { return domain.ModeAutonomousTeam }

// Plan implements Strategy.
func (a *AutonomousTeam) Plan(ctx context.Context, mission domain.Mission) (*domain.Plan, error) {
	candidates, err := eligibleCandidates(a.cfg, mission)
	if err != nil {
		return nil, err
	}
	cp, err := checkpointStep(ctx, a.gate, mission, 2, 4, len(candidates), "review merged team findings")
	if err != nil {
		return nil, err
	}
	return newPlan(a.Mode(), []domain.Step{
		dispatchStep(domain.ConcurrencyParallel, "consult expert team", candidates...),
		{Kind: domain.StepKindAggregate, Reason: "merge team findings"},
		cp,
		synthesizeStep(a.cfg),
	}), nil
}

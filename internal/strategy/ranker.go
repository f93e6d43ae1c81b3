package strategy

import (
	"context"
	"fmt"

	"github.com/curatedhealth/missionengine/internal/domain"
)

// Ranker orders candidate experts for a question, best first.
type Ranker interface {
	Rank(ctx context.Context, question string, candidates []string) ([]string, error)
}

// RankerFunc adapts a function to Ranker.
type RankerFunc func(ctx context.Context, question string, candidates []string) ([]string, error)

// Rank implements Ranker.
func (f RankerFunc) Rank(ctx context.Context, question string, candidates []string) ([]string, error) {
	return f(ctx, question, candidates)
}

// FirstCandidateRanker keeps the caller's order.
type FirstCandidateRanker struct{}

// Rank implements Ranker.
func (FirstCandidateRanker) Rank(_ context.Context, _ string, candidates []string) ([]string, error) {
	return candidates, nil
}

// Automatic lets a Ranker pick one candidate, then plans like Manual. The
// remaining ranked candidates back up the choice: they are tried in rank
// order only when every better-ranked expert failed.
type Automatic struct {
	cfg    Config
	ranker Ranker
}

// Mode implements Strategy.
func (a *Automatic) Mode() domain.Mode { return domain.ModeAutomaticSelection }

// Plan implements Strategy. Ranked refs outside the eligible candidates are
// ignored.
func (a *Automatic) Plan(ctx context.Context, mission domain.Mission) (*domain.Plan, error) {
	candidates, err := eligibleCandidates(a.cfg, mission)
	if err != nil {
		return nil, err
	}
	ranker := a.ranker
	if ranker == nil {
		ranker = FirstCandidateRanker{}
	}
	ranked, err := ranker.Rank(ctx, mission.Question, candidates)
	if err != nil {
		return nil, fmt.Errorf("%w: ranking failed: %v", domain.ErrPlanGeneration, err)
	}

	allowed := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		allowed[c] = true
	}
	var order []string
	for _, ref := range ranked {
		if allowed[ref] {
			order = append(order, ref)
			delete(allowed, ref)
		}
	}
	if len(order) == 0 {
		return nil, fmt.Errorf("%w: ranker selected no eligible candidate", domain.ErrPlanGeneration)
	}

	dispatch := dispatchStep(domain.ConcurrencySequential, "consult highest ranked expert", order...)
	dispatch.FirstWinner = true
	return newPlan(a.Mode(), []domain.Step{dispatch, synthesizeStep(a.cfg)}), nil
}

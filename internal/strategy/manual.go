package strategy

import (
	"context"

	"github.com/curatedhealth/missionengine/internal/domain"
)

// Manual consults the caller's first candidate, then synthesizes.
type Manual struct {
	cfg Config
}

// Mode implements Strategy.
func (m *Manual) Mode() domain.Mode { return domain.ModeManualInteractive }

// Plan implements Strategy.
func (m *Manual) Plan(ctx context.Context, mission domain.Mission) (*domain.Plan, error) {
	candidates, err := eligibleCandidates(m.cfg, mission)
	if err != nil {
		return nil, err
	}
	return singleExpertPlan(m.Mode(), m.cfg, candidates[0], "consult selected expert"), nil
}

func singleExpertPlan(mode domain.Mode, cfg Config, ref, reason string) *domain.Plan {
	return newPlan(mode, []domain.Step{
		dispatchStep(domain.ConcurrencySequential, reason, ref),
		synthesizeStep(cfg),
	})
}

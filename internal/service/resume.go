package service

import (
	"context"
	"fmt"

	"github.com/curatedhealth/missionengine/internal/domain"
)

// ResumeMission re-enters execution of a mission from its persisted state.
// A running mission continues at its current step; a step that was in
// flight when the previous process stopped runs again from scratch, with
// the same request ids. Missions awaiting a checkpoint stay suspended and
// terminal missions are left untouched.
func (s *Service) ResumeMission(ctx context.Context, missionID string) (*domain.MissionSummary, error) {
	unlock := s.locks.Lock(missionID)
	snap, err := s.load(ctx, missionID)
	if err != nil {
		unlock()
		return nil, err
	}
	summary := snap.Summary()
	if snap.Mission.Status != domain.MissionStatusRunning {
		unlock()
		return &summary, nil
	}
	if snap.Plan == nil {
		unlock()
		return nil, fmt.Errorf("mission %s is running without a plan", missionID)
	}
	s.emit(ctx, missionID, domain.EventTypeMissionResumed, domain.MissionResumedPayload{
		FromStep: snap.Mission.CurrentStepIndex,
		Status:   snap.Mission.Status,
	})
	unlock()

	s.logger.Info("resuming mission", "mission_id", missionID, "step", snap.Mission.CurrentStepIndex)
	s.launch(missionID)
	return &summary, nil
}

// ResumeActive resumes every running mission found in the store. It is
// called once at startup.
func (s *Service) ResumeActive(ctx context.Context) (int, error) {
	snaps, err := s.store.ListSnapshots(ctx, []domain.MissionStatus{domain.MissionStatusRunning}, 0)
	if err != nil {
		return 0, fmt.Errorf("failed to list running missions: %w", err)
	}
	resumed := 0
	for i := range snaps {
		missionID := snaps[i].Mission.MissionID
		if _, err := s.ResumeMission(ctx, missionID); err != nil {
			s.logger.Warn("failed to resume mission", "mission_id", missionID, "error", err)
			continue
		}
		resumed++
	}
	return resumed, nil
}

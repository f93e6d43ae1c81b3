package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/curatedhealth/missionengine/internal/checkpoint"
	"github.com/curatedhealth/missionengine/internal/domain"
)

// CreateMission registers a mission and plans it synchronously. A planning
// failure is not an error to the caller: the mission is returned as failed
// with reason plan_generation_failure. Unless req.Start is false the
// mission starts running in the background.
func (s *Service) CreateMission(ctx context.Context, req domain.CreateMissionRequest) (*domain.CreateMissionResponse, error) {
	// Validate required fields
	if strings.TrimSpace(req.Question) == "" {
		return nil, fmt.Errorf("%w: question is required", domain.ErrInvalidRequest)
	}
	if !req.Mode.Valid() {
		return nil, fmt.Errorf("%w: unknown mode %q", domain.ErrInvalidRequest, req.Mode)
	}

	missionID := req.MissionID
	if missionID == "" {
		missionID = "m_" + uuid.New().String()[:12]
	}

	unlock := s.locks.Lock(missionID)
	existing, err := s.store.LoadSnapshot(ctx, missionID)
	if err != nil {
		unlock()
		return nil, fmt.Errorf("failed to check mission: %w", err)
	}
	if existing != nil {
		unlock()
		return nil, fmt.Errorf("%w: mission %s already exists", domain.ErrConflict, missionID)
	}

	now := s.now()
	snap := &domain.MissionSnapshot{
		Mission: domain.Mission{
			MissionID:        missionID,
			Mode:             req.Mode,
			Question:         req.Question,
			CandidateExperts: req.CandidateExperts,
			Status:           domain.MissionStatusPlanning,
			CreatedAt:        now,
			UpdatedAt:        now,
		},
	}
	if snap.Mission.CandidateExperts == nil {
		snap.Mission.CandidateExperts = []string{}
	}
	if err := s.save(ctx, snap); err != nil {
		unlock()
		return nil, err
	}
	s.emit(ctx, missionID, domain.EventTypeMissionCreated, domain.MissionCreatedPayload{
		Mode:             req.Mode,
		Question:         req.Question,
		CandidateExperts: snap.Mission.CandidateExperts,
	})

	if err := s.planLocked(ctx, snap); err != nil {
		unlock()
		return nil, err
	}

	start := req.Start == nil || *req.Start
	launch := false
	if start && snap.Mission.Status == domain.MissionStatusPlanning {
		if err := s.startLocked(ctx, snap); err != nil {
			unlock()
			return nil, err
		}
		launch = true
	}
	unlock()

	if launch {
		s.launch(missionID)
	}
	return &domain.CreateMissionResponse{
		MissionID: missionID,
		Status:    snap.Mission.Status,
		Plan:      snap.Plan,
		Failure:   snap.Mission.Failure,
	}, nil
}

// planLocked asks the mode strategy for a plan. On failure the mission moves
// to failed before any expert is called. Only persistence errors are
// returned.
func (s *Service) planLocked(ctx context.Context, snap *domain.MissionSnapshot) error {
	plan, err := s.strategies.Plan(ctx, snap.Mission)
	if err != nil {
		s.logger.Warn("plan generation failed", "mission_id", snap.Mission.MissionID, "error", err)
		return s.failLocked(ctx, snap, domain.Failure{
			Reason:  domain.FailurePlanGeneration,
			Message: err.Error(),
		})
	}
	snap.Plan = plan
	if err := s.save(ctx, snap); err != nil {
		return err
	}
	s.emit(ctx, snap.Mission.MissionID, domain.EventTypeMissionPlanned, domain.MissionPlannedPayload{
		PlanVersion: plan.Version,
		Steps:       plan.Steps,
	})
	return nil
}

// startLocked moves a planned mission to running.
func (s *Service) startLocked(ctx context.Context, snap *domain.MissionSnapshot) error {
	if err := snap.Mission.TransitionTo(domain.MissionStatusRunning, s.now()); err != nil {
		return err
	}
	if err := s.save(ctx, snap); err != nil {
		return err
	}
	s.emit(ctx, snap.Mission.MissionID, domain.EventTypeMissionStarted, nil)
	return nil
}

// StartMission starts a mission created with start=false. Starting a
// running mission is a no-op that makes sure it has a runner.
func (s *Service) StartMission(ctx context.Context, missionID string) (*domain.MissionSummary, error) {
	unlock := s.locks.Lock(missionID)
	snap, err := s.load(ctx, missionID)
	if err != nil {
		unlock()
		return nil, err
	}

	switch snap.Mission.Status {
	case domain.MissionStatusPlanning:
		if snap.Plan == nil {
			if err := s.planLocked(ctx, snap); err != nil {
				unlock()
				return nil, err
			}
		}
		if snap.Mission.Status == domain.MissionStatusPlanning {
			if err := s.startLocked(ctx, snap); err != nil {
				unlock()
				return nil, err
			}
		}
	case domain.MissionStatusRunning:
	default:
		unlock()
		return nil, fmt.Errorf("%w: mission %s is %s", domain.ErrConflict, missionID, snap.Mission.Status)
	}
	summary := snap.Summary()
	unlock()

	if summary.Status == domain.MissionStatusRunning {
		s.launch(missionID)
	}
	return &summary, nil
}

// CancelMission moves a non-terminal mission to cancelled and cancels its
// in-flight expert calls. A pending checkpoint is closed as rejected by the
// system. Cancelling a cancelled mission returns its summary.
func (s *Service) CancelMission(ctx context.Context, missionID string, req domain.CancelMissionRequest) (*domain.MissionSummary, error) {
	unlock := s.locks.Lock(missionID)
	snap, err := s.load(ctx, missionID)
	if err != nil {
		unlock()
		return nil, err
	}

	if snap.Mission.Status == domain.MissionStatusCancelled {
		unlock()
		summary := snap.Summary()
		return &summary, nil
	}
	if snap.Mission.Status.IsTerminal() {
		unlock()
		return nil, fmt.Errorf("%w: mission %s is already %s", domain.ErrConflict, missionID, snap.Mission.Status)
	}

	reason := req.Reason
	if reason == "" {
		reason = "cancelled by caller"
	}
	closed := s.closeOpenCheckpoint(snap, "mission cancelled")
	if err := snap.Mission.TransitionTo(domain.MissionStatusCancelled, s.now()); err != nil {
		unlock()
		return nil, err
	}
	if err := s.save(ctx, snap); err != nil {
		unlock()
		return nil, err
	}
	if closed != nil {
		s.emit(ctx, missionID, domain.EventTypeCheckpointResolved, closed)
	}
	s.emit(ctx, missionID, domain.EventTypeMissionCancelled, domain.MissionCancelledPayload{Reason: reason})
	s.bus.Finish(missionID)
	summary := snap.Summary()
	unlock()

	s.cancelRunner(missionID)
	s.logger.Info("mission cancelled", "mission_id", missionID, "reason", reason)
	return &summary, nil
}

// GetMissionStatus returns the summary of a mission.
func (s *Service) GetMissionStatus(ctx context.Context, missionID string) (*domain.MissionSummary, error) {
	snap, err := s.load(ctx, missionID)
	if err != nil {
		return nil, err
	}
	summary := snap.Summary()
	return &summary, nil
}

// GetSnapshot returns the full persisted state of a mission.
func (s *Service) GetSnapshot(ctx context.Context, missionID string) (*domain.MissionSnapshot, error) {
	return s.load(ctx, missionID)
}

// ListMissions returns summaries of missions in any of statuses (all when
// empty), oldest update first.
func (s *Service) ListMissions(ctx context.Context, statuses []domain.MissionStatus, limit int) ([]domain.MissionSummary, error) {
	snaps, err := s.store.ListSnapshots(ctx, statuses, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list missions: %w", err)
	}
	out := make([]domain.MissionSummary, 0, len(snaps))
	for i := range snaps {
		out = append(out, snaps[i].Summary())
	}
	return out, nil
}

// failLocked moves the mission to failed and publishes the terminal event.
func (s *Service) failLocked(ctx context.Context, snap *domain.MissionSnapshot, failure domain.Failure) error {
	missionID := snap.Mission.MissionID
	closed := s.closeOpenCheckpoint(snap, "mission failed")
	if err := snap.Mission.TransitionTo(domain.MissionStatusFailed, s.now()); err != nil {
		return err
	}
	snap.Mission.Failure = &failure
	if err := s.save(ctx, snap); err != nil {
		s.logger.Error("failed to persist mission failure",
			"mission_id", missionID, "reason", failure.Reason, "error", err)
		return err
	}
	if closed != nil {
		s.emit(ctx, missionID, domain.EventTypeCheckpointResolved, closed)
	}
	s.emit(ctx, missionID, domain.EventTypeMissionFailed, domain.MissionFailedPayload{Failure: failure})
	s.bus.Finish(missionID)
	s.logger.Warn("mission failed",
		"mission_id", missionID, "reason", failure.Reason, "step", failure.StepIndex)
	return nil
}

// failPersistence records an exhausted persistence retry as the failure of
// the mission. The failure itself is written with a fresh attempt budget.
func (s *Service) failPersistence(ctx context.Context, snap *domain.MissionSnapshot, stepIndex int, cause error) {
	if !errors.Is(cause, domain.ErrPersistence) {
		cause = fmt.Errorf("%w: %v", domain.ErrPersistence, cause)
	}
	err := s.failLocked(ctx, snap, domain.Failure{
		Reason:    domain.FailurePersistence,
		StepIndex: stepIndex,
		Message:   cause.Error(),
	})
	if err != nil {
		s.logger.Error("mission left at last persisted state",
			"mission_id", snap.Mission.MissionID, "error", err)
	}
}

// closeOpenCheckpoint rejects a pending checkpoint on the engine's behalf
// and returns the event to publish once the snapshot is saved.
func (s *Service) closeOpenCheckpoint(snap *domain.MissionSnapshot, note string) *domain.CheckpointResolvedPayload {
	cp := snap.OpenCheckpoint()
	if cp == nil {
		return nil
	}
	_, applied, err := s.checkpoints.Resolve(cp, checkpoint.Decision{
		Resolution: domain.ResolutionRejected,
		Note:       note,
		ResolvedBy: checkpoint.SystemResolver,
	})
	if err != nil || !applied {
		return nil
	}
	return &domain.CheckpointResolvedPayload{
		CheckpointID: cp.CheckpointID,
		Resolution:   domain.ResolutionRejected,
		ResolvedBy:   checkpoint.SystemResolver,
		Note:         note,
	}
}

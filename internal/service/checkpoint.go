package service

import (
	"context"
	"fmt"

	"github.com/curatedhealth/missionengine/internal/checkpoint"
	"github.com/curatedhealth/missionengine/internal/domain"
)

// ResolveCheckpoint applies an external decision to a pending checkpoint.
// Approved and modified decisions resume the mission past the checkpoint;
// rejected fails it with reason checkpoint_rejected. Resolving an already
// resolved checkpoint returns the original signal and changes nothing.
func (s *Service) ResolveCheckpoint(ctx context.Context, checkpointID string, req domain.ResolveCheckpointRequest) (*domain.ResumeSignal, error) {
	missionID, err := s.store.LookupCheckpoint(ctx, checkpointID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up checkpoint: %w", err)
	}
	if missionID == "" {
		return nil, fmt.Errorf("%w: checkpoint %s", domain.ErrNotFound, checkpointID)
	}

	unlock := s.locks.Lock(missionID)
	snap, err := s.load(ctx, missionID)
	if err != nil {
		unlock()
		return nil, err
	}
	cp := snap.FindCheckpoint(checkpointID)
	if cp == nil {
		unlock()
		return nil, fmt.Errorf("%w: checkpoint %s", domain.ErrNotFound, checkpointID)
	}

	sig, applied, err := s.checkpoints.Resolve(cp, checkpoint.Decision{
		Resolution: req.Resolution,
		Content:    req.Content,
		Note:       req.Note,
		ResolvedBy: req.ResolvedBy,
	})
	if err != nil {
		unlock()
		return nil, err
	}
	if !applied {
		unlock()
		s.logger.Debug("checkpoint already resolved", "checkpoint_id", checkpointID, "resolution", sig.Resolution)
		return &sig, nil
	}

	resolved := domain.CheckpointResolvedPayload{
		CheckpointID: checkpointID,
		Resolution:   sig.Resolution,
		ResolvedBy:   cp.ResolvedBy,
		Note:         cp.ResolverNote,
	}

	if sig.Resolution == domain.ResolutionRejected {
		failure := domain.Failure{
			Reason:       domain.FailureCheckpointRejected,
			StepIndex:    cp.StepIndex,
			Message:      fmt.Sprintf("checkpoint %s rejected", checkpointID),
			ResolverNote: cp.ResolverNote,
		}
		if err := s.rejectLocked(ctx, snap, failure, resolved); err != nil {
			unlock()
			return nil, err
		}
		unlock()
		return &sig, nil
	}

	if sig.Resolution == domain.ResolutionModified {
		snap.WorkingContent = cp.ProposedContent
	}
	putStepRecord(snap, domain.StepRecord{
		StepIndex:   cp.StepIndex,
		Kind:        domain.StepKindCheckpoint,
		Output:      cp.ProposedContent,
		CompletedAt: sig.ResolvedAt,
	})
	snap.Mission.CurrentStepIndex = cp.StepIndex + 1
	if err := snap.Mission.TransitionTo(domain.MissionStatusRunning, s.now()); err != nil {
		unlock()
		return nil, err
	}
	if err := s.save(ctx, snap); err != nil {
		unlock()
		return nil, err
	}
	s.emit(ctx, missionID, domain.EventTypeCheckpointResolved, resolved)
	unlock()

	s.logger.Info("checkpoint resolved",
		"mission_id", missionID, "checkpoint_id", checkpointID, "resolution", sig.Resolution)
	s.launch(missionID)
	return &sig, nil
}

// rejectLocked fails the mission after a rejected checkpoint.
func (s *Service) rejectLocked(ctx context.Context, snap *domain.MissionSnapshot, failure domain.Failure, resolved domain.CheckpointResolvedPayload) error {
	missionID := snap.Mission.MissionID
	if err := snap.Mission.TransitionTo(domain.MissionStatusFailed, s.now()); err != nil {
		return err
	}
	snap.Mission.Failure = &failure
	if err := s.save(ctx, snap); err != nil {
		return err
	}
	s.emit(ctx, missionID, domain.EventTypeCheckpointResolved, resolved)
	s.emit(ctx, missionID, domain.EventTypeMissionFailed, domain.MissionFailedPayload{Failure: failure})
	s.bus.Finish(missionID)
	s.logger.Info("checkpoint rejected", "mission_id", missionID, "checkpoint_id", resolved.CheckpointID)
	return nil
}

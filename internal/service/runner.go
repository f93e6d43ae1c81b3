package service

import (
	"context"
	"fmt"

	"github.com/curatedhealth/missionengine/internal/domain"
	"github.com/curatedhealth/missionengine/internal/pool"
)

// claim registers the caller as the single driver of missionID. If another
// driver holds the mission it is asked to take one more pass instead.
func (s *Service) claim(missionID string, cancel context.CancelFunc) bool {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.closed {
		return false
	}
	if r, ok := s.runners[missionID]; ok {
		r.rerun = true
		return false
	}
	s.runners[missionID] = &runner{cancel: cancel}
	return true
}

// release drops the driver entry unless a rerun was requested meanwhile.
func (s *Service) release(missionID string) (again bool) {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	r, ok := s.runners[missionID]
	if !ok {
		return false
	}
	if r.rerun && !s.closed {
		r.rerun = false
		return true
	}
	delete(s.runners, missionID)
	return false
}

// launch starts a background driver for missionID if none is running.
func (s *Service) launch(missionID string) {
	ctx, cancel := context.WithCancel(s.baseCtx)
	if !s.claim(missionID, cancel) {
		cancel()
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		for {
			s.drive(ctx, missionID)
			if ctx.Err() != nil || !s.release(missionID) {
				break
			}
		}
		if ctx.Err() != nil {
			s.runMu.Lock()
			delete(s.runners, missionID)
			s.runMu.Unlock()
		}
	}()
}

// cancelRunner cancels the in-flight step of missionID, if any.
func (s *Service) cancelRunner(missionID string) {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if r, ok := s.runners[missionID]; ok {
		r.cancel()
	}
}

// drive advances the mission until it stops running.
func (s *Service) drive(ctx context.Context, missionID string) {
	for ctx.Err() == nil {
		more, err := s.advance(ctx, missionID)
		if err != nil {
			s.logger.Error("mission runner stopped", "mission_id", missionID, "error", err)
			return
		}
		if !more {
			return
		}
	}
}

// AdvanceMission executes exactly one step of a mission synchronously and
// returns the resulting summary. A mission still in planning is started
// first. It fails with ErrConflict while a background runner drives the
// mission.
func (s *Service) AdvanceMission(ctx context.Context, missionID string) (*domain.MissionSummary, error) {
	stepCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if !s.claim(missionID, cancel) {
		return nil, fmt.Errorf("%w: mission %s is being driven", domain.ErrConflict, missionID)
	}
	defer func() {
		if s.release(missionID) {
			s.runMu.Lock()
			delete(s.runners, missionID)
			s.runMu.Unlock()
			s.launch(missionID)
		}
	}()

	unlock := s.locks.Lock(missionID)
	snap, err := s.load(ctx, missionID)
	if err == nil && snap.Mission.Status == domain.MissionStatusPlanning {
		if snap.Plan == nil {
			err = s.planLocked(ctx, snap)
		}
		if err == nil && snap.Mission.Status == domain.MissionStatusPlanning {
			err = s.startLocked(ctx, snap)
		}
	}
	unlock()
	if err != nil {
		return nil, err
	}

	if _, err := s.advance(stepCtx, missionID); err != nil {
		return nil, err
	}
	return s.GetMissionStatus(ctx, missionID)
}

// advance executes the current step of a running mission. It reports
// whether the mission is still running afterwards. Expert calls happen with
// the mission lock released; the outcome is applied only if the mission has
// not moved meanwhile.
func (s *Service) advance(ctx context.Context, missionID string) (bool, error) {
	ctx = withMissionID(ctx, missionID)
	storeCtx := context.WithoutCancel(ctx)

	unlock := s.locks.Lock(missionID)
	snap, err := s.load(storeCtx, missionID)
	if err != nil {
		unlock()
		return false, err
	}
	if snap.Mission.Status != domain.MissionStatusRunning {
		unlock()
		return false, nil
	}
	current := snap.CurrentStep()
	if current == nil {
		err := s.completeLocked(storeCtx, snap)
		unlock()
		return false, err
	}
	step := *current
	s.emit(storeCtx, missionID, domain.EventTypeStepStarted, domain.StepStartedPayload{
		StepIndex:  step.Index,
		Kind:       step.Kind,
		ExpertRefs: step.ExpertRefs,
	})

	if !callsExperts(step) {
		more, err := s.applyLocalStep(storeCtx, snap, step)
		unlock()
		return more, err
	}
	mc := pool.MissionContext{
		MissionID: missionID,
		Question:  snap.Mission.Question,
		Content:   snap.WorkingContent,
	}
	unlock()

	outcome := s.pool.ExecuteStep(ctx, step, mc)

	if ctx.Err() != nil {
		// Cancelled or shutting down: the step re-executes on resume.
		s.logger.Info("discarding interrupted step", "mission_id", missionID, "step", step.Index)
		return false, nil
	}

	unlock = s.locks.Lock(missionID)
	defer unlock()
	snap, err = s.load(storeCtx, missionID)
	if err != nil {
		return false, err
	}
	if snap.Mission.Status != domain.MissionStatusRunning || snap.Mission.CurrentStepIndex != step.Index {
		s.logger.Info("discarding stale step outcome",
			"mission_id", missionID, "step", step.Index, "status", snap.Mission.Status)
		return false, nil
	}
	return s.applyExpertStep(storeCtx, snap, step, outcome)
}

func callsExperts(step domain.Step) bool {
	switch step.Kind {
	case domain.StepKindDispatchExperts:
		return true
	case domain.StepKindSynthesize:
		return len(step.ExpertRefs) > 0
	}
	return false
}

// applyExpertStep records the outcome of a dispatch or synthesize step.
func (s *Service) applyExpertStep(ctx context.Context, snap *domain.MissionSnapshot, step domain.Step, outcome pool.StepOutcome) (bool, error) {
	if !outcome.AnySuccess() {
		failure := domain.Failure{
			Reason:     pool.DominantFailure(outcome.Results),
			StepIndex:  step.Index,
			Message:    fmt.Sprintf("all %d expert calls of step %d failed", len(outcome.Results), step.Index),
			LastErrors: outcome.Results,
		}
		s.emitStepCompleted(ctx, snap.Mission.MissionID, step, outcome)
		if err := s.failLocked(ctx, snap, failure); err != nil {
			return false, err
		}
		return false, nil
	}

	merged := pool.Merge(outcome.Results)
	snap.WorkingContent = merged
	if step.Kind == domain.StepKindSynthesize {
		snap.Output = merged
	}
	return s.completeStepLocked(ctx, snap, domain.StepRecord{
		StepIndex: step.Index,
		Kind:      step.Kind,
		Results:   outcome.Results,
		Output:    merged,
	}, &outcome)
}

// applyLocalStep runs a step that needs no expert call.
func (s *Service) applyLocalStep(ctx context.Context, snap *domain.MissionSnapshot, step domain.Step) (bool, error) {
	missionID := snap.Mission.MissionID
	switch step.Kind {
	case domain.StepKindAggregate:
		if rec := lastDispatch(snap, step.Index); rec != nil {
			snap.WorkingContent = pool.Merge(rec.Results)
		}
		return s.completeStepLocked(ctx, snap, domain.StepRecord{
			StepIndex: step.Index,
			Kind:      step.Kind,
			Output:    snap.WorkingContent,
		}, nil)

	case domain.StepKindSynthesize:
		snap.Output = snap.WorkingContent
		return s.completeStepLocked(ctx, snap, domain.StepRecord{
			StepIndex: step.Index,
			Kind:      step.Kind,
			Output:    snap.Output,
		}, nil)

	case domain.StepKindCheckpoint:
		cp := s.checkpoints.Create(missionID, step, snap.WorkingContent, step.IsBlocking)
		created := domain.CheckpointCreatedPayload{
			CheckpointID:    cp.CheckpointID,
			StepIndex:       cp.StepIndex,
			Reason:          cp.Reason,
			ProposedContent: cp.ProposedContent,
			Blocking:        cp.Blocking,
		}
		if !step.IsBlocking {
			sig := s.checkpoints.AutoApprove(&cp)
			snap.Checkpoints = append(snap.Checkpoints, cp)
			s.emit(ctx, missionID, domain.EventTypeCheckpointCreated, created)
			s.emit(ctx, missionID, domain.EventTypeCheckpointResolved, domain.CheckpointResolvedPayload{
				CheckpointID: cp.CheckpointID,
				Resolution:   sig.Resolution,
				ResolvedBy:   cp.ResolvedBy,
				Note:         cp.ResolverNote,
			})
			return s.completeStepLocked(ctx, snap, domain.StepRecord{
				StepIndex: step.Index,
				Kind:      step.Kind,
				Output:    snap.WorkingContent,
			}, nil)
		}

		snap.Checkpoints = append(snap.Checkpoints, cp)
		if err := snap.Mission.TransitionTo(domain.MissionStatusAwaitingCheckpoint, s.now()); err != nil {
			return false, err
		}
		// The checkpoint must be durable before anyone can see or resolve it.
		if err := s.save(ctx, snap); err != nil {
			snap.Checkpoints = snap.Checkpoints[:len(snap.Checkpoints)-1]
			snap.Mission.Status = domain.MissionStatusRunning
			s.failPersistence(ctx, snap, step.Index, err)
			return false, nil
		}
		s.emit(ctx, missionID, domain.EventTypeCheckpointCreated, created)
		s.logger.Info("mission awaiting checkpoint",
			"mission_id", missionID, "step", step.Index, "checkpoint_id", cp.CheckpointID)
		return false, nil
	}
	return false, fmt.Errorf("unknown step kind %q at step %d", step.Kind, step.Index)
}

// lastDispatch returns the latest dispatch record before index.
func lastDispatch(snap *domain.MissionSnapshot, index int) *domain.StepRecord {
	for i := index - 1; i >= 0; i-- {
		rec := snap.StepRecordAt(i)
		if rec != nil && rec.Kind == domain.StepKindDispatchExperts {
			return rec
		}
	}
	return nil
}

// completeStepLocked records rec, moves the cursor past it and persists.
// The step counts as complete only once the save succeeded. Completing the
// last step completes the mission in the same write.
func (s *Service) completeStepLocked(ctx context.Context, snap *domain.MissionSnapshot, rec domain.StepRecord, outcome *pool.StepOutcome) (bool, error) {
	rec.CompletedAt = s.now()
	putStepRecord(snap, rec)
	snap.Mission.CurrentStepIndex = rec.StepIndex + 1

	done := snap.CurrentStep() == nil
	if done {
		if snap.Output == "" {
			snap.Output = snap.WorkingContent
		}
		if err := snap.Mission.TransitionTo(domain.MissionStatusCompleted, s.now()); err != nil {
			return false, err
		}
	}
	if err := s.save(ctx, snap); err != nil {
		snap.Mission.Status = domain.MissionStatusRunning
		s.failPersistence(ctx, snap, rec.StepIndex, err)
		return false, nil
	}

	var out pool.StepOutcome
	if outcome != nil {
		out = *outcome
	}
	s.emitStepCompleted(ctx, snap.Mission.MissionID, snap.Plan.Steps[rec.StepIndex], out)
	if done {
		s.finishCompleted(ctx, snap)
		return false, nil
	}
	return true, nil
}

func putStepRecord(snap *domain.MissionSnapshot, rec domain.StepRecord) {
	for i := range snap.Steps {
		if snap.Steps[i].StepIndex == rec.StepIndex {
			snap.Steps[i] = rec
			return
		}
	}
	snap.Steps = append(snap.Steps, rec)
}

// completeLocked completes a running mission whose cursor is already past
// the last step.
func (s *Service) completeLocked(ctx context.Context, snap *domain.MissionSnapshot) error {
	if snap.Output == "" {
		snap.Output = snap.WorkingContent
	}
	if err := snap.Mission.TransitionTo(domain.MissionStatusCompleted, s.now()); err != nil {
		return err
	}
	if err := s.save(ctx, snap); err != nil {
		snap.Mission.Status = domain.MissionStatusRunning
		s.failPersistence(ctx, snap, snap.Mission.CurrentStepIndex-1, err)
		return nil
	}
	s.finishCompleted(ctx, snap)
	return nil
}

func (s *Service) finishCompleted(ctx context.Context, snap *domain.MissionSnapshot) {
	missionID := snap.Mission.MissionID
	s.emit(ctx, missionID, domain.EventTypeMissionCompleted, domain.MissionCompletedPayload{Output: snap.Output})
	s.bus.Finish(missionID)
	s.logger.Info("mission completed", "mission_id", missionID, "steps", len(snap.Steps))
}

func (s *Service) emitStepCompleted(ctx context.Context, missionID string, step domain.Step, outcome pool.StepOutcome) {
	s.emit(ctx, missionID, domain.EventTypeStepCompleted, domain.StepCompletedPayload{
		StepIndex:  step.Index,
		Kind:       step.Kind,
		Successes:  outcome.Successes,
		Failures:   outcome.Failures,
		DurationMs: outcome.Duration.Milliseconds(),
	})
}

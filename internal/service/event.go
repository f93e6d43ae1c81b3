package service

import (
	"context"
	"fmt"

	"github.com/curatedhealth/missionengine/internal/domain"
	"github.com/curatedhealth/missionengine/internal/eventbus"
)

// emit publishes an event. A failed publish is logged and does not affect
// the mission: the snapshot, not the event log, is the source of truth.
func (s *Service) emit(ctx context.Context, missionID string, eventType domain.EventType, payload interface{}) {
	if _, err := s.bus.Publish(ctx, missionID, eventType, payload); err != nil {
		s.logger.Error("failed to publish event",
			"mission_id", missionID, "type", eventType, "error", err)
	}
}

// ExpertStarted implements pool.Observer.
func (s *Service) ExpertStarted(ctx context.Context, step domain.Step, req domain.ExpertRequest, ref string) {
	s.emitWhileRunning(context.WithoutCancel(ctx), req.MissionID, domain.EventTypeExpertStarted, domain.ExpertStartedPayload{
		StepIndex: step.Index,
		ExpertRef: ref,
		RequestID: req.RequestID,
	})
}

// ExpertFinished implements pool.Observer.
func (s *Service) ExpertFinished(ctx context.Context, step domain.Step, result domain.ExpertResult) {
	missionID, ok := missionIDFromContext(ctx)
	if !ok {
		return
	}
	s.emitWhileRunning(context.WithoutCancel(ctx), missionID, domain.EventTypeExpertFinished, domain.ExpertFinishedPayload{
		StepIndex: step.Index,
		Result:    result,
	})
}

// emitWhileRunning publishes an expert event only while the mission is
// running. Calls that return after cancellation or failure are dropped so
// the terminal event stays last in the log.
func (s *Service) emitWhileRunning(ctx context.Context, missionID string, eventType domain.EventType, payload interface{}) {
	unlock := s.locks.Lock(missionID)
	defer unlock()

	snap, err := s.load(ctx, missionID)
	if err != nil {
		s.logger.Warn("dropping expert event", "mission_id", missionID, "type", eventType, "error", err)
		return
	}
	if snap.Mission.Status != domain.MissionStatusRunning {
		s.logger.Debug("dropping expert event for stopped mission",
			"mission_id", missionID, "type", eventType, "status", snap.Mission.Status)
		return
	}
	s.emit(ctx, missionID, eventType, payload)
}

type missionIDKey struct{}

func withMissionID(ctx context.Context, missionID string) context.Context {
	return context.WithValue(ctx, missionIDKey{}, missionID)
}

func missionIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(missionIDKey{}).(string)
	return id, ok && id != ""
}

// ListEvents returns stored events of a mission with seq > afterSeq.
func (s *Service) ListEvents(ctx context.Context, missionID string, afterSeq int64, limit int) (*domain.ListEventsResponse, error) {
	if _, err := s.load(ctx, missionID); err != nil {
		return nil, err
	}
	events, err := s.bus.Replay(ctx, missionID, afterSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	if events == nil {
		events = []domain.Event{}
	}
	next := afterSeq
	if n := len(events); n > 0 {
		next = events[n-1].Seq
	}
	return &domain.ListEventsResponse{MissionID: missionID, Events: events, NextSeq: next}, nil
}

// Subscribe streams the events of a mission with seq > afterSeq. The stream
// follows live events until the mission reaches a terminal status; for a
// mission that already has, it closes after replay.
func (s *Service) Subscribe(ctx context.Context, missionID string, afterSeq int64) (*eventbus.Subscription, error) {
	unlock := s.locks.Lock(missionID)
	defer unlock()

	snap, err := s.load(ctx, missionID)
	if err != nil {
		return nil, err
	}
	return s.bus.Subscribe(ctx, missionID, afterSeq, !snap.Mission.Status.IsTerminal())
}

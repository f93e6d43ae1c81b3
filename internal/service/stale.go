package service

import (
	"context"
	"time"

	"github.com/curatedhealth/missionengine/internal/checkpoint"
	"github.com/curatedhealth/missionengine/internal/domain"
)

// RunStaleCheckpointMonitor periodically reports checkpoints pending longer
// than the configured threshold. It never resolves them. Returns when ctx
// is done; a zero threshold disables the monitor.
func (s *Service) RunStaleCheckpointMonitor(ctx context.Context) {
	if s.config.CheckpointStaleAfter <= 0 {
		return
	}
	interval := s.config.StaleSweepInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepStaleCheckpoints(ctx)
		}
	}
}

// SweepStaleCheckpoints runs one pass of the stale checkpoint alarm and
// returns how many checkpoints were reported.
func (s *Service) SweepStaleCheckpoints(ctx context.Context) int {
	sweepCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	snaps, err := s.store.ListSnapshots(sweepCtx, []domain.MissionStatus{domain.MissionStatusAwaitingCheckpoint}, 100)
	if err != nil {
		s.logger.Warn("stale checkpoint sweep failed", "error", err)
		return 0
	}

	reported := 0
	for _, st := range checkpoint.FindStale(snaps, s.now(), s.config.CheckpointStaleAfter) {
		ok, err := s.markStale(sweepCtx, st)
		if err != nil {
			s.logger.Warn("failed to mark checkpoint stale",
				"mission_id", st.MissionID, "checkpoint_id", st.CheckpointID, "error", err)
			continue
		}
		if ok {
			reported++
		}
	}
	return reported
}

// markStale stamps the checkpoint and publishes checkpoint_stale, unless it
// was resolved or reported since the sweep listed it.
func (s *Service) markStale(ctx context.Context, st checkpoint.Stale) (bool, error) {
	unlock := s.locks.Lock(st.MissionID)
	defer unlock()

	snap, err := s.load(ctx, st.MissionID)
	if err != nil {
		return false, err
	}
	cp := snap.FindCheckpoint(st.CheckpointID)
	if cp == nil || !cp.Pending() || cp.StaleNotifiedAt != nil {
		return false, nil
	}
	now := s.now()
	cp.StaleNotifiedAt = &now
	if err := s.save(ctx, snap); err != nil {
		return false, err
	}
	s.emit(ctx, st.MissionID, domain.EventTypeCheckpointStale, domain.CheckpointStalePayload{
		CheckpointID: st.CheckpointID,
		PendingForMs: st.Age.Milliseconds(),
	})
	s.logger.Warn("checkpoint pending too long",
		"mission_id", st.MissionID, "checkpoint_id", st.CheckpointID, "age", st.Age.String())
	return true, nil
}

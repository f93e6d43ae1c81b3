package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curatedhealth/missionengine/internal/domain"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testSnapshot(id string, status domain.MissionStatus) *domain.MissionSnapshot {
	now := time.Now().UTC()
	return &domain.MissionSnapshot{
		Mission: domain.Mission{
			MissionID:        id,
			Mode:             domain.ModeAutonomousTeam,
			Question:         "what is the dosage?",
			CandidateExperts: []string{"pharma", "clinical"},
			Status:           status,
			CreatedAt:        now,
			UpdatedAt:        now,
		},
		Plan: &domain.Plan{
			Version: 1,
			Mode:    domain.ModeAutonomousTeam,
			Steps: []domain.Step{
				{Index: 0, Kind: domain.StepKindDispatchExperts, ExpertRefs: []string{"pharma", "clinical"}, Concurrency: domain.ConcurrencyParallel},
				{Index: 1, Kind: domain.StepKindSynthesize},
			},
			CreatedAt: now,
		},
	}
}

func TestSQLiteStoreSnapshotRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	snap := testSnapshot("m1", domain.MissionStatusRunning)
	snap.Steps = []domain.StepRecord{{
		StepIndex: 0,
		Kind:      domain.StepKindDispatchExperts,
		Results: []domain.ExpertResult{
			{ExpertRef: "pharma", Status: domain.ExpertStatusSuccess, Payload: "10mg"},
			{ExpertRef: "clinical", Status: domain.ExpertStatusTimeout, ErrorDetail: "deadline exceeded"},
		},
	}}
	snap.Mission.CurrentStepIndex = 1
	snap.Revision = 3
	require.NoError(t, store.SaveSnapshot(ctx, snap))

	got, err := store.LoadSnapshot(ctx, "m1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, domain.MissionStatusRunning, got.Mission.Status)
	assert.Equal(t, 1, got.Mission.CurrentStepIndex)
	assert.Equal(t, int64(3), got.Revision)
	require.Len(t, got.Steps, 1)
	assert.Equal(t, "10mg", got.Steps[0].Results[0].Payload)
	assert.Equal(t, domain.ExpertStatusTimeout, got.Steps[0].Results[1].Status)

	// Overwrite.
	snap.Mission.Status = domain.MissionStatusCompleted
	snap.Output = "final"
	require.NoError(t, store.SaveSnapshot(ctx, snap))
	got, err = store.LoadSnapshot(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, domain.MissionStatusCompleted, got.Mission.Status)
	assert.Equal(t, "final", got.Output)
}

func TestSQLiteStoreLoadMissing(t *testing.T) {
	store := newTestStore(t)
	got, err := store.LoadSnapshot(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, got)

	missionID, err := store.LookupCheckpoint(context.Background(), "cp_nope")
	require.NoError(t, err)
	assert.Empty(t, missionID)
}

func TestSQLiteStoreCheckpointIndex(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	snap := testSnapshot("m1", domain.MissionStatusAwaitingCheckpoint)
	snap.Checkpoints = []domain.Checkpoint{{
		CheckpointID: "cp_1",
		MissionID:    "m1",
		StepIndex:    2,
		Blocking:     true,
		CreatedAt:    time.Now(),
	}}
	require.NoError(t, store.SaveSnapshot(ctx, snap))

	missionID, err := store.LookupCheckpoint(ctx, "cp_1")
	require.NoError(t, err)
	assert.Equal(t, "m1", missionID)

	approved := domain.ResolutionApproved
	snap.Checkpoints[0].Resolution = &approved
	require.NoError(t, store.SaveSnapshot(ctx, snap))

	got, err := store.LoadSnapshot(ctx, "m1")
	require.NoError(t, err)
	require.NotNil(t, got.Checkpoints[0].Resolution)
	assert.Equal(t, domain.ResolutionApproved, *got.Checkpoints[0].Resolution)
}

func TestSQLiteStoreListSnapshotsByStatus(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.SaveSnapshot(ctx, testSnapshot("m1", domain.MissionStatusRunning)))
	require.NoError(t, store.SaveSnapshot(ctx, testSnapshot("m2", domain.MissionStatusCompleted)))
	require.NoError(t, store.SaveSnapshot(ctx, testSnapshot("m3", domain.MissionStatusAwaitingCheckpoint)))

	snaps, err := store.ListSnapshots(ctx, []domain.MissionStatus{domain.MissionStatusRunning, domain.MissionStatusAwaitingCheckpoint}, 0)
	require.NoError(t, err)
	ids := make([]string, 0, len(snaps))
	for _, s := range snaps {
		ids = append(ids, s.Mission.MissionID)
	}
	assert.ElementsMatch(t, []string{"m1", "m3"}, ids)

	all, err := store.ListSnapshots(ctx, nil, 2)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestSQLiteStoreEvents(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	seq, err := store.LastEventSeq(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), seq)

	for i := int64(1); i <= 5; i++ {
		ev, err := domain.NewEvent("m1", domain.EventTypeStepStarted, domain.StepStartedPayload{StepIndex: int(i)})
		require.NoError(t, err)
		ev.Seq = i
		require.NoError(t, store.AppendEvent(ctx, &ev))
	}

	dup := domain.Event{MissionID: "m1", Seq: 3, Type: domain.EventTypeStepStarted}
	assert.Error(t, store.AppendEvent(ctx, &dup))

	seq, err = store.LastEventSeq(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, int64(5), seq)

	events, err := store.ListEvents(ctx, "m1", 2, 0)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, int64(3), events[0].Seq)
	assert.Equal(t, int64(5), events[2].Seq)
	assert.JSONEq(t, `{"step_index":3,"kind":""}`, string(events[0].Payload))

	limited, err := store.ListEvents(ctx, "m1", 0, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

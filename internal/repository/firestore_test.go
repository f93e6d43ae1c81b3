package repository

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curatedhealth/missionengine/internal/domain"
)

// newFirestoreTestStore connects to the Firestore emulator. Each test gets
// its own project so collections never overlap.
func newFirestoreTestStore(t *testing.T) *FirestoreStore {
	t.Helper()
	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	store, err := NewFirestoreStore(ctx, "missionengine-"+uuid.NewString()[:8])
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestFirestoreStoreSnapshotRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newFirestoreTestStore(t)

	missing, err := store.LoadSnapshot(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	snap := testSnapshot("m1", domain.MissionStatusAwaitingCheckpoint)
	snap.Revision = 2
	snap.Checkpoints = []domain.Checkpoint{{
		CheckpointID: "cp_1",
		MissionID:    "m1",
		StepIndex:    1,
		Blocking:     true,
		CreatedAt:    time.Now().UTC(),
	}}
	require.NoError(t, store.SaveSnapshot(ctx, snap))

	got, err := store.LoadSnapshot(ctx, "m1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(2), got.Revision)
	assert.Equal(t, domain.MissionStatusAwaitingCheckpoint, got.Mission.Status)
	require.Len(t, got.Checkpoints, 1)

	missionID, err := store.LookupCheckpoint(ctx, "cp_1")
	require.NoError(t, err)
	assert.Equal(t, "m1", missionID)

	missionID, err = store.LookupCheckpoint(ctx, "cp_unknown")
	require.NoError(t, err)
	assert.Empty(t, missionID)
}

func TestFirestoreStoreListSnapshotsOldestUpdateFirst(t *testing.T) {
	ctx := context.Background()
	store := newFirestoreTestStore(t)

	base := time.Now().UTC().Truncate(time.Millisecond)
	updates := []struct {
		id     string
		status domain.MissionStatus
		offset time.Duration
	}{
		{"m_new", domain.MissionStatusRunning, 3 * time.Minute},
		{"m_done", domain.MissionStatusCompleted, 0},
		{"m_old", domain.MissionStatusRunning, time.Minute},
		{"m_mid", domain.MissionStatusAwaitingCheckpoint, 2 * time.Minute},
	}
	for _, u := range updates {
		snap := testSnapshot(u.id, u.status)
		snap.Mission.UpdatedAt = base.Add(u.offset)
		require.NoError(t, store.SaveSnapshot(ctx, snap))
	}

	snaps, err := store.ListSnapshots(ctx, []domain.MissionStatus{domain.MissionStatusRunning, domain.MissionStatusAwaitingCheckpoint}, 0)
	require.NoError(t, err)
	ids := make([]string, 0, len(snaps))
	for _, s := range snaps {
		ids = append(ids, s.Mission.MissionID)
	}
	assert.Equal(t, []string{"m_old", "m_mid", "m_new"}, ids)

	limited, err := store.ListSnapshots(ctx, nil, 2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
	assert.Equal(t, "m_done", limited[0].Mission.MissionID)
	assert.Equal(t, "m_old", limited[1].Mission.MissionID)
}

func TestFirestoreStoreEvents(t *testing.T) {
	ctx := context.Background()
	store := newFirestoreTestStore(t)

	seq, err := store.LastEventSeq(ctx, "m1")
	require.NoError(t, err)
	assert.Zero(t, seq)

	for i := int64(1); i <= 4; i++ {
		ev, err := domain.NewEvent("m1", domain.EventTypeStepStarted, domain.StepStartedPayload{StepIndex: int(i)})
		require.NoError(t, err)
		ev.Seq = i
		require.NoError(t, store.AppendEvent(ctx, &ev))
	}

	dup := domain.Event{MissionID: "m1", Seq: 2, Type: domain.EventTypeStepStarted}
	assert.ErrorIs(t, store.AppendEvent(ctx, &dup), domain.ErrConflict)

	seq, err = store.LastEventSeq(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, int64(4), seq)

	events, err := store.ListEvents(ctx, "m1", 1, 2)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, int64(2), events[0].Seq)
	assert.Equal(t, int64(3), events[1].Seq)
	assert.JSONEq(t, `{"step_index":2,"kind":""}`, string(events[0].Payload))
}

package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMissionTransitions(t *testing.T) {
	now := time.Now()
	m := &Mission{MissionID: "m1", Status: MissionStatusPlanning}

	require.NoError(t, m.TransitionTo(MissionStatusRunning, now))
	require.NoError(t, m.TransitionTo(MissionStatusAwaitingCheckpoint, now))
	require.NoError(t, m.TransitionTo(MissionStatusRunning, now))
	require.NoError(t, m.TransitionTo(MissionStatusCompleted, now))

	for _, to := range []MissionStatus{
		MissionStatusPlanning, MissionStatusRunning, MissionStatusAwaitingCheckpoint,
		MissionStatusFailed, MissionStatusCancelled,
	} {
		err := m.TransitionTo(to, now)
		assert.True(t, errors.Is(err, ErrIllegalTransition), "completed -> %s should be rejected", to)
	}
	assert.Equal(t, MissionStatusCompleted, m.Status)
}

func TestMissionTransitionsAreMonotonic(t *testing.T) {
	assert.False(t, CanTransition(MissionStatusRunning, MissionStatusPlanning))
	assert.False(t, CanTransition(MissionStatusAwaitingCheckpoint, MissionStatusCompleted))
	assert.True(t, CanTransition(MissionStatusAwaitingCheckpoint, MissionStatusCancelled))
	assert.True(t, CanTransition(MissionStatusPlanning, MissionStatusFailed))
}

func TestSnapshotValidate(t *testing.T) {
	res := ResolutionApproved
	snap := &MissionSnapshot{
		Mission: Mission{MissionID: "m1", Status: MissionStatusRunning, CurrentStepIndex: 2},
		Plan: &Plan{Steps: []Step{
			{Index: 0, Kind: StepKindDispatchExperts},
			{Index: 1, Kind: StepKindCheckpoint},
			{Index: 2, Kind: StepKindSynthesize},
		}},
		Steps: []StepRecord{{StepIndex: 0}, {StepIndex: 1}},
		Checkpoints: []Checkpoint{
			{CheckpointID: "cp1", StepIndex: 1, Resolution: &res},
		},
	}
	require.NoError(t, snap.Validate())
	assert.Equal(t, StepKindSynthesize, snap.CurrentStep().Kind)

	snap.Steps = snap.Steps[:1]
	assert.Error(t, snap.Validate())

	snap.Steps = append(snap.Steps, StepRecord{StepIndex: 1})
	snap.Checkpoints = append(snap.Checkpoints, Checkpoint{CheckpointID: "cp2", StepIndex: 2})
	assert.Error(t, snap.Validate(), "pending checkpoint requires awaiting_checkpoint")

	snap.Mission.Status = MissionStatusAwaitingCheckpoint
	assert.NoError(t, snap.Validate())
	assert.Equal(t, "cp2", snap.Summary().PendingCheckpoint.CheckpointID)
}

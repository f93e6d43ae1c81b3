package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curatedhealth/missionengine/internal/domain"
	"github.com/curatedhealth/missionengine/tests/helpers"
)

type resultKey struct {
	Ref     string
	Status  domain.ExpertStatus
	Payload string
}

func resultKeys(snap *domain.MissionSnapshot) []resultKey {
	var out []resultKey
	for _, r := range snap.ExpertResults() {
		out = append(out, resultKey{Ref: r.ExpertRef, Status: r.Status, Payload: r.Payload})
	}
	return out
}

func TestResumeAfterEveryStepMatchesUninterruptedRun(t *testing.T) {
	ctx := context.Background()
	newCaller := func() *helpers.ScriptedCaller {
		return helpers.NewScriptedCaller().
			Set("A", helpers.Script{Delay: 10 * time.Millisecond}).
			Set("B", helpers.Script{Content: "B sees risk"}).
			Set("C", helpers.Script{Block: true})
	}
	start := false
	req := domain.CreateMissionRequest{
		MissionID:        "thread-42",
		Mode:             domain.ModeAutonomousTeam,
		Question:         "q",
		CandidateExperts: []string{"A", "B", "C"},
	}
	cfg := testConfig()
	cfg.StepTimeout = 150 * time.Millisecond

	// Uninterrupted.
	straight := newTestService(t, helpers.NewTestSQLiteStore(t), newCaller(), cfg, advisoryGate(t))
	_, err := straight.CreateMission(ctx, req)
	require.NoError(t, err)
	waitForStatus(t, straight, req.MissionID, domain.MissionStatusCompleted)
	want, err := straight.GetSnapshot(ctx, req.MissionID)
	require.NoError(t, err)

	// A fresh process per step over the same store.
	st := helpers.NewTestSQLiteStore(t)
	req.Start = &start
	first := newTestService(t, st, newCaller(), cfg, advisoryGate(t))
	_, err = first.CreateMission(ctx, req)
	require.NoError(t, err)
	first.Close()

	for i := 0; i < 10; i++ {
		svc := newTestService(t, st, newCaller(), cfg, advisoryGate(t))
		sum, err := svc.AdvanceMission(ctx, req.MissionID)
		require.NoError(t, err)
		svc.Close()
		if sum.Status.IsTerminal() {
			break
		}
	}
	got, err := st.LoadSnapshot(ctx, req.MissionID)
	require.NoError(t, err)

	assert.Equal(t, want.Mission.Status, got.Mission.Status)
	assert.Equal(t, domain.MissionStatusCompleted, got.Mission.Status)
	assert.Equal(t, resultKeys(want), resultKeys(got))
	assert.Equal(t, want.Output, got.Output)
	assert.Equal(t, want.Mission.CurrentStepIndex, got.Mission.CurrentStepIndex)

	// Sequence numbers continue across processes.
	reader := newTestService(t, st, newCaller(), cfg, advisoryGate(t))
	requireGapless(t, listAllEvents(t, reader, req.MissionID))
}

func TestResumeReexecutesInFlightStep(t *testing.T) {
	ctx := context.Background()
	st := helpers.NewTestSQLiteStore(t)

	crashing := helpers.NewScriptedCaller().Set("A", helpers.Script{Block: true})
	svc1 := newTestService(t, st, crashing, testConfig(), nil)
	resp, err := svc1.CreateMission(ctx, domain.CreateMissionRequest{
		Mode:             domain.ModeManualInteractive,
		Question:         "q",
		CandidateExperts: []string{"A"},
	})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return crashing.Calls("A") == 1 }, 2*time.Second, 5*time.Millisecond)
	svc1.Close()

	snap, err := st.LoadSnapshot(ctx, resp.MissionID)
	require.NoError(t, err)
	assert.Equal(t, domain.MissionStatusRunning, snap.Mission.Status)
	assert.Equal(t, 0, snap.Mission.CurrentStepIndex)
	assert.Empty(t, snap.Steps)

	healthy := helpers.NewScriptedCaller()
	svc2 := newTestService(t, st, healthy, testConfig(), nil)
	n, err := svc2.ResumeActive(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	sum := waitForStatus(t, svc2, resp.MissionID, domain.MissionStatusCompleted)
	assert.Equal(t, "A answer", sum.Output)

	// The re-executed call is fenced by the same request id.
	require.Len(t, healthy.Requests(), 1)
	assert.Equal(t, crashing.Requests()[0].RequestID, healthy.Requests()[0].RequestID)
	assert.Equal(t, resp.MissionID+"/0/A", healthy.Requests()[0].RequestID)

	types := eventTypes(listAllEvents(t, svc2, resp.MissionID))
	assert.Contains(t, types, domain.EventTypeMissionResumed)
}

func TestResumeLeavesSuspendedAndTerminalMissions(t *testing.T) {
	ctx := context.Background()
	st := helpers.NewTestSQLiteStore(t)
	caller := helpers.NewScriptedCaller()
	svc := newTestService(t, st, caller, testConfig(), nil)

	resp, err := svc.CreateMission(ctx, domain.CreateMissionRequest{
		Mode:             domain.ModeAutonomousSingle,
		Question:         "q",
		CandidateExperts: []string{"A"},
	})
	require.NoError(t, err)
	waitForStatus(t, svc, resp.MissionID, domain.MissionStatusAwaitingCheckpoint)

	sum, err := svc.ResumeMission(ctx, resp.MissionID)
	require.NoError(t, err)
	assert.Equal(t, domain.MissionStatusAwaitingCheckpoint, sum.Status)

	n, err := svc.ResumeActive(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 1, caller.Calls("A"))

	_, err = svc.ResumeMission(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestAdvanceConflictsWithRunner(t *testing.T) {
	ctx := context.Background()
	caller := helpers.NewScriptedCaller().Set("A", helpers.Script{Block: true})
	svc := newTestService(t, helpers.NewTestSQLiteStore(t), caller, testConfig(), nil)

	resp, err := svc.CreateMission(ctx, domain.CreateMissionRequest{
		Mode:             domain.ModeManualInteractive,
		Question:         "q",
		CandidateExperts: []string{"A"},
	})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return caller.Calls("A") == 1 }, 2*time.Second, 5*time.Millisecond)

	_, err = svc.AdvanceMission(ctx, resp.MissionID)
	assert.ErrorIs(t, err, domain.ErrConflict)
}

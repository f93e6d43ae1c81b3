package checkpoint

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curatedhealth/missionengine/internal/domain"
)

func fixedManager(now time.Time) *Manager {
	return &Manager{now: func() time.Time { return now }}
}

func checkpointStep() domain.Step {
	return domain.Step{Index: 2, Kind: domain.StepKindCheckpoint, IsBlocking: true, Reason: "review team findings"}
}

func TestCreatePending(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cp := fixedManager(now).Create("m1", checkpointStep(), "draft", true)

	assert.True(t, cp.Pending())
	assert.Contains(t, cp.CheckpointID, "cp_")
	assert.Equal(t, "m1", cp.MissionID)
	assert.Equal(t, 2, cp.StepIndex)
	assert.Equal(t, "review team findings", cp.Reason)
	assert.Equal(t, "draft", cp.ProposedContent)
	assert.Equal(t, now, cp.CreatedAt)
}

func TestCreateDefaultReason(t *testing.T) {
	cp := NewManager().Create("m1", domain.Step{Index: 0, Kind: domain.StepKindCheckpoint}, "", true)
	assert.Equal(t, "review before step 1", cp.Reason)
}

func TestResolveApproved(t *testing.T) {
	m := fixedManager(time.Now())
	cp := m.Create("m1", checkpointStep(), "draft", true)

	sig, applied, err := m.Resolve(&cp, Decision{Resolution: domain.ResolutionApproved, Note: "ok", ResolvedBy: "dr.lee"})
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, domain.MissionStatusRunning, sig.NextStatus)
	assert.Equal(t, domain.ResolutionApproved, sig.Resolution)
	assert.Equal(t, "dr.lee", cp.ResolvedBy)
	assert.Equal(t, "draft", cp.ProposedContent)
}

func TestResolveRejectedFailsMission(t *testing.T) {
	m := NewManager()
	cp := m.Create("m1", checkpointStep(), "draft", true)

	sig, applied, err := m.Resolve(&cp, Decision{Resolution: domain.ResolutionRejected, Note: "insufficient evidence"})
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, domain.MissionStatusFailed, sig.NextStatus)
	assert.Equal(t, "insufficient evidence", cp.ResolverNote)
}

func TestResolveModifiedReplacesContent(t *testing.T) {
	m := NewManager()
	cp := m.Create("m1", checkpointStep(), "draft", true)

	sig, _, err := m.Resolve(&cp, Decision{Resolution: domain.ResolutionModified, Content: "edited"})
	require.NoError(t, err)
	assert.Equal(t, domain.MissionStatusRunning, sig.NextStatus)
	assert.Equal(t, "edited", cp.ProposedContent)
}

func TestResolveIsIdempotent(t *testing.T) {
	m := NewManager()
	cp := m.Create("m1", checkpointStep(), "draft", true)

	first, applied, err := m.Resolve(&cp, Decision{Resolution: domain.ResolutionApproved})
	require.NoError(t, err)
	require.True(t, applied)
	snapshot := cp

	second, applied, err := m.Resolve(&cp, Decision{Resolution: domain.ResolutionApproved})
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, first, second)

	// A conflicting late decision still returns the original outcome.
	third, applied, err := m.Resolve(&cp, Decision{Resolution: domain.ResolutionRejected, Note: "too late"})
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, first, third)
	assert.Equal(t, snapshot, cp)
}

func TestResolveValidation(t *testing.T) {
	m := NewManager()
	cp := m.Create("m1", checkpointStep(), "draft", true)

	_, _, err := m.Resolve(&cp, Decision{Resolution: "maybe"})
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)

	_, _, err = m.Resolve(&cp, Decision{Resolution: domain.ResolutionModified, Content: "  "})
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
	assert.True(t, cp.Pending())
}

func TestAutoApprove(t *testing.T) {
	m := NewManager()
	cp := m.Create("m1", checkpointStep(), "draft", false)
	sig := m.AutoApprove(&cp)
	assert.Equal(t, domain.ResolutionApproved, sig.Resolution)
	assert.Equal(t, SystemResolver, cp.ResolvedBy)
}

func TestFindStale(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	notified := now.Add(-time.Minute)

	snaps := []domain.MissionSnapshot{
		{Checkpoints: []domain.Checkpoint{{CheckpointID: "old", MissionID: "m1", CreatedAt: now.Add(-2 * time.Hour)}}},
		{Checkpoints: []domain.Checkpoint{{CheckpointID: "fresh", MissionID: "m2", CreatedAt: now.Add(-time.Minute)}}},
		{Checkpoints: []domain.Checkpoint{{CheckpointID: "reported", MissionID: "m3", CreatedAt: now.Add(-3 * time.Hour), StaleNotifiedAt: &notified}}},
		{},
	}

	stale := FindStale(snaps, now, time.Hour)
	require.Len(t, stale, 1)
	assert.Equal(t, "old", stale[0].CheckpointID)
	assert.Equal(t, "m1", stale[0].MissionID)
	assert.Equal(t, 2*time.Hour, stale[0].Age)
}

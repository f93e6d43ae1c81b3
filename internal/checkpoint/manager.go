// Package checkpoint creates and resolves human approval gates.
//
// The manager only manipulates Checkpoint values. Moving the owning mission
// between statuses and persisting the result is the orchestrator's job, done
// under the mission lock before any caller is answered.
package checkpoint

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/curatedhealth/missionengine/internal/domain"
)

// SystemResolver marks resolutions made by the engine itself.
const SystemResolver = "system"

// Decision is an external resolution request.
type Decision struct {
	Resolution domain.Resolution
	Content    string
	Note       string
	ResolvedBy string
}

// Validate checks the decision before it is applied.
func (d Decision) Validate() error {
	if !d.Resolution.Valid() {
		return fmt.Errorf("%w: resolution must be approved, rejected or modified, got %q", domain.ErrInvalidRequest, d.Resolution)
	}
	if d.Resolution == domain.ResolutionModified && strings.TrimSpace(d.Content) == "" {
		return fmt.Errorf("%w: modified resolution requires content", domain.ErrInvalidRequest)
	}
	return nil
}

// Manager builds and resolves checkpoints.
type Manager struct {
	now func() time.Time
}

// NewManager creates a Manager using the wall clock.
func NewManager() *Manager {
	return &Manager{now: func() time.Time { return time.Now().UTC() }}
}

// NewID returns a fresh checkpoint id.
func NewID() string {
	return "cp_" + uuid.New().String()[:12]
}

// Create returns a pending checkpoint for step.
func (m *Manager) Create(missionID string, step domain.Step, proposed string, blocking bool) domain.Checkpoint {
	reason := step.Reason
	if reason == "" {
		reason = fmt.Sprintf("review before step %d", step.Index+1)
	}
	return domain.Checkpoint{
		CheckpointID:    NewID(),
		MissionID:       missionID,
		StepIndex:       step.Index,
		Reason:          reason,
		ProposedContent: proposed,
		Blocking:        blocking,
		CreatedAt:       m.now(),
	}
}

// Resolve applies d to cp. Resolving an already resolved checkpoint returns
// the original signal and applied=false without touching cp.
func (m *Manager) Resolve(cp *domain.Checkpoint, d Decision) (domain.ResumeSignal, bool, error) {
	if !cp.Pending() {
		return Signal(cp), false, nil
	}
	if err := d.Validate(); err != nil {
		return domain.ResumeSignal{}, false, err
	}

	now := m.now()
	resolution := d.Resolution
	cp.Resolution = &resolution
	cp.ResolvedAt = &now
	cp.ResolvedBy = d.ResolvedBy
	cp.ResolverNote = d.Note
	if resolution == domain.ResolutionModified {
		cp.ProposedContent = d.Content
	}
	return Signal(cp), true, nil
}

// AutoApprove resolves a non-blocking checkpoint on the engine's behalf.
func (m *Manager) AutoApprove(cp *domain.Checkpoint) domain.ResumeSignal {
	sig, _, _ := m.Resolve(cp, Decision{
		Resolution: domain.ResolutionApproved,
		Note:       "advisory checkpoint",
		ResolvedBy: SystemResolver,
	})
	return sig
}

// Signal describes the effect of cp's resolution on its mission.
func Signal(cp *domain.Checkpoint) domain.ResumeSignal {
	sig := domain.ResumeSignal{
		CheckpointID: cp.CheckpointID,
		MissionID:    cp.MissionID,
		StepIndex:    cp.StepIndex,
	}
	if cp.Resolution == nil {
		sig.NextStatus = domain.MissionStatusAwaitingCheckpoint
		return sig
	}
	sig.Resolution = *cp.Resolution
	if cp.ResolvedAt != nil {
		sig.ResolvedAt = *cp.ResolvedAt
	}
	if sig.Resolution == domain.ResolutionRejected {
		sig.NextStatus = domain.MissionStatusFailed
	} else {
		sig.NextStatus = domain.MissionStatusRunning
	}
	return sig
}

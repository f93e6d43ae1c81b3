package domain

import (
	"fmt"
	"time"
)

// StepRecord holds what a completed step produced.
type StepRecord struct {
	StepIndex   int            `json:"step_index"`
	Kind        StepKind       `json:"kind"`
	Results     []ExpertResult `json:"results,omitempty"`
	Output      string         `json:"output,omitempty"`
	CompletedAt time.Time      `json:"completed_at"`
}

// MissionSnapshot is the durable projection of a mission, keyed by mission id.
// It is always written whole.
type MissionSnapshot struct {
	Mission        Mission      `json:"mission"`
	Plan           *Plan        `json:"plan,omitempty"`
	Steps          []StepRecord `json:"steps,omitempty"`
	Checkpoints    []Checkpoint `json:"checkpoints,omitempty"`
	WorkingContent string       `json:"working_content,omitempty"`
	Output         string       `json:"output,omitempty"`
	Revision       int64        `json:"revision"`
}

// CurrentStep returns the step at CurrentStepIndex, or nil once the plan is exhausted.
func (s *MissionSnapshot) CurrentStep() *Step {
	if s.Plan == nil {
		return nil
	}
	idx := s.Mission.CurrentStepIndex
	if idx < 0 || idx >= len(s.Plan.Steps) {
		return nil
	}
	return &s.Plan.Steps[idx]
}

// OpenCheckpoint returns the unresolved checkpoint, if any.
func (s *MissionSnapshot) OpenCheckpoint() *Checkpoint {
	for i := range s.Checkpoints {
		if s.Checkpoints[i].Pending() {
			return &s.Checkpoints[i]
		}
	}
	return nil
}

// FindCheckpoint returns the checkpoint with the given id.
func (s *MissionSnapshot) FindCheckpoint(checkpointID string) *Checkpoint {
	for i := range s.Checkpoints {
		if s.Checkpoints[i].CheckpointID == checkpointID {
			return &s.Checkpoints[i]
		}
	}
	return nil
}

// StepRecordAt returns the record of a completed step.
func (s *MissionSnapshot) StepRecordAt(index int) *StepRecord {
	for i := range s.Steps {
		if s.Steps[i].StepIndex == index {
			return &s.Steps[i]
		}
	}
	return nil
}

// ExpertResults flattens the results of every completed step in plan order.
func (s *MissionSnapshot) ExpertResults() []ExpertResult {
	var out []ExpertResult
	for _, rec := range s.Steps {
		out = append(out, rec.Results...)
	}
	return out
}

// Validate checks the cross-entity invariants a stored snapshot must hold.
func (s *MissionSnapshot) Validate() error {
	m := s.Mission
	if m.MissionID == "" {
		return fmt.Errorf("%w: mission id is empty", ErrInvalidRequest)
	}
	for i := 0; i < m.CurrentStepIndex; i++ {
		if s.StepRecordAt(i) == nil {
			return fmt.Errorf("step %d is behind the cursor but has no record", i)
		}
	}
	open := s.OpenCheckpoint()
	if open != nil && m.Status != MissionStatusAwaitingCheckpoint {
		return fmt.Errorf("checkpoint %s is pending while mission is %s", open.CheckpointID, m.Status)
	}
	if m.Status == MissionStatusAwaitingCheckpoint && open == nil {
		return fmt.Errorf("mission is awaiting a checkpoint but none is pending")
	}
	return nil
}

// MissionSummary is the caller-facing view of a mission.
type MissionSummary struct {
	MissionID         string        `json:"mission_id"`
	Mode              Mode          `json:"mode"`
	Status            MissionStatus `json:"status"`
	CurrentStepIndex  int           `json:"current_step_index"`
	TotalSteps        int           `json:"total_steps"`
	PendingCheckpoint *Checkpoint   `json:"pending_checkpoint,omitempty"`
	Failure           *Failure      `json:"failure,omitempty"`
	Output            string        `json:"output,omitempty"`
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`
}

// Summary projects the snapshot into a MissionSummary.
func (s *MissionSnapshot) Summary() MissionSummary {
	sum := MissionSummary{
		MissionID:        s.Mission.MissionID,
		Mode:             s.Mission.Mode,
		Status:           s.Mission.Status,
		CurrentStepIndex: s.Mission.CurrentStepIndex,
		Failure:          s.Mission.Failure,
		Output:           s.Output,
		CreatedAt:        s.Mission.CreatedAt,
		UpdatedAt:        s.Mission.UpdatedAt,
	}
	if s.Plan != nil {
		sum.TotalSteps = len(s.Plan.Steps)
	}
	if cp := s.OpenCheckpoint(); cp != nil {
		c := *cp
		sum.PendingCheckpoint = &c
	}
	return sum
}

package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Mission represents one end-to-end consultation run.
type Mission struct {
	MissionID        string        `json:"mission_id"`
	Mode             Mode          `json:"mode"`
	Question         string        `json:"question"`
	CandidateExperts []string      `json:"candidate_experts"`
	Status           MissionStatus `json:"status"`
	CurrentStepIndex int           `json:"current_step_index"`
	Failure          *Failure      `json:"failure,omitempty"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

// Failure is the structured reason attached to a failed mission.
type Failure struct {
	Reason       FailureReason  `json:"reason"`
	StepIndex    int            `json:"step_index"`
	Message      string         `json:"message"`
	ResolverNote string         `json:"resolver_note,omitempty"`
	LastErrors   []ExpertResult `json:"last_errors,omitempty"`
}

// transitions lists the allowed status edges. Terminal states have none.
var transitions = map[MissionStatus][]MissionStatus{
	MissionStatusPlanning: {
		MissionStatusRunning, MissionStatusFailed, MissionStatusCancelled,
	},
	MissionStatusRunning: {
		MissionStatusAwaitingCheckpoint, MissionStatusCompleted, MissionStatusFailed, MissionStatusCancelled,
	},
	MissionStatusAwaitingCheckpoint: {
		MissionStatusRunning, MissionStatusFailed, MissionStatusCancelled,
	},
}

// CanTransition reports whether from -> to is a legal lifecycle edge.
func CanTransition(from, to MissionStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// TransitionTo moves the mission to status, stamping UpdatedAt.
func (m *Mission) TransitionTo(status MissionStatus, now time.Time) error {
	if !CanTransition(m.Status, status) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, m.Status, status)
	}
	m.Status = status
	m.UpdatedAt = now
	return nil
}

// Step is one unit of a plan.
type Step struct {
	Index       int               `json:"index"`
	Kind        StepKind          `json:"kind"`
	ExpertRefs  []string          `json:"expert_refs,omitempty"`
	Concurrency ConcurrencyPolicy `json:"concurrency_policy,omitempty"`
	IsBlocking  bool              `json:"is_blocking,omitempty"`
	FirstWinner bool              `json:"first_winner,omitempty"`
	Reason      string            `json:"reason,omitempty"`
	TimeoutMs   int               `json:"timeout_ms,omitempty"`
}

// Plan is the immutable, ordered step sequence produced by a mode strategy.
type Plan struct {
	Version   int       `json:"version"`
	Mode      Mode      `json:"mode"`
	Steps     []Step    `json:"steps"`
	CreatedAt time.Time `json:"created_at"`
}

// ExpertRequest is what an expert collaborator receives.
type ExpertRequest struct {
	RequestID string            `json:"request_id"`
	MissionID string            `json:"mission_id"`
	StepIndex int               `json:"step_index"`
	Question  string            `json:"question"`
	Context   string            `json:"context,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// ExpertResponse is what an expert collaborator returns on success.
type ExpertResponse struct {
	Content string          `json:"content"`
	Usage   json.RawMessage `json:"usage,omitempty"`
}

// ExpertResult is the recorded outcome of one expert call.
type ExpertResult struct {
	ExpertRef   string       `json:"expert_ref"`
	Status      ExpertStatus `json:"status"`
	Payload     string       `json:"payload,omitempty"`
	ErrorDetail string       `json:"error_detail,omitempty"`
	StartedAt   time.Time    `json:"started_at"`
	FinishedAt  time.Time    `json:"finished_at"`
}

// Succeeded reports whether the call produced a usable payload.
func (r ExpertResult) Succeeded() bool {
	return r.Status == ExpertStatusSuccess
}

// Checkpoint is a pending or resolved human decision.
type Checkpoint struct {
	CheckpointID    string      `json:"checkpoint_id"`
	MissionID       string      `json:"mission_id"`
	StepIndex       int         `json:"step_index"`
	Reason          string      `json:"reason"`
	ProposedContent string      `json:"proposed_content"`
	Resolution      *Resolution `json:"resolution,omitempty"`
	ResolvedAt      *time.Time  `json:"resolved_at,omitempty"`
	ResolvedBy      string      `json:"resolved_by,omitempty"`
	ResolverNote    string      `json:"resolver_note,omitempty"`
	Blocking        bool        `json:"blocking"`
	CreatedAt       time.Time   `json:"created_at"`
	StaleNotifiedAt *time.Time  `json:"stale_notified_at,omitempty"`
}

// Pending reports whether the checkpoint still awaits a decision.
func (c *Checkpoint) Pending() bool {
	return c.Resolution == nil
}

// ResumeSignal is returned by checkpoint resolution.
type ResumeSignal struct {
	CheckpointID string        `json:"checkpoint_id"`
	MissionID    string        `json:"mission_id"`
	StepIndex    int           `json:"step_index"`
	Resolution   Resolution    `json:"resolution"`
	NextStatus   MissionStatus `json:"next_status"`
	ResolvedAt   time.Time     `json:"resolved_at"`
}

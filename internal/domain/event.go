package domain

import (
	"encoding/json"
	"time"
)

// Event is one entry of a mission's ordered event log.
type Event struct {
	MissionID string          `json:"mission_id"`
	Seq       int64           `json:"seq"`
	Ts        int64           `json:"ts"` // Unix milliseconds
	Type      EventType       `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// NewEvent builds an unsequenced event with a JSON payload.
func NewEvent(missionID string, eventType EventType, payload interface{}) (Event, error) {
	ev := Event{
		MissionID: missionID,
		Ts:        time.Now().UnixMilli(),
		Type:      eventType,
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Event{}, err
		}
		ev.Payload = data
	}
	return ev, nil
}

// MissionCreatedPayload is the payload for mission_created.
type MissionCreatedPayload struct {
	Mode             Mode     `json:"mode"`
	Question         string   `json:"question"`
	CandidateExperts []string `json:"candidate_experts"`
}

// MissionPlannedPayload is the payload for mission_planned.
type MissionPlannedPayload struct {
	PlanVersion int    `json:"plan_version"`
	Steps       []Step `json:"steps"`
}

// StepStartedPayload is the payload for step_started.
type StepStartedPayload struct {
	StepIndex  int      `json:"step_index"`
	Kind       StepKind `json:"kind"`
	ExpertRefs []string `json:"expert_refs,omitempty"`
}

// ExpertStartedPayload is the payload for expert_started.
type ExpertStartedPayload struct {
	StepIndex int    `json:"step_index"`
	ExpertRef string `json:"expert_ref"`
	RequestID string `json:"request_id"`
}

// ExpertFinishedPayload is the payload for expert_finished.
type ExpertFinishedPayload struct {
	StepIndex int          `json:"step_index"`
	Result    ExpertResult `json:"result"`
}

// StepCompletedPayload is the payload for step_completed.
type StepCompletedPayload struct {
	StepIndex  int      `json:"step_index"`
	Kind       StepKind `json:"kind"`
	Successes  int      `json:"successes"`
	Failures   int      `json:"failures"`
	DurationMs int64    `json:"duration_ms"`
}

// CheckpointCreatedPayload is the payload for checkpoint_created.
type CheckpointCreatedPayload struct {
	CheckpointID    string `json:"checkpoint_id"`
	StepIndex       int    `json:"step_index"`
	Reason          string `json:"reason"`
	ProposedContent string `json:"proposed_content"`
	Blocking        bool   `json:"blocking"`
}

// CheckpointResolvedPayload is the payload for checkpoint_resolved.
type CheckpointResolvedPayload struct {
	CheckpointID string     `json:"checkpoint_id"`
	Resolution   Resolution `json:"resolution"`
	ResolvedBy   string     `json:"resolved_by,omitempty"`
	Note         string     `json:"note,omitempty"`
}

// CheckpointStalePayload is the payload for checkpoint_stale.
type CheckpointStalePayload struct {
	CheckpointID string `json:"checkpoint_id"`
	PendingForMs int64  `json:"pending_for_ms"`
}

// MissionResumedPayload is the payload for mission_resumed.
type MissionResumedPayload struct {
	FromStep int           `json:"from_step"`
	Status   MissionStatus `json:"status"`
}

// MissionCompletedPayload is the payload for mission_completed.
type MissionCompletedPayload struct {
	Output string `json:"output"`
}

// MissionFailedPayload is the payload for mission_failed.
type MissionFailedPayload struct {
	Failure Failure `json:"failure"`
}

// MissionCancelledPayload is the payload for mission_cancelled.
type MissionCancelledPayload struct {
	Reason string `json:"reason"`
}

// TruncatedPayload tells a subscriber which sequence to replay from.
type TruncatedPayload struct {
	FromSeq int64 `json:"from_seq"`
}

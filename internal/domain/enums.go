// Package domain defines the core domain models for the mission engine.
package domain

// Mode selects the execution strategy of a mission.
type Mode string

const (
	ModeManualInteractive  Mode = "manual_interactive"
	ModeAutomaticSelection Mode = "automatic_selection"
	ModeAutonomousSingle   Mode = "autonomous_single"
	ModeAutonomousTeam     Mode = "autonomous_team"
)

// Valid reports whether m is one of the known modes.
func (m Mode) Valid() bool {
	switch m {
	case ModeManualInteractive, ModeAutomaticSelection, ModeAutonomousSingle, ModeAutonomousTeam:
		return true
	}
	return false
}

// MissionStatus represents the lifecycle status of a mission.
type MissionStatus string

const (
	MissionStatusPlanning           MissionStatus = "planning"
	MissionStatusRunning            MissionStatus = "running"
	MissionStatusAwaitingCheckpoint MissionStatus = "awaiting_checkpoint"
	MissionStatusCompleted          MissionStatus = "completed"
	MissionStatusFailed             MissionStatus = "failed"
	MissionStatusCancelled          MissionStatus = "cancelled"
)

// Valid reports whether s is one of the known statuses.
func (s MissionStatus) Valid() bool {
	switch s {
	case MissionStatusPlanning, MissionStatusRunning, MissionStatusAwaitingCheckpoint,
		MissionStatusCompleted, MissionStatusFailed, MissionStatusCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition is allowed.
func (s MissionStatus) IsTerminal() bool {
	switch s {
	case MissionStatusCompleted, MissionStatusFailed, MissionStatusCancelled:
		return true
	}
	return false
}

// StepKind represents the kind of a plan step.
type StepKind string

const (
	StepKindDispatchExperts StepKind = "dispatch_experts"
	StepKindAggregate       StepKind = "aggregate"
	StepKindCheckpoint      StepKind = "checkpoint"
	StepKindSynthesize      StepKind = "synthesize"
)

// ConcurrencyPolicy controls how the experts of a dispatch step are invoked.
type ConcurrencyPolicy string

const (
	ConcurrencyParallel   ConcurrencyPolicy = "parallel"
	ConcurrencySequential ConcurrencyPolicy = "sequential"
)

// ExpertStatus represents the outcome of a single expert call.
type ExpertStatus string

const (
	ExpertStatusSuccess   ExpertStatus = "success"
	ExpertStatusError     ExpertStatus = "error"
	ExpertStatusTimeout   ExpertStatus = "timeout"
	ExpertStatusCancelled ExpertStatus = "cancelled"
)

// Resolution represents the outcome of a checkpoint.
type Resolution string

const (
	ResolutionApproved Resolution = "approved"
	ResolutionRejected Resolution = "rejected"
	ResolutionModified Resolution = "modified"
)

// Valid reports whether r is an accepted resolution value.
func (r Resolution) Valid() bool {
	switch r {
	case ResolutionApproved, ResolutionRejected, ResolutionModified:
		return true
	}
	return false
}

// FailureReason classifies why a mission failed.
type FailureReason string

const (
	FailureExpertTimeout      FailureReason = "expert_timeout"
	FailureExpertError        FailureReason = "expert_error"
	FailureExpertCancelled    FailureReason = "expert_cancelled"
	FailurePersistence        FailureReason = "persistence_failure"
	FailurePlanGeneration     FailureReason = "plan_generation_failure"
	FailureCheckpointRejected FailureReason = "checkpoint_rejected"
)

// IsInfrastructure reports whether the failure came from the engine's own
// dependencies rather than from the consultation itself.
func (r FailureReason) IsInfrastructure() bool {
	return r == FailurePersistence
}

// EventType represents the type of a mission event.
type EventType string

const (
	EventTypeMissionCreated     EventType = "mission_created"
	EventTypeMissionPlanned     EventType = "mission_planned"
	EventTypeMissionStarted     EventType = "mission_started"
	EventTypeMissionResumed     EventType = "mission_resumed"
	EventTypeStepStarted        EventType = "step_started"
	EventTypeExpertStarted      EventType = "expert_started"
	EventTypeExpertFinished     EventType = "expert_finished"
	EventTypeStepCompleted      EventType = "step_completed"
	EventTypeCheckpointCreated  EventType = "checkpoint_created"
	EventTypeCheckpointResolved EventType = "checkpoint_resolved"
	EventTypeCheckpointStale    EventType = "checkpoint_stale"
	EventTypeMissionCompleted   EventType = "mission_completed"
	EventTypeMissionFailed      EventType = "mission_failed"
	EventTypeMissionCancelled   EventType = "mission_cancelled"

	// EventTypeTruncated is synthesized per subscriber when its queue overflowed.
	EventTypeTruncated EventType = "truncated"
)

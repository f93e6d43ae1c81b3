package domain

// CreateMissionRequest represents a request to create a mission.
type CreateMissionRequest struct {
	MissionID        string   `json:"mission_id,omitempty"`
	Mode             Mode     `json:"mode"`
	Question         string   `json:"question"`
	CandidateExperts []string `json:"candidate_experts"`
	Start            *bool    `json:"start,omitempty"`
}

// CreateMissionResponse represents the response after creating a mission.
type CreateMissionResponse struct {
	MissionID string        `json:"mission_id"`
	Status    MissionStatus `json:"status"`
	Plan      *Plan         `json:"plan,omitempty"`
	Failure   *Failure      `json:"failure,omitempty"`
}

// ResolveCheckpointRequest represents a decision on a checkpoint.
type ResolveCheckpointRequest struct {
	Resolution Resolution `json:"resolution"`
	Content    string     `json:"content,omitempty"`
	Note       string     `json:"note,omitempty"`
	ResolvedBy string     `json:"resolved_by,omitempty"`
}

// CancelMissionRequest represents a cancellation.
type CancelMissionRequest struct {
	Reason string `json:"reason,omitempty"`
}

// ListEventsResponse represents a page of replayed events.
type ListEventsResponse struct {
	MissionID string  `json:"mission_id"`
	Events    []Event `json:"events"`
	NextSeq   int64   `json:"next_seq"`
}

// Package repository persists mission snapshots and the per-mission event log.
package repository

import (
	"context"

	"github.com/curatedhealth/missionengine/internal/domain"
)

// Store is the durable store collaborator.
//
// SaveSnapshot is a full-overwrite upsert keyed by mission id. Lookups that
// find nothing return (nil, nil) or ("", nil).
type Store interface {
	SaveSnapshot(ctx context.Context, snap *domain.MissionSnapshot) error
	LoadSnapshot(ctx context.Context, missionID string) (*domain.MissionSnapshot, error)
	ListSnapshots(ctx context.Context, statuses []domain.MissionStatus, limit int) ([]domain.MissionSnapshot, error)
	LookupCheckpoint(ctx context.Context, checkpointID string) (string, error)

	EventLog

	Close() error
}

// EventLog is the durable, append-only per-mission event log.
type EventLog interface {
	AppendEvent(ctx context.Context, event *domain.Event) error
	ListEvents(ctx context.Context, missionID string, afterSeq int64, limit int) ([]domain.Event, error)
	LastEventSeq(ctx context.Context, missionID string) (int64, error)
}

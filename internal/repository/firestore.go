package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/curatedhealth/missionengine/internal/domain"
)

const (
	missionsCollection    = "missions"
	checkpointsCollection = "checkpoints"
	eventsCollection      = "events"
)

// FirestoreStore implements Store on Cloud Firestore.
//
// Layout: missions/{mission_id} holds the snapshot JSON plus queryable
// fields, missions/{mission_id}/events/{seq} holds the event log, and
// checkpoints/{checkpoint_id} maps checkpoints to their mission.
type FirestoreStore struct {
	client *firestore.Client
}

type missionDoc struct {
	MissionID   string    `firestore:"mission_id"`
	Mode        string    `firestore:"mode"`
	Status      string    `firestore:"status"`
	CurrentStep int       `firestore:"current_step"`
	Revision    int64     `firestore:"revision"`
	Snapshot    string    `firestore:"snapshot"`
	CreatedAt   time.Time `firestore:"created_at"`
	UpdatedAt   time.Time `firestore:"updated_at"`
}

type checkpointDoc struct {
	MissionID  string    `firestore:"mission_id"`
	StepIndex  int       `firestore:"step_index"`
	Resolution string    `firestore:"resolution"`
	CreatedAt  time.Time `firestore:"created_at"`
}

type eventDoc struct {
	MissionID string `firestore:"mission_id"`
	Seq       int64  `firestore:"seq"`
	Ts        int64  `firestore:"ts"`
	Type      string `firestore:"type"`
	Payload   string `firestore:"payload"`
}

// NewFirestoreStore creates a Firestore-backed store for projectID.
func NewFirestoreStore(ctx context.Context, projectID string, opts ...option.ClientOption) (*FirestoreStore, error) {
	client, err := firestore.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}
	return &FirestoreStore{client: client}, nil
}

// Close closes the Firestore client.
func (s *FirestoreStore) Close() error {
	return s.client.Close()
}

func isNotFound(err error) bool {
	return status.Code(err) == codes.NotFound
}

func eventDocID(seq int64) string {
	return fmt.Sprintf("%020d", seq)
}

// SaveSnapshot writes the mission document and checkpoint index in one batch.
func (s *FirestoreStore) SaveSnapshot(ctx context.Context, snap *domain.MissionSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	m := snap.Mission

	batch := s.client.Batch()
	batch.Set(s.client.Collection(missionsCollection).Doc(m.MissionID), missionDoc{
		MissionID:   m.MissionID,
		Mode:        string(m.Mode),
		Status:      string(m.Status),
		CurrentStep: m.CurrentStepIndex,
		Revision:    snap.Revision,
		Snapshot:    string(data),
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	})
	for _, cp := range snap.Checkpoints {
		doc := checkpointDoc{MissionID: m.MissionID, StepIndex: cp.StepIndex, CreatedAt: cp.CreatedAt}
		if cp.Resolution != nil {
			doc.Resolution = string(*cp.Resolution)
		}
		batch.Set(s.client.Collection(checkpointsCollection).Doc(cp.CheckpointID), doc)
	}
	if _, err := batch.Commit(ctx); err != nil {
		return fmt.Errorf("failed to save snapshot %s: %w", m.MissionID, err)
	}
	return nil
}

// LoadSnapshot reads a mission document.
func (s *FirestoreStore) LoadSnapshot(ctx context.Context, missionID string) (*domain.MissionSnapshot, error) {
	docSnap, err := s.client.Collection(missionsCollection).Doc(missionID).Get(ctx)
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeMissionDoc(docSnap)
}

func decodeMissionDoc(docSnap *firestore.DocumentSnapshot) (*domain.MissionSnapshot, error) {
	var doc missionDoc
	if err := docSnap.DataTo(&doc); err != nil {
		return nil, err
	}
	var snap domain.MissionSnapshot
	if err := json.Unmarshal([]byte(doc.Snapshot), &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot %s: %w", docSnap.Ref.ID, err)
	}
	return &snap, nil
}

// ListSnapshots queries missions by status, oldest update first. Filtering
// by status while ordering by updated_at needs a composite index on
// (status, updated_at).
func (s *FirestoreStore) ListSnapshots(ctx context.Context, statuses []domain.MissionStatus, limit int) ([]domain.MissionSnapshot, error) {
	query := s.client.Collection(missionsCollection).Query
	if len(statuses) > 0 {
		values := make([]string, len(statuses))
		for i, st := range statuses {
			values[i] = string(st)
		}
		query = query.Where("status", "in", values)
	}
	query = query.OrderBy("updated_at", firestore.Asc)
	if limit > 0 {
		query = query.Limit(limit)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	var snaps []domain.MissionSnapshot
	for {
		docSnap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		snap, err := decodeMissionDoc(docSnap)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, *snap)
	}
	return snaps, nil
}

// LookupCheckpoint returns the mission owning a checkpoint.
func (s *FirestoreStore) LookupCheckpoint(ctx context.Context, checkpointID string) (string, error) {
	docSnap, err := s.client.Collection(checkpointsCollection).Doc(checkpointID).Get(ctx)
	if isNotFound(err) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	var doc checkpointDoc
	if err := docSnap.DataTo(&doc); err != nil {
		return "", err
	}
	return doc.MissionID, nil
}

// AppendEvent creates the event document. Create fails if the seq is taken.
func (s *FirestoreStore) AppendEvent(ctx context.Context, event *domain.Event) error {
	ref := s.client.Collection(missionsCollection).Doc(event.MissionID).
		Collection(eventsCollection).Doc(eventDocID(event.Seq))
	_, err := ref.Create(ctx, eventDoc{
		MissionID: event.MissionID,
		Seq:       event.Seq,
		Ts:        event.Ts,
		Type:      string(event.Type),
		Payload:   string(event.Payload),
	})
	if status.Code(err) == codes.AlreadyExists {
		return fmt.Errorf("%w: event %s/%d already exists", domain.ErrConflict, event.MissionID, event.Seq)
	}
	return err
}

// ListEvents returns events with seq > afterSeq in order.
func (s *FirestoreStore) ListEvents(ctx context.Context, missionID string, afterSeq int64, limit int) ([]domain.Event, error) {
	query := s.client.Collection(missionsCollection).Doc(missionID).Collection(eventsCollection).
		Where("seq", ">", afterSeq).
		OrderBy("seq", firestore.Asc)
	if limit > 0 {
		query = query.Limit(limit)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	var events []domain.Event
	for {
		docSnap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		var doc eventDoc
		if err := docSnap.DataTo(&doc); err != nil {
			return nil, err
		}
		event := domain.Event{
			MissionID: doc.MissionID,
			Seq:       doc.Seq,
			Ts:        doc.Ts,
			Type:      domain.EventType(doc.Type),
		}
		if doc.Payload != "" {
			event.Payload = json.RawMessage(doc.Payload)
		}
		events = append(events, event)
	}
	return events, nil
}

// LastEventSeq returns the highest recorded seq for a mission.
func (s *FirestoreStore) LastEventSeq(ctx context.Context, missionID string) (int64, error) {
	iter := s.client.Collection(missionsCollection).Doc(missionID).Collection(eventsCollection).
		OrderBy("seq", firestore.Desc).
		Limit(1).
		Documents(ctx)
	defer iter.Stop()

	docSnap, err := iter.Next()
	if err == iterator.Done {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var doc eventDoc
	if err := docSnap.DataTo(&doc); err != nil {
		return 0, err
	}
	return doc.Seq, nil
}

var _ Store = (*FirestoreStore)(nil)

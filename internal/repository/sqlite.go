package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/curatedhealth/missionengine/internal/domain"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// For in-memory SQLite, multiple connections create separate databases.
	// Keep a single connection to avoid schema/data disappearing across goroutines.
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// migrate runs database migrations.
func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS mission_snapshots (
			mission_id TEXT PRIMARY KEY,
			mode TEXT NOT NULL,
			status TEXT NOT NULL,
			current_step INTEGER NOT NULL DEFAULT 0,
			revision INTEGER NOT NULL DEFAULT 0,
			snapshot TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_mission_snapshots_status ON mission_snapshots(status, updated_at)`,
		`CREATE TABLE IF NOT EXISTS checkpoints (
			checkpoint_id TEXT PRIMARY KEY,
			mission_id TEXT NOT NULL,
			step_index INTEGER NOT NULL,
			resolution TEXT,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (mission_id) REFERENCES mission_snapshots(mission_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_checkpoints_mission ON checkpoints(mission_id)`,
		`CREATE TABLE IF NOT EXISTS mission_events (
			mission_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			ts INTEGER NOT NULL,
			type TEXT NOT NULL,
			payload TEXT,
			PRIMARY KEY (mission_id, seq)
		)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveSnapshot overwrites the stored snapshot and its checkpoint index rows
// in one transaction.
func (s *SQLiteStore) SaveSnapshot(ctx context.Context, snap *domain.MissionSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	m := snap.Mission
	_, err = tx.ExecContext(ctx,
		`INSERT INTO mission_snapshots (mission_id, mode, status, current_step, revision, snapshot, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(mission_id) DO UPDATE SET
			mode = excluded.mode,
			status = excluded.status,
			current_step = excluded.current_step,
			revision = excluded.revision,
			snapshot = excluded.snapshot,
			updated_at = excluded.updated_at`,
		m.MissionID, m.Mode, m.Status, m.CurrentStepIndex, snap.Revision, string(data), m.CreatedAt, m.UpdatedAt)
	if err != nil {
		return err
	}

	for _, cp := range snap.Checkpoints {
		var resolution sql.NullString
		if cp.Resolution != nil {
			resolution = sql.NullString{String: string(*cp.Resolution), Valid: true}
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO checkpoints (checkpoint_id, mission_id, step_index, resolution, created_at)
			 VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT(checkpoint_id) DO UPDATE SET resolution = excluded.resolution`,
			cp.CheckpointID, m.MissionID, cp.StepIndex, resolution, cp.CreatedAt)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// LoadSnapshot retrieves the latest snapshot of a mission.
func (s *SQLiteStore) LoadSnapshot(ctx context.Context, missionID string) (*domain.MissionSnapshot, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT snapshot FROM mission_snapshots WHERE mission_id = ?`, missionID).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var snap domain.MissionSnapshot
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot %s: %w", missionID, err)
	}
	return &snap, nil
}

// ListSnapshots lists snapshots whose status is one of statuses, oldest update first.
func (s *SQLiteStore) ListSnapshots(ctx context.Context, statuses []domain.MissionStatus, limit int) ([]domain.MissionSnapshot, error) {
	query := `SELECT snapshot FROM mission_snapshots`
	var args []interface{}
	if len(statuses) > 0 {
		placeholders := make([]string, len(statuses))
		for i, st := range statuses {
			placeholders[i] = "?"
			args = append(args, st)
		}
		query += fmt.Sprintf(" WHERE status IN (%s)", strings.Join(placeholders, ","))
	}
	query += ` ORDER BY updated_at ASC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snaps []domain.MissionSnapshot
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var snap domain.MissionSnapshot
		if err := json.Unmarshal([]byte(data), &snap); err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}

// LookupCheckpoint returns the mission owning a checkpoint.
func (s *SQLiteStore) LookupCheckpoint(ctx context.Context, checkpointID string) (string, error) {
	var missionID string
	err := s.db.QueryRowContext(ctx,
		`SELECT mission_id FROM checkpoints WHERE checkpoint_id = ?`, checkpointID).Scan(&missionID)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return missionID, err
}

// AppendEvent appends an event. Sequence numbers are unique per mission.
func (s *SQLiteStore) AppendEvent(ctx context.Context, event *domain.Event) error {
	payload := ""
	if event.Payload != nil {
		payload = string(event.Payload)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO mission_events (mission_id, seq, ts, type, payload) VALUES (?, ?, ?, ?, ?)`,
		event.MissionID, event.Seq, event.Ts, event.Type, payload)
	return err
}

// ListEvents retrieves events with seq > afterSeq in sequence order.
func (s *SQLiteStore) ListEvents(ctx context.Context, missionID string, afterSeq int64, limit int) ([]domain.Event, error) {
	query := `SELECT mission_id, seq, ts, type, payload FROM mission_events WHERE mission_id = ? AND seq > ? ORDER BY seq ASC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, query, missionID, afterSeq)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		var event domain.Event
		var payload sql.NullString
		if err := rows.Scan(&event.MissionID, &event.Seq, &event.Ts, &event.Type, &payload); err != nil {
			return nil, err
		}
		if payload.Valid && payload.String != "" {
			event.Payload = json.RawMessage(payload.String)
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

// LastEventSeq returns the highest sequence recorded for a mission, 0 if none.
func (s *SQLiteStore) LastEventSeq(ctx context.Context, missionID string) (int64, error) {
	var seq sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(seq) FROM mission_events WHERE mission_id = ?`, missionID).Scan(&seq)
	if err != nil {
		return 0, err
	}
	return seq.Int64, nil
}

var _ Store = (*SQLiteStore)(nil)

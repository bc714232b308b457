package persistence

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"aegisprime/pkg/proto"
	"aegisprime/pkg/session"
)

// DefaultSnapshotKey is the snapshot slot used by the single-session CLI.
const DefaultSnapshotKey = "default"

// ErrSnapshotNotFound is returned when no snapshot exists under the key.
var ErrSnapshotNotFound = errors.New("workflow snapshot not found")

// Snapshot is one persisted workflow checkpoint: the settled state plus the
// full session record.
type Snapshot struct {
	Key       string
	State     proto.State
	Session   *session.State
	UpdatedAt time.Time
}

// SaveSnapshot upserts the workflow checkpoint under key. Transient states
// are rejected: a snapshot taken mid-generation cannot be resumed, so callers
// only checkpoint settled states.
func (s *Store) SaveSnapshot(key string, state proto.State, sess *session.State) error {
	if !proto.IsSettled(state) {
		return fmt.Errorf("refusing to persist non-settled state %s", state)
	}

	sessionJSON, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO workflow_snapshots (snapshot_key, state, session_json, updated_at)
		VALUES (?, ?, ?, strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		ON CONFLICT(snapshot_key) DO UPDATE SET
			state = excluded.state,
			session_json = excluded.session_json,
			updated_at = strftime('%Y-%m-%dT%H:%M:%fZ','now')
	`, key, string(state), string(sessionJSON))
	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}

	s.logger.Debug("saved snapshot %s in state %s", key, state)
	return nil
}

// LoadSnapshot restores the workflow checkpoint under key.
//
// A snapshot holding an unknown or transient state (written by an older or
// corrupted build) is not trusted: the stored session is discarded and a
// fresh snapshot in the initial state is returned instead of an error.
func (s *Store) LoadSnapshot(key string) (*Snapshot, error) {
	row := s.db.QueryRow(`
		SELECT snapshot_key, state, session_json, updated_at
		FROM workflow_snapshots
		WHERE snapshot_key = ?
	`, key)

	var snap Snapshot
	var stateStr, sessionJSON, updatedAt string
	err := row.Scan(&snap.Key, &stateStr, &sessionJSON, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSnapshotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan snapshot: %w", err)
	}

	if t, parseErr := time.Parse(time.RFC3339Nano, updatedAt); parseErr == nil {
		snap.UpdatedAt = t
	}

	state := proto.State(stateStr)
	var sess session.State
	if unmarshalErr := json.Unmarshal([]byte(sessionJSON), &sess); unmarshalErr != nil {
		s.logger.Warn("snapshot %s holds unreadable session data, starting fresh: %v",
			key, unmarshalErr)
		snap.State = proto.StateAwaitingObjective
		snap.Session = session.New()
		return &snap, nil
	}

	if !proto.IsSettled(state) {
		s.logger.Warn("snapshot %s holds non-settled state %s, starting fresh", key, state)
		snap.State = proto.StateAwaitingObjective
		snap.Session = session.New()
		return &snap, nil
	}

	snap.State = state
	snap.Session = &sess
	return &snap, nil
}

// DeleteSnapshot removes the checkpoint and its history rows.
func (s *Store) DeleteSnapshot(key string) error {
	if _, err := s.db.Exec(`DELETE FROM workflow_snapshots WHERE snapshot_key = ?`, key); err != nil {
		return fmt.Errorf("failed to delete snapshot: %w", err)
	}
	if _, err := s.db.Exec(`DELETE FROM generation_history WHERE snapshot_key = ?`, key); err != nil {
		return fmt.Errorf("failed to delete snapshot history: %w", err)
	}
	return nil
}

package persistence

import (
	"encoding/json"
	"fmt"
	"time"

	"aegisprime/pkg/session"
)

// AppendHistory records one completed generation call under the snapshot key.
// Rows are append-only.
func (s *Store) AppendHistory(key, sessionID string, entry session.HistoryEntry) error {
	var namesJSON []byte
	if len(entry.AttachmentNames) > 0 {
		var err error
		namesJSON, err = json.Marshal(entry.AttachmentNames)
		if err != nil {
			return fmt.Errorf("failed to marshal attachment names: %w", err)
		}
	}

	_, err := s.db.Exec(`
		INSERT INTO generation_history (
			id, snapshot_key, session_id, kind, prompt, response,
			attachment_names, strategy_context, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, entry.ID, key, sessionID, string(entry.Kind), entry.Prompt, entry.Response,
		string(namesJSON), entry.StrategyContext, entry.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to append history: %w", err)
	}
	return nil
}

// ListHistory returns the generation history for one session, oldest first.
func (s *Store) ListHistory(key, sessionID string) ([]session.HistoryEntry, error) {
	rows, err := s.db.Query(`
		SELECT id, kind, prompt, response, attachment_names, strategy_context, created_at
		FROM generation_history
		WHERE snapshot_key = ? AND session_id = ?
		ORDER BY created_at ASC
	`, key, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []session.HistoryEntry
	for rows.Next() {
		var entry session.HistoryEntry
		var kind, namesJSON, createdAt string
		if err := rows.Scan(&entry.ID, &kind, &entry.Prompt, &entry.Response,
			&namesJSON, &entry.StrategyContext, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan history entry: %w", err)
		}
		entry.Kind = session.HistoryKind(kind)
		if namesJSON != "" {
			if err := json.Unmarshal([]byte(namesJSON), &entry.AttachmentNames); err != nil {
				return nil, fmt.Errorf("failed to unmarshal attachment names: %w", err)
			}
		}
		if t, parseErr := time.Parse(time.RFC3339Nano, createdAt); parseErr == nil {
			entry.CreatedAt = t
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating history: %w", err)
	}
	return entries, nil
}

// PruneHistory deletes history rows belonging to sessions other than the one
// given, keeping the table from growing without bound across new sessions.
func (s *Store) PruneHistory(key, keepSessionID string) (int64, error) {
	result, err := s.db.Exec(`
		DELETE FROM generation_history
		WHERE snapshot_key = ? AND session_id != ?
	`, key, keepSessionID)
	if err != nil {
		return 0, fmt.Errorf("failed to prune history: %w", err)
	}
	affected, _ := result.RowsAffected()
	return affected, nil
}

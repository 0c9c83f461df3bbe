package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/deepnoodle-ai/rewind"
)

// CreateCheckpoint persists a checkpoint snapshot.
func (s *Store) CreateCheckpoint(ctx context.Context, cp *rewind.Checkpoint) (*rewind.Checkpoint, error) {
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	id, err := s.insertCheckpoint(ctx, s.db, cp)
	if err != nil {
		return nil, translateErr(err)
	}
	cp.ID = id
	return cp, nil
}

// execer abstracts *sql.DB and *sql.Tx so checkpoint inserts can run both
// standalone and inside fork transactions.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) insertCheckpoint(ctx context.Context, db execer, cp *rewind.Checkpoint) (int64, error) {
	stateJSON, historyJSON, err := encodeSessionData(cp.State, cp.History)
	if err != nil {
		return 0, err
	}
	metadata := cp.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal checkpoint metadata: %w", err)
	}

	result, err := db.ExecContext(ctx, `
		INSERT INTO checkpoints
		(internal_session_id, checkpoint_name, session_state, conversation_history, is_auto, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		cp.InternalSessionID, nullableName(cp.Name), stateJSON, historyJSON,
		cp.IsAuto, string(metadataJSON), cp.CreatedAt)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// GetCheckpoint fetches a checkpoint by ID.
func (s *Store) GetCheckpoint(ctx context.Context, id int64) (*rewind.Checkpoint, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, internal_session_id, checkpoint_name, session_state, conversation_history,
		       is_auto, metadata, created_at
		FROM checkpoints WHERE id = ?`, id)
	return scanCheckpoint(row)
}

// CheckpointFilter narrows ListCheckpoints.
type CheckpointFilter struct {
	// AutoOnly restricts to automatic checkpoints; ManualOnly to manual.
	// Setting both is invalid and returns nothing.
	AutoOnly   bool
	ManualOnly bool
}

// ListCheckpoints returns an internal session's checkpoints ordered
// newest-first. Ties break by insertion order, newest first.
func (s *Store) ListCheckpoints(ctx context.Context, internalSessionID int64, filter CheckpointFilter) ([]*rewind.Checkpoint, error) {
	query := `
		SELECT id, internal_session_id, checkpoint_name, session_state, conversation_history,
		       is_auto, metadata, created_at
		FROM checkpoints WHERE internal_session_id = ?`
	if filter.AutoOnly {
		query += ` AND is_auto = 1`
	}
	if filter.ManualOnly {
		query += ` AND is_auto = 0`
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := s.db.QueryContext(ctx, query, internalSessionID)
	if err != nil {
		return nil, translateErr(err)
	}
	defer rows.Close()

	var checkpoints []*rewind.Checkpoint
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, err
		}
		checkpoints = append(checkpoints, cp)
	}
	return checkpoints, rows.Err()
}

// DeleteCheckpoint removes a checkpoint by ID.
func (s *Store) DeleteCheckpoint(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE id = ?`, id)
	if err != nil {
		return translateErr(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// PruneAutoCheckpoints deletes all automatic checkpoints of an internal
// session except the keepLatest most recent ones. Manual checkpoints are
// never pruned. Returns the number deleted.
func (s *Store) PruneAutoCheckpoints(ctx context.Context, internalSessionID int64, keepLatest int) (int64, error) {
	if keepLatest < 1 {
		keepLatest = 1
	}
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM checkpoints
		WHERE internal_session_id = ? AND is_auto = 1 AND id NOT IN (
			SELECT id FROM checkpoints
			WHERE internal_session_id = ? AND is_auto = 1
			ORDER BY created_at DESC, id DESC
			LIMIT ?
		)`, internalSessionID, internalSessionID, keepLatest)
	if err != nil {
		return 0, translateErr(err)
	}
	return result.RowsAffected()
}

// CountCheckpoints returns the number of automatic and manual checkpoints
// for an internal session.
func (s *Store) CountCheckpoints(ctx context.Context, internalSessionID int64) (auto int64, manual int64, err error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(is_auto), 0), COALESCE(SUM(1 - is_auto), 0)
		FROM checkpoints WHERE internal_session_id = ?`, internalSessionID)
	if err := row.Scan(&auto, &manual); err != nil {
		return 0, 0, translateErr(err)
	}
	return auto, manual, nil
}

func nullableName(name string) any {
	if strings.TrimSpace(name) == "" {
		return nil
	}
	return name
}

func scanCheckpoint(row rowScanner) (*rewind.Checkpoint, error) {
	var cp rewind.Checkpoint
	var name sql.NullString
	var stateJSON, historyJSON, metadataJSON string
	err := row.Scan(&cp.ID, &cp.InternalSessionID, &name, &stateJSON, &historyJSON,
		&cp.IsAuto, &metadataJSON, &cp.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	cp.Name = name.String
	if err := json.Unmarshal([]byte(stateJSON), &cp.State); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint state: %w", err)
	}
	if err := json.Unmarshal([]byte(historyJSON), &cp.History); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint history: %w", err)
	}
	if err := json.Unmarshal([]byte(metadataJSON), &cp.Metadata); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint metadata: %w", err)
	}
	return &cp, nil
}

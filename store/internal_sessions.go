package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/deepnoodle-ai/rewind"
)

// CreateInternalSession inserts a new internal session and marks it the
// current one for its external session, demoting any prior current take.
// The whole operation runs in one transaction.
func (s *Store) CreateInternalSession(ctx context.Context, session *rewind.InternalSession) (*rewind.InternalSession, error) {
	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now()
	}
	stateJSON, historyJSON, err := encodeSessionData(session.State, session.History)
	if err != nil {
		return nil, err
	}

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		// The external session must exist; rely on the FK for integrity
		// but check explicitly for a better error.
		var exists int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM external_sessions WHERE id = ?`,
			session.ExternalSessionID).Scan(&exists); err != nil {
			return err
		}
		if exists == 0 {
			return fmt.Errorf("external session %d: %w", session.ExternalSessionID, ErrNotFound)
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE internal_sessions SET is_current = 0 WHERE external_session_id = ?`,
			session.ExternalSessionID); err != nil {
			return err
		}

		result, err := tx.ExecContext(ctx, `
			INSERT INTO internal_sessions
			(external_session_id, model_session_id, session_state, conversation_history, is_current, checkpoint_count, created_at)
			VALUES (?, ?, ?, ?, 1, ?, ?)`,
			session.ExternalSessionID, session.ModelSessionID, stateJSON, historyJSON,
			session.CheckpointCount, session.CreatedAt)
		if err != nil {
			return err
		}
		session.ID, err = result.LastInsertId()
		if err != nil {
			return err
		}
		session.IsCurrent = true

		_, err = tx.ExecContext(ctx, `
			UPDATE external_sessions SET current_internal_session_id = ?, updated_at = ? WHERE id = ?`,
			session.ID, time.Now(), session.ExternalSessionID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return session, nil
}

// GetInternalSession fetches an internal session by ID.
func (s *Store) GetInternalSession(ctx context.Context, id int64) (*rewind.InternalSession, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, external_session_id, model_session_id, session_state, conversation_history,
		       is_current, checkpoint_count, created_at
		FROM internal_sessions WHERE id = ?`, id)
	return scanInternalSession(row)
}

// ListInternalSessions returns all internal sessions under an external
// session, ordered by creation.
func (s *Store) ListInternalSessions(ctx context.Context, externalSessionID int64) ([]*rewind.InternalSession, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, external_session_id, model_session_id, session_state, conversation_history,
		       is_current, checkpoint_count, created_at
		FROM internal_sessions WHERE external_session_id = ?
		ORDER BY created_at ASC, id ASC`, externalSessionID)
	if err != nil {
		return nil, translateErr(err)
	}
	defer rows.Close()

	var sessions []*rewind.InternalSession
	for rows.Next() {
		session, err := scanInternalSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

// GetCurrentInternalSession returns the single current internal session of
// an external session, or ErrNotFound when none exists.
func (s *Store) GetCurrentInternalSession(ctx context.Context, externalSessionID int64) (*rewind.InternalSession, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, external_session_id, model_session_id, session_state, conversation_history,
		       is_current, checkpoint_count, created_at
		FROM internal_sessions WHERE external_session_id = ? AND is_current = 1`, externalSessionID)
	return scanInternalSession(row)
}

// UpdateInternalSession persists the session's state, history, and
// checkpoint counter.
func (s *Store) UpdateInternalSession(ctx context.Context, session *rewind.InternalSession) error {
	stateJSON, historyJSON, err := encodeSessionData(session.State, session.History)
	if err != nil {
		return err
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE internal_sessions
		SET session_state = ?, conversation_history = ?, checkpoint_count = ?
		WHERE id = ?`,
		stateJSON, historyJSON, session.CheckpointCount, session.ID)
	if err != nil {
		return translateErr(err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// SetCurrentInternalSession marks the given internal session current and
// demotes all siblings, updating the external session's pointer, all in
// one transaction. The session must belong to the external session.
func (s *Store) SetCurrentInternalSession(ctx context.Context, externalSessionID, internalSessionID int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var owner int64
		err := tx.QueryRowContext(ctx,
			`SELECT external_session_id FROM internal_sessions WHERE id = ?`,
			internalSessionID).Scan(&owner)
		if err != nil {
			return err
		}
		if owner != externalSessionID {
			return fmt.Errorf("internal session %d does not belong to external session %d: %w",
				internalSessionID, externalSessionID, ErrNotFound)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE internal_sessions SET is_current = 0 WHERE external_session_id = ?`,
			externalSessionID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE internal_sessions SET is_current = 1 WHERE id = ?`,
			internalSessionID); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE external_sessions SET current_internal_session_id = ?, updated_at = ? WHERE id = ?`,
			internalSessionID, time.Now(), externalSessionID)
		return err
	})
}

func encodeSessionData(state rewind.SessionState, history []*rewind.Message) (string, string, error) {
	if state == nil {
		state = rewind.SessionState{}
	}
	stateJSON, err := json.Marshal(state)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal session state: %w", err)
	}
	if history == nil {
		history = []*rewind.Message{}
	}
	historyJSON, err := json.Marshal(history)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal conversation history: %w", err)
	}
	return string(stateJSON), string(historyJSON), nil
}

func scanInternalSession(row rowScanner) (*rewind.InternalSession, error) {
	var session rewind.InternalSession
	var stateJSON, historyJSON string
	err := row.Scan(&session.ID, &session.ExternalSessionID, &session.ModelSessionID,
		&stateJSON, &historyJSON, &session.IsCurrent, &session.CheckpointCount, &session.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal([]byte(stateJSON), &session.State); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session state: %w", err)
	}
	if err := json.Unmarshal([]byte(historyJSON), &session.History); err != nil {
		return nil, fmt.Errorf("failed to unmarshal conversation history: %w", err)
	}
	return &session, nil
}

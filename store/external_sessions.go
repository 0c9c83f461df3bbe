package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/deepnoodle-ai/rewind"
)

// CreateExternalSession inserts a new external session for a user.
func (s *Store) CreateExternalSession(ctx context.Context, session *rewind.ExternalSession) (*rewind.ExternalSession, error) {
	now := time.Now()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	session.UpdatedAt = now
	session.IsActive = true

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO external_sessions (user_id, name, is_active, created_at, updated_at)
		VALUES (?, ?, 1, ?, ?)`,
		session.UserID, session.Name, session.CreatedAt, session.UpdatedAt)
	if err != nil {
		return nil, translateErr(err)
	}
	session.ID, err = result.LastInsertId()
	if err != nil {
		return nil, err
	}
	return session, nil
}

// GetExternalSession fetches an external session by ID.
func (s *Store) GetExternalSession(ctx context.Context, id int64) (*rewind.ExternalSession, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, name, is_active, current_internal_session_id, created_at, updated_at
		FROM external_sessions WHERE id = ?`, id)
	return scanExternalSession(row)
}

// ListExternalSessionsByUser returns a user's external sessions ordered by
// creation time.
func (s *Store) ListExternalSessionsByUser(ctx context.Context, userID int64) ([]*rewind.ExternalSession, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, name, is_active, current_internal_session_id, created_at, updated_at
		FROM external_sessions WHERE user_id = ?
		ORDER BY created_at ASC, id ASC`, userID)
	if err != nil {
		return nil, translateErr(err)
	}
	defer rows.Close()

	var sessions []*rewind.ExternalSession
	for rows.Next() {
		session, err := scanExternalSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

// RenameExternalSession updates the display name.
func (s *Store) RenameExternalSession(ctx context.Context, id int64, name string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE external_sessions SET name = ?, updated_at = ? WHERE id = ?`,
		name, time.Now(), id)
	if err != nil {
		return translateErr(err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteExternalSession removes an external session and, via cascade, all
// internal sessions and checkpoints beneath it.
func (s *Store) DeleteExternalSession(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM external_sessions WHERE id = ?`, id)
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

func scanExternalSession(row rowScanner) (*rewind.ExternalSession, error) {
	var session rewind.ExternalSession
	var current sql.NullInt64
	err := row.Scan(&session.ID, &session.UserID, &session.Name, &session.IsActive,
		&current, &session.CreatedAt, &session.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if current.Valid {
		session.CurrentInternalSessionID = &current.Int64
	}
	return &session, nil
}

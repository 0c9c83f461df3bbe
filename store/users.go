package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/deepnoodle-ai/rewind"
)

// CreateUser inserts a new user. Returns ErrIntegrity if the username is
// taken.
func (s *Store) CreateUser(ctx context.Context, user *rewind.User) (*rewind.User, error) {
	now := time.Now()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password_hash, is_admin, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)`,
		user.Username, user.PasswordHash, user.IsAdmin, user.CreatedAt, user.UpdatedAt)
	if err != nil {
		return nil, translateErr(err)
	}
	user.ID, err = result.LastInsertId()
	if err != nil {
		return nil, err
	}
	return user, nil
}

// GetUser fetches a user by ID.
func (s *Store) GetUser(ctx context.Context, id int64) (*rewind.User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, username, password_hash, is_admin, created_at, updated_at
		FROM users WHERE id = ?`, id)
	return scanUser(row)
}

// GetUserByName fetches a user by username.
func (s *Store) GetUserByName(ctx context.Context, username string) (*rewind.User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, username, password_hash, is_admin, created_at, updated_at
		FROM users WHERE username = ?`, username)
	return scanUser(row)
}

// ListUsers returns all users ordered by creation time.
func (s *Store) ListUsers(ctx context.Context) ([]*rewind.User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, username, password_hash, is_admin, created_at, updated_at
		FROM users ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, translateErr(err)
	}
	defer rows.Close()

	var users []*rewind.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

// DeleteUser removes a user and, via cascade, all external sessions,
// internal sessions, checkpoints, and tool records the user owns.
func (s *Store) DeleteUser(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
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

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*rewind.User, error) {
	var user rewind.User
	err := row.Scan(&user.ID, &user.Username, &user.PasswordHash, &user.IsAdmin,
		&user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &user, nil
}

// Package store provides SQLite persistence for users, sessions,
// checkpoints, and tool invocation records.
//
// All compound operations that mutate session lineage run inside a single
// transaction. Deletes cascade: removing a user removes its external
// sessions, their internal sessions, and everything owned beneath.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/deepnoodle-ai/rewind/log"
)

var (
	// ErrNotFound is returned when an entity ID does not resolve.
	ErrNotFound = errors.New("not found")

	// ErrIntegrity is returned when a unique or foreign key constraint
	// fails, e.g. a duplicate username or a fork of a deleted session.
	ErrIntegrity = errors.New("integrity violation")
)

// Options configures the SQLite store.
type Options struct {
	PragmaJournalMode string        // WAL mode for better concurrent performance
	PragmaSyncMode    string        // Synchronization mode
	MaxConnections    int           // Maximum number of connections in pool
	QueryTimeout      time.Duration // Timeout for database queries
	Logger            log.Logger
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		PragmaJournalMode: "WAL",
		PragmaSyncMode:    "NORMAL",
		MaxConnections:    10,
		QueryTimeout:      30 * time.Second,
	}
}

// Store is a SQLite-backed repository set for the engine's entities.
type Store struct {
	db      *sql.DB
	path    string
	options Options
	logger  log.Logger
}

// Open opens (creating if necessary) the store at the given path. The
// schema is initialized on first use. Zero option fields take their
// defaults; set fields are kept.
func Open(path string, options Options) (*Store, error) {
	defaults := DefaultOptions()
	if options.PragmaJournalMode == "" {
		options.PragmaJournalMode = defaults.PragmaJournalMode
	}
	if options.PragmaSyncMode == "" {
		options.PragmaSyncMode = defaults.PragmaSyncMode
	}
	if options.MaxConnections == 0 {
		options.MaxConnections = defaults.MaxConnections
	}
	if options.QueryTimeout == 0 {
		options.QueryTimeout = defaults.QueryTimeout
	}
	if options.Logger == nil {
		options.Logger = log.NewNullLogger()
	}
	s := &Store{path: path, options: options, logger: options.Logger}
	if err := s.initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}
	s.logger.Debug("opened store",
		"path", path,
		"journal_mode", options.PragmaJournalMode,
		"max_connections", options.MaxConnections)
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initialize() error {
	dsn := fmt.Sprintf("%s?_journal_mode=%s&_sync=%s&_foreign_keys=1&_timeout=5000",
		s.path, s.options.PragmaJournalMode, s.options.PragmaSyncMode)

	var err error
	s.db, err = sql.Open("sqlite3", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	s.db.SetMaxOpenConns(s.options.MaxConnections)
	s.db.SetMaxIdleConns(s.options.MaxConnections / 2)
	s.db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), s.options.QueryTimeout)
	defer cancel()

	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}
	if err := s.createSchema(ctx); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

func (s *Store) createSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		is_admin INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS external_sessions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		name TEXT NOT NULL DEFAULT '',
		is_active INTEGER NOT NULL DEFAULT 1,
		current_internal_session_id INTEGER,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_external_sessions_user ON external_sessions(user_id);

	CREATE TABLE IF NOT EXISTS internal_sessions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		external_session_id INTEGER NOT NULL REFERENCES external_sessions(id) ON DELETE CASCADE,
		model_session_id TEXT NOT NULL,
		session_state JSON NOT NULL DEFAULT '{}',
		conversation_history JSON NOT NULL DEFAULT '[]',
		is_current INTEGER NOT NULL DEFAULT 0,
		checkpoint_count INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_internal_sessions_external ON internal_sessions(external_session_id);

	CREATE TABLE IF NOT EXISTS checkpoints (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		internal_session_id INTEGER NOT NULL REFERENCES internal_sessions(id) ON DELETE CASCADE,
		checkpoint_name TEXT,
		session_state JSON NOT NULL DEFAULT '{}',
		conversation_history JSON NOT NULL DEFAULT '[]',
		is_auto INTEGER NOT NULL DEFAULT 0,
		metadata JSON NOT NULL DEFAULT '{}',
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_checkpoints_session_created ON checkpoints(internal_session_id, created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_checkpoints_session_auto ON checkpoints(internal_session_id, is_auto);

	CREATE TABLE IF NOT EXISTS tool_invocations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		internal_session_id INTEGER NOT NULL REFERENCES internal_sessions(id) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		tool_name TEXT NOT NULL,
		args JSON NOT NULL DEFAULT '{}',
		result JSON,
		success INTEGER NOT NULL DEFAULT 1,
		error TEXT,
		created_at DATETIME NOT NULL,
		UNIQUE(internal_session_id, position)
	);

	CREATE INDEX IF NOT EXISTS idx_tool_invocations_session ON tool_invocations(internal_session_id, position);
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}
	return nil
}

// withTx runs fn inside a transaction, committing on success.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return translateErr(err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", translateErr(err))
	}
	return nil
}

// translateErr maps driver errors to the store's error taxonomy.
func translateErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		if sqliteErr.Code == sqlite3.ErrConstraint {
			return fmt.Errorf("%w: %v", ErrIntegrity, err)
		}
	}
	return err
}

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/deepnoodle-ai/rewind/track"
)

// AppendToolInvocation persists one track record at the given position for
// an internal session.
func (s *Store) AppendToolInvocation(ctx context.Context, internalSessionID int64, position int, record *track.Record) error {
	return translateErr(s.insertToolInvocation(ctx, s.db, internalSessionID, position, record))
}

// insertToolInvocation writes one record, standalone or inside a fork
// transaction.
func (s *Store) insertToolInvocation(ctx context.Context, db execer, internalSessionID int64, position int, record *track.Record) error {
	argsJSON, err := json.Marshal(record.Args)
	if err != nil {
		return fmt.Errorf("failed to marshal tool args: %w", err)
	}
	var resultJSON any
	if record.Result != nil {
		data, err := json.Marshal(record.Result)
		if err != nil {
			return fmt.Errorf("failed to marshal tool result: %w", err)
		}
		resultJSON = string(data)
	}
	createdAt := record.Timestamp
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO tool_invocations
		(internal_session_id, position, tool_name, args, result, success, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		internalSessionID, position, record.ToolName, string(argsJSON), resultJSON,
		record.Success, nullableName(record.ErrorMessage), createdAt)
	return err
}

// TruncateToolInvocations deletes an internal session's records at or past
// the given position. Used after a successful track rollback.
func (s *Store) TruncateToolInvocations(ctx context.Context, internalSessionID int64, length int) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM tool_invocations WHERE internal_session_id = ? AND position >= ?`,
		internalSessionID, length)
	return translateErr(err)
}

// ListToolInvocations returns an internal session's records in position
// order.
func (s *Store) ListToolInvocations(ctx context.Context, internalSessionID int64) ([]*track.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tool_name, args, result, success, error, created_at
		FROM tool_invocations WHERE internal_session_id = ?
		ORDER BY position ASC`, internalSessionID)
	if err != nil {
		return nil, translateErr(err)
	}
	defer rows.Close()

	var records []*track.Record
	for rows.Next() {
		var record track.Record
		var argsJSON string
		var resultJSON, errorMessage sql.NullString
		if err := rows.Scan(&record.ToolName, &argsJSON, &resultJSON,
			&record.Success, &errorMessage, &record.Timestamp); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(argsJSON), &record.Args); err != nil {
			return nil, fmt.Errorf("failed to unmarshal tool args: %w", err)
		}
		if resultJSON.Valid {
			var result any
			if err := json.Unmarshal([]byte(resultJSON.String), &result); err != nil {
				return nil, fmt.Errorf("failed to unmarshal tool result: %w", err)
			}
			record.Result = result
		}
		record.ErrorMessage = errorMessage.String
		records = append(records, &record)
	}
	return records, rows.Err()
}

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/deepnoodle-ai/rewind"
	"github.com/deepnoodle-ai/rewind/track"
)

// ForkFromCheckpoint creates a new internal session seeded from the given
// checkpoint, all in one transaction:
//
//   - the new session's state and history are deep copies of the snapshot
//   - every checkpoint of the source session with created_at at or before
//     the target's is copied into the new session, preserving order
//   - the given track records are written as the new session's invocation
//     log, preserving position order
//   - the new session becomes the external session's current take; the
//     source is demoted but kept for history
//
// Store failures roll the whole fork back; there is no partial fork.
func (s *Store) ForkFromCheckpoint(ctx context.Context, cp *rewind.Checkpoint, modelSessionID string, records []*track.Record) (*rewind.InternalSession, error) {
	source, err := s.GetInternalSession(ctx, cp.InternalSessionID)
	if err != nil {
		return nil, fmt.Errorf("source internal session: %w", err)
	}

	lineage, err := s.lineageCheckpoints(ctx, cp)
	if err != nil {
		return nil, err
	}

	forked := &rewind.InternalSession{
		ExternalSessionID: source.ExternalSessionID,
		ModelSessionID:    modelSessionID,
		State:             cp.State.Copy(),
		History:           rewind.CopyHistory(cp.History),
		CheckpointCount:   len(lineage),
		CreatedAt:         time.Now(),
	}
	stateJSON, historyJSON, err := encodeSessionData(forked.State, forked.History)
	if err != nil {
		return nil, err
	}

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`UPDATE internal_sessions SET is_current = 0 WHERE external_session_id = ?`,
			forked.ExternalSessionID); err != nil {
			return err
		}

		result, err := tx.ExecContext(ctx, `
			INSERT INTO internal_sessions
			(external_session_id, model_session_id, session_state, conversation_history, is_current, checkpoint_count, created_at)
			VALUES (?, ?, ?, ?, 1, ?, ?)`,
			forked.ExternalSessionID, forked.ModelSessionID, stateJSON, historyJSON,
			forked.CheckpointCount, forked.CreatedAt)
		if err != nil {
			return err
		}
		forked.ID, err = result.LastInsertId()
		if err != nil {
			return err
		}
		forked.IsCurrent = true

		for _, lcp := range lineage {
			copied := &rewind.Checkpoint{
				InternalSessionID: forked.ID,
				Name:              lcp.Name,
				State:             lcp.State.Copy(),
				History:           rewind.CopyHistory(lcp.History),
				IsAuto:            lcp.IsAuto,
				Metadata:          copyMetadata(lcp.Metadata),
				CreatedAt:         lcp.CreatedAt,
			}
			if _, err := s.insertCheckpoint(ctx, tx, copied); err != nil {
				return err
			}
		}

		for position, record := range records {
			if err := s.insertToolInvocation(ctx, tx, forked.ID, position, record); err != nil {
				return err
			}
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE external_sessions SET current_internal_session_id = ?, updated_at = ? WHERE id = ?`,
			forked.ID, time.Now(), forked.ExternalSessionID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return forked, nil
}

// lineageCheckpoints returns the source session's checkpoints with
// created_at <= the target's, in creation order (ties by insertion order).
func (s *Store) lineageCheckpoints(ctx context.Context, cp *rewind.Checkpoint) ([]*rewind.Checkpoint, error) {
	all, err := s.ListCheckpoints(ctx, cp.InternalSessionID, CheckpointFilter{})
	if err != nil {
		return nil, err
	}
	// ListCheckpoints is newest-first; walk backwards to restore
	// creation order.
	var lineage []*rewind.Checkpoint
	for i := len(all) - 1; i >= 0; i-- {
		candidate := all[i]
		if candidate.CreatedAt.After(cp.CreatedAt) {
			continue
		}
		if candidate.CreatedAt.Equal(cp.CreatedAt) && candidate.ID > cp.ID {
			continue
		}
		lineage = append(lineage, candidate)
	}
	return lineage, nil
}

func copyMetadata(metadata map[string]any) map[string]any {
	if metadata == nil {
		return nil
	}
	cp := make(map[string]any, len(metadata))
	for k, v := range metadata {
		cp[k] = v
	}
	return cp
}

// Package session manages internal session lifecycle: creation, resume,
// turn appends, and checkpoint snapshots.
package session

import (
	"context"
	"fmt"

	"github.com/deepnoodle-ai/rewind"
	"github.com/deepnoodle-ai/rewind/llm"
	"github.com/deepnoodle-ai/rewind/log"
	"github.com/deepnoodle-ai/rewind/store"
)

// Manager coordinates internal sessions beneath an external session. It
// never deletes internal sessions; removal is cascade-only through the
// external session.
type Manager struct {
	store  *store.Store
	logger log.Logger
}

// NewManager creates a Manager backed by the given store.
func NewManager(s *store.Store, logger log.Logger) *Manager {
	if logger == nil {
		logger = log.NewNullLogger()
	}
	return &Manager{store: s, logger: logger}
}

// NewInternalSession creates a fresh internal session under the external
// session and marks it current, demoting any prior current take.
func (m *Manager) NewInternalSession(ctx context.Context, externalSessionID int64, initialState rewind.SessionState) (*rewind.InternalSession, error) {
	if initialState == nil {
		initialState = rewind.SessionState{}
	}
	session := &rewind.InternalSession{
		ExternalSessionID: externalSessionID,
		ModelSessionID:    rewind.NewSessionID(),
		State:             initialState,
		History:           []*rewind.Message{},
	}
	created, err := m.store.CreateInternalSession(ctx, session)
	if err != nil {
		return nil, fmt.Errorf("failed to create internal session: %w", err)
	}
	m.logger.Debug("created internal session",
		"internal_session_id", created.ID,
		"external_session_id", externalSessionID,
		"model_session_id", created.ModelSessionID)
	return created, nil
}

// Resume loads an internal session and marks it current. When
// internalSessionID is nil the external session's current pointer is
// followed. Returns store.ErrNotFound if the id is unknown or does not
// belong to the external session.
func (m *Manager) Resume(ctx context.Context, externalSessionID int64, internalSessionID *int64) (*rewind.InternalSession, error) {
	var session *rewind.InternalSession
	var err error
	if internalSessionID != nil {
		session, err = m.store.GetInternalSession(ctx, *internalSessionID)
		if err != nil {
			return nil, err
		}
		if session.ExternalSessionID != externalSessionID {
			return nil, fmt.Errorf("internal session %d does not belong to external session %d: %w",
				*internalSessionID, externalSessionID, store.ErrNotFound)
		}
	} else {
		session, err = m.store.GetCurrentInternalSession(ctx, externalSessionID)
		if err != nil {
			return nil, err
		}
	}
	if !session.IsCurrent {
		if err := m.store.SetCurrentInternalSession(ctx, externalSessionID, session.ID); err != nil {
			return nil, err
		}
		session.IsCurrent = true
	}
	return session, nil
}

// AppendTurn appends an entry to the session's conversation history with
// the wall-clock timestamp and persists it.
func (m *Manager) AppendTurn(ctx context.Context, internalSessionID int64, role llm.Role, content string) error {
	session, err := m.store.GetInternalSession(ctx, internalSessionID)
	if err != nil {
		return err
	}
	session.AppendMessage(role, content)
	return m.store.UpdateInternalSession(ctx, session)
}

// Save persists the session's in-memory state, history, and checkpoint
// counter.
func (m *Manager) Save(ctx context.Context, session *rewind.InternalSession) error {
	return m.store.UpdateInternalSession(ctx, session)
}

// Snapshot constructs and persists a checkpoint from the session by deep
// copying its state and history, stamping the given track index into
// metadata, and incrementing the session's checkpoint counter.
func (m *Manager) Snapshot(ctx context.Context, session *rewind.InternalSession, name string, isAuto bool, trackIndex int) (*rewind.Checkpoint, error) {
	cp := rewind.NewCheckpoint(session, name, isAuto, trackIndex)
	created, err := m.store.CreateCheckpoint(ctx, cp)
	if err != nil {
		return nil, fmt.Errorf("failed to create checkpoint: %w", err)
	}
	session.CheckpointCount++
	if err := m.store.UpdateInternalSession(ctx, session); err != nil {
		return nil, err
	}
	m.logger.Debug("created checkpoint",
		"checkpoint_id", created.ID,
		"internal_session_id", session.ID,
		"is_auto", isAuto,
		"track_index", trackIndex)
	return created, nil
}

// ListInternalSessions returns every take beneath the external session in
// creation order.
func (m *Manager) ListInternalSessions(ctx context.Context, externalSessionID int64) ([]*rewind.InternalSession, error) {
	return m.store.ListInternalSessions(ctx, externalSessionID)
}

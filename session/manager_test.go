package session

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/deepnoodle-ai/wonton/assert"

	"github.com/deepnoodle-ai/rewind"
	"github.com/deepnoodle-ai/rewind/llm"
	"github.com/deepnoodle-ai/rewind/store"
)

func newTestManager(t *testing.T) (*Manager, *store.Store, *rewind.ExternalSession) {
	t.Helper()
	ctx := context.Background()
	s, err := store.Open(filepath.Join(t.TempDir(), "rewind.db"), store.Options{})
	assert.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	user, err := s.CreateUser(ctx, &rewind.User{Username: "alice", PasswordHash: "x"})
	assert.NoError(t, err)
	external, err := s.CreateExternalSession(ctx, &rewind.ExternalSession{UserID: user.ID, Name: "chat"})
	assert.NoError(t, err)
	return NewManager(s, nil), s, external
}

func TestManager_NewInternalSession(t *testing.T) {
	ctx := context.Background()
	manager, _, external := newTestManager(t)

	first, err := manager.NewInternalSession(ctx, external.ID, nil)
	assert.NoError(t, err)
	assert.True(t, first.IsCurrent)
	assert.NotEqual(t, "", first.ModelSessionID)

	second, err := manager.NewInternalSession(ctx, external.ID, rewind.SessionState{"seed": true})
	assert.NoError(t, err)
	assert.True(t, second.IsCurrent)
	assert.NotEqual(t, first.ModelSessionID, second.ModelSessionID)

	sessions, err := manager.ListInternalSessions(ctx, external.ID)
	assert.NoError(t, err)
	assert.Equal(t, 2, len(sessions))
	assert.False(t, sessions[0].IsCurrent)
	assert.True(t, sessions[1].IsCurrent)
}

func TestManager_Resume(t *testing.T) {
	ctx := context.Background()
	manager, _, external := newTestManager(t)

	first, err := manager.NewInternalSession(ctx, external.ID, nil)
	assert.NoError(t, err)
	second, err := manager.NewInternalSession(ctx, external.ID, nil)
	assert.NoError(t, err)

	// Without an explicit id the current pointer is followed.
	resumed, err := manager.Resume(ctx, external.ID, nil)
	assert.NoError(t, err)
	assert.Equal(t, second.ID, resumed.ID)

	// Resuming an older take makes it current again.
	resumed, err = manager.Resume(ctx, external.ID, &first.ID)
	assert.NoError(t, err)
	assert.True(t, resumed.IsCurrent)
	current, err := manager.store.GetCurrentInternalSession(ctx, external.ID)
	assert.NoError(t, err)
	assert.Equal(t, first.ID, current.ID)
}

func TestManager_ResumeForeignSession(t *testing.T) {
	ctx := context.Background()
	manager, s, external := newTestManager(t)

	other, err := s.CreateExternalSession(ctx, &rewind.ExternalSession{UserID: 1, Name: "other"})
	assert.NoError(t, err)
	foreign, err := manager.NewInternalSession(ctx, other.ID, nil)
	assert.NoError(t, err)

	_, err = manager.Resume(ctx, external.ID, &foreign.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestManager_AppendTurn(t *testing.T) {
	ctx := context.Background()
	manager, s, external := newTestManager(t)

	session, err := manager.NewInternalSession(ctx, external.ID, nil)
	assert.NoError(t, err)

	assert.NoError(t, manager.AppendTurn(ctx, session.ID, llm.User, "hello"))
	assert.NoError(t, manager.AppendTurn(ctx, session.ID, llm.Assistant, "hi"))

	reloaded, err := s.GetInternalSession(ctx, session.ID)
	assert.NoError(t, err)
	assert.Equal(t, 2, len(reloaded.History))
	assert.Equal(t, llm.User, reloaded.History[0].Role)
	assert.False(t, reloaded.History[0].Timestamp.IsZero())
}

func TestManager_SnapshotIncrementsCounter(t *testing.T) {
	ctx := context.Background()
	manager, s, external := newTestManager(t)

	session, err := manager.NewInternalSession(ctx, external.ID, rewind.SessionState{"k": "v"})
	assert.NoError(t, err)
	session.AppendMessage(llm.User, "hello")

	cp, err := manager.Snapshot(ctx, session, "first", false, 3)
	assert.NoError(t, err)
	assert.Equal(t, "first", cp.Name)
	assert.Equal(t, 3, cp.TrackPosition())
	assert.False(t, cp.IsAuto)
	assert.Equal(t, 1, session.CheckpointCount)

	// Snapshots are deep copies: later mutation stays out.
	session.State["k"] = "changed"
	stored, err := s.GetCheckpoint(ctx, cp.ID)
	assert.NoError(t, err)
	assert.Equal(t, "v", stored.State["k"])
	assert.Equal(t, 1, len(stored.History))

	reloaded, err := s.GetInternalSession(ctx, session.ID)
	assert.NoError(t, err)
	assert.Equal(t, 1, reloaded.CheckpointCount)
}

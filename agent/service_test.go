package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/deepnoodle-ai/rewind"
	"github.com/deepnoodle-ai/rewind/llm"
	"github.com/deepnoodle-ai/rewind/session"
	"github.com/deepnoodle-ai/rewind/store"
	"github.com/deepnoodle-ai/rewind/track"
)

func TestService_RollbackUndoesToolEffects(t *testing.T) {
	ctx := context.Background()
	s, external := newTestStore(t)
	w := newWorld()
	mock := llm.NewMockClient()
	mock.AddToolCallResponse("create_file", `{"path":"t.txt"}`, "creating")
	mock.AddTextResponse("created t.txt")
	ag := newTestAgent(t, s, external, mock, []*track.Spec{w.createFileSpec()})

	_, err := ag.Run(ctx, "make t.txt")
	require.NoError(t, err)
	require.True(t, w.files["t.txt"])
	require.Equal(t, 1, ag.Registry().Len())

	// The auto checkpoint captures the state before the tool fired.
	checkpoints, err := s.ListCheckpoints(ctx, ag.Session().ID, store.CheckpointFilter{AutoOnly: true})
	require.NoError(t, err)
	require.Len(t, checkpoints, 1)

	service := NewService(s, nil, nil)
	result, err := service.Rollback(ctx, ag, checkpoints[0].ID, true)
	require.NoError(t, err)

	require.False(t, w.files["t.txt"])
	require.Len(t, result.Outcomes, 1)
	require.True(t, result.Outcomes[0].Reversed)
	require.Equal(t, 0, result.Agent.Registry().Len())
	require.True(t, result.Session.IsCurrent)
	require.NotEqual(t, ag.Session().ID, result.Session.ID)

	// The fork carries no persisted invocations either.
	records, err := s.ListToolInvocations(ctx, result.Session.ID)
	require.NoError(t, err)
	require.Empty(t, records)
}

func TestService_RollbackWithoutToolsTruncatesFork(t *testing.T) {
	ctx := context.Background()
	s, external := newTestStore(t)
	w := newWorld()
	mock := llm.NewMockClient()
	mock.AddToolCallResponse("create_file", `{"path":"t.txt"}`, "creating")
	mock.AddTextResponse("created t.txt")
	ag := newTestAgent(t, s, external, mock, []*track.Spec{w.createFileSpec()})

	_, err := ag.Run(ctx, "make t.txt")
	require.NoError(t, err)
	require.Equal(t, 1, ag.Registry().Len())

	checkpoints, err := s.ListCheckpoints(ctx, ag.Session().ID, store.CheckpointFilter{AutoOnly: true})
	require.NoError(t, err)
	require.Len(t, checkpoints, 1)

	service := NewService(s, nil, nil)
	result, err := service.Rollback(ctx, ag, checkpoints[0].ID, false)
	require.NoError(t, err)

	// The file stays in the world, but the fork's track still forgets
	// everything past the checkpoint position.
	require.True(t, w.files["t.txt"])
	require.Empty(t, result.Outcomes)
	require.Equal(t, 0, result.Agent.Registry().Len())

	records, err := s.ListToolInvocations(ctx, result.Session.ID)
	require.NoError(t, err)
	require.Empty(t, records)
}

func TestService_RollbackRejectsForeignCheckpoint(t *testing.T) {
	ctx := context.Background()
	s, external := newTestStore(t)
	ag := newTestAgent(t, s, external, llm.NewMockClient(), nil)

	other, err := s.CreateExternalSession(ctx, &rewind.ExternalSession{UserID: external.UserID, Name: "other"})
	require.NoError(t, err)
	otherAgent := newTestAgent(t, s, other, llm.NewMockClient(), nil)

	manager := session.NewManager(s, nil)
	foreign, err := manager.Snapshot(ctx, otherAgent.Session(), "theirs", false, 0)
	require.NoError(t, err)

	service := NewService(s, nil, nil)
	_, err = service.Rollback(ctx, ag, foreign.ID, true)
	require.ErrorIs(t, err, store.ErrNotFound)

	// The foreign session keeps its checkpoint and stays current.
	_, err = s.GetCheckpoint(ctx, foreign.ID)
	require.NoError(t, err)
	current, err := s.GetCurrentInternalSession(ctx, external.ID)
	require.NoError(t, err)
	require.Equal(t, ag.Session().ID, current.ID)
}

func TestService_RollbackNotFound(t *testing.T) {
	ctx := context.Background()
	s, external := newTestStore(t)
	ag := newTestAgent(t, s, external, llm.NewMockClient(), nil)

	service := NewService(s, nil, nil)
	_, err := service.Rollback(ctx, ag, 9999, true)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestService_CheckpointLineageSurvivesFork(t *testing.T) {
	ctx := context.Background()
	s, external := newTestStore(t)
	ag := newTestAgent(t, s, external, llm.NewMockClient(), nil)
	manager := session.NewManager(s, nil)

	var checkpointB *rewind.Checkpoint
	for _, name := range []string{"A", "B", "C"} {
		cp, err := manager.Snapshot(ctx, ag.Session(), name, false, 0)
		require.NoError(t, err)
		if name == "B" {
			checkpointB = cp
		}
	}

	service := NewService(s, nil, nil)
	result, err := service.Rollback(ctx, ag, checkpointB.ID, true)
	require.NoError(t, err)

	manual, err := s.ListCheckpoints(ctx, result.Session.ID, store.CheckpointFilter{ManualOnly: true})
	require.NoError(t, err)
	require.Len(t, manual, 2)
	require.Equal(t, "B", manual[0].Name)
	require.Equal(t, "A", manual[1].Name)

	// Rolling back again to A works from the new take.
	next := result.Agent
	cpA, err := next.findCheckpointByName(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, "A", cpA.Name)
	result2, err := service.Rollback(ctx, next, cpA.ID, true)
	require.NoError(t, err)

	manual, err = s.ListCheckpoints(ctx, result2.Session.ID, store.CheckpointFilter{ManualOnly: true})
	require.NoError(t, err)
	require.Len(t, manual, 1)
	require.Equal(t, "A", manual[0].Name)
}

func TestService_PartialReverseFailureStillForks(t *testing.T) {
	ctx := context.Background()
	s, external := newTestStore(t)
	mock := llm.NewMockClient()
	mock.AddToolCallResponse("stone1", `{}`, "first")
	mock.AddTextResponse("done one")
	mock.AddToolCallResponse("stone2", `{}`, "second")
	mock.AddTextResponse("done two")
	ag := newTestAgent(t, s, external, mock, []*track.Spec{
		irreversibleSpec("stone1"), irreversibleSpec("stone2"),
	})

	manager := session.NewManager(s, nil)
	initial, err := manager.Snapshot(ctx, ag.Session(), "initial", false, 0)
	require.NoError(t, err)

	_, err = ag.Run(ctx, "first turn")
	require.NoError(t, err)
	_, err = ag.Run(ctx, "second turn")
	require.NoError(t, err)
	require.Equal(t, 2, ag.Registry().Len())

	service := NewService(s, nil, nil)
	result, err := service.Rollback(ctx, ag, initial.ID, true)
	require.NoError(t, err)

	require.Len(t, result.Outcomes, 2)
	for _, outcome := range result.Outcomes {
		require.False(t, outcome.Reversed)
		require.Contains(t, outcome.ErrorMessage, "cannot be undone")
	}
	// The fork still happened and is current.
	require.True(t, result.Session.IsCurrent)
	current, err := s.GetCurrentInternalSession(ctx, external.ID)
	require.NoError(t, err)
	require.Equal(t, result.Session.ID, current.ID)
	require.Equal(t, 0, result.Agent.Registry().Len())
}

func TestService_HistoryReinjectedAfterRollback(t *testing.T) {
	ctx := context.Background()
	s, external := newTestStore(t)
	mock := llm.NewMockClient()
	mock.AddTextResponse("Nice to meet you, Alice")
	mock.AddTextResponse("Your name is Alice")
	ag := newTestAgent(t, s, external, mock, nil)

	_, err := ag.Run(ctx, "I'm Alice")
	require.NoError(t, err)
	_, err = ag.Run(ctx, "What is my name?")
	require.NoError(t, err)

	manager := session.NewManager(s, nil)
	checkpointM, err := manager.Snapshot(ctx, ag.Session(), "M", false, 0)
	require.NoError(t, err)

	mock.AddTextResponse("Talking about the weather now")
	_, err = ag.Run(ctx, "Let's change topic")
	require.NoError(t, err)

	service := NewService(s, nil, nil)
	result, err := service.Rollback(ctx, ag, checkpointM.ID, true)
	require.NoError(t, err)
	restored := result.Agent

	// The restored take carries the checkpoint history, not the later
	// topic change.
	require.Len(t, restored.Session().History, 4)

	mock.AddResponseFunc(func(cfg *llm.Config) *llm.Response {
		for _, m := range cfg.Messages {
			if m.Role == llm.User && m.Content == "I'm Alice" {
				return &llm.Response{Message: llm.NewAssistantMessage("Alice")}
			}
		}
		return &llm.Response{Message: llm.NewAssistantMessage("I don't know")}
	})
	response, err := restored.Run(ctx, "What is my name?")
	require.NoError(t, err)
	require.Equal(t, "Alice", response.Text)
}

func TestService_RollbackBeyondTrackRefused(t *testing.T) {
	ctx := context.Background()
	s, external := newTestStore(t)
	ag := newTestAgent(t, s, external, llm.NewMockClient(), nil)

	manager := session.NewManager(s, nil)
	cp, err := manager.Snapshot(ctx, ag.Session(), "ahead", false, 5)
	require.NoError(t, err)

	service := NewService(s, nil, nil)
	_, err = service.Rollback(ctx, ag, cp.ID, true)
	require.ErrorIs(t, err, track.ErrInvalidTransition)

	// The same guard applies when tool reversal is skipped.
	_, err = service.Rollback(ctx, ag, cp.ID, false)
	require.ErrorIs(t, err, track.ErrInvalidTransition)
}

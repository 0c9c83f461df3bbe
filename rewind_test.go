package rewind

import (
	"testing"

	"github.com/deepnoodle-ai/wonton/assert"

	"github.com/deepnoodle-ai/rewind/llm"
)

func TestSessionState_Copy(t *testing.T) {
	state := SessionState{
		"name":   "Alice",
		"nested": map[string]any{"k": "v"},
	}
	cp := state.Copy()
	cp["name"] = "Bob"
	cp["nested"].(map[string]any)["k"] = "changed"

	assert.Equal(t, "Alice", state["name"])
	assert.Equal(t, "v", state["nested"].(map[string]any)["k"])

	var nilState SessionState
	assert.NotNil(t, nilState.Copy())
}

func TestNewCheckpoint_SnapshotIsolation(t *testing.T) {
	session := &InternalSession{
		ID:             7,
		ModelSessionID: "ms_abc",
		State:          SessionState{"topic": "files"},
	}
	session.AppendMessage(llm.User, "hello")

	cp := NewCheckpoint(session, "first", false, 2)
	assert.Equal(t, int64(7), cp.InternalSessionID)
	assert.Equal(t, 2, cp.TrackPosition())
	assert.False(t, cp.IsAuto)

	session.State["topic"] = "weather"
	session.AppendMessage(llm.Assistant, "hi")
	assert.Equal(t, "files", cp.State["topic"])
	assert.Equal(t, 1, len(cp.History))
}

func TestCheckpoint_TrackPositionDecodesJSONNumbers(t *testing.T) {
	// Metadata round-trips through JSON, so the position may come back
	// as a float64.
	cp := &Checkpoint{Metadata: map[string]any{MetadataTrackPosition: float64(4)}}
	assert.Equal(t, 4, cp.TrackPosition())

	cp = &Checkpoint{Metadata: map[string]any{MetadataTrackPosition: int64(3)}}
	assert.Equal(t, 3, cp.TrackPosition())

	cp = &Checkpoint{}
	assert.Equal(t, 0, cp.TrackPosition())
}

func TestNewSessionID_Unique(t *testing.T) {
	a := NewSessionID()
	b := NewSessionID()
	assert.NotEqual(t, a, b)
	assert.Contains(t, a, "ms_")
}

package rewind

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/deepnoodle-ai/rewind/llm"
)

// NewSessionID returns a fresh model-layer session identifier. Each
// internal session ("take") gets its own so that forks never collide in
// the model client's own bookkeeping.
func NewSessionID() string {
	return "ms_" + uuid.New().String()[:12]
}

// SessionState is the agent's mutable key-value state. Values must be
// JSON-serializable since state is snapshotted into checkpoints.
type SessionState map[string]any

// Well-known session state keys.
const (
	// StateRollbackRequested is set by the rollback_to_checkpoint tool to
	// signal that the caller should perform a rollback. The tool never
	// mutates lineage itself; the live agent must be replaced wholesale.
	StateRollbackRequested = "rollback_requested"

	// StateRollbackCheckpointID carries the target checkpoint ID for a
	// requested rollback.
	StateRollbackCheckpointID = "rollback_checkpoint_id"
)

// MetadataTrackPosition is the checkpoint metadata key holding the tool
// track index captured when the checkpoint was created. Rolling back to
// the checkpoint reverses every invocation recorded at or after this
// index.
const MetadataTrackPosition = "tool_track_position"

// Copy returns a deep copy of the state. State values originate from
// JSON, so a marshal round-trip is a faithful copy.
func (s SessionState) Copy() SessionState {
	if s == nil {
		return SessionState{}
	}
	data, err := json.Marshal(s)
	if err != nil {
		// Non-serializable values cannot be checkpointed anyway; fall
		// back to a shallow copy rather than lose the whole state.
		cp := make(SessionState, len(s))
		for k, v := range s {
			cp[k] = v
		}
		return cp
	}
	var cp SessionState
	if err := json.Unmarshal(data, &cp); err != nil {
		cp = make(SessionState, len(s))
		for k, v := range s {
			cp[k] = v
		}
	}
	if cp == nil {
		cp = SessionState{}
	}
	return cp
}

// Message is one entry in an internal session's conversation history.
type Message struct {
	Role      llm.Role  `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// CopyHistory returns a deep copy of a conversation history.
func CopyHistory(history []*Message) []*Message {
	if history == nil {
		return nil
	}
	cp := make([]*Message, len(history))
	for i, m := range history {
		dup := *m
		cp[i] = &dup
	}
	return cp
}

// User is an account that owns external sessions. The password hash is
// opaque to the engine; see the auth package.
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	IsAdmin      bool      `json:"is_admin"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ExternalSession is the user-visible conversation container. It persists
// across rollbacks and owns the internal sessions forked beneath it.
type ExternalSession struct {
	ID        int64  `json:"id"`
	UserID    int64  `json:"user_id"`
	Name      string `json:"name"`
	IsActive  bool   `json:"is_active"`
	CreatedAt time.Time
	UpdatedAt time.Time

	// CurrentInternalSessionID points at the internal session that
	// receives turns, or nil before the first one is created.
	CurrentInternalSessionID *int64 `json:"current_internal_session_id,omitempty"`
}

// InternalSession is one take on the conversation. A new one is created on
// every rollback; the source take is never mutated by a fork.
type InternalSession struct {
	ID                int64        `json:"id"`
	ExternalSessionID int64        `json:"external_session_id"`
	ModelSessionID    string       `json:"model_session_id"`
	State             SessionState `json:"session_state"`
	History           []*Message   `json:"conversation_history"`
	IsCurrent         bool         `json:"is_current"`
	CheckpointCount   int          `json:"checkpoint_count"`
	CreatedAt         time.Time    `json:"created_at"`
}

// AppendMessage appends an entry to the conversation history with the
// current wall-clock timestamp.
func (s *InternalSession) AppendMessage(role llm.Role, content string) {
	s.History = append(s.History, &Message{
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	})
}

// Checkpoint is an immutable snapshot of an internal session. Once written
// it is never mutated; rollback forks a new internal session from it.
type Checkpoint struct {
	ID                int64          `json:"id"`
	InternalSessionID int64          `json:"internal_session_id"`
	Name              string         `json:"checkpoint_name,omitempty"`
	State             SessionState   `json:"session_state"`
	History           []*Message     `json:"conversation_history"`
	IsAuto            bool           `json:"is_auto"`
	Metadata          map[string]any `json:"metadata,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
}

// TrackPosition returns the tool track index recorded when the checkpoint
// was created, or 0 when absent. Metadata round-trips through JSON, so the
// stored integer may arrive as a float64.
func (c *Checkpoint) TrackPosition() int {
	if c.Metadata == nil {
		return 0
	}
	switch v := c.Metadata[MetadataTrackPosition].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

// NewCheckpoint snapshots an internal session. State and history are deep
// copied so later turns cannot leak into the snapshot. trackPosition is
// the tool track length the checkpoint captures.
func NewCheckpoint(s *InternalSession, name string, isAuto bool, trackPosition int) *Checkpoint {
	return &Checkpoint{
		InternalSessionID: s.ID,
		Name:              name,
		State:             s.State.Copy(),
		History:           CopyHistory(s.History),
		IsAuto:            isAuto,
		CreatedAt:         time.Now(),
		Metadata: map[string]any{
			MetadataTrackPosition: trackPosition,
			"model_session_id":    s.ModelSessionID,
			"checkpoint_count":    s.CheckpointCount + 1,
		},
	}
}

package rewind

// EventType identifies an engine event surfaced to callers.
type EventType string

const (
	// EventCheckpointCreated fires whenever a checkpoint is persisted,
	// whether manual or automatic.
	EventCheckpointCreated EventType = "checkpoint_created"

	// EventRollbackRequested fires when the model invokes the rollback
	// tool. The carrier only requests a rollback; the service performs it.
	EventRollbackRequested EventType = "rollback_requested"

	// EventToolReversed fires once per reverse handler invocation during a
	// rollback, successful or not.
	EventToolReversed EventType = "tool_reversed"
)

// Event is a notification emitted by the orchestrator or the rollback
// service. Fields are populated according to Type.
type Event struct {
	Type         EventType
	CheckpointID int64
	IsAuto       bool
	ToolName     string
	Success      bool
	Err          string
}

// EventCallback receives engine events. Callbacks run synchronously on the
// invoking goroutine and must not block.
type EventCallback func(Event)

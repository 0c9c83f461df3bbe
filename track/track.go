package track

import (
	"context"
	"fmt"
	"time"
)

// Record is a single tool invocation captured for rollback/redo.
type Record struct {
	ToolName     string         `json:"tool_name"`
	Args         map[string]any `json:"args"`
	Result       any            `json:"result,omitempty"`
	Success      bool           `json:"success"`
	ErrorMessage string         `json:"error_message,omitempty"`
	Timestamp    time.Time      `json:"timestamp"`
}

func (r *Record) copy() *Record {
	dup := *r
	if r.Args != nil {
		dup.Args = make(map[string]any, len(r.Args))
		for k, v := range r.Args {
			dup.Args[k] = v
		}
	}
	return &dup
}

// ReverseOutcome is the result of one reverse handler invocation during a
// rollback.
type ReverseOutcome struct {
	ToolName     string `json:"tool_name"`
	Reversed     bool   `json:"reversed"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// Observer is notified of track mutations. Implemented by the store
// mirror so the persisted track follows the in-memory one.
type Observer interface {
	RecordAppended(position int, record *Record)
	TrackTruncated(length int)
}

// Execute runs a registered tool's forward handler and records the
// invocation. Failed invocations are recorded too, with Success=false and
// no result; reverse execution skips them later.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (any, error) {
	spec, ok := r.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTool, name)
	}
	result, err := spec.Forward(ctx, args)
	if err != nil {
		r.Record(name, args, nil, false, err.Error())
		return nil, err
	}
	r.Record(name, args, result, true, "")
	return result, nil
}

// Record appends an immutable invocation record to the track.
func (r *Registry) Record(name string, args map[string]any, result any, success bool, errorMessage string) {
	record := &Record{
		ToolName:     name,
		Args:         args,
		Result:       result,
		Success:      success,
		ErrorMessage: errorMessage,
		Timestamp:    time.Now(),
	}
	r.mu.Lock()
	r.track = append(r.track, record)
	position := len(r.track) - 1
	observer := r.observer
	r.mu.Unlock()

	if observer != nil {
		observer.RecordAppended(position, record)
	}
}

// Len returns the current track length.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.track)
}

// Track returns a copy of the current records in order.
func (r *Registry) Track() []*Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	records := make([]*Record, len(r.track))
	for i, record := range r.track {
		records[i] = record.copy()
	}
	return records
}

// Seed replaces the track contents, e.g. when resuming a persisted
// session. The observer is not notified.
func (r *Registry) Seed(records []*Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.track = make([]*Record, len(records))
	for i, record := range records {
		r.track[i] = record.copy()
	}
}

// RollbackFrom invokes reverse handlers for every record at positions
// [index..len-1] in reverse order, then truncates the track to the given
// index.
//
// Checkpoint-tool records are skipped (nothing to undo). Failed forward
// invocations are skipped. A record whose tool lost its reverse handler
// is reported as a failed outcome. Every reverse is attempted even when
// earlier ones fail; rollback is not atomic across heterogeneous tools
// and the engine does not retry.
func (r *Registry) RollbackFrom(ctx context.Context, index int) ([]*ReverseOutcome, error) {
	if index < 0 {
		index = 0
	}
	r.mu.Lock()
	if index > len(r.track) {
		length := len(r.track)
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: rollback index %d exceeds track length %d",
			ErrInvalidTransition, index, length)
	}
	doomed := make([]*Record, len(r.track)-index)
	copy(doomed, r.track[index:])
	r.mu.Unlock()

	var outcomes []*ReverseOutcome
	for i := len(doomed) - 1; i >= 0; i-- {
		record := doomed[i]
		if IsCheckpointTool(record.ToolName) {
			continue
		}
		if !record.Success {
			continue
		}
		spec, ok := r.Get(record.ToolName)
		if !ok || spec.Reverse == nil {
			outcomes = append(outcomes, &ReverseOutcome{
				ToolName:     record.ToolName,
				ErrorMessage: "no reverse handler registered",
			})
			continue
		}
		if err := spec.Reverse(ctx, record.Args, record.Result); err != nil {
			outcomes = append(outcomes, &ReverseOutcome{
				ToolName:     record.ToolName,
				ErrorMessage: err.Error(),
			})
			continue
		}
		outcomes = append(outcomes, &ReverseOutcome{
			ToolName: record.ToolName,
			Reversed: true,
		})
	}

	r.mu.Lock()
	if index <= len(r.track) {
		r.track = r.track[:index]
	}
	observer := r.observer
	r.mu.Unlock()

	if observer != nil {
		observer.TrackTruncated(index)
	}
	return outcomes, nil
}

// Redo re-executes the current track's forward handlers in index order,
// appending a new record for each result. Checkpoint tools are re-executed
// like any other; prior records are not erased.
func (r *Registry) Redo(ctx context.Context) []*Record {
	snapshot := r.Track()

	var replayed []*Record
	for _, record := range snapshot {
		spec, ok := r.Get(record.ToolName)
		if !ok {
			continue
		}
		result, err := spec.Forward(ctx, record.Args)
		if err != nil {
			r.Record(record.ToolName, record.Args, nil, false, err.Error())
		} else {
			r.Record(record.ToolName, record.Args, result, true, "")
		}
		records := r.Track()
		replayed = append(replayed, records[len(records)-1])
	}
	return replayed
}

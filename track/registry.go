// Package track implements the tool registry and the ordered invocation
// track that together form the engine's undo/redo log.
//
// Every registered tool carries a forward handler and, unless it belongs
// to the reserved checkpoint-tool set, a reverse handler. Invocations are
// recorded in order; rolling back from an index reverses the recorded
// invocations above it, newest first, and truncates the track.
package track

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/deepnoodle-ai/rewind/schema"
)

var (
	// ErrInvalidRegistration is returned when a non-checkpoint tool is
	// registered without a reverse handler.
	ErrInvalidRegistration = errors.New("invalid tool registration")

	// ErrInvalidTransition is returned when a rollback index exceeds the
	// current track length.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrUnknownTool is returned when executing a tool that was never
	// registered.
	ErrUnknownTool = errors.New("unknown tool")
)

// Built-in checkpoint management tools. They have no world effect to undo
// and are the only tools allowed to omit a reverse handler.
const (
	ToolCreateCheckpoint       = "create_checkpoint"
	ToolListCheckpoints        = "list_checkpoints"
	ToolRollbackToCheckpoint   = "rollback_to_checkpoint"
	ToolDeleteCheckpoint       = "delete_checkpoint"
	ToolGetCheckpointInfo      = "get_checkpoint_info"
	ToolCleanupAutoCheckpoints = "cleanup_auto_checkpoints"
)

var checkpointToolNames = map[string]struct{}{
	ToolCreateCheckpoint:       {},
	ToolListCheckpoints:        {},
	ToolRollbackToCheckpoint:   {},
	ToolDeleteCheckpoint:       {},
	ToolGetCheckpointInfo:      {},
	ToolCleanupAutoCheckpoints: {},
}

// IsCheckpointTool reports whether name belongs to the reserved
// checkpoint-tool set.
func IsCheckpointTool(name string) bool {
	_, ok := checkpointToolNames[name]
	return ok
}

// ForwardFunc is a tool's primary effect.
type ForwardFunc func(ctx context.Context, args map[string]any) (any, error)

// ReverseFunc undoes a forward invocation. It receives the original args
// and the forward result.
type ReverseFunc func(ctx context.Context, args map[string]any, result any) error

// Spec registers a tool with the engine.
type Spec struct {
	Name        string
	Description string
	Parameters  schema.Schema
	Forward     ForwardFunc
	Reverse     ReverseFunc
}

// Validate checks the registration invariant: a reverse handler is
// required unless the tool is a checkpoint tool.
func (s *Spec) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("%w: tool name is required", ErrInvalidRegistration)
	}
	if s.Forward == nil {
		return fmt.Errorf("%w: tool %q has no forward handler", ErrInvalidRegistration, s.Name)
	}
	if s.Reverse == nil && !IsCheckpointTool(s.Name) {
		return fmt.Errorf("%w: tool %q must register a reverse handler unless it is a checkpoint tool",
			ErrInvalidRegistration, s.Name)
	}
	return nil
}

// Registry holds tool specs and the per-session invocation track. A
// registry is owned by a single orchestrator and never shared.
type Registry struct {
	mu       sync.Mutex
	tools    map[string]*Spec
	order    []string
	track    []*Record
	observer Observer
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: map[string]*Spec{}}
}

// SetObserver installs an observer notified of track mutations, e.g. a
// store mirror. Pass nil to remove.
func (r *Registry) SetObserver(observer Observer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observer = observer
}

// Register records the spec under its name. Re-registration replaces the
// prior spec for the same name.
func (r *Registry) Register(spec *Spec) error {
	if err := spec.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[spec.Name]; !exists {
		r.order = append(r.order, spec.Name)
	}
	r.tools[spec.Name] = spec
	return nil
}

// Get returns the spec registered under name, if any.
func (r *Registry) Get(name string) (*Spec, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	spec, ok := r.tools[name]
	return spec, ok
}

// Specs returns the registered specs in registration order.
func (r *Registry) Specs() []*Spec {
	r.mu.Lock()
	defer r.mu.Unlock()
	specs := make([]*Spec, 0, len(r.order))
	for _, name := range r.order {
		specs = append(specs, r.tools[name])
	}
	return specs
}

package agent

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/deepnoodle-ai/rewind"
	"github.com/deepnoodle-ai/rewind/schema"
	"github.com/deepnoodle-ai/rewind/store"
	"github.com/deepnoodle-ai/rewind/track"
)

// registerCheckpointTools installs the reserved checkpoint-tool set,
// bound to this orchestrator's session. They carry no reverse handlers;
// the track skips them during rollback.
func (a *Agent) registerCheckpointTools() error {
	specs := []*track.Spec{
		{
			Name:        track.ToolCreateCheckpoint,
			Description: "Create a named manual checkpoint of the current conversation state. Use when the user asks to save progress or before risky operations.",
			Parameters: schema.Schema{
				Type: "object",
				Properties: map[string]*schema.Property{
					"name": {Type: "string", Description: "Optional human-readable checkpoint name"},
				},
			},
			Forward: a.createCheckpointTool,
		},
		{
			Name:        track.ToolListCheckpoints,
			Description: "List the checkpoints of the current conversation, newest first, with id, name, and whether each is automatic.",
			Parameters:  schema.Schema{Type: "object", Properties: map[string]*schema.Property{}},
			Forward:     a.listCheckpointsTool,
		},
		{
			Name:        track.ToolRollbackToCheckpoint,
			Description: "Request a rollback to an earlier checkpoint, identified by id or by a fragment of its name. Use when the user asks to undo or go back. The rollback happens after this turn completes.",
			Parameters: schema.Schema{
				Type: "object",
				Properties: map[string]*schema.Property{
					"checkpoint": {Type: "string", Description: "Checkpoint id or name fragment"},
				},
				Required: []string{"checkpoint"},
			},
			Forward: a.rollbackToCheckpointTool,
		},
		{
			Name:        track.ToolDeleteCheckpoint,
			Description: "Delete a checkpoint of the current conversation by id.",
			Parameters: schema.Schema{
				Type: "object",
				Properties: map[string]*schema.Property{
					"checkpoint_id": {Type: "integer", Description: "Checkpoint id"},
				},
				Required: []string{"checkpoint_id"},
			},
			Forward: a.deleteCheckpointTool,
		},
		{
			Name:        track.ToolGetCheckpointInfo,
			Description: "Get a checkpoint's metadata by id.",
			Parameters: schema.Schema{
				Type: "object",
				Properties: map[string]*schema.Property{
					"checkpoint_id": {Type: "integer", Description: "Checkpoint id"},
				},
				Required: []string{"checkpoint_id"},
			},
			Forward: a.getCheckpointInfoTool,
		},
		{
			Name:        track.ToolCleanupAutoCheckpoints,
			Description: "Delete old automatic checkpoints, keeping only the most recent ones. Manual checkpoints are never deleted.",
			Parameters: schema.Schema{
				Type: "object",
				Properties: map[string]*schema.Property{
					"keep_latest": {Type: "integer", Description: "How many automatic checkpoints to keep (default 5)"},
				},
			},
			Forward: a.cleanupAutoCheckpointsTool,
		},
	}
	for _, spec := range specs {
		if err := a.registry.Register(spec); err != nil {
			return err
		}
	}
	return nil
}

func (a *Agent) createCheckpointTool(ctx context.Context, args map[string]any) (any, error) {
	name, _ := args["name"].(string)
	if strings.TrimSpace(name) == "" {
		name = fmt.Sprintf("Checkpoint %d", a.session.CheckpointCount+1)
	}
	cp, err := a.manager.Snapshot(ctx, a.session, name, false, a.registry.Len())
	if err != nil {
		return nil, err
	}
	a.emit(rewind.Event{
		Type:         rewind.EventCheckpointCreated,
		CheckpointID: cp.ID,
	})
	return map[string]any{
		"checkpoint_id": cp.ID,
		"name":          cp.Name,
	}, nil
}

func (a *Agent) listCheckpointsTool(ctx context.Context, args map[string]any) (any, error) {
	checkpoints, err := a.store.ListCheckpoints(ctx, a.session.ID, store.CheckpointFilter{})
	if err != nil {
		return nil, err
	}
	summaries := make([]map[string]any, 0, len(checkpoints))
	for _, cp := range checkpoints {
		summaries = append(summaries, map[string]any{
			"checkpoint_id": cp.ID,
			"name":          cp.Name,
			"is_auto":       cp.IsAuto,
			"created_at":    cp.CreatedAt,
		})
	}
	return map[string]any{"checkpoints": summaries}, nil
}

// rollbackToCheckpointTool only requests the rollback via session-state
// flags. Lineage never changes inside a turn; the caller drives
// Service.Rollback and replaces this orchestrator.
func (a *Agent) rollbackToCheckpointTool(ctx context.Context, args map[string]any) (any, error) {
	cp, err := a.resolveCheckpoint(ctx, args["checkpoint"])
	if err != nil {
		return nil, err
	}
	if a.session.State == nil {
		a.session.State = rewind.SessionState{}
	}
	a.session.State[rewind.StateRollbackRequested] = true
	a.session.State[rewind.StateRollbackCheckpointID] = cp.ID
	return map[string]any{
		"checkpoint_id": cp.ID,
		"name":          cp.Name,
		"message":       "rollback requested; it will be performed after this turn",
	}, nil
}

func (a *Agent) deleteCheckpointTool(ctx context.Context, args map[string]any) (any, error) {
	id, err := intArg(args, "checkpoint_id")
	if err != nil {
		return nil, err
	}
	cp, err := a.store.GetCheckpoint(ctx, id)
	if err != nil {
		return nil, err
	}
	if cp.InternalSessionID != a.session.ID {
		return nil, fmt.Errorf("checkpoint %d does not belong to this conversation: %w", id, store.ErrNotFound)
	}
	if err := a.store.DeleteCheckpoint(ctx, id); err != nil {
		return nil, err
	}
	return map[string]any{"deleted": id}, nil
}

func (a *Agent) getCheckpointInfoTool(ctx context.Context, args map[string]any) (any, error) {
	id, err := intArg(args, "checkpoint_id")
	if err != nil {
		return nil, err
	}
	cp, err := a.store.GetCheckpoint(ctx, id)
	if err != nil {
		return nil, err
	}
	if cp.InternalSessionID != a.session.ID {
		return nil, fmt.Errorf("checkpoint %d does not belong to this conversation: %w", id, store.ErrNotFound)
	}
	return map[string]any{
		"checkpoint_id":  cp.ID,
		"name":           cp.Name,
		"is_auto":        cp.IsAuto,
		"created_at":     cp.CreatedAt,
		"track_position": cp.TrackPosition(),
		"history_length": len(cp.History),
		"metadata":       cp.Metadata,
	}, nil
}

func (a *Agent) cleanupAutoCheckpointsTool(ctx context.Context, args map[string]any) (any, error) {
	keepLatest := 5
	if a.opts.AutoPruneKeepLatest > 0 {
		keepLatest = a.opts.AutoPruneKeepLatest
	}
	if v, ok := args["keep_latest"]; ok {
		n, err := toInt(v)
		if err != nil {
			return nil, fmt.Errorf("invalid keep_latest: %w", err)
		}
		keepLatest = n
	}
	deleted, err := a.store.PruneAutoCheckpoints(ctx, a.session.ID, keepLatest)
	if err != nil {
		return nil, err
	}
	return map[string]any{"deleted": deleted, "kept_latest": keepLatest}, nil
}

// resolveCheckpoint accepts a checkpoint id or a name fragment. Name
// lookup is a case-insensitive substring match over the current session's
// manual checkpoints, newest first; the first match wins.
func (a *Agent) resolveCheckpoint(ctx context.Context, ref any) (*rewind.Checkpoint, error) {
	switch v := ref.(type) {
	case float64:
		return a.ownCheckpoint(ctx, int64(v))
	case int:
		return a.ownCheckpoint(ctx, int64(v))
	case int64:
		return a.ownCheckpoint(ctx, v)
	case string:
		if id, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			return a.ownCheckpoint(ctx, id)
		}
		return a.findCheckpointByName(ctx, v)
	default:
		return nil, fmt.Errorf("checkpoint reference must be an id or a name, got %T", ref)
	}
}

func (a *Agent) ownCheckpoint(ctx context.Context, id int64) (*rewind.Checkpoint, error) {
	cp, err := a.store.GetCheckpoint(ctx, id)
	if err != nil {
		return nil, err
	}
	if cp.InternalSessionID != a.session.ID {
		return nil, fmt.Errorf("checkpoint %d does not belong to this conversation: %w", id, store.ErrNotFound)
	}
	return cp, nil
}

func (a *Agent) findCheckpointByName(ctx context.Context, name string) (*rewind.Checkpoint, error) {
	checkpoints, err := a.store.ListCheckpoints(ctx, a.session.ID, store.CheckpointFilter{ManualOnly: true})
	if err != nil {
		return nil, err
	}
	needle := strings.ToLower(strings.TrimSpace(name))
	for _, cp := range checkpoints {
		if strings.Contains(strings.ToLower(cp.Name), needle) {
			return cp, nil
		}
	}
	return nil, fmt.Errorf("no manual checkpoint matching %q: %w", name, store.ErrNotFound)
}

func intArg(args map[string]any, key string) (int64, error) {
	v, ok := args[key]
	if !ok {
		return 0, fmt.Errorf("missing required argument %q", key)
	}
	n, err := toInt(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return int64(n), nil
}

func toInt(v any) (int, error) {
	switch n := v.(type) {
	case float64:
		return int(n), nil
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case string:
		parsed, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return 0, err
		}
		return parsed, nil
	default:
		return 0, fmt.Errorf("expected a number, got %T", v)
	}
}

package agent

import (
	"context"
	"fmt"

	"github.com/deepnoodle-ai/rewind"
	"github.com/deepnoodle-ai/rewind/log"
	"github.com/deepnoodle-ai/rewind/store"
	"github.com/deepnoodle-ai/rewind/track"
)

// Service drives rollbacks: it reverses tracked tool effects, forks a new
// internal session from the checkpoint snapshot, and constructs the
// replacement orchestrator.
type Service struct {
	store  *store.Store
	logger log.Logger
	events rewind.EventCallback
}

// NewService creates a rollback Service over the store.
func NewService(s *store.Store, logger log.Logger, events rewind.EventCallback) *Service {
	if logger == nil {
		logger = log.NewNullLogger()
	}
	return &Service{store: s, logger: logger, events: events}
}

// RollbackResult reports a completed rollback.
type RollbackResult struct {
	// Agent is the replacement orchestrator bound to the forked session.
	// The one passed to Rollback must be retired.
	Agent *Agent

	// Session is the forked internal session, now current.
	Session *rewind.InternalSession

	// Outcomes lists each reverse handler attempt, in the order executed
	// (newest record first). Failed outcomes leave the world partially
	// undone; the logical fork still happened.
	Outcomes []*track.ReverseOutcome
}

// Rollback rewinds the external session to the checkpoint:
//
//  1. Reverse every tracked invocation at or past the checkpoint's
//     recorded track position, newest first (when rollbackTools is set).
//  2. Fork a new internal session seeded from the checkpoint snapshot,
//     copying the pre-checkpoint lineage, and make it current.
//  3. Construct a replacement orchestrator whose first model call
//     re-injects the restored history.
//
// Store failures abort before the fork; reverse failures are collected
// into the result and never abort. The passed orchestrator's session is
// demoted but kept in the store.
func (s *Service) Rollback(ctx context.Context, current *Agent, checkpointID int64, rollbackTools bool) (*RollbackResult, error) {
	if current == nil {
		return nil, fmt.Errorf("rollback requires the current orchestrator")
	}
	cp, err := s.store.GetCheckpoint(ctx, checkpointID)
	if err != nil {
		return nil, fmt.Errorf("checkpoint %d: %w", checkpointID, err)
	}
	source, err := s.store.GetInternalSession(ctx, cp.InternalSessionID)
	if err != nil {
		return nil, fmt.Errorf("checkpoint %d source session: %w", checkpointID, err)
	}
	if source.ExternalSessionID != current.ExternalSessionID() {
		return nil, fmt.Errorf("checkpoint %d does not belong to external session %d: %w",
			checkpointID, current.ExternalSessionID(), store.ErrNotFound)
	}

	idx := cp.TrackPosition()
	var outcomes []*track.ReverseOutcome
	if rollbackTools {
		outcomes, err = current.registry.RollbackFrom(ctx, idx)
		if err != nil {
			return nil, err
		}
		for _, outcome := range outcomes {
			if !outcome.Reversed {
				s.logger.Warn("tool reverse failed",
					"tool", outcome.ToolName, "error", outcome.ErrorMessage)
			}
			s.emit(rewind.Event{
				Type:     rewind.EventToolReversed,
				ToolName: outcome.ToolName,
				Success:  outcome.Reversed,
				Err:      outcome.ErrorMessage,
			})
		}
	} else if idx > current.registry.Len() {
		return nil, fmt.Errorf("checkpoint %d records track position %d beyond track length %d: %w",
			checkpointID, idx, current.registry.Len(), track.ErrInvalidTransition)
	}

	// The fork starts with the surviving prefix of the source's track,
	// whether or not the discarded suffix was physically reversed.
	records := current.registry.Track()
	if len(records) > idx {
		records = records[:idx]
	}
	forked, err := s.store.ForkFromCheckpoint(ctx, cp, rewind.NewSessionID(), records)
	if err != nil {
		return nil, fmt.Errorf("fork from checkpoint %d: %w", checkpointID, err)
	}

	opts := current.opts
	opts.Events = s.pickEvents(current)
	next, err := FromCheckpoint(ctx, opts, forked)
	if err != nil {
		return nil, fmt.Errorf("failed to construct restored orchestrator: %w", err)
	}

	s.logger.Info("rolled back to checkpoint",
		"checkpoint_id", cp.ID,
		"source_internal_session_id", cp.InternalSessionID,
		"forked_internal_session_id", forked.ID,
		"reversed", len(outcomes))
	return &RollbackResult{Agent: next, Session: forked, Outcomes: outcomes}, nil
}

func (s *Service) pickEvents(current *Agent) rewind.EventCallback {
	if current.opts.Events != nil {
		return current.opts.Events
	}
	return s.events
}

func (s *Service) emit(event rewind.Event) {
	if s.events != nil {
		s.events(event)
	}
}

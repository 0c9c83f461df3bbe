package store

import (
	"context"
	"time"

	"github.com/deepnoodle-ai/rewind/log"
	"github.com/deepnoodle-ai/rewind/track"
)

// trackMirror persists track mutations so the stored invocation log
// follows the in-memory track. Persistence failures are logged, never
// surfaced; the in-memory track remains authoritative for the live take.
type trackMirror struct {
	store             *Store
	internalSessionID int64
	logger            log.Logger
}

// TrackMirror returns a track.Observer that mirrors one internal
// session's track into the tool_invocations table.
func (s *Store) TrackMirror(internalSessionID int64, logger log.Logger) track.Observer {
	if logger == nil {
		logger = log.NewNullLogger()
	}
	return &trackMirror{store: s, internalSessionID: internalSessionID, logger: logger}
}

func (m *trackMirror) RecordAppended(position int, record *track.Record) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.store.AppendToolInvocation(ctx, m.internalSessionID, position, record); err != nil {
		m.logger.Warn("failed to persist tool invocation",
			"internal_session_id", m.internalSessionID,
			"position", position,
			"tool", record.ToolName,
			"error", err)
	}
}

func (m *trackMirror) TrackTruncated(length int) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.store.TruncateToolInvocations(ctx, m.internalSessionID, length); err != nil {
		m.logger.Warn("failed to truncate persisted tool invocations",
			"internal_session_id", m.internalSessionID,
			"length", length,
			"error", err)
	}
}

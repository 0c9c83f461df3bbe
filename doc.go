// Package rewind provides checkpoint and rollback semantics for
// long-running conversational agents that invoke side-effecting tools.
//
// An agent converses with a user and invokes registered tools. Each tool
// carries a forward handler and a reverse handler, and every invocation is
// recorded on an ordered track. At any point the conversation can be
// rewound to a named checkpoint: the engine reverses the tool invocations
// made after the checkpoint, then forks a fresh internal session seeded
// from the checkpoint's snapshot.
//
// The root package holds the domain entities shared by the subpackages:
//
//   - store: SQLite persistence for users, sessions, and checkpoints
//   - track: the tool registry and undo/redo invocation track
//   - session: internal session lifecycle and snapshotting
//   - agent: the orchestrator around the model client, plus the rollback
//     service that coordinates the above
package rewind

// Package agent wraps a model client with checkpoint/rollback semantics:
// tool calls route through the invocation track, turns that fire
// side-effecting tools produce automatic checkpoints, and the built-in
// rollback tool requests a fork that the Service performs out-of-band.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/deepnoodle-ai/rewind"
	"github.com/deepnoodle-ai/rewind/llm"
	"github.com/deepnoodle-ai/rewind/log"
	"github.com/deepnoodle-ai/rewind/session"
	"github.com/deepnoodle-ai/rewind/store"
	"github.com/deepnoodle-ai/rewind/track"
)

// ErrBusy is returned when Run is called while another Run for the same
// external session is still in flight.
var ErrBusy = errors.New("session busy")

// maxToolRounds bounds the generate/execute loop within one turn.
const maxToolRounds = 10

// sessionLocks serializes Run per external session, across orchestrator
// replacements. Lock values are never removed; external sessions are few.
var sessionLocks sync.Map

func lockFor(externalSessionID int64) *sync.Mutex {
	v, _ := sessionLocks.LoadOrStore(externalSessionID, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// Options configures an Agent.
type Options struct {
	// Client is the model client. Required.
	Client llm.Client

	// Store is the persistence layer. Required.
	Store *store.Store

	// ExternalSessionID is the owning external session. Required.
	ExternalSessionID int64

	// Session resumes an existing internal session. When nil a fresh
	// internal session is created and marked current.
	Session *rewind.InternalSession

	// Tools are the caller-registered tool specs. The built-in checkpoint
	// tools are always added on top.
	Tools []*track.Spec

	SystemPrompt string
	Model        string
	Temperature  *float64
	MaxTokens    *int

	// AutoCheckpoint enables automatic checkpoints after turns that fire a
	// non-checkpoint tool.
	AutoCheckpoint bool

	// AutoPruneKeepLatest caps retained auto checkpoints after each auto
	// checkpoint, and is the default for the cleanup tool. Zero disables
	// automatic pruning.
	AutoPruneKeepLatest int

	// HistoryRunsInjected bounds how many prior user turns are re-injected
	// into the model call after a restore. Zero injects nothing.
	HistoryRunsInjected int

	Logger log.Logger
	Events rewind.EventCallback
}

func (o *Options) validate() error {
	if o.Client == nil {
		return errors.New("agent: model client is required")
	}
	if o.Store == nil {
		return errors.New("agent: store is required")
	}
	if o.ExternalSessionID == 0 && o.Session == nil {
		return errors.New("agent: external session id is required")
	}
	return nil
}

// Agent orchestrates one internal session. It owns its Registry and is
// never shared; a rollback retires it and constructs a replacement.
type Agent struct {
	opts     Options
	client   llm.Client
	store    *store.Store
	manager  *session.Manager
	registry *track.Registry
	session  *rewind.InternalSession
	logger   log.Logger

	// modelHistory is the request history kept for the life of this
	// orchestrator. Forks change the model-layer session id, so prior
	// context must be carried here rather than relied on from the client.
	modelHistory []*llm.Message
}

// Response is the outcome of one Run.
type Response struct {
	Text      string
	ToolCalls int
	Usage     llm.Usage

	// RollbackRequested reports that the model invoked the rollback tool.
	// The caller must drive Service.Rollback and replace this Agent.
	RollbackRequested    bool
	RollbackCheckpointID int64
}

// New creates an orchestrator. With opts.Session nil a fresh internal
// session is created; otherwise the given session is resumed and the
// persisted invocation log is loaded as the track.
func New(ctx context.Context, opts Options) (*Agent, error) {
	return newAgent(ctx, opts, false)
}

// FromCheckpoint creates an orchestrator bound to a session forked from a
// checkpoint. The forked session's history is re-injected into the model
// call, bounded by HistoryRunsInjected.
func FromCheckpoint(ctx context.Context, opts Options, forked *rewind.InternalSession) (*Agent, error) {
	opts.Session = forked
	return newAgent(ctx, opts, true)
}

func newAgent(ctx context.Context, opts Options, restored bool) (*Agent, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.NewNullLogger()
	}
	a := &Agent{
		opts:    opts,
		client:  opts.Client,
		store:   opts.Store,
		manager: session.NewManager(opts.Store, logger),
		logger:  logger,
	}

	if opts.Session != nil {
		a.session = opts.Session
		a.opts.ExternalSessionID = opts.Session.ExternalSessionID
	} else {
		created, err := a.manager.NewInternalSession(ctx, opts.ExternalSessionID, nil)
		if err != nil {
			return nil, err
		}
		a.session = created
	}

	a.registry = track.NewRegistry()
	for _, spec := range opts.Tools {
		if err := a.registry.Register(spec); err != nil {
			return nil, err
		}
	}
	if err := a.registerCheckpointTools(); err != nil {
		return nil, err
	}

	if opts.Session != nil {
		records, err := a.store.ListToolInvocations(ctx, a.session.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to load tool invocations: %w", err)
		}
		a.registry.Seed(records)
	}
	a.registry.SetObserver(a.store.TrackMirror(a.session.ID, logger))

	if restored {
		a.modelHistory = historyMessages(boundHistory(a.session.History, opts.HistoryRunsInjected))
	} else if opts.Session != nil {
		a.modelHistory = historyMessages(a.session.History)
	}
	return a, nil
}

// Session returns the internal session this orchestrator is bound to.
func (a *Agent) Session() *rewind.InternalSession {
	return a.session
}

// Registry returns the orchestrator's tool registry and track.
func (a *Agent) Registry() *track.Registry {
	return a.registry
}

// ExternalSessionID returns the owning external session id.
func (a *Agent) ExternalSessionID() int64 {
	return a.opts.ExternalSessionID
}

type turnState struct {
	toolWasCalled bool
	lastToolName  string
	toolCalls     int
}

// Run executes one user turn: append the utterance, call the model,
// execute any requested tools through the track, persist, and auto
// checkpoint. Concurrent runs on the same external session fail with
// ErrBusy.
func (a *Agent) Run(ctx context.Context, utterance string) (*Response, error) {
	lock := lockFor(a.opts.ExternalSessionID)
	if !lock.TryLock() {
		return nil, fmt.Errorf("%w: external session %d has a run in flight",
			ErrBusy, a.opts.ExternalSessionID)
	}
	defer lock.Unlock()

	trackBefore := a.registry.Len()
	turn := &turnState{}

	// The utterance joins the persisted history only once the turn
	// succeeds, so a failed generation leaves the history clean for a
	// retry of the same utterance.
	historyMark := len(a.modelHistory)
	a.modelHistory = append(a.modelHistory, llm.NewUserMessage(utterance))

	text, usage, err := a.generate(ctx, turn)
	if err != nil {
		a.modelHistory = a.modelHistory[:historyMark]
		return nil, err
	}

	response := &Response{
		Text:      text,
		ToolCalls: turn.toolCalls,
		Usage:     usage,
	}
	a.extractRollbackRequest(response)

	a.session.AppendMessage(llm.User, utterance)
	a.session.AppendMessage(llm.Assistant, text)
	if err := a.manager.Save(ctx, a.session); err != nil {
		return nil, fmt.Errorf("failed to persist session: %w", err)
	}

	if a.opts.AutoCheckpoint && turn.toolWasCalled && !track.IsCheckpointTool(turn.lastToolName) {
		a.autoCheckpoint(ctx, turn.lastToolName, trackBefore)
	}

	if response.RollbackRequested {
		a.emit(rewind.Event{
			Type:         rewind.EventRollbackRequested,
			CheckpointID: response.RollbackCheckpointID,
		})
	}
	return response, nil
}

// generate drives the model/tool loop for one turn.
func (a *Agent) generate(ctx context.Context, turn *turnState) (string, llm.Usage, error) {
	tools := a.toolDefinitions()
	var usage llm.Usage
	var text string

	for round := 0; round < maxToolRounds; round++ {
		opts := []llm.Option{
			llm.WithModel(a.opts.Model),
			llm.WithSystemPrompt(a.opts.SystemPrompt),
			llm.WithMessages(a.modelHistory...),
			llm.WithTools(tools...),
		}
		if a.opts.Temperature != nil {
			opts = append(opts, llm.WithTemperature(*a.opts.Temperature))
		}
		if a.opts.MaxTokens != nil {
			opts = append(opts, llm.WithMaxTokens(*a.opts.MaxTokens))
		}
		response, err := a.client.Generate(ctx, opts...)
		if err != nil {
			return "", usage, fmt.Errorf("model generation failed: %w", err)
		}
		usage.Add(&response.Usage)
		if response.Message != nil {
			a.modelHistory = append(a.modelHistory, response.Message)
		}
		text = response.Text()

		if len(response.ToolCalls) == 0 {
			return text, usage, nil
		}
		for _, call := range response.ToolCalls {
			output, isError := a.executeToolCall(ctx, call, turn)
			a.modelHistory = append(a.modelHistory, llm.NewToolResultMessage(call.ID, output, isError))
			if err := ctx.Err(); err != nil {
				return "", usage, err
			}
		}
	}
	a.logger.Warn("tool round limit reached", "rounds", maxToolRounds)
	return text, usage, nil
}

// executeToolCall runs one requested tool through the registry, recording
// the invocation. Failures surface to the model as error tool results.
func (a *Agent) executeToolCall(ctx context.Context, call *llm.ToolCall, turn *turnState) (output string, isError bool) {
	args, err := call.Args()
	if err != nil {
		return fmt.Sprintf("invalid tool arguments: %v", err), true
	}
	turn.toolWasCalled = true
	turn.lastToolName = call.Name
	turn.toolCalls++

	a.logger.Debug("executing tool", "tool", call.Name, "internal_session_id", a.session.ID)
	result, err := a.registry.Execute(ctx, call.Name, args)
	if err != nil {
		a.logger.Warn("tool failed", "tool", call.Name, "error", err)
		return err.Error(), true
	}
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Sprintf("%v", result), false
	}
	return string(data), false
}

// extractRollbackRequest pops the rollback flags set by the rollback tool
// so they never leak into persisted state or checkpoints.
func (a *Agent) extractRollbackRequest(response *Response) {
	if a.session.State == nil {
		return
	}
	requested, _ := a.session.State[rewind.StateRollbackRequested].(bool)
	if !requested {
		return
	}
	response.RollbackRequested = true
	switch v := a.session.State[rewind.StateRollbackCheckpointID].(type) {
	case int64:
		response.RollbackCheckpointID = v
	case int:
		response.RollbackCheckpointID = int64(v)
	case float64:
		response.RollbackCheckpointID = int64(v)
	}
	delete(a.session.State, rewind.StateRollbackRequested)
	delete(a.session.State, rewind.StateRollbackCheckpointID)
}

// autoCheckpoint snapshots the session after a tool-firing turn. The
// recorded track position is the length before this turn's records, so a
// rollback to the checkpoint undoes exactly this turn's tools. Failures
// are logged, never fatal to the run.
func (a *Agent) autoCheckpoint(ctx context.Context, lastTool string, trackBefore int) {
	cp, err := a.manager.Snapshot(ctx, a.session, "After "+lastTool, true, trackBefore)
	if err != nil {
		a.logger.Warn("auto checkpoint failed", "internal_session_id", a.session.ID, "error", err)
		return
	}
	a.emit(rewind.Event{
		Type:         rewind.EventCheckpointCreated,
		CheckpointID: cp.ID,
		IsAuto:       true,
	})
	if a.opts.AutoPruneKeepLatest > 0 {
		if _, err := a.store.PruneAutoCheckpoints(ctx, a.session.ID, a.opts.AutoPruneKeepLatest); err != nil {
			a.logger.Warn("auto checkpoint pruning failed", "internal_session_id", a.session.ID, "error", err)
		}
	}
}

// toolDefinitions exposes the registered specs to the model client.
func (a *Agent) toolDefinitions() []*llm.Tool {
	specs := a.registry.Specs()
	tools := make([]*llm.Tool, 0, len(specs))
	for _, spec := range specs {
		tools = append(tools, &llm.Tool{
			Name:        spec.Name,
			Description: spec.Description,
			Parameters:  spec.Parameters,
		})
	}
	return tools
}

func (a *Agent) emit(event rewind.Event) {
	if a.opts.Events != nil {
		a.opts.Events(event)
	}
}

// ConversationSummary renders the most recent history entries, newest
// last, for display.
func (a *Agent) ConversationSummary(limit int) string {
	history := a.session.History
	if limit > 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}
	var b strings.Builder
	for _, m := range history {
		fmt.Fprintf(&b, "[%s] %s\n", m.Role, m.Content)
	}
	return b.String()
}

// boundHistory returns the suffix of history starting at the Nth most
// recent user turn. runs <= 0 yields nothing.
func boundHistory(history []*rewind.Message, runs int) []*rewind.Message {
	if runs <= 0 {
		return nil
	}
	seen := 0
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == llm.User {
			seen++
			if seen == runs {
				return history[i:]
			}
		}
	}
	return history
}

func historyMessages(history []*rewind.Message) []*llm.Message {
	messages := make([]*llm.Message, 0, len(history))
	for _, m := range history {
		messages = append(messages, &llm.Message{Role: m.Role, Content: m.Content})
	}
	return messages
}

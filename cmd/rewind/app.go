package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/fatih/color"

	"github.com/deepnoodle-ai/rewind"
	"github.com/deepnoodle-ai/rewind/agent"
	"github.com/deepnoodle-ai/rewind/auth"
	"github.com/deepnoodle-ai/rewind/config"
	"github.com/deepnoodle-ai/rewind/llm"
	"github.com/deepnoodle-ai/rewind/log"
	"github.com/deepnoodle-ai/rewind/store"
	"github.com/deepnoodle-ai/rewind/toolkit"
	"github.com/deepnoodle-ai/rewind/track"
)

var (
	promptColor    = color.New(color.FgCyan, color.Bold)
	assistantColor = color.New(color.FgGreen)
	noticeColor    = color.New(color.FgYellow)
	errorColor     = color.New(color.FgRed)
)

// App is the interactive terminal front-end.
type App struct {
	store     *store.Store
	auth      *auth.Service
	client    llm.Client
	config    *config.Config
	logger    log.Logger
	workspace string

	reader *bufio.Reader
	user   *rewind.User
}

// Run drives login, session selection, and the chat loop.
func (a *App) Run(ctx context.Context) error {
	a.reader = bufio.NewReader(os.Stdin)

	if err := a.loginFlow(ctx); err != nil {
		return err
	}
	for {
		externalSession, err := a.sessionMenu(ctx)
		if err != nil {
			return err
		}
		if externalSession == nil {
			return nil
		}
		if err := a.chatLoop(ctx, externalSession); err != nil {
			return err
		}
	}
}

func (a *App) loginFlow(ctx context.Context) error {
	for {
		choice := a.prompt("(l)ogin, (r)egister, or (q)uit: ")
		switch strings.ToLower(choice) {
		case "l", "login":
			username := a.prompt("username: ")
			password := a.prompt("password: ")
			user, err := a.auth.Login(ctx, username, password)
			if err != nil {
				errorColor.Printf("login failed: %v\n", err)
				continue
			}
			a.user = user
			noticeColor.Printf("welcome back, %s\n", user.Username)
			return nil
		case "r", "register":
			username := a.prompt("new username: ")
			password := a.prompt("new password: ")
			user, err := a.auth.Register(ctx, username, password)
			if err != nil {
				if errors.Is(err, store.ErrIntegrity) {
					errorColor.Println("that username is taken")
				} else {
					errorColor.Printf("registration failed: %v\n", err)
				}
				continue
			}
			a.user = user
			noticeColor.Printf("registered %s\n", user.Username)
			return nil
		case "q", "quit":
			return nil
		}
	}
}

// sessionMenu lists the user's conversations and returns the chosen one,
// or nil to quit.
func (a *App) sessionMenu(ctx context.Context) (*rewind.ExternalSession, error) {
	if a.user == nil {
		return nil, nil
	}
	for {
		sessions, err := a.store.ListExternalSessionsByUser(ctx, a.user.ID)
		if err != nil {
			return nil, err
		}
		fmt.Println()
		if len(sessions) == 0 {
			noticeColor.Println("no conversations yet")
		}
		for i, s := range sessions {
			fmt.Printf("  %d. %s\n", i+1, s.Name)
		}
		choice := a.prompt("pick a number, (n)ew, (d)elete <n>, or (q)uit: ")
		fields := strings.Fields(choice)
		if len(fields) == 0 {
			continue
		}
		switch strings.ToLower(fields[0]) {
		case "n", "new":
			name := a.prompt("conversation name: ")
			if strings.TrimSpace(name) == "" {
				name = "Untitled"
			}
			session, err := a.store.CreateExternalSession(ctx, &rewind.ExternalSession{
				UserID: a.user.ID,
				Name:   name,
			})
			if err != nil {
				errorColor.Printf("failed to create conversation: %v\n", err)
				continue
			}
			return session, nil
		case "d", "delete":
			if len(fields) < 2 {
				continue
			}
			idx, err := strconv.Atoi(fields[1])
			if err != nil || idx < 1 || idx > len(sessions) {
				errorColor.Println("no such conversation")
				continue
			}
			if err := a.store.DeleteExternalSession(ctx, sessions[idx-1].ID); err != nil {
				errorColor.Printf("failed to delete: %v\n", err)
			}
		case "q", "quit":
			return nil, nil
		default:
			idx, err := strconv.Atoi(fields[0])
			if err != nil || idx < 1 || idx > len(sessions) {
				continue
			}
			return sessions[idx-1], nil
		}
	}
}

// chatLoop runs the conversation until /back or /quit. Rollbacks replace
// the orchestrator in place.
func (a *App) chatLoop(ctx context.Context, externalSession *rewind.ExternalSession) error {
	fileTools := toolkit.NewFileTools(a.workspace)

	opts := agent.Options{
		Client:              a.client,
		Store:               a.store,
		ExternalSessionID:   externalSession.ID,
		Tools:               fileTools.Specs(),
		SystemPrompt:        a.config.SystemPrompt,
		Model:               a.config.Model.ID,
		Temperature:         a.config.Model.Temperature,
		MaxTokens:           a.config.Model.MaxTokens,
		AutoCheckpoint:      a.config.AutoCheckpoint(),
		AutoPruneKeepLatest: a.config.Checkpoints.AutoPruneKeepLatest,
		HistoryRunsInjected: a.config.Checkpoints.HistoryRunsInjected,
		Logger:              a.logger,
		Events:              a.printEvent,
	}
	if externalSession.CurrentInternalSessionID != nil {
		resumed, err := a.store.GetInternalSession(ctx, *externalSession.CurrentInternalSessionID)
		if err != nil {
			return err
		}
		opts.Session = resumed
	}
	ag, err := agent.New(ctx, opts)
	if err != nil {
		return err
	}
	service := agent.NewService(a.store, a.logger, a.printEvent)

	noticeColor.Printf("\n%s — /checkpoints, /rollback <id|name>, /history, /back, /quit\n", externalSession.Name)
	for {
		input := a.prompt("> ")
		switch {
		case input == "":
			continue
		case input == "/quit":
			return nil
		case input == "/back":
			return nil
		case input == "/history":
			fmt.Print(ag.ConversationSummary(20))
			continue
		case input == "/checkpoints":
			a.printCheckpoints(ctx, ag.Session().ID)
			continue
		case strings.HasPrefix(input, "/rollback"):
			ref := strings.TrimSpace(strings.TrimPrefix(input, "/rollback"))
			if ref == "" {
				errorColor.Println("usage: /rollback <id|name>")
				continue
			}
			next, ok := a.rollbackByRef(ctx, service, ag, ref)
			if ok {
				ag = next
			}
			continue
		}

		response, err := ag.Run(ctx, input)
		if err != nil {
			if errors.Is(err, agent.ErrBusy) {
				errorColor.Println("a turn is already in flight, try again")
				continue
			}
			errorColor.Printf("run failed: %v\n", err)
			continue
		}
		assistantColor.Println(response.Text)

		if response.RollbackRequested {
			result, err := service.Rollback(ctx, ag, response.RollbackCheckpointID, true)
			if err != nil {
				errorColor.Printf("rollback failed: %v\n", err)
				continue
			}
			ag = result.Agent
			a.printOutcomes(result.Outcomes)
		}
	}
}

// rollbackByRef handles the /rollback command: an id or a name fragment
// against the current session's manual checkpoints.
func (a *App) rollbackByRef(ctx context.Context, service *agent.Service, ag *agent.Agent, ref string) (*agent.Agent, bool) {
	var checkpointID int64
	if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
		checkpointID = id
	} else {
		checkpoints, err := a.store.ListCheckpoints(ctx, ag.Session().ID, store.CheckpointFilter{ManualOnly: true})
		if err != nil {
			errorColor.Printf("failed to list checkpoints: %v\n", err)
			return nil, false
		}
		needle := strings.ToLower(ref)
		for _, cp := range checkpoints {
			if strings.Contains(strings.ToLower(cp.Name), needle) {
				checkpointID = cp.ID
				break
			}
		}
		if checkpointID == 0 {
			errorColor.Printf("no manual checkpoint matching %q\n", ref)
			return nil, false
		}
	}
	result, err := service.Rollback(ctx, ag, checkpointID, true)
	if err != nil {
		errorColor.Printf("rollback failed: %v\n", err)
		return nil, false
	}
	a.printOutcomes(result.Outcomes)
	return result.Agent, true
}

func (a *App) printCheckpoints(ctx context.Context, internalSessionID int64) {
	checkpoints, err := a.store.ListCheckpoints(ctx, internalSessionID, store.CheckpointFilter{})
	if err != nil {
		errorColor.Printf("failed to list checkpoints: %v\n", err)
		return
	}
	if len(checkpoints) == 0 {
		noticeColor.Println("no checkpoints yet")
		return
	}
	for _, cp := range checkpoints {
		kind := "manual"
		if cp.IsAuto {
			kind = "auto"
		}
		fmt.Printf("  #%d [%s] %s (%s)\n", cp.ID, kind, cp.Name,
			cp.CreatedAt.Format("2006-01-02 15:04:05"))
	}
}

func (a *App) printOutcomes(outcomes []*track.ReverseOutcome) {
	for _, outcome := range outcomes {
		if outcome.Reversed {
			noticeColor.Printf("reversed %s\n", outcome.ToolName)
		} else {
			errorColor.Printf("failed to reverse %s: %s\n", outcome.ToolName, outcome.ErrorMessage)
		}
	}
	noticeColor.Println("rolled back; the conversation continues from the checkpoint")
}

func (a *App) printEvent(event rewind.Event) {
	switch event.Type {
	case rewind.EventCheckpointCreated:
		if event.IsAuto {
			a.logger.Debug("auto checkpoint created", "checkpoint_id", event.CheckpointID)
		} else {
			noticeColor.Printf("checkpoint #%d created\n", event.CheckpointID)
		}
	case rewind.EventRollbackRequested:
		noticeColor.Printf("rollback to checkpoint #%d requested\n", event.CheckpointID)
	}
}

func (a *App) prompt(text string) string {
	promptColor.Print(text)
	line, err := a.reader.ReadString('\n')
	if err != nil {
		return "/quit"
	}
	return strings.TrimSpace(line)
}

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/deepnoodle-ai/wonton/cli"
	"github.com/fatih/color"
	"github.com/mattn/go-isatty"

	"github.com/deepnoodle-ai/rewind/auth"
	"github.com/deepnoodle-ai/rewind/config"
	"github.com/deepnoodle-ai/rewind/llm"
	"github.com/deepnoodle-ai/rewind/llm/providers/openai"
	"github.com/deepnoodle-ai/rewind/log"
	"github.com/deepnoodle-ai/rewind/store"
)

func main() {
	app := cli.New("rewind").
		Description("Conversational agent with checkpoint and rollback").
		Version("0.1.0")

	app.Main().
		Flags(
			cli.String("config", "c").
				Default("").
				Env("REWIND_CONFIG").
				Help("Path to YAML config file"),
			cli.String("store", "").
				Default("").
				Help("SQLite database path (overrides config)"),
			cli.String("model", "m").
				Default("").
				Env("REWIND_MODEL_ID").
				Help("Model to use (overrides config)"),
			cli.String("workspace", "w").
				Default("").
				Help("Directory file tools operate in (defaults to current directory)"),
			cli.String("log-level", "").
				Default("").
				Help("Log level: debug, info, warn, error"),
		).
		Run(run)

	if err := app.Execute(); err != nil {
		if cli.IsHelpRequested(err) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(cli.GetExitCode(err))
	}
}

func run(ctx *cli.Context) error {
	runCtx := context.Background()

	cfg, err := config.Load(ctx.String("config"))
	if err != nil {
		return err
	}
	if v := ctx.String("store"); v != "" {
		cfg.StorePath = v
	}
	if v := ctx.String("model"); v != "" {
		cfg.Model.ID = v
	}
	if v := ctx.String("log-level"); v != "" {
		cfg.LogLevel = v
	}
	workspace := ctx.String("workspace")
	if workspace == "" {
		workspace, err = os.Getwd()
		if err != nil {
			return fmt.Errorf("failed to get current directory: %w", err)
		}
	}

	if !isatty.IsTerminal(os.Stdout.Fd()) {
		color.NoColor = true
	}

	logger := log.New(log.LevelFromString(cfg.LogLevel))

	st, err := store.Open(cfg.StorePath, store.Options{Logger: logger})
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	rootPassword := cfg.RootPassword
	if rootPassword == "" {
		rootPassword = "changeme"
	}
	authService, err := auth.NewService(runCtx, st, rootPassword, logger)
	if err != nil {
		return err
	}

	client, err := buildClient(cfg)
	if err != nil {
		return err
	}

	app := &App{
		store:     st,
		auth:      authService,
		client:    client,
		config:    cfg,
		logger:    logger,
		workspace: workspace,
	}
	return app.Run(runCtx)
}

func buildClient(cfg *config.Config) (llm.Client, error) {
	switch cfg.Model.Provider {
	case "", "openai":
		opts := []openai.Option{openai.WithModel(cfg.Model.ID)}
		if cfg.Model.APIKey != "" {
			opts = append(opts, openai.WithAPIKey(cfg.Model.APIKey))
		}
		if cfg.Model.Endpoint != "" {
			opts = append(opts, openai.WithEndpoint(cfg.Model.Endpoint))
		}
		if cfg.Model.MaxTokens != nil {
			opts = append(opts, openai.WithMaxTokens(*cfg.Model.MaxTokens))
		}
		return openai.New(opts...), nil
	default:
		return nil, fmt.Errorf("unknown model provider: %s", cfg.Model.Provider)
	}
}

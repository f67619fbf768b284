package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/Lele-bigLe/interactive-feedback-mcp/internal/config"
	"github.com/Lele-bigLe/interactive-feedback-mcp/internal/launcher"
	"github.com/Lele-bigLe/interactive-feedback-mcp/internal/logging"
	"github.com/Lele-bigLe/interactive-feedback-mcp/internal/mcp"
	"github.com/Lele-bigLe/interactive-feedback-mcp/internal/telemetry"
)

// Version is set at build time.
var Version = "dev"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(ctx, logging.WithMaxFiles(cfg.LogMaxFiles))
	if err != nil {
		return fmt.Errorf("initialize logging: %w", err)
	}
	defer func() {
		if closeErr := logger.Close(); closeErr != nil {
			fmt.Fprintf(os.Stderr, "failed to close logger: %v\n", closeErr)
		}
	}()

	cmd := newRootCommand(cfg, logger.Logger)
	cmd.SetArgs(args)
	return cmd.ExecuteContext(ctx)
}

// newRootCommand builds the CLI. Running the root with no subcommand
// serves MCP over stdio; that is what MCP client configs invoke.
func newRootCommand(cfg *config.Config, logger *log.Logger) *cobra.Command {
	root := &cobra.Command{
		Use:           "feedback-mcp",
		Short:         "Interactive feedback MCP server",
		Long:          "Serves the interactive_feedback MCP tool over stdio and hosts the terminal session it spawns.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       Version,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), cfg, logger)
		},
	}

	root.SetVersionTemplate("{{printf \"%s\\n\" .Version}}")
	root.AddCommand(
		newSessionCommand(cfg, logger),
		newDoctorCommand(cfg),
		newBugreportCommand(logger),
	)

	root.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		if cmd.Name() == "help" || cmd.Name() == "completion" {
			return nil
		}
		if logger == nil {
			return errors.New("logger is required")
		}
		if cfg == nil {
			return errors.New("config is required")
		}
		logger.With("command", cmd.Name()).Debug("command invocation")
		return nil
	}

	return root
}

func runServe(ctx context.Context, cfg *config.Config, logger *log.Logger) error {
	shutdown, err := telemetry.Init(ctx)
	if err != nil {
		return fmt.Errorf("initialize telemetry: %w", err)
	}
	defer shutdown()

	sessions := launcher.New(launcher.Options{
		ChannelDir: cfg.ChannelDir,
		WaitGrace:  cfg.WaitGrace,
		Logger:     logger,
	})

	server := mcp.NewServer(mcp.Options{
		Name:    "interactive-feedback-mcp",
		Version: Version,
		Logger:  logger,
	})
	server.Register(mcp.NewFeedbackTool(sessions, cfg))
	server.Register(mcp.NewHealthTool(cfg, Version))

	logger.Info("mcp server listening on stdio",
		"version", Version,
		"timeout_seconds", cfg.TimeoutSeconds())
	return server.Serve(ctx, os.Stdin, os.Stdout)
}

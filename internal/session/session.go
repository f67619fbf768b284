// Package session renders the interactive feedback surface for one
// round and writes the outcome to the result channel exactly once.
//
// The process's own stdio belongs to the orchestrator that spawned it,
// so the surface binds to the controlling terminal directly. Without a
// terminal the countdown still runs headless and resolves to the
// keep-alive result on expiry.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/log"
	"golang.org/x/term"

	"github.com/Lele-bigLe/interactive-feedback-mcp/internal/channel"
	"github.com/Lele-bigLe/interactive-feedback-mcp/internal/feedback"
	"github.com/Lele-bigLe/interactive-feedback-mcp/internal/timeout"
)

// Config carries one session's inputs from the command line.
type Config struct {
	ProjectDirectory string
	Prompt           string
	CurrentFile      string
	Options          []string
	Timeout          time.Duration
	OutputPath       string
	Logger           *log.Logger
}

// Run drives one interactive session to completion and writes the result
// to the channel at Config.OutputPath. A nil error means the result was
// written; every other outcome leaves the channel file absent so the
// orchestrator fails closed.
func Run(ctx context.Context, cfg Config) error {
	if cfg.Timeout <= 0 {
		return errors.New("session timeout must be positive")
	}
	if cfg.OutputPath == "" {
		return errors.New("session output path is required")
	}
	if cfg.Prompt == "" {
		cfg.Prompt = feedback.DefaultSummary
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}

	result, err := collect(ctx, cfg, logger)
	if err != nil {
		return err
	}

	if err := channel.Open(cfg.OutputPath).Write(result); err != nil {
		return fmt.Errorf("write session result: %w", err)
	}
	logger.Info("session result written",
		"timeout_triggered", result.TimeoutTriggered,
		"selected_options", len(result.SelectedOptions),
		"image_paths", len(result.ImagePaths))
	return nil
}

func collect(ctx context.Context, cfg Config, logger *log.Logger) (feedback.Result, error) {
	tty, err := openTTY()
	if err != nil {
		logger.Warn("no controlling terminal, running headless", "error", err)
		return runHeadless(ctx, cfg.Timeout)
	}
	defer tty.Close()
	return runInteractive(ctx, cfg, tty)
}

// openTTY is swapped in tests to force the headless path.
var openTTY = func() (*os.File, error) {
	tty, err := os.OpenFile("/dev/tty", os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}
	if !term.IsTerminal(int(tty.Fd())) {
		_ = tty.Close()
		return nil, errors.New("/dev/tty is not a terminal")
	}
	return tty, nil
}

// terminalWidth seeds the layout before the first resize message arrives.
func terminalWidth(tty *os.File) int {
	width, _, err := term.GetSize(int(tty.Fd()))
	if err != nil || width <= 0 {
		return defaultViewWidth
	}
	return width
}

func runInteractive(ctx context.Context, cfg Config, tty *os.File) (feedback.Result, error) {
	m := newModel(cfg)
	m.width = terminalWidth(tty)
	program := tea.NewProgram(
		m,
		tea.WithInput(tty),
		tea.WithOutput(tty),
		tea.WithAltScreen(),
		tea.WithContext(ctx),
	)
	final, err := program.Run()
	if err != nil {
		return feedback.Result{}, fmt.Errorf("run interactive surface: %w", err)
	}
	resolved, ok := final.(model)
	if !ok {
		return feedback.Result{}, fmt.Errorf("unexpected final model type %T", final)
	}
	return resolved.result, nil
}

// headlessTick is shortened in tests.
var headlessTick = time.Second

// runHeadless waits out the countdown without a terminal. Expiry resolves
// to the keep-alive result; cancellation resolves to the empty result.
func runHeadless(ctx context.Context, duration time.Duration) (feedback.Result, error) {
	controller := timeout.New(duration)
	ticker := time.NewTicker(headlessTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return feedback.Result{}, nil
		case <-ticker.C:
			if controller.Tick() == timeout.StateExpired {
				return feedback.KeepAlive(), nil
			}
		}
	}
}

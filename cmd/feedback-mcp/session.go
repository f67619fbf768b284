package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/Lele-bigLe/interactive-feedback-mcp/internal/config"
	"github.com/Lele-bigLe/interactive-feedback-mcp/internal/feedback"
	"github.com/Lele-bigLe/interactive-feedback-mcp/internal/session"
)

// newSessionCommand is the hidden child-process entry the orchestrator
// spawns per feedback round. Users never invoke it directly.
func newSessionCommand(cfg *config.Config, logger *log.Logger) *cobra.Command {
	var (
		projectDirectory string
		prompt           string
		currentFile      string
		optionsJSON      string
		outputFile       string
		timeoutSeconds   int
	)

	cmd := &cobra.Command{
		Use:    "session",
		Short:  "Run one interactive feedback session",
		Hidden: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			options, err := decodeSessionOptions(optionsJSON)
			if err != nil {
				return err
			}
			return session.Run(cmd.Context(), session.Config{
				ProjectDirectory: projectDirectory,
				Prompt:           prompt,
				CurrentFile:      currentFile,
				Options:          options,
				Timeout:          cfg.EffectiveTimeout(timeoutSeconds),
				OutputPath:       outputFile,
				Logger:           logger,
			})
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&projectDirectory, "project-directory", "", "project the feedback applies to")
	flags.StringVar(&prompt, "prompt", feedback.DefaultSummary, "summary shown to the user")
	flags.StringVar(&currentFile, "current-file", "", "file currently being edited")
	flags.StringVar(&optionsJSON, "options", "", "JSON array of quick-select options")
	flags.StringVar(&outputFile, "output-file", "", "result channel path")
	flags.IntVar(&timeoutSeconds, "timeout", defaultTimeoutSeconds(cfg), "countdown budget in seconds")
	_ = cmd.MarkFlagRequired("output-file")

	return cmd
}

func defaultTimeoutSeconds(cfg *config.Config) int {
	if cfg == nil {
		return 0
	}
	return cfg.TimeoutSeconds()
}

func decodeSessionOptions(encoded string) ([]string, error) {
	if strings.TrimSpace(encoded) == "" {
		return nil, nil
	}
	var options []string
	if err := json.Unmarshal([]byte(encoded), &options); err != nil {
		return nil, fmt.Errorf("decode session options: %w", err)
	}
	return options, nil
}

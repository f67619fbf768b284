package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Lele-bigLe/interactive-feedback-mcp/internal/config"
	"github.com/Lele-bigLe/interactive-feedback-mcp/internal/diagnose"
)

// errEnvironmentDegraded makes `doctor` exit nonzero after the report
// prints, so wrapper scripts can gate on it.
var errEnvironmentDegraded = errors.New("environment degraded")

func newDoctorCommand(cfg *config.Config) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check the runtime environment for interactive sessions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDoctor(cmd.OutOrStdout(), cfg, jsonOutput)
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "emit the report as JSON")
	return cmd
}

func runDoctor(out io.Writer, cfg *config.Config, asJSON bool) error {
	report := diagnose.Run(cfg, Version)

	if asJSON {
		payload, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return fmt.Errorf("encode doctor report: %w", err)
		}
		if _, err := fmt.Fprintln(out, string(payload)); err != nil {
			return fmt.Errorf("write doctor report: %w", err)
		}
	} else {
		lines := []string{
			"status: " + report.Status,
			fmt.Sprintf("version: %s (%s)", report.Version, report.GoVersion),
			"session executable: " + report.SessionExecutable,
			"tty: " + report.TTY,
			"channel dir: " + report.ChannelDir,
			"log dir: " + report.LogDir,
			fmt.Sprintf("timeout: %ds (wait grace %ds)", report.TimeoutSeconds, report.WaitGraceSeconds),
		}
		if _, err := fmt.Fprintln(out, strings.Join(lines, "\n")); err != nil {
			return fmt.Errorf("write doctor report: %w", err)
		}
	}

	if report.Status != diagnose.StatusOK {
		return errEnvironmentDegraded
	}
	return nil
}

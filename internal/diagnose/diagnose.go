// Package diagnose inspects the server's runtime dependencies without
// spawning anything.
package diagnose

import (
	"os"
	"path/filepath"
	"runtime"

	"golang.org/x/term"

	"github.com/Lele-bigLe/interactive-feedback-mcp/internal/config"
)

const (
	// StatusOK means every check passed.
	StatusOK = "ok"
	// StatusDegraded means at least one check failed; the report says which.
	StatusDegraded = "degraded"
)

// Report captures one synchronous health check. Every field is filled;
// a check that cannot pass degrades the status instead of failing.
type Report struct {
	Status            string `json:"status"`
	Version           string `json:"version"`
	GoVersion         string `json:"go_version"`
	SessionExecutable string `json:"session_executable"`
	TTY               string `json:"tty"`
	ChannelDir        string `json:"channel_dir"`
	LogDir            string `json:"log_dir"`
	TimeoutSeconds    int    `json:"timeout_seconds"`
	WaitGraceSeconds  int    `json:"wait_grace_seconds"`
}

// probes are the environment lookups one check run depends on. Tests
// substitute them; Run wires the live ones.
type probes struct {
	executable func() (string, error)
	tty        func() bool
	homeDir    func() (string, error)
	writable   func(string) bool
}

func liveProbes() probes {
	return probes{
		executable: os.Executable,
		tty:        ttyAvailable,
		homeDir:    os.UserHomeDir,
		writable:   dirWritable,
	}
}

// Run performs the health check against the live process environment.
func Run(cfg *config.Config, version string) Report {
	return run(cfg, version, liveProbes())
}

func run(cfg *config.Config, version string, p probes) Report {
	report := Report{
		Status:    StatusOK,
		Version:   version,
		GoVersion: runtime.Version(),
	}
	if cfg != nil {
		report.TimeoutSeconds = int(cfg.Timeout.Seconds())
		report.WaitGraceSeconds = int(cfg.WaitGrace.Seconds())
	}

	if executable, err := p.executable(); err == nil {
		report.SessionExecutable = "✓ " + executable
	} else {
		report.SessionExecutable = "✗ 不存在"
		report.Status = StatusDegraded
	}

	if p.tty() {
		report.TTY = "✓ 可用"
	} else {
		report.TTY = "✗ 不可用"
		report.Status = StatusDegraded
	}

	channelDir := ""
	if cfg != nil {
		channelDir = cfg.ChannelDir
	}
	if channelDir == "" {
		channelDir = os.TempDir()
	}
	if p.writable(channelDir) {
		report.ChannelDir = "✓ " + channelDir
	} else {
		report.ChannelDir = "✗ " + channelDir + " 不可写"
		report.Status = StatusDegraded
	}

	if home, err := p.homeDir(); err == nil {
		logDir := filepath.Join(home, ".feedback-mcp", "logs")
		if p.writable(logDir) {
			report.LogDir = "✓ " + logDir
		} else {
			report.LogDir = "✗ " + logDir + " 不可写"
			report.Status = StatusDegraded
		}
	} else {
		report.LogDir = "✗ 不可写"
		report.Status = StatusDegraded
	}

	return report
}

// ttyAvailable reports whether the controlling terminal can be opened.
// The interactive session binds to it directly because the process's
// own stdio carries the MCP transport.
func ttyAvailable() bool {
	tty, err := os.OpenFile("/dev/tty", os.O_RDWR, 0)
	if err != nil {
		return false
	}
	defer func() {
		_ = tty.Close()
	}()
	return term.IsTerminal(int(tty.Fd()))
}

// dirWritable probes a directory with a throwaway file, creating the
// directory first the way the logger does on startup.
func dirWritable(dir string) bool {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return false
	}
	probe, err := os.CreateTemp(dir, "feedback-doctor-*")
	if err != nil {
		return false
	}
	path := probe.Name()
	_ = probe.Close()
	_ = os.Remove(path)
	return true
}

// Package launcher spawns one isolated interactive session per feedback
// request and shepherds it to a result: allocate the result channel, start
// the child, wait with a hard bound, then consume what the session wrote.
package launcher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"go.opentelemetry.io/otel/attribute"

	"github.com/Lele-bigLe/interactive-feedback-mcp/internal/channel"
	"github.com/Lele-bigLe/interactive-feedback-mcp/internal/feedback"
	"github.com/Lele-bigLe/interactive-feedback-mcp/internal/proctree"
	"github.com/Lele-bigLe/interactive-feedback-mcp/internal/tracing"
)

const (
	// DefaultWaitGrace is how much longer than the session countdown the
	// orchestrator waits before force-terminating the child. It covers the
	// gap between countdown expiry and the session writing its keep-alive
	// result.
	DefaultWaitGrace = 30 * time.Second

	// defaultForcedExitWait bounds the drain of the wait goroutine after
	// the process tree has been swept.
	defaultForcedExitWait = 2 * time.Second
)

// TimeoutError reports a session that outlived the hard wait bound and was
// force-terminated.
type TimeoutError struct {
	Timeout time.Duration
	Grace   time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("session did not finish within %s (%s timeout plus %s grace)", e.Timeout+e.Grace, e.Timeout, e.Grace)
}

// Is enables errors.Is checks for wait bound failures.
func (e *TimeoutError) Is(target error) bool {
	_, ok := target.(*TimeoutError)
	return ok
}

// ProcessError reports a session process that exited nonzero.
type ProcessError struct {
	ExitCode int
	Stderr   string
}

func (e *ProcessError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("session process exited with code %d", e.ExitCode)
	}
	return fmt.Sprintf("session process exited with code %d: %s", e.ExitCode, e.Stderr)
}

// Is enables errors.Is checks for session process failures.
func (e *ProcessError) Is(target error) bool {
	_, ok := target.(*ProcessError)
	return ok
}

// SessionProcess is one spawned interactive session child.
type SessionProcess interface {
	Start() error
	Wait() error
	PID() int
	ExitCode() int
	Stdout() string
	Stderr() string
	Command() string
}

// ProcessFactory builds the session child for one request. channelPath is
// the result channel file the session must write.
type ProcessFactory interface {
	New(req feedback.Request, channelPath string) (SessionProcess, error)
}

// TreeTerminator sweeps a process tree.
type TreeTerminator interface {
	TerminateTree(pid int)
}

// Options configures a session launcher.
type Options struct {
	Factory        ProcessFactory
	Terminator     TreeTerminator
	ChannelDir     string
	WaitGrace      time.Duration
	ForcedExitWait time.Duration
	Logger         *log.Logger
}

// Launcher runs interactive sessions as isolated child processes.
type Launcher struct {
	factory        ProcessFactory
	terminator     TreeTerminator
	channelDir     string
	waitGrace      time.Duration
	forcedExitWait time.Duration
	logger         *log.Logger
	now            func() time.Time
}

// New creates a session launcher with default dependencies where omitted.
func New(opts Options) *Launcher {
	factory := opts.Factory
	if factory == nil {
		factory = &execProcessFactory{executableFn: os.Executable}
	}

	terminator := opts.Terminator
	if terminator == nil {
		terminator = proctree.New(proctree.Options{Logger: opts.Logger})
	}

	waitGrace := opts.WaitGrace
	if waitGrace <= 0 {
		waitGrace = DefaultWaitGrace
	}

	forcedExitWait := opts.ForcedExitWait
	if forcedExitWait <= 0 {
		forcedExitWait = defaultForcedExitWait
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}

	return &Launcher{
		factory:        factory,
		terminator:     terminator,
		channelDir:     opts.ChannelDir,
		waitGrace:      waitGrace,
		forcedExitWait: forcedExitWait,
		logger:         logger,
		now:            time.Now,
	}
}

// Launch runs one interactive session to completion and returns its result.
// A countdown expiry inside the session is not an error here: the session
// exits zero with the keep-alive result and Launch returns it like any other.
// Every error branch discards the result channel.
func (l *Launcher) Launch(ctx context.Context, req feedback.Request) (feedback.Result, error) {
	if req.Timeout <= 0 {
		return feedback.Result{}, errors.New("session timeout must be positive")
	}

	ch, err := channel.Create(l.channelDir)
	if err != nil {
		return feedback.Result{}, err
	}

	proc, err := l.factory.New(req, ch.Path())
	if err != nil {
		ch.Discard()
		return feedback.Result{}, fmt.Errorf("prepare session process: %w", err)
	}

	_, span := tracing.StartSpan(
		ctx,
		"session.spawn",
		attribute.String("command", proc.Command()),
		attribute.Int("timeout_seconds", int(req.Timeout/time.Second)),
	)
	defer span.End()
	started := l.now()

	if err := proc.Start(); err != nil {
		ch.Discard()
		wrapped := fmt.Errorf("start session process: %w", err)
		tracing.RecordSessionOutcome(span, 0, started, "", "", wrapped)
		return feedback.Result{}, wrapped
	}
	l.logger.Info("session spawned", "pid", proc.PID(), "timeout", req.Timeout)

	done := make(chan error, 1)
	go func() {
		done <- proc.Wait()
	}()

	bound := req.Timeout + l.waitGrace
	var waitErr error
	select {
	case waitErr = <-done:
	case <-time.After(bound):
		l.terminator.TerminateTree(proc.PID())
		select {
		case <-done:
		case <-time.After(l.forcedExitWait):
		}
		ch.Discard()
		timeoutErr := &TimeoutError{Timeout: req.Timeout, Grace: l.waitGrace}
		l.logger.Warn("session wait bound exceeded", "pid", proc.PID(), "bound", bound)
		tracing.RecordSessionOutcome(span, -1, started, proc.Stdout(), proc.Stderr(), timeoutErr)
		return feedback.Result{}, timeoutErr
	}

	if waitErr != nil {
		ch.Discard()
		procErr := &ProcessError{
			ExitCode: proc.ExitCode(),
			Stderr:   tracing.TruncateOutput(strings.TrimSpace(proc.Stderr()), tracing.MaxOutputEventBytes),
		}
		l.logger.Error("session process failed", "pid", proc.PID(), "exit_code", procErr.ExitCode)
		tracing.RecordSessionOutcome(span, procErr.ExitCode, started, proc.Stdout(), proc.Stderr(), procErr)
		return feedback.Result{}, procErr
	}

	result, err := ch.ReadAndConsume()
	if err != nil {
		ch.Discard()
		tracing.RecordSessionOutcome(span, 0, started, proc.Stdout(), proc.Stderr(), err)
		return feedback.Result{}, err
	}

	span.SetAttributes(attribute.Bool("timeout_triggered", result.TimeoutTriggered))
	tracing.RecordSessionOutcome(span, 0, started, proc.Stdout(), proc.Stderr(), nil)
	l.logger.Info("session completed", "pid", proc.PID(), "timeout_triggered", result.TimeoutTriggered)
	return result, nil
}

// execProcessFactory spawns the session subcommand of this same binary.
type execProcessFactory struct {
	executableFn func() (string, error)
}

func (f *execProcessFactory) New(req feedback.Request, channelPath string) (SessionProcess, error) {
	executable, err := f.executableFn()
	if err != nil {
		return nil, fmt.Errorf("resolve session executable: %w", err)
	}

	args, err := sessionArgs(req, channelPath)
	if err != nil {
		return nil, err
	}

	cmd := exec.Command(executable, args...)
	proc := &execProcess{cmd: cmd}
	// Stdio is captured, never inherited: the parent's stdout carries the
	// MCP transport. The session reaches the terminal through the tty.
	cmd.Stdin = nil
	cmd.Stdout = &proc.stdout
	cmd.Stderr = &proc.stderr
	return proc, nil
}

// sessionArgs builds the session subcommand argument list for one request.
func sessionArgs(req feedback.Request, channelPath string) ([]string, error) {
	args := []string{
		"session",
		"--project-directory", req.ProjectDirectory,
		"--prompt", req.Summary,
		"--output-file", channelPath,
		"--timeout", strconv.Itoa(int(req.Timeout / time.Second)),
	}
	if req.CurrentFile != "" {
		args = append(args, "--current-file", req.CurrentFile)
	}
	if len(req.Options) > 0 {
		encoded, err := json.Marshal(req.Options)
		if err != nil {
			return nil, fmt.Errorf("encode session options: %w", err)
		}
		args = append(args, "--options", string(encoded))
	}
	return args, nil
}

type execProcess struct {
	cmd    *exec.Cmd
	stdout bytes.Buffer
	stderr bytes.Buffer
}

func (p *execProcess) Start() error {
	return p.cmd.Start()
}

func (p *execProcess) Wait() error {
	return p.cmd.Wait()
}

func (p *execProcess) PID() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

func (p *execProcess) ExitCode() int {
	if p.cmd.ProcessState == nil {
		return 0
	}
	return p.cmd.ProcessState.ExitCode()
}

func (p *execProcess) Stdout() string {
	return p.stdout.String()
}

func (p *execProcess) Stderr() string {
	return p.stderr.String()
}

func (p *execProcess) Command() string {
	return tracing.FormatCommand(p.cmd.Path, p.cmd.Args[1:])
}

var _ ProcessFactory = (*execProcessFactory)(nil)
var _ SessionProcess = (*execProcess)(nil)

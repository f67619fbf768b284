// Package proctree tears down a spawned session process together with every
// process it started. The sweep is advisory cleanup: each signal is guarded
// on its own and nothing is retried past the second pass.
package proctree

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
)

const (
	// DefaultSettleWait is how long the sweep waits after the forceful pass
	// before checking which processes are still running.
	DefaultSettleWait = 100 * time.Millisecond

	procRoot = "/proc"
)

// ProcessSignaler sends unix signals to a process ID.
type ProcessSignaler interface {
	Signal(pid int, signal syscall.Signal) error
}

// ProcessChecker checks whether a process is still alive.
type ProcessChecker interface {
	Alive(pid int) (bool, error)
}

// ProcessLister enumerates the live descendants of a process.
type ProcessLister interface {
	Descendants(pid int) ([]int, error)
}

type defaultProcessSignaler struct{}

func (defaultProcessSignaler) Signal(pid int, signal syscall.Signal) error {
	return syscall.Kill(pid, signal)
}

type defaultProcessChecker struct{}

func (defaultProcessChecker) Alive(pid int) (bool, error) {
	err := syscall.Kill(pid, 0)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, syscall.ESRCH) {
		return false, nil
	}
	if errors.Is(err, syscall.EPERM) {
		return true, nil
	}
	return false, err
}

// defaultProcessLister walks the proc filesystem and follows parent process
// IDs transitively from the root.
type defaultProcessLister struct{}

func (defaultProcessLister) Descendants(pid int) ([]int, error) {
	entries, err := os.ReadDir(procRoot)
	if err != nil {
		return nil, fmt.Errorf("read process table: %w", err)
	}

	children := make(map[int][]int)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		candidate, err := strconv.Atoi(entry.Name())
		if err != nil {
			continue
		}
		parent, err := parentPID(candidate)
		if err != nil {
			// The process exited between the directory listing and the
			// stat read. Skip it.
			continue
		}
		children[parent] = append(children[parent], candidate)
	}

	descendants := make([]int, 0)
	queue := []int{pid}
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		for _, child := range children[next] {
			descendants = append(descendants, child)
			queue = append(queue, child)
		}
	}
	return descendants, nil
}

// parentPID parses the ppid field of /proc/<pid>/stat. The comm field may
// itself contain spaces or parentheses, so parsing resumes after the last
// closing parenthesis.
func parentPID(pid int) (int, error) {
	raw, err := os.ReadFile(fmt.Sprintf("%s/%d/stat", procRoot, pid))
	if err != nil {
		return 0, err
	}
	content := string(raw)
	idx := strings.LastIndexByte(content, ')')
	if idx < 0 {
		return 0, fmt.Errorf("malformed stat record for pid %d", pid)
	}
	fields := strings.Fields(content[idx+1:])
	if len(fields) < 2 {
		return 0, fmt.Errorf("malformed stat record for pid %d", pid)
	}
	parent, err := strconv.Atoi(fields[1])
	if err != nil {
		return 0, fmt.Errorf("malformed ppid for pid %d: %w", pid, err)
	}
	return parent, nil
}

// Options configures a tree terminator.
type Options struct {
	Signaler   ProcessSignaler
	Checker    ProcessChecker
	Lister     ProcessLister
	Logger     *log.Logger
	SettleWait time.Duration
}

// Terminator sweeps a process tree in two passes: forceful kill first, then a
// graceful terminate for anything still observed running.
type Terminator struct {
	signaler   ProcessSignaler
	checker    ProcessChecker
	lister     ProcessLister
	logger     *log.Logger
	settleWait time.Duration
	sleep      func(time.Duration)
}

// New creates a tree terminator with default dependencies where omitted.
func New(opts Options) *Terminator {
	signaler := opts.Signaler
	if signaler == nil {
		signaler = defaultProcessSignaler{}
	}

	checker := opts.Checker
	if checker == nil {
		checker = defaultProcessChecker{}
	}

	lister := opts.Lister
	if lister == nil {
		lister = defaultProcessLister{}
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}

	settleWait := opts.SettleWait
	if settleWait <= 0 {
		settleWait = DefaultSettleWait
	}

	return &Terminator{
		signaler:   signaler,
		checker:    checker,
		lister:     lister,
		logger:     logger,
		settleWait: settleWait,
		sleep:      time.Sleep,
	}
}

// TerminateTree kills every descendant of pid, then pid itself, then sends a
// graceful terminate to whatever the first pass left running. It never
// returns an error; individual failures are logged and the sweep continues.
func (t *Terminator) TerminateTree(pid int) {
	if pid <= 0 {
		return
	}

	descendants, err := t.lister.Descendants(pid)
	if err != nil {
		t.logger.Warn("enumerate process tree", "pid", pid, "error", err)
	}

	for _, child := range descendants {
		if err := t.signaler.Signal(child, syscall.SIGKILL); err != nil {
			t.logger.Debug("kill descendant", "pid", child, "error", err)
		}
	}
	if err := t.signaler.Signal(pid, syscall.SIGKILL); err != nil {
		t.logger.Debug("kill session process", "pid", pid, "error", err)
	}

	t.sleep(t.settleWait)

	survivors := make([]int, 0, len(descendants)+1)
	survivors = append(survivors, descendants...)
	survivors = append(survivors, pid)
	for _, candidate := range survivors {
		alive, err := t.checker.Alive(candidate)
		if err != nil {
			t.logger.Debug("check process liveness", "pid", candidate, "error", err)
			// Assume it survived and sweep it anyway.
			alive = true
		}
		if !alive {
			continue
		}
		if err := t.signaler.Signal(candidate, syscall.SIGTERM); err != nil {
			t.logger.Debug("terminate survivor", "pid", candidate, "error", err)
		}
	}
}

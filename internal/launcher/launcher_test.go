package launcher

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Lele-bigLe/interactive-feedback-mcp/internal/channel"
	"github.com/Lele-bigLe/interactive-feedback-mcp/internal/feedback"
)

type fakeProcess struct {
	pid      int
	exitCode int
	stdout   string
	stderr   string
	startErr error
	waitErr  error
	onWait   func() error
	release  chan struct{}
	started  bool
}

func (f *fakeProcess) Start() error {
	if f.startErr != nil {
		return f.startErr
	}
	f.started = true
	return nil
}

func (f *fakeProcess) Wait() error {
	if f.release != nil {
		<-f.release
	}
	if f.onWait != nil {
		if err := f.onWait(); err != nil {
			return err
		}
	}
	return f.waitErr
}

func (f *fakeProcess) PID() int        { return f.pid }
func (f *fakeProcess) ExitCode() int   { return f.exitCode }
func (f *fakeProcess) Stdout() string  { return f.stdout }
func (f *fakeProcess) Stderr() string  { return f.stderr }
func (f *fakeProcess) Command() string { return "feedback-mcp session --prompt <redacted>" }

type fakeFactory struct {
	build       func(req feedback.Request, channelPath string) (SessionProcess, error)
	req         feedback.Request
	channelPath string
}

func (f *fakeFactory) New(req feedback.Request, channelPath string) (SessionProcess, error) {
	f.req = req
	f.channelPath = channelPath
	return f.build(req, channelPath)
}

type fakeTerminator struct {
	mu          sync.Mutex
	pids        []int
	onTerminate func(pid int)
}

func (f *fakeTerminator) TerminateTree(pid int) {
	f.mu.Lock()
	f.pids = append(f.pids, pid)
	callback := f.onTerminate
	f.mu.Unlock()
	if callback != nil {
		callback(pid)
	}
}

func (f *fakeTerminator) terminated() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]int, len(f.pids))
	copy(out, f.pids)
	return out
}

func TestLaunchReturnsSessionResult(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	factory := &fakeFactory{}
	factory.build = func(_ feedback.Request, path string) (SessionProcess, error) {
		return &fakeProcess{pid: 321, onWait: func() error {
			return channel.Open(path).Write(feedback.Result{
				InteractiveFeedback: "looks good, ship it",
				SelectedOptions:     []string{"Approve"},
			})
		}}, nil
	}

	l := New(Options{Factory: factory, Terminator: &fakeTerminator{}, ChannelDir: dir})
	result, err := l.Launch(context.Background(), feedback.Request{
		ProjectDirectory: "/work/repo",
		Summary:          "refactored the auth flow",
		Timeout:          time.Minute,
	})
	if err != nil {
		t.Fatalf("launch: %v", err)
	}
	if result.InteractiveFeedback != "looks good, ship it" {
		t.Fatalf("feedback = %q", result.InteractiveFeedback)
	}
	if result.TimeoutTriggered {
		t.Fatal("unexpected timeout flag")
	}

	if _, err := os.Stat(factory.channelPath); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected channel consumed, stat err = %v", err)
	}
}

func TestLaunchKeepAliveIsSuccessNotError(t *testing.T) {
	t.Parallel()

	factory := &fakeFactory{}
	factory.build = func(_ feedback.Request, path string) (SessionProcess, error) {
		return &fakeProcess{pid: 322, onWait: func() error {
			return channel.Open(path).Write(feedback.KeepAlive())
		}}, nil
	}

	l := New(Options{Factory: factory, Terminator: &fakeTerminator{}, ChannelDir: t.TempDir()})
	result, err := l.Launch(context.Background(), feedback.Request{Timeout: time.Minute})
	if err != nil {
		t.Fatalf("keep-alive must not be an error: %v", err)
	}
	if !result.TimeoutTriggered {
		t.Fatal("expected timeout_triggered true")
	}
	if result.InteractiveFeedback != feedback.KeepAliveSentinel {
		t.Fatalf("feedback = %q, want sentinel", result.InteractiveFeedback)
	}
}

func TestLaunchProcessFailureCarriesStderr(t *testing.T) {
	t.Parallel()

	factory := &fakeFactory{}
	factory.build = func(_ feedback.Request, _ string) (SessionProcess, error) {
		return &fakeProcess{
			pid:      323,
			exitCode: 2,
			stderr:   "panic: cannot open display\n",
			waitErr:  errors.New("exit status 2"),
		}, nil
	}

	l := New(Options{Factory: factory, Terminator: &fakeTerminator{}, ChannelDir: t.TempDir()})
	_, err := l.Launch(context.Background(), feedback.Request{Timeout: time.Minute})
	if !errors.Is(err, &ProcessError{}) {
		t.Fatalf("expected ProcessError, got %v", err)
	}

	var procErr *ProcessError
	if !errors.As(err, &procErr) {
		t.Fatalf("errors.As failed for %v", err)
	}
	if procErr.ExitCode != 2 {
		t.Fatalf("exit code = %d, want 2", procErr.ExitCode)
	}
	if !strings.Contains(procErr.Stderr, "cannot open display") {
		t.Fatalf("stderr = %q", procErr.Stderr)
	}

	if _, statErr := os.Stat(factory.channelPath); !errors.Is(statErr, os.ErrNotExist) {
		t.Fatalf("expected channel discarded, stat err = %v", statErr)
	}
}

func TestLaunchWaitBoundTerminatesTree(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	factory := &fakeFactory{}
	factory.build = func(_ feedback.Request, _ string) (SessionProcess, error) {
		return &fakeProcess{pid: 324, release: release}, nil
	}
	terminator := &fakeTerminator{onTerminate: func(int) { close(release) }}

	l := New(Options{
		Factory:    factory,
		Terminator: terminator,
		ChannelDir: t.TempDir(),
		WaitGrace:  20 * time.Millisecond,
	})
	_, err := l.Launch(context.Background(), feedback.Request{Timeout: 20 * time.Millisecond})
	if !errors.Is(err, &TimeoutError{}) {
		t.Fatalf("expected TimeoutError, got %v", err)
	}

	pids := terminator.terminated()
	if len(pids) != 1 || pids[0] != 324 {
		t.Fatalf("terminated pids = %v, want [324]", pids)
	}
	if _, statErr := os.Stat(factory.channelPath); !errors.Is(statErr, os.ErrNotExist) {
		t.Fatalf("expected channel discarded, stat err = %v", statErr)
	}
}

func TestLaunchCrashBeforeWriteReportsMissing(t *testing.T) {
	t.Parallel()

	factory := &fakeFactory{}
	factory.build = func(_ feedback.Request, _ string) (SessionProcess, error) {
		return &fakeProcess{pid: 325}, nil
	}

	l := New(Options{Factory: factory, Terminator: &fakeTerminator{}, ChannelDir: t.TempDir()})
	_, err := l.Launch(context.Background(), feedback.Request{Timeout: time.Minute})
	if !errors.Is(err, &channel.MissingError{}) {
		t.Fatalf("expected MissingError, got %v", err)
	}
}

func TestLaunchCorruptResultReportsCorrupt(t *testing.T) {
	t.Parallel()

	factory := &fakeFactory{}
	factory.build = func(_ feedback.Request, path string) (SessionProcess, error) {
		return &fakeProcess{pid: 326, onWait: func() error {
			return os.WriteFile(path, []byte("{not json"), 0o600)
		}}, nil
	}

	l := New(Options{Factory: factory, Terminator: &fakeTerminator{}, ChannelDir: t.TempDir()})
	_, err := l.Launch(context.Background(), feedback.Request{Timeout: time.Minute})
	if !errors.Is(err, &channel.CorruptError{}) {
		t.Fatalf("expected CorruptError, got %v", err)
	}
	if _, statErr := os.Stat(factory.channelPath); !errors.Is(statErr, os.ErrNotExist) {
		t.Fatalf("expected channel discarded, stat err = %v", statErr)
	}
}

func TestLaunchFactoryFailureLeavesNoChannelFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	factory := &fakeFactory{}
	factory.build = func(feedback.Request, string) (SessionProcess, error) {
		return nil, errors.New("executable not found")
	}

	l := New(Options{Factory: factory, Terminator: &fakeTerminator{}, ChannelDir: dir})
	_, err := l.Launch(context.Background(), feedback.Request{Timeout: time.Minute})
	if err == nil || !strings.Contains(err.Error(), "prepare session process") {
		t.Fatalf("error = %v", err)
	}

	entries, readErr := os.ReadDir(dir)
	if readErr != nil {
		t.Fatalf("read channel dir: %v", readErr)
	}
	if len(entries) != 0 {
		t.Fatalf("leftover channel files: %d", len(entries))
	}
}

func TestLaunchRejectsNonPositiveTimeout(t *testing.T) {
	t.Parallel()

	l := New(Options{Factory: &fakeFactory{}, Terminator: &fakeTerminator{}})
	if _, err := l.Launch(context.Background(), feedback.Request{}); err == nil {
		t.Fatal("expected timeout validation error")
	}
}

func TestSessionArgsBuildsChildContract(t *testing.T) {
	t.Parallel()

	args, err := sessionArgs(feedback.Request{
		ProjectDirectory: "/work/repo",
		Summary:          "implemented the retry queue",
		CurrentFile:      "/work/repo/queue.go",
		Options:          []string{"Merge now", "Hold for review"},
		Timeout:          10 * time.Minute,
	}, "/tmp/feedback-42.json")
	if err != nil {
		t.Fatalf("session args: %v", err)
	}

	want := []string{
		"session",
		"--project-directory", "/work/repo",
		"--prompt", "implemented the retry queue",
		"--output-file", "/tmp/feedback-42.json",
		"--timeout", "600",
		"--current-file", "/work/repo/queue.go",
		"--options", `["Merge now","Hold for review"]`,
	}
	if len(args) != len(want) {
		t.Fatalf("args = %v, want %v", args, want)
	}
	for i := range want {
		if args[i] != want[i] {
			t.Fatalf("args[%d] = %q, want %q", i, args[i], want[i])
		}
	}
}

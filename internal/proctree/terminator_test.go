package proctree

import (
	"errors"
	"sync"
	"syscall"
	"testing"
	"time"
)

type signalCall struct {
	pid    int
	signal syscall.Signal
}

type fakeSignaler struct {
	mu    sync.Mutex
	calls []signalCall
	errs  map[int]error
}

func (f *fakeSignaler) Signal(pid int, signal syscall.Signal) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, signalCall{pid: pid, signal: signal})
	if f.errs != nil {
		return f.errs[pid]
	}
	return nil
}

func (f *fakeSignaler) callsFor(signal syscall.Signal) []int {
	f.mu.Lock()
	defer f.mu.Unlock()

	pids := make([]int, 0, len(f.calls))
	for _, call := range f.calls {
		if call.signal == signal {
			pids = append(pids, call.pid)
		}
	}
	return pids
}

type fakeChecker struct {
	alive map[int]bool
	errs  map[int]error
}

func (f *fakeChecker) Alive(pid int) (bool, error) {
	if f.errs != nil && f.errs[pid] != nil {
		return false, f.errs[pid]
	}
	return f.alive[pid], nil
}

type fakeLister struct {
	descendants []int
	err         error
}

func (f *fakeLister) Descendants(int) ([]int, error) {
	return f.descendants, f.err
}

func newTestTerminator(signaler *fakeSignaler, checker *fakeChecker, lister *fakeLister) *Terminator {
	terminator := New(Options{Signaler: signaler, Checker: checker, Lister: lister})
	terminator.sleep = func(time.Duration) {}
	return terminator
}

func TestTerminateTreeKillsDescendantsBeforeRoot(t *testing.T) {
	t.Parallel()

	signaler := &fakeSignaler{}
	checker := &fakeChecker{alive: map[int]bool{}}
	lister := &fakeLister{descendants: []int{201, 202}}

	newTestTerminator(signaler, checker, lister).TerminateTree(200)

	kills := signaler.callsFor(syscall.SIGKILL)
	if len(kills) != 3 {
		t.Fatalf("kill count = %d, want 3", len(kills))
	}
	if kills[0] != 201 || kills[1] != 202 || kills[2] != 200 {
		t.Fatalf("kill order = %v, want descendants then root", kills)
	}
	if terms := signaler.callsFor(syscall.SIGTERM); len(terms) != 0 {
		t.Fatalf("unexpected graceful pass for dead tree: %v", terms)
	}
}

func TestTerminateTreeGracefulSecondPassForSurvivors(t *testing.T) {
	t.Parallel()

	signaler := &fakeSignaler{errs: map[int]error{202: syscall.EPERM}}
	checker := &fakeChecker{alive: map[int]bool{202: true}}
	lister := &fakeLister{descendants: []int{201, 202}}

	newTestTerminator(signaler, checker, lister).TerminateTree(200)

	terms := signaler.callsFor(syscall.SIGTERM)
	if len(terms) != 1 || terms[0] != 202 {
		t.Fatalf("graceful pass = %v, want [202]", terms)
	}
}

func TestTerminateTreeSignalFailureDoesNotAbortSweep(t *testing.T) {
	t.Parallel()

	signaler := &fakeSignaler{errs: map[int]error{201: syscall.ESRCH}}
	checker := &fakeChecker{alive: map[int]bool{}}
	lister := &fakeLister{descendants: []int{201, 202, 203}}

	newTestTerminator(signaler, checker, lister).TerminateTree(200)

	kills := signaler.callsFor(syscall.SIGKILL)
	if len(kills) != 4 {
		t.Fatalf("kill count = %d, want all 4 attempted", len(kills))
	}
}

func TestTerminateTreeListerFailureStillKillsRoot(t *testing.T) {
	t.Parallel()

	signaler := &fakeSignaler{}
	checker := &fakeChecker{alive: map[int]bool{}}
	lister := &fakeLister{err: errors.New("proc unavailable")}

	newTestTerminator(signaler, checker, lister).TerminateTree(200)

	kills := signaler.callsFor(syscall.SIGKILL)
	if len(kills) != 1 || kills[0] != 200 {
		t.Fatalf("kills = %v, want root only", kills)
	}
}

func TestTerminateTreeLivenessErrorSweepsAnyway(t *testing.T) {
	t.Parallel()

	signaler := &fakeSignaler{}
	checker := &fakeChecker{alive: map[int]bool{}, errs: map[int]error{200: errors.New("stat failed")}}
	lister := &fakeLister{}

	newTestTerminator(signaler, checker, lister).TerminateTree(200)

	terms := signaler.callsFor(syscall.SIGTERM)
	if len(terms) != 1 || terms[0] != 200 {
		t.Fatalf("graceful pass = %v, want [200]", terms)
	}
}

func TestTerminateTreeIgnoresNonPositivePid(t *testing.T) {
	t.Parallel()

	signaler := &fakeSignaler{}
	newTestTerminator(signaler, &fakeChecker{}, &fakeLister{}).TerminateTree(0)

	if len(signaler.calls) != 0 {
		t.Fatalf("unexpected signals for pid 0: %v", signaler.calls)
	}
}

func TestParentPIDReadsOwnStat(t *testing.T) {
	t.Parallel()

	// Sanity-check the stat parser against the running test process, whose
	// parent is the go test harness.
	parent, err := parentPID(syscall.Getpid())
	if err != nil {
		t.Fatalf("parse own stat: %v", err)
	}
	if parent <= 0 {
		t.Fatalf("ppid = %d, want positive", parent)
	}
}

// Package timeout drives the interactive session countdown as a small state
// machine. Expiry is a normal outcome reported through state, never an error;
// the hosting session observes StateExpired and closes with a keep-alive
// result.
package timeout

import (
	"fmt"
	"time"
)

// State identifies one countdown lifecycle phase.
type State string

const (
	// StateRunning counts down toward expiry on every tick.
	StateRunning State = "running"
	// StatePaused freezes the remaining time; no expiry checks occur.
	StatePaused State = "paused"
	// StateExpired is terminal.
	StateExpired State = "expired"
)

var allowedTransitions = map[State]map[State]struct{}{
	StateRunning: {
		StateRunning: {},
		StatePaused:  {},
		StateExpired: {},
	},
	StatePaused: {
		StateRunning: {},
	},
	StateExpired: {},
}

// IllegalTransitionError is returned for a disallowed countdown transition.
type IllegalTransitionError struct {
	FromState State
	ToState   State
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("cannot transition countdown from %q to %q", e.FromState, e.ToState)
}

// Is enables errors.Is checks for illegal transition failures.
func (e *IllegalTransitionError) Is(target error) bool {
	_, ok := target.(*IllegalTransitionError)
	return ok
}

// Controller tracks one session countdown. All mutation must come from a
// single goroutine; the session event loop is that scheduler.
type Controller struct {
	duration time.Duration
	start    time.Time
	state    State
	frozen   time.Duration
	now      func() time.Time
}

// New starts a countdown of the given duration in the running state.
func New(duration time.Duration) *Controller {
	controller := &Controller{
		duration: duration,
		state:    StateRunning,
		now:      time.Now,
	}
	controller.start = controller.now()
	return controller
}

// State returns the current countdown phase.
func (c *Controller) State() State {
	return c.state
}

// Duration returns the fixed countdown budget.
func (c *Controller) Duration() time.Duration {
	return c.duration
}

// Remaining reports the time left before expiry. While paused it returns the
// frozen value captured at pause time; once expired it returns zero.
func (c *Controller) Remaining() time.Duration {
	switch c.state {
	case StatePaused:
		return c.frozen
	case StateExpired:
		return 0
	default:
		remaining := c.duration - c.now().Sub(c.start)
		if remaining < 0 {
			return 0
		}
		return remaining
	}
}

// Tick performs one periodic expiry check and returns the resulting state. A
// running countdown whose budget is spent moves to StateExpired; paused and
// expired countdowns are left untouched.
func (c *Controller) Tick() State {
	if c.state != StateRunning {
		return c.state
	}
	if c.duration-c.now().Sub(c.start) <= 0 {
		c.state = StateExpired
	}
	return c.state
}

// Pause freezes the countdown. Only a running countdown can pause.
func (c *Controller) Pause() error {
	remaining := c.Remaining()
	if err := c.transition(StatePaused); err != nil {
		return err
	}
	c.frozen = remaining
	return nil
}

// Resume restarts a paused countdown with the full original duration; the
// time spent before pausing is not carried over.
func (c *Controller) Resume() error {
	if c.state != StatePaused {
		return &IllegalTransitionError{FromState: c.state, ToState: StateRunning}
	}
	if err := c.transition(StateRunning); err != nil {
		return err
	}
	c.start = c.now()
	c.frozen = 0
	return nil
}

// Reset restarts the countdown with the full original duration. It is legal
// while running or paused; an expired countdown stays expired.
func (c *Controller) Reset() error {
	if err := c.transition(StateRunning); err != nil {
		return err
	}
	c.start = c.now()
	c.frozen = 0
	return nil
}

func (c *Controller) transition(to State) error {
	if _, ok := allowedTransitions[c.state][to]; !ok {
		return &IllegalTransitionError{FromState: c.state, ToState: to}
	}
	c.state = to
	return nil
}

// Package channel implements the single-use file handoff that carries one
// session result from the spawned interactive session back to the
// orchestrator. The discipline is one writer, one reader, reader deletes.
package channel

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/Lele-bigLe/interactive-feedback-mcp/internal/feedback"
)

const filePattern = "feedback-*.json"

// AllocationError reports that no channel file could be reserved.
type AllocationError struct {
	Dir string
	Err error
}

func (e *AllocationError) Error() string {
	return fmt.Sprintf("allocate feedback channel in %q: %v", e.Dir, e.Err)
}

func (e *AllocationError) Unwrap() error { return e.Err }

// Is enables errors.Is checks for allocation failures.
func (e *AllocationError) Is(target error) bool {
	_, ok := target.(*AllocationError)
	return ok
}

// MissingError reports a read on a channel that holds no result. It covers a
// channel the session never wrote (it crashed before finishing) and a channel
// that was already consumed.
type MissingError struct {
	Path string
}

func (e *MissingError) Error() string {
	return fmt.Sprintf("feedback channel %q holds no result", e.Path)
}

// Is enables errors.Is checks for missing-result failures.
func (e *MissingError) Is(target error) bool {
	_, ok := target.(*MissingError)
	return ok
}

// CorruptError reports a channel whose content does not parse as a result
// document.
type CorruptError struct {
	Path string
	Err  error
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("feedback channel %q holds an unreadable result: %v", e.Path, e.Err)
}

func (e *CorruptError) Unwrap() error { return e.Err }

// Is enables errors.Is checks for corrupt-result failures.
func (e *CorruptError) Is(target error) bool {
	_, ok := target.(*CorruptError)
	return ok
}

// Channel is a single-use result handoff backed by one file.
type Channel struct {
	path string
}

// Create reserves a uniquely named, empty channel file under dir. An empty
// dir falls back to the system temp directory.
func Create(dir string) (*Channel, error) {
	file, err := os.CreateTemp(dir, filePattern)
	if err != nil {
		if dir == "" {
			dir = os.TempDir()
		}
		return nil, &AllocationError{Dir: dir, Err: err}
	}
	path := file.Name()
	if err := file.Close(); err != nil {
		_ = os.Remove(path)
		return nil, &AllocationError{Dir: dir, Err: err}
	}
	return &Channel{path: path}, nil
}

// Open wraps an existing channel path. The spawned session uses it to reach
// the file the orchestrator reserved.
func Open(path string) *Channel {
	return &Channel{path: path}
}

// Path returns the backing file path.
func (c *Channel) Path() string {
	return c.path
}

// Write serializes one result into the channel, replacing any prior content.
func (c *Channel) Write(result feedback.Result) error {
	result.Normalize()
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode feedback result: %w", err)
	}
	if err := os.WriteFile(c.path, payload, 0o600); err != nil {
		return fmt.Errorf("write feedback channel: %w", err)
	}
	return nil
}

// ReadAndConsume parses the stored result and deletes the channel file, so a
// result is observed at most once. An absent or empty file reports
// MissingError and unparseable content reports CorruptError; those branches
// leave deletion to Discard. A parsed result whose file cannot be deleted is
// dropped with an error rather than risk a stale re-read.
func (c *Channel) ReadAndConsume() (feedback.Result, error) {
	payload, err := os.ReadFile(c.path)
	if errors.Is(err, os.ErrNotExist) {
		return feedback.Result{}, &MissingError{Path: c.path}
	}
	if err != nil {
		return feedback.Result{}, fmt.Errorf("read feedback channel: %w", err)
	}
	if len(bytes.TrimSpace(payload)) == 0 {
		return feedback.Result{}, &MissingError{Path: c.path}
	}

	var result feedback.Result
	if err := json.Unmarshal(payload, &result); err != nil {
		return feedback.Result{}, &CorruptError{Path: c.path, Err: err}
	}
	if err := os.Remove(c.path); err != nil {
		return feedback.Result{}, fmt.Errorf("consume feedback channel: %w", err)
	}
	result.Normalize()
	return result, nil
}

// Discard removes the channel file if it still exists. It is safe to call on
// every error branch, any number of times; failures are ignored.
func (c *Channel) Discard() {
	_ = os.Remove(c.path)
}

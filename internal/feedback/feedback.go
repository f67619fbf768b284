// Package feedback defines the session request/result contract shared by the
// orchestrator and the spawned interactive session.
package feedback

import (
	"fmt"
	"strings"
	"time"
)

const (
	// KeepAliveSentinel is the fixed feedback text of a timeout keep-alive
	// result. It is never user-authored.
	KeepAliveSentinel = "[会话保持] 等待用户输入中..."

	// OptionPrefix marks a selected option line inside composed feedback text.
	OptionPrefix = "[选择方案]"

	// EndFeedbackText is the quick "end the task" feedback body.
	EndFeedbackText = "结束"

	// DefaultSummary is shown when the caller provides no prompt text.
	DefaultSummary = "我已经实现了您请求的更改。"
)

// Request is the immutable input of one interactive session invocation.
type Request struct {
	ProjectDirectory string
	Summary          string
	CurrentFile      string
	Options          []string
	Timeout          time.Duration
}

// Result is the session outcome. The JSON field names are the Result Channel
// wire contract; there is no version field, so schema changes are breaking.
type Result struct {
	InteractiveFeedback string   `json:"interactive_feedback"`
	ImagePaths          []string `json:"image_paths"`
	SelectedOptions     []string `json:"selected_options"`
	ContextFiles        []string `json:"context_files"`
	TimeoutTriggered    bool     `json:"timeout_triggered"`
}

// KeepAlive builds the canonical timeout result: sentinel feedback, empty
// lists, timeout flag set.
func KeepAlive() Result {
	return Result{
		InteractiveFeedback: KeepAliveSentinel,
		ImagePaths:          []string{},
		SelectedOptions:     []string{},
		ContextFiles:        []string{},
		TimeoutTriggered:    true,
	}
}

// Normalize replaces nil list fields with empty slices so the serialized
// document always carries JSON arrays.
func (r *Result) Normalize() {
	if r.ImagePaths == nil {
		r.ImagePaths = []string{}
	}
	if r.SelectedOptions == nil {
		r.SelectedOptions = []string{}
	}
	if r.ContextFiles == nil {
		r.ContextFiles = []string{}
	}
}

// FirstLine truncates multi-line input to its first line and trims whitespace.
// Single-line request fields are normalized through this before use.
func FirstLine(text string) string {
	if idx := strings.IndexByte(text, '\n'); idx >= 0 {
		text = text[:idx]
	}
	return strings.TrimSpace(text)
}

// ComposeFeedback folds selected options, attached image paths, and context
// file paths into the free-text feedback body. Blocks are joined by blank
// lines; list entries render as two-space bullets.
func ComposeFeedback(text string, selectedOptions, imagePaths, contextFiles []string) string {
	parts := make([]string, 0, 4)

	if len(selectedOptions) > 0 {
		lines := make([]string, 0, len(selectedOptions))
		for _, option := range selectedOptions {
			option = strings.TrimSpace(option)
			if option == "" {
				continue
			}
			lines = append(lines, OptionPrefix+" "+option)
		}
		if len(lines) > 0 {
			parts = append(parts, strings.Join(lines, "\n"))
		}
	}

	if trimmed := strings.TrimSpace(text); trimmed != "" {
		parts = append(parts, trimmed)
	}

	if len(imagePaths) > 0 {
		parts = append(parts, fmt.Sprintf("[图片 (%d张):]\n%s", len(imagePaths), bulletList(imagePaths)))
	}

	if len(contextFiles) > 0 {
		parts = append(parts, "[上下文文件:]\n"+bulletList(contextFiles))
	}

	return strings.Join(parts, "\n\n")
}

func bulletList(items []string) string {
	lines := make([]string, 0, len(items))
	for _, item := range items {
		lines = append(lines, "  - "+item)
	}
	return strings.Join(lines, "\n")
}

package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Lele-bigLe/interactive-feedback-mcp/internal/config"
	"github.com/Lele-bigLe/interactive-feedback-mcp/internal/diagnose"
	"github.com/Lele-bigLe/interactive-feedback-mcp/internal/feedback"
)

// Tool is one callable MCP tool.
type Tool struct {
	Name        string
	Description string
	InputSchema map[string]any
	Handler     func(ctx context.Context, args map[string]any) (any, error)
}

func (t Tool) descriptor() map[string]any {
	return map[string]any{
		"name":        t.Name,
		"description": t.Description,
		"inputSchema": t.InputSchema,
	}
}

// SessionLauncher runs one interactive session to completion.
type SessionLauncher interface {
	Launch(ctx context.Context, req feedback.Request) (feedback.Result, error)
}

// NewFeedbackTool builds the interactive_feedback tool. Multi-line text
// arguments are cut to their first line before the session is spawned.
// A session that expires without user input is a success carrying the
// keep-alive result, not an error.
func NewFeedbackTool(launcher SessionLauncher, cfg *config.Config) Tool {
	return Tool{
		Name: "interactive_feedback",
		Description: "请求用户对当前变更进行交互式反馈。" +
			"此工具会启动一个交互式反馈界面，等待用户输入。" +
			"如果用户在超时时间内未响应，工具会自动返回一个特殊标记，提示需要重新调用以保持会话活跃。" +
			"超时时间可通过环境变量 " + config.TimeoutEnvVar + " 配置，默认600秒。" +
			"可以通过 options 参数提供多个解决方案供用户快速选择。",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"project_directory": map[string]any{
					"type":        "string",
					"description": "项目目录的完整路径",
				},
				"summary": map[string]any{
					"type":        "string",
					"description": "简短的变更摘要说明（一行）",
				},
				"current_file": map[string]any{
					"type":        "string",
					"description": "当前正在编辑的文件路径",
				},
				"options": map[string]any{
					"type":        "array",
					"items":       map[string]any{"type": "string"},
					"description": "可选的解决方案列表，供用户快速选择，例如 ['方案A: ...', '方案B: ...']",
				},
			},
			"required": []string{"project_directory", "summary"},
		},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			projectDirectory := feedback.FirstLine(stringArg(args, "project_directory"))
			if projectDirectory == "" {
				return nil, errors.New("project_directory is required")
			}
			summary := feedback.FirstLine(stringArg(args, "summary"))
			if summary == "" {
				return nil, errors.New("summary is required")
			}

			req := feedback.Request{
				ProjectDirectory: projectDirectory,
				Summary:          summary,
				CurrentFile:      feedback.FirstLine(stringArg(args, "current_file")),
				Options:          stringSliceArg(args, "options"),
				Timeout:          cfg.Timeout,
			}
			result, err := launcher.Launch(ctx, req)
			if err != nil {
				return nil, fmt.Errorf("interactive feedback session failed: %w", err)
			}
			return result, nil
		},
	}
}

// NewHealthTool builds the health_check tool. It reports dependency and
// timeout configuration status synchronously and cannot fail.
func NewHealthTool(cfg *config.Config, version string) Tool {
	return Tool{
		Name:        "health_check",
		Description: "健康检查 - 验证 MCP 服务器和依赖是否正常运行。",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			return diagnose.Run(cfg, version), nil
		},
	}
}

func stringArg(args map[string]any, key string) string {
	str, _ := args[key].(string)
	return str
}

// stringSliceArg keeps string entries in order and drops blank ones.
func stringSliceArg(args map[string]any, key string) []string {
	values, ok := args[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(values))
	for _, item := range values {
		str, ok := item.(string)
		if !ok || strings.TrimSpace(str) == "" {
			continue
		}
		out = append(out, str)
	}
	return out
}

// Package mcp serves the Model Context Protocol over newline-delimited
// JSON-RPC on a reader/writer pair, usually the process's own stdin and
// stdout. Requests are handled strictly in order: a feedback session in
// flight blocks the loop until it resolves.
package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/charmbracelet/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/Lele-bigLe/interactive-feedback-mcp/internal/tracing"
)

// Options configures an MCP server.
type Options struct {
	Name    string
	Version string
	Logger  *log.Logger
}

// Server dispatches MCP requests to registered tools.
type Server struct {
	name    string
	version string
	logger  *log.Logger
	tools   []Tool
	byName  map[string]int
}

// NewServer creates an MCP server with no tools registered.
func NewServer(opts Options) *Server {
	name := opts.Name
	if name == "" {
		name = "interactive-feedback-mcp"
	}

	version := opts.Version
	if version == "" {
		version = "dev"
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}

	return &Server{
		name:    name,
		version: version,
		logger:  logger,
		byName:  map[string]int{},
	}
}

// Register adds a tool to the server. A tool registered under an
// already-taken name replaces the earlier one.
func (s *Server) Register(tool Tool) {
	if idx, ok := s.byName[tool.Name]; ok {
		s.tools[idx] = tool
		return
	}
	s.byName[tool.Name] = len(s.tools)
	s.tools = append(s.tools, tool)
}

// Serve reads requests line by line until in is exhausted or ctx is
// canceled. Notifications are consumed without a reply. Lines that are
// not valid JSON-RPC get an error response with a null ID.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 2*1024*1024)
	encoder := json.NewEncoder(out)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		req, err := UnmarshalRequest(line)
		if err != nil {
			var rpcErr *RPCError
			if !errors.As(err, &rpcErr) {
				rpcErr = &RPCError{Code: CodeInternalError, Message: err.Error()}
			}
			s.logger.Warn("rejected request line", "code", rpcErr.Code, "error", rpcErr.Message)
			if err := encoder.Encode(NewErrorResponse(nil, rpcErr.Code, rpcErr.Message, rpcErr.Data)); err != nil {
				return fmt.Errorf("write response: %w", err)
			}
			continue
		}
		if req.IsNotification() {
			continue
		}

		resp := s.handle(ctx, req)
		if err := encoder.Encode(resp); err != nil {
			return fmt.Errorf("write response: %w", err)
		}
	}
	return scanner.Err()
}

func (s *Server) handle(ctx context.Context, req *Request) *Response {
	switch req.Method {
	case "initialize":
		return NewResponse(req.ID, map[string]any{
			"protocolVersion": ProtocolVersion,
			"serverInfo": map[string]any{
				"name":    s.name,
				"version": s.version,
			},
			"capabilities": map[string]any{
				"tools": map[string]any{
					"listChanged": false,
				},
			},
		})
	case "ping":
		return NewResponse(req.ID, map[string]any{})
	case "tools/list":
		descriptors := make([]map[string]any, 0, len(s.tools))
		for _, tool := range s.tools {
			descriptors = append(descriptors, tool.descriptor())
		}
		return NewResponse(req.ID, map[string]any{"tools": descriptors})
	case "tools/call":
		return s.callTool(ctx, req)
	default:
		return NewErrorResponse(req.ID, CodeMethodNotFound, fmt.Sprintf("unknown method: %s", req.Method), nil)
	}
}

// callTool runs one tool invocation. Handler errors become tool results
// with isError set rather than JSON-RPC errors, so the calling agent
// sees them as tool output.
func (s *Server) callTool(ctx context.Context, req *Request) *Response {
	name, _ := req.Params["name"].(string)
	idx, ok := s.byName[name]
	if !ok {
		return NewErrorResponse(req.ID, CodeInvalidParams, fmt.Sprintf("unknown tool: %s", name), nil)
	}
	tool := s.tools[idx]
	args, _ := req.Params["arguments"].(map[string]any)

	ctx, span := tracing.StartSpan(ctx, "tool.dispatch", attribute.String("tool", name))
	defer span.End()

	logger := s.logger
	if sc := span.SpanContext(); sc.IsValid() {
		logger = logger.With("trace_id", sc.TraceID().String(), "span_id", sc.SpanID().String())
	}
	logger.Info("tool call started", "tool", name)

	payload, err := tool.Handler(ctx, args)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "tool call failed")
		logger.Error("tool call failed", "tool", name, "error", err)
		return NewResponse(req.ID, map[string]any{
			"content": []map[string]any{{"type": "text", "text": err.Error()}},
			"isError": true,
		})
	}

	text, ok := payload.(string)
	if !ok {
		data, err := json.Marshal(payload)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "tool result not serializable")
			return NewErrorResponse(req.ID, CodeInternalError, fmt.Sprintf("encode tool result: %v", err), nil)
		}
		text = string(data)
	}

	span.SetStatus(codes.Ok, "tool call completed")
	logger.Info("tool call completed", "tool", name)
	return NewResponse(req.ID, map[string]any{
		"content": []map[string]any{{"type": "text", "text": text}},
		"isError": false,
	})
}

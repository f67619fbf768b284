package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func echoTool(name string) Tool {
	return Tool{
		Name:        name,
		Description: "echoes its arguments",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			return args, nil
		},
	}
}

func serveLines(t *testing.T, server *Server, lines ...string) []map[string]any {
	t.Helper()

	in := strings.NewReader(strings.Join(lines, "\n") + "\n")
	var out bytes.Buffer
	if err := server.Serve(context.Background(), in, &out); err != nil {
		t.Fatalf("serve: %v", err)
	}

	var responses []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(out.String()), "\n") {
		if line == "" {
			continue
		}
		var resp map[string]any
		if err := json.Unmarshal([]byte(line), &resp); err != nil {
			t.Fatalf("parse response line %q: %v", line, err)
		}
		responses = append(responses, resp)
	}
	return responses
}

func resultOf(t *testing.T, resp map[string]any) map[string]any {
	t.Helper()
	result, ok := resp["result"].(map[string]any)
	if !ok {
		t.Fatalf("response carries no result object: %v", resp)
	}
	return result
}

func contentText(t *testing.T, result map[string]any) string {
	t.Helper()
	content, ok := result["content"].([]any)
	if !ok || len(content) == 0 {
		t.Fatalf("result carries no content blocks: %v", result)
	}
	block, ok := content[0].(map[string]any)
	if !ok {
		t.Fatalf("content[0] is not an object: %v", content[0])
	}
	text, _ := block["text"].(string)
	return text
}

func errorCode(t *testing.T, resp map[string]any) int {
	t.Helper()
	rpcErr, ok := resp["error"].(map[string]any)
	if !ok {
		t.Fatalf("response carries no error object: %v", resp)
	}
	code, ok := rpcErr["code"].(float64)
	if !ok {
		t.Fatalf("error code missing: %v", rpcErr)
	}
	return int(code)
}

func TestServeInitializeHandshake(t *testing.T) {
	t.Parallel()

	server := NewServer(Options{Name: "feedback-test", Version: "1.2.3"})
	responses := serveLines(t, server, `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`)

	if len(responses) != 1 {
		t.Fatalf("responses = %d, want 1", len(responses))
	}
	result := resultOf(t, responses[0])
	if got := result["protocolVersion"]; got != ProtocolVersion {
		t.Fatalf("protocolVersion = %v, want %s", got, ProtocolVersion)
	}
	info, ok := result["serverInfo"].(map[string]any)
	if !ok {
		t.Fatalf("serverInfo missing: %v", result)
	}
	if info["name"] != "feedback-test" || info["version"] != "1.2.3" {
		t.Fatalf("serverInfo = %v", info)
	}
	caps, ok := result["capabilities"].(map[string]any)
	if !ok {
		t.Fatalf("capabilities missing: %v", result)
	}
	tools, ok := caps["tools"].(map[string]any)
	if !ok || tools["listChanged"] != false {
		t.Fatalf("tools capability = %v", caps["tools"])
	}
}

func TestServeToolsListDescribesRegisteredTools(t *testing.T) {
	t.Parallel()

	server := NewServer(Options{})
	server.Register(echoTool("first"))
	server.Register(echoTool("second"))

	responses := serveLines(t, server, `{"jsonrpc":"2.0","id":5,"method":"tools/list"}`)
	result := resultOf(t, responses[0])
	tools, ok := result["tools"].([]any)
	if !ok {
		t.Fatalf("tools list missing: %v", result)
	}
	if len(tools) != 2 {
		t.Fatalf("tools = %d, want 2", len(tools))
	}
	first, ok := tools[0].(map[string]any)
	if !ok {
		t.Fatalf("tools[0] is not an object: %v", tools[0])
	}
	if first["name"] != "first" {
		t.Fatalf("tools[0].name = %v, want first", first["name"])
	}
	if first["description"] != "echoes its arguments" {
		t.Fatalf("tools[0].description = %v", first["description"])
	}
	if _, ok := first["inputSchema"].(map[string]any); !ok {
		t.Fatalf("tools[0].inputSchema missing: %v", first)
	}
}

func TestServeToolsCallReturnsTextContent(t *testing.T) {
	t.Parallel()

	var gotArgs map[string]any
	server := NewServer(Options{})
	server.Register(Tool{
		Name: "capture",
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			gotArgs = args
			return map[string]any{"answer": "looks good"}, nil
		},
	})

	responses := serveLines(t, server,
		`{"jsonrpc":"2.0","id":7,"method":"tools/call","params":{"name":"capture","arguments":{"summary":"did the thing"}}}`)

	if gotArgs["summary"] != "did the thing" {
		t.Fatalf("handler args = %v", gotArgs)
	}
	result := resultOf(t, responses[0])
	if result["isError"] != false {
		t.Fatalf("isError = %v, want false", result["isError"])
	}
	text := contentText(t, result)
	var payload map[string]any
	if err := json.Unmarshal([]byte(text), &payload); err != nil {
		t.Fatalf("content text is not JSON: %v", err)
	}
	if payload["answer"] != "looks good" {
		t.Fatalf("payload = %v", payload)
	}
}

func TestServeToolsCallHandlerErrorBecomesToolError(t *testing.T) {
	t.Parallel()

	server := NewServer(Options{})
	server.Register(Tool{
		Name: "failing",
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			return nil, errors.New("session process exited with code 3")
		},
	})

	responses := serveLines(t, server,
		`{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"failing","arguments":{}}}`)

	resp := responses[0]
	if _, hasErr := resp["error"]; hasErr {
		t.Fatalf("handler failure must not become a JSON-RPC error: %v", resp)
	}
	result := resultOf(t, resp)
	if result["isError"] != true {
		t.Fatalf("isError = %v, want true", result["isError"])
	}
	if text := contentText(t, result); !strings.Contains(text, "exited with code 3") {
		t.Fatalf("content text = %q", text)
	}
}

func TestServeUnknownMethodReturnsMethodNotFound(t *testing.T) {
	t.Parallel()

	server := NewServer(Options{})
	responses := serveLines(t, server, `{"jsonrpc":"2.0","id":9,"method":"resources/list"}`)

	if code := errorCode(t, responses[0]); code != CodeMethodNotFound {
		t.Fatalf("code = %d, want %d", code, CodeMethodNotFound)
	}
}

func TestServeUnknownToolReturnsInvalidParams(t *testing.T) {
	t.Parallel()

	server := NewServer(Options{})
	responses := serveLines(t, server,
		`{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"missing","arguments":{}}}`)

	if code := errorCode(t, responses[0]); code != CodeInvalidParams {
		t.Fatalf("code = %d, want %d", code, CodeInvalidParams)
	}
}

func TestServeSkipsNotificationsAndBlankLines(t *testing.T) {
	t.Parallel()

	server := NewServer(Options{})
	responses := serveLines(t, server,
		`{"jsonrpc":"2.0","method":"notifications/initialized"}`,
		``,
		`{"jsonrpc":"2.0","id":4,"method":"ping"}`)

	if len(responses) != 1 {
		t.Fatalf("responses = %d, want 1", len(responses))
	}
	if id, ok := responses[0]["id"].(float64); !ok || int(id) != 4 {
		t.Fatalf("id = %v, want 4", responses[0]["id"])
	}
}

func TestServeRejectsMalformedLine(t *testing.T) {
	t.Parallel()

	server := NewServer(Options{})
	responses := serveLines(t, server, `{not json`)

	resp := responses[0]
	if code := errorCode(t, resp); code != CodeParseError {
		t.Fatalf("code = %d, want %d", code, CodeParseError)
	}
	if resp["id"] != nil {
		t.Fatalf("id = %v, want null", resp["id"])
	}
}

func TestServeRejectsWrongProtocolVersion(t *testing.T) {
	t.Parallel()

	server := NewServer(Options{})
	responses := serveLines(t, server, `{"jsonrpc":"1.0","id":1,"method":"ping"}`)

	if code := errorCode(t, responses[0]); code != CodeInvalidRequest {
		t.Fatalf("code = %d, want %d", code, CodeInvalidRequest)
	}
}

func TestRegisterReplacesToolWithSameName(t *testing.T) {
	t.Parallel()

	server := NewServer(Options{})
	server.Register(echoTool("dup"))
	server.Register(Tool{
		Name: "dup",
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			return "replacement", nil
		},
	})

	responses := serveLines(t, server,
		`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`,
		`{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"dup"}}`)

	tools, ok := resultOf(t, responses[0])["tools"].([]any)
	if !ok || len(tools) != 1 {
		t.Fatalf("tools = %v, want exactly one", resultOf(t, responses[0])["tools"])
	}
	if text := contentText(t, resultOf(t, responses[1])); text != "replacement" {
		t.Fatalf("content text = %q, want replacement", text)
	}
}

func TestToolCallRecordsDispatchSpan(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(provider)
	t.Cleanup(func() { otel.SetTracerProvider(previous) })

	server := NewServer(Options{})
	server.Register(echoTool("traced"))
	serveLines(t, server,
		`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"traced","arguments":{}}}`)

	spans := recorder.Ended()
	var found bool
	for _, span := range spans {
		if span.Name() != "tool.dispatch" {
			continue
		}
		found = true
		for _, attr := range span.Attributes() {
			if string(attr.Key) == "tool" && attr.Value.AsString() != "traced" {
				t.Fatalf("tool attribute = %q, want traced", attr.Value.AsString())
			}
		}
	}
	if !found {
		t.Fatal("no tool.dispatch span recorded")
	}
}

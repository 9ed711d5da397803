package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
)

// mockHandler implements ToolHandler for testing.
type mockHandler struct {
	tools []Tool

	mu    sync.Mutex
	calls []string
}

func (m *mockHandler) GetTools() []Tool {
	return m.tools
}

func (m *mockHandler) HandleTool(ctx context.Context, name string, args map[string]any) (*CallToolResult, error) {
	m.mu.Lock()
	m.calls = append(m.calls, name)
	m.mu.Unlock()

	if name == "broken" {
		return nil, errors.New("handler exploded")
	}
	return &CallToolResult{
		Content: []ContentBlock{TextContent("mock result for " + name)},
	}, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// runServer feeds lines to a server and returns the decoded responses
// keyed by id.
func runServer(t *testing.T, handler ToolHandler, lines ...string) (map[string]Response, []Request) {
	t.Helper()

	input := strings.NewReader(strings.Join(lines, "\n") + "\n")
	output := &bytes.Buffer{}
	server := NewServer(input, output, handler, discardLogger())

	if err := server.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	responses := make(map[string]Response)
	var notifications []Request
	for _, line := range strings.Split(strings.TrimSpace(output.String()), "\n") {
		if line == "" {
			continue
		}
		var probe map[string]json.RawMessage
		if err := json.Unmarshal([]byte(line), &probe); err != nil {
			t.Fatalf("server wrote invalid JSON %q: %v", line, err)
		}
		if _, ok := probe["method"]; ok {
			var n Request
			_ = json.Unmarshal([]byte(line), &n)
			notifications = append(notifications, n)
			continue
		}
		var resp Response
		if err := json.Unmarshal([]byte(line), &resp); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		id, _ := json.Marshal(resp.ID)
		responses[string(id)] = resp
	}
	return responses, notifications
}

func TestServerInitialize(t *testing.T) {
	handler := &mockHandler{tools: []Tool{{Name: "test_tool", Description: "Test tool"}}}

	responses, _ := runServer(t, handler,
		`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2024-11-05","clientInfo":{"name":"test","version":"1.0"}}}`,
	)

	resp, ok := responses["1"]
	if !ok {
		t.Fatalf("no response for initialize")
	}
	if resp.Error != nil {
		t.Fatalf("initialize error: %+v", resp.Error)
	}

	raw, _ := json.Marshal(resp.Result)
	var result InitializeResult
	if err := json.Unmarshal(raw, &result); err != nil {
		t.Fatalf("failed to decode initialize result: %v", err)
	}
	if result.ProtocolVersion != ProtocolVersion {
		t.Errorf("ProtocolVersion = %v, want %v", result.ProtocolVersion, ProtocolVersion)
	}
	if result.ServerInfo.Name != "whatsapp-session" {
		t.Errorf("ServerInfo.Name = %v", result.ServerInfo.Name)
	}
	if result.Capabilities.Tools == nil {
		t.Error("expected tools capability")
	}
}

func TestServerToolsListAndCall(t *testing.T) {
	handler := &mockHandler{tools: []Tool{{Name: "a"}, {Name: "b"}}}

	responses, _ := runServer(t, handler,
		`{"jsonrpc":"2.0","method":"notifications/initialized"}`,
		`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`,
		`{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"a","arguments":{"x":1}}}`,
		`{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"broken"}}`,
		`{"jsonrpc":"2.0","id":"p","method":"ping"}`,
	)

	raw, _ := json.Marshal(responses["1"].Result)
	var list ListToolsResult
	if err := json.Unmarshal(raw, &list); err != nil {
		t.Fatalf("decode tools/list: %v", err)
	}
	if len(list.Tools) != 2 {
		t.Errorf("tools/list returned %d tools, want 2", len(list.Tools))
	}

	raw, _ = json.Marshal(responses["2"].Result)
	var call CallToolResult
	_ = json.Unmarshal(raw, &call)
	if call.IsError || len(call.Content) != 1 || call.Content[0].Text != "mock result for a" {
		t.Errorf("unexpected tools/call result: %+v", call)
	}

	raw, _ = json.Marshal(responses["3"].Result)
	var failed CallToolResult
	_ = json.Unmarshal(raw, &failed)
	if !failed.IsError || !strings.Contains(failed.Content[0].Text, "handler exploded") {
		t.Errorf("handler error should become an error result, got %+v", failed)
	}

	if _, ok := responses[`"p"`]; !ok {
		t.Error("no response to ping")
	}
}

func TestServerProtocolErrors(t *testing.T) {
	tests := []struct {
		name     string
		line     string
		id       string
		wantCode int
	}{
		{name: "unknown method", line: `{"jsonrpc":"2.0","id":7,"method":"resources/list"}`, id: "7", wantCode: MethodNotFound},
		{name: "bad tool params", line: `{"jsonrpc":"2.0","id":8,"method":"tools/call","params":[]}`, id: "8", wantCode: InvalidParams},
		{name: "wrong version", line: `{"jsonrpc":"1.0","id":9,"method":"ping"}`, id: "9", wantCode: InvalidRequest},
		{name: "garbage", line: `{not json`, id: "null", wantCode: ParseError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			responses, _ := runServer(t, &mockHandler{}, tt.line)
			resp, ok := responses[tt.id]
			if !ok {
				t.Fatalf("no response with id %s: %v", tt.id, responses)
			}
			if resp.Error == nil || resp.Error.Code != tt.wantCode {
				t.Errorf("error = %+v, want code %d", resp.Error, tt.wantCode)
			}
		})
	}
}

func TestServerIgnoresUnknownNotifications(t *testing.T) {
	responses, notifications := runServer(t, &mockHandler{},
		`{"jsonrpc":"2.0","method":"notifications/cancelled","params":{"requestId":1}}`,
		"",
	)
	if len(responses) != 0 || len(notifications) != 0 {
		t.Errorf("expected no output, got %v %v", responses, notifications)
	}
}

func TestServerNotify(t *testing.T) {
	output := &bytes.Buffer{}
	server := NewServer(strings.NewReader(""), output, &mockHandler{}, discardLogger())

	if err := server.Notify("info", "session", "ignored"); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}
	if output.Len() != 0 {
		t.Fatalf("notification sent before handshake: %s", output.String())
	}

	if err := server.handleRequest(context.Background(), &Request{JSONRPC: "2.0", Method: "notifications/initialized"}); err != nil {
		t.Fatalf("handleRequest() error = %v", err)
	}
	if err := server.Notify("warning", "session", map[string]string{"event": "session_dropped"}); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}

	var n Request
	if err := json.Unmarshal(output.Bytes(), &n); err != nil {
		t.Fatalf("invalid notification: %v", err)
	}
	if n.Method != "notifications/message" || n.ID != nil {
		t.Errorf("unexpected notification %+v", n)
	}
	var params LogMessageParams
	_ = json.Unmarshal(n.Params, &params)
	if params.Level != "warning" || params.Logger != "session" {
		t.Errorf("unexpected params %+v", params)
	}
}

func TestCallToolResult(t *testing.T) {
	result := &CallToolResult{
		Content: []ContentBlock{
			TextContent("Hello"),
			ImageContent("image/png", "aGVsbG8="),
		},
	}

	raw, err := json.Marshal(result)
	if err != nil {
		t.Fatalf("Failed to marshal result: %v", err)
	}

	jsonStr := string(raw)
	if !strings.Contains(jsonStr, `"text":"Hello"`) {
		t.Error("Expected content to have text:Hello")
	}
	if !strings.Contains(jsonStr, `"mimeType":"image/png"`) {
		t.Error("Expected image content block")
	}
	if strings.Contains(jsonStr, "isError") {
		t.Error("isError should be omitted when false")
	}
}

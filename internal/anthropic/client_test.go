package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/anthropics/anthropic-sdk-go/option"

	"sheetpilot/engine/internal/llm"
)

func newTestClient(server *httptest.Server) *Client {
	return NewClient("sk-test",
		option.WithBaseURL(server.URL),
		option.WithHTTPClient(server.Client()),
		option.WithMaxRetries(0),
	)
}

const textReply = `{
	"id": "msg_1",
	"type": "message",
	"role": "assistant",
	"model": "claude-sonnet-4-5-20250901",
	"content": [{"type": "text", "text": "ok"}],
	"stop_reason": "end_turn",
	"usage": {"input_tokens": 1, "output_tokens": 1}
}`

func TestChatWithToolsHoistsSystemMessages(t *testing.T) {
	var payload map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Fatalf("read body: %v", err)
		}
		if err := json.Unmarshal(body, &payload); err != nil {
			t.Fatalf("unmarshal payload: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(textReply))
	}))
	defer server.Close()

	client := newTestClient(server)
	resp, err := client.ChatWithTools(context.Background(), "claude-sonnet-4-5-20250901", []llm.ChatMessage{
		{Role: llm.RoleSystem, Content: "Instructions"},
		{Role: llm.RoleUser, Content: "Hello"},
	}, nil)
	if err != nil {
		t.Fatalf("chat with tools: %v", err)
	}
	if resp.Content != "ok" {
		t.Fatalf("content = %q, want %q", resp.Content, "ok")
	}

	system, ok := payload["system"].([]any)
	if !ok || len(system) != 1 {
		t.Fatalf("payload.system = %#v", payload["system"])
	}
	messages, ok := payload["messages"].([]any)
	if !ok || len(messages) != 1 {
		t.Fatalf("payload.messages = %#v", payload["messages"])
	}
	first := messages[0].(map[string]any)
	if first["role"] != "user" {
		t.Fatalf("messages[0].role = %v", first["role"])
	}
}

func TestChatWithToolsParsesToolUseBlocks(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "msg_1",
			"type": "message",
			"role": "assistant",
			"model": "claude-sonnet-4-5-20250901",
			"content": [
				{"type": "tool_use", "id": "toolu_1", "name": "read_cell", "input": {"cellAddress": "A1"}}
			],
			"stop_reason": "tool_use",
			"usage": {"input_tokens": 1, "output_tokens": 1}
		}`))
	}))
	defer server.Close()

	client := newTestClient(server)
	resp, err := client.ChatWithTools(context.Background(), "claude-sonnet-4-5-20250901", []llm.ChatMessage{
		{Role: llm.RoleUser, Content: "read A1"},
	}, nil)
	if err != nil {
		t.Fatalf("chat with tools: %v", err)
	}
	if len(resp.ToolCalls) != 1 {
		t.Fatalf("tool calls = %d, want 1", len(resp.ToolCalls))
	}
	call := resp.ToolCalls[0]
	if call.ID != "toolu_1" || call.Name != "read_cell" {
		t.Fatalf("call = %+v", call)
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
		t.Fatalf("arguments not valid JSON: %q", call.Arguments)
	}
	if args["cellAddress"] != "A1" {
		t.Fatalf("arguments = %v", args)
	}
	if resp.FinishReason != "tool_calls" {
		t.Fatalf("finish reason = %q", resp.FinishReason)
	}
}

func TestChatWithToolsSendsToolSchema(t *testing.T) {
	var payload map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &payload); err != nil {
			t.Fatalf("unmarshal payload: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(textReply))
	}))
	defer server.Close()

	client := newTestClient(server)
	schema := json.RawMessage(`{"type":"object","properties":{"range":{"type":"string"}},"required":["range"]}`)
	_, err := client.ChatWithTools(context.Background(), "claude-sonnet-4-5-20250901", []llm.ChatMessage{
		{Role: llm.RoleUser, Content: "go"},
	}, []llm.Tool{{Name: "sort_data", Description: "Sort a range", Parameters: schema}})
	if err != nil {
		t.Fatalf("chat with tools: %v", err)
	}

	tools, ok := payload["tools"].([]any)
	if !ok || len(tools) != 1 {
		t.Fatalf("payload.tools = %#v", payload["tools"])
	}
	tool := tools[0].(map[string]any)
	if tool["name"] != "sort_data" {
		t.Fatalf("tool name = %v", tool["name"])
	}
	inputSchema := tool["input_schema"].(map[string]any)
	required, ok := inputSchema["required"].([]any)
	if !ok || len(required) != 1 || required[0] != "range" {
		t.Fatalf("input_schema.required = %#v", inputSchema["required"])
	}
}

func TestChatWithToolsMapsAuthFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"authentication_error","message":"invalid x-api-key"}}`))
	}))
	defer server.Close()

	client := newTestClient(server)
	_, err := client.ChatWithTools(context.Background(), "claude-sonnet-4-5-20250901", []llm.ChatMessage{
		{Role: llm.RoleUser, Content: "hi"},
	}, nil)
	if !errors.Is(err, llm.ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
}

func TestChatWithToolsMapsServerFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"overloaded_error","message":"overloaded"}}`))
	}))
	defer server.Close()

	client := newTestClient(server)
	_, err := client.ChatWithTools(context.Background(), "claude-sonnet-4-5-20250901", []llm.ChatMessage{
		{Role: llm.RoleUser, Content: "hi"},
	}, nil)
	if !errors.Is(err, llm.ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
}

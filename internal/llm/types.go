package llm

import "encoding/json"

// Roles used in transcripts sent to providers.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Tool describes one capability the model may invoke: a unique name, a
// human-readable description, and a JSON-schema object for its arguments.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// ToolCall is one invocation the model proposed in a single response.
// Arguments is the raw serialized argument object; it is parsed and
// validated at dispatch time, not here.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ChatMessage is one transcript entry in provider-neutral form. Assistant
// messages may carry tool calls; tool messages carry the result for the
// call identified by ToolCallID.
type ChatMessage struct {
	Role       string     `json:"role"`
	Content    string     `json:"content,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ChatResponse is a single provider turn: free text, or a batch of
// proposed tool calls to execute before the next turn.
type ChatResponse struct {
	Content      string     `json:"content"`
	ToolCalls    []ToolCall `json:"tool_calls,omitempty"`
	FinishReason string     `json:"finish_reason"`
}

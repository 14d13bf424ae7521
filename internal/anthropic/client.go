package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"sheetpilot/engine/internal/egress"
	"sheetpilot/engine/internal/llm"
)

const (
	requestTimeout   = 600 * time.Second
	defaultMaxTokens = 4096
)

// Client wraps the Anthropic SDK behind the engine's gateway contract.
// Bound to one API key; rebuilt by the engine on credential change.
type Client struct {
	client anthropic.Client
}

func NewClient(apiKey string, extra ...option.RequestOption) *Client {
	transport := egress.NewAllowlistRoundTripper(http.DefaultTransport, []string{"api.anthropic.com"})
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(&http.Client{Timeout: requestTimeout, Transport: transport}),
	}
	opts = append(opts, extra...)
	return &Client{client: anthropic.NewClient(opts...)}
}

func (c *Client) ValidateKey(ctx context.Context) error {
	_, err := c.client.Models.List(ctx, anthropic.ModelListParams{})
	if err != nil {
		return mapError(err)
	}
	return nil
}

func (c *Client) ChatWithTools(ctx context.Context, model string, messages []llm.ChatMessage, tools []llm.Tool) (llm.ChatResponse, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: defaultMaxTokens,
		System:    systemBlocks(messages),
		Messages:  convertMessages(messages),
	}
	if len(tools) > 0 {
		params.Tools = convertTools(tools)
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return llm.ChatResponse{}, mapError(err)
	}

	resp := convertResponse(msg)
	if resp.Content == "" && len(resp.ToolCalls) == 0 {
		return llm.ChatResponse{}, llm.ErrMalformed
	}
	return resp, nil
}

func systemBlocks(messages []llm.ChatMessage) []anthropic.TextBlockParam {
	var blocks []anthropic.TextBlockParam
	for _, msg := range messages {
		if msg.Role == llm.RoleSystem {
			blocks = append(blocks, anthropic.TextBlockParam{Text: msg.Content})
		}
	}
	return blocks
}

func convertMessages(messages []llm.ChatMessage) []anthropic.MessageParam {
	result := make([]anthropic.MessageParam, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case llm.RoleUser:
			result = append(result, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		case llm.RoleAssistant:
			if len(msg.ToolCalls) == 0 {
				result = append(result, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content)))
				continue
			}
			blocks := make([]anthropic.ContentBlockParamUnion, 0, len(msg.ToolCalls)+1)
			if msg.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			}
			for _, call := range msg.ToolCalls {
				blocks = append(blocks, anthropic.ContentBlockParamUnion{
					OfToolUse: &anthropic.ToolUseBlockParam{
						ID:    call.ID,
						Name:  call.Name,
						Input: json.RawMessage(call.Arguments),
					},
				})
			}
			result = append(result, anthropic.NewAssistantMessage(blocks...))
		case llm.RoleTool:
			result = append(result, anthropic.NewUserMessage(
				anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, false),
			))
		}
	}
	return result
}

func convertTools(tools []llm.Tool) []anthropic.ToolUnionParam {
	result := make([]anthropic.ToolUnionParam, len(tools))
	for i, tool := range tools {
		result[i] = anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        tool.Name,
				Description: anthropic.String(tool.Description),
				InputSchema: buildSchema(tool.Parameters),
			},
		}
	}
	return result
}

func buildSchema(raw json.RawMessage) anthropic.ToolInputSchemaParam {
	var schema map[string]any
	if err := json.Unmarshal(raw, &schema); err != nil {
		return anthropic.ToolInputSchemaParam{Type: "object"}
	}
	return anthropic.ToolInputSchemaParam{
		Type:       "object",
		Properties: schema["properties"],
		Required:   requiredFields(schema),
	}
}

func requiredFields(schema map[string]any) []string {
	raw, ok := schema["required"].([]any)
	if !ok {
		return nil
	}
	result := make([]string, 0, len(raw))
	for _, entry := range raw {
		if name, ok := entry.(string); ok {
			result = append(result, name)
		}
	}
	return result
}

func convertResponse(msg *anthropic.Message) llm.ChatResponse {
	var content string
	var calls []llm.ToolCall
	for _, block := range msg.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			content += b.Text
		case anthropic.ToolUseBlock:
			args, _ := b.Input.MarshalJSON()
			calls = append(calls, llm.ToolCall{
				ID:        b.ID,
				Name:      b.Name,
				Arguments: string(args),
			})
		}
	}
	finish := "stop"
	if len(calls) > 0 {
		finish = "tool_calls"
	}
	return llm.ChatResponse{Content: content, ToolCalls: calls, FinishReason: finish}
}

func mapError(err error) error {
	if errors.Is(err, llm.ErrEgressBlocked) {
		return llm.ErrEgressBlocked
	}
	var apierr *anthropic.Error
	if errors.As(err, &apierr) {
		switch apierr.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return llm.ErrUnauthorized
		case http.StatusTooManyRequests:
			return llm.ErrRateLimited
		case http.StatusBadRequest, http.StatusUnprocessableEntity:
			return llm.ErrMalformed
		}
		if apierr.StatusCode >= 500 {
			return llm.ErrUnavailable
		}
	}
	return err
}

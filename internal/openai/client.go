package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"
	"github.com/openai/openai-go/shared"

	"sheetpilot/engine/internal/egress"
	"sheetpilot/engine/internal/llm"
)

const requestTimeout = 600 * time.Second

// Client wraps the OpenAI SDK behind the engine's gateway contract. A
// Client is bound to one API key; the engine builds a fresh Client when
// the credential changes.
type Client struct {
	client openai.Client
}

func NewClient(apiKey string, extra ...option.RequestOption) *Client {
	transport := egress.NewAllowlistRoundTripper(http.DefaultTransport, []string{"api.openai.com"})
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(&http.Client{Timeout: requestTimeout, Transport: transport}),
	}
	opts = append(opts, extra...)
	return &Client{client: openai.NewClient(opts...)}
}

// ValidateKey performs a cheap authenticated call so a bad key is
// reported at configuration time instead of mid-conversation.
func (c *Client) ValidateKey(ctx context.Context) error {
	_, err := c.client.Models.List(ctx)
	if err != nil {
		return mapError(err)
	}
	return nil
}

// ChatWithTools submits the transcript plus the capability catalog and
// returns either free text or a batch of proposed tool calls.
func (c *Client) ChatWithTools(ctx context.Context, model string, messages []llm.ChatMessage, tools []llm.Tool) (llm.ChatResponse, error) {
	params := responses.ResponseNewParams{
		Model: shared.ResponsesModel(model),
		Input: responses.ResponseNewParamsInputUnion{
			OfInputItemList: convertMessages(messages),
		},
	}
	if len(tools) > 0 {
		params.Tools = convertTools(tools)
	}

	result, err := c.client.Responses.New(ctx, params)
	if err != nil {
		return llm.ChatResponse{}, mapError(err)
	}

	resp := llm.ChatResponse{
		Content:      result.OutputText(),
		ToolCalls:    extractToolCalls(result),
		FinishReason: "stop",
	}
	if len(resp.ToolCalls) > 0 {
		resp.FinishReason = "tool_calls"
	}
	if resp.Content == "" && len(resp.ToolCalls) == 0 {
		return llm.ChatResponse{}, llm.ErrMalformed
	}
	return resp, nil
}

func convertMessages(messages []llm.ChatMessage) responses.ResponseInputParam {
	items := make(responses.ResponseInputParam, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case llm.RoleSystem:
			items = append(items, responses.ResponseInputItemParamOfMessage(msg.Content, responses.EasyInputMessageRoleSystem))
		case llm.RoleUser:
			items = append(items, responses.ResponseInputItemParamOfMessage(msg.Content, responses.EasyInputMessageRoleUser))
		case llm.RoleAssistant:
			if msg.Content != "" {
				items = append(items, responses.ResponseInputItemParamOfMessage(msg.Content, responses.EasyInputMessageRoleAssistant))
			}
			for _, call := range msg.ToolCalls {
				items = append(items, responses.ResponseInputItemUnionParam{
					OfFunctionCall: &responses.ResponseFunctionToolCallParam{
						CallID:    call.ID,
						Name:      call.Name,
						Arguments: call.Arguments,
					},
				})
			}
		case llm.RoleTool:
			items = append(items, responses.ResponseInputItemParamOfFunctionCallOutput(msg.ToolCallID, msg.Content))
		}
	}
	return items
}

func convertTools(tools []llm.Tool) []responses.ToolUnionParam {
	result := make([]responses.ToolUnionParam, len(tools))
	for i, tool := range tools {
		var schema map[string]any
		if err := json.Unmarshal(tool.Parameters, &schema); err != nil {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		result[i] = responses.ToolParamOfFunction(tool.Name, schema, false)
		if tool.Description != "" {
			function := result[i].OfFunction
			function.Description = openai.String(tool.Description)
			result[i].OfFunction = function
		}
	}
	return result
}

func extractToolCalls(result *responses.Response) []llm.ToolCall {
	var calls []llm.ToolCall
	for _, item := range result.Output {
		if item.Type != "function_call" {
			continue
		}
		id := item.CallID
		if id == "" {
			id = item.ID
		}
		calls = append(calls, llm.ToolCall{
			ID:        id,
			Name:      item.Name,
			Arguments: item.Arguments,
		})
	}
	return calls
}

func mapError(err error) error {
	if errors.Is(err, llm.ErrEgressBlocked) {
		return llm.ErrEgressBlocked
	}
	var apierr *openai.Error
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

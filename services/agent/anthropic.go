package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"fraudchat/models"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicReasoner calls the Anthropic Messages API. Retries are handled by
// the Service, so the SDK's own retries are disabled.
type AnthropicReasoner struct {
	client    *anthropic.Client
	model     anthropic.Model
	maxTokens int64
}

func NewAnthropicReasoner(apiKey, model string, maxTokens int, opts ...option.RequestOption) *AnthropicReasoner {
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}, opts...)
	client := anthropic.NewClient(opts...)

	m := anthropic.Model(model)
	if model == "" {
		m = anthropic.ModelClaude4Sonnet20250514
	}
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	return &AnthropicReasoner{client: &client, model: m, maxTokens: int64(maxTokens)}
}

func (a *AnthropicReasoner) Generate(ctx context.Context, req Request) (*Response, error) {
	params := anthropic.MessageNewParams{
		Model:     a.model,
		MaxTokens: a.maxTokens,
		Messages:  convertToAnthropicMessages(req.Messages),
		Tools:     buildAnthropicToolSpecs(req.Tools),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	message, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return nil, classifyAnthropicError(err)
	}

	resp := &Response{Model: string(message.Model), StopReason: string(message.StopReason)}
	for _, block := range message.Content {
		switch block := block.AsAny().(type) {
		case anthropic.TextBlock:
			resp.Parts = append(resp.Parts, models.Part{Text: block.Text})
		case anthropic.ToolUseBlock:
			var arguments map[string]any
			inputJSON, _ := json.Marshal(block.Input)
			if err := json.Unmarshal(inputJSON, &arguments); err != nil {
				log.Printf("[WARN] Failed to decode input of tool call %s: %v", block.ID, err)
			}
			resp.Parts = append(resp.Parts, models.Part{ToolCall: &models.ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: arguments,
			}})
		}
	}

	return resp, nil
}

func classifyAnthropicError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return classifyStatus(apiErr.StatusCode, err)
	}

	// No response at all: connection reset, DNS, timeouts inside the client.
	if isTransportError(err) {
		return classifyStatus(0, fmt.Errorf("failed to call Anthropic API: %w", err))
	}
	return &ServiceError{Err: fmt.Errorf("failed to build Anthropic request: %w", err)}
}

func convertToAnthropicMessages(messages []models.AgentMessage) []anthropic.MessageParam {
	var anthropicMessages []anthropic.MessageParam

	for _, msg := range messages {
		switch msg.Role {
		case models.RoleUser:
			anthropicMessages = append(anthropicMessages, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Text())))
		case models.RoleAssistant:
			contentBlocks := []anthropic.ContentBlockParamUnion{}

			if text := msg.Text(); text != "" {
				contentBlocks = append(contentBlocks, anthropic.ContentBlockParamUnion{
					OfText: &anthropic.TextBlockParam{Text: text},
				})
			}

			for _, toolCall := range msg.ToolCalls() {
				input := toolCall.Arguments
				if input == nil {
					input = map[string]any{}
				}
				contentBlocks = append(contentBlocks, anthropic.ContentBlockParamUnion{
					OfToolUse: &anthropic.ToolUseBlockParam{
						ID:    toolCall.ID,
						Name:  toolCall.Name,
						Input: input,
					},
				})
			}

			anthropicMessages = append(anthropicMessages, anthropic.NewAssistantMessage(contentBlocks...))
		case models.RoleToolResult:
			// Tool results travel back as a user message of tool_result blocks
			toolResultBlocks := []anthropic.ContentBlockParamUnion{}
			for _, result := range msg.ToolResults() {
				block := &anthropic.ToolResultBlockParam{
					ToolUseID: result.ToolCallID,
					Content: []anthropic.ToolResultBlockParamContentUnion{
						{OfText: &anthropic.TextBlockParam{Text: result.Content}},
					},
				}
				if result.IsError {
					block.IsError = anthropic.Bool(true)
				}
				toolResultBlocks = append(toolResultBlocks, anthropic.ContentBlockParamUnion{OfToolResult: block})
			}
			anthropicMessages = append(anthropicMessages, anthropic.NewUserMessage(toolResultBlocks...))
		}
	}

	return anthropicMessages
}

func buildAnthropicToolSpecs(specs []ToolSpec) []anthropic.ToolUnionParam {
	var toolSpecs []anthropic.ToolUnionParam

	for _, spec := range specs {
		toolSpecs = append(toolSpecs, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        spec.Name,
				Description: anthropic.String(spec.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: spec.Schema.Properties,
					Required:   spec.Schema.Required,
				},
			},
		})
	}

	return toolSpecs
}

package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"

	"fraudchat/models"

	"github.com/google/uuid"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/openai"
)

// LangchainReasoner drives any langchaingo model that supports tool calls.
// It backs the OpenAI and Gemini providers.
type LangchainReasoner struct {
	llm       llms.Model
	maxTokens int
	// groupResults sends a batch of tool results as one message. OpenAI
	// accepts exactly one result per tool message; Gemini expects the whole
	// batch answered in a single turn.
	groupResults bool
}

func NewOpenAIReasoner(apiKey, model string, maxTokens int, opts ...openai.Option) (*LangchainReasoner, error) {
	if model == "" {
		model = "gpt-4o"
	}
	opts = append([]openai.Option{openai.WithToken(apiKey), openai.WithModel(model)}, opts...)
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OpenAI client: %w", err)
	}
	return &LangchainReasoner{llm: llm, maxTokens: maxTokens}, nil
}

func NewGeminiReasoner(ctx context.Context, apiKey, model string, maxTokens int) (*LangchainReasoner, error) {
	if model == "" {
		model = "gemini-2.5-flash"
	}
	llm, err := googleai.New(ctx, googleai.WithAPIKey(apiKey), googleai.WithDefaultModel(model))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return &LangchainReasoner{llm: llm, maxTokens: maxTokens, groupResults: true}, nil
}

func (l *LangchainReasoner) Generate(ctx context.Context, req Request) (*Response, error) {
	messageHistory := convertToLangchainMessages(req.System, req.Messages, l.groupResults)

	tools, err := buildLangchainTools(req.Tools)
	if err != nil {
		return nil, err
	}

	options := []llms.CallOption{llms.WithTools(tools)}
	if l.maxTokens > 0 {
		options = append(options, llms.WithMaxTokens(l.maxTokens))
	}

	resp, err := l.llm.GenerateContent(ctx, messageHistory, options...)
	if err != nil {
		return nil, classifyLangchainError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, classifyStatus(http.StatusBadGateway, errors.New("response has no choices"))
	}

	choice := resp.Choices[0]
	out := &Response{StopReason: choice.StopReason}
	if choice.Content != "" {
		out.Parts = append(out.Parts, models.Part{Text: choice.Content})
	}

	for _, toolCall := range choice.ToolCalls {
		if toolCall.FunctionCall == nil {
			continue
		}
		var arguments map[string]any
		if toolCall.FunctionCall.Arguments != "" {
			if err := json.Unmarshal([]byte(toolCall.FunctionCall.Arguments), &arguments); err != nil {
				log.Printf("[WARN] Failed to parse arguments of tool call %s: %v", toolCall.ID, err)
			}
		}
		// Gemini does not number its calls.
		id := toolCall.ID
		if id == "" {
			id = "call_" + uuid.NewString()
		}
		out.Parts = append(out.Parts, models.Part{ToolCall: &models.ToolCall{
			ID:        id,
			Name:      toolCall.FunctionCall.Name,
			Arguments: arguments,
		}})
	}

	return out, nil
}

// classifyLangchainError maps a langchaingo failure. The clients only report
// HTTP statuses in the error text; an error with neither a status nor a
// transport cause was raised before the request was sent and is final.
func classifyLangchainError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if status := statusFromMessage(err.Error()); status != 0 {
		return classifyStatus(status, err)
	}
	if isTransportError(err) {
		return classifyStatus(0, err)
	}
	return &ServiceError{Err: fmt.Errorf("reasoning request failed: %w", err)}
}

func convertToLangchainMessages(system string, messages []models.AgentMessage, groupResults bool) []llms.MessageContent {
	var messageHistory []llms.MessageContent

	if system != "" {
		messageHistory = append(messageHistory, llms.TextParts(llms.ChatMessageTypeSystem, system))
	}

	for _, msg := range messages {
		switch msg.Role {
		case models.RoleUser:
			messageHistory = append(messageHistory, llms.TextParts(llms.ChatMessageTypeHuman, msg.Text()))
		case models.RoleAssistant:
			content := llms.MessageContent{Role: llms.ChatMessageTypeAI}
			if text := msg.Text(); text != "" {
				content.Parts = append(content.Parts, llms.TextContent{Text: text})
			}
			for _, toolCall := range msg.ToolCalls() {
				arguments, _ := json.Marshal(toolCall.Arguments)
				content.Parts = append(content.Parts, llms.ToolCall{
					ID:   toolCall.ID,
					Type: "function",
					FunctionCall: &llms.FunctionCall{
						Name:      toolCall.Name,
						Arguments: string(arguments),
					},
				})
			}
			messageHistory = append(messageHistory, content)
		case models.RoleToolResult:
			content := llms.MessageContent{Role: llms.ChatMessageTypeTool}
			for _, result := range msg.ToolResults() {
				response := llms.ToolCallResponse{
					ToolCallID: result.ToolCallID,
					Name:       result.Name,
					Content:    result.Content,
				}
				if !groupResults {
					messageHistory = append(messageHistory, llms.MessageContent{
						Role:  llms.ChatMessageTypeTool,
						Parts: []llms.ContentPart{response},
					})
					continue
				}
				content.Parts = append(content.Parts, response)
			}
			if groupResults {
				messageHistory = append(messageHistory, content)
			}
		}
	}

	return messageHistory
}

// buildLangchainTools converts the catalog into function definitions. The
// schema goes through JSON so providers that expect a plain map get one.
func buildLangchainTools(specs []ToolSpec) ([]llms.Tool, error) {
	var tools []llms.Tool

	for _, spec := range specs {
		raw, err := json.Marshal(spec.Schema)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal schema for tool %s: %w", spec.Name, err)
		}
		var parameters map[string]any
		if err := json.Unmarshal(raw, &parameters); err != nil {
			return nil, fmt.Errorf("failed to decode schema for tool %s: %w", spec.Name, err)
		}
		delete(parameters, "$schema")

		tools = append(tools, llms.Tool{
			Type: "function",
			Function: &llms.FunctionDefinition{
				Name:        spec.Name,
				Description: spec.Description,
				Parameters:  parameters,
			},
		})
	}

	return tools, nil
}

package models

import "time"

const (
	RoleUser       = "user"
	RoleAssistant  = "assistant"
	RoleToolResult = "tool"
)

// AgentMessage is one entry of a session's history. Parts holds the ordered
// parts; a message is never modified once appended.
type AgentMessage struct {
	Role      string    `json:"role"`
	Parts     []Part    `json:"parts"`
	CreatedAt time.Time `json:"created_at"`
}

// Part is exactly one of text, tool call or tool result.
type Part struct {
	Text       string      `json:"text,omitempty"`
	ToolCall   *ToolCall   `json:"tool_call,omitempty"`
	ToolResult *ToolResult `json:"tool_result,omitempty"`
}

type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Name       string `json:"name"`
	Content    string `json:"content"`
	ChartID    string `json:"chart_id,omitempty"`
	IsError    bool   `json:"is_error,omitempty"`
}

func TextMessage(role, text string) AgentMessage {
	return AgentMessage{Role: role, Parts: []Part{{Text: text}}, CreatedAt: time.Now().UTC()}
}

// Text concatenates the text parts of the message.
func (m AgentMessage) Text() string {
	var out string
	for _, p := range m.Parts {
		out += p.Text
	}
	return out
}

func (m AgentMessage) ToolCalls() []ToolCall {
	var calls []ToolCall
	for _, p := range m.Parts {
		if p.ToolCall != nil {
			calls = append(calls, *p.ToolCall)
		}
	}
	return calls
}

func (m AgentMessage) ToolResults() []ToolResult {
	var results []ToolResult
	for _, p := range m.Parts {
		if p.ToolResult != nil {
			results = append(results, *p.ToolResult)
		}
	}
	return results
}

type CreateSessionResponse struct {
	SessionID string `json:"session_id"`
	Greeting  string `json:"greeting"`
	Source    string `json:"source"`
	Rows      int    `json:"rows"`
}

type AgentRequest struct {
	Text string `json:"text"`
}

type AgentResponse struct {
	Message    AgentMessage `json:"message"`
	HistoryLen int          `json:"history_len"`
}

type HistoryResponse struct {
	SessionID string         `json:"session_id"`
	Messages  []AgentMessage `json:"messages"`
}

type ErrorResponse struct {
	Error    string `json:"error"`
	Category string `json:"category,omitempty"`
}

// Package codewhisperer holds the request schema of the CodeWhisperer
// GenerateAssistantResponse operation.
package codewhisperer

import "encoding/json"

// Wire constants of the conversation-state schema.
const (
	OriginChat      = "CHAT"
	TriggerManual   = "MANUAL"
	StatusSuccess   = "Success"
	StatusError     = "Error"
	TargetGenerate  = "AmazonCodeWhispererStreamingService.GenerateAssistantResponse"
	ContentTypeJSON = "application/x-amz-json-1.0"
)

// GenerateAssistantResponseRequest is the upstream request body.
type GenerateAssistantResponseRequest struct {
	ConversationState ConversationState `json:"conversationState"`
	ProfileArn        string            `json:"profileArn,omitempty"`
}

// ConversationState is the full description of one chat turn.
type ConversationState struct {
	ConversationID  string        `json:"conversationId,omitempty"`
	CurrentMessage  ChatMessage   `json:"currentMessage"`
	ChatTriggerType string        `json:"chatTriggerType"`
	History         []ChatMessage `json:"history,omitempty"`
}

// ChatMessage carries exactly one of its two fields.
type ChatMessage struct {
	UserInputMessage         *UserInputMessage         `json:"userInputMessage,omitempty"`
	AssistantResponseMessage *AssistantResponseMessage `json:"assistantResponseMessage,omitempty"`
}

// UserMessage wraps a user input message.
func UserMessage(m UserInputMessage) ChatMessage {
	return ChatMessage{UserInputMessage: &m}
}

// AssistantMessage wraps an assistant response message.
func AssistantMessage(m AssistantResponseMessage) ChatMessage {
	return ChatMessage{AssistantResponseMessage: &m}
}

// UserInputMessage is a user turn.
type UserInputMessage struct {
	Content                 string                   `json:"content"`
	Origin                  string                   `json:"origin,omitempty"`
	UserInputMessageContext *UserInputMessageContext `json:"user_input_message_context,omitempty"`
	ModelID                 string                   `json:"model_id,omitempty"`
}

// UserInputMessageContext carries tools, tool results and environment state.
type UserInputMessageContext struct {
	EnvState    *EnvState    `json:"env_state,omitempty"`
	ToolResults []ToolResult `json:"tool_results,omitempty"`
	Tools       []Tool       `json:"tools,omitempty"`
}

// IsEmpty reports whether the context carries nothing.
func (c *UserInputMessageContext) IsEmpty() bool {
	return c == nil || (c.EnvState == nil && len(c.ToolResults) == 0 && len(c.Tools) == 0)
}

// EnvState describes the caller's environment.
type EnvState struct {
	OperatingSystem         string `json:"operating_system,omitempty"`
	CurrentWorkingDirectory string `json:"current_working_directory,omitempty"`
}

// AssistantResponseMessage is an assistant turn.
type AssistantResponseMessage struct {
	MessageID string    `json:"messageId,omitempty"`
	Content   string    `json:"content"`
	ToolUses  []ToolUse `json:"tool_uses,omitempty"`
}

// Tool wraps a tool specification.
type Tool struct {
	ToolSpecification ToolSpecification `json:"toolSpecification"`
}

// ToolSpecification describes a tool the model may invoke.
type ToolSpecification struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	InputSchema InputSchema `json:"input_schema"`
}

// InputSchema holds the JSON schema of a tool's input verbatim.
type InputSchema struct {
	JSON json.RawMessage `json:"json"`
}

// ToolUse is a tool invocation by the assistant.
type ToolUse struct {
	ToolUseID string          `json:"tool_use_id"`
	Name      string          `json:"name"`
	Input     json.RawMessage `json:"input"`
}

// ToolResult is the outcome of a tool invocation reported by the user.
type ToolResult struct {
	ToolUseID string                   `json:"tool_use_id"`
	Content   []ToolResultContentBlock `json:"content"`
	Status    string                   `json:"status"`
}

// ToolResultContentBlock carries either text or JSON.
type ToolResultContentBlock struct {
	Text string          `json:"text,omitempty"`
	JSON json.RawMessage `json:"json,omitempty"`
}

// Package convert translates between the OpenAI chat-completions protocol and
// the CodeWhisperer conversation-state protocol.
package convert

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"codewhisperer-proxy/internal/codewhisperer"
	"codewhisperer-proxy/pkg/models"
)

var (
	// ErrInvalidRequest wraps every error caused by the request itself.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrNoMessages is returned for requests without any non-system message.
	ErrNoMessages = fmt.Errorf("%w: at least one non-system message is required", ErrInvalidRequest)
)

var emptyObject = json.RawMessage(`{}`)

// ToUpstreamRequest builds the upstream request for req. conversationID, when
// set, continues an existing server-side conversation.
func ToUpstreamRequest(req *models.ChatCompletionRequest, conversationID string) (*codewhisperer.GenerateAssistantResponseRequest, error) {
	var (
		systemParts []string
		messages    []models.ChatMessage
	)
	for _, msg := range req.Messages {
		if msg.Role == models.RoleSystem {
			systemParts = append(systemParts, string(msg.Content))
			continue
		}
		messages = append(messages, msg)
	}
	if len(messages) == 0 {
		return nil, ErrNoMessages
	}
	systemPrompt := strings.Join(systemParts, "\n")

	var (
		history        []codewhisperer.ChatMessage
		pendingResults []codewhisperer.ToolResult
	)
	for _, msg := range messages[:len(messages)-1] {
		switch msg.Role {
		case models.RoleUser:
			history = append(history, codewhisperer.UserMessage(codewhisperer.UserInputMessage{
				Content: string(msg.Content),
				Origin:  codewhisperer.OriginChat,
			}))
		case models.RoleAssistant:
			toolUses, err := toToolUses(msg.ToolCalls)
			if err != nil {
				return nil, err
			}
			history = append(history, codewhisperer.AssistantMessage(codewhisperer.AssistantResponseMessage{
				Content:  string(msg.Content),
				ToolUses: toolUses,
			}))
		case models.RoleTool:
			pendingResults = append(pendingResults, toToolResult(msg))
		}
	}

	tools := toTools(req.Tools)
	current := messages[len(messages)-1]

	var user codewhisperer.UserInputMessage
	if current.Role == models.RoleTool {
		pendingResults = append(pendingResults, toToolResult(current))
		user = codewhisperer.UserInputMessage{
			Content: "",
			Origin:  codewhisperer.OriginChat,
			UserInputMessageContext: &codewhisperer.UserInputMessageContext{
				ToolResults: pendingResults,
				Tools:       tools,
			},
		}
	} else {
		content := string(current.Content)
		if current.Role == models.RoleUser && systemPrompt != "" {
			content = systemPrompt + "\n\n" + content
		}
		user = codewhisperer.UserInputMessage{
			Content: content,
			Origin:  codewhisperer.OriginChat,
		}
		if len(tools) > 0 || len(pendingResults) > 0 {
			user.UserInputMessageContext = &codewhisperer.UserInputMessageContext{
				ToolResults: pendingResults,
				Tools:       tools,
			}
		}
	}
	user.ModelID = req.Model

	return &codewhisperer.GenerateAssistantResponseRequest{
		ConversationState: codewhisperer.ConversationState{
			ConversationID:  conversationID,
			CurrentMessage:  codewhisperer.UserMessage(user),
			ChatTriggerType: codewhisperer.TriggerManual,
			History:         history,
		},
	}, nil
}

func toToolUses(calls []models.ToolCall) ([]codewhisperer.ToolUse, error) {
	if len(calls) == 0 {
		return nil, nil
	}
	uses := make([]codewhisperer.ToolUse, 0, len(calls))
	for _, call := range calls {
		input := json.RawMessage(bytes.TrimSpace([]byte(call.Function.Arguments)))
		if len(input) == 0 {
			input = emptyObject
		}
		if !json.Valid(input) {
			return nil, fmt.Errorf("%w: tool call %s: arguments are not valid JSON", ErrInvalidRequest, call.ID)
		}
		uses = append(uses, codewhisperer.ToolUse{
			ToolUseID: call.ID,
			Name:      call.Function.Name,
			Input:     input,
		})
	}
	return uses, nil
}

func toToolResult(msg models.ChatMessage) codewhisperer.ToolResult {
	return codewhisperer.ToolResult{
		ToolUseID: msg.ToolCallID,
		Content:   []codewhisperer.ToolResultContentBlock{{Text: string(msg.Content)}},
		Status:    codewhisperer.StatusSuccess,
	}
}

func toTools(tools []models.Tool) []codewhisperer.Tool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]codewhisperer.Tool, 0, len(tools))
	for _, tool := range tools {
		schema := tool.Function.Parameters
		if len(bytes.TrimSpace(schema)) == 0 || bytes.Equal(bytes.TrimSpace(schema), []byte("null")) {
			schema = emptyObject
		}
		out = append(out, codewhisperer.Tool{
			ToolSpecification: codewhisperer.ToolSpecification{
				Name:        tool.Function.Name,
				Description: tool.Function.Description,
				InputSchema: codewhisperer.InputSchema{JSON: schema},
			},
		})
	}
	return out
}

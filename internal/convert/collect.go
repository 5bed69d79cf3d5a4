package convert

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"time"

	"codewhisperer-proxy/internal/codewhisperer"
	"codewhisperer-proxy/internal/eventstream"
	"codewhisperer-proxy/pkg/models"
)

// Result is a fully collected assistant turn.
type Result struct {
	Content        string
	ToolUses       []codewhisperer.ToolUse
	ConversationID string
	UtteranceID    string
}

type toolBuffer struct {
	name  string
	input strings.Builder
}

// Collect reads events to the end through a ChunkStream and assembles the
// turn. Tool-use fragments are buffered per id and parsed when their last
// fragment arrives; a tool use whose input is not valid JSON is dropped. Any
// invalid-state or exception event fails the whole turn.
func (c *Conversation) Collect(events eventstream.Decoder) (*Result, error) {
	var (
		content strings.Builder
		buffers = make(map[string]*toolBuffer)
		result  Result
	)

	stream := c.Stream(events, "", "")
	stream.onToolUse = func(ev eventstream.ToolUseEvent) {
		buf, ok := buffers[ev.ToolUseID]
		if !ok {
			buf = &toolBuffer{name: ev.Name}
			buffers[ev.ToolUseID] = buf
		}
		if buf.name == "" {
			buf.name = ev.Name
		}
		buf.input.WriteString(ev.Input)
		if !ev.Stop {
			return
		}
		delete(buffers, ev.ToolUseID)
		input := strings.TrimSpace(buf.input.String())
		if input == "" {
			input = "{}"
		}
		if !json.Valid([]byte(input)) {
			c.logger.Warn("dropping tool use with malformed input", "tool_use_id", ev.ToolUseID, "name", buf.name)
			return
		}
		result.ToolUses = append(result.ToolUses, codewhisperer.ToolUse{
			ToolUseID: ev.ToolUseID,
			Name:      buf.name,
			Input:     json.RawMessage(input),
		})
	}

	for {
		chunk, err := stream.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if delta := chunk.Choices[0].Delta; delta.Content != nil {
			content.WriteString(*delta.Content)
		}
	}

	for id := range buffers {
		c.logger.Debug("tool use never completed", "tool_use_id", id)
	}
	result.Content = content.String()
	result.ConversationID = stream.conversationID
	result.UtteranceID = stream.utteranceID
	return &result, nil
}

// BuildResponse renders a collected turn as a chat.completion object.
func BuildResponse(result *Result, model, requestID string) *models.ChatCompletionResponse {
	msg := models.ResponseMessage{Role: models.RoleAssistant}
	if result.Content != "" {
		msg.Content = models.StringPtr(result.Content)
	}
	for _, use := range result.ToolUses {
		msg.ToolCalls = append(msg.ToolCalls, models.ToolCall{
			ID:   use.ToolUseID,
			Type: "function",
			Function: models.FunctionCall{
				Name:      use.Name,
				Arguments: compactJSON(use.Input),
			},
		})
	}

	return &models.ChatCompletionResponse{
		ID:      requestID,
		Object:  models.ObjectChatCompletion,
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []models.Choice{{
			Index:        0,
			Message:      msg,
			FinishReason: models.FinishReasonStop,
		}},
	}
}

func compactJSON(raw json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}

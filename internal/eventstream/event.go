// Package eventstream decodes the CodeWhisperer streaming response into typed
// events. Two wire encodings are supported: newline-delimited "data: " records
// and the binary AWS event-stream framing.
package eventstream

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Event type discriminators as they appear on the wire.
const (
	TypeAssistantResponse = "assistantResponseEvent"
	TypeCode              = "codeEvent"
	TypeToolUse           = "toolUseEvent"
	TypeMessageMetadata   = "messageMetadataEvent"
	TypeInitialResponse   = "initial-response"
	TypeInvalidState      = "invalidStateEvent"
	TypeCitation          = "citationEvent"
	TypeFollowupPrompt    = "followupPromptEvent"
)

// ErrMalformedEvent is returned by ParseEvent when the event body is not the
// JSON object its type requires.
var ErrMalformedEvent = errors.New("malformed event")

// Event is one decoded upstream event. The set of implementations is closed;
// UnknownEvent carries discriminators this package does not know about.
type Event interface {
	EventType() string
}

// AssistantResponseEvent is a text delta.
type AssistantResponseEvent struct {
	Content string `json:"content"`
}

// CodeEvent is a code delta, rendered like text.
type CodeEvent struct {
	Content string `json:"content"`
}

// ToolUseEvent is one fragment of a tool invocation. Input fragments
// concatenate to a JSON document; Stop marks the last fragment.
type ToolUseEvent struct {
	ToolUseID string
	Name      string
	Input     string
	Stop      bool
}

// MessageMetadataEvent carries server-assigned identifiers.
type MessageMetadataEvent struct {
	ConversationID string
	UtteranceID    string
}

// InvalidStateEvent reports that the server rejected the conversation.
type InvalidStateEvent struct {
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

// CitationEvent is passed through undecoded.
type CitationEvent struct {
	Body json.RawMessage
}

// FollowupPromptEvent is passed through undecoded.
type FollowupPromptEvent struct {
	Body json.RawMessage
}

// ExceptionEvent is an exception or error frame of the binary encoding.
type ExceptionEvent struct {
	ExceptionType string
	Message       string
}

// UnknownEvent is an event whose discriminator is not recognised.
type UnknownEvent struct {
	Type string
	Body json.RawMessage
}

func (AssistantResponseEvent) EventType() string { return TypeAssistantResponse }
func (CodeEvent) EventType() string              { return TypeCode }
func (ToolUseEvent) EventType() string           { return TypeToolUse }
func (MessageMetadataEvent) EventType() string   { return TypeMessageMetadata }
func (InvalidStateEvent) EventType() string      { return TypeInvalidState }
func (CitationEvent) EventType() string          { return TypeCitation }
func (FollowupPromptEvent) EventType() string    { return TypeFollowupPrompt }
func (ExceptionEvent) EventType() string         { return "exception" }
func (e UnknownEvent) EventType() string         { return e.Type }

// UnmarshalJSON accepts both snake_case and camelCase field names.
func (e *ToolUseEvent) UnmarshalJSON(data []byte) error {
	var raw struct {
		ToolUseID      string `json:"tool_use_id"`
		ToolUseIDCamel string `json:"toolUseId"`
		Name           string `json:"name"`
		Input          string `json:"input"`
		Stop           bool   `json:"stop"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*e = ToolUseEvent{
		ToolUseID: firstNonEmpty(raw.ToolUseID, raw.ToolUseIDCamel),
		Name:      raw.Name,
		Input:     raw.Input,
		Stop:      raw.Stop,
	}
	return nil
}

// UnmarshalJSON accepts both snake_case and camelCase field names.
func (e *MessageMetadataEvent) UnmarshalJSON(data []byte) error {
	var raw struct {
		ConversationID      string `json:"conversation_id"`
		ConversationIDCamel string `json:"conversationId"`
		UtteranceID         string `json:"utterance_id"`
		UtteranceIDCamel    string `json:"utteranceId"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*e = MessageMetadataEvent{
		ConversationID: firstNonEmpty(raw.ConversationID, raw.ConversationIDCamel),
		UtteranceID:    firstNonEmpty(raw.UtteranceID, raw.UtteranceIDCamel),
	}
	return nil
}

// ParseEvent decodes an event body given its discriminator.
func ParseEvent(eventType string, body []byte) (Event, error) {
	switch eventType {
	case TypeAssistantResponse:
		return decodeAs[AssistantResponseEvent](eventType, body)
	case TypeCode:
		return decodeAs[CodeEvent](eventType, body)
	case TypeToolUse:
		return decodeAs[ToolUseEvent](eventType, body)
	case TypeMessageMetadata, TypeInitialResponse:
		return decodeAs[MessageMetadataEvent](eventType, body)
	case TypeInvalidState:
		return decodeAs[InvalidStateEvent](eventType, body)
	case TypeCitation:
		return CitationEvent{Body: cloneRaw(body)}, nil
	case TypeFollowupPrompt:
		return FollowupPromptEvent{Body: cloneRaw(body)}, nil
	default:
		return UnknownEvent{Type: eventType, Body: cloneRaw(body)}, nil
	}
}

// parseRecord decodes a textual record of the form {"<type>": {...}}.
func parseRecord(record []byte) (Event, error) {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(record, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if len(envelope) == 0 {
		return nil, fmt.Errorf("%w: empty record", ErrMalformedEvent)
	}
	for _, known := range []string{
		TypeAssistantResponse, TypeCode, TypeToolUse, TypeMessageMetadata,
		TypeInvalidState, TypeCitation, TypeFollowupPrompt,
	} {
		if body, ok := envelope[known]; ok {
			return ParseEvent(known, body)
		}
	}
	for key, body := range envelope {
		return ParseEvent(key, body)
	}
	return nil, nil
}

func decodeAs[T Event](eventType string, body []byte) (Event, error) {
	var ev T
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedEvent, eventType, err)
	}
	return ev, nil
}

func cloneRaw(body []byte) json.RawMessage {
	if len(body) == 0 {
		return nil
	}
	return append(json.RawMessage(nil), body...)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

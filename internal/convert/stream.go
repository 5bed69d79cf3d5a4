package convert

import (
	"errors"
	"io"
	"time"

	"codewhisperer-proxy/internal/eventstream"
	"codewhisperer-proxy/pkg/models"
)

// ChunkStream converts upstream events into OpenAI chunks, one event at a
// time. The first text chunk carries the assistant role; the last chunk
// always has an empty delta and finish reason "stop".
type ChunkStream struct {
	conv    *Conversation
	events  eventstream.Decoder
	id      string
	model   string
	created int64

	roleSent  bool
	toolIndex map[string]int
	pending   []*models.ChatCompletionChunk
	finished  bool

	// ids reported by metadata events during this turn
	conversationID string
	utteranceID    string

	// onToolUse sees every tool-use fragment after its chunks are queued.
	onToolUse func(eventstream.ToolUseEvent)
}

// Stream returns a ChunkStream reading from events. requestID becomes the
// chunk id.
func (c *Conversation) Stream(events eventstream.Decoder, model, requestID string) *ChunkStream {
	return &ChunkStream{
		conv:      c,
		events:    events,
		id:        requestID,
		model:     model,
		created:   time.Now().Unix(),
		toolIndex: make(map[string]int),
	}
}

// Next returns the next chunk, or io.EOF after the final chunk.
func (s *ChunkStream) Next() (*models.ChatCompletionChunk, error) {
	for len(s.pending) == 0 {
		if s.finished {
			return nil, io.EOF
		}
		ev, err := s.events.Next()
		if errors.Is(err, io.EOF) {
			s.finished = true
			s.push(models.ChunkDelta{}, models.StringPtr(models.FinishReasonStop))
			break
		}
		if err != nil {
			return nil, err
		}
		if err := s.handle(ev); err != nil {
			return nil, err
		}
	}

	chunk := s.pending[0]
	s.pending = s.pending[1:]
	return chunk, nil
}

// Close abandons the upstream response.
func (s *ChunkStream) Close() error {
	return s.events.Close()
}

func (s *ChunkStream) handle(ev eventstream.Event) error {
	switch ev := ev.(type) {
	case eventstream.AssistantResponseEvent:
		s.text(ev.Content)
	case eventstream.CodeEvent:
		s.text(ev.Content)
	case eventstream.ToolUseEvent:
		s.toolUse(ev)
		if s.onToolUse != nil {
			s.onToolUse(ev)
		}
	case eventstream.MessageMetadataEvent:
		s.conv.observe(ev)
		if ev.ConversationID != "" {
			s.conversationID = ev.ConversationID
		}
		if ev.UtteranceID != "" {
			s.utteranceID = ev.UtteranceID
		}
	case eventstream.InvalidStateEvent:
		return &InvalidStateError{Reason: ev.Reason, Message: ev.Message}
	case eventstream.ExceptionEvent:
		return &UpstreamExceptionError{Type: ev.ExceptionType, Message: ev.Message}
	}
	return nil
}

func (s *ChunkStream) text(content string) {
	if !s.roleSent {
		s.roleSent = true
		s.push(models.ChunkDelta{Role: models.RoleAssistant, Content: models.StringPtr("")}, nil)
	}
	s.push(models.ChunkDelta{Content: models.StringPtr(content)}, nil)
}

func (s *ChunkStream) toolUse(ev eventstream.ToolUseEvent) {
	index, seen := s.toolIndex[ev.ToolUseID]
	if !seen {
		index = len(s.toolIndex)
		s.toolIndex[ev.ToolUseID] = index
		s.push(models.ChunkDelta{ToolCalls: []models.ToolCallDelta{{
			Index:    index,
			ID:       ev.ToolUseID,
			Type:     "function",
			Function: &models.FunctionDelta{Name: ev.Name},
		}}}, nil)
	}
	if ev.Input != "" {
		s.push(models.ChunkDelta{ToolCalls: []models.ToolCallDelta{{
			Index:    index,
			Function: &models.FunctionDelta{Arguments: ev.Input},
		}}}, nil)
	}
}

func (s *ChunkStream) push(delta models.ChunkDelta, finishReason *string) {
	s.pending = append(s.pending, &models.ChatCompletionChunk{
		ID:      s.id,
		Object:  models.ObjectChatCompletionChunk,
		Created: s.created,
		Model:   s.model,
		Choices: []models.ChunkChoice{{
			Index:        0,
			Delta:        delta,
			FinishReason: finishReason,
		}},
	})
}

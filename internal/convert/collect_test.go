package convert

import (
	"errors"
	"testing"

	"codewhisperer-proxy/internal/codewhisperer"
	"codewhisperer-proxy/internal/eventstream"
	"codewhisperer-proxy/pkg/models"
)

func TestCollect(t *testing.T) {
	conv := newTestConversation()
	result, err := conv.Collect(events(
		eventstream.MessageMetadataEvent{ConversationID: "conv-1"},
		eventstream.AssistantResponseEvent{Content: "Let me "},
		eventstream.ToolUseEvent{ToolUseID: "t1", Name: "calc", Input: `{"a":`},
		eventstream.CodeEvent{Content: "check."},
		eventstream.ToolUseEvent{ToolUseID: "t1", Input: `1}`, Stop: true},
		eventstream.ToolUseEvent{ToolUseID: "t2", Name: "broken", Input: `{"a":`, Stop: true},
		eventstream.ToolUseEvent{ToolUseID: "t3", Name: "unfinished", Input: `{}`},
		eventstream.MessageMetadataEvent{UtteranceID: "utt-1"},
	))
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}

	if result.Content != "Let me check." {
		t.Errorf("Content = %q", result.Content)
	}
	if len(result.ToolUses) != 1 {
		t.Fatalf("ToolUses = %+v, want exactly the completed valid one", result.ToolUses)
	}
	use := result.ToolUses[0]
	if use.ToolUseID != "t1" || use.Name != "calc" || !jsonEqual(t, use.Input, []byte(`{"a":1}`)) {
		t.Errorf("tool use = %+v", use)
	}
	if result.ConversationID != "conv-1" || result.UtteranceID != "utt-1" {
		t.Errorf("ids = %q, %q", result.ConversationID, result.UtteranceID)
	}
	if conv.ID() != "conv-1" {
		t.Errorf("conversation id not carried: %q", conv.ID())
	}
}

func TestCollectNeverStoppedYieldsNoToolUse(t *testing.T) {
	result, err := newTestConversation().Collect(events(
		eventstream.ToolUseEvent{ToolUseID: "t1", Name: "x", Input: `{"a":1}`},
	))
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	if len(result.ToolUses) != 0 {
		t.Errorf("ToolUses = %+v, want none", result.ToolUses)
	}
}

func TestCollectFatalEventsFailTurn(t *testing.T) {
	tests := []struct {
		name  string
		event eventstream.Event
		check func(error) bool
	}{
		{
			name:  "invalid state",
			event: eventstream.InvalidStateEvent{Reason: "R", Message: "M"},
			check: func(err error) bool {
				var target *InvalidStateError
				return errors.As(err, &target) && target.Reason == "R"
			},
		},
		{
			name:  "exception",
			event: eventstream.ExceptionEvent{ExceptionType: "ThrottlingException", Message: "slow"},
			check: func(err error) bool {
				var target *UpstreamExceptionError
				return errors.As(err, &target) && target.Type == "ThrottlingException"
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := newTestConversation().Collect(events(
				eventstream.AssistantResponseEvent{Content: "partial"},
				eventstream.ToolUseEvent{ToolUseID: "t1", Name: "x", Input: `{}`, Stop: true},
				tt.event,
			))
			if !tt.check(err) {
				t.Fatalf("Collect() error = %v", err)
			}
			if result != nil {
				t.Errorf("Collect() = %+v, want nil on failure", result)
			}
		})
	}
}

func TestCollectMatchesStream(t *testing.T) {
	input := []eventstream.Event{
		eventstream.MessageMetadataEvent{ConversationID: "conv-2", UtteranceID: "utt-2"},
		eventstream.AssistantResponseEvent{Content: "one "},
		eventstream.AssistantResponseEvent{},
		eventstream.CitationEvent{},
		eventstream.CodeEvent{Content: "two"},
		eventstream.UnknownEvent{Type: "futureEvent"},
	}

	chunks, err := collectChunks(t, newTestConversation().Stream(events(input...), "m", "id"))
	if err != nil {
		t.Fatalf("stream error = %v", err)
	}
	var streamed string
	for _, c := range chunks {
		if d := c.Choices[0].Delta.Content; d != nil {
			streamed += *d
		}
	}

	result, err := newTestConversation().Collect(events(input...))
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	if result.Content != streamed {
		t.Errorf("Collect() content = %q, want %q", result.Content, streamed)
	}
	if result.ConversationID != "conv-2" || result.UtteranceID != "utt-2" {
		t.Errorf("ids = %q, %q, want conv-2, utt-2", result.ConversationID, result.UtteranceID)
	}
}

func TestBuildResponse(t *testing.T) {
	t.Run("text", func(t *testing.T) {
		resp := BuildResponse(&Result{Content: "hi"}, "m", "chatcmpl-1")
		if resp.Object != models.ObjectChatCompletion || resp.ID != "chatcmpl-1" || resp.Model != "m" {
			t.Errorf("header = %+v", resp)
		}
		choice := resp.Choices[0]
		if choice.Message.Content == nil || *choice.Message.Content != "hi" || choice.FinishReason != models.FinishReasonStop {
			t.Errorf("choice = %+v", choice)
		}
	})

	t.Run("tool only", func(t *testing.T) {
		resp := BuildResponse(&Result{ToolUses: []codewhisperer.ToolUse{
			{ToolUseID: "t1", Name: "calc", Input: []byte("{ \"a\" : 1 }")},
		}}, "m", "id")
		msg := resp.Choices[0].Message
		if msg.Content != nil {
			t.Errorf("Content = %q, want null", *msg.Content)
		}
		if len(msg.ToolCalls) != 1 || msg.ToolCalls[0].Function.Arguments != `{"a":1}` || msg.ToolCalls[0].Type != "function" {
			t.Errorf("ToolCalls = %+v", msg.ToolCalls)
		}
	})
}

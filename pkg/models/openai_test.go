package models

import (
	"encoding/json"
	"testing"
)

func TestMessageContentUnmarshal(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    MessageContent
		wantErr bool
	}{
		{name: "string", input: `{"role":"user","content":"hello"}`, want: "hello"},
		{name: "null", input: `{"role":"assistant","content":null}`, want: ""},
		{name: "missing", input: `{"role":"assistant"}`, want: ""},
		{name: "parts", input: `{"role":"user","content":[{"type":"text","text":"a"},{"type":"image_url"},{"type":"text","text":"b"}]}`, want: "ab"},
		{name: "number", input: `{"role":"user","content":42}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var msg ChatMessage
			err := json.Unmarshal([]byte(tt.input), &msg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Unmarshal() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && msg.Content != tt.want {
				t.Errorf("Content = %q, want %q", msg.Content, tt.want)
			}
		})
	}
}

func TestChunkDeltaOmitsEmptyFields(t *testing.T) {
	stop := FinishReasonStop
	chunk := ChatCompletionChunk{
		ID:      "chatcmpl-1",
		Object:  ObjectChatCompletionChunk,
		Choices: []ChunkChoice{{Delta: ChunkDelta{}, FinishReason: &stop}},
	}
	data, err := json.Marshal(chunk)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	want := `{"id":"chatcmpl-1","object":"chat.completion.chunk","created":0,"model":"","choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}`
	if string(data) != want {
		t.Errorf("Marshal() = %s, want %s", data, want)
	}
}

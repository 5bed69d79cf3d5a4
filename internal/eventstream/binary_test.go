package eventstream

import (
	"bytes"
	"errors"
	"io"
	"reflect"
	"testing"
	"testing/iotest"

	awsstream "github.com/aws/aws-sdk-go-v2/aws/protocol/eventstream"
)

func eventFrame(t *testing.T, buf *bytes.Buffer, eventType, payload string) {
	t.Helper()
	var headers awsstream.Headers
	headers.Set(headerMessageType, awsstream.StringValue(messageTypeEvent))
	headers.Set(headerEventType, awsstream.StringValue(eventType))
	headers.Set(":content-type", awsstream.StringValue("application/json"))
	encode(t, buf, awsstream.Message{Headers: headers, Payload: []byte(payload)})
}

func encode(t *testing.T, buf *bytes.Buffer, msg awsstream.Message) {
	t.Helper()
	if err := awsstream.NewEncoder().Encode(buf, msg); err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
}

func TestBinaryDecoder(t *testing.T) {
	var buf bytes.Buffer
	eventFrame(t, &buf, TypeInitialResponse, `{"conversationId":"conv-1"}`)
	eventFrame(t, &buf, TypeAssistantResponse, `{"content":"Hel"}`)
	eventFrame(t, &buf, TypeAssistantResponse, `not json`)
	eventFrame(t, &buf, "futureEvent", `{}`)
	eventFrame(t, &buf, TypeToolUse, `{"tool_use_id":"t1","name":"run","input":"{\"a\":","stop":false}`)

	var exHeaders awsstream.Headers
	exHeaders.Set(headerMessageType, awsstream.StringValue(messageTypeException))
	exHeaders.Set(headerExceptionType, awsstream.StringValue("ThrottlingException"))
	encode(t, &buf, awsstream.Message{Headers: exHeaders, Payload: []byte(`{"message":"slow down"}`)})

	eventFrame(t, &buf, TypeAssistantResponse, `{"content":"lo"}`)

	want := []Event{
		MessageMetadataEvent{ConversationID: "conv-1"},
		AssistantResponseEvent{Content: "Hel"},
		UnknownEvent{Type: "futureEvent", Body: []byte(`{}`)},
		ToolUseEvent{ToolUseID: "t1", Name: "run", Input: `{"a":`},
		ExceptionEvent{ExceptionType: "ThrottlingException", Message: "slow down"},
		AssistantResponseEvent{Content: "lo"},
	}

	got := drain(t, NewBinaryDecoder(io.NopCloser(iotest.HalfReader(bytes.NewReader(buf.Bytes()))), discardLogger()))
	if !reflect.DeepEqual(got, want) {
		t.Errorf("events = %#v, want %#v", got, want)
	}
}

func TestBinaryDecoderTruncatedFrame(t *testing.T) {
	var buf bytes.Buffer
	eventFrame(t, &buf, TypeAssistantResponse, `{"content":"complete"}`)
	firstLen := buf.Len()
	eventFrame(t, &buf, TypeAssistantResponse, `{"content":"cut off"}`)
	secondLen := buf.Len() - firstLen

	tests := []struct {
		name string
		cut  int
	}{
		{name: "inside prelude", cut: secondLen - 6},
		{name: "inside headers", cut: secondLen - 20},
		{name: "inside payload", cut: 10},
		{name: "inside checksum", cut: 4},
		{name: "inside checksum one byte", cut: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			truncated := buf.Bytes()[:buf.Len()-tt.cut]
			d := NewBinaryDecoder(io.NopCloser(bytes.NewReader(truncated)), discardLogger())

			ev, err := d.Next()
			if err != nil {
				t.Fatalf("first Next() error = %v", err)
			}
			if ev != (AssistantResponseEvent{Content: "complete"}) {
				t.Errorf("first event = %#v", ev)
			}

			_, err = d.Next()
			if err == nil || errors.Is(err, io.EOF) {
				t.Fatalf("second Next() error = %v, want transport error", err)
			}
			if !errors.Is(err, io.ErrUnexpectedEOF) {
				t.Errorf("second Next() error = %v, want %v", err, io.ErrUnexpectedEOF)
			}
		})
	}
}

func TestBinaryDecoderCleanEnd(t *testing.T) {
	var buf bytes.Buffer
	eventFrame(t, &buf, TypeAssistantResponse, `{"content":"only"}`)

	d := NewBinaryDecoder(io.NopCloser(iotest.OneByteReader(bytes.NewReader(buf.Bytes()))), discardLogger())
	if _, err := d.Next(); err != nil {
		t.Fatalf("first Next() error = %v", err)
	}
	if _, err := d.Next(); !errors.Is(err, io.EOF) {
		t.Errorf("Next() at end error = %v, want io.EOF", err)
	}
}

func TestBinaryDecoderCorruptChecksum(t *testing.T) {
	var buf bytes.Buffer
	eventFrame(t, &buf, TypeAssistantResponse, `{"content":"x"}`)
	data := buf.Bytes()
	data[len(data)-1] ^= 0xff

	d := NewBinaryDecoder(io.NopCloser(bytes.NewReader(data)), discardLogger())
	if _, err := d.Next(); err == nil || errors.Is(err, io.EOF) {
		t.Fatalf("Next() error = %v, want checksum error", err)
	}
}

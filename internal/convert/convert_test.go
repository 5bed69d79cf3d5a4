package convert

import (
	"encoding/json"
	"io"
	"log/slog"
	"reflect"
	"testing"

	"codewhisperer-proxy/internal/eventstream"
)

type sliceDecoder struct {
	events []eventstream.Event
	err    error
	closed bool
}

func (d *sliceDecoder) Next() (eventstream.Event, error) {
	if len(d.events) == 0 {
		if d.err != nil {
			return nil, d.err
		}
		return nil, io.EOF
	}
	ev := d.events[0]
	d.events = d.events[1:]
	return ev, nil
}

func (d *sliceDecoder) Close() error {
	d.closed = true
	return nil
}

func events(evs ...eventstream.Event) *sliceDecoder {
	return &sliceDecoder{events: evs}
}

func newTestConversation() *Conversation {
	return NewConversation(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func jsonEqual(t *testing.T, a, b []byte) bool {
	t.Helper()
	var va, vb any
	if err := json.Unmarshal(a, &va); err != nil {
		t.Fatalf("unmarshal %s: %v", a, err)
	}
	if err := json.Unmarshal(b, &vb); err != nil {
		t.Fatalf("unmarshal %s: %v", b, err)
	}
	return reflect.DeepEqual(va, vb)
}

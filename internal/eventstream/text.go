package eventstream

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
)

var (
	dataPrefix = []byte("data: ")
	doneMarker = []byte("[DONE]")
)

// TextDecoder reads newline-delimited "data: " records. A record split across
// reads is held until its terminating newline arrives; a final record without
// a newline is decoded at end of input.
type TextDecoder struct {
	body   io.ReadCloser
	reader *bufio.Reader
	logger *slog.Logger
	done   bool
}

// NewTextDecoder returns a TextDecoder over body.
func NewTextDecoder(body io.ReadCloser, logger *slog.Logger) *TextDecoder {
	return &TextDecoder{
		body:   body,
		reader: bufio.NewReader(body),
		logger: logger,
	}
}

// Next returns the next decodable event. Malformed records are logged and
// skipped.
func (d *TextDecoder) Next() (Event, error) {
	for !d.done {
		line, err := d.reader.ReadBytes('\n')
		if err != nil {
			if !errors.Is(err, io.EOF) {
				return nil, fmt.Errorf("read event stream: %w", err)
			}
			d.done = true
		}

		ev, ok := d.decodeLine(line)
		if ok {
			return ev, nil
		}
	}
	return nil, io.EOF
}

func (d *TextDecoder) decodeLine(line []byte) (Event, bool) {
	line = bytes.TrimRight(line, "\r\n")
	if !bytes.HasPrefix(line, dataPrefix) {
		return nil, false
	}
	record := bytes.TrimSpace(line[len(dataPrefix):])
	if len(record) == 0 || bytes.Equal(record, doneMarker) {
		return nil, false
	}

	ev, err := parseRecord(record)
	if err != nil {
		d.logger.Warn("skipping malformed event record", "error", err, "record", string(record))
		return nil, false
	}
	if unknown, isUnknown := ev.(UnknownEvent); isUnknown {
		d.logger.Debug("unknown event type", "type", unknown.Type)
	}
	return ev, ev != nil
}

// Close closes the underlying body.
func (d *TextDecoder) Close() error {
	d.done = true
	return d.body.Close()
}

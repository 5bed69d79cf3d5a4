package eventstream

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	awsstream "github.com/aws/aws-sdk-go-v2/aws/protocol/eventstream"
)

// Header names and values of the binary framing.
const (
	headerMessageType   = ":message-type"
	headerEventType     = ":event-type"
	headerExceptionType = ":exception-type"
	headerErrorCode     = ":error-code"
	headerErrorMessage  = ":error-message"

	messageTypeEvent     = "event"
	messageTypeException = "exception"
	messageTypeError     = "error"
)

// BinaryDecoder reads length-prefixed, CRC-checked event-stream frames.
// Exception frames are surfaced as ExceptionEvent and decoding continues.
type BinaryDecoder struct {
	body    io.ReadCloser
	reader  *countingReader
	decoder *awsstream.Decoder
	logger  *slog.Logger
	done    bool
}

// NewBinaryDecoder returns a BinaryDecoder over body.
func NewBinaryDecoder(body io.ReadCloser, logger *slog.Logger) *BinaryDecoder {
	return &BinaryDecoder{
		body:    body,
		reader:  &countingReader{r: body},
		decoder: awsstream.NewDecoder(),
		logger:  logger,
	}
}

// Next returns the next event. A truncated frame or checksum mismatch is a
// transport error.
func (d *BinaryDecoder) Next() (Event, error) {
	for !d.done {
		d.reader.n = 0
		msg, err := d.decoder.Decode(d.reader, nil)
		if err != nil {
			d.done = true
			if errors.Is(err, io.EOF) {
				// The decoder reports a frame cut short inside its payload or
				// checksum as a bare io.EOF.
				if d.reader.n == 0 {
					return nil, io.EOF
				}
				err = io.ErrUnexpectedEOF
			}
			return nil, fmt.Errorf("decode event frame: %w", err)
		}

		ev, ok := d.decodeMessage(msg)
		if ok {
			return ev, nil
		}
	}
	return nil, io.EOF
}

func (d *BinaryDecoder) decodeMessage(msg awsstream.Message) (Event, bool) {
	switch messageType := headerString(msg.Headers, headerMessageType); messageType {
	case messageTypeEvent:
		eventType := headerString(msg.Headers, headerEventType)
		ev, err := ParseEvent(eventType, msg.Payload)
		if err != nil {
			d.logger.Warn("skipping malformed event frame", "type", eventType, "error", err)
			return nil, false
		}
		if _, isUnknown := ev.(UnknownEvent); isUnknown {
			d.logger.Debug("unknown event type", "type", eventType)
		}
		return ev, true
	case messageTypeException:
		return ExceptionEvent{
			ExceptionType: headerString(msg.Headers, headerExceptionType),
			Message:       exceptionMessage(msg.Payload),
		}, true
	case messageTypeError:
		return ExceptionEvent{
			ExceptionType: headerString(msg.Headers, headerErrorCode),
			Message:       headerString(msg.Headers, headerErrorMessage),
		}, true
	default:
		d.logger.Debug("ignoring frame", "message_type", messageType)
		return nil, false
	}
}

// Close closes the underlying body.
func (d *BinaryDecoder) Close() error {
	d.done = true
	return d.body.Close()
}

// countingReader counts the bytes read since n was last reset.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

func headerString(headers awsstream.Headers, name string) string {
	v := headers.Get(name)
	if v == nil {
		return ""
	}
	return v.String()
}

func exceptionMessage(payload []byte) string {
	var body struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(payload, &body); err != nil || body.Message == "" {
		return string(payload)
	}
	return body.Message
}

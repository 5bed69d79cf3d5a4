package eventstream

import (
	"io"
	"log/slog"
	"mime"
	"strings"
)

// ContentTypeEventStream is the media type of the binary framing.
const ContentTypeEventStream = "application/vnd.amazon.eventstream"

// Decoder yields the events of one upstream response in arrival order.
// Next returns io.EOF once the body is exhausted. Close releases the body and
// may be called at any time to abandon the stream.
type Decoder interface {
	Next() (Event, error)
	Close() error
}

// NewDecoder picks the decoder for a response by its Content-Type.
func NewDecoder(contentType string, body io.ReadCloser, logger *slog.Logger) Decoder {
	if logger == nil {
		logger = slog.Default()
	}
	if isEventStream(contentType) {
		return NewBinaryDecoder(body, logger)
	}
	return NewTextDecoder(body, logger)
}

func isEventStream(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = contentType
	}
	return strings.EqualFold(strings.TrimSpace(mediaType), ContentTypeEventStream)
}

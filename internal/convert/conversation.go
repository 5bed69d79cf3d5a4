package convert

import (
	"log/slog"
	"sync"

	"codewhisperer-proxy/internal/codewhisperer"
	"codewhisperer-proxy/internal/eventstream"
	"codewhisperer-proxy/pkg/models"
)

// Conversation carries the server-assigned identifiers of one caller's
// conversation across chat turns.
type Conversation struct {
	logger *slog.Logger

	mu             sync.Mutex
	conversationID string
	utteranceID    string
}

// NewConversation returns an empty Conversation.
func NewConversation(logger *slog.Logger) *Conversation {
	if logger == nil {
		logger = slog.Default()
	}
	return &Conversation{logger: logger}
}

// ID returns the current conversation id, empty before the first reply.
func (c *Conversation) ID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conversationID
}

// UtteranceID returns the id of the last server utterance.
func (c *Conversation) UtteranceID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.utteranceID
}

// BuildRequest converts req, continuing this conversation.
func (c *Conversation) BuildRequest(req *models.ChatCompletionRequest) (*codewhisperer.GenerateAssistantResponseRequest, error) {
	return ToUpstreamRequest(req, c.ID())
}

func (c *Conversation) observe(ev eventstream.MessageMetadataEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ev.ConversationID != "" {
		c.conversationID = ev.ConversationID
	}
	if ev.UtteranceID != "" {
		c.utteranceID = ev.UtteranceID
	}
}

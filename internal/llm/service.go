package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"codewhisperer-proxy/internal/codewhisperer"
	"codewhisperer-proxy/internal/convert"
	"codewhisperer-proxy/internal/eventstream"
	"codewhisperer-proxy/pkg/models"
)

// maxErrorBody caps how much of an upstream error body is kept.
const maxErrorBody = 1 << 20

var (
	// ErrEmptyResponse is returned when the upstream reply has no body
	ErrEmptyResponse = errors.New("upstream returned an empty response")
)

// UpstreamError is a non-2xx reply from CodeWhisperer.
type UpstreamError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("API returned error: %s - %s", e.Status, e.Body)
}

// TokenSource supplies the upstream bearer token.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

// Service manages CodeWhisperer API interactions
type Service struct {
	config     *Config
	tokens     TokenSource
	httpClient *http.Client
	logger     *slog.Logger
}

// NewService creates a new upstream service. A nil config uses DefaultConfig.
func NewService(cfg *Config, tokens TokenSource, logger *slog.Logger) *Service {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = cfg.ResponseHeaderTimeout
	return &Service{
		config:     cfg,
		tokens:     tokens,
		httpClient: &http.Client{Transport: transport},
		logger:     logger,
	}
}

// GetConfig returns the service's configuration
func (s *Service) GetConfig() *Config {
	return s.config
}

// NewRequestID returns an OpenAI-style completion id.
func NewRequestID() string {
	return "chatcmpl-" + uuid.NewString()
}

// GenerateAssistantResponse sends req upstream and returns a decoder over the
// streamed reply. The caller must Close the decoder.
func (s *Service) GenerateAssistantResponse(ctx context.Context, req *codewhisperer.GenerateAssistantResponseRequest) (eventstream.Decoder, error) {
	token, err := s.tokens.AccessToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("get access token: %w", err)
	}
	if req.ProfileArn == "" {
		req.ProfileArn = s.config.ProfileARN
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.target(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", codewhisperer.ContentTypeJSON)
	httpReq.Header.Set("X-Amz-Target", codewhisperer.TargetGenerate)
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("Accept", "*/*")
	httpReq.Header.Set("amz-sdk-invocation-id", uuid.NewString())
	if s.config.UserAgent != "" {
		httpReq.Header.Set("User-Agent", s.config.UserAgent)
	}

	start := time.Now()
	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("upstream request failed: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		s.logger.Warn("upstream error", "status", resp.StatusCode, "duration", time.Since(start).String())
		return nil, &UpstreamError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       strings.TrimSpace(string(errBody)),
		}
	}
	if resp.Body == nil || resp.Body == http.NoBody {
		return nil, ErrEmptyResponse
	}

	contentType := resp.Header.Get("Content-Type")
	s.logger.Debug("upstream stream opened",
		"content_type", contentType,
		"request_id", resp.Header.Get("X-Amzn-Requestid"),
		"duration", time.Since(start).String(),
	)
	return eventstream.NewDecoder(contentType, resp.Body, s.logger), nil
}

// Stream runs one streaming chat turn for conv.
func (s *Service) Stream(ctx context.Context, conv *convert.Conversation, req *models.ChatCompletionRequest, requestID string) (*convert.ChunkStream, error) {
	upstreamReq, err := conv.BuildRequest(req)
	if err != nil {
		return nil, err
	}
	events, err := s.GenerateAssistantResponse(ctx, upstreamReq)
	if err != nil {
		return nil, err
	}
	return conv.Stream(events, req.Model, requestID), nil
}

// Complete runs one non-streaming chat turn for conv.
func (s *Service) Complete(ctx context.Context, conv *convert.Conversation, req *models.ChatCompletionRequest, requestID string) (*models.ChatCompletionResponse, error) {
	upstreamReq, err := conv.BuildRequest(req)
	if err != nil {
		return nil, err
	}
	events, err := s.GenerateAssistantResponse(ctx, upstreamReq)
	if err != nil {
		return nil, err
	}
	defer events.Close()

	result, err := conv.Collect(events)
	if err != nil {
		return nil, err
	}
	return convert.BuildResponse(result, req.Model, requestID), nil
}

func testPrompt(prompt string) *models.ChatCompletionRequest {
	return &models.ChatCompletionRequest{
		Model:    DefaultModelID,
		Messages: []models.ChatMessage{{Role: models.RoleUser, Content: models.MessageContent(prompt)}},
	}
}

// SubmitTestPrompt sends a one-off prompt and returns the full answer.
func (s *Service) SubmitTestPrompt(ctx context.Context, prompt string) (string, error) {
	resp, err := s.Complete(ctx, convert.NewConversation(s.logger), testPrompt(prompt), NewRequestID())
	if err != nil {
		return "", err
	}
	msg := resp.Choices[0].Message
	if msg.Content == nil {
		return "", nil
	}
	return *msg.Content, nil
}

// SubmitStreamingTestPrompt sends a one-off prompt and writes the answer to w
// as it arrives.
func (s *Service) SubmitStreamingTestPrompt(ctx context.Context, prompt string, w io.Writer) error {
	stream, err := s.Stream(ctx, convert.NewConversation(s.logger), testPrompt(prompt), NewRequestID())
	if err != nil {
		return err
	}
	defer stream.Close()

	for {
		chunk, err := stream.Next()
		if errors.Is(err, io.EOF) {
			_, err = fmt.Fprintln(w)
			return err
		}
		if err != nil {
			return err
		}
		delta := chunk.Choices[0].Delta
		if delta.Content != nil {
			fmt.Fprint(w, *delta.Content)
		}
		for _, call := range delta.ToolCalls {
			if call.Function != nil && call.Function.Name != "" {
				fmt.Fprintf(w, "\n[tool call %s: %s]\n", call.ID, call.Function.Name)
			}
		}
	}
}

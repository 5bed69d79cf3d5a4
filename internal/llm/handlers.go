package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"codewhisperer-proxy/internal/auth"
	"codewhisperer-proxy/internal/convert"
	"codewhisperer-proxy/internal/session"
	"codewhisperer-proxy/pkg/models"
)

// maxRequestBody caps the size of a chat request.
const maxRequestBody = 8 << 20

// Error types reported in OpenAI error bodies.
const (
	errTypeInvalidRequest = "invalid_request_error"
	errTypeAuthentication = "authentication_error"
	errTypeServer         = "server_error"
)

// StatusSource reports the upstream credential state for /status.
type StatusSource interface {
	GetStatus(ctx context.Context) string
	FlowState() auth.FlowState
}

// ServerState holds the state for the gateway's HTTP handlers
type ServerState struct {
	Service       *Service
	Conversations *session.Registry
	Auth          CallerAuth
	Status        StatusSource
	Logger        *slog.Logger
}

// NewServerState creates the handler state.
func NewServerState(service *Service, conversations *session.Registry, callerAuth CallerAuth, status StatusSource, logger *slog.Logger) *ServerState {
	if logger == nil {
		logger = slog.Default()
	}
	return &ServerState{
		Service:       service,
		Conversations: conversations,
		Auth:          callerAuth,
		Status:        status,
		Logger:        logger,
	}
}

// HandleChatCompletions serves POST /v1/chat/completions.
func (s *ServerState) HandleChatCompletions(w http.ResponseWriter, r *http.Request) {
	caller, err := s.resolveCaller(r)
	if err != nil {
		SetErrorResponseHeaders(w, err)
		writeError(w, http.StatusUnauthorized, errTypeAuthentication, err.Error())
		return
	}

	var req models.ChatCompletionRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errTypeInvalidRequest, "invalid request body: "+err.Error())
		return
	}
	if len(req.Messages) == 0 {
		writeError(w, http.StatusBadRequest, errTypeInvalidRequest, "messages must not be empty")
		return
	}
	if req.Model == "" {
		req.Model = DefaultModelID
	}

	conv := s.Conversations.Get(caller)
	requestID := NewRequestID()
	logger := s.Logger.With("request_id", requestID, "model", req.Model, "stream", req.Stream)

	if req.Stream {
		s.streamCompletion(w, r, logger, conv, &req, requestID)
		return
	}

	resp, err := s.Service.Complete(r.Context(), conv, &req, requestID)
	if err != nil {
		s.writeServiceError(w, logger, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *ServerState) streamCompletion(w http.ResponseWriter, r *http.Request, logger *slog.Logger, conv *convert.Conversation, req *models.ChatCompletionRequest, requestID string) {
	stream, err := s.Service.Stream(r.Context(), conv, req, requestID)
	if err != nil {
		s.writeServiceError(w, logger, err)
		return
	}
	defer stream.Close()

	flusher, _ := w.(http.Flusher)
	setSSEHeaders(w)
	w.WriteHeader(http.StatusOK)

	for {
		chunk, err := stream.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			logger.Error("stream failed", "error", err)
			writeSSE(w, flusher, models.ErrorResponse{Error: models.ErrorDetail{Message: err.Error(), Type: errTypeServer}})
			break
		}
		if err := writeSSE(w, flusher, chunk); err != nil {
			logger.Info("client disconnected", "error", err)
			return
		}
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
	if flusher != nil {
		flusher.Flush()
	}
}

func (s *ServerState) writeServiceError(w http.ResponseWriter, logger *slog.Logger, err error) {
	if errors.Is(err, convert.ErrInvalidRequest) {
		writeError(w, http.StatusBadRequest, errTypeInvalidRequest, err.Error())
		return
	}
	logger.Error("completion failed", "error", err)
	writeError(w, http.StatusInternalServerError, errTypeServer, err.Error())
}

// HandleListModels serves GET /v1/models.
func (s *ServerState) HandleListModels(w http.ResponseWriter, r *http.Request) {
	list := models.ModelList{Object: models.ObjectList}
	for _, m := range DefaultModels() {
		if m.Enabled {
			list.Data = append(list.Data, m.ToModel())
		}
	}
	writeJSON(w, http.StatusOK, list)
}

// HandleHealth serves GET /health.
func (s *ServerState) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleStatus serves GET /status with the upstream credential state.
func (s *ServerState) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if s.Status == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "unknown"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":     s.Status.GetStatus(r.Context()),
		"login_flow": s.Status.FlowState().String(),
	})
}

// RegisterHandlers registers the gateway handlers with a router
func (s *ServerState) RegisterHandlers(r *mux.Router) {
	r.HandleFunc("/v1/chat/completions", s.HandleChatCompletions).Methods(http.MethodPost)
	r.HandleFunc("/chat/completions", s.HandleChatCompletions).Methods(http.MethodPost)
	r.HandleFunc("/v1/models", s.HandleListModels).Methods(http.MethodGet)
	r.HandleFunc("/models", s.HandleListModels).Methods(http.MethodGet)
	r.HandleFunc("/health", s.HandleHealth).Methods(http.MethodGet)
	r.HandleFunc("/status", s.HandleStatus).Methods(http.MethodGet)
}

func setSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

func writeSSE(w http.ResponseWriter, flusher http.Flusher, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	if flusher != nil {
		flusher.Flush()
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, errType, message string) {
	writeJSON(w, status, models.ErrorResponse{Error: models.ErrorDetail{Message: message, Type: errType}})
}

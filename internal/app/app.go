package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"codewhisperer-proxy/internal/auth"
	"codewhisperer-proxy/internal/llm"
	"codewhisperer-proxy/pkg/models"
)

// loginTimeout bounds a device flow started over HTTP.
const loginTimeout = 15 * time.Minute

// Authenticator runs the upstream device authorization flow.
type Authenticator interface {
	Authenticate(ctx context.Context, out io.Writer) (*auth.Token, error)
	FlowState() auth.FlowState
}

// App represents the main application with its router and the upstream
// authenticator.
type App struct {
	Router *mux.Router
	Auth   Authenticator

	logger *slog.Logger

	mu           sync.Mutex
	loginRunning bool
}

// NewApp creates the application and mounts the gateway handlers of state.
// A nil authenticator disables POST /authenticate.
func NewApp(state *llm.ServerState, authenticator Authenticator, logger *slog.Logger) *App {
	if logger == nil {
		logger = slog.Default()
	}
	app := &App{
		Router: mux.NewRouter(),
		Auth:   authenticator,
		logger: logger,
	}

	app.Router.Use(app.recoveryMiddleware, app.loggingMiddleware)
	app.initializeRoutes(state)
	return app
}

func (a *App) initializeRoutes(state *llm.ServerState) {
	state.RegisterHandlers(a.Router)
	if a.Auth != nil {
		a.Router.HandleFunc("/authenticate", a.handleAuthenticate).Methods(http.MethodPost)
	}
	a.Router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
}

// Server returns an http.Server serving the router on addr.
func (a *App) Server(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           a.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// handleAuthenticate starts a device flow in the background and replies
// with the instructions for the user once they are known.
func (a *App) handleAuthenticate(w http.ResponseWriter, r *http.Request) {
	a.mu.Lock()
	if a.loginRunning {
		a.mu.Unlock()
		writeJSON(w, http.StatusConflict, map[string]string{
			"status":     "login already in progress",
			"login_flow": a.Auth.FlowState().String(),
		})
		return
	}
	a.loginRunning = true
	a.mu.Unlock()

	out := newInstructionBuffer()
	done := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), loginTimeout)
		defer cancel()
		_, err := a.Auth.Authenticate(ctx, out)
		if err != nil {
			a.logger.Warn("device login failed", "error", err)
		} else {
			a.logger.Info("device login completed")
		}

		a.mu.Lock()
		a.loginRunning = false
		a.mu.Unlock()
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "Authenticated"})
	case <-out.ready:
		writeJSON(w, http.StatusAccepted, map[string]string{
			"status":       "awaiting user action",
			"instructions": out.String(),
		})
	case <-r.Context().Done():
	}
}

// waitingMarker starts the last instruction line Authenticate prints
// before it begins polling.
var waitingMarker = []byte("Waiting for authorization")

// instructionBuffer collects the flow's user instructions and closes ready
// once the final instruction line has been written.
type instructionBuffer struct {
	mu    sync.Mutex
	buf   bytes.Buffer
	once  sync.Once
	ready chan struct{}
}

func newInstructionBuffer() *instructionBuffer {
	return &instructionBuffer{ready: make(chan struct{})}
}

func (b *instructionBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	n, err := b.buf.Write(p)
	b.mu.Unlock()
	if bytes.Contains(p, waitingMarker) {
		b.once.Do(func() { close(b.ready) })
	}
	return n, err
}

func (b *instructionBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// loggingMiddleware logs each request with method, path, status, and duration.
func (a *App) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(lrw, r)
		a.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", lrw.statusCode,
			"duration", time.Since(start).String(),
			"remote", r.RemoteAddr,
		)
	})
}

// recoveryMiddleware catches panics and returns a 500.
func (a *App) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				a.logger.Error("panic recovered", "error", rec, "stack", string(debug.Stack()))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// loggingResponseWriter captures the status code written by the handler.
type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

// Flush keeps server-sent events flowing through the wrapper.
func (lrw *loggingResponseWriter) Flush() {
	if f, ok := lrw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	errType := "server_error"
	if status < http.StatusInternalServerError {
		errType = "invalid_request_error"
	}
	writeJSON(w, status, models.ErrorResponse{Error: models.ErrorDetail{Message: message, Type: errType}})
}

// CodeWhisperer OpenAI gateway
//
// This application serves an OpenAI-compatible chat completions API backed by
// Amazon CodeWhisperer. It handles the SSO OIDC device login, token storage and
// refresh, and converts requests and streamed replies between the two formats.
//
// CLI Usage:
//
//	The application supports the following command-line flags:
//
//	--login
//	  Runs the device authorization flow and stores the resulting token.
//	  Example: ./cwproxy --login
//
//	--status
//	  Prints whether a valid upstream token is available.
//	  Example: ./cwproxy --status
//
//	--test="prompt"
//	  Streams the answer to a single prompt to stdout.
//	  Example: ./cwproxy --test="Write a Go function to reverse a string"
//
//	--issue-token="subject"
//	  Prints a gateway token for subject signed with GATEWAY_TOKEN_SECRET.
//	  Example: ./cwproxy --issue-token="alice"
//
//	--disable-auth
//	  Disables caller authorization, allowing all API requests without validation.
//	  Example: ./cwproxy --disable-auth
//
//	--port=8080
//	  Overrides the listen port.
//
// Environment Variables:
//   - VALID_API_KEYS: Comma-separated list of valid API keys for accessing this application
//   - GATEWAY_TOKEN_SECRET: Secret used to sign and verify gateway tokens
//   - DISABLE_AUTH: Set to "true" or "1" to disable API key verification
//   - PORT: Listen port (default 8080)
//   - LOG_LEVEL: debug, info, warn or error
//   - CW_REGION, CW_START_URL: OIDC region and identity center start URL
//   - CW_ENDPOINT, CW_OIDC_ENDPOINT: Upstream and OIDC endpoint overrides
//   - CW_PROFILE_ARN: Profile ARN sent with every request
//   - CW_STORE, CW_STORE_DSN: Credential store (file, sqlite or postgres) and its DSN
//   - CW_CONFIG_DIR, CW_CONFIG_FILE: Credential directory and YAML config file
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"codewhisperer-proxy/internal/app"
	"codewhisperer-proxy/internal/auth"
	"codewhisperer-proxy/internal/config"
	"codewhisperer-proxy/internal/llm"
	"codewhisperer-proxy/internal/logging"
	"codewhisperer-proxy/internal/session"
	"codewhisperer-proxy/internal/store"
)

// loadEnvFile loads environment variables from a .env file if present.
// It attempts to load from the current directory and parent directories
// up to the root directory.
func loadEnvFile(logger *slog.Logger) {
	if err := godotenv.Load(); err == nil {
		logger.Debug("loaded .env from current directory")
		return
	}

	workDir, err := os.Getwd()
	if err != nil {
		logger.Warn("could not determine current directory", "error", err)
		return
	}

	for dir := workDir; dir != filepath.Dir(dir); dir = filepath.Dir(dir) {
		envPath := filepath.Join(dir, ".env")
		if _, err := os.Stat(envPath); err == nil {
			if err := godotenv.Load(envPath); err == nil {
				logger.Debug("loaded .env", "path", envPath)
				return
			}
		}
	}

	logger.Debug("no .env file found, using existing environment")
}

func main() {
	bootLogger := logging.New(os.Stderr, os.Getenv(config.EnvLogLevel), false)
	loadEnvFile(bootLogger)

	login := flag.Bool("login", false, "Run the device authorization flow and store the token")
	status := flag.Bool("status", false, "Print the upstream authentication status")
	testPrompt := flag.String("test", "", "Stream the answer to a single prompt")
	issueToken := flag.String("issue-token", "", "Print a gateway token for the given subject")
	tokenLifetime := flag.Duration("token-lifetime", llm.TokenLifetime, "Lifetime of tokens printed by -issue-token")
	disableAuth := flag.Bool("disable-auth", false, "Disable caller authorization and accept all requests")
	port := flag.Int("port", 0, "Listen port (overrides PORT)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		bootLogger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	if *disableAuth {
		cfg.DisableAuth = true
	}
	if *port != 0 {
		cfg.Port = *port
	}

	logger := logging.New(os.Stderr, cfg.LogLevel, false)
	slog.SetDefault(logger)

	if *issueToken != "" {
		token, err := llm.CreateGatewayToken(*issueToken, cfg.GatewaySecret, *tokenLifetime)
		if err != nil {
			logger.Error("failed to issue gateway token", "error", err)
			os.Exit(1)
		}
		fmt.Println(token)
		return
	}

	credentials, err := store.Open(cfg.Store, cfg.StoreDSN, cfg.ConfigDir)
	if err != nil {
		logger.Error("failed to open credential store", "store", cfg.Store, "error", err)
		os.Exit(1)
	}
	manager := auth.NewManager(
		auth.NewSSOOIDC(cfg.Region, cfg.OIDCEndpoint, nil),
		credentials,
		auth.WithRegion(cfg.Region),
		auth.WithStartURL(cfg.StartURL),
		auth.WithLogger(logger),
	)
	service := llm.NewService(cfg.UpstreamConfig(), manager, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch {
	case *login:
		if _, err := manager.Authenticate(ctx, os.Stdout); err != nil {
			logger.Error("login failed", "error", err)
			os.Exit(1)
		}
		fmt.Println("Authenticated successfully")
		return
	case *status:
		fmt.Println(manager.GetStatus(ctx))
		return
	case *testPrompt != "":
		if err := service.SubmitStreamingTestPrompt(ctx, *testPrompt, os.Stdout); err != nil {
			logger.Error("test prompt failed", "error", err)
			os.Exit(1)
		}
		return
	}

	if manager.GetStatus(ctx) != "Authenticated" {
		logger.Warn("no valid upstream token; run with --login or POST /authenticate")
	}
	if cfg.DisableAuth {
		logger.Warn("caller authorization is disabled - all requests will be accepted")
	}

	conversations := session.NewRegistry(cfg.ConversationLimit, cfg.ConversationTTL, logger)
	state := llm.NewServerState(service, conversations, cfg.CallerAuth(), manager, logger)
	a := app.NewApp(state, manager, logger)
	server := a.Server(cfg.Addr())

	go func() {
		logger.Info("starting server", "addr", server.Addr, "region", cfg.Region, "store", cfg.Store)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("could not start server", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("error during server shutdown", "error", err)
	} else {
		logger.Info("server gracefully stopped")
	}
}

// Package main implements a CLI tool for testing the CodeWhisperer integration.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"codewhisperer-proxy/internal/auth"
	"codewhisperer-proxy/internal/config"
	"codewhisperer-proxy/internal/llm"
	"codewhisperer-proxy/internal/logging"
	"codewhisperer-proxy/internal/store"
)

func main() {
	prompt := flag.String("prompt", "Hello, what can you do?", "The prompt to send to CodeWhisperer")
	endpoint := flag.String("endpoint", "", "Upstream endpoint (overrides CW_ENDPOINT)")
	profileARN := flag.String("profile-arn", "", "Profile ARN (overrides CW_PROFILE_ARN)")
	debugToken := flag.Bool("debug-token", false, "Print token debugging information")
	noStream := flag.Bool("no-stream", false, "Wait for the full answer instead of streaming it")
	timeout := flag.Duration("timeout", 2*time.Minute, "Overall request timeout")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *endpoint != "" {
		cfg.Endpoint = *endpoint
	}
	if *profileARN != "" {
		cfg.ProfileARN = *profileARN
	}
	logger := logging.New(os.Stderr, cfg.LogLevel, false)

	credentials, err := store.Open(cfg.Store, cfg.StoreDSN, cfg.ConfigDir)
	if err != nil {
		log.Fatalf("Failed to open credential store: %v", err)
	}
	manager := auth.NewManager(
		auth.NewSSOOIDC(cfg.Region, cfg.OIDCEndpoint, nil),
		credentials,
		auth.WithRegion(cfg.Region),
		auth.WithStartURL(cfg.StartURL),
		auth.WithLogger(logger),
	)
	service := llm.NewService(cfg.UpstreamConfig(), manager, logger)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	fmt.Println("🚀 CodeWhisperer API Tester")
	fmt.Println("----------------------------")
	fmt.Printf("Prompt: %s\n", *prompt)
	fmt.Printf("Endpoint: %s\n", getOrDefault(service.GetConfig().Endpoint, llm.DefaultEndpoint))
	fmt.Printf("Region: %s\n", manager.Region())

	if *debugToken {
		DisplayTokenAnalysis(ctx, credentials, manager.Region(), time.Now())
	}

	fmt.Println("\nSending request to CodeWhisperer...")
	fmt.Println("----------------------------")
	if *noStream {
		response, err := service.SubmitTestPrompt(ctx, *prompt)
		if err != nil {
			log.Fatalf("Error: %v", err)
		}
		fmt.Println(response)
	} else if err := service.SubmitStreamingTestPrompt(ctx, *prompt, os.Stdout); err != nil {
		log.Fatalf("Error: %v", err)
	}
	fmt.Println("----------------------------")
}

// getOrDefault returns the value if non-empty, otherwise returns the default value
func getOrDefault(value, defaultValue string) string {
	if value == "" {
		return defaultValue
	}
	return value
}

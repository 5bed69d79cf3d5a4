package llm

import (
	"time"

	"codewhisperer-proxy/pkg/models"
)

const (
	// DefaultEndpoint is the CodeWhisperer streaming endpoint.
	DefaultEndpoint = "https://codewhisperer.us-east-1.amazonaws.com"
	// DefaultModelID is advertised by /v1/models.
	DefaultModelID = "codewhisperer"
	// DefaultUserAgent identifies the gateway upstream.
	DefaultUserAgent = "codewhisperer-proxy/1.0"
)

// Config contains the upstream settings of the Service.
type Config struct {
	// Endpoint is the base URL requests are POSTed to
	Endpoint string
	// ProfileARN is sent with every request when set
	ProfileARN string
	// UserAgent is sent as the User-Agent header
	UserAgent string
	// ResponseHeaderTimeout bounds the wait for the upstream response headers;
	// the body itself is bounded only by the request context
	ResponseHeaderTimeout time.Duration
}

// DefaultConfig returns a Config pointing at the public endpoint.
func DefaultConfig() *Config {
	return &Config{
		Endpoint:              DefaultEndpoint,
		UserAgent:             DefaultUserAgent,
		ResponseHeaderTimeout: 30 * time.Second,
	}
}

func (c *Config) target() string {
	if c.Endpoint == "" {
		return DefaultEndpoint
	}
	return c.Endpoint
}

// DefaultModels returns the models the gateway advertises. Requests may name
// any model; the name is forwarded upstream as the model id.
func DefaultModels() []models.LanguageModel {
	return []models.LanguageModel{
		{
			ID:       DefaultModelID,
			Name:     "CodeWhisperer",
			Provider: models.ProviderCodeWhisperer,
			Enabled:  true,
			Created:  1700000000,
		},
	}
}

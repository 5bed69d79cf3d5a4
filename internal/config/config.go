// Package config assembles the gateway settings from defaults, an optional
// YAML file and the environment. Command-line flags are applied on top by
// the caller.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"codewhisperer-proxy/internal/auth"
	"codewhisperer-proxy/internal/llm"
	"codewhisperer-proxy/pkg/utils"
)

// Environment variables read by Load.
const (
	EnvConfigFile        = "CW_CONFIG_FILE"
	EnvConfigDir         = "CW_CONFIG_DIR"
	EnvRegion            = "CW_REGION"
	EnvStartURL          = "CW_START_URL"
	EnvEndpoint          = "CW_ENDPOINT"
	EnvOIDCEndpoint      = "CW_OIDC_ENDPOINT"
	EnvProfileARN        = "CW_PROFILE_ARN"
	EnvStore             = "CW_STORE"
	EnvStoreDSN          = "CW_STORE_DSN"
	EnvConversationLimit = "CW_CONVERSATION_LIMIT"
	EnvConversationTTL   = "CW_CONVERSATION_TTL"
	EnvPort              = "PORT"
	EnvDisableAuth       = "DISABLE_AUTH"
	EnvAPIKeys           = "VALID_API_KEYS"
	EnvGatewaySecret     = "GATEWAY_TOKEN_SECRET"
	EnvLogLevel          = "LOG_LEVEL"
)

const (
	defaultConfigFileName = "config.yaml"
	defaultPort           = 8080
	defaultStore          = "file"
)

// Config holds every gateway setting.
type Config struct {
	Port        int
	LogLevel    string
	DisableAuth bool
	APIKeys     []string
	// GatewaySecret signs and verifies caller tokens
	GatewaySecret string

	Region       string
	StartURL     string
	OIDCEndpoint string

	Endpoint              string
	ProfileARN            string
	ResponseHeaderTimeout time.Duration

	// ConfigDir holds the credential files and the default config file
	ConfigDir string
	Store     string
	StoreDSN  string

	ConversationLimit int
	ConversationTTL   time.Duration
}

type fileConfig struct {
	Port                  int      `yaml:"port"`
	LogLevel              string   `yaml:"log_level"`
	DisableAuth           *bool    `yaml:"disable_auth"`
	APIKeys               []string `yaml:"api_keys"`
	GatewaySecret         string   `yaml:"gateway_token_secret"`
	Region                string   `yaml:"region"`
	StartURL              string   `yaml:"start_url"`
	OIDCEndpoint          string   `yaml:"oidc_endpoint"`
	Endpoint              string   `yaml:"endpoint"`
	ProfileARN            string   `yaml:"profile_arn"`
	ResponseHeaderTimeout string   `yaml:"response_header_timeout"`
	Store                 string   `yaml:"store"`
	StoreDSN              string   `yaml:"store_dsn"`
	ConversationLimit     int      `yaml:"conversation_limit"`
	ConversationTTL       string   `yaml:"conversation_ttl"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		Port:                  defaultPort,
		LogLevel:              "info",
		Region:                auth.DefaultRegion,
		StartURL:              auth.DefaultStartURL,
		Endpoint:              llm.DefaultEndpoint,
		ResponseHeaderTimeout: llm.DefaultConfig().ResponseHeaderTimeout,
		Store:                 defaultStore,
		ConversationLimit:     1024,
		ConversationTTL:       time.Hour,
	}
}

// Load returns the defaults overlaid with the config file, then the
// environment. An explicit CW_CONFIG_FILE must exist; the default
// <config dir>/config.yaml is optional.
func Load() (*Config, error) {
	cfg := Default()

	dir := os.Getenv(EnvConfigDir)
	if dir == "" {
		var err error
		if dir, err = utils.DefaultConfigDir(); err != nil {
			return nil, fmt.Errorf("resolve config dir: %w", err)
		}
	}
	cfg.ConfigDir = dir

	path, required := os.Getenv(EnvConfigFile), true
	if path == "" {
		path, required = filepath.Join(dir, defaultConfigFileName), false
	}
	if err := cfg.loadFile(path, required); err != nil {
		return nil, err
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) loadFile(path string, required bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !required {
			return nil
		}
		return fmt.Errorf("read config file %s: %w", path, err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("decode config file %s: %w", path, err)
	}
	return c.applyFile(fc)
}

func (c *Config) applyFile(fc fileConfig) error {
	setInt(&c.Port, fc.Port)
	setString(&c.LogLevel, fc.LogLevel)
	if fc.DisableAuth != nil {
		c.DisableAuth = *fc.DisableAuth
	}
	if len(fc.APIKeys) > 0 {
		c.APIKeys = fc.APIKeys
	}
	setString(&c.GatewaySecret, fc.GatewaySecret)
	setString(&c.Region, fc.Region)
	setString(&c.StartURL, fc.StartURL)
	setString(&c.OIDCEndpoint, fc.OIDCEndpoint)
	setString(&c.Endpoint, fc.Endpoint)
	setString(&c.ProfileARN, fc.ProfileARN)
	setString(&c.Store, fc.Store)
	setString(&c.StoreDSN, fc.StoreDSN)
	setInt(&c.ConversationLimit, fc.ConversationLimit)

	if err := setDuration(&c.ResponseHeaderTimeout, fc.ResponseHeaderTimeout); err != nil {
		return fmt.Errorf("response_header_timeout: %w", err)
	}
	if err := setDuration(&c.ConversationTTL, fc.ConversationTTL); err != nil {
		return fmt.Errorf("conversation_ttl: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Port = utils.GetEnvInt(EnvPort, c.Port)
	c.LogLevel = utils.GetEnvWithDefault(EnvLogLevel, c.LogLevel)
	c.DisableAuth = utils.GetEnvBool(EnvDisableAuth, c.DisableAuth)
	if keys := auth.ParseAPIKeys(os.Getenv(EnvAPIKeys)); len(keys) > 0 {
		c.APIKeys = keys
	}
	c.GatewaySecret = utils.GetEnvWithDefault(EnvGatewaySecret, c.GatewaySecret)
	c.Region = utils.GetEnvWithDefault(EnvRegion, c.Region)
	c.StartURL = utils.GetEnvWithDefault(EnvStartURL, c.StartURL)
	c.OIDCEndpoint = utils.GetEnvWithDefault(EnvOIDCEndpoint, c.OIDCEndpoint)
	c.Endpoint = utils.GetEnvWithDefault(EnvEndpoint, c.Endpoint)
	c.ProfileARN = utils.GetEnvWithDefault(EnvProfileARN, c.ProfileARN)
	c.Store = utils.GetEnvWithDefault(EnvStore, c.Store)
	c.StoreDSN = utils.GetEnvWithDefault(EnvStoreDSN, c.StoreDSN)
	c.ConversationLimit = utils.GetEnvInt(EnvConversationLimit, c.ConversationLimit)
	c.ConversationTTL = utils.GetEnvDuration(EnvConversationTTL, c.ConversationTTL)
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// UpstreamConfig returns the upstream service settings.
func (c *Config) UpstreamConfig() *llm.Config {
	cfg := llm.DefaultConfig()
	cfg.Endpoint = c.Endpoint
	cfg.ProfileARN = c.ProfileARN
	cfg.ResponseHeaderTimeout = c.ResponseHeaderTimeout
	return cfg
}

// CallerAuth returns the gateway caller authentication settings.
func (c *Config) CallerAuth() llm.CallerAuth {
	return llm.CallerAuth{
		Disabled: c.DisableAuth,
		APIKeys:  c.APIKeys,
		Secret:   c.GatewaySecret,
	}
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v string) error {
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return err
	}
	*dst = d
	return nil
}

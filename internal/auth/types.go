package auth

import (
	"context"
	"errors"
	"time"
)

// Defaults of the CodeWhisperer device-code login.
const (
	DefaultRegion   = "us-east-1"
	DefaultStartURL = "https://view.awsapps.com/start"
	ClientName      = "codewhisperer-openai-proxy"
	ClientType      = "public"
	FlowDeviceCode  = "DeviceCode"

	GrantTypeDeviceCode   = "urn:ietf:params:oauth:grant-type:device_code"
	GrantTypeRefreshToken = "refresh_token"

	// ExpiryMargin is how long before its expiry a credential is treated as
	// expired.
	ExpiryMargin = 60 * time.Second
	// SlowDownPenalty is added to the polling interval after a slow_down reply.
	SlowDownPenalty = 5 * time.Second
	// DefaultPollInterval is used when the server does not send an interval.
	DefaultPollInterval = 5 * time.Second
)

// DefaultScopes are requested for every client registration.
var DefaultScopes = []string{
	"codewhisperer:completions",
	"codewhisperer:analysis",
	"codewhisperer:conversations",
}

var (
	// ErrCredentialNotFound is returned by a CredentialStore when nothing is
	// stored.
	ErrCredentialNotFound = errors.New("credential not found")
	// ErrNoToken is returned when no usable access token is available.
	ErrNoToken = errors.New("no valid access token, run with -login first")

	// ErrAuthorizationPending means the user has not yet approved the device.
	ErrAuthorizationPending = errors.New("authorization pending")
	// ErrSlowDown means the client is polling too fast.
	ErrSlowDown = errors.New("slow down")
	// ErrDeviceCodeExpired is the server's expired_token reply.
	ErrDeviceCodeExpired = errors.New("device code expired")
	// ErrDeviceAuthorizationExpired ends a device flow whose code expired
	// before the user approved it.
	ErrDeviceAuthorizationExpired = errors.New("device authorization expired")
)

// Registration is an OIDC client registration.
type Registration struct {
	ClientID              string     `json:"client_id"`
	ClientSecret          string     `json:"client_secret"`
	ClientSecretExpiresAt *time.Time `json:"client_secret_expires_at,omitempty"`
	Region                string     `json:"region"`
	OAuthFlow             string     `json:"oauth_flow"`
	Scopes                []string   `json:"scopes,omitempty"`
}

// Usable reports whether the registration can be reused for region at now.
// A registration without an expiry is never reused.
func (r *Registration) Usable(region string, now time.Time) bool {
	if r == nil || r.ClientSecretExpiresAt == nil {
		return false
	}
	if r.Region != region {
		return false
	}
	return !expired(*r.ClientSecretExpiresAt, now)
}

// Token is a bearer token and the context it was issued in.
type Token struct {
	AccessToken  string    `json:"access_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	Region       string    `json:"region"`
	StartURL     string    `json:"start_url"`
	OAuthFlow    string    `json:"oauth_flow"`
	Scopes       []string  `json:"scopes,omitempty"`
}

// Expired reports whether the token is within ExpiryMargin of its expiry.
func (t *Token) Expired(now time.Time) bool {
	return expired(t.ExpiresAt, now)
}

func expired(expiresAt, now time.Time) bool {
	return !now.Add(ExpiryMargin).Before(expiresAt)
}

// DeviceAuthorization is the server's answer to a device authorization
// request.
type DeviceAuthorization struct {
	DeviceCode              string
	UserCode                string
	VerificationURI         string
	VerificationURIComplete string
	ExpiresIn               time.Duration
	Interval                time.Duration
}

// ClientRegistration is the raw result of a client registration.
type ClientRegistration struct {
	ClientID     string
	ClientSecret string
	ExpiresAt    time.Time
}

// TokenRequest is a token endpoint call for either grant type.
type TokenRequest struct {
	ClientID     string
	ClientSecret string
	GrantType    string
	DeviceCode   string
	RefreshToken string
}

// TokenResponse is the token endpoint's reply.
type TokenResponse struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    time.Duration
}

// DeviceAuthorizer is the OIDC service. CreateToken maps pending, slow-down
// and expired replies to ErrAuthorizationPending, ErrSlowDown and
// ErrDeviceCodeExpired.
type DeviceAuthorizer interface {
	RegisterClient(ctx context.Context, clientName, clientType string, scopes []string) (*ClientRegistration, error)
	StartDeviceAuthorization(ctx context.Context, clientID, clientSecret, startURL string) (*DeviceAuthorization, error)
	CreateToken(ctx context.Context, req TokenRequest) (*TokenResponse, error)
}

// CredentialStore persists the registration and the token. Load methods
// return ErrCredentialNotFound when nothing is stored. Deleting an absent
// token is not an error.
type CredentialStore interface {
	LoadRegistration(ctx context.Context) (*Registration, error)
	SaveRegistration(ctx context.Context, reg *Registration) error
	LoadToken(ctx context.Context) (*Token, error)
	SaveToken(ctx context.Context, tok *Token) error
	DeleteToken(ctx context.Context) error
}

// Package auth manages the CodeWhisperer bearer token: client registration,
// the OAuth device authorization flow, persistence and refresh. It also holds
// the helpers used to authenticate callers of the gateway itself.
package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"codewhisperer-proxy/pkg/utils"
)

// Manager obtains, persists, expires and refreshes the bearer token.
type Manager struct {
	oidc     DeviceAuthorizer
	store    CredentialStore
	region   string
	startURL string
	scopes   []string
	clock    Clock
	logger   *slog.Logger

	refreshGroup singleflight.Group

	mu        sync.Mutex
	flowState FlowState
}

// Option configures a Manager.
type Option func(*Manager)

// WithRegion sets the OIDC region.
func WithRegion(region string) Option {
	return func(m *Manager) {
		if region != "" {
			m.region = region
		}
	}
}

// WithStartURL sets the identity center start URL.
func WithStartURL(startURL string) Option {
	return func(m *Manager) {
		if startURL != "" {
			m.startURL = startURL
		}
	}
}

// WithClock replaces the wall clock.
func WithClock(clock Clock) Option {
	return func(m *Manager) { m.clock = clock }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// NewManager returns a Manager using oidc for the OAuth exchanges and store
// for persistence.
func NewManager(oidc DeviceAuthorizer, store CredentialStore, opts ...Option) *Manager {
	m := &Manager{
		oidc:     oidc,
		store:    store,
		region:   DefaultRegion,
		startURL: DefaultStartURL,
		scopes:   DefaultScopes,
		clock:    realClock{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Region returns the configured OIDC region.
func (m *Manager) Region() string {
	return m.region
}

// RegisterClient returns the stored registration if it is still usable for
// the configured region, otherwise registers a new client and stores it.
func (m *Manager) RegisterClient(ctx context.Context) (*Registration, error) {
	existing, err := m.usableRegistration(ctx)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	out, err := m.oidc.RegisterClient(ctx, ClientName, ClientType, m.scopes)
	if err != nil {
		return nil, fmt.Errorf("register client: %w", err)
	}
	expiresAt := out.ExpiresAt
	reg := &Registration{
		ClientID:              out.ClientID,
		ClientSecret:          out.ClientSecret,
		ClientSecretExpiresAt: &expiresAt,
		Region:                m.region,
		OAuthFlow:             FlowDeviceCode,
		Scopes:                m.scopes,
	}
	if err := m.store.SaveRegistration(ctx, reg); err != nil {
		return nil, fmt.Errorf("save registration: %w", err)
	}
	m.logger.Info("registered oidc client", "client_id", utils.MaskToken(reg.ClientID), "expires_at", expiresAt)
	return reg, nil
}

func (m *Manager) usableRegistration(ctx context.Context) (*Registration, error) {
	reg, err := m.store.LoadRegistration(ctx)
	if errors.Is(err, ErrCredentialNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load registration: %w", err)
	}
	if !reg.Usable(m.region, m.clock.Now()) {
		return nil, nil
	}
	return reg, nil
}

// StartDeviceAuthorization begins a device authorization for reg.
func (m *Manager) StartDeviceAuthorization(ctx context.Context, reg *Registration) (*DeviceAuthorization, error) {
	da, err := m.oidc.StartDeviceAuthorization(ctx, reg.ClientID, reg.ClientSecret, m.startURL)
	if err != nil {
		return nil, fmt.Errorf("start device authorization: %w", err)
	}
	return da, nil
}

// PollForToken makes one device-code token request. On success the token is
// stored and returned. Pending and slow-down replies are returned as
// ErrAuthorizationPending and ErrSlowDown.
func (m *Manager) PollForToken(ctx context.Context, reg *Registration, deviceCode string) (*Token, error) {
	resp, err := m.oidc.CreateToken(ctx, TokenRequest{
		ClientID:     reg.ClientID,
		ClientSecret: reg.ClientSecret,
		GrantType:    GrantTypeDeviceCode,
		DeviceCode:   deviceCode,
	})
	if err != nil {
		return nil, err
	}

	tok := &Token{
		AccessToken:  resp.AccessToken,
		ExpiresAt:    m.clock.Now().Add(resp.ExpiresIn),
		RefreshToken: resp.RefreshToken,
		Region:       m.region,
		StartURL:     m.startURL,
		OAuthFlow:    FlowDeviceCode,
		Scopes:       m.scopes,
	}
	if err := m.store.SaveToken(ctx, tok); err != nil {
		return nil, fmt.Errorf("save token: %w", err)
	}
	return tok, nil
}

// RefreshToken exchanges tok's refresh token for a new token. It returns
// (nil, nil) when tok cannot be refreshed; a token without a refresh token is
// deleted from the store in that case. A failed exchange deletes the stored
// token and returns the error.
func (m *Manager) RefreshToken(ctx context.Context, tok *Token) (*Token, error) {
	if tok.RefreshToken == "" {
		if err := m.store.DeleteToken(ctx); err != nil {
			return nil, fmt.Errorf("delete token: %w", err)
		}
		m.logger.Info("token expired without refresh token, removed")
		return nil, nil
	}

	reg, err := m.usableRegistration(ctx)
	if err != nil {
		return nil, err
	}
	if reg == nil || reg.OAuthFlow != tok.OAuthFlow {
		m.logger.Info("no usable registration for refresh")
		return nil, nil
	}

	resp, err := m.oidc.CreateToken(ctx, TokenRequest{
		ClientID:     reg.ClientID,
		ClientSecret: reg.ClientSecret,
		GrantType:    GrantTypeRefreshToken,
		RefreshToken: tok.RefreshToken,
	})
	if err != nil {
		if delErr := m.store.DeleteToken(ctx); delErr != nil {
			m.logger.Warn("failed to delete stale token", "error", delErr)
		}
		return nil, fmt.Errorf("refresh token: %w", err)
	}

	refreshed := &Token{
		AccessToken:  resp.AccessToken,
		ExpiresAt:    m.clock.Now().Add(resp.ExpiresIn),
		RefreshToken: resp.RefreshToken,
		Region:       tok.Region,
		StartURL:     tok.StartURL,
		OAuthFlow:    tok.OAuthFlow,
		Scopes:       tok.Scopes,
	}
	if refreshed.RefreshToken == "" {
		refreshed.RefreshToken = tok.RefreshToken
	}
	if err := m.store.SaveToken(ctx, refreshed); err != nil {
		return nil, fmt.Errorf("save token: %w", err)
	}
	m.logger.Info("refreshed access token", "expires_at", refreshed.ExpiresAt)
	return refreshed, nil
}

// GetValidToken returns the stored token, refreshing it when it is about to
// expire. It returns (nil, nil) when no usable token exists, including when a
// refresh attempt fails. Concurrent refreshes are collapsed into one.
func (m *Manager) GetValidToken(ctx context.Context) (*Token, error) {
	tok, err := m.store.LoadToken(ctx)
	if errors.Is(err, ErrCredentialNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load token: %w", err)
	}
	if !tok.Expired(m.clock.Now()) {
		return tok, nil
	}

	v, err, _ := m.refreshGroup.Do("refresh", func() (interface{}, error) {
		// Another caller may have refreshed while we waited.
		current, err := m.store.LoadToken(ctx)
		if err == nil && !current.Expired(m.clock.Now()) {
			return current, nil
		}
		if err == nil {
			tok = current
		}
		return m.RefreshToken(ctx, tok)
	})
	if err != nil {
		m.logger.Warn("token refresh failed", "error", err)
		return nil, nil
	}
	refreshed, _ := v.(*Token)
	return refreshed, nil
}

// AccessToken returns a bearer string for the upstream service.
func (m *Manager) AccessToken(ctx context.Context) (string, error) {
	tok, err := m.GetValidToken(ctx)
	if err != nil {
		return "", err
	}
	if tok == nil {
		return "", ErrNoToken
	}
	return tok.AccessToken, nil
}

// Authenticate returns a valid token, running the device authorization flow
// when there is none. Instructions for the user are written to out.
func (m *Manager) Authenticate(ctx context.Context, out io.Writer) (*Token, error) {
	tok, err := m.GetValidToken(ctx)
	if err != nil {
		return nil, err
	}
	if tok != nil {
		return tok, nil
	}

	reg, err := m.RegisterClient(ctx)
	if err != nil {
		return nil, err
	}
	da, err := m.StartDeviceAuthorization(ctx, reg)
	if err != nil {
		return nil, err
	}

	fmt.Fprintf(out, "Open %s in your browser and enter the code: %s\n", da.VerificationURI, da.UserCode)
	if da.VerificationURIComplete != "" {
		fmt.Fprintf(out, "Or open this link directly: %s\n", da.VerificationURIComplete)
	}
	fmt.Fprintf(out, "Waiting for authorization (expires in %s)...\n", da.ExpiresIn.Round(time.Second))

	flow := newDeviceFlow(m.clock, m.logger, da, func(ctx context.Context) (*Token, error) {
		return m.PollForToken(ctx, reg, da.DeviceCode)
	}, m.setFlowState)
	return flow.run(ctx)
}

func (m *Manager) setFlowState(s FlowState) {
	m.mu.Lock()
	m.flowState = s
	m.mu.Unlock()
}

// FlowState returns the state of the most recent device flow.
func (m *Manager) FlowState() FlowState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flowState
}

// GetStatus reports whether a valid token is available.
func (m *Manager) GetStatus(ctx context.Context) string {
	tok, err := m.GetValidToken(ctx)
	if err != nil || tok == nil {
		return "Not Authenticated"
	}
	return "Authenticated"
}

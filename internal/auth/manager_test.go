package auth

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now
	c.mu.Unlock()
	ch := make(chan time.Time, 1)
	ch <- now
	return ch
}

type memStore struct {
	mu      sync.Mutex
	reg     *Registration
	tok     *Token
	deletes int
}

func (s *memStore) LoadRegistration(context.Context) (*Registration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reg == nil {
		return nil, ErrCredentialNotFound
	}
	reg := *s.reg
	return &reg, nil
}

func (s *memStore) SaveRegistration(_ context.Context, reg *Registration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *reg
	s.reg = &cp
	return nil
}

func (s *memStore) LoadToken(context.Context) (*Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tok == nil {
		return nil, ErrCredentialNotFound
	}
	tok := *s.tok
	return &tok, nil
}

func (s *memStore) SaveToken(_ context.Context, tok *Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *tok
	s.tok = &cp
	return nil
}

func (s *memStore) DeleteToken(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tok = nil
	s.deletes++
	return nil
}

type fakeOIDC struct {
	mu            sync.Mutex
	registrations int
	requests      []TokenRequest
	tokenReplies  []tokenReply
	refreshDelay  time.Duration
}

type tokenReply struct {
	resp *TokenResponse
	err  error
}

func (f *fakeOIDC) RegisterClient(_ context.Context, clientName, clientType string, scopes []string) (*ClientRegistration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registrations++
	return &ClientRegistration{
		ClientID:     fmt.Sprintf("client-%d", f.registrations),
		ClientSecret: "secret",
		ExpiresAt:    testNow.Add(90 * 24 * time.Hour),
	}, nil
}

func (f *fakeOIDC) StartDeviceAuthorization(_ context.Context, clientID, _, startURL string) (*DeviceAuthorization, error) {
	return &DeviceAuthorization{
		DeviceCode:              "device-code",
		UserCode:                "ABCD-EFGH",
		VerificationURI:         "https://device.sso.us-east-1.amazonaws.com/",
		VerificationURIComplete: "https://device.sso.us-east-1.amazonaws.com/?user_code=ABCD-EFGH",
		ExpiresIn:               30 * time.Second,
		Interval:                2 * time.Second,
	}, nil
}

func (f *fakeOIDC) CreateToken(_ context.Context, req TokenRequest) (*TokenResponse, error) {
	if f.refreshDelay > 0 {
		time.Sleep(f.refreshDelay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if len(f.tokenReplies) == 0 {
		return nil, ErrAuthorizationPending
	}
	reply := f.tokenReplies[0]
	if len(f.tokenReplies) > 1 {
		f.tokenReplies = f.tokenReplies[1:]
	}
	return reply.resp, reply.err
}

func (f *fakeOIDC) grants(grantType string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, r := range f.requests {
		if r.GrantType == grantType {
			n++
		}
	}
	return n
}

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestManager(oidc *fakeOIDC, store *memStore) (*Manager, *fakeClock) {
	clock := &fakeClock{now: testNow}
	m := NewManager(oidc, store,
		WithClock(clock),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	return m, clock
}

func validRegistration() *Registration {
	exp := testNow.Add(24 * time.Hour)
	return &Registration{
		ClientID:              "client-stored",
		ClientSecret:          "secret",
		ClientSecretExpiresAt: &exp,
		Region:                DefaultRegion,
		OAuthFlow:             FlowDeviceCode,
		Scopes:                DefaultScopes,
	}
}

func TestTokenExpired(t *testing.T) {
	tests := []struct {
		name      string
		expiresIn time.Duration
		want      bool
	}{
		{"far future", time.Hour, false},
		{"just outside margin", 61 * time.Second, false},
		{"exactly at margin", 60 * time.Second, true},
		{"inside margin", 30 * time.Second, true},
		{"past", -time.Minute, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tok := &Token{ExpiresAt: testNow.Add(tt.expiresIn)}
			if got := tok.Expired(testNow); got != tt.want {
				t.Errorf("Expired() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRegisterClient(t *testing.T) {
	expiredAt := testNow.Add(30 * time.Second)
	tests := []struct {
		name       string
		stored     *Registration
		wantReused bool
	}{
		{name: "nothing stored", stored: nil},
		{name: "valid stored", stored: validRegistration(), wantReused: true},
		{name: "other region", stored: func() *Registration {
			r := validRegistration()
			r.Region = "eu-west-1"
			return r
		}()},
		{name: "expiring", stored: func() *Registration {
			r := validRegistration()
			r.ClientSecretExpiresAt = &expiredAt
			return r
		}()},
		{name: "no expiry", stored: func() *Registration {
			r := validRegistration()
			r.ClientSecretExpiresAt = nil
			return r
		}()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			oidc := &fakeOIDC{}
			store := &memStore{reg: tt.stored}
			m, _ := newTestManager(oidc, store)

			reg, err := m.RegisterClient(context.Background())
			if err != nil {
				t.Fatalf("RegisterClient() error = %v", err)
			}
			if tt.wantReused {
				if reg.ClientID != "client-stored" || oidc.registrations != 0 {
					t.Errorf("expected stored registration to be reused, got %q after %d registrations", reg.ClientID, oidc.registrations)
				}
				return
			}
			if oidc.registrations != 1 {
				t.Errorf("registrations = %d, want 1", oidc.registrations)
			}
			if store.reg == nil || store.reg.ClientID != reg.ClientID || store.reg.Region != DefaultRegion {
				t.Errorf("stored registration = %+v, want %+v", store.reg, reg)
			}
		})
	}
}

func TestGetValidToken(t *testing.T) {
	t.Run("no token", func(t *testing.T) {
		m, _ := newTestManager(&fakeOIDC{}, &memStore{})
		tok, err := m.GetValidToken(context.Background())
		if err != nil || tok != nil {
			t.Errorf("GetValidToken() = %v, %v, want nil, nil", tok, err)
		}
	})

	t.Run("fresh token is not refreshed", func(t *testing.T) {
		oidc := &fakeOIDC{}
		store := &memStore{reg: validRegistration(), tok: &Token{AccessToken: "a", ExpiresAt: testNow.Add(10 * time.Minute), RefreshToken: "r", OAuthFlow: FlowDeviceCode}}
		m, _ := newTestManager(oidc, store)

		tok, err := m.GetValidToken(context.Background())
		if err != nil || tok == nil || tok.AccessToken != "a" {
			t.Fatalf("GetValidToken() = %v, %v", tok, err)
		}
		if n := oidc.grants(GrantTypeRefreshToken); n != 0 {
			t.Errorf("refresh calls = %d, want 0", n)
		}
	})

	t.Run("expiring token refreshed once", func(t *testing.T) {
		oidc := &fakeOIDC{
			refreshDelay: 20 * time.Millisecond,
			tokenReplies: []tokenReply{{resp: &TokenResponse{AccessToken: "b", ExpiresIn: time.Hour}}},
		}
		store := &memStore{reg: validRegistration(), tok: &Token{
			AccessToken:  "a",
			ExpiresAt:    testNow.Add(30 * time.Second),
			RefreshToken: "r",
			Region:       DefaultRegion,
			StartURL:     DefaultStartURL,
			OAuthFlow:    FlowDeviceCode,
			Scopes:       DefaultScopes,
		}}
		m, _ := newTestManager(oidc, store)

		var wg sync.WaitGroup
		results := make([]*Token, 8)
		for i := range results {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				results[i], _ = m.GetValidToken(context.Background())
			}(i)
		}
		wg.Wait()

		if n := oidc.grants(GrantTypeRefreshToken); n != 1 {
			t.Errorf("refresh calls = %d, want 1", n)
		}
		for i, tok := range results {
			if tok == nil || tok.AccessToken != "b" {
				t.Errorf("result %d = %+v, want access token b", i, tok)
			}
		}
		saved := store.tok
		if saved.RefreshToken != "r" {
			t.Errorf("RefreshToken = %q, want the previous refresh token kept", saved.RefreshToken)
		}
		if saved.StartURL != DefaultStartURL || saved.Region != DefaultRegion || saved.OAuthFlow != FlowDeviceCode {
			t.Errorf("refreshed token lost its context: %+v", saved)
		}
		if !saved.ExpiresAt.Equal(testNow.Add(time.Hour)) {
			t.Errorf("ExpiresAt = %v, want %v", saved.ExpiresAt, testNow.Add(time.Hour))
		}
	})

	t.Run("failed refresh degrades to no token", func(t *testing.T) {
		oidc := &fakeOIDC{tokenReplies: []tokenReply{{err: errors.New("invalid_grant")}}}
		store := &memStore{reg: validRegistration(), tok: &Token{AccessToken: "a", ExpiresAt: testNow, RefreshToken: "r", OAuthFlow: FlowDeviceCode}}
		m, _ := newTestManager(oidc, store)

		tok, err := m.GetValidToken(context.Background())
		if err != nil || tok != nil {
			t.Errorf("GetValidToken() = %v, %v, want nil, nil", tok, err)
		}
		if store.tok != nil {
			t.Error("stale token should have been deleted")
		}
	})
}

func TestRefreshToken(t *testing.T) {
	t.Run("without refresh token deletes", func(t *testing.T) {
		store := &memStore{reg: validRegistration(), tok: &Token{AccessToken: "a", ExpiresAt: testNow}}
		m, _ := newTestManager(&fakeOIDC{}, store)

		tok, err := m.RefreshToken(context.Background(), store.tok)
		if err != nil || tok != nil {
			t.Fatalf("RefreshToken() = %v, %v, want nil, nil", tok, err)
		}
		if store.tok != nil || store.deletes != 1 {
			t.Errorf("token not deleted: tok=%v deletes=%d", store.tok, store.deletes)
		}
	})

	t.Run("failure deletes and returns error", func(t *testing.T) {
		oidc := &fakeOIDC{tokenReplies: []tokenReply{{err: errors.New("boom")}}}
		store := &memStore{reg: validRegistration(), tok: &Token{AccessToken: "a", RefreshToken: "r", OAuthFlow: FlowDeviceCode}}
		m, _ := newTestManager(oidc, store)

		tok, err := m.RefreshToken(context.Background(), store.tok)
		if err == nil || tok != nil {
			t.Fatalf("RefreshToken() = %v, %v, want error", tok, err)
		}
		if store.tok != nil {
			t.Error("token should have been deleted")
		}
	})

	t.Run("flow mismatch", func(t *testing.T) {
		oidc := &fakeOIDC{}
		store := &memStore{reg: validRegistration(), tok: &Token{AccessToken: "a", RefreshToken: "r", OAuthFlow: "AuthCode"}}
		m, _ := newTestManager(oidc, store)

		tok, err := m.RefreshToken(context.Background(), store.tok)
		if err != nil || tok != nil {
			t.Fatalf("RefreshToken() = %v, %v, want nil, nil", tok, err)
		}
		if len(oidc.requests) != 0 {
			t.Errorf("token endpoint called %d times, want 0", len(oidc.requests))
		}
	})

	t.Run("new refresh token replaces old", func(t *testing.T) {
		oidc := &fakeOIDC{tokenReplies: []tokenReply{{resp: &TokenResponse{AccessToken: "b", RefreshToken: "r2", ExpiresIn: time.Hour}}}}
		store := &memStore{reg: validRegistration(), tok: &Token{AccessToken: "a", RefreshToken: "r", OAuthFlow: FlowDeviceCode}}
		m, _ := newTestManager(oidc, store)

		tok, err := m.RefreshToken(context.Background(), store.tok)
		if err != nil {
			t.Fatalf("RefreshToken() error = %v", err)
		}
		if tok.RefreshToken != "r2" || store.tok.RefreshToken != "r2" {
			t.Errorf("RefreshToken = %q, want r2", tok.RefreshToken)
		}
		if oidc.requests[0].RefreshToken != "r" || oidc.requests[0].ClientID != "client-stored" {
			t.Errorf("unexpected token request %+v", oidc.requests[0])
		}
	})
}

func TestAuthenticate(t *testing.T) {
	t.Run("pending then success", func(t *testing.T) {
		oidc := &fakeOIDC{tokenReplies: []tokenReply{
			{err: ErrAuthorizationPending},
			{err: ErrSlowDown},
			{resp: &TokenResponse{AccessToken: "fresh", RefreshToken: "r", ExpiresIn: 8 * time.Hour}},
		}}
		store := &memStore{}
		m, clock := newTestManager(oidc, store)

		var out bytes.Buffer
		tok, err := m.Authenticate(context.Background(), &out)
		if err != nil {
			t.Fatalf("Authenticate() error = %v", err)
		}
		if tok.AccessToken != "fresh" || store.tok == nil || store.tok.AccessToken != "fresh" {
			t.Errorf("token = %+v, stored = %+v", tok, store.tok)
		}
		if !strings.Contains(out.String(), "ABCD-EFGH") {
			t.Errorf("instructions missing user code: %q", out.String())
		}
		// 2s, 2s after pending, then 2s+5s after slow down.
		if elapsed := clock.Now().Sub(testNow); elapsed != 11*time.Second {
			t.Errorf("elapsed = %v, want 11s", elapsed)
		}
		if got := m.FlowState(); got != FlowSucceeded {
			t.Errorf("FlowState() = %v, want %v", got, FlowSucceeded)
		}
		if n := oidc.grants(GrantTypeDeviceCode); n != 3 {
			t.Errorf("device code polls = %d, want 3", n)
		}
	})

	t.Run("pending until expiry", func(t *testing.T) {
		oidc := &fakeOIDC{tokenReplies: []tokenReply{{err: ErrAuthorizationPending}}}
		m, _ := newTestManager(oidc, &memStore{})

		_, err := m.Authenticate(context.Background(), io.Discard)
		if !errors.Is(err, ErrDeviceAuthorizationExpired) {
			t.Fatalf("Authenticate() error = %v, want %v", err, ErrDeviceAuthorizationExpired)
		}
		if got := m.FlowState(); got != FlowExpired {
			t.Errorf("FlowState() = %v, want %v", got, FlowExpired)
		}
		if n := oidc.grants(GrantTypeDeviceCode); n != 15 {
			t.Errorf("device code polls = %d, want 15", n)
		}
	})

	t.Run("server expired token", func(t *testing.T) {
		oidc := &fakeOIDC{tokenReplies: []tokenReply{{err: ErrDeviceCodeExpired}}}
		m, _ := newTestManager(oidc, &memStore{})

		_, err := m.Authenticate(context.Background(), io.Discard)
		if !errors.Is(err, ErrDeviceAuthorizationExpired) {
			t.Fatalf("Authenticate() error = %v, want %v", err, ErrDeviceAuthorizationExpired)
		}
		if n := oidc.grants(GrantTypeDeviceCode); n != 1 {
			t.Errorf("device code polls = %d, want 1", n)
		}
	})

	t.Run("unexpected error fails", func(t *testing.T) {
		boom := errors.New("access_denied")
		oidc := &fakeOIDC{tokenReplies: []tokenReply{{err: boom}}}
		m, _ := newTestManager(oidc, &memStore{})

		_, err := m.Authenticate(context.Background(), io.Discard)
		if !errors.Is(err, boom) {
			t.Fatalf("Authenticate() error = %v, want %v", err, boom)
		}
		if got := m.FlowState(); got != FlowFailed {
			t.Errorf("FlowState() = %v, want %v", got, FlowFailed)
		}
	})

	t.Run("existing token skips flow", func(t *testing.T) {
		oidc := &fakeOIDC{}
		store := &memStore{tok: &Token{AccessToken: "a", ExpiresAt: testNow.Add(time.Hour)}}
		m, _ := newTestManager(oidc, store)

		tok, err := m.Authenticate(context.Background(), io.Discard)
		if err != nil || tok.AccessToken != "a" {
			t.Fatalf("Authenticate() = %v, %v", tok, err)
		}
		if oidc.registrations != 0 || len(oidc.requests) != 0 {
			t.Error("device flow should not have run")
		}
	})
}

func TestAccessToken(t *testing.T) {
	m, _ := newTestManager(&fakeOIDC{}, &memStore{})
	if _, err := m.AccessToken(context.Background()); !errors.Is(err, ErrNoToken) {
		t.Errorf("AccessToken() error = %v, want %v", err, ErrNoToken)
	}
	if got := m.GetStatus(context.Background()); got != "Not Authenticated" {
		t.Errorf("GetStatus() = %q, want %q", got, "Not Authenticated")
	}
}

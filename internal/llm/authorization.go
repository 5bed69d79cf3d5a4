package llm

import (
	"errors"
	"net/http"
	"strings"

	"codewhisperer-proxy/internal/auth"
)

// Authorization errors
var (
	ErrMissingCredential = errors.New("missing API key")
	ErrInvalidAPIKey     = errors.New("invalid API key")
)

// CallerAuth configures how gateway callers are authenticated.
type CallerAuth struct {
	// Disabled accepts every caller
	Disabled bool
	// APIKeys are the accepted static keys
	APIKeys []string
	// Secret verifies gateway tokens issued by CreateGatewayToken
	Secret string
}

func (a CallerAuth) open() bool {
	return a.Disabled || (len(a.APIKeys) == 0 && a.Secret == "")
}

// resolveCaller authenticates the request and returns the key of the
// caller's conversation. When no credential checks are configured the
// presented key, possibly empty, is used as is.
func (s *ServerState) resolveCaller(r *http.Request) (string, error) {
	credential := extractCredential(r)
	if s.Auth.open() {
		return credential, nil
	}
	if credential == "" {
		return "", ErrMissingCredential
	}

	if s.Auth.Secret != "" && strings.Count(credential, ".") == 2 {
		claims, err := ValidateGatewayToken(credential, s.Auth.Secret)
		if err == nil {
			return "sub:" + claims.Subject, nil
		}
		if errors.Is(err, ErrTokenExpired) || len(s.Auth.APIKeys) == 0 {
			return "", err
		}
	}

	if auth.VerifyAPIKey(credential, s.Auth.APIKeys) {
		return credential, nil
	}
	if len(s.Auth.APIKeys) == 0 {
		return "", ErrInvalidToken
	}
	return "", ErrInvalidAPIKey
}

// extractCredential reads the caller credential from the Authorization
// bearer header, falling back to X-Api-Key.
func extractCredential(r *http.Request) string {
	if rest, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		if key := strings.TrimSpace(rest); key != "" {
			return key
		}
	}
	return strings.TrimSpace(r.Header.Get("X-Api-Key"))
}

// SetErrorResponseHeaders sets the appropriate headers for error responses
func SetErrorResponseHeaders(w http.ResponseWriter, err error) {
	if errors.Is(err, ErrTokenExpired) {
		w.Header().Set("X-Gateway-Token-Expired", "true")
	}
}

package llm

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

const (
	// TokenLifetime defines how long gateway tokens are valid by default
	TokenLifetime = 24 * time.Hour
)

var (
	// ErrTokenExpired is returned when the token has expired
	ErrTokenExpired = errors.New("token expired")

	// ErrInvalidToken is returned when the token is invalid for any reason
	ErrInvalidToken = errors.New("invalid token")
)

// TokenClaims are the claims of a gateway token. The subject names the caller
// and selects its conversation.
type TokenClaims struct {
	jwt.RegisteredClaims
}

// CreateGatewayToken signs an HS256 token for subject. A zero lifetime uses
// TokenLifetime.
func CreateGatewayToken(subject, secret string, lifetime time.Duration) (string, error) {
	if subject == "" {
		return "", errors.New("subject is required")
	}
	if secret == "" {
		return "", errors.New("secret is required")
	}
	if lifetime <= 0 {
		lifetime = TokenLifetime
	}
	now := time.Now()

	claims := TokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(now.Add(lifetime)),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        now.Format(time.RFC3339Nano),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// ValidateGatewayToken validates and parses a gateway token
func ValidateGatewayToken(tokenString, secret string) (*TokenClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &TokenClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return []byte(secret), nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*TokenClaims)
	if !ok || !token.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

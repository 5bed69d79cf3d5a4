// Package utils provides small helpers for environment handling, file
// locations and log-safe rendering of secrets.
package utils

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// GetEnvWithDefault retrieves an environment variable or returns a default value if not set.
//
// Parameters:
//   - name: The name of the environment variable
//   - defaultValue: The default value to return if the environment variable is not set
//
// Returns the value of the environment variable, or the default value if not set.
func GetEnvWithDefault(name, defaultValue string) string {
	value := os.Getenv(name)
	if value == "" {
		return defaultValue
	}
	return value
}

// GetEnvBool reports whether an environment variable is set to "true" or "1".
// Unset variables yield defaultValue.
func GetEnvBool(name string, defaultValue bool) bool {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return defaultValue
	}
	return strings.EqualFold(value, "true") || value == "1"
}

// GetEnvInt parses an integer environment variable, falling back to
// defaultValue when unset or malformed.
func GetEnvInt(name string, defaultValue int) int {
	value := os.Getenv(name)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return n
}

// GetEnvDuration parses a duration environment variable such as "30s",
// falling back to defaultValue when unset or malformed.
func GetEnvDuration(name string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(name)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return d
}

// MaskToken returns a version of the token that is safe to log.
// It shows only the first and last four characters.
//
// Parameters:
//   - token: The secret to mask
//
// Returns the masked token, or "***" when it is too short to show any part.
func MaskToken(token string) string {
	if len(token) < 10 {
		return "***"
	}
	return token[:4] + "..." + token[len(token)-4:]
}

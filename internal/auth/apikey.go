package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"strings"
)

// VerifyAPIKey checks apiKey against the configured gateway keys.
//
// Parameters:
//   - apiKey: The key presented by the caller
//   - validKeys: The accepted keys; blank entries are ignored
//
// Returns:
//   - bool: true if apiKey matches one of validKeys
func VerifyAPIKey(apiKey string, validKeys []string) bool {
	if apiKey == "" {
		return false
	}
	for _, key := range validKeys {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		if subtle.ConstantTimeCompare([]byte(apiKey), []byte(key)) == 1 {
			return true
		}
	}
	return false
}

// ParseAPIKeys splits a comma-separated key list.
func ParseAPIKeys(list string) []string {
	var keys []string
	for _, key := range strings.Split(list, ",") {
		if key = strings.TrimSpace(key); key != "" {
			keys = append(keys, key)
		}
	}
	return keys
}

// HashAccessToken hashes a caller credential so it can be used as a map key
// without retaining the secret.
func HashAccessToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return "$sha256$" + base64.URLEncoding.EncodeToString(hash[:])
}

package auth

import (
	"reflect"
	"strings"
	"testing"
)

func TestVerifyAPIKey(t *testing.T) {
	tests := []struct {
		name      string
		apiKey    string
		validKeys []string
		expected  bool
	}{
		{name: "valid key", apiKey: "test-key", validKeys: []string{"test-key"}, expected: true},
		{name: "invalid key", apiKey: "invalid-key", validKeys: []string{"test-key"}, expected: false},
		{name: "multiple keys", apiKey: "key2", validKeys: []string{"key1", " key2 ", "key3"}, expected: true},
		{name: "no keys configured", apiKey: "test-key", validKeys: nil, expected: false},
		{name: "empty key", apiKey: "", validKeys: []string{"", "test-key"}, expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := VerifyAPIKey(tt.apiKey, tt.validKeys); got != tt.expected {
				t.Errorf("VerifyAPIKey() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestParseAPIKeys(t *testing.T) {
	got := ParseAPIKeys(" a, b ,,c ")
	want := []string{"a", "b", "c"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ParseAPIKeys() = %v, want %v", got, want)
	}
	if got := ParseAPIKeys(""); got != nil {
		t.Errorf("ParseAPIKeys(\"\") = %v, want nil", got)
	}
}

func TestHashAccessToken(t *testing.T) {
	token := "test-token"
	hash1 := HashAccessToken(token)
	hash2 := HashAccessToken(token)

	if hash1 != hash2 {
		t.Error("Same token should produce same hash")
	}
	if !strings.HasPrefix(hash1, "$sha256$") {
		t.Error("Hash should start with $sha256$")
	}
	if HashAccessToken("different-token") == hash1 {
		t.Error("Different tokens should produce different hashes")
	}
	if strings.Contains(hash1, token) {
		t.Error("Hash should not contain the token")
	}
}

// Package session keeps one conversation per gateway caller.
package session

import (
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"codewhisperer-proxy/internal/auth"
	"codewhisperer-proxy/internal/convert"
)

// DefaultCallerKey is used for callers that present no credential.
const DefaultCallerKey = "default"

// Registry maps caller keys to conversations. It is bounded: the least
// recently used entry is evicted when full, and entries expire ttl after
// they were created so a long-lived caller eventually starts afresh.
type Registry struct {
	mu     sync.Mutex
	cache  *expirable.LRU[string, *convert.Conversation]
	logger *slog.Logger
}

// NewRegistry returns a Registry holding at most size conversations.
func NewRegistry(size int, ttl time.Duration, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	if size <= 0 {
		size = 1024
	}
	onEvict := func(key string, _ *convert.Conversation) {
		logger.Debug("conversation evicted", "caller", key[:min(len(key), 16)])
	}
	return &Registry{
		cache:  expirable.NewLRU[string, *convert.Conversation](size, onEvict, ttl),
		logger: logger,
	}
}

// Get returns the conversation for callerKey, creating it on first use. The
// raw key is hashed before it is stored.
func (r *Registry) Get(callerKey string) *convert.Conversation {
	if callerKey == "" {
		callerKey = DefaultCallerKey
	}
	key := auth.HashAccessToken(callerKey)

	r.mu.Lock()
	defer r.mu.Unlock()
	if conv, ok := r.cache.Get(key); ok {
		return conv
	}
	conv := convert.NewConversation(r.logger)
	r.cache.Add(key, conv)
	return conv
}

// Len returns the number of live conversations.
func (r *Registry) Len() int {
	return r.cache.Len()
}

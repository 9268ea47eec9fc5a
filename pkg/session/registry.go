// Package session maps opaque tokens to authenticated identities.
package session

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Registry holds live sessions in memory. Sessions last until revoked or the
// process exits. One identity may hold many tokens at once.
//
// Every method takes the single registry lock for O(1) work only.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]string
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]string)}
}

// Create binds a fresh random token to identity and returns it.
func (r *Registry) Create(identity string) (string, error) {
	// Random v4 UUIDs come from crypto/rand.
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generate session token: %w", err)
	}
	token := id.String()

	r.mu.Lock()
	r.sessions[token] = identity
	r.mu.Unlock()

	return token, nil
}

// Lookup returns the identity bound to token.
func (r *Registry) Lookup(token string) (string, bool) {
	if token == "" {
		return "", false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	identity, ok := r.sessions[token]
	return identity, ok
}

// Revoke forgets token and reports whether it existed.
func (r *Registry) Revoke(token string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.sessions[token]
	delete(r.sessions, token)
	return ok
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

package rowservice

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// TokenStore issues opaque bearer tokens that expire after a fixed TTL.
// Tokens live in memory; restarting the service logs everyone out.
type TokenStore struct {
	ttl time.Duration
	now func() time.Time

	mu     sync.Mutex
	tokens map[string]tokenEntry
}

type tokenEntry struct {
	username string
	expires  time.Time
}

// NewTokenStore returns a store whose tokens are valid for ttl.
func NewTokenStore(ttl time.Duration) *TokenStore {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &TokenStore{
		ttl:    ttl,
		now:    time.Now,
		tokens: make(map[string]tokenEntry),
	}
}

// Issue creates a token for username.
func (s *TokenStore) Issue(username string) (string, time.Time) {
	token := uuid.NewString()
	expires := s.now().Add(s.ttl)

	s.mu.Lock()
	s.tokens[token] = tokenEntry{username: username, expires: expires}
	s.mu.Unlock()

	return token, expires
}

// Lookup returns the user a live token belongs to.
func (s *TokenStore) Lookup(token string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.tokens[token]
	if !ok {
		return "", false
	}
	if !s.now().Before(e.expires) {
		delete(s.tokens, token)
		return "", false
	}
	return e.username, true
}

// Revoke invalidates a token.
func (s *TokenStore) Revoke(token string) {
	s.mu.Lock()
	delete(s.tokens, token)
	s.mu.Unlock()
}

// Len returns the number of stored tokens, expired ones included until swept.
func (s *TokenStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tokens)
}

// Sweep removes expired tokens.
func (s *TokenStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for token, e := range s.tokens {
		if !now.Before(e.expires) {
			delete(s.tokens, token)
			removed++
		}
	}
	return removed
}

// RunSweeper sweeps every interval until ctx is done.
func (s *TokenStore) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

package account

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cardioscan/backend/internal/storage/models"
)

type Principal struct {
	Identity
	ExpiresAt time.Time
}

func (p Principal) IsAdmin() bool {
	return p.User.Role == models.RoleAdmin
}

// Sessions maps opaque bearer tokens to authenticated identities.
type Sessions struct {
	mu     sync.RWMutex
	tokens map[string]Principal
	ttl    time.Duration
	now    func() time.Time
}

func NewSessions(ttl time.Duration) *Sessions {
	return &Sessions{
		tokens: make(map[string]Principal),
		ttl:    ttl,
		now:    time.Now,
	}
}

func (s *Sessions) Issue(id Identity) string {
	token := uuid.NewString()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.tokens[token] = Principal{Identity: id, ExpiresAt: s.now().Add(s.ttl)}
	return token
}

func (s *Sessions) Lookup(token string) (Principal, bool) {
	s.mu.RLock()
	p, ok := s.tokens[token]
	s.mu.RUnlock()
	if !ok {
		return Principal{}, false
	}
	if !s.now().Before(p.ExpiresAt) {
		s.Revoke(token)
		return Principal{}, false
	}
	return p, true
}

func (s *Sessions) Revoke(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, token)
}

// RevokeUser drops every session held by email.
func (s *Sessions) RevokeUser(email string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for token, p := range s.tokens {
		if strings.EqualFold(p.User.Email, email) {
			delete(s.tokens, token)
			n++
		}
	}
	return n
}

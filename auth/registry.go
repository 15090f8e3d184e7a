package auth

import (
	"sync"
	"time"
)

// Registry tracks issued session ids so that logout can revoke a cookie
// before it expires.
type Registry struct {
	mu     sync.Mutex
	values map[string]time.Time
	now    func() time.Time
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		values: make(map[string]time.Time),
		now:    time.Now,
	}
}

// Register records id as valid until expiry.
func (s *Registry) Register(id string, expiry time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[id] = expiry
	s.evictExpiredLocked()
}

// Active reports whether id was registered, is not revoked and has not
// expired.
func (s *Registry) Active(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	expiry, ok := s.values[id]
	if !ok {
		return false
	}
	if s.now().After(expiry) {
		delete(s.values, id)
		return false
	}
	return true
}

// Revoke forgets id.
func (s *Registry) Revoke(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, id)
}

func (s *Registry) evictExpiredLocked() {
	now := s.now()
	for key, expiry := range s.values {
		if now.After(expiry) {
			delete(s.values, key)
		}
	}
}

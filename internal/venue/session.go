package venue

import (
	"sync"
	"time"
)

// SessionStatus tracks whether the venue session is usable.
type SessionStatus string

const (
	SessionUnauthenticated SessionStatus = "unauthenticated"
	SessionActive          SessionStatus = "active"
	SessionExpired         SessionStatus = "expired"
)

// Session is the authenticated state a venue holds against the brokerage.
// It is owned exclusively by the venue implementation and mutated only under
// its lock by (re-)authentication; tokens never leave this struct.
type Session struct {
	mu      sync.Mutex
	status  SessionStatus
	token   string
	expires time.Time
}

// Status returns the session status, demoting Active to Expired when the
// expiry has passed.
func (s *Session) Status() SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == SessionActive && !s.expires.IsZero() && time.Now().After(s.expires) {
		s.status = SessionExpired
	}
	if s.status == "" {
		return SessionUnauthenticated
	}
	return s.status
}

// Activate stores a fresh token and expiry.
func (s *Session) Activate(token string, expires time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = SessionActive
	s.token = token
	s.expires = expires
}

// Expire marks the session unusable, forcing the next call to re-authenticate.
func (s *Session) Expire() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = SessionExpired
	s.token = ""
}

// Token returns the current token, or "" when the session is not Active.
func (s *Session) Token() string {
	if s.Status() != SessionActive {
		return ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

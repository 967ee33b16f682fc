package auth

import (
	"errors"
	"strings"
)

// Common errors returned by the authentication subsystem.
var (
	ErrInvalidToken     = errors.New("invalid token")
	ErrMissingToken     = errors.New("missing bearer token")
	ErrPermissionDenied = errors.New("permission denied")
)

// Mode selects how bearer credentials are verified.
type Mode string

const (
	ModeDisabled Mode = "disabled"
	ModeJWT      Mode = "jwt"
	ModeToken    Mode = "token"
)

// Config configures the authentication service.
type Config struct {
	Mode   Mode
	JWT    JWTConfig
	Tokens []string
}

// JWTConfig configures HS256 token verification.
type JWTConfig struct {
	Secret   string
	Issuer   string
	Audience string
}

// Subject captures the authenticated caller and is passed to request
// handlers via context.
type Subject struct {
	ID     string
	Method Mode
	Scopes []string

	scopeSet map[string]struct{}
}

// normalise prepares the lookup set for scope checks.
func (s *Subject) normalise() {
	if s == nil {
		return
	}
	if s.scopeSet == nil {
		s.scopeSet = make(map[string]struct{}, len(s.Scopes))
		for _, scope := range s.Scopes {
			s.scopeSet[strings.ToLower(strings.TrimSpace(scope))] = struct{}{}
		}
	}
}

// HasScope reports whether the subject carries the scope. Subjects
// authenticated by static token carry every scope.
func (s *Subject) HasScope(scope string) bool {
	if s == nil {
		return false
	}
	if s.Method == ModeToken {
		return true
	}
	s.normalise()
	if _, ok := s.scopeSet["*"]; ok {
		return true
	}
	_, ok := s.scopeSet[strings.ToLower(strings.TrimSpace(scope))]
	return ok
}

// Authorize ensures the subject has all required scopes.
func (s *Subject) Authorize(scopes ...string) error {
	if s == nil {
		return ErrInvalidToken
	}
	for _, scope := range scopes {
		if scope == "" {
			continue
		}
		if !s.HasScope(scope) {
			return ErrPermissionDenied
		}
	}
	return nil
}

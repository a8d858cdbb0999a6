// Package session tracks the single identity signed in on this device and
// broadcasts every change of it.
package session

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/kdbuddy/kdbuddy/internal/domain"
)

// Session is an authenticated session issued by the auth service.
type Session struct {
	AccessToken  string          `json:"access_token"`
	RefreshToken string          `json:"refresh_token"`
	ExpiresAt    time.Time       `json:"expires_at"`
	User         domain.Identity `json:"user"`
}

// Identity returns a copy of the session's identity.
func (s *Session) Identity() *domain.Identity {
	if s == nil {
		return nil
	}
	id := s.User
	return &id
}

// Authenticator is the auth service.
type Authenticator interface {
	SignIn(ctx context.Context, email, password string) (*Session, error)
	// SignUp returns a nil session when the account must be confirmed first.
	SignUp(ctx context.Context, email, password string) (*Session, error)
	SignOut(ctx context.Context, accessToken string) error
	Refresh(ctx context.Context, refreshToken string) (*Session, error)
}

// EventKind names the auth transition that produced an identity change.
type EventKind string

const (
	EventInitial        EventKind = "INITIAL_SESSION"
	EventSignedIn       EventKind = "SIGNED_IN"
	EventSignedOut      EventKind = "SIGNED_OUT"
	EventTokenRefreshed EventKind = "TOKEN_REFRESHED"
)

// Event is delivered to observers after the manager's state has changed.
type Event struct {
	Kind     EventKind
	Identity *domain.Identity
}

// Observer receives identity-change events synchronously, in registration
// order. Observers must not block.
type Observer func(Event)

// fillFromClaims completes a session restored without expiry or subject by
// reading the unverified access-token claims. The signature is the auth
// service's concern; only routing data is taken from the token.
func fillFromClaims(s *Session) {
	if s == nil || s.AccessToken == "" {
		return
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(s.AccessToken, claims); err != nil {
		return
	}
	if s.ExpiresAt.IsZero() {
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			s.ExpiresAt = exp.Time.UTC()
		}
	}
	if s.User.Subject == "" {
		if sub, err := claims.GetSubject(); err == nil {
			s.User.Subject = sub
		}
	}
	if s.User.Email == "" {
		if email, ok := claims["email"].(string); ok {
			s.User.Email = email
		}
	}
}

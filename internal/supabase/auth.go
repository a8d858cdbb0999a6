package supabase

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/kdbuddy/kdbuddy/internal/domain"
	"github.com/kdbuddy/kdbuddy/internal/errs"
	"github.com/kdbuddy/kdbuddy/internal/session"
)

// AuthClient implements session.Authenticator against the GoTrue API.
type AuthClient struct {
	*base
	now func() time.Time
}

var _ session.Authenticator = (*AuthClient)(nil)

// NewAuthClient builds an auth API client.
func NewAuthClient(opts Options) (*AuthClient, error) {
	b, err := newBase(opts)
	if err != nil {
		return nil, err
	}
	return &AuthClient{base: b, now: time.Now}, nil
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenResponse struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresIn    int64     `json:"expires_in"`
	ExpiresAt    int64     `json:"expires_at"`
	User         *authUser `json:"user"`
}

type authUser struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

func (r tokenResponse) session(now time.Time) *session.Session {
	if r.AccessToken == "" {
		return nil
	}
	s := &session.Session{
		AccessToken:  r.AccessToken,
		RefreshToken: r.RefreshToken,
	}
	switch {
	case r.ExpiresAt > 0:
		s.ExpiresAt = time.Unix(r.ExpiresAt, 0).UTC()
	case r.ExpiresIn > 0:
		s.ExpiresAt = now.Add(time.Duration(r.ExpiresIn) * time.Second).UTC()
	}
	if r.User != nil {
		s.User = domain.Identity{Subject: r.User.ID, Email: r.User.Email}
	}
	return s
}

// SignIn exchanges an email and password for a session.
func (c *AuthClient) SignIn(ctx context.Context, email, password string) (*session.Session, error) {
	return c.token(ctx, "password", credentials{Email: email, Password: password})
}

// SignUp registers an account. A nil session with a nil error means the
// service requires email confirmation before the first sign-in.
func (c *AuthClient) SignUp(ctx context.Context, email, password string) (*session.Session, error) {
	var resp tokenResponse
	err := c.do(ctx, call{
		method: http.MethodPost,
		path:   "/auth/v1/signup",
		body:   credentials{Email: email, Password: password},
	}, &resp)
	if err != nil {
		return nil, authError(err)
	}
	return resp.session(c.now()), nil
}

// Refresh trades a refresh token for a new session.
func (c *AuthClient) Refresh(ctx context.Context, refreshToken string) (*session.Session, error) {
	return c.token(ctx, "refresh_token", map[string]string{"refresh_token": refreshToken})
}

// SignOut revokes the session identified by accessToken.
func (c *AuthClient) SignOut(ctx context.Context, accessToken string) error {
	err := c.do(ctx, call{
		method: http.MethodPost,
		path:   "/auth/v1/logout",
		bearer: accessToken,
	}, nil)
	return authError(err)
}

func (c *AuthClient) token(ctx context.Context, grant string, body any) (*session.Session, error) {
	var resp tokenResponse
	err := c.do(ctx, call{
		method: http.MethodPost,
		path:   "/auth/v1/token",
		query:  url.Values{"grant_type": {grant}},
		body:   body,
	}, &resp)
	if err != nil {
		return nil, authError(err)
	}
	s := resp.session(c.now())
	if s == nil {
		return nil, &errs.AuthError{Message: "auth service returned no session"}
	}
	return s, nil
}

// authError surfaces service rejections as *errs.AuthError with the message
// verbatim. Transport failures stay plain errors.
func authError(err error) error {
	if err == nil {
		return nil
	}
	var re *responseError
	if errors.As(err, &re) {
		return &errs.AuthError{Message: re.Message}
	}
	return fmt.Errorf("supabase auth: %w", err)
}

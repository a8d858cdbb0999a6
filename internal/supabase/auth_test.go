package supabase

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kdbuddy/kdbuddy/internal/errs"
	"github.com/kdbuddy/kdbuddy/internal/logger"
)

func newAuthTestClient(t *testing.T, handler http.HandlerFunc) (*AuthClient, *recorder) {
	t.Helper()
	rec := &recorder{}
	srv := httptest.NewServer(rec.wrap(handler))
	t.Cleanup(srv.Close)
	client, err := NewAuthClient(Options{BaseURL: srv.URL, APIKey: "anon-key", Logger: logger.Discard()})
	require.NoError(t, err)
	client.now = func() time.Time { return time.Unix(1_700_000_000, 0) }
	return client, rec
}

func TestAuthClient_SignIn(t *testing.T) {
	client, rec := newAuthTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"access_token":"jwt","refresh_token":"r","expires_in":3600,"user":{"id":"U1","email":"a@b.co"}}`)
	})

	s, err := client.SignIn(context.Background(), "a@b.co", "pw")
	require.NoError(t, err)
	require.Equal(t, "jwt", s.AccessToken)
	require.Equal(t, "U1", s.User.Subject)
	require.Equal(t, time.Unix(1_700_003_600, 0).UTC(), s.ExpiresAt)

	req := rec.last()
	require.Equal(t, "/auth/v1/token", req.Path)
	require.Equal(t, "grant_type=password", req.Query)
	require.JSONEq(t, `{"email":"a@b.co","password":"pw"}`, req.Body)
}

func TestAuthClient_RejectionIsAuthErrorVerbatim(t *testing.T) {
	client, _ := newAuthTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":"invalid_grant","error_description":"Invalid login credentials"}`)
	})

	_, err := client.SignIn(context.Background(), "a@b.co", "nope")
	var ae *errs.AuthError
	require.ErrorAs(t, err, &ae)
	require.Equal(t, "Invalid login credentials", ae.Message)
}

func TestAuthClient_SignUpAwaitingConfirmation(t *testing.T) {
	client, rec := newAuthTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"id":"U2","email":"new@b.co","confirmation_sent_at":"2024-01-01T00:00:00Z"}`)
	})

	s, err := client.SignUp(context.Background(), "new@b.co", "pw")
	require.NoError(t, err)
	require.Nil(t, s)
	require.Equal(t, "/auth/v1/signup", rec.last().Path)
}

func TestAuthClient_RefreshUsesExpiresAt(t *testing.T) {
	client, rec := newAuthTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"access_token":"jwt2","refresh_token":"r2","expires_in":3600,"expires_at":1700009999,"user":{"id":"U1"}}`)
	})

	s, err := client.Refresh(context.Background(), "r1")
	require.NoError(t, err)
	require.Equal(t, time.Unix(1_700_009_999, 0).UTC(), s.ExpiresAt)
	require.Equal(t, "grant_type=refresh_token", rec.last().Query)
	require.JSONEq(t, `{"refresh_token":"r1"}`, rec.last().Body)
}

func TestAuthClient_SignOutSendsSessionBearer(t *testing.T) {
	client, rec := newAuthTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	require.NoError(t, client.SignOut(context.Background(), "user-jwt"))
	require.Equal(t, "/auth/v1/logout", rec.last().Path)
	require.Equal(t, "Bearer user-jwt", rec.last().Header.Get("Authorization"))
}

func TestAuthClient_TransportFailureIsNotAuthError(t *testing.T) {
	client, err := NewAuthClient(Options{BaseURL: "http://127.0.0.1:1", APIKey: "k", Timeout: 200 * time.Millisecond, Logger: logger.Discard()})
	require.NoError(t, err)

	_, err = client.SignIn(context.Background(), "a@b.co", "pw")
	require.Error(t, err)
	require.NotErrorIs(t, err, errs.ErrAuth)
}

package httpserver

import (
	"net/http"
	"strings"
)

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authStateResponse struct {
	Guest                bool              `json:"guest"`
	Loading              bool              `json:"loading"`
	Identity             *identityResponse `json:"identity"`
	ConfirmationRequired bool              `json:"confirmation_required,omitempty"`
}

func (s *Server) authState() authStateResponse {
	identity := s.sessions.CurrentIdentity()
	return authStateResponse{
		Guest:    identity == nil,
		Loading:  s.sessions.Loading(),
		Identity: toIdentityResponse(identity),
	}
}

func (s *Server) decodeCredentials(w http.ResponseWriter, r *http.Request) (credentialsRequest, bool) {
	var req credentialsRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		s.respondDecodeError(w, err)
		return req, false
	}
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || req.Password == "" {
		s.respondError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "email and password are required")
		return req, false
	}
	return req, true
}

func (s *Server) handleAuthState(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.authState())
}

func (s *Server) handleSignIn(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeCredentials(w, r)
	if !ok {
		return
	}
	if err := s.sessions.SignIn(r.Context(), req.Email, req.Password); err != nil {
		s.respondFailure(w, "sign in", err)
		return
	}
	s.respondJSON(w, http.StatusOK, s.authState())
}

func (s *Server) handleSignUp(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeCredentials(w, r)
	if !ok {
		return
	}
	if err := s.sessions.SignUp(r.Context(), req.Email, req.Password); err != nil {
		s.respondFailure(w, "sign up", err)
		return
	}
	state := s.authState()
	state.ConfirmationRequired = state.Guest
	s.respondJSON(w, http.StatusOK, state)
}

func (s *Server) handleSignOut(w http.ResponseWriter, r *http.Request) {
	s.sessions.SignOut(r.Context())
	s.respondJSON(w, http.StatusOK, s.authState())
}

package httpserver

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kdbuddy/kdbuddy/internal/domain"
	"github.com/kdbuddy/kdbuddy/internal/errs"
)

type titleRequest struct {
	Title       string   `json:"title"`
	PosterURL   string   `json:"poster_url"`
	Year        int      `json:"year"`
	Genre       []string `json:"genre"`
	Actors      []string `json:"actors"`
	Description string   `json:"description"`
}

func (req titleRequest) input(id string) domain.TitleInput {
	return domain.TitleInput{
		ID:        id,
		Name:      req.Title,
		PosterURL: req.PosterURL,
		Year:      req.Year,
		Genres:    req.Genre,
		Cast:      req.Actors,
		Synopsis:  req.Description,
	}
}

type reviewRequest struct {
	TitleID string `json:"drama_id"`
	Rating  int    `json:"rating"`
	Body    string `json:"review_text"`
}

type mutationResponse struct {
	Generation uint64 `json:"generation"`
}

type favoriteResponse struct {
	TitleID   string `json:"drama_id"`
	Favorited bool   `json:"favorited"`
}

func (s *Server) mutated(w http.ResponseWriter, status int) {
	s.respondJSON(w, status, mutationResponse{Generation: s.catalog.Snapshot().Generation})
}

// confirmed reports whether a destructive request carries confirm=true.
func confirmed(r *http.Request) bool {
	ok, err := strconv.ParseBool(strings.TrimSpace(r.URL.Query().Get("confirm")))
	return err == nil && ok
}

func (s *Server) handleCreateTitle(w http.ResponseWriter, r *http.Request) {
	var req titleRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		s.respondDecodeError(w, err)
		return
	}
	if err := s.catalog.UpsertTitle(r.Context(), req.input("")); err != nil {
		s.respondFailure(w, "create title", err)
		return
	}
	s.mutated(w, http.StatusCreated)
}

func (s *Server) handleUpdateTitle(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	var req titleRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		s.respondDecodeError(w, err)
		return
	}
	if err := s.catalog.UpsertTitle(r.Context(), req.input(id)); err != nil {
		s.respondFailure(w, "update title", err)
		return
	}
	s.mutated(w, http.StatusOK)
}

func (s *Server) handleDeleteTitle(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	if !confirmed(r) {
		s.respondFailure(w, "delete title", errs.ErrConfirmationRequired)
		return
	}
	if err := s.catalog.DeleteTitle(r.Context(), id); err != nil {
		s.respondFailure(w, "delete title", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// signedIn answers with guard when the device is a guest. Guests are turned
// away before their payload is looked at.
func (s *Server) signedIn(w http.ResponseWriter, op string, guard *errs.PermissionError) bool {
	if s.sessions.CurrentIdentity() == nil {
		s.respondFailure(w, op, guard)
		return false
	}
	return true
}

func (s *Server) handleCreateReview(w http.ResponseWriter, r *http.Request) {
	if !s.signedIn(w, "create review", errs.ErrReviewWriteLoginRequired) {
		return
	}
	var req reviewRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		s.respondDecodeError(w, err)
		return
	}
	titleID, err := idParam(req.TitleID)
	if err != nil {
		s.respondError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "drama_id must be a valid identifier")
		return
	}
	err = s.catalog.UpsertReview(r.Context(), domain.ReviewInput{
		TitleID: titleID,
		Rating:  req.Rating,
		Body:    strings.TrimSpace(req.Body),
	})
	if err != nil {
		s.respondFailure(w, "create review", err)
		return
	}
	s.mutated(w, http.StatusCreated)
}

func (s *Server) handleUpdateReview(w http.ResponseWriter, r *http.Request) {
	if !s.signedIn(w, "update review", errs.ErrReviewWriteLoginRequired) {
		return
	}
	id, err := idParam(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	var req reviewRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		s.respondDecodeError(w, err)
		return
	}
	err = s.catalog.UpsertReview(r.Context(), domain.ReviewInput{
		ID:      id,
		TitleID: strings.TrimSpace(req.TitleID),
		Rating:  req.Rating,
		Body:    strings.TrimSpace(req.Body),
	})
	if err != nil {
		s.respondFailure(w, "update review", err)
		return
	}
	s.mutated(w, http.StatusOK)
}

func (s *Server) handleDeleteReview(w http.ResponseWriter, r *http.Request) {
	if !s.signedIn(w, "delete review", errs.ErrReviewDeleteLoginRequired) {
		return
	}
	id, err := idParam(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	if !confirmed(r) {
		s.respondFailure(w, "delete review", errs.ErrConfirmationRequired)
		return
	}
	if err := s.catalog.DeleteReview(r.Context(), id); err != nil {
		s.respondFailure(w, "delete review", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleToggleFavorite(w http.ResponseWriter, r *http.Request) {
	if !s.signedIn(w, "toggle favorite", errs.ErrFavoriteLoginRequired) {
		return
	}
	titleID, err := idParam(chi.URLParam(r, "titleID"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	favorited, err := s.catalog.ToggleFavorite(r.Context(), titleID)
	if err != nil {
		s.respondFailure(w, "toggle favorite", err)
		return
	}
	s.respondJSON(w, http.StatusOK, favoriteResponse{TitleID: titleID, Favorited: favorited})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if err := s.catalog.Refresh(r.Context()); err != nil {
		s.respondFailure(w, "refresh", errs.NewStoreError("refresh", err))
		return
	}
	s.mutated(w, http.StatusOK)
}

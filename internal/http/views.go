package httpserver

import (
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kdbuddy/kdbuddy/internal/domain"
	"github.com/kdbuddy/kdbuddy/internal/errs"
)

// homeSize is how many of the newest titles the landing view shows.
const homeSize = 4

type identityResponse struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	AvatarURL string `json:"avatar_url"`
}

type homeResponse struct {
	Titles   []domain.Title    `json:"titles"`
	Loading  bool              `json:"loading"`
	Identity *identityResponse `json:"identity"`
}

type titleListResponse struct {
	Items []domain.Title `json:"items"`
	Total int            `json:"total"`
}

type titleDetailResponse struct {
	Title       domain.Title    `json:"title"`
	Reviews     []domain.Review `json:"reviews"`
	ReviewCount int             `json:"review_count"`
	Favorited   bool            `json:"favorited"`
}

type genresResponse struct {
	Genres []string `json:"genres"`
}

type genreResponse struct {
	Genre  string         `json:"genre"`
	Titles []domain.Title `json:"titles"`
}

type actorResponse struct {
	Name   string         `json:"name"`
	Titles []domain.Title `json:"titles"`
}

type communityItem struct {
	Review    domain.Review `json:"review"`
	TitleName string        `json:"title"`
}

type profileResponse struct {
	Guest         bool            `json:"guest"`
	Email         string          `json:"email,omitempty"`
	AvatarURL     string          `json:"avatar_url"`
	Reviews       []domain.Review `json:"reviews"`
	FavoriteCount int             `json:"favorite_count"`
}

type titleFilters struct {
	Query *string
	Genre *string
	Actor *string
	Year  *int
	Sort  string
	Limit int
}

var allowedSorts = map[string]struct{}{
	"":       {},
	"year":   {},
	"rating": {},
	"title":  {},
}

func toIdentityResponse(id *domain.Identity) *identityResponse {
	if id == nil {
		return nil
	}
	return &identityResponse{ID: id.Subject, Email: id.Email, AvatarURL: domain.AvatarURL(id.Email)}
}

func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	snap := s.catalog.Snapshot()
	s.respondJSON(w, http.StatusOK, homeResponse{
		Titles:   snap.Newest(homeSize),
		Loading:  s.catalog.Loading(),
		Identity: toIdentityResponse(s.sessions.CurrentIdentity()),
	})
}

func (s *Server) handleListTitles(w http.ResponseWriter, r *http.Request) {
	filters, err := buildTitleFilters(r.URL.Query())
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	items := applyTitleFilters(s.catalog.Snapshot().Titles, filters)
	s.respondJSON(w, http.StatusOK, titleListResponse{Items: items, Total: len(items)})
}

func buildTitleFilters(query url.Values) (titleFilters, error) {
	var filters titleFilters

	if q := strings.TrimSpace(query.Get("q")); q != "" {
		filters.Query = &q
	}
	if val := strings.TrimSpace(query.Get("genre")); val != "" {
		filters.Genre = &val
	}
	if val := strings.TrimSpace(query.Get("actor")); val != "" {
		filters.Actor = &val
	}
	if val := strings.TrimSpace(query.Get("year")); val != "" {
		year, err := strconv.Atoi(val)
		if err != nil {
			return filters, fmt.Errorf("invalid year value")
		}
		filters.Year = &year
	}
	sortBy := strings.ToLower(strings.TrimSpace(query.Get("sort")))
	if _, ok := allowedSorts[sortBy]; !ok {
		return filters, fmt.Errorf("invalid sort value")
	}
	filters.Sort = sortBy
	if val := strings.TrimSpace(query.Get("limit")); val != "" {
		limit, err := strconv.Atoi(val)
		if err != nil || limit < 0 {
			return filters, fmt.Errorf("invalid limit value")
		}
		filters.Limit = limit
	}
	return filters, nil
}

func applyTitleFilters(titles []domain.Title, f titleFilters) []domain.Title {
	out := make([]domain.Title, 0, len(titles))
	for _, t := range titles {
		if f.Query != nil && !strings.Contains(strings.ToLower(t.Name), strings.ToLower(*f.Query)) {
			continue
		}
		if f.Genre != nil && !t.HasGenre(*f.Genre) {
			continue
		}
		if f.Actor != nil && !t.HasCastMember(*f.Actor) {
			continue
		}
		if f.Year != nil && t.Year != *f.Year {
			continue
		}
		out = append(out, t)
	}
	switch f.Sort {
	case "year":
		sort.SliceStable(out, func(i, j int) bool { return out[i].Year > out[j].Year })
	case "rating":
		sort.SliceStable(out, func(i, j int) bool { return out[i].MeanRating > out[j].MeanRating })
	case "title":
		sort.SliceStable(out, func(i, j int) bool { return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name) })
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out
}

func (s *Server) handleGetTitle(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	snap := s.catalog.Snapshot()
	title, ok := snap.Title(id)
	if !ok {
		s.respondFailure(w, "get title", errs.ErrNotFound)
		return
	}
	reviews := snap.ReviewsFor(id)
	favorited := false
	if identity := s.sessions.CurrentIdentity(); identity != nil {
		favorited = snap.IsFavorite(identity.Subject, id)
	}
	s.respondJSON(w, http.StatusOK, titleDetailResponse{
		Title:       title,
		Reviews:     reviews,
		ReviewCount: len(reviews),
		Favorited:   favorited,
	})
}

func (s *Server) handleGenres(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, genresResponse{Genres: domain.Genres})
}

func (s *Server) handleGenre(w http.ResponseWriter, r *http.Request) {
	raw, err := decodePathParam(r, "genre")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	genre, ok := canonicalGenre(raw)
	if !ok {
		s.respondFailure(w, "list genre", errs.ErrNotFound)
		return
	}
	s.respondJSON(w, http.StatusOK, genreResponse{Genre: genre, Titles: s.catalog.Snapshot().ByGenre(genre)})
}

func canonicalGenre(raw string) (string, bool) {
	for _, g := range domain.Genres {
		if strings.EqualFold(g, strings.TrimSpace(raw)) {
			return g, true
		}
	}
	return "", false
}

func (s *Server) handleActor(w http.ResponseWriter, r *http.Request) {
	name, err := decodePathParam(r, "name")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, actorResponse{Name: name, Titles: s.catalog.Snapshot().ByCastMember(name)})
}

func (s *Server) handleCommunity(w http.ResponseWriter, r *http.Request) {
	snap := s.catalog.Snapshot()
	items := make([]communityItem, 0, len(snap.Reviews))
	for _, review := range snap.Reviews {
		title, ok := snap.Title(review.TitleID)
		if !ok {
			continue
		}
		items = append(items, communityItem{Review: review, TitleName: title.Name})
	}
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Review.CreatedAt.After(items[j].Review.CreatedAt)
	})
	s.respondJSON(w, http.StatusOK, items)
}

func (s *Server) handleFavorites(w http.ResponseWriter, r *http.Request) {
	identity := s.sessions.CurrentIdentity()
	if identity == nil {
		s.respondFailure(w, "list favorites", errs.ErrFavoriteLoginRequired)
		return
	}
	items := s.catalog.Snapshot().FavoriteTitles(identity.Subject)
	s.respondJSON(w, http.StatusOK, titleListResponse{Items: items, Total: len(items)})
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	identity := s.sessions.CurrentIdentity()
	if identity == nil {
		s.respondJSON(w, http.StatusOK, profileResponse{
			Guest:     true,
			AvatarURL: domain.DefaultAvatar,
			Reviews:   []domain.Review{},
		})
		return
	}
	snap := s.catalog.Snapshot()
	s.respondJSON(w, http.StatusOK, profileResponse{
		Email:         identity.Email,
		AvatarURL:     domain.AvatarURL(identity.Email),
		Reviews:       snap.ReviewsBy(identity.Subject),
		FavoriteCount: len(snap.FavoriteTitles(identity.Subject)),
	})
}

func decodePathParam(r *http.Request, name string) (string, error) {
	raw := chi.URLParam(r, name)
	if raw == "" {
		return "", fmt.Errorf("missing %s parameter", name)
	}
	val, err := url.PathUnescape(raw)
	if err != nil {
		return "", fmt.Errorf("invalid %s parameter", name)
	}
	return val, nil
}

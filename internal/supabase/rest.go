package supabase

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"github.com/kdbuddy/kdbuddy/internal/domain"
	"github.com/kdbuddy/kdbuddy/internal/errs"
)

const (
	titleSelect  = "id,title,poster_url,year,genre,actors,description"
	reviewSelect = "id,user_id,drama_id,rating,review_text,created_at"
)

// RESTClient is the PostgREST data backend. Its method set matches the
// PostgreSQL repository so either can serve the synchronizer.
type RESTClient struct {
	*base
	tokens TokenSource
}

// NewRESTClient builds a data API client. tokens may be nil, in which case
// every request is made with the public API key.
func NewRESTClient(opts Options, tokens TokenSource) (*RESTClient, error) {
	b, err := newBase(opts)
	if err != nil {
		return nil, err
	}
	return &RESTClient{base: b, tokens: tokens}, nil
}

func (c *RESTClient) bearer() string {
	if c.tokens == nil {
		return ""
	}
	return c.tokens.AccessToken()
}

func (c *RESTClient) request(ctx context.Context, op string, rc call, out any) error {
	rc.bearer = c.bearer()
	if err := c.do(ctx, rc, out); err != nil {
		return storeError(op, err)
	}
	return nil
}

func storeError(op string, err error) error {
	var re *responseError
	if errors.As(err, &re) {
		return &errs.StoreError{Op: op, Status: re.Status, Message: re.Message}
	}
	return errs.NewStoreError(op, err)
}

func notFound(op string) error {
	return &errs.StoreError{Op: op, Status: http.StatusNotFound, Message: errs.ErrNotFound.Error(), Err: errs.ErrNotFound}
}

func representation() http.Header {
	return http.Header{"Prefer": []string{"return=representation"}}
}

func eq(value string) string { return "eq." + value }

// ListTitles returns every title in insertion order.
func (c *RESTClient) ListTitles(ctx context.Context) ([]domain.Title, error) {
	titles := make([]domain.Title, 0)
	err := c.request(ctx, "list titles", call{
		method: http.MethodGet,
		path:   "/rest/v1/kdramas",
		query:  url.Values{"select": {titleSelect}, "order": {"created_at.asc"}},
	}, &titles)
	if err != nil {
		return nil, err
	}
	for i := range titles {
		titles[i] = normalizeTitle(titles[i])
	}
	return titles, nil
}

// ListReviews returns every review, newest first.
func (c *RESTClient) ListReviews(ctx context.Context) ([]domain.Review, error) {
	reviews := make([]domain.Review, 0)
	err := c.request(ctx, "list reviews", call{
		method: http.MethodGet,
		path:   "/rest/v1/reviews",
		query:  url.Values{"select": {reviewSelect}, "order": {"created_at.desc"}},
	}, &reviews)
	if err != nil {
		return nil, err
	}
	return reviews, nil
}

// ListFavorites returns the favorites of userID.
func (c *RESTClient) ListFavorites(ctx context.Context, userID string) ([]domain.Favorite, error) {
	favorites := make([]domain.Favorite, 0)
	err := c.request(ctx, "list favorites", call{
		method: http.MethodGet,
		path:   "/rest/v1/favorites",
		query:  url.Values{"select": {"user_id,drama_id"}, "user_id": {eq(userID)}},
	}, &favorites)
	if err != nil {
		return nil, err
	}
	return favorites, nil
}

type titleRow struct {
	Name      string   `json:"title"`
	PosterURL string   `json:"poster_url"`
	Year      int      `json:"year"`
	Genres    []string `json:"genre"`
	Cast      []string `json:"actors"`
	Synopsis  string   `json:"description"`
}

func newTitleRow(in domain.TitleInput) titleRow {
	genres, cast := in.Genres, in.Cast
	if genres == nil {
		genres = []string{}
	}
	if cast == nil {
		cast = []string{}
	}
	return titleRow{
		Name:      in.Name,
		PosterURL: in.PosterURL,
		Year:      in.Year,
		Genres:    genres,
		Cast:      cast,
		Synopsis:  in.Synopsis,
	}
}

// UpsertTitle inserts a title when in.ID is empty, otherwise updates it.
func (c *RESTClient) UpsertTitle(ctx context.Context, in domain.TitleInput) error {
	if in.ID == "" {
		return c.request(ctx, "insert title", call{
			method: http.MethodPost,
			path:   "/rest/v1/kdramas",
			body:   newTitleRow(in),
		}, nil)
	}
	return c.mutate(ctx, "update title", call{
		method: http.MethodPatch,
		path:   "/rest/v1/kdramas",
		query:  url.Values{"id": {eq(in.ID)}},
		body:   newTitleRow(in),
	})
}

// DeleteTitle removes a title; the store cascades its reviews and favorites.
func (c *RESTClient) DeleteTitle(ctx context.Context, id string) error {
	return c.mutate(ctx, "delete title", call{
		method: http.MethodDelete,
		path:   "/rest/v1/kdramas",
		query:  url.Values{"id": {eq(id)}},
	})
}

type reviewRow struct {
	UserID  string `json:"user_id,omitempty"`
	TitleID string `json:"drama_id,omitempty"`
	Rating  int    `json:"rating"`
	Body    string `json:"review_text"`
}

// UpsertReview inserts or updates a review owned by authorID.
func (c *RESTClient) UpsertReview(ctx context.Context, authorID string, in domain.ReviewInput) error {
	if in.ID == "" {
		return c.request(ctx, "insert review", call{
			method: http.MethodPost,
			path:   "/rest/v1/reviews",
			body:   reviewRow{UserID: authorID, TitleID: in.TitleID, Rating: in.Rating, Body: in.Body},
		}, nil)
	}
	return c.mutate(ctx, "update review", call{
		method: http.MethodPatch,
		path:   "/rest/v1/reviews",
		query:  url.Values{"id": {eq(in.ID)}, "user_id": {eq(authorID)}},
		body:   reviewRow{Rating: in.Rating, Body: in.Body},
	})
}

// DeleteReview removes a review owned by authorID.
func (c *RESTClient) DeleteReview(ctx context.Context, authorID, id string) error {
	return c.mutate(ctx, "delete review", call{
		method: http.MethodDelete,
		path:   "/rest/v1/reviews",
		query:  url.Values{"id": {eq(id)}, "user_id": {eq(authorID)}},
	})
}

// mutate runs a filtered PATCH or DELETE and reports a not-found store error
// when the filter matched no row.
func (c *RESTClient) mutate(ctx context.Context, op string, rc call) error {
	rc.header = representation()
	var rows []map[string]any
	if err := c.request(ctx, op, rc, &rows); err != nil {
		return err
	}
	if len(rows) == 0 {
		return notFound(op)
	}
	return nil
}

// ToggleFavorite calls the toggle_favorite function, which flips the pair in
// one server-side transaction and reports the resulting state.
func (c *RESTClient) ToggleFavorite(ctx context.Context, userID, titleID string) (bool, error) {
	var favorited bool
	err := c.request(ctx, "toggle favorite", call{
		method: http.MethodPost,
		path:   "/rest/v1/rpc/toggle_favorite",
		body: map[string]string{
			"p_user_id":  userID,
			"p_drama_id": titleID,
		},
	}, &favorited)
	return favorited, err
}

func normalizeTitle(t domain.Title) domain.Title {
	if t.Genres == nil {
		t.Genres = []string{}
	}
	if t.Cast == nil {
		t.Cast = []string{}
	}
	return t
}

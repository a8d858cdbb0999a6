package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kdbuddy/kdbuddy/internal/domain"
	"github.com/kdbuddy/kdbuddy/internal/errs"
	"github.com/kdbuddy/kdbuddy/internal/store"
)

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errs.ErrNotFound

// PgxPool is the subset of a connection pool used by the repositories. It is
// implemented by *pgxpool.Pool and pgxmock.PgxPoolIface.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository aggregates the collection repositories and exposes them as a
// single data-store backend.
type Repository struct {
	Titles    *TitlesRepository
	Reviews   *ReviewsRepository
	Favorites *FavoritesRepository
}

// New constructs a Repository backed by the provided store.
func New(st *store.Store) *Repository {
	return NewWithPool(st.Pool())
}

// NewWithPool allows constructing repositories directly from a pool.
func NewWithPool(pool PgxPool) *Repository {
	return &Repository{
		Titles:    &TitlesRepository{pool: pool},
		Reviews:   &ReviewsRepository{pool: pool},
		Favorites: &FavoritesRepository{pool: pool},
	}
}

var _ PgxPool = (*pgxpool.Pool)(nil)

// ListTitles returns every title.
func (r *Repository) ListTitles(ctx context.Context) ([]domain.Title, error) {
	titles, err := r.Titles.List(ctx)
	return titles, errs.NewStoreError("list titles", err)
}

// ListReviews returns every review.
func (r *Repository) ListReviews(ctx context.Context) ([]domain.Review, error) {
	reviews, err := r.Reviews.List(ctx)
	return reviews, errs.NewStoreError("list reviews", err)
}

// ListFavorites returns the favorites of userID.
func (r *Repository) ListFavorites(ctx context.Context, userID string) ([]domain.Favorite, error) {
	favorites, err := r.Favorites.ListByUser(ctx, userID)
	return favorites, errs.NewStoreError("list favorites", err)
}

// UpsertTitle inserts a title when in.ID is empty, otherwise updates it.
func (r *Repository) UpsertTitle(ctx context.Context, in domain.TitleInput) error {
	if in.ID == "" {
		_, err := r.Titles.Create(ctx, in)
		return errs.NewStoreError("insert title", err)
	}
	_, err := r.Titles.Update(ctx, in)
	return errs.NewStoreError("update title", err)
}

// DeleteTitle removes a title and, through cascades, its reviews and favorites.
func (r *Repository) DeleteTitle(ctx context.Context, id string) error {
	return errs.NewStoreError("delete title", r.Titles.Delete(ctx, id))
}

// UpsertReview inserts or updates a review owned by authorID.
func (r *Repository) UpsertReview(ctx context.Context, authorID string, in domain.ReviewInput) error {
	if in.ID == "" {
		_, err := r.Reviews.Create(ctx, authorID, in)
		return errs.NewStoreError("insert review", err)
	}
	_, err := r.Reviews.Update(ctx, authorID, in)
	return errs.NewStoreError("update review", err)
}

// DeleteReview removes a review owned by authorID.
func (r *Repository) DeleteReview(ctx context.Context, authorID, id string) error {
	return errs.NewStoreError("delete review", r.Reviews.Delete(ctx, authorID, id))
}

// ToggleFavorite flips the favorite state in one server-side statement and
// reports whether the title is favorited afterwards.
func (r *Repository) ToggleFavorite(ctx context.Context, userID, titleID string) (bool, error) {
	favorited, err := r.Favorites.Toggle(ctx, userID, titleID)
	return favorited, errs.NewStoreError("toggle favorite", err)
}

func mapNoRows(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// isInvalidInput reports whether err is a malformed-value error such as an
// unparsable uuid.
func isInvalidInput(err error) bool {
	var pg *pgconn.PgError
	return errors.As(err, &pg) && pg.Code == "22P02"
}

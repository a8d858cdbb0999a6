package repository

import (
	"context"

	"github.com/kdbuddy/kdbuddy/internal/domain"
)

// FavoritesRepository provides helpers for the favorites join table.
type FavoritesRepository struct {
	pool PgxPool
}

// ListByUser returns the favorites of one user.
func (r *FavoritesRepository) ListByUser(ctx context.Context, userID string) ([]domain.Favorite, error) {
	const query = `SELECT user_id::text, drama_id::text FROM favorites WHERE user_id = $1 ORDER BY created_at`
	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	favorites := make([]domain.Favorite, 0)
	for rows.Next() {
		var f domain.Favorite
		if err := rows.Scan(&f.UserID, &f.TitleID); err != nil {
			return nil, err
		}
		favorites = append(favorites, f)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return favorites, nil
}

// Toggle deletes the (user, title) pair when present and inserts it otherwise,
// evaluated entirely by the toggle_favorite database function.
func (r *FavoritesRepository) Toggle(ctx context.Context, userID, titleID string) (bool, error) {
	var favorited bool
	err := r.pool.QueryRow(ctx, `SELECT toggle_favorite($1, $2)`, userID, titleID).Scan(&favorited)
	if err != nil {
		if isInvalidInput(err) {
			return false, ErrNotFound
		}
		return false, err
	}
	return favorited, nil
}

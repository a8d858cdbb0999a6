package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/kdbuddy/kdbuddy/internal/domain"
)

// ReviewsRepository provides helpers for title reviews.
type ReviewsRepository struct {
	pool PgxPool
}

const reviewColumns = `id::text, user_id::text, drama_id::text, rating, review_text, created_at`

// List returns all reviews, newest first.
func (r *ReviewsRepository) List(ctx context.Context) ([]domain.Review, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+reviewColumns+` FROM reviews ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	reviews := make([]domain.Review, 0)
	for rows.Next() {
		review, err := scanReview(rows)
		if err != nil {
			return nil, err
		}
		reviews = append(reviews, review)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return reviews, nil
}

// Create inserts a review authored by authorID.
func (r *ReviewsRepository) Create(ctx context.Context, authorID string, in domain.ReviewInput) (domain.Review, error) {
	const query = `
        INSERT INTO reviews (user_id, drama_id, rating, review_text)
        VALUES ($1,$2,$3,$4)
        RETURNING ` + reviewColumns

	return scanReview(r.pool.QueryRow(ctx, query, authorID, in.TitleID, in.Rating, in.Body))
}

// Update changes rating and body of a review; only the author's own review matches.
func (r *ReviewsRepository) Update(ctx context.Context, authorID string, in domain.ReviewInput) (domain.Review, error) {
	const query = `
        UPDATE reviews
        SET rating = $3,
            review_text = $4
        WHERE id = $1 AND user_id = $2
        RETURNING ` + reviewColumns

	review, err := scanReview(r.pool.QueryRow(ctx, query, in.ID, authorID, in.Rating, in.Body))
	if err != nil {
		if isInvalidInput(err) {
			return domain.Review{}, ErrNotFound
		}
		return domain.Review{}, mapNoRows(err)
	}
	return review, nil
}

// Delete removes a review owned by authorID.
func (r *ReviewsRepository) Delete(ctx context.Context, authorID, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM reviews WHERE id = $1 AND user_id = $2`, id, authorID)
	if err != nil {
		if isInvalidInput(err) {
			return ErrNotFound
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanReview(row pgx.Row) (domain.Review, error) {
	var review domain.Review
	err := row.Scan(
		&review.ID,
		&review.UserID,
		&review.TitleID,
		&review.Rating,
		&review.Body,
		&review.CreatedAt,
	)
	if err != nil {
		return domain.Review{}, err
	}
	return review, nil
}

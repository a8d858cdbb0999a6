package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/kdbuddy/kdbuddy/internal/domain"
)

// TitlesRepository provides persistence helpers for titles.
type TitlesRepository struct {
	pool PgxPool
}

const titleColumns = `id::text, title, poster_url, year, genre, actors, description`

// List returns all titles in insertion order.
func (r *TitlesRepository) List(ctx context.Context) ([]domain.Title, error) {
	query := fmt.Sprintf(`SELECT %s FROM kdramas ORDER BY created_at, id`, titleColumns)
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	titles := make([]domain.Title, 0)
	for rows.Next() {
		t, err := scanTitle(rows)
		if err != nil {
			return nil, err
		}
		titles = append(titles, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return titles, nil
}

// GetByID fetches a title by its identifier.
func (r *TitlesRepository) GetByID(ctx context.Context, id string) (domain.Title, error) {
	query := fmt.Sprintf(`SELECT %s FROM kdramas WHERE id = $1`, titleColumns)
	t, err := scanTitle(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if isInvalidInput(err) {
			return domain.Title{}, ErrNotFound
		}
		return domain.Title{}, mapNoRows(err)
	}
	return t, nil
}

// Create inserts a title; the identifier is assigned by the database.
func (r *TitlesRepository) Create(ctx context.Context, in domain.TitleInput) (domain.Title, error) {
	query := fmt.Sprintf(`
        INSERT INTO kdramas (title, poster_url, year, genre, actors, description)
        VALUES ($1,$2,$3,$4,$5,$6)
        RETURNING %s
    `, titleColumns)

	row := r.pool.QueryRow(ctx, query, in.Name, in.PosterURL, in.Year, nonNil(in.Genres), nonNil(in.Cast), in.Synopsis)
	return scanTitle(row)
}

// Update overwrites every editable field of an existing title.
func (r *TitlesRepository) Update(ctx context.Context, in domain.TitleInput) (domain.Title, error) {
	query := fmt.Sprintf(`
        UPDATE kdramas
        SET title = $2,
            poster_url = $3,
            year = $4,
            genre = $5,
            actors = $6,
            description = $7
        WHERE id = $1
        RETURNING %s
    `, titleColumns)

	row := r.pool.QueryRow(ctx, query, in.ID, in.Name, in.PosterURL, in.Year, nonNil(in.Genres), nonNil(in.Cast), in.Synopsis)
	t, err := scanTitle(row)
	if err != nil {
		if isInvalidInput(err) {
			return domain.Title{}, ErrNotFound
		}
		return domain.Title{}, mapNoRows(err)
	}
	return t, nil
}

// Delete removes a title by identifier.
func (r *TitlesRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM kdramas WHERE id = $1`, id)
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

func scanTitle(row pgx.Row) (domain.Title, error) {
	var t domain.Title
	err := row.Scan(
		&t.ID,
		&t.Name,
		&t.PosterURL,
		&t.Year,
		&t.Genres,
		&t.Cast,
		&t.Synopsis,
	)
	if err != nil {
		return domain.Title{}, err
	}
	t.Genres = nonNil(t.Genres)
	t.Cast = nonNil(t.Cast)
	return t, nil
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

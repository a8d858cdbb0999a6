package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"

	"github.com/kdbuddy/kdbuddy/internal/errs"
)

func newMockRepository(t *testing.T) (*Repository, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewWithPool(mock), mock
}

func TestToggleFavorite_SingleStatement(t *testing.T) {
	repo, mock := newMockRepository(t)
	ctx := context.Background()

	mock.ExpectQuery(`SELECT toggle_favorite\(\$1, \$2\)`).
		WithArgs("U1", "T1").
		WillReturnRows(pgxmock.NewRows([]string{"toggle_favorite"}).AddRow(true))
	mock.ExpectQuery(`SELECT toggle_favorite\(\$1, \$2\)`).
		WithArgs("U1", "T1").
		WillReturnRows(pgxmock.NewRows([]string{"toggle_favorite"}).AddRow(false))

	favorited, err := repo.ToggleFavorite(ctx, "U1", "T1")
	require.NoError(t, err)
	require.True(t, favorited)

	favorited, err = repo.ToggleFavorite(ctx, "U1", "T1")
	require.NoError(t, err)
	require.False(t, favorited)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestToggleFavorite_StoreErrorVerbatim(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectQuery(`SELECT toggle_favorite`).
		WithArgs("U1", "T1").
		WillReturnError(errors.New("permission denied for function toggle_favorite"))

	_, err := repo.ToggleFavorite(context.Background(), "U1", "T1")
	require.ErrorIs(t, err, errs.ErrStore)
	require.Equal(t, "permission denied for function toggle_favorite", err.Error())
}

func TestDeleteReview_ScopedToAuthor(t *testing.T) {
	repo, mock := newMockRepository(t)
	ctx := context.Background()

	mock.ExpectExec(`DELETE FROM reviews WHERE id = \$1 AND user_id = \$2`).
		WithArgs("R1", "U1").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec(`DELETE FROM reviews WHERE id = \$1 AND user_id = \$2`).
		WithArgs("R1", "U2").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	require.NoError(t, repo.DeleteReview(ctx, "U1", "R1"))
	err := repo.DeleteReview(ctx, "U2", "R1")
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, err, errs.ErrStore)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteTitle_InvalidIdentifier(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectExec(`DELETE FROM kdramas WHERE id = \$1`).
		WithArgs("nope").
		WillReturnError(&pgconn.PgError{Code: "22P02", Message: "invalid input syntax for type uuid"})

	err := repo.DeleteTitle(context.Background(), "nope")
	require.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListFavorites_ScansPairs(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectQuery(`SELECT user_id::text, drama_id::text FROM favorites WHERE user_id = \$1`).
		WithArgs("U1").
		WillReturnRows(pgxmock.NewRows([]string{"user_id", "drama_id"}).
			AddRow("U1", "T1").
			AddRow("U1", "T2"))

	favorites, err := repo.ListFavorites(context.Background(), "U1")
	require.NoError(t, err)
	require.Len(t, favorites, 2)
	require.Equal(t, "T2", favorites[1].TitleID)
	require.NoError(t, mock.ExpectationsWereMet())
}

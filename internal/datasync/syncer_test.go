package datasync

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/kdbuddy/kdbuddy/internal/domain"
	"github.com/kdbuddy/kdbuddy/internal/errs"
	"github.com/kdbuddy/kdbuddy/internal/logger"
	"github.com/kdbuddy/kdbuddy/internal/realtime"
	"github.com/kdbuddy/kdbuddy/internal/session"
)

type fakeBackend struct {
	mu        sync.Mutex
	titles    []domain.Title
	reviews   []domain.Review
	favorites map[string]bool

	titlesErr, reviewsErr, favoritesErr error
	mutateErr                           error

	calls        atomic.Int32
	favoriteRead atomic.Int32
	lastAuthor   string
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{favorites: make(map[string]bool)}
}

func (f *fakeBackend) ListTitles(context.Context) ([]domain.Title, error) {
	f.calls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.titlesErr != nil {
		return nil, f.titlesErr
	}
	return append([]domain.Title(nil), f.titles...), nil
}

func (f *fakeBackend) ListReviews(context.Context) ([]domain.Review, error) {
	f.calls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reviewsErr != nil {
		return nil, f.reviewsErr
	}
	return append([]domain.Review(nil), f.reviews...), nil
}

func (f *fakeBackend) ListFavorites(_ context.Context, userID string) ([]domain.Favorite, error) {
	f.calls.Add(1)
	f.favoriteRead.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.favoritesErr != nil {
		return nil, f.favoritesErr
	}
	out := make([]domain.Favorite, 0)
	for titleID, on := range f.favorites {
		if on {
			out = append(out, domain.Favorite{UserID: userID, TitleID: titleID})
		}
	}
	return out, nil
}

func (f *fakeBackend) UpsertTitle(_ context.Context, in domain.TitleInput) error {
	f.calls.Add(1)
	if f.mutateErr != nil {
		return f.mutateErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.titles = append(f.titles, domain.Title{ID: "T" + in.Name, Name: in.Name, Year: in.Year})
	return nil
}

func (f *fakeBackend) DeleteTitle(context.Context, string) error {
	f.calls.Add(1)
	return f.mutateErr
}

func (f *fakeBackend) UpsertReview(_ context.Context, authorID string, in domain.ReviewInput) error {
	f.calls.Add(1)
	if f.mutateErr != nil {
		return f.mutateErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastAuthor = authorID
	f.reviews = append(f.reviews, domain.Review{ID: "R", UserID: authorID, TitleID: in.TitleID, Rating: in.Rating})
	return nil
}

func (f *fakeBackend) DeleteReview(_ context.Context, authorID, _ string) error {
	f.calls.Add(1)
	f.mu.Lock()
	f.lastAuthor = authorID
	f.mu.Unlock()
	return f.mutateErr
}

func (f *fakeBackend) ToggleFavorite(_ context.Context, _, titleID string) (bool, error) {
	f.calls.Add(1)
	if f.mutateErr != nil {
		return false, f.mutateErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.favorites[titleID] = !f.favorites[titleID]
	return f.favorites[titleID], nil
}

type fixedIdentity struct {
	mu sync.Mutex
	id *domain.Identity
}

func (f *fixedIdentity) CurrentIdentity() *domain.Identity {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.id
}

func (f *fixedIdentity) set(id *domain.Identity) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.id = id
}

func guest() *fixedIdentity { return &fixedIdentity{} }

func user(subject string) *fixedIdentity {
	return &fixedIdentity{id: &domain.Identity{Subject: subject, Email: subject + "@example.com"}}
}

func TestGuestGuards_NeverReachBackend(t *testing.T) {
	backend := newFakeBackend()
	s := New(backend, guest(), logger.Discard())
	ctx := context.Background()

	err := s.UpsertReview(ctx, domain.ReviewInput{TitleID: "T1", Rating: 5})
	require.ErrorIs(t, err, errs.ErrLoginRequired)
	require.Equal(t, "you must be logged in to create or edit a review", err.Error())

	require.ErrorIs(t, s.DeleteReview(ctx, "R1"), errs.ErrLoginRequired)

	_, err = s.ToggleFavorite(ctx, "T1")
	require.ErrorIs(t, err, errs.ErrLoginRequired)

	require.Zero(t, backend.calls.Load())
}

func TestToggleFavorite_TwiceRestoresState(t *testing.T) {
	backend := newFakeBackend()
	backend.titles = []domain.Title{{ID: "T1", Name: "Goblin", Year: 2016}}
	s := New(backend, user("U1"), logger.Discard())
	ctx := context.Background()

	favorited, err := s.ToggleFavorite(ctx, "T1")
	require.NoError(t, err)
	require.True(t, favorited)
	require.True(t, s.Snapshot().IsFavorite("U1", "T1"))

	favorited, err = s.ToggleFavorite(ctx, "T1")
	require.NoError(t, err)
	require.False(t, favorited)
	require.False(t, s.Snapshot().IsFavorite("U1", "T1"))
}

func TestRefresh_ComputesMeanRatings(t *testing.T) {
	backend := newFakeBackend()
	backend.titles = []domain.Title{{ID: "T1", Name: "Goblin"}, {ID: "T2", Name: "Vincenzo"}}
	backend.reviews = []domain.Review{
		{ID: "a", TitleID: "T1", Rating: 4},
		{ID: "b", TitleID: "T1", Rating: 5},
		{ID: "c", TitleID: "T1", Rating: 3},
	}
	s := New(backend, guest(), logger.Discard())

	require.NoError(t, s.Refresh(context.Background()))
	snap := s.Snapshot()
	t1, _ := snap.Title("T1")
	t2, _ := snap.Title("T2")
	require.Equal(t, 4.0, t1.MeanRating)
	require.Equal(t, 0.0, t2.MeanRating)
	require.Equal(t, int32(0), backend.favoriteRead.Load())
}

func TestRefresh_PartialFailureYieldsEmptyCollection(t *testing.T) {
	backend := newFakeBackend()
	backend.titles = []domain.Title{{ID: "T1", Name: "Goblin"}}
	backend.reviewsErr = errors.New("reviews unavailable")
	s := New(backend, user("U1"), logger.Discard())

	require.NoError(t, s.Refresh(context.Background()))
	snap := s.Snapshot()
	require.Len(t, snap.Titles, 1)
	require.Empty(t, snap.Reviews)
	require.NotNil(t, snap.Reviews)
}

func TestRefresh_ReadFailureLogsStoreOperation(t *testing.T) {
	backend := newFakeBackend()
	backend.titles = []domain.Title{{ID: "T1", Name: "Goblin"}}
	backend.reviewsErr = &errs.StoreError{Op: "list reviews", Message: "connection reset"}
	log, hook := logtest.NewNullLogger()
	s := New(backend, user("U1"), log)

	require.NoError(t, s.Refresh(context.Background()))
	entry := hook.LastEntry()
	require.NotNil(t, entry)
	require.Equal(t, logrus.WarnLevel, entry.Level)
	require.Equal(t, "reviews", entry.Data["collection"])
	require.Equal(t, "list reviews: connection reset", entry.Data["cause"])
}

func TestRefresh_TotalFailureKeepsPreviousSnapshot(t *testing.T) {
	backend := newFakeBackend()
	backend.titles = []domain.Title{{ID: "T1", Name: "Goblin"}}
	s := New(backend, user("U1"), logger.Discard())
	require.NoError(t, s.Refresh(context.Background()))
	before := s.Snapshot()

	backend.mu.Lock()
	backend.titlesErr = errors.New("offline")
	backend.reviewsErr = errors.New("offline")
	backend.favoritesErr = errors.New("offline")
	backend.mu.Unlock()

	require.Error(t, s.Refresh(context.Background()))
	require.Same(t, before, s.Snapshot())
}

func TestPublish_OlderGenerationNeverOverwrites(t *testing.T) {
	s := New(newFakeBackend(), guest(), logger.Discard())
	newer := domain.BuildSnapshot([]domain.Title{{ID: "new"}}, nil, nil)
	newer.Generation = 5
	older := domain.BuildSnapshot([]domain.Title{{ID: "old"}}, nil, nil)
	older.Generation = 4

	require.True(t, s.publish(newer))
	require.False(t, s.publish(older))
	require.Same(t, newer, s.Snapshot())
}

func TestUpsertReview_AuthorFromIdentity(t *testing.T) {
	backend := newFakeBackend()
	backend.titles = []domain.Title{{ID: "T1", Name: "Goblin"}}
	s := New(backend, user("U1"), logger.Discard())

	require.NoError(t, s.UpsertReview(context.Background(), domain.ReviewInput{TitleID: "T1", Rating: 5}))
	require.Equal(t, "U1", backend.lastAuthor)
	t1, _ := s.Snapshot().Title("T1")
	require.Equal(t, 5.0, t1.MeanRating)
}

func TestUpsertReview_InvalidRatingRejectedLocally(t *testing.T) {
	backend := newFakeBackend()
	s := New(backend, user("U1"), logger.Discard())

	err := s.UpsertReview(context.Background(), domain.ReviewInput{TitleID: "T1", Rating: 6})
	require.ErrorIs(t, err, errs.ErrInvalid)
	require.Zero(t, backend.calls.Load())
}

func TestMutation_StoreErrorPropagatesWithoutRefresh(t *testing.T) {
	backend := newFakeBackend()
	backend.mutateErr = &errs.StoreError{Op: "insert title", Message: "permission denied for table kdramas"}
	s := New(backend, guest(), logger.Discard())

	err := s.UpsertTitle(context.Background(), domain.TitleInput{Name: "x", Year: 2020})
	require.ErrorIs(t, err, errs.ErrStore)
	require.Equal(t, "permission denied for table kdramas", err.Error())
	require.Equal(t, int32(1), backend.calls.Load())
	require.Zero(t, s.Snapshot().Generation)
}

func TestUpsertTitle_GuestAllowedAndRefreshes(t *testing.T) {
	backend := newFakeBackend()
	s := New(backend, guest(), logger.Discard())
	published := make(chan *domain.Snapshot, 1)
	cancel := s.Subscribe(func(snap *domain.Snapshot) { published <- snap })
	defer cancel()

	require.NoError(t, s.UpsertTitle(context.Background(), domain.TitleInput{Name: "  Goblin ", Year: 2016}))
	snap := <-published
	require.Len(t, snap.Titles, 1)
	require.Equal(t, "Goblin", snap.Titles[0].Name)
}

type scriptedSource struct {
	changes []realtime.Change
}

func (s scriptedSource) Run(ctx context.Context, tables []string, handle realtime.Handler) error {
	for _, c := range s.changes {
		if realtime.Watches(tables, c.Table) {
			handle(c)
		}
	}
	<-ctx.Done()
	return ctx.Err()
}

func TestWatch_PushedChangeTriggersRefresh(t *testing.T) {
	backend := newFakeBackend()
	backend.titles = []domain.Title{{ID: "T1", Name: "Goblin"}}
	s := New(backend, guest(), logger.Discard())
	published := make(chan *domain.Snapshot, 4)
	cancel := s.Subscribe(func(snap *domain.Snapshot) { published <- snap })
	defer cancel()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	go func() { _ = s.Run(ctx) }()
	go func() {
		_ = s.Watch(ctx, scriptedSource{changes: []realtime.Change{{Table: realtime.TableTitles, Kind: realtime.KindInsert}}})
	}()

	select {
	case snap := <-published:
		require.Len(t, snap.Titles, 1)
	case <-time.After(2 * time.Second):
		t.Fatal("pushed change did not refresh the snapshot")
	}
}

func TestHandleSessionEvent_RefreshesForNewIdentity(t *testing.T) {
	backend := newFakeBackend()
	backend.favorites["T1"] = true
	identity := guest()
	s := New(backend, identity, logger.Discard())
	published := make(chan *domain.Snapshot, 4)
	cancel := s.Subscribe(func(snap *domain.Snapshot) { published <- snap })
	defer cancel()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	go func() { _ = s.Run(ctx) }()

	identity.set(&domain.Identity{Subject: "U1"})
	s.HandleSessionEvent(session.Event{Kind: session.EventSignedIn, Identity: identity.CurrentIdentity()})

	select {
	case snap := <-published:
		require.True(t, snap.IsFavorite("U1", "T1"))
	case <-time.After(2 * time.Second):
		t.Fatal("identity change did not refresh the snapshot")
	}
}

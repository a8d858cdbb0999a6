// Package datasync keeps an in-memory snapshot of the catalogue, reviews and
// the current identity's favorites in step with the store, and routes every
// mutation through the store before refreshing.
package datasync

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/kdbuddy/kdbuddy/internal/domain"
	"github.com/kdbuddy/kdbuddy/internal/errs"
	"github.com/kdbuddy/kdbuddy/internal/logger"
	"github.com/kdbuddy/kdbuddy/internal/realtime"
	"github.com/kdbuddy/kdbuddy/internal/session"
)

// Backend is the data store. It is implemented by the PostgREST client and by
// the PostgreSQL repository.
type Backend interface {
	ListTitles(ctx context.Context) ([]domain.Title, error)
	ListReviews(ctx context.Context) ([]domain.Review, error)
	ListFavorites(ctx context.Context, userID string) ([]domain.Favorite, error)
	UpsertTitle(ctx context.Context, in domain.TitleInput) error
	DeleteTitle(ctx context.Context, id string) error
	UpsertReview(ctx context.Context, authorID string, in domain.ReviewInput) error
	DeleteReview(ctx context.Context, authorID, id string) error
	ToggleFavorite(ctx context.Context, userID, titleID string) (bool, error)
}

// IdentitySource reports who is signed in; nil means guest.
type IdentitySource interface {
	CurrentIdentity() *domain.Identity
}

// Observer is called with every newly published snapshot.
type Observer func(*domain.Snapshot)

// WatchedTables are the collections whose pushed changes trigger a refresh.
var WatchedTables = []string{realtime.TableTitles, realtime.TableReviews}

// Syncer owns the snapshot.
type Syncer struct {
	backend  Backend
	identity IdentitySource
	logger   *logrus.Logger

	snapshot   atomic.Pointer[domain.Snapshot]
	generation atomic.Uint64

	publishMu sync.Mutex
	published uint64

	obsMu     sync.Mutex
	observers map[int]Observer
	nextID    int

	loading atomic.Int32
	trigger chan struct{}
}

// New builds a Syncer holding an empty snapshot.
func New(backend Backend, identity IdentitySource, log *logrus.Logger) *Syncer {
	s := &Syncer{
		backend:   backend,
		identity:  identity,
		logger:    logger.OrDefault(log),
		observers: make(map[int]Observer),
		trigger:   make(chan struct{}, 1),
	}
	s.snapshot.Store(domain.BuildSnapshot(nil, nil, nil))
	return s
}

// Snapshot returns the current snapshot. Callers must treat it as read-only.
func (s *Syncer) Snapshot() *domain.Snapshot {
	return s.snapshot.Load()
}

// Loading reports whether a refresh is in flight.
func (s *Syncer) Loading() bool {
	return s.loading.Load() > 0
}

// Subscribe registers fn for snapshot publications and returns its cancel func.
func (s *Syncer) Subscribe(fn Observer) func() {
	s.obsMu.Lock()
	defer s.obsMu.Unlock()
	id := s.nextID
	s.nextID++
	s.observers[id] = fn
	return func() {
		s.obsMu.Lock()
		defer s.obsMu.Unlock()
		delete(s.observers, id)
	}
}

// Refresh reads the three collections concurrently and publishes a rebuilt
// snapshot. A failed read is logged and contributes an empty collection; when
// every read fails the previous snapshot stays published and the joined
// failures are returned. Guests have no favorites and skip that read.
func (s *Syncer) Refresh(ctx context.Context) error {
	s.loading.Add(1)
	defer s.loading.Add(-1)

	gen := s.generation.Add(1)
	identity := s.identity.CurrentIdentity()

	var (
		titles    []domain.Title
		reviews   []domain.Review
		favorites []domain.Favorite
		failures  [3]error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		titles, failures[0] = s.backend.ListTitles(gctx)
		return nil
	})
	g.Go(func() error {
		reviews, failures[1] = s.backend.ListReviews(gctx)
		return nil
	})
	if identity != nil {
		g.Go(func() error {
			favorites, failures[2] = s.backend.ListFavorites(gctx, identity.Subject)
			return nil
		})
	}
	_ = g.Wait()

	attempted, failed := 2, 0
	if identity != nil {
		attempted = 3
	}
	for i, err := range failures {
		if err == nil {
			continue
		}
		failed++
		s.logger.WithFields(logrus.Fields{
			"collection": collectionNames[i],
			"generation": gen,
			"cause":      errs.Describe(err),
		}).Warn("datasync: read failed")
	}
	if failed == attempted {
		return errors.Join(failures[:]...)
	}

	snap := domain.BuildSnapshot(titles, reviews, favorites)
	snap.Generation = gen
	snap.RefreshedAt = time.Now().UTC()
	if !s.publish(snap) {
		s.logger.WithField("generation", gen).Debug("datasync: discarded superseded refresh")
	}
	return nil
}

var collectionNames = [3]string{realtime.TableTitles, realtime.TableReviews, realtime.TableFavorites}

// publish installs snap unless a refresh that started later already won.
func (s *Syncer) publish(snap *domain.Snapshot) bool {
	s.publishMu.Lock()
	if snap.Generation < s.published {
		s.publishMu.Unlock()
		return false
	}
	s.published = snap.Generation
	s.snapshot.Store(snap)
	observers := s.copyObservers()
	s.publishMu.Unlock()

	for _, fn := range observers {
		fn(snap)
	}
	return true
}

func (s *Syncer) copyObservers() []Observer {
	s.obsMu.Lock()
	defer s.obsMu.Unlock()
	out := make([]Observer, 0, len(s.observers))
	for _, fn := range s.observers {
		out = append(out, fn)
	}
	return out
}

// refreshAfterMutation refreshes and only logs a failure; the mutation itself
// already succeeded.
func (s *Syncer) refreshAfterMutation(ctx context.Context, op string) {
	if err := s.Refresh(ctx); err != nil {
		s.logger.WithFields(logrus.Fields{
			"op":    op,
			"cause": errs.Describe(err),
		}).Warn("datasync: refresh after mutation failed")
	}
}

// UpsertTitle inserts or updates a title. Guests may edit the catalogue.
func (s *Syncer) UpsertTitle(ctx context.Context, in domain.TitleInput) error {
	in = in.Normalize()
	if err := in.Validate(); err != nil {
		return errs.Invalid(err)
	}
	if err := s.backend.UpsertTitle(ctx, in); err != nil {
		return err
	}
	s.refreshAfterMutation(ctx, "upsert title")
	return nil
}

// DeleteTitle removes a title together with its reviews and favorites.
func (s *Syncer) DeleteTitle(ctx context.Context, id string) error {
	if err := s.backend.DeleteTitle(ctx, id); err != nil {
		return err
	}
	s.refreshAfterMutation(ctx, "delete title")
	return nil
}

// UpsertReview writes a review authored by the current identity.
func (s *Syncer) UpsertReview(ctx context.Context, in domain.ReviewInput) error {
	identity := s.identity.CurrentIdentity()
	if identity == nil {
		return errs.ErrReviewWriteLoginRequired
	}
	if err := in.Validate(); err != nil {
		return errs.Invalid(err)
	}
	if err := s.backend.UpsertReview(ctx, identity.Subject, in); err != nil {
		return err
	}
	s.refreshAfterMutation(ctx, "upsert review")
	return nil
}

// DeleteReview removes one of the current identity's reviews.
func (s *Syncer) DeleteReview(ctx context.Context, id string) error {
	identity := s.identity.CurrentIdentity()
	if identity == nil {
		return errs.ErrReviewDeleteLoginRequired
	}
	if err := s.backend.DeleteReview(ctx, identity.Subject, id); err != nil {
		return err
	}
	s.refreshAfterMutation(ctx, "delete review")
	return nil
}

// ToggleFavorite flips the favorite state of titleID for the current identity
// in a single store request and reports the resulting state.
func (s *Syncer) ToggleFavorite(ctx context.Context, titleID string) (bool, error) {
	identity := s.identity.CurrentIdentity()
	if identity == nil {
		return false, errs.ErrFavoriteLoginRequired
	}
	favorited, err := s.backend.ToggleFavorite(ctx, identity.Subject, titleID)
	if err != nil {
		return false, err
	}
	s.refreshAfterMutation(ctx, "toggle favorite")
	return favorited, nil
}

// Trigger schedules a refresh on the Run loop. Pending triggers coalesce.
func (s *Syncer) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// HandleSessionEvent refreshes whenever the identity changes. It matches
// session.Observer.
func (s *Syncer) HandleSessionEvent(e session.Event) {
	s.logger.WithField("event", string(e.Kind)).Debug("datasync: identity changed, scheduling refresh")
	s.Trigger()
}

// HandleChange refreshes on every pushed change. It matches realtime.Handler.
func (s *Syncer) HandleChange(c realtime.Change) {
	s.logger.WithFields(logrus.Fields{
		"table": c.Table,
		"kind":  string(c.Kind),
	}).Debug("datasync: change pushed, scheduling refresh")
	s.Trigger()
}

// Run performs triggered refreshes until ctx is done.
func (s *Syncer) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.trigger:
			if err := s.Refresh(ctx); err != nil && ctx.Err() == nil {
				s.logger.WithError(err).Warn("datasync: refresh failed, keeping previous snapshot")
			}
		}
	}
}

// Watch subscribes to pushed changes of the watched tables until ctx is done.
func (s *Syncer) Watch(ctx context.Context, source realtime.Source) error {
	return source.Run(ctx, WatchedTables, s.HandleChange)
}

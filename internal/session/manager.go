package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kdbuddy/kdbuddy/internal/domain"
	"github.com/kdbuddy/kdbuddy/internal/errs"
	"github.com/kdbuddy/kdbuddy/internal/logger"
)

// Options tunes a Manager.
type Options struct {
	Store  Store
	Logger *logrus.Logger
	// RefreshMargin is how long before expiry the access token is renewed.
	RefreshMargin time.Duration
	// RetryDelay spaces refresh attempts after transport failures.
	RetryDelay time.Duration
}

// Manager owns the device's single session.
type Manager struct {
	auth   Authenticator
	store  Store
	logger *logrus.Logger
	margin time.Duration
	retry  time.Duration
	now    func() time.Time

	// transition serializes state changes together with their notifications
	// so observers see events in the order the state changed.
	transition sync.Mutex
	mu         sync.RWMutex
	current    *Session

	obsMu     sync.Mutex
	observers map[int]Observer
	order     []int
	nextID    int

	loading atomic.Int32
	wake    chan struct{}
}

// NewManager builds a Manager. Call Start to restore a persisted session.
func NewManager(auth Authenticator, opts Options) *Manager {
	if opts.Store == nil {
		opts.Store = &MemoryStore{}
	}
	if opts.RefreshMargin <= 0 {
		opts.RefreshMargin = time.Minute
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 10 * time.Second
	}
	return &Manager{
		auth:      auth,
		store:     opts.Store,
		logger:    logger.OrDefault(opts.Logger),
		margin:    opts.RefreshMargin,
		retry:     opts.RetryDelay,
		now:       time.Now,
		observers: make(map[int]Observer),
		wake:      make(chan struct{}, 1),
	}
}

// CurrentIdentity returns the signed-in identity, or nil for a guest.
func (m *Manager) CurrentIdentity() *domain.Identity {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current.Identity()
}

// IsGuest reports whether nobody is signed in.
func (m *Manager) IsGuest() bool {
	return m.CurrentIdentity() == nil
}

// AccessToken returns the bearer token of the current session; empty for guests.
func (m *Manager) AccessToken() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil {
		return ""
	}
	return m.current.AccessToken
}

// Loading reports whether an auth operation is in flight.
func (m *Manager) Loading() bool {
	return m.loading.Load() > 0
}

func (m *Manager) begin() func() {
	m.loading.Add(1)
	return func() { m.loading.Add(-1) }
}

// Subscribe registers fn for identity changes and returns its cancel func.
func (m *Manager) Subscribe(fn Observer) func() {
	m.obsMu.Lock()
	defer m.obsMu.Unlock()
	id := m.nextID
	m.nextID++
	m.observers[id] = fn
	m.order = append(m.order, id)
	return func() {
		m.obsMu.Lock()
		defer m.obsMu.Unlock()
		delete(m.observers, id)
		for i, v := range m.order {
			if v == id {
				m.order = append(m.order[:i], m.order[i+1:]...)
				break
			}
		}
	}
}

// Start restores the persisted session, renewing it first when it has already
// expired, and emits the initial event.
func (m *Manager) Start(ctx context.Context) error {
	defer m.begin()()

	s, err := m.store.Load()
	if err != nil {
		m.logger.WithError(err).Warn("session: discarding unreadable stored session")
		s = nil
	}
	fillFromClaims(s)

	if s != nil && m.expired(s) {
		s = m.renewExpired(ctx, s)
	}
	m.set(nil, false, s, EventInitial)
	return nil
}

func (m *Manager) expired(s *Session) bool {
	return !s.ExpiresAt.IsZero() && !m.now().Before(s.ExpiresAt)
}

func (m *Manager) renewExpired(ctx context.Context, s *Session) *Session {
	if s.RefreshToken == "" {
		return nil
	}
	fresh, err := m.auth.Refresh(ctx, s.RefreshToken)
	if err != nil {
		m.logger.WithError(err).Warn("session: stored session expired and could not be renewed")
		return nil
	}
	fillFromClaims(fresh)
	return fresh
}

// SignIn authenticates with email and password. Failures are *errs.AuthError
// carrying the auth service's message.
func (m *Manager) SignIn(ctx context.Context, email, password string) error {
	defer m.begin()()

	s, err := m.auth.SignIn(ctx, email, password)
	if err != nil {
		return asAuthError(err)
	}
	fillFromClaims(s)
	m.set(nil, false, s, EventSignedIn)
	return nil
}

// SignUp registers an account. When the service requires email confirmation
// no session is established and the device stays a guest.
func (m *Manager) SignUp(ctx context.Context, email, password string) error {
	defer m.begin()()

	s, err := m.auth.SignUp(ctx, email, password)
	if err != nil {
		return asAuthError(err)
	}
	if s == nil {
		m.logger.WithField("email", email).Info("session: sign-up awaiting email confirmation")
		return nil
	}
	fillFromClaims(s)
	m.set(nil, false, s, EventSignedIn)
	return nil
}

// SignOut clears the local session. A failed remote revocation is logged and
// otherwise ignored.
func (m *Manager) SignOut(ctx context.Context) {
	defer m.begin()()

	if token := m.AccessToken(); token != "" {
		if err := m.auth.SignOut(ctx, token); err != nil {
			m.logger.WithError(err).Warn("session: remote sign-out failed")
		}
	}
	m.set(nil, false, nil, EventSignedOut)
}

// Run renews the access token shortly before it expires until ctx is done. A
// refresh the auth service rejects signs the device out.
func (m *Manager) Run(ctx context.Context) error {
	for {
		m.mu.RLock()
		s := m.current
		m.mu.RUnlock()

		var due <-chan time.Time
		var timer *time.Timer
		if s != nil && s.RefreshToken != "" && !s.ExpiresAt.IsZero() {
			wait := s.ExpiresAt.Sub(m.now()) - m.margin
			if wait < 0 {
				wait = 0
			}
			timer = time.NewTimer(wait)
			due = timer.C
		}

		select {
		case <-ctx.Done():
			stopTimer(timer)
			return ctx.Err()
		case <-m.wake:
			stopTimer(timer)
		case <-due:
			if !m.refresh(ctx, s) {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-m.wake:
				case <-time.After(m.retry):
				}
			}
		}
	}
}

// refresh renews s and reports whether another attempt is unnecessary.
func (m *Manager) refresh(ctx context.Context, s *Session) bool {
	fresh, err := m.auth.Refresh(ctx, s.RefreshToken)
	if err != nil {
		if errors.Is(err, errs.ErrAuth) {
			m.logger.WithError(err).Warn("session: refresh rejected, signing out")
			m.set(s, true, nil, EventSignedOut)
			return true
		}
		m.logger.WithError(err).Warn("session: token refresh failed")
		return false
	}
	fillFromClaims(fresh)
	m.set(s, true, fresh, EventTokenRefreshed)
	return true
}

// set installs next and notifies observers. With guarded set, the change is
// applied only while the current session is still expected.
func (m *Manager) set(expected *Session, guarded bool, next *Session, kind EventKind) {
	m.transition.Lock()
	defer m.transition.Unlock()

	m.mu.Lock()
	if guarded && m.current != expected {
		m.mu.Unlock()
		return
	}
	m.current = next
	m.mu.Unlock()

	if next == nil {
		if err := m.store.Clear(); err != nil {
			m.logger.WithError(err).Warn("session: clear stored session")
		}
	} else if err := m.store.Save(next); err != nil {
		m.logger.WithError(err).Warn("session: persist session")
	}

	select {
	case m.wake <- struct{}{}:
	default:
	}

	event := Event{Kind: kind, Identity: next.Identity()}
	m.logger.WithFields(logrus.Fields{
		"event": string(kind),
		"guest": event.Identity == nil,
	}).Info("session: identity changed")
	for _, fn := range m.snapshotObservers() {
		fn(event)
	}
}

func (m *Manager) snapshotObservers() []Observer {
	m.obsMu.Lock()
	defer m.obsMu.Unlock()
	out := make([]Observer, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.observers[id])
	}
	return out
}

func stopTimer(t *time.Timer) {
	if t != nil {
		t.Stop()
	}
}

func asAuthError(err error) error {
	var ae *errs.AuthError
	if errors.As(err, &ae) {
		return ae
	}
	return &errs.AuthError{Message: err.Error()}
}

package httpserver

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/kdbuddy/kdbuddy/internal/config"
	"github.com/kdbuddy/kdbuddy/internal/domain"
	"github.com/kdbuddy/kdbuddy/internal/logger"
)

// Catalog is the synchronized data layer the views read from and the
// mutations go through.
type Catalog interface {
	Snapshot() *domain.Snapshot
	Loading() bool
	Refresh(ctx context.Context) error
	UpsertTitle(ctx context.Context, in domain.TitleInput) error
	DeleteTitle(ctx context.Context, id string) error
	UpsertReview(ctx context.Context, in domain.ReviewInput) error
	DeleteReview(ctx context.Context, id string) error
	ToggleFavorite(ctx context.Context, titleID string) (bool, error)
}

// Sessions is the device session.
type Sessions interface {
	CurrentIdentity() *domain.Identity
	Loading() bool
	SignIn(ctx context.Context, email, password string) error
	SignUp(ctx context.Context, email, password string) error
	SignOut(ctx context.Context)
}

// Assets fetches shell assets, normally through the offline cache.
type Assets interface {
	http.RoundTripper
	URL(path string) string
}

// HealthChecker reports backend reachability.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Server wires HTTP routing, middleware, and handlers.
type Server struct {
	cfg      config.Config
	catalog  Catalog
	sessions Sessions
	assets   Assets
	health   HealthChecker
	logger   *logrus.Logger
	router   chi.Router
	httpSrv  *http.Server
}

// New constructs the HTTP server with base middleware and routes. assets and
// health may be nil.
func New(cfg config.Config, catalog Catalog, sessions Sessions, assets Assets, health HealthChecker, log *logrus.Logger) *Server {
	log = logger.OrDefault(log)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(log))
	r.Use(middleware.Recoverer)

	s := &Server{
		cfg:      cfg,
		catalog:  catalog,
		sessions: sessions,
		assets:   assets,
		health:   health,
		logger:   log,
		router:   r,
	}
	s.registerRoutes()
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) registerRoutes() {
	s.router.Get("/healthz", s.handleHealthz)
	s.router.Route("/api", func(r chi.Router) {
		r.Get("/home", s.handleHome)
		r.Get("/genres", s.handleGenres)
		r.Get("/genres/{genre}", s.handleGenre)
		r.Get("/actors/{name}", s.handleActor)
		r.Get("/community", s.handleCommunity)
		r.Get("/profile", s.handleProfile)

		r.Route("/titles", func(r chi.Router) {
			r.Get("/", s.handleListTitles)
			r.Post("/", s.handleCreateTitle)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetTitle)
				r.Put("/", s.handleUpdateTitle)
				r.Delete("/", s.handleDeleteTitle)
			})
		})
		r.Route("/reviews", func(r chi.Router) {
			r.Post("/", s.handleCreateReview)
			r.Put("/{id}", s.handleUpdateReview)
			r.Delete("/{id}", s.handleDeleteReview)
		})
		r.Route("/favorites", func(r chi.Router) {
			r.Get("/", s.handleFavorites)
			r.Post("/{titleID}/toggle", s.handleToggleFavorite)
		})
		r.Route("/auth", func(r chi.Router) {
			r.Get("/", s.handleAuthState)
			r.Post("/signin", s.handleSignIn)
			r.Post("/signup", s.handleSignUp)
			r.Post("/signout", s.handleSignOut)
		})
		r.Post("/refresh", s.handleRefresh)
	})

	s.router.Get("/", s.handleAsset)
	s.router.Get("/index.html", s.handleAsset)
	s.router.Get("/offline.html", s.handleAsset)
	s.router.Get("/assets/*", s.handleAsset)
}

// Start boots the HTTP server and blocks until ctx is done or serving fails.
func (s *Server) Start(ctx context.Context) error {
	s.httpSrv = &http.Server{
		Addr:         ":" + s.cfg.Port,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.cfg.ReadTimeoutSecs) * time.Second,
		WriteTimeout: time.Duration(s.cfg.WriteTimeoutSecs) * time.Second,
		IdleTimeout:  time.Duration(s.cfg.IdleTimeoutSecs) * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.httpSrv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.health.HealthCheck(ctx); err != nil {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
			return
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func requestLogger(log *logrus.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			started := time.Now()
			next.ServeHTTP(ww, r)
			log.WithFields(logrus.Fields{
				"request_id": middleware.GetReqID(r.Context()),
				"method":     r.Method,
				"path":       r.URL.Path,
				"status":     ww.Status(),
				"bytes":      ww.BytesWritten(),
				"duration":   time.Since(started).String(),
			}).Info("http: request")
		})
	}
}

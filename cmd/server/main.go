package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/kdbuddy/kdbuddy/internal/config"
	"github.com/kdbuddy/kdbuddy/internal/datasync"
	httpserver "github.com/kdbuddy/kdbuddy/internal/http"
	"github.com/kdbuddy/kdbuddy/internal/logger"
	"github.com/kdbuddy/kdbuddy/internal/offline"
	"github.com/kdbuddy/kdbuddy/internal/realtime"
	"github.com/kdbuddy/kdbuddy/internal/repository"
	"github.com/kdbuddy/kdbuddy/internal/session"
	"github.com/kdbuddy/kdbuddy/internal/store"
	"github.com/kdbuddy/kdbuddy/internal/supabase"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("config error: %v", err)
	}
	log := logger.New(cfg.LogLevel, cfg.LogFormat)

	if err := run(ctx, cfg, log); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Fatal("kdbuddy stopped")
	}
	log.Info("kdbuddy stopped")
}

// backend bundles the data store the syncer reads from with its push channel.
type backend struct {
	data    datasync.Backend
	changes realtime.Source
	health  httpserver.HealthChecker
	close   func()
}

func run(ctx context.Context, cfg config.Config, log *logrus.Logger) error {
	apiOpts := supabase.Options{
		BaseURL:   cfg.StoreURL,
		APIKey:    cfg.StoreAPIKey,
		Timeout:   time.Duration(cfg.StoreTimeoutSecs) * time.Second,
		RateLimit: cfg.StoreRateLimit,
		RateBurst: cfg.StoreRateBurst,
		Logger:    log,
	}

	auth, err := supabase.NewAuthClient(apiOpts)
	if err != nil {
		return err
	}
	var sessionStore session.Store = &session.MemoryStore{}
	if cfg.SessionFile != "" {
		sessionStore = session.FileStore{Path: cfg.SessionFile}
	}
	manager := session.NewManager(auth, session.Options{Store: sessionStore, Logger: log})

	be, err := openBackend(ctx, cfg, apiOpts, manager, log)
	if err != nil {
		return err
	}
	defer be.close()

	syncer := datasync.New(be.data, manager, log)
	unsubscribe := manager.Subscribe(syncer.HandleSessionEvent)
	defer unsubscribe()

	worker, closeAssets, err := openAssetCache(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeAssets()
	var assets httpserver.Assets
	if worker != nil {
		assets = worker
	}

	server := httpserver.New(cfg, syncer, manager, assets, be.health, log)

	// The initial session event queues the first refresh.
	if err := manager.Start(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return manager.Run(gctx) })
	g.Go(func() error { return syncer.Run(gctx) })
	if cfg.RealtimeEnabled && be.changes != nil {
		g.Go(func() error { return syncer.Watch(gctx, be.changes) })
	}
	if worker != nil {
		g.Go(func() error {
			if err := worker.Start(gctx); err != nil {
				log.WithError(err).Warn("offline cache did not activate")
			}
			return nil
		})
	}
	g.Go(func() error {
		err := server.Start(gctx)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	log.WithFields(logrus.Fields{
		"port":     cfg.Port,
		"driver":   cfg.StoreDriver,
		"realtime": cfg.RealtimeEnabled,
		"assets":   cfg.AssetOrigin,
	}).Info("kdbuddy started")

	err = g.Wait()
	if worker != nil {
		worker.Wait()
	}
	return err
}

func openBackend(ctx context.Context, cfg config.Config, apiOpts supabase.Options, tokens supabase.TokenSource, log *logrus.Logger) (backend, error) {
	if cfg.StoreDriver == config.DriverPostgres {
		return openPostgres(ctx, cfg, log)
	}

	rest, err := supabase.NewRESTClient(apiOpts, tokens)
	if err != nil {
		return backend{}, err
	}
	live, err := supabase.NewRealtimeClient(apiOpts, tokens, time.Duration(cfg.RealtimeHeartbeatSecs)*time.Second)
	if err != nil {
		return backend{}, err
	}
	return backend{data: rest, changes: live, close: func() {}}, nil
}

func openPostgres(ctx context.Context, cfg config.Config, log *logrus.Logger) (backend, error) {
	dbCtx, cancel := context.WithTimeout(ctx, time.Duration(cfg.DBConnTimeoutSecs)*time.Second)
	defer cancel()

	if cfg.DBMigrate {
		if err := store.Migrate(dbCtx, cfg.DBURL); err != nil {
			return backend{}, err
		}
	}

	st, err := store.New(dbCtx, cfg.DBURL, store.OptionsFromConfig(cfg, log))
	if err != nil {
		return backend{}, err
	}
	return backend{
		data:    repository.New(st),
		changes: repository.NewListener(st.Pool(), log),
		health:  st,
		close:   st.Close,
	}, nil
}

// openAssetCache returns a nil worker when no asset origin is configured.
func openAssetCache(ctx context.Context, cfg config.Config, log *logrus.Logger) (*offline.Worker, func(), error) {
	closeFn := func() {}
	if cfg.AssetOrigin == "" {
		log.Info("ASSET_ORIGIN not set, shell asset routes disabled")
		return nil, closeFn, nil
	}

	var storage offline.Storage = offline.NewMemoryStorage()
	if cfg.AssetCacheBackend == config.CacheBackendRedis {
		client, err := offline.DialRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, closeFn, err
		}
		storage = offline.NewRedisStorage(client, "")
		closeFn = func() { _ = client.Close() }
	}

	worker, err := offline.New(offline.Options{
		Origin:      cfg.AssetOrigin,
		Version:     cfg.AssetCacheVersion,
		Manifest:    cfg.AssetManifest,
		OfflinePage: cfg.AssetOfflinePage,
		Storage:     storage,
		Transport:   &http.Transport{Proxy: http.ProxyFromEnvironment, ResponseHeaderTimeout: time.Duration(cfg.AssetTimeoutSecs) * time.Second},
		Logger:      log,
	})
	if err != nil {
		closeFn()
		return nil, func() {}, err
	}
	return worker, closeFn, nil
}

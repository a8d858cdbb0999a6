// Package store owns the PostgreSQL connection pool used by the self-hosted
// backend and its change listener.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/kdbuddy/kdbuddy/internal/config"
	"github.com/kdbuddy/kdbuddy/internal/logger"
)

// Options tunes the pool. Zero values keep pgxpool's defaults.
type Options struct {
	MaxConns        int32
	MinConns        int32
	MaxConnIdleTime time.Duration
	MaxConnLifetime time.Duration
	ConnTimeout     time.Duration
	// StatementCache sizes the per-connection prepared statement cache; 0
	// falls back to describe-only execution.
	StatementCache int
	Logger         *logrus.Logger
}

// OptionsFromConfig maps the DB_* settings onto Options.
func OptionsFromConfig(cfg config.Config, log *logrus.Logger) Options {
	return Options{
		MaxConns:        int32(cfg.DBMaxConns),
		MinConns:        int32(cfg.DBMinConns),
		MaxConnIdleTime: time.Duration(cfg.DBMaxIdleSecs) * time.Second,
		MaxConnLifetime: time.Duration(cfg.DBMaxLifeSecs) * time.Second,
		ConnTimeout:     time.Duration(cfg.DBConnTimeoutSecs) * time.Second,
		StatementCache:  cfg.DBStatementCache,
		Logger:          log,
	}
}

// Store wraps the pool shared by the repository and the listener.
type Store struct {
	pool    *pgxpool.Pool
	logger  *logrus.Logger
	timeout time.Duration
}

// New connects and pings the database within opts.ConnTimeout.
func New(ctx context.Context, dbURL string, opts Options) (*Store, error) {
	log := logger.OrDefault(opts.Logger)
	cfg, err := poolConfig(dbURL, opts)
	if err != nil {
		return nil, err
	}

	if opts.ConnTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.ConnTimeout)
		defer cancel()
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	log.WithFields(logrus.Fields{
		"host":      cfg.ConnConfig.Host,
		"database":  cfg.ConnConfig.Database,
		"max_conns": cfg.MaxConns,
	}).Info("store: connected")
	return &Store{pool: pool, logger: log, timeout: opts.ConnTimeout}, nil
}

func poolConfig(dbURL string, opts Options) (*pgxpool.Config, error) {
	cfg, err := pgxpool.ParseConfig(dbURL)
	if err != nil {
		return nil, fmt.Errorf("parse db url: %w", err)
	}
	if opts.MaxConns > 0 {
		cfg.MaxConns = opts.MaxConns
	}
	if opts.MinConns > 0 && opts.MinConns <= cfg.MaxConns {
		cfg.MinConns = opts.MinConns
	}
	if opts.MaxConnIdleTime > 0 {
		cfg.MaxConnIdleTime = opts.MaxConnIdleTime
	}
	if opts.MaxConnLifetime > 0 {
		cfg.MaxConnLifetime = opts.MaxConnLifetime
	}
	if opts.StatementCache > 0 {
		cfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeCacheStatement
		cfg.ConnConfig.StatementCacheCapacity = opts.StatementCache
	} else {
		cfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeCacheDescribe
	}
	return cfg, nil
}

// Close releases the pool. It is safe on a nil Store.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
	s.logger.Info("store: pool closed")
}

// HealthCheck pings the database. It backs /healthz on the postgres driver.
func (s *Store) HealthCheck(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("store not initialized")
	}
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	return s.pool.Ping(ctx)
}

// Pool returns the underlying pool.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

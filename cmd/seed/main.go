// Command seed loads a JSON catalogue of titles into the configured backend.
// Titles already present (same name and year) are skipped, so the command can
// be rerun safely.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kdbuddy/kdbuddy/internal/config"
	"github.com/kdbuddy/kdbuddy/internal/domain"
	"github.com/kdbuddy/kdbuddy/internal/errs"
	"github.com/kdbuddy/kdbuddy/internal/logger"
	"github.com/kdbuddy/kdbuddy/internal/repository"
	"github.com/kdbuddy/kdbuddy/internal/store"
	"github.com/kdbuddy/kdbuddy/internal/supabase"
)

// seedBackend is the write side shared by the REST client and the repository.
type seedBackend interface {
	ListTitles(ctx context.Context) ([]domain.Title, error)
	UpsertTitle(ctx context.Context, in domain.TitleInput) error
}

// guestToken sends the public API key as bearer.
type guestToken struct{}

func (guestToken) AccessToken() string { return "" }

func main() {
	var (
		data   = flag.String("data", "db/seed/kdramas.json", "path to the catalogue file")
		dryRun = flag.Bool("dry-run", false, "validate the catalogue without writing")
	)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("config error: %v", err)
	}
	log := logger.New(cfg.LogLevel, cfg.LogFormat)

	entries, err := readCatalogue(*data)
	if err != nil {
		log.WithError(err).Fatal("read catalogue")
	}
	if *dryRun {
		log.WithField("titles", len(entries)).Info("catalogue is valid")
		return
	}

	backend, closeFn, err := openBackend(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Fatal("open backend")
	}
	defer closeFn()

	created, skipped, err := seed(ctx, backend, entries, log)
	if err != nil {
		log.WithError(err).Fatal("seed failed")
	}
	log.WithFields(logrus.Fields{"created": created, "skipped": skipped}).Info("seed complete")
}

func readCatalogue(path string) ([]domain.TitleInput, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var entries []domain.TitleInput
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	for i, e := range entries {
		// Identifiers come from the store.
		e.ID = ""
		e = e.Normalize()
		if err := e.Validate(); err != nil {
			return nil, fmt.Errorf("entry %d (%q): %w", i, e.Name, errs.Invalid(err))
		}
		entries[i] = e
	}
	return entries, nil
}

func seed(ctx context.Context, backend seedBackend, entries []domain.TitleInput, log *logrus.Logger) (created, skipped int, err error) {
	existing, err := backend.ListTitles(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("list titles: %w", err)
	}
	seen := make(map[string]struct{}, len(existing))
	for _, t := range existing {
		seen[titleKey(t.Name, t.Year)] = struct{}{}
	}

	for _, in := range entries {
		key := titleKey(in.Name, in.Year)
		if _, ok := seen[key]; ok {
			skipped++
			continue
		}
		if err := backend.UpsertTitle(ctx, in); err != nil {
			return created, skipped, fmt.Errorf("insert %q: %w", in.Name, err)
		}
		seen[key] = struct{}{}
		created++
		log.WithField("title", in.Name).Debug("seeded title")
	}
	return created, skipped, nil
}

func titleKey(name string, year int) string {
	return fmt.Sprintf("%s|%d", strings.ToLower(strings.TrimSpace(name)), year)
}

func openBackend(ctx context.Context, cfg config.Config, log *logrus.Logger) (seedBackend, func(), error) {
	if cfg.StoreDriver != config.DriverPostgres {
		client, err := supabase.NewRESTClient(supabase.Options{
			BaseURL:   cfg.StoreURL,
			APIKey:    cfg.StoreAPIKey,
			Timeout:   time.Duration(cfg.StoreTimeoutSecs) * time.Second,
			RateLimit: cfg.StoreRateLimit,
			RateBurst: cfg.StoreRateBurst,
			Logger:    log,
		}, guestToken{})
		if err != nil {
			return nil, nil, err
		}
		return client, func() {}, nil
	}

	dbCtx, cancel := context.WithTimeout(ctx, time.Duration(cfg.DBConnTimeoutSecs)*time.Second)
	defer cancel()
	if cfg.DBMigrate {
		if err := store.Migrate(dbCtx, cfg.DBURL); err != nil {
			return nil, nil, err
		}
	}
	st, err := store.New(dbCtx, cfg.DBURL, store.OptionsFromConfig(cfg, log))
	if err != nil {
		return nil, nil, err
	}
	return repository.New(st), st.Close, nil
}

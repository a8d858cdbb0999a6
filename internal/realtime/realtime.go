// Package realtime describes server-pushed change notifications. Payloads
// carry no guarantee beyond "something changed in this table".
package realtime

import (
	"context"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kdbuddy/kdbuddy/internal/logger"
)

// Store collections that can emit changes.
const (
	TableTitles    = "kdramas"
	TableReviews   = "reviews"
	TableFavorites = "favorites"
)

// Kind is the change type reported by the store.
type Kind string

const (
	KindInsert Kind = "INSERT"
	KindUpdate Kind = "UPDATE"
	KindDelete Kind = "DELETE"
)

// ParseKind normalizes a change type; unknown values yield "".
func ParseKind(raw string) Kind {
	switch k := Kind(strings.ToUpper(strings.TrimSpace(raw))); k {
	case KindInsert, KindUpdate, KindDelete:
		return k
	}
	return ""
}

// Change is one pushed notification.
type Change struct {
	Table string
	Kind  Kind
}

// Handler receives changes. It is called from the source's goroutine.
type Handler func(Change)

// Source delivers changes for the given tables until ctx is done.
type Source interface {
	Run(ctx context.Context, tables []string, handle Handler) error
}

// Watches reports whether table is in tables.
func Watches(tables []string, table string) bool {
	for _, t := range tables {
		if t == table {
			return true
		}
	}
	return false
}

// Reconnect runs connect until ctx is done, waiting delay between attempts.
// The delay doubles after consecutive failures up to maxDelay and resets when a
// connection lasted longer than maxDelay.
func Reconnect(ctx context.Context, log *logrus.Logger, name string, delay, maxDelay time.Duration, connect func(context.Context) error) error {
	log = logger.OrDefault(log)
	wait := delay
	for {
		started := time.Now()
		err := connect(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if time.Since(started) > maxDelay {
			wait = delay
		}
		log.WithError(err).WithFields(logrus.Fields{
			"source": name,
			"retry":  wait.String(),
		}).Warn("realtime: connection lost")

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		if wait *= 2; wait > maxDelay {
			wait = maxDelay
		}
	}
}

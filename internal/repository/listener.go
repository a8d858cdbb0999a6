package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/kdbuddy/kdbuddy/internal/logger"
	"github.com/kdbuddy/kdbuddy/internal/realtime"
)

// ChangeChannel is the NOTIFY channel written by the change triggers.
const ChangeChannel = "kdbuddy_changes"

// Listener turns PostgreSQL notifications into realtime changes. It holds one
// pooled connection for as long as it runs.
type Listener struct {
	pool     *pgxpool.Pool
	logger   *logrus.Logger
	retry    time.Duration
	maxRetry time.Duration
}

// NewListener builds a listener on pool.
func NewListener(pool *pgxpool.Pool, log *logrus.Logger) *Listener {
	return &Listener{
		pool:     pool,
		logger:   logger.OrDefault(log),
		retry:    time.Second,
		maxRetry: 30 * time.Second,
	}
}

var _ realtime.Source = (*Listener)(nil)

// Run blocks delivering changes for tables until ctx is done, re-acquiring a
// connection after failures.
func (l *Listener) Run(ctx context.Context, tables []string, handle realtime.Handler) error {
	return realtime.Reconnect(ctx, l.logger, "postgres", l.retry, l.maxRetry, func(ctx context.Context) error {
		return l.listen(ctx, tables, handle)
	})
}

func (l *Listener) listen(ctx context.Context, tables []string, handle realtime.Handler) error {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire listen connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+ChangeChannel); err != nil {
		return fmt.Errorf("listen %s: %w", ChangeChannel, err)
	}
	defer func() {
		// The connection returns to the pool; drop the subscription first.
		_, _ = conn.Exec(context.Background(), "UNLISTEN "+ChangeChannel)
	}()
	l.logger.WithField("channel", ChangeChannel).Info("realtime: listening for changes")

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}
		change, ok := decodeNotification(n.Payload)
		if !ok {
			l.logger.WithField("payload", n.Payload).Warn("realtime: ignoring malformed notification")
			continue
		}
		if realtime.Watches(tables, change.Table) {
			handle(change)
		}
	}
}

type notificationPayload struct {
	Table string `json:"table"`
	Type  string `json:"type"`
}

func decodeNotification(payload string) (realtime.Change, bool) {
	var p notificationPayload
	if err := json.Unmarshal([]byte(payload), &p); err != nil || p.Table == "" {
		return realtime.Change{}, false
	}
	return realtime.Change{Table: p.Table, Kind: realtime.ParseKind(p.Type)}, true
}

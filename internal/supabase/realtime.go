package supabase

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/kdbuddy/kdbuddy/internal/logger"
	"github.com/kdbuddy/kdbuddy/internal/realtime"
)

const (
	eventJoin            = "phx_join"
	eventReply           = "phx_reply"
	eventError           = "phx_error"
	eventClose           = "phx_close"
	eventHeartbeat       = "heartbeat"
	eventPostgresChanges = "postgres_changes"
	eventSystem          = "system"

	topicPhoenix = "phoenix"
)

// RealtimeClient subscribes to table changes over the Realtime websocket,
// which speaks the Phoenix channel protocol.
type RealtimeClient struct {
	url       string
	tokens    TokenSource
	apiKey    string
	heartbeat time.Duration
	dialer    *websocket.Dialer
	logger    *logrus.Logger
	retry     time.Duration
	maxRetry  time.Duration
}

var _ realtime.Source = (*RealtimeClient)(nil)

// NewRealtimeClient derives the websocket endpoint from opts.BaseURL.
func NewRealtimeClient(opts Options, tokens TokenSource, heartbeat time.Duration) (*RealtimeClient, error) {
	parsed, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse supabase url: %w", err)
	}
	switch parsed.Scheme {
	case "https", "wss":
		parsed.Scheme = "wss"
	case "http", "ws":
		parsed.Scheme = "ws"
	default:
		return nil, fmt.Errorf("supabase: unsupported realtime scheme %q", parsed.Scheme)
	}
	parsed.Path += "/realtime/v1/websocket"
	q := url.Values{}
	q.Set("apikey", opts.APIKey)
	q.Set("vsn", "1.0.0")
	parsed.RawQuery = q.Encode()

	if heartbeat <= 0 {
		heartbeat = 30 * time.Second
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &RealtimeClient{
		url:       parsed.String(),
		tokens:    tokens,
		apiKey:    opts.APIKey,
		heartbeat: heartbeat,
		dialer:    &websocket.Dialer{HandshakeTimeout: timeout},
		logger:    logger.OrDefault(opts.Logger),
		retry:     time.Second,
		maxRetry:  30 * time.Second,
	}, nil
}

type outbound struct {
	Topic   string `json:"topic"`
	Event   string `json:"event"`
	Payload any    `json:"payload"`
	Ref     string `json:"ref"`
}

type inbound struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     *string         `json:"ref"`
}

type joinPayload struct {
	Config      joinConfig `json:"config"`
	AccessToken string     `json:"access_token,omitempty"`
}

type joinConfig struct {
	PostgresChanges []changeFilter `json:"postgres_changes"`
}

type changeFilter struct {
	Event  string `json:"event"`
	Schema string `json:"schema"`
	Table  string `json:"table"`
}

type changePayload struct {
	Data struct {
		Table string `json:"table"`
		Type  string `json:"type"`
	} `json:"data"`
}

type replyPayload struct {
	Status   string          `json:"status"`
	Response json.RawMessage `json:"response"`
}

// Run keeps one websocket connection open, joining a channel per table, until
// ctx is done. Dropped connections are re-established with backoff.
func (c *RealtimeClient) Run(ctx context.Context, tables []string, handle realtime.Handler) error {
	return realtime.Reconnect(ctx, c.logger, "supabase-realtime", c.retry, c.maxRetry, func(ctx context.Context) error {
		return c.connect(ctx, tables, handle)
	})
}

type phoenixConn struct {
	ws  *websocket.Conn
	mu  sync.Mutex
	ref atomic.Uint64
}

func (p *phoenixConn) send(topic, event string, payload any) (string, error) {
	ref := strconv.FormatUint(p.ref.Add(1), 10)
	p.mu.Lock()
	defer p.mu.Unlock()
	return ref, p.ws.WriteJSON(outbound{Topic: topic, Event: event, Payload: payload, Ref: ref})
}

func channelTopic(table string) string { return "realtime:public:" + table }

func (c *RealtimeClient) connect(ctx context.Context, tables []string, handle realtime.Handler) error {
	ws, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("dial realtime: %w", err)
	}
	defer ws.Close()
	conn := &phoenixConn{ws: ws}

	token := c.apiKey
	if c.tokens != nil {
		if t := c.tokens.AccessToken(); t != "" {
			token = t
		}
	}
	joins := make(map[string]string, len(tables))
	for _, table := range tables {
		ref, err := conn.send(channelTopic(table), eventJoin, joinPayload{
			Config: joinConfig{PostgresChanges: []changeFilter{{
				Event:  "*",
				Schema: "public",
				Table:  table,
			}}},
			AccessToken: token,
		})
		if err != nil {
			return fmt.Errorf("join %s: %w", table, err)
		}
		joins[ref] = table
	}
	c.logger.WithField("tables", tables).Info("realtime: subscribed")

	g, gctx := errgroup.WithContext(ctx)
	stop := context.AfterFunc(gctx, func() { _ = ws.Close() })
	defer stop()

	g.Go(func() error {
		ticker := time.NewTicker(c.heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if _, err := conn.send(topicPhoenix, eventHeartbeat, struct{}{}); err != nil {
					return fmt.Errorf("heartbeat: %w", err)
				}
			}
		}
	})
	g.Go(func() error {
		for {
			var msg inbound
			if err := ws.ReadJSON(&msg); err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				return fmt.Errorf("read realtime: %w", err)
			}
			if err := c.dispatch(msg, joins, tables, handle); err != nil {
				return err
			}
		}
	})
	return g.Wait()
}

func (c *RealtimeClient) dispatch(msg inbound, joins map[string]string, tables []string, handle realtime.Handler) error {
	switch msg.Event {
	case eventPostgresChanges:
		var payload changePayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			c.logger.WithError(err).Warn("realtime: malformed change payload")
			return nil
		}
		if !realtime.Watches(tables, payload.Data.Table) {
			return nil
		}
		handle(realtime.Change{Table: payload.Data.Table, Kind: realtime.ParseKind(payload.Data.Type)})
	case eventReply:
		if msg.Ref == nil {
			return nil
		}
		table, ok := joins[*msg.Ref]
		if !ok {
			return nil
		}
		var reply replyPayload
		_ = json.Unmarshal(msg.Payload, &reply)
		if reply.Status != "ok" {
			return fmt.Errorf("join %s rejected: %s", table, strings.TrimSpace(string(reply.Response)))
		}
	case eventSystem:
		var reply replyPayload
		_ = json.Unmarshal(msg.Payload, &reply)
		if reply.Status == "error" {
			return fmt.Errorf("realtime %s: system error", msg.Topic)
		}
	case eventError, eventClose:
		if msg.Topic != topicPhoenix {
			return fmt.Errorf("realtime %s: %s", msg.Topic, msg.Event)
		}
	}
	return nil
}

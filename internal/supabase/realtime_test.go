package supabase

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/kdbuddy/kdbuddy/internal/logger"
	"github.com/kdbuddy/kdbuddy/internal/realtime"
)

// phoenixServer accepts one websocket, acknowledges every join and then pushes
// the given change events.
func phoenixServer(t *testing.T, joined chan<- inbound, pushes []string) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/realtime/v1/websocket" || r.URL.Query().Get("apikey") != "anon-key" {
			http.Error(w, "bad endpoint", http.StatusBadRequest)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		joins := 0
		for joins < 2 {
			var msg inbound
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			if msg.Event != eventJoin {
				continue
			}
			joins++
			joined <- msg
			_ = conn.WriteJSON(map[string]any{
				"topic":   msg.Topic,
				"event":   eventReply,
				"payload": map[string]any{"status": "ok", "response": map[string]any{}},
				"ref":     *msg.Ref,
			})
		}
		for _, table := range pushes {
			_ = conn.WriteJSON(map[string]any{
				"topic": channelTopic(table),
				"event": eventPostgresChanges,
				"payload": map[string]any{
					"data": map[string]any{"table": table, "type": "INSERT"},
				},
				"ref": nil,
			})
		}
		// Keep the socket open until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRealtimeClient_JoinsAndDeliversChanges(t *testing.T) {
	joined := make(chan inbound, 4)
	srv := phoenixServer(t, joined, []string{"favorites", realtime.TableReviews})

	client, err := NewRealtimeClient(Options{BaseURL: srv.URL, APIKey: "anon-key", Logger: logger.Discard()}, staticToken("user-jwt"), time.Hour)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	changes := make(chan realtime.Change, 4)
	done := make(chan error, 1)
	go func() {
		done <- client.Run(ctx, []string{realtime.TableTitles, realtime.TableReviews}, func(c realtime.Change) {
			changes <- c
		})
	}()

	for i := 0; i < 2; i++ {
		select {
		case msg := <-joined:
			var payload joinPayload
			require.NoError(t, json.Unmarshal(msg.Payload, &payload))
			require.Equal(t, "user-jwt", payload.AccessToken)
			require.Len(t, payload.Config.PostgresChanges, 1)
		case <-time.After(2 * time.Second):
			t.Fatal("channel join not received")
		}
	}

	select {
	case c := <-changes:
		require.Equal(t, realtime.Change{Table: realtime.TableReviews, Kind: realtime.KindInsert}, c)
	case <-time.After(2 * time.Second):
		t.Fatal("change not delivered")
	}

	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestNewRealtimeClient_DerivesWebsocketURL(t *testing.T) {
	client, err := NewRealtimeClient(Options{BaseURL: "https://abc.supabase.co/", APIKey: "k"}, nil, 0)
	require.NoError(t, err)
	require.Equal(t, "wss://abc.supabase.co/realtime/v1/websocket?apikey=k&vsn=1.0.0", client.url)
	require.Equal(t, 30*time.Second, client.heartbeat)

	_, err = NewRealtimeClient(Options{BaseURL: "ftp://example.com"}, nil, 0)
	require.Error(t, err)
}

func TestRealtimeClient_DispatchRejectedJoin(t *testing.T) {
	client := &RealtimeClient{logger: logger.Discard()}
	ref := "1"
	err := client.dispatch(inbound{
		Topic:   channelTopic("kdramas"),
		Event:   eventReply,
		Payload: json.RawMessage(`{"status":"error","response":{"reason":"unauthorized"}}`),
		Ref:     &ref,
	}, map[string]string{"1": "kdramas"}, []string{"kdramas"}, func(realtime.Change) {})
	require.ErrorContains(t, err, "join kdramas rejected")
}

package stream

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"morph/internal/config"
	"morph/internal/hub"
	"morph/internal/logging"
)

func TestParseClientMessage(t *testing.T) {
	cases := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"join with group", `{"type":"join_group","group":"task:abc"}`, false},
		{"leave with group", `{"type":"leave_group","group":"all"}`, false},
		{"ping", `{"type":"ping"}`, false},
		{"join without group", `{"type":"join_group"}`, true},
		{"join with blank group", `{"type":"join_group","group":"  "}`, true},
		{"unknown type", `{"type":"subscribe","group":"all"}`, true},
		{"not json", `join please`, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseClientMessage([]byte(tc.input))
			if tc.wantErr && err == nil {
				t.Fatalf("expected error for %q", tc.input)
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error for %q: %v", tc.input, err)
			}
		})
	}
}

func newTestServer(t *testing.T) (*hub.Hub, *httptest.Server) {
	t.Helper()
	cfg := config.Default()
	h := hub.New(logging.NewNop(), 16)
	mgr := NewManager(&cfg, h, logging.NewNop())
	srv := httptest.NewServer(http.HandlerFunc(mgr.HandleWS))
	t.Cleanup(srv.Close)
	return h, srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(wsURL(srv), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

// syncPing round-trips an application-level ping so the server has processed
// every frame written before it.
func syncPing(t *testing.T, ws *websocket.Conn) {
	t.Helper()
	if err := ws.WriteJSON(ClientMessage{Type: TypePing}); err != nil {
		t.Fatalf("write ping: %v", err)
	}
	_ = ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var frame map[string]any
		if err := ws.ReadJSON(&frame); err != nil {
			t.Fatalf("await pong: %v", err)
		}
		if frame["type"] == "pong" {
			return
		}
	}
}

func TestManagerDeliversGroupEvents(t *testing.T) {
	h, srv := newTestServer(t)
	ws := dial(t, srv)

	if err := ws.WriteJSON(ClientMessage{Type: TypeJoinGroup, Group: hub.TaskGroup("abc")}); err != nil {
		t.Fatalf("write join: %v", err)
	}
	syncPing(t, ws)

	h.Publish(hub.TaskGroup("abc"), hub.Event{
		Type:      hub.EventProgressUpdate,
		TaskID:    "abc",
		Payload:   map[string]any{"progress": 42.5},
		Timestamp: time.Now().UTC(),
	})

	_ = ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	var envelope Envelope
	if err := ws.ReadJSON(&envelope); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if envelope.Type != string(hub.EventProgressUpdate) {
		t.Fatalf("expected progress_update, got %q", envelope.Type)
	}
	if envelope.TaskID != "abc" {
		t.Fatalf("expected task id abc, got %q", envelope.TaskID)
	}
	var payload struct {
		Progress float64 `json:"progress"`
	}
	if err := json.Unmarshal(envelope.Payload, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.Progress != 42.5 {
		t.Fatalf("expected progress 42.5, got %v", payload.Progress)
	}
}

func TestManagerImplicitAllMembership(t *testing.T) {
	h, srv := newTestServer(t)
	ws := dial(t, srv)
	syncPing(t, ws)

	h.Publish(hub.GroupAll, hub.Event{
		Type:      hub.EventTaskCreated,
		TaskID:    "t1",
		Timestamp: time.Now().UTC(),
	})

	_ = ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	var envelope Envelope
	if err := ws.ReadJSON(&envelope); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if envelope.Type != string(hub.EventTaskCreated) {
		t.Fatalf("expected task_created on implicit all membership, got %q", envelope.Type)
	}
}

func TestManagerLeaveStopsDelivery(t *testing.T) {
	h, srv := newTestServer(t)
	ws := dial(t, srv)

	group := hub.TaskGroup("gone")
	if err := ws.WriteJSON(ClientMessage{Type: TypeJoinGroup, Group: group}); err != nil {
		t.Fatalf("write join: %v", err)
	}
	if err := ws.WriteJSON(ClientMessage{Type: TypeLeaveGroup, Group: group}); err != nil {
		t.Fatalf("write leave: %v", err)
	}
	syncPing(t, ws)

	h.Publish(group, hub.Event{Type: hub.EventStatusUpdate, TaskID: "gone", Timestamp: time.Now().UTC()})
	// A broadcast afterwards still reaches the connection, proving the first
	// event was never queued rather than merely delayed.
	h.Publish(hub.GroupAll, hub.Event{Type: hub.EventTaskDeleted, TaskID: "marker", Timestamp: time.Now().UTC()})

	_ = ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	var envelope Envelope
	if err := ws.ReadJSON(&envelope); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if envelope.TaskID != "marker" {
		t.Fatalf("expected only the broadcast marker, got %+v", envelope)
	}
}

func TestClientReconnectsAndResyncs(t *testing.T) {
	var (
		mu    sync.Mutex
		conns int
	)
	joins := make(chan string, 8)
	upgrader := websocket.Upgrader{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		mu.Lock()
		conns++
		nth := conns
		mu.Unlock()
		defer ws.Close()

		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			msg, err := ParseClientMessage(data)
			if err != nil || msg.Type != TypeJoinGroup {
				continue
			}
			joins <- msg.Group
			if nth == 1 {
				return
			}
			_ = ws.WriteJSON(Envelope{Type: "status_update", TaskID: "t1", Timestamp: time.Now().UTC()})
		}
	}))
	defer srv.Close()

	var resyncs atomic.Int64
	client, err := NewClient(ClientOptions{
		URL:                  wsURL(srv),
		Resync:               func(context.Context) error { resyncs.Add(1); return nil },
		ReconnectInterval:    10 * time.Millisecond,
		ReconnectMaxInterval: 50 * time.Millisecond,
		ReconnectMaxAttempts: 20,
		Logger:               logging.NewNop(),
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if err := client.Join(hub.TaskGroup("t1")); err != nil {
		t.Fatalf("join: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runDone := make(chan error, 1)
	go func() { runDone <- client.Run(ctx) }()

	select {
	case envelope := <-client.Events():
		if envelope.Type != "status_update" || envelope.TaskID != "t1" {
			t.Fatalf("unexpected event after reconnect: %+v", envelope)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event after reconnect")
	}

	if got := resyncs.Load(); got < 2 {
		t.Fatalf("expected resync on every connection, got %d", got)
	}
	if got := len(joins); got < 2 {
		t.Fatalf("expected group rejoin on reconnect, got %d joins", got)
	}

	cancel()
	select {
	case err := <-runDone:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("client did not stop after cancel")
	}
}

func TestClientGivesUpAfterMaxAttempts(t *testing.T) {
	client, err := NewClient(ClientOptions{
		URL:                  "ws://127.0.0.1:1/api/events",
		ReconnectInterval:    5 * time.Millisecond,
		ReconnectMaxInterval: 10 * time.Millisecond,
		ReconnectMaxAttempts: 3,
		Logger:               logging.NewNop(),
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err = client.Run(ctx)
	if !errors.Is(err, ErrReconnectFailed) {
		t.Fatalf("expected ErrReconnectFailed, got %v", err)
	}
}

func TestClientRunReturnsOnCancelWhileIdle(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		// Never send anything; the client sits blocked in its read.
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	client, err := NewClient(ClientOptions{
		URL:    wsURL(srv),
		Logger: logging.NewNop(),
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() { runDone <- client.Run(ctx) }()

	// Let the connection establish before cancelling.
	deadline := time.After(2 * time.Second)
	for {
		client.mu.Lock()
		connected := client.ws != nil
		client.mu.Unlock()
		if connected {
			break
		}
		select {
		case <-deadline:
			t.Fatal("client never connected")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	select {
	case err := <-runDone:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation on an idle connection")
	}
}

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alproj/sidecar-host/internal/infrastructure/config"
	"github.com/alproj/sidecar-host/internal/sidecar"
)

func testHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub(config.WebSocketConfig{MaxMessageSize: 8192, PingInterval: 30, PongTimeout: 10}, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)
	return hub
}

func mockClient(hub *Hub, channels ...string) *WSClient {
	subs := make(map[string]struct{}, len(channels))
	for _, ch := range channels {
		subs[ch] = struct{}{}
	}
	return &WSClient{
		hub:           hub,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: subs,
	}
}

func receive(t *testing.T, c *WSClient) WSMessage {
	t.Helper()
	select {
	case data := <-c.send:
		var msg WSMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		return msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
	}
	return WSMessage{}
}

func expectNothing(t *testing.T, c *WSClient) {
	t.Helper()
	select {
	case data := <-c.send:
		t.Errorf("unexpected message %s", data)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestHub_BroadcastToSubscribed(t *testing.T) {
	hub := testHub(t)
	client := mockClient(hub, sidecar.EventLogUpdated)
	hub.Register(client)

	if err := hub.Emit(sidecar.EventLogUpdated, map[string]int64{"cursor": 12}); err != nil {
		t.Fatalf("Emit() error: %v", err)
	}

	msg := receive(t, client)
	if msg.Type != WSTypeEvent || msg.EventType != sidecar.EventLogUpdated {
		t.Errorf("message = %+v, want %s event", msg, sidecar.EventLogUpdated)
	}
	payload, _ := msg.Payload.(map[string]any)
	if payload["cursor"] != float64(12) {
		t.Errorf("payload = %v, want cursor 12", msg.Payload)
	}
}

func TestHub_NoMessageForUnsubscribed(t *testing.T) {
	hub := testHub(t)
	client := mockClient(hub, sidecar.EventLogUpdated)
	hub.Register(client)

	if err := hub.Emit(sidecar.EventReady, true); err != nil {
		t.Fatalf("Emit() error: %v", err)
	}
	expectNothing(t, client)
}

func TestHub_ClientCount(t *testing.T) {
	hub := testHub(t)
	if hub.ClientCount() != 0 {
		t.Errorf("initial client count = %d, want 0", hub.ClientCount())
	}

	client := mockClient(hub)
	hub.Register(client)
	if hub.ClientCount() != 1 {
		t.Errorf("after register count = %d, want 1", hub.ClientCount())
	}

	hub.Unregister(client)
	hub.Unregister(client)
	if hub.ClientCount() != 0 {
		t.Errorf("after unregister count = %d, want 0", hub.ClientCount())
	}
}

func TestHub_ReplaysRetainedEvents(t *testing.T) {
	tests := []struct {
		name       string
		event      string
		payload    any
		wantReplay bool
	}{
		{"ready is retained", sidecar.EventReady, true, true},
		{"error is retained", sidecar.EventError, "Backend exited early: exit code 1", true},
		{"log updates are not", sidecar.EventLogUpdated, map[string]int64{"cursor": 1}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hub := testHub(t)
			if err := hub.Emit(tt.event, tt.payload); err != nil {
				t.Fatalf("Emit() error: %v", err)
			}

			late := mockClient(hub)
			hub.Register(late)
			hub.subscribe(late, []string{tt.event}, nil)

			if !tt.wantReplay {
				expectNothing(t, late)
				return
			}
			msg := receive(t, late)
			if msg.EventType != tt.event {
				t.Errorf("replayed event = %q, want %q", msg.EventType, tt.event)
			}
			// Exactly once.
			expectNothing(t, late)
		})
	}
}

func TestHub_SubscribedClientGetsEventOnce(t *testing.T) {
	hub := testHub(t)
	client := mockClient(hub)
	hub.Register(client)
	hub.subscribe(client, []string{sidecar.EventReady}, nil)

	if err := hub.Emit(sidecar.EventReady, true); err != nil {
		t.Fatalf("Emit() error: %v", err)
	}
	receive(t, client)

	// Re-subscribing replays the retained copy.
	hub.subscribe(client, []string{sidecar.EventReady}, nil)
	receive(t, client)
	expectNothing(t, client)
}

func TestHub_EmitUnmarshallable(t *testing.T) {
	hub := testHub(t)
	if err := hub.Emit(sidecar.EventLogUpdated, make(chan int)); err == nil {
		t.Error("Emit() with a channel payload = nil, want error")
	}
}

// startWSServer starts a real listener with auth enabled.
func startWSServer(t *testing.T) *Server {
	t.Helper()
	deps := testDeps(&fakeBackend{})
	deps.Security.AuthEnabled = true
	srv, err := New(deps)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	t.Cleanup(func() { srv.Close() })
	return srv
}

func dial(t *testing.T, srv *Server, token string) *websocket.Conn {
	t.Helper()
	ws, resp, err := websocket.DefaultDialer.Dial("ws://"+srv.Addr()+"/api/v1/ws?token="+token, nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v (resp: %v)", err, resp)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func readMessage(t *testing.T, ws *websocket.Conn) WSMessage {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck
	var msg WSMessage
	if err := ws.ReadJSON(&msg); err != nil {
		t.Fatalf("read message: %v", err)
	}
	return msg
}

func TestWebSocket_LateSubscriberSeesReady(t *testing.T) {
	srv := startWSServer(t)

	if err := srv.Hub().Emit(sidecar.EventReady, true); err != nil {
		t.Fatalf("Emit() error: %v", err)
	}

	ws := dial(t, srv, srv.Token())
	if err := ws.WriteJSON(WSMessage{
		Type:    WSTypeSubscribe,
		ID:      "sub-1",
		Payload: WSSubscribePayload{Channels: []string{sidecar.EventReady, sidecar.EventError}},
	}); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}

	resp := readMessage(t, ws)
	if resp.Type != WSTypeResponse || resp.ID != "sub-1" {
		t.Errorf("first message = %+v, want subscribe response", resp)
	}

	event := readMessage(t, ws)
	if event.Type != WSTypeEvent || event.EventType != sidecar.EventReady {
		t.Errorf("second message = %+v, want replayed %s", event, sidecar.EventReady)
	}
	if event.Payload != true {
		t.Errorf("payload = %v, want true", event.Payload)
	}
}

func TestWebSocket_LiveEventAndUnsubscribe(t *testing.T) {
	srv := startWSServer(t)
	ws := dial(t, srv, srv.Token())

	if err := ws.WriteJSON(WSMessage{
		Type:    WSTypeSubscribe,
		ID:      "sub-1",
		Payload: WSSubscribePayload{Channels: []string{sidecar.EventLogUpdated}},
	}); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}
	readMessage(t, ws)

	if err := srv.Hub().Emit(sidecar.EventLogUpdated, map[string]int64{"cursor": 99}); err != nil {
		t.Fatalf("Emit() error: %v", err)
	}
	if msg := readMessage(t, ws); msg.EventType != sidecar.EventLogUpdated {
		t.Errorf("event = %+v, want %s", msg, sidecar.EventLogUpdated)
	}

	if err := ws.WriteJSON(WSMessage{
		Type:    WSTypeUnsubscribe,
		ID:      "unsub-1",
		Payload: WSSubscribePayload{Channels: []string{sidecar.EventLogUpdated}},
	}); err != nil {
		t.Fatalf("write unsubscribe: %v", err)
	}
	if msg := readMessage(t, ws); msg.Type != WSTypeResponse || msg.ID != "unsub-1" {
		t.Errorf("unsubscribe reply = %+v", msg)
	}
}

func TestWebSocket_PingAndErrors(t *testing.T) {
	srv := startWSServer(t)
	ws := dial(t, srv, srv.Token())

	tests := []struct {
		name     string
		send     func() error
		wantType string
	}{
		{
			name:     "ping",
			send:     func() error { return ws.WriteJSON(WSMessage{Type: WSTypePing, ID: "p1"}) },
			wantType: WSTypePong,
		},
		{
			name:     "invalid json",
			send:     func() error { return ws.WriteMessage(websocket.TextMessage, []byte("{nope")) },
			wantType: WSTypeError,
		},
		{
			name:     "unknown type",
			send:     func() error { return ws.WriteJSON(WSMessage{Type: "launch"}) },
			wantType: WSTypeError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.send(); err != nil {
				t.Fatalf("write: %v", err)
			}
			if msg := readMessage(t, ws); msg.Type != tt.wantType {
				t.Errorf("reply type = %q, want %q", msg.Type, tt.wantType)
			}
		})
	}
}

func TestWebSocket_RejectsBadToken(t *testing.T) {
	srv := startWSServer(t)

	for _, token := range []string{"", "forged"} {
		_, resp, err := websocket.DefaultDialer.Dial("ws://"+srv.Addr()+"/api/v1/ws?token="+token, nil)
		if err == nil {
			t.Errorf("dial with token %q succeeded, want rejection", token)
			continue
		}
		if resp == nil || resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("token %q: response = %v, want 401", token, resp)
		}
	}
}

package sink

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func dialHub(t *testing.T, hub *Hub) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(hub.Handler())
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestHubBroadcastsEnvelopes(t *testing.T) {
	hub := NewHub()
	conn := dialHub(t, hub)

	// serveWS registers the connection asynchronously.
	deadline := time.Now().Add(2 * time.Second)
	for {
		hub.mu.Lock()
		n := len(hub.conns)
		hub.mu.Unlock()
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("connection never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	hub.Send("session:event", map[string]string{"type": "session.idle"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got struct {
		Channel string          `json:"channel"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if got.Channel != "session:event" {
		t.Fatalf("channel = %q", got.Channel)
	}
	if !strings.Contains(string(got.Payload), "session.idle") {
		t.Fatalf("payload = %s", got.Payload)
	}
}

func TestHubTracksFocus(t *testing.T) {
	hub := NewHub()
	if hub.Focused() {
		t.Fatal("new hub reports focused")
	}

	conn := dialHub(t, hub)
	if err := conn.WriteJSON(map[string]any{"type": "focus", "focused": true}); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for !hub.Focused() {
		if time.Now().After(deadline) {
			t.Fatal("focus frame never applied")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// Closing the last connection clears focus: there is no window left.
	conn.Close()
	deadline = time.Now().Add(2 * time.Second)
	for hub.Focused() {
		if time.Now().After(deadline) {
			t.Fatal("focus not cleared after the last shell disconnected")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHubSendWithoutConnections(t *testing.T) {
	hub := NewHub()
	hub.Send("session:event", "dropped on the floor")
}

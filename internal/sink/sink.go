// Package sink delivers orchestrator events to the desktop shell over a
// websocket, tracks whether the shell window is focused, and exposes
// Prometheus metrics for the daemon.
package sink

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mosaicdev/mosaic/internal/logger"
)

var (
	eventsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mosaic_sink_events_sent_total",
		Help: "Events forwarded to the desktop shell, by channel.",
	}, []string{"channel"})

	clientsConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mosaic_sink_clients_connected",
		Help: "Desktop shell connections currently open.",
	})
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The shell connects from a file:// or app:// origin.
	CheckOrigin: func(*http.Request) bool { return true },
}

// envelope is the frame written to shell connections.
type envelope struct {
	Channel string `json:"channel"`
	Payload any    `json:"payload"`
}

// shellMessage is a frame received from the shell. Only focus reports are
// consumed here.
type shellMessage struct {
	Type    string `json:"type"`
	Focused bool   `json:"focused"`
}

// Hub fans orchestrator events out to every connected shell. It implements
// both the orchestrator's Sink and Focus collaborators.
type Hub struct {
	mu      sync.Mutex
	conns   map[*websocket.Conn]struct{}
	focused bool
}

// NewHub returns an empty hub. A hub with no connections drops events and
// reports the window as unfocused.
func NewHub() *Hub {
	return &Hub{conns: make(map[*websocket.Conn]struct{})}
}

// Handler returns the HTTP mux for the hub: the /ws shell endpoint and
// /metrics for Prometheus.
func (h *Hub) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", h.serveWS)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

func (h *Hub) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("Sink: websocket upgrade failed: %v", err)
		return
	}

	h.mu.Lock()
	h.conns[conn] = struct{}{}
	h.mu.Unlock()
	clientsConnected.Inc()
	logger.Info("Sink: shell connected from %s", r.RemoteAddr)

	go h.reader(conn)
}

// reader consumes frames from one shell connection until it closes. The
// shell reports window focus changes here.
func (h *Hub) reader(conn *websocket.Conn) {
	defer func() {
		h.mu.Lock()
		delete(h.conns, conn)
		empty := len(h.conns) == 0
		h.mu.Unlock()
		conn.Close()
		clientsConnected.Dec()
		if empty {
			// No window left to be focused.
			h.SetFocused(false)
		}
		logger.Info("Sink: shell disconnected")
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var msg shellMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			logger.Debug("Sink: unparseable shell frame: %v", err)
			continue
		}
		if msg.Type == "focus" {
			h.SetFocused(msg.Focused)
		}
	}
}

// Send forwards a payload to every connected shell. Implements agent.Sink.
// Write failures drop the connection; delivery is best-effort.
func (h *Hub) Send(channel string, payload any) {
	eventsSent.WithLabelValues(channel).Inc()

	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.conns {
		if err := conn.WriteJSON(envelope{Channel: channel, Payload: payload}); err != nil {
			logger.Debug("Sink: write failed, dropping connection: %v", err)
			conn.Close()
			delete(h.conns, conn)
		}
	}
}

// Focused reports the shell's last known focus state. Implements agent.Focus.
func (h *Hub) Focused() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.focused
}

// SetFocused records the focus state reported by the shell.
func (h *Hub) SetFocused(focused bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.focused = focused
}

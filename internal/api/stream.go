package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/havij13/Hexstrike-AI-sub001/internal/registry"
)

const (
	writeWait        = 10 * time.Second
	pongWait         = 60 * time.Second
	pingPeriod       = (pongWait * 9) / 10
	snapshotInterval = 2 * time.Second
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// wsClient is one connected dashboard subscriber.
type wsClient struct {
	conn *websocket.Conn
	send chan []byte
	hub  *Hub
}

// Hub fans dashboard snapshots out to all WebSocket subscribers.
type Hub struct {
	reg        *registry.Registry
	logger     *slog.Logger
	clients    map[*wsClient]struct{}
	register   chan *wsClient
	unregister chan *wsClient
	done       chan struct{} // closed when Run returns
}

func newHub(reg *registry.Registry, logger *slog.Logger) *Hub {
	return &Hub{
		reg:        reg,
		logger:     logger.WithGroup("stream"),
		clients:    make(map[*wsClient]struct{}),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		done:       make(chan struct{}),
	}
}

// Run drives the hub until ctx is done: it admits and removes
// subscribers and pushes a fresh snapshot on every tick. Once it
// returns, register and unregister abandon instead of blocking.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(snapshotInterval)
	defer ticker.Stop()
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			return

		case client := <-h.register:
			h.clients[client] = struct{}{}
			h.logger.Debug("Dashboard subscriber connected", "subscribers", len(h.clients))

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				h.logger.Debug("Dashboard subscriber disconnected", "subscribers", len(h.clients))
			}

		case <-ticker.C:
			if len(h.clients) == 0 {
				continue
			}
			data, err := json.Marshal(h.reg.DashboardSnapshot())
			if err != nil {
				continue
			}
			for client := range h.clients {
				select {
				case client.send <- data:
				default:
					// Subscriber too slow, drop this frame for it.
				}
			}
		}
	}
}

// handleDashboardStream upgrades the connection and streams snapshots.
func (s *Server) handleDashboardStream(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed", "error", err)
		return
	}

	client := &wsClient{
		conn: conn,
		send: make(chan []byte, 16),
		hub:  s.hub,
	}
	select {
	case s.hub.register <- client:
	case <-s.hub.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// handleProcessStream tails one invocation: it pushes the record view
// whenever its output or progress advances and closes after the
// terminal frame.
func (s *Server) handleProcessStream(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, ok := s.reg.Get(id); !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "process not found"})
		return
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	var lastOutput string
	var lastPercent float64
	var lastStatus registry.Status
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}

		view, ok := s.reg.Get(id)
		if !ok {
			// Swept by retention while tailing.
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "record purged"),
				time.Now().Add(writeWait))
			return
		}

		changed := view.LastOutput != lastOutput ||
			view.ProgressPercent != lastPercent ||
			view.Status != lastStatus
		if changed {
			lastOutput, lastPercent, lastStatus = view.LastOutput, view.ProgressPercent, view.Status
			data, err := json.Marshal(view)
			if err != nil {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		}

		if view.Status.Terminal() {
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}

// readPump discards client frames and notices the disconnect.
func (c *wsClient) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4 * 1024)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump pushes snapshots and keepalive pings to the subscriber.
func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

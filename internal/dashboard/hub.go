// Package dashboard hosts the UI push-message transport: a websocket
// endpoint that sends every connected client the full app-state snapshot
// on connect and the stream of dirty-field updates thereafter. Grounded
// on run_trading_bot.py's WebHandler/SocketHandler/_CONNECTED_CLIENTS and
// adapted from 0xtitan6-polymarket-mm/internal/api's Hub/Client pair.
package dashboard

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"spotflow/internal/appstate"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512 * 1024
)

// Hub tracks every connected UI client and fans out app-state messages to
// all of them, matching _CONNECTED_CLIENTS' role in the source.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	logger  *slog.Logger
}

// NewHub constructs an empty Hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients: make(map[*Client]struct{}),
		logger:  logger.With("component", "dashboard-hub"),
	}
}

// WriteFns returns one appstate.WriteFn per currently connected client,
// the exact shape run_trading_bot.py's __update_main builds from
// _CONNECTED_CLIENTS before calling app_state.write_updates.
func (h *Hub) WriteFns() []appstate.WriteFn {
	h.mu.RLock()
	defer h.mu.RUnlock()

	fns := make([]appstate.WriteFn, 0, len(h.clients))
	for c := range h.clients {
		fns = append(fns, c.send)
	}
	return fns
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Info("dashboard client connected", "count", n)
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.out)
	}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Info("dashboard client disconnected", "count", n)
}

// Client wraps one UI websocket connection. It is read-only from the UI's
// perspective, matching SocketHandler's lack of an on_message handler.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	out  chan []byte
}

// NewClient registers a new client against the hub and sends it the full
// app-state snapshot, mirroring SocketHandler.open's write_all call.
func NewClient(hub *Hub, conn *websocket.Conn, state *appstate.AppState) *Client {
	c := &Client{hub: hub, conn: conn, out: make(chan []byte, 256)}
	hub.register(c)

	state.WriteAll([]appstate.WriteFn{c.send})

	go c.writePump()
	go c.readPump()
	return c
}

// send marshals one UIMessage and enqueues it for delivery, dropping it if
// the client can't keep up rather than blocking the caller (the tick
// driving write_updates must never stall on a slow UI client).
func (c *Client) send(msg appstate.UIMessage) {
	data, err := encodeMessage(msg)
	if err != nil {
		c.hub.logger.Error("failed to marshal UI message", "error", err)
		return
	}
	select {
	case c.out <- data:
	default:
		c.hub.logger.Warn("dashboard client send buffer full, dropping message")
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.out:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
		// The dashboard is push-only; any inbound frame is discarded.
	}
}

// Package statusfeed broadcasts daemon status snapshots to websocket
// clients and accepts control commands from them.
package statusfeed

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 * 1024
	sendBuffer     = 16
)

// Message is what clients receive. Type is "status" or "command_result".
type Message struct {
	Type    string `json:"type"`
	Status  any    `json:"status,omitempty"`
	Command string `json:"command,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Request is what clients may send.
type Request struct {
	Command string `json:"command"`
}

// CommandHandler runs a command received from a client.
type CommandHandler func(command string) error

// Hub fans status snapshots out to every connected client. Slow clients
// are disconnected rather than allowed to block Publish.
type Hub struct {
	upgrader websocket.Upgrader
	handler  CommandHandler
	logger   *slog.Logger

	mu      sync.Mutex
	clients map[*client]struct{}
	last    []byte
	closed  bool

	server   *http.Server
	listener net.Listener
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// NewHub creates a hub. handler may be nil to ignore client commands.
func NewHub(handler CommandHandler, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			// The feed is bound to a local address.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		handler: handler,
		logger:  logger,
		clients: make(map[*client]struct{}),
	}
}

// Listen serves the hub at "/" on addr until Close.
func (h *Hub) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("status feed listen: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/", h)

	h.mu.Lock()
	h.listener = ln
	h.server = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	srv := h.server
	h.mu.Unlock()

	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			h.logger.Warn("status feed stopped", "error", err)
		}
	}()
	return nil
}

// Addr is the listening address, or "" before Listen.
func (h *Hub) Addr() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.listener == nil {
		return ""
	}
	return h.listener.Addr().String()
}

// ServeHTTP upgrades the request and registers the client. The last
// published status is sent immediately.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	if h.last != nil {
		c.send <- h.last
	}
	h.mu.Unlock()

	go h.writePump(c)
	h.readPump(c)
}

// Publish sends status to every client and remembers it for new ones.
func (h *Hub) Publish(status any) error {
	data, err := json.Marshal(Message{Type: "status", Status: status})
	if err != nil {
		return fmt.Errorf("encode status: %w", err)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.last = data
	for c := range h.clients {
		h.sendLocked(c, data)
	}
	return nil
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client and stops the listener, if any.
func (h *Hub) Close() error {
	h.mu.Lock()
	h.closed = true
	for c := range h.clients {
		h.removeLocked(c)
	}
	srv := h.server
	h.mu.Unlock()
	if srv != nil {
		return srv.Close()
	}
	return nil
}

func (h *Hub) sendLocked(c *client, data []byte) {
	select {
	case c.send <- data:
	default:
		h.logger.Debug("dropping slow status client", "remote", c.conn.RemoteAddr())
		h.removeLocked(c)
	}
}

func (h *Hub) removeLocked(c *client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

func (h *Hub) readPump(c *client) {
	defer func() {
		h.remove(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var req Request
		if err := c.conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("status client read error", "error", err)
			}
			return
		}
		h.reply(c, req.Command)
	}
}

func (h *Hub) reply(c *client, command string) {
	res := Message{Type: "command_result", Command: command}
	switch {
	case h.handler == nil:
		res.Error = "commands are not accepted"
	default:
		if err := h.handler(command); err != nil {
			res.Error = err.Error()
		}
	}
	data, err := json.Marshal(res)
	if err != nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		h.sendLocked(c, data)
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
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

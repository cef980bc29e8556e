package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Merinorus/thebigfilmdatabase-website/dxscan"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// ErrNoClients is returned by Navigate when no page is attached
var ErrNoClients = errors.New("server: no page attached")

const (
	sendBuffer   = 8
	pingInterval = 30 * time.Second
	writeTimeout = 5 * time.Second
	readTimeout  = 2 * pingInterval
)

// Message is the envelope pushed to attached pages
type Message struct {
	Type      string            `json:"type"`
	URL       string            `json:"url,omitempty"`
	Detection *dxscan.Detection `json:"detection,omitempty"`
}

// Hub pushes results and navigation requests to every attached page.
//
// Hub implements dxscan.Navigator and dxscan.ResultSink. Both are called
// from the scanner loop and never block: a page that does not keep up
// loses messages instead of stalling the loop.
type Hub struct {
	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool

	sent    atomic.Uint64
	dropped atomic.Uint64

	upgrader websocket.Upgrader
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.send)
	})
}

// NewHub creates an empty hub
func NewHub() *Hub {
	return &Hub{
		clients: make(map[*client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// The page is served by whoever hosts the scanner
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Navigate asks attached pages to load target
func (h *Hub) Navigate(_ context.Context, target string) error {
	if h.broadcast(Message{Type: "navigate", URL: target}) == 0 {
		return ErrNoClients
	}
	return nil
}

// ShowResult pushes a detection to attached pages
func (h *Hub) ShowResult(d dxscan.Detection) {
	h.broadcast(Message{Type: "result", Detection: &d})
}

// Clients returns the number of attached pages
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Counts returns the number of messages queued and dropped
func (h *Hub) Counts() (sent, dropped uint64) {
	return h.sent.Load(), h.dropped.Load()
}

// broadcast queues msg for every client and returns how many accepted it
func (h *Hub) broadcast(msg Message) int {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("server: failed to encode message", "type", msg.Type, "error", err)
		return 0
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	delivered := 0
	for c := range h.clients {
		select {
		case c.send <- data:
			delivered++
			h.sent.Add(1)
		default:
			h.dropped.Add(1)
			slog.Warn("server: client too slow, message dropped", "client_id", c.id, "type", msg.Type)
		}
	}
	return delivered
}

func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	return true
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		c.close()
	}
}

// Close disconnects every page
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		c.close()
	}
}

// ServeWS upgrades the request and attaches the page
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("server: websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	c := &client{
		id:   uuid.New().String(),
		conn: conn,
		send: make(chan []byte, sendBuffer),
	}
	if !h.register(c) {
		_ = conn.Close()
		return
	}
	slog.Info("server: page attached", "client_id", c.id, "remote", r.RemoteAddr)

	go h.writePump(c)
	go h.readPump(c)
}

// readPump discards inbound messages and detects disconnects
func (h *Hub) readPump(c *client) {
	defer func() {
		h.unregister(c)
		_ = c.conn.Close()
		slog.Info("server: page detached", "client_id", c.id)
	}()

	_ = c.conn.SetReadDeadline(time.Now().Add(readTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(readTimeout))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				slog.Debug("server: write failed", "client_id", c.id, "error", err)
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				slog.Debug("server: ping failed", "client_id", c.id, "error", err)
				return
			}
		}
	}
}

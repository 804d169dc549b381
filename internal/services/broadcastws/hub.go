// Package broadcastws serves the availability feed over websockets.
// Listeners connect, receive every broadcast payload, and are pruned as
// soon as a write fails or their send queue fills up.
package broadcastws

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	logx "slotwatch/pkg/logx"
)

const (
	writeWait     = 10 * time.Second
	clientBacklog = 8
)

type Config struct {
	Addr       string
	Path       string
	RatePerSec int
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

type Hub struct {
	cfg     Config
	log     logx.Logger
	limiter *rate.Limiter

	upgrader websocket.Upgrader
	server   *http.Server

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
}

func New(cfg Config, log logx.Logger) *Hub {
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:8090"
	}
	if cfg.Path == "" {
		cfg.Path = "/ws"
	}
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 10
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Hub{
		cfg:     cfg,
		log:     log,
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The feed is public read-only data.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: map[*client]struct{}{},
	}
}

// Start begins serving. It returns when the listener fails or Stop is
// called.
func (h *Hub) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc(h.cfg.Path, h.handleWS)

	h.server = &http.Server{
		Addr:         h.cfg.Addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0, // websocket writes manage their own deadlines
	}

	h.log.Info("broadcast server listening",
		logx.String("addr", h.cfg.Addr),
		logx.String("path", h.cfg.Path))

	err := h.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (h *Hub) Stop(ctx context.Context) error {
	h.mu.Lock()
	h.closed = true
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = map[*client]struct{}{}
	h.mu.Unlock()

	for _, c := range clients {
		close(c.send)
	}
	if h.server == nil {
		return nil
	}
	return h.server.Shutdown(ctx)
}

// Broadcast queues msg for every connected client. Slow clients are
// dropped rather than allowed to stall the sweep.
func (h *Hub) Broadcast(ctx context.Context, msg []byte) {
	if err := h.limiter.Wait(ctx); err != nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			delete(h.clients, c)
			close(c.send)
			h.log.Debug("dropping slow broadcast client")
		}
	}
}

// Count returns the number of connected listeners.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("websocket upgrade failed", logx.Err(err))
		return
	}

	c := &client{conn: conn, send: make(chan []byte, clientBacklog)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.log.Debug("broadcast client connected", logx.Int("clients", n))

	go h.writeLoop(c)
	go h.readLoop(c)
}

// writeLoop drains the client's queue. It owns all writes to the conn.
func (h *Hub) writeLoop(c *client) {
	defer c.conn.Close()
	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			h.remove(c)
			return
		}
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
}

// readLoop discards inbound frames; the feed is one-way. It exists so
// close frames and pings are processed and dead peers are detected.
func (h *Hub) readLoop(c *client) {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			h.remove(c)
			return
		}
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

package server

import (
	"encoding/json"
	"log/slog"
	"sort"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/NicolasHaas/gochat/pkg/model"
	"github.com/NicolasHaas/gochat/pkg/protocol"
)

// wsClient wraps a websocket connection with a write lock. Gorilla
// connections allow at most one concurrent writer.
type wsClient struct {
	username string
	conn     *websocket.Conn
	mu       sync.Mutex
}

func (c *wsClient) send(ev protocol.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Hub tracks connected users and fans events out to them. One
// connection per username; a second login replaces the first.
type Hub struct {
	mu      sync.Mutex
	clients map[string]*wsClient
	metrics *Metrics
	wg      sync.WaitGroup
}

// NewHub creates an empty hub.
func NewHub(metrics *Metrics) *Hub {
	return &Hub{
		clients: make(map[string]*wsClient),
		metrics: metrics,
	}
}

// Online returns the currently connected usernames, sorted.
func (h *Hub) Online() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.onlineLocked()
}

func (h *Hub) onlineLocked() []string {
	names := make([]string, 0, len(h.clients))
	for name := range h.clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// register adds a connection for a username, displacing any previous
// one, and announces the arrival plus a fresh roster to everyone.
func (h *Hub) register(c *wsClient) {
	h.mu.Lock()
	if prev, ok := h.clients[c.username]; ok {
		_ = prev.conn.Close()
	}
	h.clients[c.username] = c
	roster := h.onlineLocked()
	targets := h.allLocked()
	h.mu.Unlock()

	h.metrics.ActiveConnections.Add(1)
	h.metrics.TotalConnections.Add(1)
	slog.Info("user connected", "user", c.username, "online", len(roster))

	h.fanOut(targets, protocol.Event{UserConnected: &protocol.Presence{Username: c.username}})
	h.fanOut(targets, protocol.Event{OnlineUsers: &protocol.OnlineUsers{Users: roster}})
}

// unregister drops a connection if it is still the current one for its
// username and announces the departure plus a fresh roster.
func (h *Hub) unregister(c *wsClient) {
	h.mu.Lock()
	current, ok := h.clients[c.username]
	if !ok || current != c {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c.username)
	roster := h.onlineLocked()
	targets := h.allLocked()
	h.mu.Unlock()

	h.metrics.ActiveConnections.Add(-1)
	h.metrics.TotalDisconnects.Add(1)
	slog.Info("user disconnected", "user", c.username, "online", len(roster))

	h.fanOut(targets, protocol.Event{UserDisconnected: &protocol.Presence{Username: c.username}})
	h.fanOut(targets, protocol.Event{OnlineUsers: &protocol.OnlineUsers{Users: roster}})
}

func (h *Hub) allLocked() []*wsClient {
	targets := make([]*wsClient, 0, len(h.clients))
	for _, c := range h.clients {
		targets = append(targets, c)
	}
	return targets
}

func (h *Hub) fanOut(targets []*wsClient, ev protocol.Event) {
	for _, c := range targets {
		if err := c.send(ev); err != nil {
			slog.Debug("fan out failed", "user", c.username, "event", ev.Name(), "err", err)
		}
	}
}

// Deliver sends an event to a single username, if connected.
func (h *Hub) Deliver(username string, ev protocol.Event) {
	h.mu.Lock()
	c := h.clients[username]
	h.mu.Unlock()
	if c == nil {
		return
	}
	if err := c.send(ev); err != nil {
		slog.Debug("deliver failed", "user", username, "event", ev.Name(), "err", err)
	}
}

// CloseAll closes every connection and waits for their read loops to
// finish. Used during shutdown.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	for _, c := range h.clients {
		_ = c.conn.Close()
	}
	h.mu.Unlock()
	h.wg.Wait()
}

// HandleConn runs the read loop for an authenticated websocket
// connection. It blocks until the peer disconnects.
func (h *Hub) HandleConn(username string, conn *websocket.Conn) {
	conn.SetReadLimit(protocol.MaxEventSize)
	c := &wsClient{username: username, conn: conn}

	h.wg.Add(1)
	defer h.wg.Done()

	h.register(c)
	defer h.unregister(c)
	defer func() { _ = conn.Close() }()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Debug("read error", "user", username, "err", err)
			}
			return
		}

		var ev protocol.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			_ = c.send(protocol.Event{Error: &protocol.ErrorEvent{Message: "malformed event"}})
			continue
		}
		h.handleEvent(c, ev)
	}
}

// handleEvent processes one inbound event from a client. Only
// new_message is meaningful from the client side; everything else is
// server-originated.
func (h *Hub) handleEvent(c *wsClient, ev protocol.Event) {
	switch {
	case ev.NewMessage != nil:
		msg := *ev.NewMessage
		// Never trust the client-supplied sender.
		msg.Sender = c.username
		if err := msg.Validate(); err != nil {
			_ = c.send(protocol.Event{Error: &protocol.ErrorEvent{Message: err.Error()}})
			return
		}
		h.relay(msg)
	default:
		_ = c.send(protocol.Event{Error: &protocol.ErrorEvent{Message: "unsupported event"}})
	}
}

// relay delivers a message event to its sender and recipient only.
// Persistence happens on the REST path; the socket is transient
// signalling.
func (h *Hub) relay(msg model.Message) {
	ev := protocol.Event{NewMessage: &msg}
	h.Deliver(msg.Recipient, ev)
	if msg.Sender != msg.Recipient {
		h.Deliver(msg.Sender, ev)
	}
	h.metrics.MessagesRelayed.Add(1)
}

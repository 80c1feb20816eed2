// Package client implements the GoChat client engine and networking.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/NicolasHaas/gochat/pkg/protocol"
)

// EventHandler is a callback for incoming server events.
type EventHandler func(ev protocol.Event)

// EventSender is the realtime send/receive surface the engine talks to.
// Satisfied by Socket; tests substitute a fake.
type EventSender interface {
	Send(ev protocol.Event) error
	Close() error
	Done() <-chan struct{}
}

// Socket manages the websocket event connection.
type Socket struct {
	conn    *websocket.Conn
	mu      sync.Mutex
	handler EventHandler
	done    chan struct{}
}

// DialSocket connects to the server's websocket endpoint. serverURL is
// the http(s) base URL; the token authenticates the session.
func DialSocket(ctx context.Context, serverURL, token string) (*Socket, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("client: parse server url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if resp != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("client: connect socket: %w", err)
	}
	conn.SetReadLimit(protocol.MaxEventSize)

	return &Socket{
		conn: conn,
		done: make(chan struct{}),
	}, nil
}

// SetEventHandler sets the callback for incoming events.
func (s *Socket) SetEventHandler(handler EventHandler) {
	s.handler = handler
}

// Send sends an event to the server.
func (s *Socket) Send(ev protocol.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("client: marshal event: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// StartReceiving starts a goroutine that reads incoming events and
// dispatches them to the event handler.
func (s *Socket) StartReceiving() {
	go func() {
		defer close(s.done)
		for {
			_, data, err := s.conn.ReadMessage()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					slog.Debug("socket closed")
				} else {
					slog.Debug("socket read error", "err", err)
				}
				return
			}
			var ev protocol.Event
			if err := json.Unmarshal(data, &ev); err != nil {
				slog.Debug("malformed event", "err", err)
				continue
			}
			if s.handler != nil {
				s.handler(ev)
			}
		}
	}()
}

// Close closes the websocket connection.
func (s *Socket) Close() error {
	return s.conn.Close()
}

// Done returns a channel that's closed when the connection is lost.
func (s *Socket) Done() <-chan struct{} {
	return s.done
}

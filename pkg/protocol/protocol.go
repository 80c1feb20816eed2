// Package protocol defines the realtime event envelope exchanged over the
// WebSocket between client and server.
//
// An Event is a one-of: exactly one field is set, and its JSON key doubles
// as the event name on the wire, e.g.
//
//	{"new_message": {"sender": "alice", "recipient": "bob", ...}}
//	{"online_users": {"users": ["alice", "bob"]}}
package protocol

import (
	"errors"

	"github.com/NicolasHaas/gochat/pkg/model"
)

var ErrEmptyEvent = errors.New("protocol: event has no payload")

// MaxEventSize is the maximum serialized event size accepted from a peer.
const MaxEventSize = 65536

// Event wraps all realtime events. Only one field should be set.
type Event struct {
	NewMessage       *model.Message `json:"new_message,omitempty"`
	OnlineUsers      *OnlineUsers   `json:"online_users,omitempty"`
	UserConnected    *Presence      `json:"user_connected,omitempty"`
	UserDisconnected *Presence      `json:"user_disconnected,omitempty"`
	Error            *ErrorEvent    `json:"error,omitempty"`
}

// OnlineUsers is a full presence snapshot, not a delta.
type OnlineUsers struct {
	Users []string `json:"users"`
}

// Presence announces a single user connecting or disconnecting.
type Presence struct {
	Username string `json:"username"`
}

// ErrorEvent reports a server-side problem with a client event.
type ErrorEvent struct {
	Message string `json:"message"`
}

// Name returns the wire name of the event, or "" for an empty envelope.
// Useful for logging and metrics.
func (e *Event) Name() string {
	switch {
	case e.NewMessage != nil:
		return "new_message"
	case e.OnlineUsers != nil:
		return "online_users"
	case e.UserConnected != nil:
		return "user_connected"
	case e.UserDisconnected != nil:
		return "user_disconnected"
	case e.Error != nil:
		return "error"
	default:
		return ""
	}
}

// Validate rejects empty envelopes. Payload-level validation stays with the
// payload types.
func (e *Event) Validate() error {
	if e.Name() == "" {
		return ErrEmptyEvent
	}
	return nil
}

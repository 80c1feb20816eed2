package protocol_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/NicolasHaas/gochat/pkg/model"
	"github.com/NicolasHaas/gochat/pkg/protocol"
)

func TestEventName(t *testing.T) {
	t.Parallel()

	tcases := map[string]struct {
		ev   protocol.Event
		want string
	}{
		"new_message":       {ev: protocol.Event{NewMessage: &model.Message{}}, want: "new_message"},
		"online_users":      {ev: protocol.Event{OnlineUsers: &protocol.OnlineUsers{}}, want: "online_users"},
		"user_connected":    {ev: protocol.Event{UserConnected: &protocol.Presence{}}, want: "user_connected"},
		"user_disconnected": {ev: protocol.Event{UserDisconnected: &protocol.Presence{}}, want: "user_disconnected"},
		"error":             {ev: protocol.Event{Error: &protocol.ErrorEvent{}}, want: "error"},
		"empty":             {ev: protocol.Event{}, want: ""},
	}

	for name, tc := range tcases {
		t.Run(name, func(t *testing.T) {
			if got := tc.ev.Name(); got != tc.want {
				t.Errorf("Name() = %q, want %q", got, tc.want)
			}
			err := tc.ev.Validate()
			if tc.want == "" && err == nil {
				t.Error("Validate() accepted an empty envelope")
			}
			if tc.want != "" && err != nil {
				t.Errorf("Validate() = %v", err)
			}
		})
	}
}

func TestEventWireKeyIsEventName(t *testing.T) {
	t.Parallel()

	ts := time.Date(2026, 8, 31, 9, 0, 0, 0, time.UTC)
	ev := protocol.Event{NewMessage: &model.Message{
		Sender:    "alice",
		Recipient: "bob",
		Content:   "hi",
		Timestamp: ts,
	}}

	data, err := json.Marshal(&ev)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	// The envelope must contain exactly one top-level key named after the
	// event, so a peer can dispatch on it.
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal raw: %v", err)
	}
	if len(raw) != 1 {
		t.Fatalf("envelope has %d keys, want 1: %s", len(raw), data)
	}
	if _, ok := raw["new_message"]; !ok {
		t.Fatalf("envelope key missing, got %s", data)
	}

	var back protocol.Event
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal event: %v", err)
	}
	if diff := cmp.Diff(&ev, &back); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

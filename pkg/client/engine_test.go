package client

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/NicolasHaas/gochat/pkg/model"
	"github.com/NicolasHaas/gochat/pkg/protocol"
)

// fakeSocket records outbound events instead of hitting the network.
type fakeSocket struct {
	mu     sync.Mutex
	sent   []protocol.Event
	closed bool
	done   chan struct{}
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{done: make(chan struct{})}
}

func (f *fakeSocket) Send(ev protocol.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, ev)
	return nil
}

func (f *fakeSocket) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.done)
	}
	return nil
}

func (f *fakeSocket) Done() <-chan struct{} { return f.done }

func (f *fakeSocket) sentEvents() []protocol.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]protocol.Event, len(f.sent))
	copy(out, f.sent)
	return out
}

// newConnectedEngine wires an engine to a fake socket and a test HTTP
// server, skipping the login handshake.
func newConnectedEngine(t *testing.T, handler http.Handler) (*Engine, *fakeSocket) {
	t.Helper()

	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	api := NewAPI(ts.URL)
	api.token = "test-token"

	sock := newFakeSocket()

	e := NewEngine()
	e.mu.Lock()
	e.api = api
	e.socket = sock
	e.username = "alice"
	e.state = StateConnected
	e.mu.Unlock()

	return e, sock
}

func writeEnvelope(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"status": "success", "data": data})
}

func TestSendTextPreconditions(t *testing.T) {
	type tcase struct {
		recipient string
		text      string
		wantAlert string
	}

	tcases := map[string]tcase{
		"self_recipient": {
			recipient: "alice",
			text:      "hi me",
			wantAlert: "You cannot send a message to yourself.",
		},
		"no_recipient": {
			recipient: "",
			text:      "hi",
			wantAlert: "Please select a user to send the message.",
		},
		"empty_text": {
			recipient: "bob",
			text:      "",
			wantAlert: "",
		},
	}

	for name, tc := range tcases {
		t.Run(name, func(t *testing.T) {
			var postCount int
			e, sock := newConnectedEngine(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				postCount++
				writeEnvelope(w, model.Message{})
			}))
			e.mu.Lock()
			e.recipient = tc.recipient
			e.mu.Unlock()

			var alerts []string
			e.OnAlert = func(msg string) { alerts = append(alerts, msg) }
			rendered := 0
			e.OnMessage = func(model.Message) { rendered++ }

			e.SendText(tc.text)
			time.Sleep(50 * time.Millisecond)

			if tc.wantAlert == "" {
				if len(alerts) != 0 {
					t.Fatalf("unexpected alerts: %v", alerts)
				}
			} else {
				if len(alerts) != 1 || alerts[0] != tc.wantAlert {
					t.Fatalf("alerts = %v, want [%q]", alerts, tc.wantAlert)
				}
			}
			if rendered != 0 {
				t.Error("precondition failure still rendered a message")
			}
			if len(sock.sentEvents()) != 0 {
				t.Error("precondition failure still emitted an event")
			}
			if postCount != 0 {
				t.Error("precondition failure still hit the network")
			}
		})
	}
}

func TestSendTextEmitsAndStores(t *testing.T) {
	posted := make(chan string, 1)
	e, sock := newConnectedEngine(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/send_message" {
			http.NotFound(w, r)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse form: %v", err)
		}
		posted <- r.FormValue("message")
		writeEnvelope(w, model.Message{Sender: "alice", Recipient: "bob", Content: r.FormValue("message")})
	}))
	e.mu.Lock()
	e.recipient = "bob"
	e.mu.Unlock()

	var rendered []model.Message
	e.OnMessage = func(m model.Message) { rendered = append(rendered, m) }

	e.SendText("hello bob")

	// The sender sees the message as soon as SendText returns, before
	// any server acknowledgment.
	if len(rendered) != 1 || rendered[0].Content != "hello bob" || rendered[0].Sender != "alice" {
		t.Fatalf("local render = %+v, want one message from alice", rendered)
	}

	events := sock.sentEvents()
	if len(events) != 1 || events[0].NewMessage == nil {
		t.Fatalf("events = %+v, want one new_message", events)
	}
	got := events[0].NewMessage
	if got.Sender != "alice" || got.Recipient != "bob" || got.Content != "hello bob" {
		t.Fatalf("emitted message = %+v", got)
	}

	select {
	case text := <-posted:
		if text != "hello bob" {
			t.Fatalf("stored text = %q", text)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("message never reached the REST endpoint")
	}
}

func TestHandleIncoming(t *testing.T) {
	histCh := make(chan string, 4)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if name, ok := strings.CutPrefix(r.URL.Path, "/get_messages/"); ok {
			histCh <- name
			writeEnvelope(w, []model.Message{{Sender: name, Recipient: "alice", Content: "from history"}})
			return
		}
		http.NotFound(w, r)
	})

	t.Run("foreign_message_dropped", func(t *testing.T) {
		e, _ := newConnectedEngine(t, handler)
		fired := false
		e.OnMessage = func(model.Message) { fired = true }
		e.OnUnread = func(string, int) { fired = true }
		e.OnNotify = func(string, string) { fired = true }

		e.handleIncoming(model.Message{Sender: "bob", Recipient: "carol", Content: "x"})
		if fired {
			t.Error("message between other users triggered callbacks")
		}
	})

	t.Run("own_echo_renders", func(t *testing.T) {
		e, _ := newConnectedEngine(t, handler)
		var got []model.Message
		e.OnMessage = func(m model.Message) { got = append(got, m) }

		e.handleIncoming(model.Message{Sender: "alice", Recipient: "bob", Content: "echo"})
		if len(got) != 1 || got[0].Content != "echo" {
			t.Fatalf("echo not rendered: %v", got)
		}
	})

	t.Run("current_conversation_notifies_and_refetches", func(t *testing.T) {
		e, _ := newConnectedEngine(t, handler)
		e.mu.Lock()
		e.recipient = "bob"
		e.mu.Unlock()

		histDone := make(chan []model.Message, 1)
		e.OnHistory = func(_ string, msgs []model.Message) { histDone <- msgs }
		var notifyTitle string
		e.OnNotify = func(title, _ string) { notifyTitle = title }

		e.handleIncoming(model.Message{Sender: "bob", Recipient: "alice", Content: "ping"})

		// The notification fires even though the conversation is open.
		if notifyTitle != "Message from bob" {
			t.Errorf("notify title = %q, want %q", notifyTitle, "Message from bob")
		}

		select {
		case msgs := <-histDone:
			if len(msgs) != 1 || msgs[0].Content != "from history" {
				t.Fatalf("history = %v", msgs)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("history refresh never happened")
		}
	})

	t.Run("background_conversation_notifies", func(t *testing.T) {
		e, _ := newConnectedEngine(t, handler)
		e.mu.Lock()
		e.recipient = "bob"
		e.mu.Unlock()

		var unreadUser string
		var unreadCount int
		var notifyTitle string
		e.OnUnread = func(u string, n int) { unreadUser, unreadCount = u, n }
		e.OnNotify = func(title, _ string) { notifyTitle = title }

		e.handleIncoming(model.Message{Sender: "carol", Recipient: "alice", Content: "hey"})
		e.handleIncoming(model.Message{Sender: "carol", Recipient: "alice", Content: "hey again"})

		if unreadUser != "carol" || unreadCount != 2 {
			t.Errorf("unread = %s/%d, want carol/2", unreadUser, unreadCount)
		}
		if notifyTitle != "Message from carol" {
			t.Errorf("notify title = %q", notifyTitle)
		}
		if e.Unread("carol") != 2 {
			t.Errorf("Unread(carol) = %d", e.Unread("carol"))
		}
	})
}

func TestSelectRecipientClearsUnread(t *testing.T) {
	e, _ := newConnectedEngine(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, []model.Message{})
	}))

	e.handleIncoming(model.Message{Sender: "carol", Recipient: "alice", Content: "one"})
	if e.Unread("carol") != 1 {
		t.Fatalf("unread = %d, want 1", e.Unread("carol"))
	}

	var changed string
	e.OnRecipientChange = func(r string) { changed = r }

	e.SelectRecipient("carol")
	if changed != "carol" {
		t.Errorf("OnRecipientChange = %q", changed)
	}
	if e.Unread("carol") != 0 {
		t.Errorf("unread after select = %d", e.Unread("carol"))
	}
}

func TestSelectRecipientAgainRefetches(t *testing.T) {
	fetches := make(chan string, 4)
	e, _ := newConnectedEngine(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if name, ok := strings.CutPrefix(r.URL.Path, "/get_messages/"); ok {
			fetches <- name
		}
		writeEnvelope(w, []model.Message{})
	}))

	histDone := make(chan struct{}, 4)
	e.OnHistory = func(string, []model.Message) { histDone <- struct{}{} }

	// Selecting the same user twice reloads the conversation both
	// times.
	for i := 0; i < 2; i++ {
		e.SelectRecipient("bob")
		select {
		case <-histDone:
		case <-time.After(2 * time.Second):
			t.Fatalf("select %d never loaded history", i+1)
		}
	}

	if got := len(fetches); got != 2 {
		t.Fatalf("history fetches = %d, want 2", got)
	}
}

func TestStaleHistoryDiscarded(t *testing.T) {
	releaseBob := make(chan struct{})
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name, _ := strings.CutPrefix(r.URL.Path, "/get_messages/")
		if name == "bob" {
			select {
			case <-releaseBob:
			case <-r.Context().Done():
				return
			}
		}
		writeEnvelope(w, []model.Message{{Sender: name, Recipient: "alice", Content: "hi from " + name}})
	})

	e, _ := newConnectedEngine(t, handler)

	type delivery struct {
		recipient string
		msgs      []model.Message
	}
	got := make(chan delivery, 4)
	e.OnHistory = func(r string, msgs []model.Message) { got <- delivery{r, msgs} }

	e.SelectRecipient("bob")
	e.SelectRecipient("carol")

	select {
	case d := <-got:
		if d.recipient != "carol" {
			t.Fatalf("delivered history for %q, want carol", d.recipient)
		}
		want := []model.Message{{Sender: "carol", Recipient: "alice", Content: "hi from carol"}}
		if diff := cmp.Diff(want, d.msgs); diff != "" {
			t.Fatalf("history mismatch (-want +got):\n%s", diff)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("carol history never delivered")
	}

	close(releaseBob)
	select {
	case d := <-got:
		t.Fatalf("stale history for %q delivered", d.recipient)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestRosterExcludesSelf(t *testing.T) {
	e, _ := newConnectedEngine(t, http.NotFoundHandler())

	var roster []string
	e.OnRoster = func(users []string) { roster = users }

	e.handleEvent(protocol.Event{OnlineUsers: &protocol.OnlineUsers{
		Users: []string{"alice", "bob", "carol"},
	}})

	want := []string{"bob", "carol"}
	if diff := cmp.Diff(want, roster); diff != "" {
		t.Fatalf("roster mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(want, e.Online()); diff != "" {
		t.Fatalf("Online() mismatch (-want +got):\n%s", diff)
	}
}

func TestPresenceEvents(t *testing.T) {
	e, _ := newConnectedEngine(t, http.NotFoundHandler())

	var connected, disconnected []string
	e.OnUserConnected = func(u string) { connected = append(connected, u) }
	e.OnUserDisconnected = func(u string) { disconnected = append(disconnected, u) }

	e.handleEvent(protocol.Event{UserConnected: &protocol.Presence{Username: "bob"}})
	e.handleEvent(protocol.Event{UserConnected: &protocol.Presence{Username: "alice"}})
	e.handleEvent(protocol.Event{UserDisconnected: &protocol.Presence{Username: "bob"}})

	if diff := cmp.Diff([]string{"bob"}, connected); diff != "" {
		t.Errorf("connected mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"bob"}, disconnected); diff != "" {
		t.Errorf("disconnected mismatch (-want +got):\n%s", diff)
	}
}

func TestSendDuringDisconnect(t *testing.T) {
	e, _ := newConnectedEngine(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, model.Message{})
	}))
	e.mu.Lock()
	e.recipient = "bob"
	e.mu.Unlock()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			e.SendText("hi")
		}
	}()
	go func() {
		defer wg.Done()
		e.Disconnect()
	}()
	wg.Wait()
}

func TestDisconnectResetsState(t *testing.T) {
	e, sock := newConnectedEngine(t, http.NotFoundHandler())
	e.mu.Lock()
	e.recipient = "bob"
	e.online = []string{"bob"}
	e.unread["carol"] = 3
	e.mu.Unlock()

	var reason string
	e.OnDisconnect = func(r string) { reason = r }

	e.Disconnect()

	if e.GetState() != StateDisconnected {
		t.Error("state not disconnected")
	}
	if e.Recipient() != "" || len(e.Online()) != 0 || e.Unread("carol") != 0 {
		t.Error("conversation state not reset")
	}
	if reason != "user disconnected" {
		t.Errorf("reason = %q", reason)
	}
	sock.mu.Lock()
	closed := sock.closed
	sock.mu.Unlock()
	if !closed {
		t.Error("socket left open")
	}
}

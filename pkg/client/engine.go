package client

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/NicolasHaas/gochat/pkg/model"
	"github.com/NicolasHaas/gochat/pkg/protocol"
)

// State represents the client's connection state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

// Engine is the main client engine: it wires the REST API, the event
// socket, and the voice recorder together and drives the UI through
// callbacks. Callbacks are invoked from engine goroutines; UI layers
// must marshal onto their own thread.
type Engine struct {
	mu sync.RWMutex

	state     State
	username  string
	recipient string
	online    []string
	unread    map[string]int

	// history fetch generation; a reply older than the latest request
	// is discarded
	fetchSeq    int
	fetchCancel context.CancelFunc

	api      *API
	socket   EventSender
	recorder *Recorder

	ctx    context.Context
	cancel context.CancelFunc

	// Callbacks for UI updates
	OnStateChange      func(state State)
	OnRecipientChange  func(recipient string)
	OnHistory          func(recipient string, msgs []model.Message)
	OnMessage          func(msg model.Message)
	OnRoster           func(users []string)
	OnUserConnected    func(username string)
	OnUserDisconnected func(username string)
	OnUnread           func(username string, count int)
	OnNotify           func(title, body string)
	OnAlert            func(message string)
	OnRecording        func(recording bool)
	OnDisconnect       func(reason string)
	OnError            func(err error)
}

// NewEngine creates a new client engine.
func NewEngine() *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		state:  StateDisconnected,
		unread: make(map[string]int),
		ctx:    ctx,
		cancel: cancel,
	}
}

// SetRecorder attaches a voice recorder. Finished clips are sent to
// the current recipient as audio messages.
func (e *Engine) SetRecorder(r *Recorder) {
	e.recorder = r
	r.OnStateChange = func(recording bool) {
		if e.OnRecording != nil {
			e.OnRecording(recording)
		}
	}
	r.OnClip = e.sendClip
	r.OnError = func(err error) {
		if e.OnAlert != nil {
			e.OnAlert("Microphone unavailable")
		}
		e.reportError(err)
	}
}

// Connect signs in and opens the realtime event socket.
func (e *Engine) Connect(serverURL, username, password string) error {
	e.mu.Lock()
	if e.state != StateDisconnected {
		e.mu.Unlock()
		return fmt.Errorf("already connected")
	}
	e.state = StateConnecting
	ctx := e.ctx
	e.mu.Unlock()

	e.notifyStateChange(StateConnecting)

	api := NewAPI(serverURL)
	if err := api.Login(ctx, username, password); err != nil {
		e.setState(StateDisconnected)
		return err
	}

	sock, err := DialSocket(ctx, serverURL, api.Token())
	if err != nil {
		e.setState(StateDisconnected)
		return err
	}

	e.mu.Lock()
	e.api = api
	e.socket = sock
	e.username = username
	e.state = StateConnected
	e.mu.Unlock()

	sock.SetEventHandler(e.handleEvent)
	sock.StartReceiving()

	slog.Info("connected", "server", serverURL, "user", username)
	e.notifyStateChange(StateConnected)

	// Monitor for disconnect
	go func() {
		<-sock.Done()
		e.handleDisconnect("connection lost")
	}()

	return nil
}

// Signup registers a new account on the server.
func (e *Engine) Signup(serverURL, username, password string) error {
	e.mu.RLock()
	ctx := e.ctx
	e.mu.RUnlock()
	return NewAPI(serverURL).Signup(ctx, username, password)
}

// handleEvent dispatches incoming server events.
func (e *Engine) handleEvent(ev protocol.Event) {
	switch {
	case ev.NewMessage != nil:
		e.handleIncoming(*ev.NewMessage)

	case ev.OnlineUsers != nil:
		e.mu.Lock()
		self := e.username
		users := make([]string, 0, len(ev.OnlineUsers.Users))
		for _, u := range ev.OnlineUsers.Users {
			if u != self {
				users = append(users, u)
			}
		}
		e.online = users
		e.mu.Unlock()
		if e.OnRoster != nil {
			e.OnRoster(users)
		}

	case ev.UserConnected != nil:
		if ev.UserConnected.Username != e.Username() && e.OnUserConnected != nil {
			e.OnUserConnected(ev.UserConnected.Username)
		}

	case ev.UserDisconnected != nil:
		if ev.UserDisconnected.Username != e.Username() && e.OnUserDisconnected != nil {
			e.OnUserDisconnected(ev.UserDisconnected.Username)
		}

	case ev.Error != nil:
		slog.Error("server error", "msg", ev.Error.Message)
		e.reportError(fmt.Errorf("server: %s", ev.Error.Message))
	}
}

// handleIncoming processes one message event. Messages not addressed
// to or from this user are dropped; echoes of our own sends render
// directly; messages from the open conversation notify and trigger a
// history refresh; everything else becomes an unread counter and a
// notification.
func (e *Engine) handleIncoming(msg model.Message) {
	e.mu.Lock()
	self := e.username
	current := e.recipient
	if msg.Sender != self && msg.Recipient != self {
		e.mu.Unlock()
		return
	}
	if msg.Sender == self {
		e.mu.Unlock()
		if e.OnMessage != nil {
			e.OnMessage(msg)
		}
		return
	}
	if msg.Sender == current {
		e.mu.Unlock()
		if e.OnNotify != nil {
			e.OnNotify("Message from "+msg.Sender, notifyPreview(msg))
		}
		e.fetchHistory(current)
		return
	}
	e.unread[msg.Sender]++
	count := e.unread[msg.Sender]
	e.mu.Unlock()

	if e.OnUnread != nil {
		e.OnUnread(msg.Sender, count)
	}
	if e.OnNotify != nil {
		e.OnNotify("Message from "+msg.Sender, notifyPreview(msg))
	}
}

func notifyPreview(msg model.Message) string {
	if msg.Content != "" {
		return msg.Content
	}
	switch msg.MediaType {
	case model.MediaImage:
		return "Sent an image"
	case model.MediaAudio:
		return "Sent a voice message"
	case model.MediaVideo:
		return "Sent a video"
	default:
		return "Sent a message"
	}
}

// SelectRecipient opens a conversation: unread state clears and the
// history loads in the background. Selecting the open conversation
// again refetches its history.
func (e *Engine) SelectRecipient(username string) {
	e.mu.Lock()
	e.recipient = username
	delete(e.unread, username)
	e.mu.Unlock()

	if e.OnRecipientChange != nil {
		e.OnRecipientChange(username)
	}
	if e.OnUnread != nil {
		e.OnUnread(username, 0)
	}
	e.fetchHistory(username)
}

// fetchHistory loads the conversation with a user. Concurrent fetches
// race; only the most recently requested one may deliver, and any
// in-flight older request is cancelled.
func (e *Engine) fetchHistory(username string) {
	e.mu.Lock()
	api := e.api
	if api == nil {
		e.mu.Unlock()
		return
	}
	if e.fetchCancel != nil {
		e.fetchCancel()
	}
	ctx, cancel := context.WithCancel(e.ctx)
	e.fetchCancel = cancel
	e.fetchSeq++
	seq := e.fetchSeq
	e.mu.Unlock()

	go func() {
		defer cancel()
		msgs, err := api.GetMessages(ctx, username)

		e.mu.RLock()
		stale := seq != e.fetchSeq || e.recipient != username
		e.mu.RUnlock()
		if stale {
			return
		}
		if err != nil {
			e.reportError(fmt.Errorf("load history with %s: %w", username, err))
			return
		}
		if e.OnHistory != nil {
			e.OnHistory(username, msgs)
		}
	}()
}

// SendText sends a text message to the current recipient. Empty input
// is silently ignored; missing or self recipients raise an alert
// without touching the network.
func (e *Engine) SendText(text string) {
	e.mu.RLock()
	self := e.username
	recipient := e.recipient
	api := e.api
	sock := e.socket
	ctx := e.ctx
	e.mu.RUnlock()

	if recipient != "" && recipient == self {
		e.alert("You cannot send a message to yourself.")
		return
	}
	if recipient == "" {
		e.alert("Please select a user to send the message.")
		return
	}
	if text == "" {
		return
	}
	if api == nil || sock == nil {
		e.alert("Not connected")
		return
	}

	// Render the message immediately, emit it over the socket, then
	// make the durable REST write. The local render does not wait for
	// either to succeed.
	msg := model.Message{
		Sender:    self,
		Recipient: recipient,
		Content:   text,
		Timestamp: time.Now().UTC(),
	}
	if e.OnMessage != nil {
		e.OnMessage(msg)
	}
	if err := sock.Send(protocol.Event{NewMessage: &msg}); err != nil {
		e.reportError(fmt.Errorf("send message: %w", err))
	}

	go func() {
		if _, err := api.SendMessage(ctx, recipient, text, nil); err != nil {
			e.reportError(fmt.Errorf("store message: %w", err))
		}
	}()
}

// SendMedia uploads an attachment to the current recipient, then
// announces the stored record over the socket so both ends render the
// durable media path.
func (e *Engine) SendMedia(media Media) {
	e.mu.RLock()
	self := e.username
	recipient := e.recipient
	api := e.api
	sock := e.socket
	ctx := e.ctx
	e.mu.RUnlock()

	if recipient != "" && recipient == self {
		e.alert("You cannot send a message to yourself.")
		return
	}
	if recipient == "" {
		e.alert("Please select a user to send the message.")
		return
	}
	if api == nil || sock == nil {
		e.alert("Not connected")
		return
	}

	go func() {
		stored, err := api.SendMessage(ctx, recipient, "", &media)
		if err != nil {
			e.reportError(fmt.Errorf("send media: %w", err))
			return
		}
		if err := sock.Send(protocol.Event{NewMessage: stored}); err != nil {
			e.reportError(fmt.Errorf("announce media: %w", err))
		}
	}()
}

// StartRecording begins capturing a voice clip for the current
// recipient. The recipient preconditions run before the microphone is
// touched.
func (e *Engine) StartRecording() {
	e.mu.RLock()
	self := e.username
	recipient := e.recipient
	rec := e.recorder
	e.mu.RUnlock()

	if rec == nil {
		return
	}
	if recipient != "" && recipient == self {
		e.alert("You cannot send a message to yourself.")
		return
	}
	if recipient == "" {
		e.alert("Please select a user to send the message.")
		return
	}
	_ = rec.Start()
}

// StopRecording ends the voice clip; the finished clip is sent via the
// recorder's OnClip hook.
func (e *Engine) StopRecording() {
	if e.recorder != nil {
		e.recorder.Stop()
	}
}

func (e *Engine) sendClip(data []byte, duration time.Duration) {
	mux := e.recorder.Muxer()
	name := fmt.Sprintf("voice_%d%s", time.Now().UnixMilli(), mux.FileExt())
	slog.Info("voice clip recorded", "duration", duration, "bytes", len(data))
	e.SendMedia(Media{FileName: name, MIME: mux.MIME(), Data: data})
}

// API returns the REST client for direct use (media URLs, downloads).
func (e *Engine) API() *API {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.api
}

// GetState returns the current connection state.
func (e *Engine) GetState() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// Username returns the signed-in username.
func (e *Engine) Username() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.username
}

// Recipient returns the open conversation partner ("" when none).
func (e *Engine) Recipient() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.recipient
}

// Online returns the last received roster, excluding this user.
func (e *Engine) Online() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]string, len(e.online))
	copy(out, e.online)
	return out
}

// Unread returns the unread count for a user.
func (e *Engine) Unread(username string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.unread[username]
}

// Disconnect disconnects from the server.
func (e *Engine) Disconnect() {
	e.handleDisconnect("user disconnected")
}

func (e *Engine) handleDisconnect(reason string) {
	e.mu.Lock()
	if e.state == StateDisconnected {
		e.mu.Unlock()
		return
	}
	e.state = StateDisconnected
	e.recipient = ""
	e.online = nil
	e.unread = make(map[string]int)

	sock := e.socket
	e.socket = nil
	e.api = nil

	// Cancel in-flight requests and reset the context for
	// reconnection. In-flight goroutines read e.ctx under the mutex,
	// so the swap happens under it too.
	e.cancel()
	e.ctx, e.cancel = context.WithCancel(context.Background())
	e.mu.Unlock()

	if e.recorder != nil {
		e.recorder.Stop()
	}
	if sock != nil {
		_ = sock.Close()
	}

	slog.Info("disconnected", "reason", reason)
	e.notifyStateChange(StateDisconnected)
	if e.OnDisconnect != nil {
		e.OnDisconnect(reason)
	}
}

func (e *Engine) setState(state State) {
	e.mu.Lock()
	e.state = state
	e.mu.Unlock()
	e.notifyStateChange(state)
}

func (e *Engine) notifyStateChange(state State) {
	if e.OnStateChange != nil {
		e.OnStateChange(state)
	}
}

func (e *Engine) alert(message string) {
	if e.OnAlert != nil {
		e.OnAlert(message)
	}
}

func (e *Engine) reportError(err error) {
	if e.OnError != nil {
		e.OnError(err)
	}
}

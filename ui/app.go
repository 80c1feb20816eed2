// Package ui provides the Fyne-based GUI for the GoChat client.
package ui

import (
	"context"
	"fmt"
	"image/color"
	"log/slog"
	"math/rand"
	"net/url"
	"path/filepath"
	"strings"
	"sync"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/driver/desktop"
	"fyne.io/fyne/v2/layout"
	"fyne.io/fyne/v2/storage"
	"fyne.io/fyne/v2/theme"
	"fyne.io/fyne/v2/widget"

	"github.com/NicolasHaas/gochat/pkg/audio"
	"github.com/NicolasHaas/gochat/pkg/client"
	"github.com/NicolasHaas/gochat/pkg/model"
	"github.com/NicolasHaas/gochat/pkg/version"
)

// maxAttachmentBytes caps what the attach dialog will read into memory.
const maxAttachmentBytes = 32 << 20

// App is the main GUI application.
type App struct {
	fyneApp fyne.App
	window  fyne.Window
	engine  *client.Engine
	player  *audio.ClipPlayer

	// UI components
	userList      *widget.List
	statusLabel   *widget.Label
	connectBtn    *widget.Button
	disconnectBtn *widget.Button
	themeBtn      *widget.Button
	attachBtn     *widget.Button
	sendBtn       *widget.Button
	recordBtn     *holdButton

	// Chat UI
	chatHeader *widget.Label
	chatBox    *fyne.Container
	chatScroll *container.Scroll
	chatEntry  *widget.Entry

	// State mirrored from the engine for list rendering
	mu     sync.Mutex
	users  []string
	unread map[string]int

	settings *client.Settings
}

// NewApp creates a new GoChat GUI application.
func NewApp() *App {
	// Start PortAudio init in background immediately so it's ready by
	// the time the user records a voice message
	audio.PreInitAudio()

	a := &App{
		fyneApp:  app.NewWithID("io.gochat.client"),
		engine:   client.NewEngine(),
		player:   audio.NewClipPlayer(),
		unread:   make(map[string]int),
		settings: client.LoadSettings(),
	}
	a.setupRecorder()
	a.applyTheme()
	a.window = a.fyneApp.NewWindow("GoChat")
	a.window.Resize(fyne.NewSize(900, 620))
	a.window.SetMaster()
	return a
}

func (a *App) setupRecorder() {
	encoder, err := audio.NewEncoder()
	if err != nil {
		slog.Error("voice recording unavailable", "err", err)
		return
	}
	capture := audio.NewCaptureDevice(audio.SampleRate, audio.FrameSize)
	muxer := audio.NewOggOpusMuxer(rand.Uint32())
	a.engine.SetRecorder(client.NewRecorder(capture, encoder, muxer))
}

// Run starts the GUI application (blocks).
func (a *App) Run() {
	a.buildUI()
	a.bindEvents()
	a.window.SetCloseIntercept(func() {
		a.engine.Disconnect()
		a.fyneApp.Quit()
	})
	a.window.ShowAndRun()
}

func (a *App) buildUI() {
	// --- Toolbar ---
	a.connectBtn = widget.NewButtonWithIcon("Sign In", theme.LoginIcon(), a.showLoginDialog)
	a.disconnectBtn = widget.NewButtonWithIcon("Sign Out", theme.LogoutIcon(), func() {
		a.engine.Disconnect()
	})
	a.disconnectBtn.Disable()

	a.themeBtn = widget.NewButtonWithIcon("", theme.ColorPaletteIcon(), a.toggleTheme)
	helpBtn := widget.NewButtonWithIcon("", theme.InfoIcon(), a.showHelpDialog)

	toolbar := container.NewHBox(
		a.connectBtn,
		a.disconnectBtn,
		layout.NewSpacer(),
		a.themeBtn,
		helpBtn,
	)

	// --- User list (sidebar) ---
	a.userList = widget.NewList(
		func() int { return a.userListLen() },
		func() fyne.CanvasObject {
			icon := widget.NewIcon(theme.AccountIcon())
			label := widget.NewLabel("Username placeholder")
			badge := widget.NewLabel("")
			badge.TextStyle = fyne.TextStyle{Bold: true}
			return container.NewHBox(icon, label, layout.NewSpacer(), badge)
		},
		func(id widget.ListItemID, obj fyne.CanvasObject) {
			a.updateUserListItem(id, obj)
		},
	)
	a.userList.OnSelected = func(id widget.ListItemID) {
		a.onUserListSelect(id)
	}

	sidebar := container.NewBorder(
		widget.NewLabelWithStyle("Online", fyne.TextAlignCenter, fyne.TextStyle{Bold: true}),
		nil, nil, nil,
		a.userList,
	)

	// --- Status ---
	a.statusLabel = widget.NewLabel("Signed out")
	a.statusLabel.TextStyle = fyne.TextStyle{Italic: true}

	versionLabel := widget.NewLabel(version.String())
	versionLabel.TextStyle = fyne.TextStyle{Italic: true}
	versionLabel.Importance = widget.LowImportance

	// --- Chat panel (right side) ---
	a.chatHeader = widget.NewLabelWithStyle("Select a user to chat", fyne.TextAlignCenter, fyne.TextStyle{Bold: true})
	a.chatBox = container.NewVBox()
	a.chatScroll = container.NewVScroll(a.chatBox)

	a.chatEntry = widget.NewEntry()
	a.chatEntry.SetPlaceHolder("Type a message... (Enter to send)")
	a.chatEntry.Disable()
	a.chatEntry.OnSubmitted = func(text string) {
		text = strings.TrimSpace(text)
		if text == "" {
			return
		}
		a.engine.SendText(text)
		a.chatEntry.SetText("")
	}

	a.attachBtn = widget.NewButtonWithIcon("", theme.ContentAddIcon(), a.showAttachDialog)
	a.attachBtn.Disable()

	a.sendBtn = widget.NewButtonWithIcon("", theme.MailSendIcon(), func() {
		a.chatEntry.OnSubmitted(a.chatEntry.Text)
	})
	a.sendBtn.Disable()

	// Press and hold to record; release (or leave the button) to send.
	a.recordBtn = newHoldButton(" Hold to Record ", theme.MediaRecordIcon())
	a.recordBtn.OnPress = func() { a.engine.StartRecording() }
	a.recordBtn.OnRelease = func() { a.engine.StopRecording() }
	a.recordBtn.Disable()
	recordFixed := container.New(layout.NewGridWrapLayout(fyne.NewSize(170, 36)), a.recordBtn)

	inputBar := container.NewBorder(nil, nil, a.attachBtn, container.NewHBox(a.sendBtn, recordFixed), a.chatEntry)
	chatPanel := container.NewBorder(a.chatHeader, inputBar, nil, nil, a.chatScroll)

	// --- Main layout ---
	mainArea := container.NewHSplit(sidebar, chatPanel)
	mainArea.SetOffset(0.25)

	statusBar := container.NewHBox(a.statusLabel, layout.NewSpacer(), versionLabel)

	content := container.NewBorder(
		toolbar,
		statusBar,
		nil, nil,
		mainArea,
	)

	a.window.SetContent(content)
}

func (a *App) bindEvents() {
	a.engine.OnStateChange = func(state client.State) {
		fyne.Do(func() {
			switch state {
			case client.StateDisconnected:
				a.statusLabel.SetText("Signed out")
				a.connectBtn.Enable()
				a.disconnectBtn.Disable()
				a.chatEntry.Disable()
				a.sendBtn.Disable()
				a.attachBtn.Disable()
				a.recordBtn.Disable()
				a.chatHeader.SetText("Select a user to chat")
				a.chatBox.Objects = nil
				a.chatBox.Refresh()
				a.mu.Lock()
				a.users = nil
				a.unread = make(map[string]int)
				a.mu.Unlock()
				a.userList.UnselectAll()
				a.userList.Refresh()
			case client.StateConnecting:
				a.statusLabel.SetText("Signing in...")
				a.connectBtn.Disable()
			case client.StateConnected:
				a.statusLabel.SetText("Signed in as " + a.engine.Username())
				a.connectBtn.Disable()
				a.disconnectBtn.Enable()
			}
		})
	}

	a.engine.OnRoster = func(users []string) {
		fyne.Do(func() {
			a.mu.Lock()
			a.users = users
			a.mu.Unlock()
			a.userList.Refresh()
		})
	}

	a.engine.OnRecipientChange = func(recipient string) {
		fyne.Do(func() {
			a.chatHeader.SetText("Chat with " + recipient)
			a.chatBox.Objects = nil
			a.chatBox.Refresh()
			a.chatEntry.Enable()
			a.sendBtn.Enable()
			a.attachBtn.Enable()
			a.recordBtn.Enable()
		})
	}

	a.engine.OnHistory = func(recipient string, msgs []model.Message) {
		fyne.Do(func() {
			if a.engine.Recipient() != recipient {
				return
			}
			a.chatBox.Objects = nil
			for i := range msgs {
				a.chatBox.Add(a.renderMessage(msgs[i]))
			}
			a.chatBox.Refresh()
			a.chatScroll.ScrollToBottom()
		})
	}

	a.engine.OnMessage = func(msg model.Message) {
		fyne.Do(func() {
			a.chatBox.Add(a.renderMessage(msg))
			// Keep at most 500 messages
			if len(a.chatBox.Objects) > 500 {
				a.chatBox.Objects = a.chatBox.Objects[len(a.chatBox.Objects)-500:]
			}
			a.chatBox.Refresh()
			a.chatScroll.ScrollToBottom()
		})
	}

	a.engine.OnUnread = func(username string, count int) {
		fyne.Do(func() {
			a.mu.Lock()
			if count == 0 {
				delete(a.unread, username)
			} else {
				a.unread[username] = count
			}
			a.mu.Unlock()
			a.userList.Refresh()
		})
	}

	a.engine.OnNotify = func(title, body string) {
		if !a.settings.Notifications {
			return
		}
		a.fyneApp.SendNotification(fyne.NewNotification(title, body))
	}

	a.engine.OnUserConnected = func(username string) {
		fyne.Do(func() {
			a.appendSystemLine(username + " is online")
		})
	}

	a.engine.OnUserDisconnected = func(username string) {
		fyne.Do(func() {
			a.appendSystemLine(username + " went offline")
		})
	}

	a.engine.OnAlert = func(message string) {
		fyne.Do(func() {
			dialog.ShowInformation("Notice", message, a.window)
		})
	}

	a.engine.OnRecording = func(recording bool) {
		fyne.Do(func() {
			if recording {
				a.recordBtn.SetText("Recording...")
				a.recordBtn.Importance = widget.DangerImportance
				a.statusLabel.SetText("Recording voice message (max 60s)")
			} else {
				a.recordBtn.SetText(" Hold to Record ")
				a.recordBtn.Importance = widget.MediumImportance
				a.statusLabel.SetText("Signed in as " + a.engine.Username())
			}
			a.recordBtn.Refresh()
		})
	}

	a.engine.OnDisconnect = func(reason string) {
		fyne.Do(func() {
			if reason != "user disconnected" {
				dialog.ShowInformation("Disconnected", reason, a.window)
			}
		})
	}

	a.engine.OnError = func(err error) {
		slog.Error("engine error", "err", err)
	}
}

// appendSystemLine adds a presence note to the open conversation.
func (a *App) appendSystemLine(text string) {
	if a.engine.Recipient() == "" {
		return
	}
	lbl := widget.NewLabel("— " + text + " —")
	lbl.Alignment = fyne.TextAlignCenter
	lbl.TextStyle = fyne.TextStyle{Italic: true}
	a.chatBox.Add(lbl)
	a.chatScroll.ScrollToBottom()
}

// ----- User list helpers -----

func (a *App) userListLen() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.users)
}

func (a *App) userAt(index int) (string, int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if index >= len(a.users) {
		return "", 0
	}
	name := a.users[index]
	return name, a.unread[name]
}

func (a *App) updateUserListItem(id widget.ListItemID, obj fyne.CanvasObject) {
	box := obj.(*fyne.Container)
	label := box.Objects[1].(*widget.Label)
	// Objects[2] is layout spacer
	badge := box.Objects[3].(*widget.Label)

	name, unread := a.userAt(id)
	if name == a.engine.Recipient() {
		label.TextStyle = fyne.TextStyle{Bold: true}
	} else {
		label.TextStyle = fyne.TextStyle{}
	}
	label.SetText(name)

	if unread > 0 {
		badge.SetText(fmt.Sprintf("(%d)", unread))
	} else {
		badge.SetText("")
	}
}

func (a *App) onUserListSelect(id widget.ListItemID) {
	name, _ := a.userAt(id)
	if name == "" {
		return
	}
	a.engine.SelectRecipient(name)
}

// ----- Message rendering -----

func (a *App) renderMessage(msg model.Message) fyne.CanvasObject {
	prefix := fmt.Sprintf("[%s] %s", msg.Timestamp.Local().Format("15:04"), msg.Sender)

	if !msg.HasMedia() {
		lbl := widget.NewLabel(fmt.Sprintf("%s: %s", prefix, msg.Content))
		lbl.Wrapping = fyne.TextWrapWord
		return lbl
	}

	var mediaWidget fyne.CanvasObject
	switch msg.MediaType {
	case model.MediaAudio:
		mediaWidget = widget.NewButtonWithIcon("Play voice message", theme.MediaPlayIcon(), func() {
			a.playVoiceMessage(msg.MediaPath)
		})
	case model.MediaImage:
		mediaWidget = widget.NewButtonWithIcon("View image", theme.FileImageIcon(), func() {
			a.openMedia(msg.MediaPath)
		})
	case model.MediaVideo:
		mediaWidget = widget.NewButtonWithIcon("Play video", theme.FileVideoIcon(), func() {
			a.openMedia(msg.MediaPath)
		})
	default:
		mediaWidget = widget.NewButtonWithIcon("Open attachment", theme.FileIcon(), func() {
			a.openMedia(msg.MediaPath)
		})
	}

	row := container.NewHBox(widget.NewLabel(prefix+":"), mediaWidget)
	if msg.Content == "" {
		return row
	}
	caption := widget.NewLabel(msg.Content)
	caption.Wrapping = fyne.TextWrapWord
	return container.NewVBox(row, caption)
}

func (a *App) playVoiceMessage(mediaPath string) {
	api := a.engine.API()
	if api == nil {
		return
	}
	if !strings.HasSuffix(mediaPath, ".ogg") {
		a.openMedia(mediaPath)
		return
	}
	go func() {
		data, err := api.FetchMedia(context.Background(), mediaPath)
		if err != nil {
			slog.Error("fetch voice message", "err", err)
			return
		}
		if err := a.player.Play(data); err != nil {
			slog.Error("play voice message", "err", err)
		}
	}()
}

// openMedia hands a media URL to the system browser.
func (a *App) openMedia(mediaPath string) {
	api := a.engine.API()
	if api == nil {
		return
	}
	u, err := url.Parse(api.MediaURL(mediaPath))
	if err != nil {
		return
	}
	if err := a.fyneApp.OpenURL(u); err != nil {
		slog.Error("open media", "err", err)
	}
}

// ----- Dialogs -----

func (a *App) showLoginDialog() {
	serverEntry := widget.NewEntry()
	serverEntry.SetText(a.settings.ServerURL)

	usernameEntry := widget.NewEntry()
	usernameEntry.SetPlaceHolder("Username")
	usernameEntry.SetText(a.settings.Username)

	passwordEntry := widget.NewPasswordEntry()
	passwordEntry.SetPlaceHolder("Password")

	signupCheck := widget.NewCheck("Create a new account", nil)

	content := container.NewVBox(
		widget.NewLabel("Server"),
		serverEntry,
		widget.NewLabel("Username"),
		usernameEntry,
		widget.NewLabel("Password"),
		passwordEntry,
		signupCheck,
	)

	d := dialog.NewCustomConfirm(
		"Sign In",
		"Sign In",
		"Cancel",
		content,
		func(ok bool) {
			if !ok {
				return
			}
			serverURL := strings.TrimSpace(serverEntry.Text)
			username := strings.TrimSpace(usernameEntry.Text)
			password := passwordEntry.Text
			if serverURL == "" || username == "" || password == "" {
				dialog.ShowError(fmt.Errorf("server, username and password are required"), a.window)
				return
			}

			a.settings.ServerURL = serverURL
			a.settings.Username = username
			if err := a.settings.Save(); err != nil {
				slog.Error("save settings", "err", err)
			}

			createAccount := signupCheck.Checked
			go func() {
				if createAccount {
					if err := a.engine.Signup(serverURL, username, password); err != nil {
						slog.Error("signup failed", "err", err)
						fyne.Do(func() {
							dialog.ShowError(fmt.Errorf("signup failed: %v", err), a.window)
						})
						return
					}
				}
				if err := a.engine.Connect(serverURL, username, password); err != nil {
					slog.Error("sign in failed", "err", err)
					fyne.Do(func() {
						dialog.ShowError(fmt.Errorf("sign in failed: %v", err), a.window)
					})
				}
			}()
		},
		a.window,
	)
	d.Resize(fyne.NewSize(400, 320))
	d.Show()
}

func (a *App) showAttachDialog() {
	fd := dialog.NewFileOpen(func(reader fyne.URIReadCloser, err error) {
		if err != nil {
			dialog.ShowError(err, a.window)
			return
		}
		if reader == nil {
			return
		}
		defer func() { _ = reader.Close() }()

		name := reader.URI().Name()
		data := make([]byte, 0, 64<<10)
		buf := make([]byte, 32<<10)
		for {
			n, rerr := reader.Read(buf)
			data = append(data, buf[:n]...)
			if len(data) > maxAttachmentBytes {
				dialog.ShowError(fmt.Errorf("file too large"), a.window)
				return
			}
			if rerr != nil {
				break
			}
		}

		a.engine.SendMedia(client.Media{
			FileName: name,
			MIME:     mimeByExt(name),
			Data:     data,
		})
	}, a.window)
	fd.SetFilter(storage.NewExtensionFileFilter([]string{".png", ".jpg", ".jpeg", ".gif", ".mp4", ".mp3", ".ogg"}))
	fd.Show()
}

func mimeByExt(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".gif":
		return "image/gif"
	case ".mp4":
		return "video/mp4"
	case ".mp3":
		return "audio/mpeg"
	case ".ogg":
		return "audio/ogg"
	default:
		return "application/octet-stream"
	}
}

// toggleTheme flips the presentation variant for this session only;
// the settings file seeds the startup variant.
func (a *App) toggleTheme() {
	a.settings.DarkMode = !a.settings.DarkMode
	a.applyTheme()
}

func (a *App) applyTheme() {
	variant := theme.VariantLight
	if a.settings.DarkMode {
		variant = theme.VariantDark
	}
	a.fyneApp.Settings().SetTheme(&forcedVariant{Theme: theme.DefaultTheme(), variant: variant})
}

func (a *App) showHelpDialog() {
	helpText := "GoChat — Private Messaging\n\n" +
		"USER LIST\n" +
		"  Shows everyone currently online.\n" +
		"  (n)              — Unread messages from that user\n" +
		"  Click a user to open the conversation.\n\n" +
		"MESSAGES\n" +
		"  Press Enter to send.\n" +
		"  + icon           — Attach an image, video or audio file\n" +
		"  Hold to Record   — Hold to record a voice message,\n" +
		"                     release to send (60 second limit)\n\n" +
		"TOOLBAR\n" +
		"  Palette icon     — Toggle dark/light theme\n" +
		"  Info icon        — This help dialog"

	label := widget.NewLabel(helpText)
	label.TextStyle = fyne.TextStyle{Monospace: true}
	scroll := container.NewVScroll(label)
	scroll.SetMinSize(fyne.NewSize(410, 320))

	d := dialog.NewCustom("Help", "Close", scroll, a.window)
	d.Resize(fyne.NewSize(460, 380))
	d.Show()
}

// ----- Custom widgets and theme -----

// holdButton is a button that reports press and release separately, so
// recording runs exactly while the pointer is held down. Leaving the
// button while held counts as a release.
type holdButton struct {
	widget.Button
	OnPress   func()
	OnRelease func()
}

func newHoldButton(label string, icon fyne.Resource) *holdButton {
	b := &holdButton{}
	b.Text = label
	b.Icon = icon
	b.ExtendBaseWidget(b)
	return b
}

func (b *holdButton) MouseDown(e *desktop.MouseEvent) {
	if !b.Disabled() && b.OnPress != nil {
		b.OnPress()
	}
	b.Button.MouseDown(e)
}

func (b *holdButton) MouseUp(e *desktop.MouseEvent) {
	if b.OnRelease != nil {
		b.OnRelease()
	}
	b.Button.MouseUp(e)
}

func (b *holdButton) MouseOut() {
	if b.OnRelease != nil {
		b.OnRelease()
	}
	b.Button.MouseOut()
}

// forcedVariant pins the theme to one variant regardless of the OS
// preference, backing the dark/light toggle.
type forcedVariant struct {
	fyne.Theme
	variant fyne.ThemeVariant
}

func (f *forcedVariant) Color(name fyne.ThemeColorName, _ fyne.ThemeVariant) color.Color {
	return f.Theme.Color(name, f.variant)
}

package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/NicolasHaas/gochat/pkg/crypto"
	"github.com/NicolasHaas/gochat/pkg/model"
)

type ctxKey int

const ctxKeyUsername ctxKey = iota

// apiResponse is the envelope for every JSON response.
type apiResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

func respond(w http.ResponseWriter, code int, body apiResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Debug("write response", "err", err)
	}
}

func respondError(w http.ResponseWriter, code int, message string) {
	respond(w, code, apiResponse{Status: "fail", Message: message})
}

// Router builds the full HTTP surface: auth, messaging, media, and the
// websocket upgrade endpoint.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Post("/signup", s.handleSignup)
	r.Post("/login", s.handleLogin)
	r.Get("/media/{filename}", s.handleMedia)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	r.Group(func(r chi.Router) {
		r.Use(s.requireAuth)
		r.Post("/logout", s.handleLogout)
		r.Post("/send_message", s.handleSendMessage)
		r.Get("/get_messages/{recipient}", s.handleGetMessages)
		r.Get("/ws", s.handleWS)
	})

	return r
}

// bearerToken extracts the session token from the Authorization header,
// falling back to the token query parameter for websocket dials.
func bearerToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if tok, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return tok
		}
	}
	return r.URL.Query().Get("token")
}

func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			respondError(w, http.StatusUnauthorized, "User not logged in")
			return
		}
		username := s.sessions.Lookup(crypto.HashToken(token))
		if username == "" {
			respondError(w, http.StatusUnauthorized, "User not logged in")
			return
		}
		ctx := context.WithValue(r.Context(), ctxKeyUsername, username)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func usernameFrom(r *http.Request) string {
	name, _ := r.Context().Value(ctxKeyUsername).(string)
	return name
}

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := model.ValidateUsername(req.Username); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Password == "" {
		respondError(w, http.StatusBadRequest, "Password required")
		return
	}

	existing, err := s.store.GetUserByUsername(req.Username)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Internal error")
		return
	}
	if existing != nil {
		respondError(w, http.StatusConflict, "Username already taken")
		return
	}

	salt, err := crypto.GenerateSalt()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Internal error")
		return
	}
	hash := crypto.HashPassword(req.Password, salt)

	if _, err := s.store.CreateUser(req.Username, hash, salt); err != nil {
		respondError(w, http.StatusConflict, "Username already taken")
		return
	}

	s.metrics.SignupsTotal.Add(1)
	slog.Info("user registered", "user", req.Username)
	respond(w, http.StatusCreated, apiResponse{Status: "success", Message: "Account created"})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	hash, salt, err := s.store.Credentials(req.Username)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Internal error")
		return
	}
	if hash == nil || !crypto.VerifyPassword(req.Password, salt, hash) {
		s.metrics.FailedAuths.Add(1)
		respondError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}

	token, err := crypto.GenerateToken()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Internal error")
		return
	}
	s.sessions.Add(crypto.HashToken(token), req.Username)
	s.metrics.SuccessfulAuths.Add(1)
	slog.Info("user logged in", "user", req.Username)

	respond(w, http.StatusOK, apiResponse{
		Status: "success",
		Data:   map[string]string{"token": token, "username": req.Username},
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.sessions.Remove(crypto.HashToken(bearerToken(r)))
	respond(w, http.StatusOK, apiResponse{Status: "success", Message: "Logged out"})
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	sender := usernameFrom(r)

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes+64<<10)
	if err := r.ParseMultipartForm(4 << 20); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid form data")
		return
	}

	recipient := r.FormValue("recipient")
	content := r.FormValue("message")

	if recipient == "" {
		respondError(w, http.StatusBadRequest, "Recipient not specified")
		return
	}
	if recipient == sender {
		respondError(w, http.StatusBadRequest, "You cannot send a message to yourself.")
		return
	}

	target, err := s.store.GetUserByUsername(recipient)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Internal error")
		return
	}
	if target == nil {
		respondError(w, http.StatusNotFound, "Recipient not found")
		return
	}

	msg := model.Message{
		Sender:    sender,
		Recipient: recipient,
		Content:   content,
	}

	file, header, err := r.FormFile("media")
	switch {
	case err == nil:
		mediaPath, saveErr := s.saveUpload(file, header.Filename)
		_ = file.Close()
		if saveErr != nil {
			if errors.Is(saveErr, ErrMediaExtension) {
				respondError(w, http.StatusBadRequest, "File type not allowed")
				return
			}
			if errors.Is(saveErr, ErrMediaTooLarge) {
				respondError(w, http.StatusRequestEntityTooLarge, "File too large")
				return
			}
			respondError(w, http.StatusInternalServerError, "Failed to store media")
			return
		}
		msg.MediaPath = mediaPath
		msg.MediaType = model.MediaKindFromMIME(r.FormValue("mediaType"))
		if msg.MediaType == "" {
			msg.MediaType = mediaKindFromExt(header.Filename)
		}
	case errors.Is(err, http.ErrMissingFile):
		// text-only message
	default:
		respondError(w, http.StatusBadRequest, "Invalid media upload")
		return
	}

	if err := msg.Validate(); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.store.SaveMessage(&msg); err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to store message")
		return
	}

	s.metrics.MessagesStored.Add(1)
	respond(w, http.StatusOK, apiResponse{Status: "success", Message: "Message stored", Data: msg})
}

func (s *Server) handleGetMessages(w http.ResponseWriter, r *http.Request) {
	requester := usernameFrom(r)
	recipient := chi.URLParam(r, "recipient")

	target, err := s.store.GetUserByUsername(recipient)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Internal error")
		return
	}
	if target == nil {
		respondError(w, http.StatusNotFound, "Recipient not found")
		return
	}

	msgs, err := s.store.Conversation(requester, recipient)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Internal error")
		return
	}
	if msgs == nil {
		msgs = []model.Message{}
	}

	s.metrics.HistoryFetches.Add(1)
	respond(w, http.StatusOK, apiResponse{Status: "success", Data: msgs})
}

func (s *Server) handleMedia(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "filename")
	// Reject anything that is not a bare generated filename.
	if name == "" || name != filepath.Base(name) || strings.Contains(name, "..") {
		respondError(w, http.StatusBadRequest, "Invalid filename")
		return
	}
	if !AllowedMediaFile(name) {
		respondError(w, http.StatusNotFound, "Not found")
		return
	}
	http.ServeFile(w, r, filepath.Join(s.cfg.UploadDir, name))
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	username := usernameFrom(r)
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Debug("websocket upgrade failed", "user", username, "err", err)
		return
	}
	s.hub.HandleConn(username, conn)
}

func mediaKindFromExt(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".png", ".jpg", ".jpeg", ".gif":
		return model.MediaImage
	case ".mp3", ".ogg":
		return model.MediaAudio
	case ".mp4":
		return model.MediaVideo
	default:
		return ""
	}
}

// Package server implements the GoChat server.
package server

import (
	"context"

	"github.com/NicolasHaas/gochat/pkg/datastore"
)

// Config holds server configuration.
type Config struct {
	Addr           string // HTTP bind address (e.g. ":9700")
	DBPath         string // SQLite database path
	UploadDir      string // directory for uploaded media files
	MetricsAddr    string // HTTP bind address for /metrics endpoint (empty = disabled)
	MaxUploadBytes int64  // hard cap on a single media upload
}

// Dependencies holds external dependencies for the server.
// Server assumes ownership of Store and will Close() it on shutdown.
type Dependencies struct {
	Store *datastore.Store
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Addr:           ":9700",
		MetricsAddr:    ":9702",
		DBPath:         "gochat.db",
		UploadDir:      "uploads",
		MaxUploadBytes: 32 << 20,
	}
}

// Server is the main GoChat server.
type Server struct {
	cfg      Config
	sessions *SessionManager
	hub      *Hub
	metrics  *Metrics
	store    *datastore.Store
	ctx      context.Context
	cancel   context.CancelFunc
}

// New creates a new Server instance.
func New(cfg Config, deps Dependencies) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:      cfg,
		sessions: NewSessionManager(),
		metrics:  NewMetrics(),
		store:    deps.Store,
		ctx:      ctx,
		cancel:   cancel,
	}
	s.hub = NewHub(s.metrics)
	return s
}

// Hub returns the presence hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Sessions returns the session manager.
func (s *Server) Sessions() *SessionManager {
	return s.sessions
}

// Metrics returns the server metrics.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

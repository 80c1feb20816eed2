package server

import (
	"sync"
)

// SessionManager maps bearer token hashes to authenticated usernames.
// Tokens are issued at login and kept in memory only; a restart logs
// everyone out.
type SessionManager struct {
	mu       sync.RWMutex
	sessions map[string]string // token hash -> username
}

// NewSessionManager creates a new session manager.
func NewSessionManager() *SessionManager {
	return &SessionManager{
		sessions: make(map[string]string),
	}
}

// Add registers a token hash for a username.
func (sm *SessionManager) Add(tokenHash, username string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.sessions[tokenHash] = username
}

// Lookup returns the username for a token hash, or "" when unknown.
func (sm *SessionManager) Lookup(tokenHash string) string {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.sessions[tokenHash]
}

// Remove invalidates a token hash.
func (sm *SessionManager) Remove(tokenHash string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	delete(sm.sessions, tokenHash)
}

// Count returns the number of active sessions.
func (sm *SessionManager) Count() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.sessions)
}

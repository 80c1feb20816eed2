package server

import (
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"
)

// Metrics tracks server runtime statistics.
// All counters use atomic operations for lock-free concurrent access.
type Metrics struct {
	startTime time.Time

	// Connection counters
	TotalConnections  atomic.Int64 // lifetime websocket connections accepted
	ActiveConnections atomic.Int64 // current active websocket connections
	FailedAuths       atomic.Int64 // failed authentication attempts
	SuccessfulAuths   atomic.Int64 // successful authentication attempts
	TotalDisconnects  atomic.Int64 // total client disconnects (clean + unclean)

	// Chat counters
	MessagesStored  atomic.Int64 // messages persisted via the REST path
	MessagesRelayed atomic.Int64 // message events fanned out over websockets
	HistoryFetches  atomic.Int64 // conversation history requests served

	// Media counters
	MediaUploads     atomic.Int64 // media files accepted and stored
	MediaBytesStored atomic.Int64 // total media bytes written to disk
	MediaRejected    atomic.Int64 // uploads rejected (extension or size)

	// Account counters
	SignupsTotal atomic.Int64 // accounts created
}

// NewMetrics creates a new Metrics instance with the start time set to now.
func NewMetrics() *Metrics {
	return &Metrics{
		startTime: time.Now(),
	}
}

// MetricsSnapshot is a point-in-time view of all metrics as a serializable struct.
type MetricsSnapshot struct {
	Uptime        string `json:"uptime"`
	UptimeSeconds int64  `json:"uptime_seconds"`

	ActiveConnections int64 `json:"active_connections"`
	TotalConnections  int64 `json:"total_connections"`
	SuccessfulAuths   int64 `json:"successful_auths"`
	FailedAuths       int64 `json:"failed_auths"`
	TotalDisconnects  int64 `json:"total_disconnects"`

	MessagesStored  int64 `json:"messages_stored"`
	MessagesRelayed int64 `json:"messages_relayed"`
	HistoryFetches  int64 `json:"history_fetches"`

	MediaUploads     int64 `json:"media_uploads"`
	MediaBytesStored int64 `json:"media_bytes_stored"`
	MediaRejected    int64 `json:"media_rejected"`

	SignupsTotal int64 `json:"signups_total"`
}

// Snapshot returns a read-consistent snapshot of all metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	uptime := time.Since(m.startTime)
	return MetricsSnapshot{
		Uptime:            uptime.Truncate(time.Second).String(),
		UptimeSeconds:     int64(uptime.Seconds()),
		ActiveConnections: m.ActiveConnections.Load(),
		TotalConnections:  m.TotalConnections.Load(),
		SuccessfulAuths:   m.SuccessfulAuths.Load(),
		FailedAuths:       m.FailedAuths.Load(),
		TotalDisconnects:  m.TotalDisconnects.Load(),
		MessagesStored:    m.MessagesStored.Load(),
		MessagesRelayed:   m.MessagesRelayed.Load(),
		HistoryFetches:    m.HistoryFetches.Load(),
		MediaUploads:      m.MediaUploads.Load(),
		MediaBytesStored:  m.MediaBytesStored.Load(),
		MediaRejected:     m.MediaRejected.Load(),
		SignupsTotal:      m.SignupsTotal.Load(),
	}
}

// JSON returns the metrics snapshot as a JSON string.
func (m *Metrics) JSON() string {
	data, err := json.MarshalIndent(m.Snapshot(), "", "  ")
	if err != nil {
		return "{}"
	}
	return string(data)
}

// LogSummary writes a periodic metrics summary to the logger.
func (m *Metrics) LogSummary() {
	s := m.Snapshot()
	slog.Info("metrics",
		"uptime", s.Uptime,
		"connections", s.ActiveConnections,
		"total_connections", s.TotalConnections,
		"msgs_stored", s.MessagesStored,
		"msgs_relayed", s.MessagesRelayed,
		"media_uploads", s.MediaUploads,
	)
}

// StartPeriodicLog starts a goroutine that logs metrics every interval.
// It stops when the done channel is closed.
func (m *Metrics) StartPeriodicLog(interval time.Duration, done <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				m.LogSummary()
			}
		}
	}()
}

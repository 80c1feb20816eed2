// Package datastore provides SQLite-backed persistence for users and messages.
package datastore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/NicolasHaas/gochat/pkg/model"
)

const dbTimeLayout = "2006-01-02 15:04:05"

// Store provides database access for all GoChat entities.
type Store struct {
	db *sql.DB
}

// New opens (or creates) a SQLite database and runs migrations.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("datastore: open db: %w", err)
	}

	ctx := context.Background()

	// Enable WAL mode for better concurrent read performance
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("datastore: set WAL: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("datastore: enable FK: %w", err)
	}
	// Set busy timeout to avoid "database is locked" under concurrency
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("datastore: set busy_timeout: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("datastore: migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS users (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		username   TEXT    NOT NULL UNIQUE CHECK(length(username) > 0 AND length(username) <= 32),
		pass_hash  BLOB    NOT NULL,
		pass_salt  BLOB    NOT NULL,
		created_at TEXT    NOT NULL DEFAULT (datetime('now'))
	);

	CREATE TABLE IF NOT EXISTS messages (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		sender_id    INTEGER NOT NULL REFERENCES users(id),
		recipient_id INTEGER NOT NULL REFERENCES users(id),
		content      TEXT    NOT NULL DEFAULT '',
		media_type   TEXT    NOT NULL DEFAULT '',
		media_path   TEXT    NOT NULL DEFAULT '',
		created_at   TEXT    NOT NULL DEFAULT (datetime('now'))
	);
	`
	ctx := context.Background()
	if err := s.ensureSchemaMigrations(ctx); err != nil {
		return err
	}
	currentVersion, err := s.getSchemaVersion(ctx)
	if err != nil {
		return err
	}

	migrations := []struct {
		version      int
		statements   []string
		ignoreErrors bool
	}{
		{
			version:    1,
			statements: []string{schema},
		},
		{
			version: 2,
			statements: []string{
				"CREATE INDEX IF NOT EXISTS idx_messages_pair ON messages(sender_id, recipient_id, id)",
			},
			ignoreErrors: true,
		},
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		for _, stmt := range m.statements {
			if err := s.execMigration(ctx, stmt, m.ignoreErrors); err != nil {
				return err
			}
		}
		if err := s.setSchemaVersion(ctx, m.version); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) ensureSchemaMigrations(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER NOT NULL)"); err != nil {
		return fmt.Errorf("datastore: create schema_migrations: %w", err)
	}
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations").Scan(&count); err != nil {
		return fmt.Errorf("datastore: check schema_migrations: %w", err)
	}
	if count == 0 {
		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES (0)"); err != nil {
			return fmt.Errorf("datastore: init schema_migrations: %w", err)
		}
	}
	return nil
}

func (s *Store) getSchemaVersion(ctx context.Context) (int, error) {
	var version int
	if err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_migrations LIMIT 1").Scan(&version); err != nil {
		return 0, fmt.Errorf("datastore: read schema version: %w", err)
	}
	return version, nil
}

func (s *Store) setSchemaVersion(ctx context.Context, version int) error {
	if _, err := s.db.ExecContext(ctx, "UPDATE schema_migrations SET version = ?", version); err != nil {
		return fmt.Errorf("datastore: update schema version: %w", err)
	}
	return nil
}

func (s *Store) execMigration(ctx context.Context, stmt string, ignoreErrors bool) error {
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		if ignoreErrors {
			return nil
		}
		return fmt.Errorf("datastore: migrate: %w", err)
	}
	return nil
}

func formatDBTime(t time.Time) string {
	return t.UTC().Format(dbTimeLayout)
}

func parseDBTime(value string) (time.Time, error) {
	return time.ParseInLocation(dbTimeLayout, value, time.UTC)
}

// ---- Users ----

// CreateUser creates a new user with hashed credentials and returns it
// with the assigned ID.
func (s *Store) CreateUser(username string, passHash, passSalt []byte) (*model.User, error) {
	if err := model.ValidateUsername(username); err != nil {
		return nil, fmt.Errorf("datastore: create user: %w", err)
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(context.Background(),
		"INSERT INTO users (username, pass_hash, pass_salt, created_at) VALUES (?, ?, ?, ?)",
		username, passHash, passSalt, formatDBTime(now))
	if err != nil {
		return nil, fmt.Errorf("datastore: create user: %w", err)
	}
	id, _ := res.LastInsertId()
	return &model.User{
		ID:        id,
		Username:  username,
		CreatedAt: now,
	}, nil
}

// GetUserByUsername retrieves a user by username. Returns (nil, nil)
// when no such user exists.
func (s *Store) GetUserByUsername(username string) (*model.User, error) {
	u := &model.User{}
	var createdAt string
	err := s.db.QueryRowContext(context.Background(),
		"SELECT id, username, created_at FROM users WHERE username = ?", username).
		Scan(&u.ID, &u.Username, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("datastore: get user: %w", err)
	}
	parsed, err := parseDBTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("datastore: get user: %w", err)
	}
	u.CreatedAt = parsed
	return u, nil
}

// Credentials retrieves the stored password hash and salt for a username.
// Returns (nil, nil, nil) when no such user exists.
func (s *Store) Credentials(username string) (hash, salt []byte, err error) {
	err = s.db.QueryRowContext(context.Background(),
		"SELECT pass_hash, pass_salt FROM users WHERE username = ?", username).
		Scan(&hash, &salt)
	if err == sql.ErrNoRows {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("datastore: get credentials: %w", err)
	}
	return hash, salt, nil
}

// ListUsernames returns all registered usernames in registration order.
func (s *Store) ListUsernames() ([]string, error) {
	rows, err := s.db.QueryContext(context.Background(), "SELECT username FROM users ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("datastore: list usernames: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("datastore: scan username: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// ---- Messages ----

// SaveMessage persists a message between two existing users and fills
// in the assigned ID and timestamp. Sender and recipient are usernames.
func (s *Store) SaveMessage(m *model.Message) error {
	if err := m.Validate(); err != nil {
		return fmt.Errorf("datastore: save message: %w", err)
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(context.Background(), `
		INSERT INTO messages (sender_id, recipient_id, content, media_type, media_path, created_at)
		SELECT su.id, ru.id, ?, ?, ?, ?
		FROM users su, users ru
		WHERE su.username = ? AND ru.username = ?`,
		m.Content, m.MediaType, m.MediaPath, formatDBTime(now), m.Sender, m.Recipient)
	if err != nil {
		return fmt.Errorf("datastore: save message: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("datastore: save message: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("datastore: save message: unknown sender or recipient")
	}
	m.ID, _ = res.LastInsertId()
	m.Timestamp = now
	return nil
}

// Conversation returns every message exchanged between two usernames,
// in both directions, oldest first.
func (s *Store) Conversation(a, b string) ([]model.Message, error) {
	rows, err := s.db.QueryContext(context.Background(), `
		SELECT m.id, su.username, ru.username, m.content, m.media_type, m.media_path, m.created_at
		FROM messages m
		JOIN users su ON su.id = m.sender_id
		JOIN users ru ON ru.id = m.recipient_id
		WHERE (su.username = ? AND ru.username = ?)
		   OR (su.username = ? AND ru.username = ?)
		ORDER BY m.id ASC`,
		a, b, b, a)
	if err != nil {
		return nil, fmt.Errorf("datastore: conversation: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var msgs []model.Message
	for rows.Next() {
		var m model.Message
		var createdAt string
		if err := rows.Scan(&m.ID, &m.Sender, &m.Recipient, &m.Content, &m.MediaType, &m.MediaPath, &createdAt); err != nil {
			return nil, fmt.Errorf("datastore: scan message: %w", err)
		}
		parsed, err := parseDBTime(createdAt)
		if err != nil {
			return nil, fmt.Errorf("datastore: scan message: %w", err)
		}
		m.Timestamp = parsed
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

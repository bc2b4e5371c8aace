// Package storage persists chat sessions and their message logs in SQLite.
package storage

import (
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/devmentor-ai/devmentor/internal/chat"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Nanosecond precision so updated_at ordering is stable even for sessions
// touched within the same second.
const timeFormat = time.RFC3339Nano

// Store wraps a SQLite database holding sessions and messages.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending
// migrations. Pass ":memory:" as dataDir for an in-memory database (used by
// tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "devmentor.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// A single connection serializes writes, so two concurrent appends to
	// the same session cannot interleave. The message log's ordering
	// guarantee depends on this.
	db.SetMaxOpenConns(1)

	// Set busy timeout so concurrent access waits briefly instead of failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// CreateSession inserts an empty session for the given owner. An empty title
// falls back to the default.
func (s *Store) CreateSession(ownerID, title string) (*chat.Session, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("%w: owner is required", chat.ErrInvalidArgument)
	}
	if title == "" {
		title = chat.DefaultTitle
	}

	now := time.Now().UTC()
	session := &chat.Session{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Title:     title,
		Messages:  []chat.Message{},
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err := s.db.Exec(`
		INSERT INTO sessions (id, owner_id, title, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)`,
		session.ID, session.OwnerID, session.Title,
		now.Format(timeFormat), now.Format(timeFormat),
	)
	if err != nil {
		return nil, fmt.Errorf("inserting session: %w", err)
	}
	return session, nil
}

// GetSession loads a session and its messages in append order. It returns
// chat.ErrNotFound for an unknown id and chat.ErrForbidden when requesterID
// is not the owner; the forbidden case leaks no session content.
func (s *Store) GetSession(sessionID, requesterID string) (*chat.Session, error) {
	session, err := s.loadSession(sessionID, requesterID)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.Query(`
		SELECT id, session_id, seq, role, text, created_at
		FROM messages WHERE session_id = ? ORDER BY seq ASC`, sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		session.Messages = append(session.Messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return session, nil
}

// ListSessions returns all sessions owned by ownerID, most recently active
// first, each with its full message log. There is no pagination cap.
func (s *Store) ListSessions(ownerID string) ([]chat.Session, error) {
	rows, err := s.db.Query(`
		SELECT id, owner_id, title, created_at, updated_at
		FROM sessions WHERE owner_id = ? ORDER BY updated_at DESC`, ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying sessions: %w", err)
	}
	defer rows.Close()

	var sessions []chat.Session
	index := make(map[string]int)
	for rows.Next() {
		var sess chat.Session
		var createdAt, updatedAt string
		if err := rows.Scan(&sess.ID, &sess.OwnerID, &sess.Title, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		if sess.CreatedAt, err = time.Parse(timeFormat, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		if sess.UpdatedAt, err = time.Parse(timeFormat, updatedAt); err != nil {
			return nil, fmt.Errorf("parsing updated_at: %w", err)
		}
		sess.Messages = []chat.Message{}
		index[sess.ID] = len(sessions)
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(sessions) == 0 {
		return sessions, nil
	}

	msgRows, err := s.db.Query(`
		SELECT m.id, m.session_id, m.seq, m.role, m.text, m.created_at
		FROM messages m
		JOIN sessions sess ON sess.id = m.session_id
		WHERE sess.owner_id = ?
		ORDER BY m.session_id, m.seq ASC`, ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer msgRows.Close()

	for msgRows.Next() {
		m, err := scanMessage(msgRows)
		if err != nil {
			return nil, err
		}
		if i, ok := index[m.SessionID]; ok {
			sessions[i].Messages = append(sessions[i].Messages, m)
		}
	}
	return sessions, msgRows.Err()
}

// AppendMessage atomically appends one message to the session's log and
// bumps updated_at. The ownership check, sequence assignment, and insert run
// in a single transaction, so concurrent appends to the same session are
// serialized and never produce duplicate or interleaved positions.
func (s *Store) AppendMessage(sessionID, requesterID string, role chat.Role, text string) (*chat.Session, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("%w: unknown role %q", chat.ErrInvalidArgument, role)
	}
	if text == "" {
		return nil, fmt.Errorf("%w: text is required", chat.ErrInvalidArgument)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("beginning append transaction: %w", err)
	}
	defer tx.Rollback()

	var ownerID string
	err = tx.QueryRow("SELECT owner_id FROM sessions WHERE id = ?", sessionID).Scan(&ownerID)
	if err == sql.ErrNoRows {
		return nil, chat.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading session owner: %w", err)
	}
	if ownerID != requesterID {
		return nil, chat.ErrForbidden
	}

	var seq int
	if err := tx.QueryRow(
		"SELECT COALESCE(MAX(seq), -1) + 1 FROM messages WHERE session_id = ?", sessionID,
	).Scan(&seq); err != nil {
		return nil, fmt.Errorf("assigning sequence: %w", err)
	}

	now := time.Now().UTC()
	if _, err := tx.Exec(`
		INSERT INTO messages (id, session_id, seq, role, text, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), sessionID, seq, string(role), text, now.Format(timeFormat),
	); err != nil {
		return nil, fmt.Errorf("inserting message: %w", err)
	}

	if _, err := tx.Exec(
		"UPDATE sessions SET updated_at = ? WHERE id = ?", now.Format(timeFormat), sessionID,
	); err != nil {
		return nil, fmt.Errorf("updating session timestamp: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing append: %w", err)
	}

	return s.GetSession(sessionID, requesterID)
}

func (s *Store) loadSession(sessionID, requesterID string) (*chat.Session, error) {
	var sess chat.Session
	var createdAt, updatedAt string
	err := s.db.QueryRow(`
		SELECT id, owner_id, title, created_at, updated_at
		FROM sessions WHERE id = ?`, sessionID,
	).Scan(&sess.ID, &sess.OwnerID, &sess.Title, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, chat.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying session: %w", err)
	}
	if sess.OwnerID != requesterID {
		return nil, chat.ErrForbidden
	}

	if sess.CreatedAt, err = time.Parse(timeFormat, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if sess.UpdatedAt, err = time.Parse(timeFormat, updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	sess.Messages = []chat.Message{}
	return &sess, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(rows rowScanner) (chat.Message, error) {
	var m chat.Message
	var role, createdAt string
	if err := rows.Scan(&m.ID, &m.SessionID, &m.Seq, &role, &m.Text, &createdAt); err != nil {
		return chat.Message{}, err
	}
	m.Role = chat.Role(role)
	t, err := time.Parse(timeFormat, createdAt)
	if err != nil {
		return chat.Message{}, fmt.Errorf("parsing message created_at: %w", err)
	}
	m.CreatedAt = t
	return m, nil
}

// Package history is the local SQLite cache of threads and finalized
// messages. It lets the client list and reopen recent conversations without
// a round trip, and it is strictly best effort: the backend stays the source
// of truth.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	p := filepath.Clean(strings.TrimSpace(path))
	if p == "" {
		return nil, errors.New("missing db path")
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	return &Store{db: db}, nil
}

// DefaultPath returns the default history database path:
//
//	~/.overture/history.db
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil || strings.TrimSpace(home) == "" {
		return "overture-history.db"
	}
	return filepath.Join(home, ".overture", "history.db")
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

type Thread struct {
	ThreadID         string `json:"thread_id"`
	Type             string `json:"type"`
	Title            string `json:"title"`
	Preview          string `json:"preview"`
	WorkingDirectory string `json:"working_directory"`
	CreatedAtUnixMs  int64  `json:"created_at_unix_ms"`
	UpdatedAtUnixMs  int64  `json:"updated_at_unix_ms"`
}

type Message struct {
	RowID            int64  `json:"row_id"`
	ThreadID         string `json:"thread_id"`
	MessageID        int64  `json:"message_id"`
	Role             string `json:"role"`
	Content          string `json:"content"`
	ReasoningContent string `json:"reasoning_content"`
	CreatedAtUnixMs  int64  `json:"created_at_unix_ms"`
}

func nowUnixMs() int64 {
	return time.Now().UnixMilli()
}

// UpsertThread inserts or refreshes a thread row, bumping updated_at.
func (s *Store) UpsertThread(ctx context.Context, t Thread) error {
	if s == nil || s.db == nil {
		return errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	t.ThreadID = strings.TrimSpace(t.ThreadID)
	if t.ThreadID == "" {
		return errors.New("missing thread_id")
	}
	now := nowUnixMs()
	if t.CreatedAtUnixMs <= 0 {
		t.CreatedAtUnixMs = now
	}
	if t.UpdatedAtUnixMs <= 0 {
		t.UpdatedAtUnixMs = now
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO threads (thread_id, type, title, preview, working_directory, created_at_unix_ms, updated_at_unix_ms)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(thread_id) DO UPDATE SET
  type = excluded.type,
  title = excluded.title,
  preview = excluded.preview,
  working_directory = excluded.working_directory,
  updated_at_unix_ms = excluded.updated_at_unix_ms
`, t.ThreadID, t.Type, t.Title, t.Preview, t.WorkingDirectory, t.CreatedAtUnixMs, t.UpdatedAtUnixMs)
	return err
}

// ListThreads returns threads newest first.
func (s *Store) ListThreads(ctx context.Context, limit int) ([]Thread, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT thread_id, type, title, preview, working_directory, created_at_unix_ms, updated_at_unix_ms
FROM threads
ORDER BY updated_at_unix_ms DESC, thread_id DESC
LIMIT ?
`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Thread, 0, limit)
	for rows.Next() {
		var t Thread
		if err := rows.Scan(&t.ThreadID, &t.Type, &t.Title, &t.Preview, &t.WorkingDirectory, &t.CreatedAtUnixMs, &t.UpdatedAtUnixMs); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) GetThread(ctx context.Context, threadID string) (*Thread, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	threadID = strings.TrimSpace(threadID)
	if threadID == "" {
		return nil, errors.New("missing thread_id")
	}

	var t Thread
	err := s.db.QueryRowContext(ctx, `
SELECT thread_id, type, title, preview, working_directory, created_at_unix_ms, updated_at_unix_ms
FROM threads
WHERE thread_id = ?
`, threadID).Scan(&t.ThreadID, &t.Type, &t.Title, &t.Preview, &t.WorkingDirectory, &t.CreatedAtUnixMs, &t.UpdatedAtUnixMs)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &t, nil
}

// RenameThread rewrites a thread id in place, moving its messages along.
// Used when the backend replaces a client-generated id with its own.
func (s *Store) RenameThread(ctx context.Context, oldID string, newID string) error {
	if s == nil || s.db == nil {
		return errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	oldID = strings.TrimSpace(oldID)
	newID = strings.TrimSpace(newID)
	if oldID == "" || newID == "" || oldID == newID {
		return errors.New("invalid rename")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	// If the real id already exists, just fold the pending rows into it.
	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM threads WHERE thread_id = ?`, newID).Scan(&exists); err != nil {
		return err
	}
	if exists > 0 {
		if _, err := tx.ExecContext(ctx, `DELETE FROM threads WHERE thread_id = ?`, oldID); err != nil {
			return err
		}
	} else {
		if _, err := tx.ExecContext(ctx, `UPDATE threads SET thread_id = ? WHERE thread_id = ?`, newID, oldID); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, `UPDATE messages SET thread_id = ? WHERE thread_id = ?`, newID, oldID); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) DeleteThread(ctx context.Context, threadID string) error {
	if s == nil || s.db == nil {
		return errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	threadID = strings.TrimSpace(threadID)
	if threadID == "" {
		return errors.New("missing thread_id")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE thread_id = ?`, threadID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM threads WHERE thread_id = ?`, threadID); err != nil {
		return err
	}
	return tx.Commit()
}

// SaveMessage appends one finalized message. Streaming partials never land
// here.
func (s *Store) SaveMessage(ctx context.Context, m Message) error {
	if s == nil || s.db == nil {
		return errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	m.ThreadID = strings.TrimSpace(m.ThreadID)
	if m.ThreadID == "" {
		return errors.New("missing thread_id")
	}
	if m.CreatedAtUnixMs <= 0 {
		m.CreatedAtUnixMs = nowUnixMs()
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO messages (thread_id, message_id, role, content, reasoning_content, created_at_unix_ms)
VALUES (?, ?, ?, ?, ?, ?)
`, m.ThreadID, m.MessageID, m.Role, m.Content, m.ReasoningContent, m.CreatedAtUnixMs)
	return err
}

// ReplaceMessages swaps a thread's stored transcript for the given one. Used
// after a stream finishes so re-saving a thread never duplicates rows.
func (s *Store) ReplaceMessages(ctx context.Context, threadID string, msgs []Message) error {
	if s == nil || s.db == nil {
		return errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	threadID = strings.TrimSpace(threadID)
	if threadID == "" {
		return errors.New("missing thread_id")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE thread_id = ?`, threadID); err != nil {
		return err
	}
	for _, m := range msgs {
		if m.CreatedAtUnixMs <= 0 {
			m.CreatedAtUnixMs = nowUnixMs()
		}
		_, err := tx.ExecContext(ctx, `
INSERT INTO messages (thread_id, message_id, role, content, reasoning_content, created_at_unix_ms)
VALUES (?, ?, ?, ?, ?, ?)
`, threadID, m.MessageID, m.Role, m.Content, m.ReasoningContent, m.CreatedAtUnixMs)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ListMessages returns a thread's messages oldest first.
func (s *Store) ListMessages(ctx context.Context, threadID string) ([]Message, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	threadID = strings.TrimSpace(threadID)
	if threadID == "" {
		return nil, errors.New("missing thread_id")
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT id, thread_id, message_id, role, content, reasoning_content, created_at_unix_ms
FROM messages
WHERE thread_id = ?
ORDER BY id ASC
`, threadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.RowID, &m.ThreadID, &m.MessageID, &m.Role, &m.Content, &m.ReasoningContent, &m.CreatedAtUnixMs); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func initSchema(db *sql.DB) error {
	if db == nil {
		return errors.New("nil db")
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL;`); err != nil {
		return fmt.Errorf("pragma journal_mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout=3000;`); err != nil {
		return fmt.Errorf("pragma busy_timeout: %w", err)
	}
	return migrateSchema(db)
}

func migrateSchema(db *sql.DB) error {
	const targetVersion = 1

	var v int
	if err := db.QueryRow(`PRAGMA user_version;`).Scan(&v); err != nil {
		return fmt.Errorf("pragma user_version: %w", err)
	}
	if v >= targetVersion {
		return nil
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS threads (
  thread_id TEXT PRIMARY KEY,
  type TEXT NOT NULL DEFAULT 'conversation',
  title TEXT NOT NULL DEFAULT '',
  preview TEXT NOT NULL DEFAULT '',
  working_directory TEXT NOT NULL DEFAULT '',
  created_at_unix_ms INTEGER NOT NULL,
  updated_at_unix_ms INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  thread_id TEXT NOT NULL,
  message_id INTEGER NOT NULL DEFAULT 0,
  role TEXT NOT NULL,
  content TEXT NOT NULL DEFAULT '',
  reasoning_content TEXT NOT NULL DEFAULT '',
  created_at_unix_ms INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_thread ON messages(thread_id, id);
CREATE INDEX IF NOT EXISTS idx_threads_updated ON threads(updated_at_unix_ms DESC);
`); err != nil {
		return err
	}
	if _, err := tx.Exec(fmt.Sprintf(`PRAGMA user_version = %d;`, targetVersion)); err != nil {
		return err
	}
	return tx.Commit()
}

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/Jitishkumar/pl/internal/logger"
	"github.com/Jitishkumar/pl/internal/models"
)

// DefaultDBFileName is the SQLite filename under the app data dir.
const DefaultDBFileName = "conversations.db"

var migrations = []string{
	`
CREATE TABLE IF NOT EXISTS conversation_snapshots (
  conversation_id TEXT PRIMARY KEY,
  payload         TEXT NOT NULL,
  saved_at        INTEGER NOT NULL
);
`,
	`
CREATE INDEX IF NOT EXISTS idx_conversation_snapshots_saved_at
ON conversation_snapshots (saved_at DESC);
`,
}

// SQLiteStore is a thin wrapper around a SQLite connection holding one
// snapshot row per conversation.
type SQLiteStore struct {
	db  *sql.DB
	log *logger.Logger
}

// OpenDir opens (or creates) the snapshot database under the given data
// directory and runs migrations.
func OpenDir(dataDir string) (*SQLiteStore, error) {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("create storage directory: %w", err)
	}
	return NewSQLiteStore(filepath.Join(dataDir, DefaultDBFileName))
}

// NewSQLiteStore opens SQLite at an explicit path and runs schema migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000", filepath.ToSlash(dbPath))
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite database: %w", err)
	}

	s := &SQLiteStore{db: db, log: logger.New("store")}

	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	for i, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply migration %d: %w", i, err)
		}
	}

	return s, nil
}

// Save replaces the snapshot for a conversation with the given sequence.
func (s *SQLiteStore) Save(ctx context.Context, conversationID string, messages []models.Message) error {
	if messages == nil {
		messages = []models.Message{}
	}

	payload, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO conversation_snapshots (conversation_id, payload, saved_at)
		VALUES (?, ?, ?)
		ON CONFLICT(conversation_id) DO UPDATE SET
		  payload = excluded.payload,
		  saved_at = excluded.saved_at`,
		conversationID, string(payload), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}

	s.log.Debug("Saved snapshot for conversation %s (%d messages)", conversationID, len(messages))
	return nil
}

// Load returns the last saved snapshot, or an empty slice if none exists.
func (s *SQLiteStore) Load(ctx context.Context, conversationID string) ([]models.Message, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		"SELECT payload FROM conversation_snapshots WHERE conversation_id = ?",
		conversationID).Scan(&payload)

	if err == sql.ErrNoRows {
		return []models.Message{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	var messages []models.Message
	if err := json.Unmarshal([]byte(payload), &messages); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if messages == nil {
		messages = []models.Message{}
	}

	return messages, nil
}

// Close closes the SQLite connection.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

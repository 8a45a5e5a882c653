package sessions

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/sharphq/sharpbot/pkg/models"
)

// SQLiteStore persists sessions in a local SQLite database. Messages are
// stored as an append-only ordered log of JSON payloads per session key.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and migrates) the session database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open session db: %w", err)
	}
	// The agent loop is the only writer; a single connection avoids
	// SQLITE_BUSY churn under the reaper and dispatcher readers.
	db.SetMaxOpenConns(1)

	schema := `
CREATE TABLE IF NOT EXISTS sessions (
	key        TEXT PRIMARY KEY,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS messages (
	session_key TEXT NOT NULL,
	idx         INTEGER NOT NULL,
	payload     TEXT NOT NULL,
	PRIMARY KEY (session_key, idx)
);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate session db: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) GetOrCreate(ctx context.Context, key string) (*models.Session, error) {
	now := time.Now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (key, created_at, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO NOTHING`,
		key, now.Unix(), now.Unix())
	if err != nil {
		return nil, fmt.Errorf("ensure session: %w", err)
	}

	var created, updated int64
	err = s.db.QueryRowContext(ctx,
		`SELECT created_at, updated_at FROM sessions WHERE key = ?`, key).
		Scan(&created, &updated)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}

	msgs, err := s.loadMessages(ctx, key)
	if err != nil {
		return nil, err
	}
	return &models.Session{
		Key:       key,
		Messages:  msgs,
		CreatedAt: time.Unix(created, 0),
		UpdatedAt: time.Unix(updated, 0),
	}, nil
}

func (s *SQLiteStore) Save(ctx context.Context, session *models.Session) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO sessions (key, created_at, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET updated_at = excluded.updated_at`,
		session.Key, now.Unix(), now.Unix()); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM messages WHERE session_key = ?`, session.Key); err != nil {
		return fmt.Errorf("clear messages: %w", err)
	}
	for i, msg := range session.Messages {
		payload, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("encode message %d: %w", i, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO messages (session_key, idx, payload) VALUES (?, ?, ?)`,
			session.Key, i, string(payload)); err != nil {
			return fmt.Errorf("insert message %d: %w", i, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) History(ctx context.Context, key string, n int) ([]models.ChatMessage, error) {
	msgs, err := s.loadMessages(ctx, key)
	if err != nil {
		return nil, err
	}
	return TailWithoutSystem(msgs, n), nil
}

func (s *SQLiteStore) loadMessages(ctx context.Context, key string) ([]models.ChatMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM messages WHERE session_key = ? ORDER BY idx`, key)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	defer rows.Close()

	var msgs []models.ChatMessage
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		var msg models.ChatMessage
		if err := json.Unmarshal([]byte(payload), &msg); err != nil {
			return nil, fmt.Errorf("decode message: %w", err)
		}
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

// Package localstore keeps the client's conversation logs in a SQLite file. The
// file is shared by the foreground app and its background delivery processes.
package localstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"buddypark.app/relay/internal/chat"
	"buddypark.app/relay/internal/model"
)

var ErrMessageNotFound = errors.New("message not found")

const schema = `
CREATE TABLE IF NOT EXISTS messages (
	id              TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL,
	position        INTEGER NOT NULL,
	role            TEXT NOT NULL,
	content         TEXT NOT NULL,
	reply_id        TEXT NOT NULL DEFAULT '',
	created_at      INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS messages_conversation_position
	ON messages (conversation_id, position);
`

type Store struct {
	db *sql.DB
}

var _ chat.Store = (*Store)(nil)

// Open opens or creates the database at path. ":memory:" is accepted for tests.
func Open(ctx context.Context, path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// One connection: pragmas stick and writers never contend inside a process.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA busy_timeout=5000;",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("applying %q: %w", pragma, err)
		}
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Load(ctx context.Context, conversationID string) ([]model.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, role, content, reply_id, created_at
		FROM messages
		WHERE conversation_id = ?
		ORDER BY position`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var msgs []model.Message
	for rows.Next() {
		var (
			m         model.Message
			role      string
			createdAt int64
		)
		if err := rows.Scan(&m.ID, &role, &m.Content, &m.ReplyID, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		m.Role = model.Role(role)
		m.Timestamp = time.Unix(0, createdAt).UTC()
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating messages: %w", err)
	}
	return msgs, nil
}

func (s *Store) Append(ctx context.Context, conversationID string, m model.Message) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, position, role, content, reply_id, created_at)
		VALUES (?, ?,
			(SELECT COALESCE(MAX(position), 0) + 1 FROM messages WHERE conversation_id = ?),
			?, ?, ?, ?)`,
		m.ID, conversationID, conversationID, string(m.Role), m.Content, m.ReplyID, m.Timestamp.UnixNano())
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}
	return nil
}

// Replace swaps oldID for m at the same position.
func (s *Store) Replace(ctx context.Context, conversationID, oldID string, m model.Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var position int64
	err = tx.QueryRowContext(ctx,
		`SELECT position FROM messages WHERE conversation_id = ? AND id = ?`,
		conversationID, oldID).Scan(&position)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrMessageNotFound, oldID)
	}
	if err != nil {
		return fmt.Errorf("locating message: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, oldID); err != nil {
		return fmt.Errorf("deleting message: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, position, role, content, reply_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.ID, conversationID, position, string(m.Role), m.Content, m.ReplyID, m.Timestamp.UnixNano()); err != nil {
		return fmt.Errorf("inserting replacement: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// Conversations lists conversation ids that have at least one message.
func (s *Store) Conversations(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT conversation_id FROM messages ORDER BY conversation_id`)
	if err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning conversation: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"buddypark.app/relay/internal/model"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
)

// Querier is the subset of pgxpool.Pool and pgx.Tx the snapshot store needs.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const snapshotSchema = `
CREATE TABLE IF NOT EXISTS conversation_snapshots (
	conversation_id       TEXT PRIMARY KEY,
	last_request_messages JSONB NOT NULL DEFAULT '[]',
	last_user_message     TEXT,
	prompt                TEXT NOT NULL DEFAULT '',
	routing_token         TEXT NOT NULL DEFAULT '',
	last_reply_content    TEXT NOT NULL DEFAULT '',
	saved_at              TIMESTAMPTZ NOT NULL DEFAULT now()
)`

type postgresSnapshotStore struct {
	db Querier
}

// NewPostgresSnapshotStore keeps one row per conversation. last_user_message is
// denormalised from the request so the conditional result write is a single
// UPDATE ... WHERE.
func NewPostgresSnapshotStore(db Querier) SnapshotStore {
	return &postgresSnapshotStore{db: db}
}

// snapshotSchemaLockID serialises schema creation across relay replicas
// starting at the same time.
const snapshotSchemaLockID = 7305214

// EnsureSnapshotSchema creates the snapshot table if it does not exist. Run it
// inside a transaction: the advisory lock is held until commit.
func EnsureSnapshotSchema(ctx context.Context, tx Querier) error {
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, snapshotSchemaLockID); err != nil {
		return fmt.Errorf("locking snapshot schema: %w", err)
	}
	if _, err := tx.Exec(ctx, snapshotSchema); err != nil {
		return fmt.Errorf("creating conversation_snapshots: %w", err)
	}
	return nil
}

func (s *postgresSnapshotStore) SaveTurnStart(ctx context.Context, conversationID string, requestMessages []model.RequestMessage, prompt, routingToken string) error {
	if requestMessages == nil {
		requestMessages = []model.RequestMessage{}
	}
	messages, err := json.Marshal(requestMessages)
	if err != nil {
		return fmt.Errorf("marshal request messages: %w", err)
	}

	lastUser := pgtype.Text{}
	if last, ok := model.LastUserContent(requestMessages); ok {
		lastUser = pgtype.Text{String: last, Valid: true}
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO conversation_snapshots
			(conversation_id, last_request_messages, last_user_message, prompt, routing_token, last_reply_content, saved_at)
		VALUES ($1, $2, $3, $4, $5, '', now())
		ON CONFLICT (conversation_id) DO UPDATE SET
			last_request_messages = EXCLUDED.last_request_messages,
			last_user_message     = EXCLUDED.last_user_message,
			prompt                = EXCLUDED.prompt,
			routing_token         = EXCLUDED.routing_token,
			saved_at              = now()`,
		conversationID, messages, lastUser, prompt, routingToken)
	if err != nil {
		return fmt.Errorf("save turn start: %w", err)
	}
	return nil
}

func (s *postgresSnapshotStore) SaveTurnResult(ctx context.Context, conversationID, finalReplyContent string) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO conversation_snapshots (conversation_id, last_reply_content, saved_at)
		VALUES ($1, $2, now())
		ON CONFLICT (conversation_id) DO UPDATE SET
			last_reply_content = EXCLUDED.last_reply_content,
			saved_at           = now()`,
		conversationID, finalReplyContent)
	if err != nil {
		return fmt.Errorf("save turn result: %w", err)
	}
	return nil
}

func (s *postgresSnapshotStore) SaveTurnResultIf(ctx context.Context, conversationID, expectedLastUser, finalReplyContent string) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE conversation_snapshots
		SET last_reply_content = $3, saved_at = now()
		WHERE conversation_id = $1 AND last_user_message = $2`,
		conversationID, expectedLastUser, finalReplyContent)
	if err != nil {
		return false, fmt.Errorf("save turn result: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *postgresSnapshotStore) ReadLastUserMessage(ctx context.Context, conversationID string) (string, bool, error) {
	var last pgtype.Text
	err := s.db.QueryRow(ctx,
		`SELECT last_user_message FROM conversation_snapshots WHERE conversation_id = $1`,
		conversationID).Scan(&last)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("read last user message: %w", err)
	}
	return last.String, last.Valid, nil
}

func (s *postgresSnapshotStore) ReadLastReply(ctx context.Context, conversationID string) (string, bool, error) {
	var reply string
	err := s.db.QueryRow(ctx,
		`SELECT last_reply_content FROM conversation_snapshots WHERE conversation_id = $1`,
		conversationID).Scan(&reply)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("read last reply: %w", err)
	}
	return reply, reply != "", nil
}

func (s *postgresSnapshotStore) Get(ctx context.Context, conversationID string) (*model.ConversationSnapshot, error) {
	var (
		snap     model.ConversationSnapshot
		messages []byte
		savedAt  pgtype.Timestamptz
	)
	err := s.db.QueryRow(ctx, `
		SELECT conversation_id, last_request_messages, prompt, routing_token, last_reply_content, saved_at
		FROM conversation_snapshots WHERE conversation_id = $1`,
		conversationID).Scan(&snap.ConversationID, &messages, &snap.Prompt, &snap.RoutingToken, &snap.LastReplyContent, &savedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get snapshot: %w", err)
	}

	if err := json.Unmarshal(messages, &snap.LastRequestMessages); err != nil {
		return nil, fmt.Errorf("unmarshal request messages: %w", err)
	}
	if savedAt.Valid {
		snap.SavedAt = savedAt.Time
	}
	return &snap, nil
}

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"buddypark.app/relay/internal/model"
	"github.com/redis/go-redis/v9"
)

const maxWatchRetries = 5

type RedisSnapshotConfig struct {
	KeyPrefix string
	TTL       time.Duration // 0 = no expiry
}

type redisSnapshotStore struct {
	client *redis.Client
	cfg    RedisSnapshotConfig
	now    func() time.Time
}

// NewRedisSnapshotStore stores one JSON document per conversation under
// "<prefix>:<conversation id>". Read-modify-write paths use WATCH so a turn
// completing concurrently with a newer turn start cannot interleave.
func NewRedisSnapshotStore(client *redis.Client, cfg RedisSnapshotConfig) SnapshotStore {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "conversation-snapshot"
	}
	return &redisSnapshotStore{client: client, cfg: cfg, now: time.Now}
}

func (s *redisSnapshotStore) key(conversationID string) string {
	return fmt.Sprintf("%s:%s", s.cfg.KeyPrefix, conversationID)
}

func (s *redisSnapshotStore) SaveTurnStart(ctx context.Context, conversationID string, requestMessages []model.RequestMessage, prompt, routingToken string) error {
	// The previous reply is kept until a newer turn completes.
	_, err := s.update(ctx, conversationID, func(snap *model.ConversationSnapshot) bool {
		snap.ConversationID = conversationID
		snap.LastRequestMessages = requestMessages
		snap.Prompt = prompt
		snap.RoutingToken = routingToken
		return true
	}, true)
	if err != nil {
		return fmt.Errorf("save turn start: %w", err)
	}
	return nil
}

func (s *redisSnapshotStore) SaveTurnResult(ctx context.Context, conversationID, finalReplyContent string) error {
	_, err := s.update(ctx, conversationID, func(snap *model.ConversationSnapshot) bool {
		snap.ConversationID = conversationID
		snap.LastReplyContent = finalReplyContent
		return true
	}, true)
	if err != nil {
		return fmt.Errorf("save turn result: %w", err)
	}
	return nil
}

func (s *redisSnapshotStore) SaveTurnResultIf(ctx context.Context, conversationID, expectedLastUser, finalReplyContent string) (bool, error) {
	written, err := s.update(ctx, conversationID, func(snap *model.ConversationSnapshot) bool {
		if last, ok := snap.LastUserMessage(); !ok || last != expectedLastUser {
			return false
		}
		snap.LastReplyContent = finalReplyContent
		return true
	}, false)
	if err != nil {
		return false, fmt.Errorf("save turn result: %w", err)
	}
	return written, nil
}

// update applies mutate to the stored snapshot inside a WATCH transaction.
// mutate returns false to leave the snapshot untouched.
func (s *redisSnapshotStore) update(ctx context.Context, conversationID string, mutate func(*model.ConversationSnapshot) bool, createMissing bool) (bool, error) {
	key := s.key(conversationID)
	written := false

	txf := func(tx *redis.Tx) error {
		written = false

		var snap model.ConversationSnapshot
		data, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
			if !createMissing {
				return nil
			}
		case err != nil:
			return err
		default:
			if err := json.Unmarshal(data, &snap); err != nil {
				if !createMissing {
					return fmt.Errorf("unmarshal snapshot: %w", err)
				}
				slog.WarnContext(ctx, "overwriting corrupt snapshot", "key", key, "error", err)
				snap = model.ConversationSnapshot{}
			}
		}

		if !mutate(&snap) {
			return nil
		}
		snap.SavedAt = s.now().UTC()

		out, err := json.Marshal(snap)
		if err != nil {
			return fmt.Errorf("marshal snapshot: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, out, s.cfg.TTL)
			return nil
		})
		if err == nil {
			written = true
		}
		return err
	}

	for attempt := 1; attempt <= maxWatchRetries; attempt++ {
		err := s.client.Watch(ctx, txf, key)
		if err == nil {
			return written, nil
		}
		if !errors.Is(err, redis.TxFailedErr) {
			return false, err
		}
		slog.DebugContext(ctx, "snapshot changed during update, retrying", "attempt", attempt)
	}

	return false, fmt.Errorf("snapshot %s kept changing after %d attempts", conversationID, maxWatchRetries)
}

func (s *redisSnapshotStore) ReadLastUserMessage(ctx context.Context, conversationID string) (string, bool, error) {
	snap, err := s.Get(ctx, conversationID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", false, nil
		}
		return "", false, err
	}
	last, ok := snap.LastUserMessage()
	return last, ok, nil
}

func (s *redisSnapshotStore) ReadLastReply(ctx context.Context, conversationID string) (string, bool, error) {
	snap, err := s.Get(ctx, conversationID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", false, nil
		}
		return "", false, err
	}
	if snap.LastReplyContent == "" {
		return "", false, nil
	}
	return snap.LastReplyContent, true, nil
}

func (s *redisSnapshotStore) Get(ctx context.Context, conversationID string) (*model.ConversationSnapshot, error) {
	data, err := s.client.Get(ctx, s.key(conversationID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get snapshot: %w", err)
	}

	var snap model.ConversationSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

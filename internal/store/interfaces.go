package store

import (
	"context"
	"errors"

	"buddypark.app/relay/internal/model"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// SnapshotStore keeps the last-turn state of each conversation. Writes are
// last-write-wins per conversation id; no history is kept.
type SnapshotStore interface {
	// SaveTurnStart records an accepted turn before the completion is requested.
	// It replaces the previous request; the reply of the last completed turn is kept.
	SaveTurnStart(ctx context.Context, conversationID string, requestMessages []model.RequestMessage, prompt, routingToken string) error

	// SaveTurnResult records the final reply of a completed turn.
	SaveTurnResult(ctx context.Context, conversationID, finalReplyContent string) error

	// SaveTurnResultIf records the final reply only while the snapshot's last user
	// message still equals expectedLastUser. It reports whether the write happened.
	SaveTurnResultIf(ctx context.Context, conversationID, expectedLastUser, finalReplyContent string) (bool, error)

	ReadLastUserMessage(ctx context.Context, conversationID string) (string, bool, error)
	ReadLastReply(ctx context.Context, conversationID string) (string, bool, error)

	Get(ctx context.Context, conversationID string) (*model.ConversationSnapshot, error)
}

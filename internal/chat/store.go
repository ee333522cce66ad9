package chat

import (
	"context"

	"buddypark.app/relay/internal/model"
)

// Store is the durable message log shared by every process of the client app.
// Replace swaps one stored message for another atomically.
type Store interface {
	Load(ctx context.Context, conversationID string) ([]model.Message, error)
	Append(ctx context.Context, conversationID string, m model.Message) error
	Replace(ctx context.Context, conversationID, oldID string, m model.Message) error
}

// TurnSender hands the conversation to the relay after the user wrote.
type TurnSender interface {
	SendConversation(ctx context.Context, conversationID string, messages []model.Message) error
}

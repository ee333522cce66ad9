package worker

import (
	"context"

	"buddypark.app/relay/internal/queue"
)

// Consumer abstracts the push outbox for testability.
type Consumer interface {
	Read(ctx context.Context) ([]queue.Message, error)
	Ack(ctx context.Context, msg queue.Message) error
}

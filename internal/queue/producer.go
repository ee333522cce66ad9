package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

type Producer interface {
	Enqueue(ctx context.Context, task PushTask) error
	Close() error
}

type redisProducer struct {
	client *redis.Client
	stream string
	logger *slog.Logger
}

func NewRedisProducer(client *redis.Client, stream string, logger *slog.Logger) Producer {
	if logger == nil {
		logger = slog.Default()
	}
	if stream == "" {
		stream = DefaultPushStream
	}
	return &redisProducer{
		client: client,
		stream: stream,
		logger: logger,
	}
}

func (p *redisProducer) Enqueue(ctx context.Context, task PushTask) error {
	payload, err := json.Marshal(task.Notification)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	fields := map[string]any{
		"routing_token":   task.RoutingToken,
		"conversation_id": task.Notification.ConversationID,
		"reply_id":        task.Notification.ReplyID,
		"payload":         string(payload),
	}

	if task.TraceID != nil && *task.TraceID != "" {
		fields["trace_id"] = *task.TraceID
	}

	if err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: fields,
	}).Err(); err != nil {
		return fmt.Errorf("enqueue push: %w", err)
	}

	p.logger.DebugContext(ctx, "enqueued push notification", "stream", p.stream, "reply_id", task.Notification.ReplyID)
	return nil
}

func (p *redisProducer) Close() error {
	return p.client.Close()
}

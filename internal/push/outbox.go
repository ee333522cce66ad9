package push

import (
	"context"

	"go.opentelemetry.io/otel/trace"

	"buddypark.app/relay/internal/model"
	"buddypark.app/relay/internal/queue"
)

// OutboxSender appends notifications to the Redis push outbox. The push worker
// drains it and talks to the gateway, so a slow gateway never holds a turn.
type OutboxSender struct {
	producer queue.Producer
}

func NewOutboxSender(producer queue.Producer) *OutboxSender {
	return &OutboxSender{producer: producer}
}

func (s *OutboxSender) Send(ctx context.Context, routingToken string, n model.Notification) error {
	task := queue.PushTask{
		RoutingToken: routingToken,
		Notification: n,
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		traceID := sc.TraceID().String()
		task.TraceID = &traceID
	}
	return s.producer.Enqueue(ctx, task)
}

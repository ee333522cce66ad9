package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"buddypark.app/relay/common/logger"
	"buddypark.app/relay/internal/push"
	"buddypark.app/relay/internal/queue"
)

// Worker drains the push outbox into the gateway. Every entry is delivered at
// most once by this loop: a failed send is logged and acknowledged.
type Worker struct {
	consumer Consumer
	sender   push.Sender

	stopCh    chan struct{}
	stoppedCh chan struct{}
}

func New(consumer Consumer, sender push.Sender) *Worker {
	return &Worker{
		consumer:  consumer,
		sender:    sender,
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

func (w *Worker) Run(ctx context.Context) error {
	defer close(w.stoppedCh)

	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "relay.worker"})
	slog.InfoContext(ctx, "worker started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stopCh:
			slog.InfoContext(ctx, "worker stopping")
			return nil
		default:
			if err := w.processOneBatch(ctx); err != nil {
				slog.ErrorContext(ctx, "batch processing error", "error", err)
				// Brief backoff on error
				select {
				case <-ctx.Done():
				case <-w.stopCh:
				case <-time.After(time.Second):
				}
			}
		}
	}
}

func (w *Worker) Stop() {
	close(w.stopCh)
	<-w.stoppedCh
}

func (w *Worker) processOneBatch(ctx context.Context) error {
	messages, err := w.consumer.Read(ctx)
	if err != nil {
		return fmt.Errorf("reading from stream: %w", err)
	}

	for _, msg := range messages {
		if err := w.processMessageSafe(ctx, msg); err != nil {
			slog.ErrorContext(ctx, "message processing failed",
				"error", err,
				"message_id", msg.ID)
		}
	}

	return nil
}

func (w *Worker) processMessageSafe(ctx context.Context, msg queue.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "panic recovered in message processing",
				"panic", r,
				"message_id", msg.ID)
			err = fmt.Errorf("panic: %v", r)
			_ = w.consumer.Ack(ctx, msg)
		}
	}()
	return w.ProcessMessage(ctx, msg)
}

// ProcessMessage delivers one outbox entry and acknowledges it whatever the
// outcome. Exported so it can be reused by the reclaimer.
func (w *Worker) ProcessMessage(ctx context.Context, msg queue.Message) error {
	msgID := msg.ID
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		ConversationID: logger.Ptr(msg.Notification.ConversationID),
		ReplyID:        logger.Ptr(msg.Notification.ReplyID),
		MessageID:      &msgID,
	})

	sc := logger.StartSpanFromTraceID(ctx, msg.TraceID, "worker.deliver_push",
		trace.WithSpanKind(trace.SpanKindConsumer))
	defer sc.End()
	ctx = sc.Context()

	start := time.Now()
	if err := w.sender.Send(ctx, msg.RoutingToken, msg.Notification); err != nil {
		sc.RecordError(err)
		slog.WarnContext(ctx, "push delivery failed, dropping notification",
			"error", err,
			"duration_ms", time.Since(start).Milliseconds())
	} else {
		slog.DebugContext(ctx, "push delivered",
			"duration_ms", time.Since(start).Milliseconds())
	}

	if err := w.consumer.Ack(ctx, msg); err != nil {
		return fmt.Errorf("ack push: %w", err)
	}
	return nil
}

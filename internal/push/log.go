package push

import (
	"context"
	"log/slog"

	"buddypark.app/relay/common/logger"
	"buddypark.app/relay/internal/model"
)

// LogSender writes notifications to the log instead of delivering them.
type LogSender struct {
	logger *slog.Logger
}

func NewLogSender(l *slog.Logger) *LogSender {
	if l == nil {
		l = slog.Default()
	}
	return &LogSender{logger: l}
}

func (s *LogSender) Send(ctx context.Context, routingToken string, n model.Notification) error {
	s.logger.InfoContext(ctx, "push notification",
		"routing_token", logger.Truncate(routingToken, 12),
		"body", n.Body,
		"full_text_len", len([]rune(n.FullText)),
		"reply_id", n.ReplyID)
	return nil
}

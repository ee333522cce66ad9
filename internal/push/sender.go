package push

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"buddypark.app/relay/core/config"
	"buddypark.app/relay/internal/model"
	"buddypark.app/relay/internal/queue"
)

// Sender hands one notification to the push delivery network. Delivery is
// best-effort: callers log a failed send and move on.
type Sender interface {
	Send(ctx context.Context, routingToken string, n model.Notification) error
}

// NewSender builds the sender selected by PUSH_MODE. The outbox mode needs a
// redis client; the others ignore it.
func NewSender(cfg config.PushConfig, client *redis.Client) (Sender, error) {
	switch cfg.Mode {
	case config.PushModeOutbox:
		if client == nil {
			return nil, fmt.Errorf("push mode %q needs a redis client", cfg.Mode)
		}
		return NewOutboxSender(queue.NewRedisProducer(client, cfg.Stream, slog.Default())), nil
	case config.PushModeGateway:
		return NewGatewaySender(GatewayConfig{URL: cfg.GatewayURL, APIKey: cfg.GatewayAPIKey}), nil
	case config.PushModeLog:
		return NewLogSender(slog.Default()), nil
	default:
		return nil, fmt.Errorf("unsupported push mode: %s", cfg.Mode)
	}
}

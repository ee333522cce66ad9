package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"buddypark.app/relay/internal/queue"
)

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Fold notifications from the push outbox as they arrive",
	Long: `Reads the relay's push outbox through a dedicated consumer group, so the
push worker still sees every entry. Only entries for this client's routing
token are folded into the local log.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("parsing redis url: %w", err)
		}
		client := redis.NewClient(opts)
		defer client.Close()

		consumer, err := queue.NewRedisConsumer(ctx, client, queue.ConsumerConfig{
			Stream:   cfg.Redis.Stream,
			Group:    cfg.Redis.Group,
			Consumer: cfg.Redis.Consumer,
		})
		if err != nil {
			return err
		}

		s, err := openSession(ctx, false)
		if err != nil {
			return err
		}
		defer s.Close()

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "listening on %s as %s\n", cfg.Redis.Stream, cfg.Redis.Group)

		for {
			msgs, err := consumer.Read(ctx)
			if ctx.Err() != nil {
				return nil
			}
			if err != nil {
				return err
			}

			for _, msg := range msgs {
				if cfg.Relay.RoutingToken == "" || msg.RoutingToken == cfg.Relay.RoutingToken {
					fold(ctx, s, msg, func(line string) { fmt.Fprintln(out, line) })
				}
				if err := consumer.Ack(context.WithoutCancel(ctx), msg); err != nil {
					slog.WarnContext(ctx, "failed to ack outbox entry", "message_id", msg.ID, "error", err)
				}
			}
		}
	},
}

func fold(ctx context.Context, s *session, msg queue.Message, print func(string)) {
	payload, err := json.Marshal(msg.Notification)
	if err != nil {
		slog.WarnContext(ctx, "failed to encode notification", "message_id", msg.ID, "error", err)
		return
	}

	update, changed, err := s.registry.DeliverForeground(ctx, payload)
	if err != nil {
		slog.WarnContext(ctx, "notification not folded", "message_id", msg.ID, "error", err)
		return
	}
	if changed {
		print(fmt.Sprintf("[%s] %s %s", update.ConversationID, update.Kind, update.Message.Content))
	}
}

func init() {
	rootCmd.AddCommand(listenCmd)
}

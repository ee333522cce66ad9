package service

import (
	"context"
	"log/slog"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"buddypark.app/relay/common/logger"
	"buddypark.app/relay/internal/model"
	"buddypark.app/relay/internal/push"
)

type DispatcherConfig struct {
	Separator   rune
	Concurrency int // in-flight sends per turn
	Sound       string
	Category    string
}

// NotificationDispatcher turns reply fragments into push notifications for one
// turn. Dispatch never blocks on delivery and never reports failure.
type NotificationDispatcher interface {
	Dispatch(ctx context.Context, routingToken, fragmentText, accumulatedFullText, lastUserMessage, conversationID string)
	// Wait blocks until every send started by Dispatch has finished.
	Wait() DispatchStats
}

type DispatchStats struct {
	Sent   int64
	Failed int64
}

// Dispatcher builds per-turn dispatchers that share one push sender.
type Dispatcher struct {
	sender push.Sender
	cfg    DispatcherConfig
}

func NewDispatcher(sender push.Sender, cfg DispatcherConfig) *Dispatcher {
	if cfg.Separator == 0 {
		cfg.Separator = '|'
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	return &Dispatcher{sender: sender, cfg: cfg}
}

// NewTurnDispatcher binds a dispatcher to one reply. title is the display name
// shown on every notification of the turn.
func (d *Dispatcher) NewTurnDispatcher(replyID, title string) NotificationDispatcher {
	t := &turnDispatcher{
		sender:  d.sender,
		cfg:     d.cfg,
		replyID: replyID,
		title:   title,
	}
	t.group.SetLimit(d.cfg.Concurrency)
	return t
}

type turnDispatcher struct {
	sender  push.Sender
	cfg     DispatcherConfig
	replyID string
	title   string

	group  errgroup.Group
	sent   atomic.Int64
	failed atomic.Int64
}

func (t *turnDispatcher) Dispatch(ctx context.Context, routingToken, fragmentText, accumulatedFullText, lastUserMessage, conversationID string) {
	// Sends outlive the request that produced them but still carry its trace.
	ctx = context.WithoutCancel(ctx)

	for _, body := range strings.Split(fragmentText, string(t.cfg.Separator)) {
		body = strings.TrimSpace(body)
		if body == "" {
			continue
		}

		n := model.Notification{
			Title:          t.title,
			Body:           body,
			Sound:          t.cfg.Sound,
			Category:       t.cfg.Category,
			RawText:        fragmentText,
			UsersReply:     lastUserMessage,
			FullText:       accumulatedFullText,
			ConversationID: conversationID,
			ReplyID:        t.replyID,
			ThreadID:       conversationID,
			MutableContent: true,
		}

		t.group.Go(func() error {
			if err := t.sender.Send(ctx, routingToken, n); err != nil {
				t.failed.Add(1)
				slog.WarnContext(ctx, "push send failed",
					"error", err,
					"body", logger.Truncate(n.Body, 40))
				return nil
			}
			t.sent.Add(1)
			return nil
		})
	}
}

func (t *turnDispatcher) Wait() DispatchStats {
	_ = t.group.Wait()
	return DispatchStats{Sent: t.sent.Load(), Failed: t.failed.Load()}
}

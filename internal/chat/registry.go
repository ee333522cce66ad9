package chat

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"buddypark.app/relay/common/logger"
	"buddypark.app/relay/internal/model"
	"golang.org/x/sync/singleflight"
)

// Registry hands out one Reconciler per conversation. Both delivery paths of a
// process go through the same Registry, so a conversation never has two actors.
type Registry struct {
	store  Store
	sender TurnSender
	cfg    Config

	mu       sync.Mutex
	sessions map[string]*Reconciler
	closed   bool
	loads    singleflight.Group
}

func NewRegistry(store Store, sender TurnSender, cfg Config) *Registry {
	return &Registry{
		store:    store,
		sender:   sender,
		cfg:      cfg.withDefaults(),
		sessions: make(map[string]*Reconciler),
	}
}

// Session returns the reconciler for a conversation, loading its log on first
// use. Loads of different conversations run concurrently; concurrent first
// uses of one conversation share a single load. A failed load is not cached.
func (r *Registry) Session(ctx context.Context, conversationID string) (*Reconciler, error) {
	if s, ok, err := r.lookup(conversationID); ok || err != nil {
		return s, err
	}

	v, err, _ := r.loads.Do(conversationID, func() (any, error) {
		if s, ok, err := r.lookup(conversationID); ok || err != nil {
			return s, err
		}

		s, err := NewReconciler(ctx, conversationID, r.store, r.sender, r.cfg)
		if err != nil {
			return nil, err
		}

		r.mu.Lock()
		defer r.mu.Unlock()
		if r.closed {
			s.Close()
			return nil, ErrClosed
		}
		r.sessions[conversationID] = s
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Reconciler), nil
}

func (r *Registry) lookup(conversationID string) (*Reconciler, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, false, ErrClosed
	}
	s, ok := r.sessions[conversationID]
	return s, ok, nil
}

// DeliverForeground folds a notification received while the app is active.
func (r *Registry) DeliverForeground(ctx context.Context, payload []byte) (Update, bool, error) {
	return r.deliver(ctx, payload, false)
}

// DeliverBackground folds a notification received by a background process,
// which may be the first thing that process ever sees of the conversation.
func (r *Registry) DeliverBackground(ctx context.Context, payload []byte) (Update, bool, error) {
	return r.deliver(ctx, payload, true)
}

func (r *Registry) deliver(ctx context.Context, payload []byte, background bool) (Update, bool, error) {
	n, err := DecodeNotification(payload)
	if err != nil {
		return Update{}, false, err
	}
	m, err := assistantMessage(n, r.cfg.Now(), r.cfg.NewID())
	if err != nil {
		return Update{}, false, err
	}

	ctx = logger.WithLogFields(ctx, logger.LogFields{
		ConversationID: logger.Ptr(n.ConversationID),
		ReplyID:        logger.Ptr(n.ReplyID),
		Component:      "chat.registry",
	})

	s, err := r.Session(ctx, n.ConversationID)
	if err != nil {
		return Update{}, false, err
	}

	var (
		update  Update
		changed bool
	)
	if background {
		update, changed, err = s.ApplyBackground(ctx, m)
	} else {
		update, changed, err = s.ApplyForeground(ctx, m)
	}
	if err != nil {
		slog.ErrorContext(ctx, "notification dropped", "error", err)
		return Update{}, false, err
	}
	return update, changed, nil
}

// Send appends a user message to a conversation and forwards it to the relay.
func (r *Registry) Send(ctx context.Context, conversationID, content string) (Update, error) {
	s, err := r.Session(ctx, conversationID)
	if err != nil {
		return Update{}, err
	}
	return s.Send(ctx, content)
}

// OnForeground reloads every open conversation. Background processes may have
// written to the store while the app was suspended.
func (r *Registry) OnForeground(ctx context.Context) error {
	r.mu.Lock()
	sessions := make([]*Reconciler, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	var errs []error
	for _, s := range sessions {
		if err := s.Reload(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Messages returns the current log of a conversation.
func (r *Registry) Messages(ctx context.Context, conversationID string) ([]model.Message, error) {
	s, err := r.Session(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	return s.Messages(ctx)
}

func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	sessions := r.sessions
	r.sessions = make(map[string]*Reconciler)
	r.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}

package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"buddypark.app/relay/common/logger"
	"buddypark.app/relay/internal/model"
)

var ErrClosed = errors.New("reconciler closed")

type Config struct {
	CollapseSeparator string
	SubscriberBuffer  int
	Now               func() time.Time
	NewID             func() string
}

func (c Config) withDefaults() Config {
	if c.CollapseSeparator == "" {
		c.CollapseSeparator = DefaultCollapseSeparator
	}
	if c.SubscriberBuffer <= 0 {
		c.SubscriberBuffer = 16
	}
	if c.Now == nil {
		c.Now = func() time.Time { return time.Now().UTC() }
	}
	if c.NewID == nil {
		c.NewID = uuid.NewString
	}
	return c
}

// Update announces one effective change of a conversation log.
type Update struct {
	ConversationID string
	Kind           UpdateKind
	Message        model.Message
	// NewContent is set for appends: the log grew by a message. Observers use
	// it to decide on follow-up work.
	NewContent bool
}

// Reconciler owns the message log of one conversation. All reads and writes go
// through a single goroutine, so the foreground and background delivery paths
// never interleave inside a merge.
type Reconciler struct {
	conversationID string
	store          Store
	sender         TurnSender
	cfg            Config
	policy         mergePolicy

	inbox chan func()
	quit  chan struct{}
	done  chan struct{}
	once  sync.Once
	sends sync.WaitGroup

	// Owned by the actor goroutine.
	log         []model.Message
	lastChanged time.Time
	subs        map[int]chan Update
	nextSub     int
}

// NewReconciler loads the stored log and starts the actor. sender may be nil
// for processes that only receive.
func NewReconciler(ctx context.Context, conversationID string, store Store, sender TurnSender, cfg Config) (*Reconciler, error) {
	cfg = cfg.withDefaults()

	log, err := store.Load(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("loading conversation %s: %w", conversationID, err)
	}

	r := &Reconciler{
		conversationID: conversationID,
		store:          store,
		sender:         sender,
		cfg:            cfg,
		policy:         mergePolicy{separator: cfg.CollapseSeparator, now: cfg.Now, newID: cfg.NewID},
		inbox:          make(chan func()),
		quit:           make(chan struct{}),
		done:           make(chan struct{}),
		log:            log,
		subs:           make(map[int]chan Update),
	}
	go r.run()
	return r, nil
}

func (r *Reconciler) ConversationID() string {
	return r.conversationID
}

func (r *Reconciler) run() {
	defer close(r.done)
	for {
		select {
		case fn := <-r.inbox:
			fn()
		case <-r.quit:
			for id, ch := range r.subs {
				close(ch)
				delete(r.subs, id)
			}
			return
		}
	}
}

// do runs fn on the actor goroutine and waits for it.
func (r *Reconciler) do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	job := func() {
		defer close(finished)
		fn()
	}

	select {
	case r.inbox <- job:
	case <-r.quit:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	// Once accepted the job always runs to completion.
	<-finished
	return nil
}

// ApplyForeground merges a message delivered while the app is active.
func (r *Reconciler) ApplyForeground(ctx context.Context, m model.Message) (Update, bool, error) {
	var (
		update  Update
		changed bool
		err     error
	)
	if doErr := r.do(ctx, func() {
		update, changed, err = r.apply(ctx, m)
	}); doErr != nil {
		return Update{}, false, doErr
	}
	return update, changed, err
}

// ApplyBackground merges a message delivered to a background process. The log
// is reloaded first because another process may have written since.
func (r *Reconciler) ApplyBackground(ctx context.Context, m model.Message) (Update, bool, error) {
	var (
		update  Update
		changed bool
		err     error
	)
	if doErr := r.do(ctx, func() {
		if err = r.reload(ctx); err != nil {
			return
		}
		update, changed, err = r.apply(ctx, m)
	}); doErr != nil {
		return Update{}, false, doErr
	}
	return update, changed, err
}

// Reload replaces the in-memory log with the stored one.
func (r *Reconciler) Reload(ctx context.Context) error {
	var err error
	if doErr := r.do(ctx, func() {
		err = r.reload(ctx)
	}); doErr != nil {
		return doErr
	}
	return err
}

// Send records a user message and hands the conversation to the relay without
// waiting for it. A failed hand-off is only logged.
func (r *Reconciler) Send(ctx context.Context, content string) (Update, error) {
	m := model.Message{
		ID:        r.cfg.NewID(),
		Role:      model.RoleUser,
		Content:   content,
		Timestamp: r.cfg.Now(),
	}

	var (
		update   Update
		changed  bool
		err      error
		snapshot []model.Message
	)
	if doErr := r.do(ctx, func() {
		update, changed, err = r.apply(ctx, m)
		if err == nil && changed {
			snapshot = append([]model.Message(nil), r.log...)
		}
	}); doErr != nil {
		return Update{}, doErr
	}
	if err != nil {
		return Update{}, err
	}

	if r.sender != nil && snapshot != nil {
		sendCtx := context.WithoutCancel(ctx)
		r.sends.Add(1)
		go func() {
			defer r.sends.Done()
			if err := r.sender.SendConversation(sendCtx, r.conversationID, snapshot); err != nil {
				slog.WarnContext(sendCtx, "turn not delivered to relay", "error", err)
			}
		}()
	}
	return update, nil
}

// Messages returns a copy of the current log.
func (r *Reconciler) Messages(ctx context.Context) ([]model.Message, error) {
	var out []model.Message
	err := r.do(ctx, func() {
		out = append([]model.Message(nil), r.log...)
	})
	return out, err
}

// LastChanged is the time of the last effective change, zero if none yet.
func (r *Reconciler) LastChanged(ctx context.Context) (time.Time, error) {
	var t time.Time
	err := r.do(ctx, func() {
		t = r.lastChanged
	})
	return t, err
}

// Subscribe registers an observer. The channel is closed on cancel or when the
// reconciler closes. A subscriber that falls behind misses updates.
func (r *Reconciler) Subscribe(ctx context.Context) (<-chan Update, func(), error) {
	ch := make(chan Update, r.cfg.SubscriberBuffer)
	var id int
	if err := r.do(ctx, func() {
		id = r.nextSub
		r.nextSub++
		r.subs[id] = ch
	}); err != nil {
		return nil, nil, err
	}

	cancel := func() {
		_ = r.do(context.Background(), func() {
			if sub, ok := r.subs[id]; ok {
				close(sub)
				delete(r.subs, id)
			}
		})
	}
	return ch, cancel, nil
}

// Close stops the actor and waits for in-flight relay hand-offs.
func (r *Reconciler) Close() {
	r.once.Do(func() {
		close(r.quit)
	})
	<-r.done
	r.sends.Wait()
}

func (r *Reconciler) reload(ctx context.Context) error {
	log, err := r.store.Load(ctx, r.conversationID)
	if err != nil {
		return fmt.Errorf("reloading conversation: %w", err)
	}
	r.log = log
	return nil
}

// apply persists first and only then touches the in-memory log, so a store
// failure leaves both untouched.
func (r *Reconciler) apply(ctx context.Context, m model.Message) (Update, bool, error) {
	var last *model.Message
	if n := len(r.log); n > 0 {
		last = &r.log[n-1]
	}

	d := r.policy.decide(last, m)
	switch d.action {
	case actionDiscard:
		slog.DebugContext(ctx, "discarded shorter or equal reply",
			"conversation_id", r.conversationID,
			"content", logger.Truncate(m.Content, 40))
		return Update{}, false, nil
	case actionAppend:
		if err := r.store.Append(ctx, r.conversationID, d.message); err != nil {
			return Update{}, false, fmt.Errorf("storing message: %w", err)
		}
		r.log = append(r.log, d.message)
	case actionReplace:
		if err := r.store.Replace(ctx, r.conversationID, last.ID, d.message); err != nil {
			return Update{}, false, fmt.Errorf("replacing message: %w", err)
		}
		r.log[len(r.log)-1] = d.message
	}

	r.lastChanged = r.cfg.Now()
	update := Update{
		ConversationID: r.conversationID,
		Kind:           d.kind,
		Message:        d.message,
		NewContent:     d.action == actionAppend,
	}
	r.publish(update)
	return update, true, nil
}

func (r *Reconciler) publish(u Update) {
	for _, ch := range r.subs {
		select {
		case ch <- u:
		default:
			slog.Warn("subscriber lagging, update dropped",
				"conversation_id", r.conversationID,
				"kind", u.Kind)
		}
	}
}

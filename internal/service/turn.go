package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"buddypark.app/relay/common/llm"
	"buddypark.app/relay/common/logger"
	"buddypark.app/relay/internal/model"
	"buddypark.app/relay/internal/store"
	"buddypark.app/relay/internal/stream"
)

var (
	ErrInvalidTurn = errors.New("invalid turn")
	ErrNoSnapshot  = errors.New("no reply stored for conversation")
	ErrUpstream    = errors.New("completion upstream failed")

	errOpenTimeout = fmt.Errorf("%w: completion stream did not open in time", context.DeadlineExceeded)
)

// maxStreamAttempts bounds how often one turn opens the completion stream.
// Only a timeout before the first fragment earns the second attempt.
const maxStreamAttempts = 2

type TurnRequest struct {
	ConversationID string
	CharacterID    string
	UserID         string
	RoutingToken   string
	RequestType    model.RequestType
	Messages       []model.RequestMessage
}

type TurnResult struct {
	ReplyID   string
	Status    model.TurnStatus
	Reply     string
	Fragments int
	Sent      int64
	Failed    int64
}

type TurnService interface {
	Handle(ctx context.Context, req TurnRequest) (*TurnResult, error)
}

type TurnConfig struct {
	Separator       rune
	GreetingMessage string
	Timeout         time.Duration // whole turn, 0 = unbounded
	OpenTimeout     time.Duration // until the completion answers, 0 = unbounded
}

type turnService struct {
	snapshots  store.SnapshotStore
	guard      StalenessGuard
	completer  llm.Completer
	dispatcher *Dispatcher
	prompts    PromptBuilder
	cfg        TurnConfig
	newReplyID func() string
}

func NewTurnService(
	snapshots store.SnapshotStore,
	guard StalenessGuard,
	completer llm.Completer,
	dispatcher *Dispatcher,
	prompts PromptBuilder,
	cfg TurnConfig,
	newReplyID func() string,
) TurnService {
	if cfg.Separator == 0 {
		cfg.Separator = stream.DefaultSeparator
	}
	return &turnService{
		snapshots:  snapshots,
		guard:      guard,
		completer:  completer,
		dispatcher: dispatcher,
		prompts:    prompts,
		cfg:        cfg,
		newReplyID: newReplyID,
	}
}

func (s *turnService) Handle(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	if req.ConversationID == "" {
		return nil, fmt.Errorf("%w: conversation id is required", ErrInvalidTurn)
	}
	if !req.RequestType.Valid() {
		return nil, fmt.Errorf("%w: unknown request type %q", ErrInvalidTurn, req.RequestType)
	}

	requestType := string(req.RequestType)
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		ConversationID: logger.Ptr(req.ConversationID),
		RequestType:    &requestType,
		UserID:         logger.Ptr(req.UserID),
		Component:      "relay.service.turn",
	})

	switch req.RequestType {
	case model.RequestTypeAppRestart:
		return s.restore(ctx, req.ConversationID)
	case model.RequestTypeGreetingMessage:
		messages := []model.RequestMessage{{Role: model.RoleUser, Content: s.cfg.GreetingMessage}}
		return s.run(ctx, req, messages, s.cfg.GreetingMessage)
	default:
		lastUser, ok := model.LastUserContent(req.Messages)
		if !ok {
			return nil, fmt.Errorf("%w: no user message in request", ErrInvalidTurn)
		}
		if req.RequestType == model.RequestTypeRetryMessage {
			slog.InfoContext(ctx, "client retried turn after request timeout")
		}
		return s.run(ctx, req, req.Messages, lastUser)
	}
}

func (s *turnService) restore(ctx context.Context, conversationID string) (*TurnResult, error) {
	reply, ok, err := s.snapshots.ReadLastReply(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("reading last reply: %w", err)
	}
	if !ok {
		return nil, ErrNoSnapshot
	}

	slog.InfoContext(ctx, "restored last reply", "reply_len", len([]rune(reply)))
	return &TurnResult{Status: model.TurnStatusRestored, Reply: reply}, nil
}

// turnState is what one consumption of the completion stream produced.
type turnState struct {
	full          strings.Builder
	fragments     int
	lastSeparated bool
	stale         bool
}

func (t *turnState) reset() {
	t.full.Reset()
	t.fragments = 0
	t.lastSeparated = false
	t.stale = false
}

func (t *turnState) add(seg stream.Segment, sep rune) {
	if t.fragments > 0 {
		if t.lastSeparated {
			t.full.WriteRune(sep)
		} else {
			t.full.WriteByte('\n')
		}
	}
	t.full.WriteString(seg.Text)
	t.lastSeparated = seg.Separated
	t.fragments++
}

func (s *turnService) run(ctx context.Context, req TurnRequest, messages []model.RequestMessage, lastUser string) (*TurnResult, error) {
	replyID := s.newReplyID()
	ctx = logger.WithLogFields(ctx, logger.LogFields{ReplyID: &replyID})

	// The turn keeps streaming after the client hangs up; only the turn timeout stops it.
	ctx = context.WithoutCancel(ctx)
	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	sc := logger.StartSpan(ctx, "relay.turn", trace.WithSpanKind(trace.SpanKindInternal))
	defer sc.End()
	sc.SetTurn(req.ConversationID, replyID)
	ctx = sc.Context()

	start := time.Now()
	result := &TurnResult{ReplyID: replyID}

	prompt, err := s.prompts.Build(ctx, req.CharacterID)
	if err != nil {
		sc.RecordError(err)
		return nil, fmt.Errorf("building prompt: %w", err)
	}

	if err := s.snapshots.SaveTurnStart(ctx, req.ConversationID, messages, prompt, req.RoutingToken); err != nil {
		sc.RecordError(err)
		return nil, fmt.Errorf("saving turn start: %w", err)
	}

	dispatcher := s.dispatcher.NewTurnDispatcher(replyID, req.CharacterID)
	state := &turnState{}

	var streamErr error
	for attempt := 1; attempt <= maxStreamAttempts; attempt++ {
		state.reset()
		streamErr = s.consume(ctx, req, messages, prompt, lastUser, dispatcher, state)
		if streamErr == nil || state.fragments > 0 || !llm.IsTimeout(streamErr) || attempt == maxStreamAttempts {
			break
		}
		slog.WarnContext(ctx, "completion timed out, retrying turn as restart",
			"attempt", attempt,
			"error", streamErr)
	}

	stats := dispatcher.Wait()
	result.Fragments = state.fragments
	result.Sent = stats.Sent
	result.Failed = stats.Failed

	switch {
	case streamErr != nil:
		sc.RecordError(streamErr)
		result.Status = model.TurnStatusUpstreamError
		slog.ErrorContext(ctx, "turn ended by upstream failure",
			"error", streamErr,
			"fragments", state.fragments,
			"duration_ms", time.Since(start).Milliseconds())
		return result, fmt.Errorf("%w: %w", ErrUpstream, streamErr)
	case state.stale:
		result.Status = model.TurnStatusStale
		slog.InfoContext(ctx, "turn abandoned, user sent a newer message",
			"fragments", state.fragments,
			"duration_ms", time.Since(start).Milliseconds())
		return result, nil
	}

	reply := state.full.String()
	written, err := s.finish(ctx, req.ConversationID, lastUser, reply)
	if err != nil {
		sc.RecordError(err)
		slog.ErrorContext(ctx, "saving turn result failed", "error", err)
		return nil, fmt.Errorf("saving turn result: %w", err)
	}
	if !written {
		result.Status = model.TurnStatusStale
		slog.InfoContext(ctx, "turn completed after a newer message, result not stored",
			"fragments", state.fragments)
		return result, nil
	}

	result.Status = model.TurnStatusCompleted
	result.Reply = reply
	slog.InfoContext(ctx, "turn completed",
		"fragments", state.fragments,
		"sent", stats.Sent,
		"failed", stats.Failed,
		"reply_len", len([]rune(reply)),
		"duration_ms", time.Since(start).Milliseconds())
	return result, nil
}

// consume walks one completion stream, dispatching every fragment that is still
// current. It returns an error only for upstream failures; staleness and guard
// read errors end the walk with state.stale set.
func (s *turnService) consume(
	ctx context.Context,
	req TurnRequest,
	messages []model.RequestMessage,
	prompt, lastUser string,
	dispatcher NotificationDispatcher,
	state *turnState,
) error {
	if !s.stillCurrent(ctx, req.ConversationID, lastUser) {
		state.stale = true
		return nil
	}

	streamCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	var timer *time.Timer
	if s.cfg.OpenTimeout > 0 {
		timer = time.AfterFunc(s.cfg.OpenTimeout, func() { cancel(errOpenTimeout) })
	}

	body, err := s.completer.Stream(streamCtx, llm.StreamRequest{
		SystemPrompt: prompt,
		Messages:     completionMessages(messages),
	})
	if timer != nil {
		timer.Stop()
	}
	if cause := context.Cause(streamCtx); errors.Is(cause, errOpenTimeout) {
		if body != nil {
			body.Close()
		}
		return cause
	}
	if err != nil {
		return err
	}
	defer body.Close()

	for seg, err := range stream.Segments(body, stream.WithSeparator(s.cfg.Separator)) {
		if err != nil {
			return fmt.Errorf("reading completion stream: %w", err)
		}
		if !s.stillCurrent(ctx, req.ConversationID, lastUser) {
			state.stale = true
			return nil
		}

		state.add(seg, s.cfg.Separator)
		dispatcher.Dispatch(ctx, req.RoutingToken, seg.Text, state.full.String(), lastUser, req.ConversationID)
	}
	return nil
}

func (s *turnService) stillCurrent(ctx context.Context, conversationID, lastUser string) bool {
	verdict, err := s.guard.Validate(ctx, conversationID, lastUser)
	if err != nil {
		slog.ErrorContext(ctx, "staleness check failed, abandoning turn", "error", err)
		return false
	}
	return verdict == VerdictValid
}

// finish re-validates and stores the reply. The conditional write closes the
// gap between the last check and the write.
func (s *turnService) finish(ctx context.Context, conversationID, lastUser, reply string) (bool, error) {
	if !s.stillCurrent(ctx, conversationID, lastUser) {
		return false, nil
	}
	return s.snapshots.SaveTurnResultIf(ctx, conversationID, lastUser, reply)
}

func completionMessages(messages []model.RequestMessage) []llm.Message {
	out := make([]llm.Message, 0, len(messages))
	for _, m := range messages {
		if m.Content == "" {
			continue
		}
		out = append(out, llm.Message{Role: string(m.Role), Content: m.Content})
	}
	return out
}

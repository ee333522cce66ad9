// Package relayclient is the app side of the turn endpoint.
package relayclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"buddypark.app/relay/internal/chat"
	"buddypark.app/relay/internal/http/dto"
	"buddypark.app/relay/internal/model"
)

var (
	// ErrNoReply is returned by Restart when the relay holds no reply for the conversation.
	ErrNoReply = errors.New("no reply for conversation")
	// ErrTimeout is returned once the retried request timed out as well.
	ErrTimeout = errors.New("relay request timed out")
)

type Config struct {
	BaseURL      string
	APIKey       string
	CharacterID  string
	UserID       string
	RoutingToken string
	Timeout      time.Duration // per request, defaults to 30s
}

type Turn struct {
	ConversationID string
	RequestType    model.RequestType
	Messages       []model.Message
}

type Result struct {
	ReplyID   string `json:"reply_id"`
	Status    string `json:"status"`
	Reply     string `json:"reply"`
	Fragments int    `json:"fragments"`
}

type Client struct {
	cfg  Config
	http *http.Client
}

var _ chat.TurnSender = (*Client)(nil)

func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{cfg: cfg, http: &http.Client{}}
}

// SendTurn posts a turn. A request that times out is sent once more as
// retry-message; a second timeout is returned as ErrTimeout.
func (c *Client) SendTurn(ctx context.Context, turn Turn) (*Result, error) {
	if turn.RequestType == "" {
		turn.RequestType = model.RequestTypeNewMessage
	}

	result, err := c.post(ctx, turn)
	if err == nil || !isTimeout(err) || ctx.Err() != nil {
		return result, err
	}

	slog.InfoContext(ctx, "relay request timed out, retrying",
		"conversation_id", turn.ConversationID,
		"request_type", turn.RequestType)

	turn.RequestType = model.RequestTypeRetryMessage
	result, err = c.post(ctx, turn)
	if err != nil && isTimeout(err) {
		return nil, fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return result, err
}

// SendConversation forwards the log after the user wrote. Failures are the
// caller's to log; the user message itself is already stored.
func (c *Client) SendConversation(ctx context.Context, conversationID string, messages []model.Message) error {
	_, err := c.SendTurn(ctx, Turn{
		ConversationID: conversationID,
		RequestType:    model.RequestTypeNewMessage,
		Messages:       messages,
	})
	return err
}

// Greet asks the character to open a new conversation.
func (c *Client) Greet(ctx context.Context, conversationID string) (*Result, error) {
	return c.SendTurn(ctx, Turn{ConversationID: conversationID, RequestType: model.RequestTypeGreetingMessage})
}

// Restart fetches the last reply the relay produced for a conversation.
func (c *Client) Restart(ctx context.Context, conversationID string) (*Result, error) {
	result, err := c.post(ctx, Turn{ConversationID: conversationID, RequestType: model.RequestTypeAppRestart})
	if errors.Is(err, errNotFound) {
		return nil, ErrNoReply
	}
	return result, err
}

var errNotFound = errors.New("not found")

func (c *Client) post(ctx context.Context, turn Turn) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	var body io.Reader = http.NoBody
	if turn.RequestType != model.RequestTypeAppRestart {
		req := dto.TurnRequest{Messages: make([]dto.TurnMessage, 0, len(turn.Messages))}
		for _, m := range turn.Messages {
			req.Messages = append(req.Messages, dto.TurnMessage{
				Role:      string(m.Role),
				Content:   m.Content,
				Timestamp: m.Timestamp,
			})
		}
		payload, err := json.Marshal(req)
		if err != nil {
			return nil, fmt.Errorf("marshal turn: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/api/v1/turns", body)
	if err != nil {
		return nil, fmt.Errorf("creating turn request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set(dto.HeaderConversationID, turn.ConversationID)
	req.Header.Set(dto.HeaderCharacterID, c.cfg.CharacterID)
	req.Header.Set(dto.HeaderUserID, c.cfg.UserID)
	req.Header.Set(dto.HeaderRoutingToken, c.cfg.RoutingToken)
	req.Header.Set(dto.HeaderRequestType, string(turn.RequestType))

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("relay: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("reading relay response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, errNotFound
	case resp.StatusCode >= 300:
		return nil, fmt.Errorf("relay returned %d: %s", resp.StatusCode, bytes.TrimSpace(raw))
	}

	var result Result
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decoding relay response: %w", err)
	}
	return &result, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

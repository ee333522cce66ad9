package chat

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"buddypark.app/relay/internal/model"
)

var ErrInvalidNotification = errors.New("invalid notification")

// DecodeNotification parses a push payload as delivered to the app.
func DecodeNotification(payload []byte) (model.Notification, error) {
	var n model.Notification
	if err := json.Unmarshal(payload, &n); err != nil {
		return model.Notification{}, fmt.Errorf("%w: %w", ErrInvalidNotification, err)
	}
	return n, nil
}

// assistantMessage turns a notification into the assistant message it carries.
// full-text wins over body: the body only holds one sub-message.
func assistantMessage(n model.Notification, now time.Time, id string) (model.Message, error) {
	if n.ConversationID == "" {
		return model.Message{}, fmt.Errorf("%w: missing conversation id", ErrInvalidNotification)
	}
	text := n.ReplyText()
	if strings.TrimSpace(text) == "" {
		return model.Message{}, fmt.Errorf("%w: empty reply", ErrInvalidNotification)
	}
	return model.Message{
		ID:        id,
		Role:      model.RoleAssistant,
		Content:   text,
		Timestamp: now,
		ReplyID:   n.ReplyID,
	}, nil
}

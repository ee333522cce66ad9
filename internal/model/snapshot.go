package model

import "time"

// RequestMessage is the role/content pair the relay keeps from a turn request.
type RequestMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ConversationSnapshot is the last-turn state of one conversation on the relay.
// The request fields are overwritten on every accepted turn; the reply only
// when a turn completes, so it always belongs to the last completed turn.
// It is not a history: only the most recent request and reply are kept.
type ConversationSnapshot struct {
	ConversationID      string           `json:"conversation_id"`
	LastRequestMessages []RequestMessage `json:"last_request_messages"`
	Prompt              string           `json:"prompt"`
	RoutingToken        string           `json:"routing_token"`
	LastReplyContent    string           `json:"last_reply_content"`
	SavedAt             time.Time        `json:"saved_at"`
}

// LastUserMessage returns the content of the most recent user entry of the
// stored request.
func (s *ConversationSnapshot) LastUserMessage() (string, bool) {
	if s == nil {
		return "", false
	}
	return LastUserContent(s.LastRequestMessages)
}

// LastUserContent returns the content of the last user-role entry.
func LastUserContent(messages []RequestMessage) (string, bool) {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == RoleUser {
			return messages[i].Content, true
		}
	}
	return "", false
}

package model

import (
	"time"
	"unicode/utf8"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Message is one stored entry of a conversation log. Messages are immutable once
// stored: a merge that changes content produces a new Message with a new ID.
type Message struct {
	ID        string    `json:"id" yaml:"id"`
	Role      Role      `json:"role" yaml:"role"`
	Content   string    `json:"content" yaml:"content"`
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
	ReplyID   string    `json:"reply_id,omitempty" yaml:"reply_id,omitempty"` // relay reply id, assistant messages only
}

// Length is the content length in characters.
func (m Message) Length() int {
	return utf8.RuneCountInString(m.Content)
}

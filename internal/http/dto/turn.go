package dto

import "time"

// Header names of the turn endpoint.
const (
	HeaderConversationID = "X-Conversation-Id"
	HeaderCharacterID    = "X-Character-Id"
	HeaderUserID         = "X-User-Id"
	HeaderRoutingToken   = "X-Routing-Token"
	HeaderRequestType    = "X-Request-Type"
)

type TurnMessage struct {
	Role      string    `json:"role" binding:"required,oneof=user assistant"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

type TurnRequest struct {
	Messages []TurnMessage `json:"messages" binding:"dive"`
}

type TurnResponse struct {
	ReplyID   string `json:"reply_id,omitempty"`
	Status    string `json:"status"`
	Reply     string `json:"reply,omitempty"`
	Fragments int    `json:"fragments"`
}
